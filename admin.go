package abac

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oarkflow/abac/logger"
)

// PolicyCollection is the resource collection name under which the
// policy set itself is protected.
const PolicyCollection = "Policies"

// PolicyAdmin exposes the loaded policy set as a protected resource:
// listing and removing policy documents pass through the same decision
// and audit path as document operations.
type PolicyAdmin struct {
	engine *Engine
	store  *PolicyStore
	dir    string
	audit  *AuditLogger
	log    logger.Logger
}

func NewPolicyAdmin(engine *Engine, store *PolicyStore, dir string, audit *AuditLogger, log logger.Logger) *PolicyAdmin {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &PolicyAdmin{engine: engine, store: store, dir: dir, audit: audit, log: log}
}

// List returns the active policies, priority-descending, if the caller
// is permitted to read the policy collection.
func (a *PolicyAdmin) List(ctx context.Context, subject, contextAttrs map[string]any) ([]*Policy, error) {
	req := NewAccessRequest(subject, map[string]any{"collection": PolicyCollection}, map[string]any{"name": "find"}, contextAttrs)
	dec := a.engine.Decide(req)
	a.audit.Decision(req, dec)
	if dec.Outcome != OutcomePermit {
		return nil, ErrAccessDenied
	}
	policies := a.store.All()
	a.audit.Operation(req, Operation{Kind: OpFind, Collection: PolicyCollection}, &StoreResult{Matched: len(policies)}, nil)
	return policies, nil
}

// Remove deletes the document defining the identified policy and reloads
// the directory, if the caller is permitted to delete from the policy
// collection.
func (a *PolicyAdmin) Remove(ctx context.Context, subject, contextAttrs map[string]any, policyID string) error {
	req := NewAccessRequest(subject, map[string]any{"collection": PolicyCollection, "id": policyID}, map[string]any{"name": "delete"}, contextAttrs)
	dec := a.engine.Decide(req)
	a.audit.Decision(req, dec)
	if dec.Outcome != OutcomePermit {
		return ErrAccessDenied
	}

	op := Operation{Kind: OpDelete, Collection: PolicyCollection, Payload: map[string]any{"id": policyID}}
	err := a.removeDocument(policyID)
	var res *StoreResult
	if err == nil {
		res = &StoreResult{Deleted: 1}
	}
	a.audit.Operation(req, op, res, err)
	if err != nil {
		return &OperationError{Kind: OpDelete, Collection: PolicyCollection, Err: err}
	}
	return nil
}

func (a *PolicyAdmin) removeDocument(policyID string) error {
	paths, err := filepath.Glob(filepath.Join(a.dir, "*.json"))
	if err != nil {
		return err
	}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		p := &Policy{}
		if err := json.Unmarshal(data, p); err != nil {
			continue
		}
		if p.ID != policyID {
			continue
		}
		if err := os.Remove(path); err != nil {
			return err
		}
		if _, _, err := a.store.Reload(a.dir); err != nil {
			return err
		}
		a.log.Info("policy removed", "id", policyID, "path", path)
		return nil
	}
	return fmt.Errorf("policy %q not found", policyID)
}
