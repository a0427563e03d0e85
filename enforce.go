package abac

import (
	"context"
	"fmt"

	"github.com/oarkflow/abac/logger"
)

// OperationKind is one of the four protected store operations.
type OperationKind string

const (
	OpFind   OperationKind = "find"
	OpInsert OperationKind = "insert"
	OpUpdate OperationKind = "update"
	OpDelete OperationKind = "delete"
)

// Operation names a store operation and its JSON-shaped payload: a filter
// for find/delete, a document for insert, and a {"filter":…,"update":…}
// pair for update.
type Operation struct {
	Kind       OperationKind
	Collection string
	Payload    map[string]any
}

// StoreResult is what the document store hands back for an executed
// operation.
type StoreResult struct {
	Documents  []map[string]any
	InsertedID string
	Matched    int
	Modified   int
	Deleted    int
}

// Affected gives a single count for audit records.
func (r *StoreResult) Affected() int {
	switch {
	case r.Deleted > 0:
		return r.Deleted
	case r.Modified > 0:
		return r.Modified
	case r.InsertedID != "":
		return 1
	default:
		return len(r.Documents)
	}
}

// DocumentStore is the external collaborator the wrapper invokes only
// after a permit. Implementations live in the stores package.
type DocumentStore interface {
	Find(ctx context.Context, collection string, filter map[string]any) ([]map[string]any, error)
	Insert(ctx context.Context, collection string, doc map[string]any) (string, error)
	Update(ctx context.Context, collection string, filter, update map[string]any) (matched, modified int, err error)
	Delete(ctx context.Context, collection string, filter map[string]any) (int, error)
}

// Enforcer is the single call-site gate for every protected operation:
// build request, ask the engine, and only on permit touch the store.
type Enforcer struct {
	engine *Engine
	store  DocumentStore
	audit  *AuditLogger
	log    logger.Logger
}

// NewEnforcer wires the engine, the store collaborator and the audit
// logger together.
func NewEnforcer(engine *Engine, store DocumentStore, audit *AuditLogger, log logger.Logger) *Enforcer {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Enforcer{engine: engine, store: store, audit: audit, log: log}
}

// AuthorizeAndExecute evaluates the request exactly once and, on permit,
// runs the operation. Every attempt produces one decision audit entry;
// executed operations produce one more. DENY and NOT_APPLICABLE both
// surface as the uniform ErrAccessDenied, without the denying policy or
// attribute; that detail stays in the audit trail.
func (f *Enforcer) AuthorizeAndExecute(ctx context.Context, req *AccessRequest, op Operation) (*StoreResult, error) {
	dec := f.engine.Decide(req)
	f.audit.Decision(req, dec)

	if dec.Outcome != OutcomePermit {
		f.log.Debug("operation refused", "subject", req.SubjectID(), "kind", string(op.Kind), "collection", op.Collection)
		return nil, ErrAccessDenied
	}

	res, err := f.execute(ctx, op)
	f.audit.Operation(req, op, res, err)
	if err != nil {
		return nil, &OperationError{Kind: op.Kind, Collection: op.Collection, Err: err}
	}
	return res, nil
}

func (f *Enforcer) execute(ctx context.Context, op Operation) (*StoreResult, error) {
	switch op.Kind {
	case OpFind:
		docs, err := f.store.Find(ctx, op.Collection, op.Payload)
		if err != nil {
			return nil, err
		}
		return &StoreResult{Documents: docs}, nil
	case OpInsert:
		id, err := f.store.Insert(ctx, op.Collection, op.Payload)
		if err != nil {
			return nil, err
		}
		return &StoreResult{InsertedID: id}, nil
	case OpUpdate:
		filter, _ := op.Payload["filter"].(map[string]any)
		update, _ := op.Payload["update"].(map[string]any)
		matched, modified, err := f.store.Update(ctx, op.Collection, filter, update)
		if err != nil {
			return nil, err
		}
		return &StoreResult{Matched: matched, Modified: modified}, nil
	case OpDelete:
		deleted, err := f.store.Delete(ctx, op.Collection, op.Payload)
		if err != nil {
			return nil, err
		}
		return &StoreResult{Deleted: deleted}, nil
	default:
		return nil, fmt.Errorf("unknown operation kind %q", op.Kind)
	}
}
