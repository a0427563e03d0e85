package abac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

// collectSink gathers audit records in memory.
type collectSink struct {
	mu         sync.Mutex
	decisions  []*DecisionRecord
	operations []*OperationRecord
}

func (s *collectSink) WriteDecision(ctx context.Context, rec *DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, rec)
	return nil
}

func (s *collectSink) WriteOperation(ctx context.Context, rec *OperationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operations = append(s.operations, rec)
	return nil
}

// fakeDocStore scripts store behavior and records what it was asked.
type fakeDocStore struct {
	findDocs  []map[string]any
	insertID  string
	err       error
	calls     int
	gotFilter map[string]any
	gotUpdate map[string]any
}

func (s *fakeDocStore) Find(ctx context.Context, collection string, filter map[string]any) ([]map[string]any, error) {
	s.calls++
	s.gotFilter = filter
	return s.findDocs, s.err
}

func (s *fakeDocStore) Insert(ctx context.Context, collection string, doc map[string]any) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.insertID, nil
}

func (s *fakeDocStore) Update(ctx context.Context, collection string, filter, update map[string]any) (int, int, error) {
	s.calls++
	s.gotFilter = filter
	s.gotUpdate = update
	return 2, 1, s.err
}

func (s *fakeDocStore) Delete(ctx context.Context, collection string, filter map[string]any) (int, error) {
	s.calls++
	s.gotFilter = filter
	return 3, s.err
}

func newTestEnforcer(t *testing.T, store *PolicyStore, doc *fakeDocStore) (*Enforcer, *collectSink, *AuditLogger) {
	t.Helper()
	eng := newTestEngine(t, store, WithDecisionCache(0, 0, 0))
	sink := &collectSink{}
	audit := NewAuditLogger(sink, 64, nil)
	return NewEnforcer(eng, doc, audit, nil), sink, audit
}

func managerReq() *AccessRequest {
	return NewAccessRequest(
		map[string]any{"id": "u1", "role": "ordersManager"},
		map[string]any{"collection": "Orders"},
		map[string]any{"name": "insert"},
		nil,
	)
}

func TestDenyProducesNoOperation(t *testing.T) {
	// no policy targets guests inserting, so the engine resolves
	// NOT_APPLICABLE and the wrapper denies
	store := storeWith(t, `{"id": "admin-all", "effect": "permit", "targets": {"subject.role": "admin"}}`)
	doc := &fakeDocStore{}
	enf, sink, audit := newTestEnforcer(t, store, doc)

	req := NewAccessRequest(
		map[string]any{"id": "g1", "role": "guest"},
		map[string]any{"collection": "Orders"},
		map[string]any{"name": "insert"},
		nil,
	)
	res, err := enf.AuthorizeAndExecute(context.Background(), req, Operation{Kind: OpInsert, Collection: "Orders", Payload: map[string]any{"total": 5}})
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
	if res != nil {
		t.Fatalf("denied operation returned a result")
	}
	if doc.calls != 0 {
		t.Fatalf("document store touched on a denied operation")
	}

	audit.Close()
	if len(sink.decisions) != 1 {
		t.Fatalf("expected exactly one decision entry, got %d", len(sink.decisions))
	}
	if len(sink.operations) != 0 {
		t.Fatalf("expected zero operation entries, got %d", len(sink.operations))
	}
	if sink.decisions[0].Outcome != OutcomeNotApplicable {
		t.Fatalf("audited outcome %s", sink.decisions[0].Outcome)
	}
}

func TestDenialMessageIsUniform(t *testing.T) {
	// explicit deny and not-applicable must be indistinguishable to the caller
	denyStore := storeWith(t, `{"id": "deny-all", "effect": "deny"}`)
	emptyStore := storeWith(t)

	enfDeny, _, auditDeny := newTestEnforcer(t, denyStore, &fakeDocStore{})
	enfEmpty, _, auditEmpty := newTestEnforcer(t, emptyStore, &fakeDocStore{})
	defer auditDeny.Close()
	defer auditEmpty.Close()

	_, err1 := enfDeny.AuthorizeAndExecute(context.Background(), managerReq(), Operation{Kind: OpFind, Collection: "Orders"})
	_, err2 := enfEmpty.AuthorizeAndExecute(context.Background(), managerReq(), Operation{Kind: OpFind, Collection: "Orders"})
	if err1 == nil || err2 == nil {
		t.Fatalf("expected both to be refused")
	}
	if err1.Error() != err2.Error() {
		t.Fatalf("denial messages differ: %q vs %q", err1, err2)
	}
	if strings.Contains(err1.Error(), "deny-all") {
		t.Fatalf("denial leaked the policy id: %q", err1)
	}
}

func TestPermitExecutesAndAudits(t *testing.T) {
	store := storeWith(t, `{"id": "permit-managers", "effect": "permit", "targets": {"subject.role": "ordersManager"}}`)
	doc := &fakeDocStore{insertID: "doc-42"}
	enf, sink, audit := newTestEnforcer(t, store, doc)

	res, err := enf.AuthorizeAndExecute(context.Background(), managerReq(), Operation{
		Kind:       OpInsert,
		Collection: "Orders",
		Payload:    map[string]any{"total": 120, "customer": "acme"},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.InsertedID != "doc-42" {
		t.Fatalf("inserted id %q", res.InsertedID)
	}

	audit.Close()
	if len(sink.decisions) != 1 || len(sink.operations) != 1 {
		t.Fatalf("expected 1 decision and 1 operation entry, got %d and %d", len(sink.decisions), len(sink.operations))
	}
	op := sink.operations[0]
	if !op.Succeeded || op.Affected != 1 {
		t.Fatalf("operation record: %+v", op)
	}
	if strings.Contains(op.PayloadSummary, "acme") || strings.Contains(op.PayloadSummary, "120") {
		t.Fatalf("payload values leaked into audit: %s", op.PayloadSummary)
	}
	if !strings.Contains(op.PayloadSummary, "customer") {
		t.Fatalf("payload field names missing from audit: %s", op.PayloadSummary)
	}
}

func TestStoreFailureIsNotADenial(t *testing.T) {
	store := storeWith(t, `{"id": "permit-managers", "effect": "permit", "targets": {"subject.role": "ordersManager"}}`)
	doc := &fakeDocStore{err: fmt.Errorf("connection reset")}
	enf, sink, audit := newTestEnforcer(t, store, doc)

	_, err := enf.AuthorizeAndExecute(context.Background(), managerReq(), Operation{Kind: OpFind, Collection: "Orders"})
	if errors.Is(err, ErrAccessDenied) {
		t.Fatalf("store failure surfaced as an access denial")
	}
	var opErr *OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T: %v", err, err)
	}
	if opErr.Kind != OpFind || opErr.Collection != "Orders" {
		t.Fatalf("operation error context: %+v", opErr)
	}

	audit.Close()
	if len(sink.operations) != 1 || sink.operations[0].Succeeded {
		t.Fatalf("failed operation must still be audited as failed")
	}
}

func TestUpdatePayloadSplit(t *testing.T) {
	store := storeWith(t, `{"id": "permit-managers", "effect": "permit", "targets": {"subject.role": "ordersManager"}}`)
	doc := &fakeDocStore{}
	enf, _, audit := newTestEnforcer(t, store, doc)
	defer audit.Close()

	res, err := enf.AuthorizeAndExecute(context.Background(), managerReq(), Operation{
		Kind:       OpUpdate,
		Collection: "Orders",
		Payload: map[string]any{
			"filter": map[string]any{"status": "open"},
			"update": map[string]any{"status": "closed"},
		},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if doc.gotFilter["status"] != "open" || doc.gotUpdate["status"] != "closed" {
		t.Fatalf("payload not split: filter=%v update=%v", doc.gotFilter, doc.gotUpdate)
	}
	if res.Matched != 2 || res.Modified != 1 {
		t.Fatalf("result counts: %+v", res)
	}
}

func TestUnknownOperationKindRejected(t *testing.T) {
	store := storeWith(t, `{"id": "allow-all", "effect": "permit"}`)
	enf, _, audit := newTestEnforcer(t, store, &fakeDocStore{})
	defer audit.Close()

	_, err := enf.AuthorizeAndExecute(context.Background(), managerReq(), Operation{Kind: "drop", Collection: "Orders"})
	var opErr *OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError for unknown kind, got %v", err)
	}
}
