package stores

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/oarkflow/squealx"
	_ "modernc.org/sqlite"

	"github.com/oarkflow/abac"
)

func newTestDB(t *testing.T) *squealx.DB {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	db := squealx.NewDb(sqlDB, "sqlite", "testdb")
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestSQLDocumentStoreCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewSQLDocumentStore(newTestDB(t))

	id, err := s.Insert(ctx, "orders", map[string]any{"status": "open", "total": 10})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.Insert(ctx, "orders", map[string]any{"status": "closed", "total": 20}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	// a second collection stays invisible to orders queries
	if _, err := s.Insert(ctx, "invoices", map[string]any{"status": "open"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	open, err := s.Find(ctx, "orders", map[string]any{"status": "open"})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(open) != 1 || open[0]["_id"] != id {
		t.Fatalf("filtered find: %v", open)
	}
	if all, _ := s.Find(ctx, "orders", nil); len(all) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(all))
	}

	matched, modified, err := s.Update(ctx, "orders", map[string]any{"status": "open"}, map[string]any{"status": "shipped"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if matched != 1 || modified != 1 {
		t.Fatalf("update counts: matched=%d modified=%d", matched, modified)
	}
	shipped, _ := s.Find(ctx, "orders", map[string]any{"status": "shipped"})
	if len(shipped) != 1 {
		t.Fatalf("update not persisted")
	}

	deleted, err := s.Delete(ctx, "orders", map[string]any{"status": "shipped"})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted %d", deleted)
	}
	if rest, _ := s.Find(ctx, "orders", nil); len(rest) != 1 {
		t.Fatalf("expected 1 order left, got %d", len(rest))
	}
	if others, _ := s.Find(ctx, "invoices", nil); len(others) != 1 {
		t.Fatalf("other collection disturbed")
	}
}

func TestSQLAuditSinkRoundTrip(t *testing.T) {
	ctx := context.Background()
	sink := NewSQLAuditSink(newTestDB(t))

	recs := []*abac.DecisionRecord{
		{
			ID:               "d-1",
			Timestamp:        time.Now().UTC(),
			SubjectID:        "user-x",
			Action:           "delete",
			Resource:         "Orders",
			Outcome:          abac.OutcomeDeny,
			MatchedPolicyIDs: []string{"deny-manager-delete"},
			Reason:           "denied by deny-manager-delete",
		},
		{
			ID:        "d-2",
			Timestamp: time.Now().UTC(),
			SubjectID: "user-y",
			Action:    "find",
			Resource:  "Orders",
			Outcome:   abac.OutcomePermit,
			Reason:    "permitted by allow-read",
		},
	}
	for _, rec := range recs {
		if err := sink.WriteDecision(ctx, rec); err != nil {
			t.Fatalf("write decision: %v", err)
		}
	}
	if err := sink.WriteOperation(ctx, &abac.OperationRecord{
		ID:             "o-1",
		Timestamp:      time.Now().UTC(),
		SubjectID:      "user-y",
		Action:         "find",
		Resource:       "Orders",
		Succeeded:      true,
		PayloadSummary: "fields=1 keys=[status]",
		Affected:       3,
	}); err != nil {
		t.Fatalf("write operation: %v", err)
	}

	got, err := sink.Decisions(ctx, DecisionFilter{SubjectID: "user-x"})
	if err != nil {
		t.Fatalf("read decisions: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 decision for user-x, got %d", len(got))
	}
	rec := got[0]
	if rec.ID != "d-1" || rec.Outcome != abac.OutcomeDeny || rec.Reason != "denied by deny-manager-delete" {
		t.Fatalf("round-trip changed record: %+v", rec)
	}
	if len(rec.MatchedPolicyIDs) != 1 || rec.MatchedPolicyIDs[0] != "deny-manager-delete" {
		t.Fatalf("matched ids lost: %v", rec.MatchedPolicyIDs)
	}
	if rec.Timestamp.IsZero() {
		t.Fatalf("timestamp not scanned")
	}

	denies, err := sink.Decisions(ctx, DecisionFilter{Outcome: abac.OutcomeDeny})
	if err != nil {
		t.Fatalf("read denies: %v", err)
	}
	if len(denies) != 1 || denies[0].ID != "d-1" {
		t.Fatalf("outcome filter: %v", denies)
	}

	limited, err := sink.Decisions(ctx, DecisionFilter{Limit: 1})
	if err != nil {
		t.Fatalf("read limited: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("limit ignored, got %d", len(limited))
	}
}
