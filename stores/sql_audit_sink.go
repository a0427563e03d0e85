package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/abac"
)

// SQLAuditSink persists the two audit streams in SQL.
type SQLAuditSink struct {
	db *squealx.DB
}

func NewSQLAuditSink(db *squealx.DB) *SQLAuditSink {
	return &SQLAuditSink{db: db}
}

func (s *SQLAuditSink) WriteDecision(ctx context.Context, rec *abac.DecisionRecord) error {
	matched, _ := json.Marshal(rec.MatchedPolicyIDs)
	q := `INSERT INTO decision_log(id, timestamp, subject_id, action, resource, outcome, matched_json, reason) VALUES(:id, :timestamp, :subject_id, :action, :resource, :outcome, :matched_json, :reason)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":           rec.ID,
		"timestamp":    rec.Timestamp,
		"subject_id":   rec.SubjectID,
		"action":       rec.Action,
		"resource":     rec.Resource,
		"outcome":      string(rec.Outcome),
		"matched_json": string(matched),
		"reason":       rec.Reason,
	})
	return err
}

func (s *SQLAuditSink) WriteOperation(ctx context.Context, rec *abac.OperationRecord) error {
	q := `INSERT INTO operation_log(id, timestamp, subject_id, action, resource, succeeded, error, payload_summary, affected) VALUES(:id, :timestamp, :subject_id, :action, :resource, :succeeded, :error, :payload_summary, :affected)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":              rec.ID,
		"timestamp":       rec.Timestamp,
		"subject_id":      rec.SubjectID,
		"action":          rec.Action,
		"resource":        rec.Resource,
		"succeeded":       boolToInt(rec.Succeeded),
		"error":           rec.Error,
		"payload_summary": rec.PayloadSummary,
		"affected":        rec.Affected,
	})
	return err
}

// DecisionFilter narrows a read of the decision stream.
type DecisionFilter struct {
	SubjectID string
	Outcome   abac.Outcome
	Limit     int
}

// Decisions reads back the decision stream for operator inspection.
func (s *SQLAuditSink) Decisions(ctx context.Context, filter DecisionFilter) ([]*abac.DecisionRecord, error) {
	q := `SELECT id, timestamp, subject_id, action, resource, outcome, matched_json, reason FROM decision_log WHERE 1=1`
	params := map[string]any{}
	if filter.SubjectID != "" {
		q += " AND subject_id = :subject_id"
		params["subject_id"] = filter.SubjectID
	}
	if filter.Outcome != "" {
		q += " AND outcome = :outcome"
		params["outcome"] = string(filter.Outcome)
	}
	if filter.Limit > 0 {
		q += " LIMIT :limit"
		params["limit"] = filter.Limit
	} else {
		q += " LIMIT 100"
	}
	rows, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*abac.DecisionRecord, 0)
	for rows.Next() {
		var id, subject, action, resource, outcome, matchedJSON, reason string
		var timestampRaw any
		if err := rows.Scan(&id, &timestampRaw, &subject, &action, &resource, &outcome, &matchedJSON, &reason); err != nil {
			return nil, err
		}
		rec := &abac.DecisionRecord{
			ID:        id,
			SubjectID: subject,
			Action:    action,
			Resource:  resource,
			Outcome:   abac.Outcome(outcome),
			Reason:    reason,
			Timestamp: scanTime(timestampRaw),
		}
		_ = json.Unmarshal([]byte(matchedJSON), &rec.MatchedPolicyIDs)
		out = append(out, rec)
	}
	return out, nil
}

func scanTime(raw any) time.Time {
	switch v := raw.(type) {
	case time.Time:
		return v
	case string:
		if t, err := parseFlexibleTime(v); err == nil {
			return t
		}
	case []byte:
		if t, err := parseFlexibleTime(string(v)); err == nil {
			return t
		}
	}
	return time.Time{}
}
