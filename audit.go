package abac

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	phlog "github.com/oarkflow/log"

	"github.com/oarkflow/abac/logger"
)

// DecisionRecord is one entry in the decision trace stream: every
// evaluation produces exactly one, permit or not.
type DecisionRecord struct {
	ID               string    `json:"id"`
	Timestamp        time.Time `json:"timestamp"`
	SubjectID        string    `json:"subject_id"`
	Action           string    `json:"action"`
	Resource         string    `json:"resource"`
	Outcome          Outcome   `json:"outcome"`
	MatchedPolicyIDs []string  `json:"matched_policy_ids"`
	Reason           string    `json:"reason"`
}

// OperationRecord is one entry in the operation stream: written only for
// store operations that actually executed after a permit. The payload is
// reduced to a redacted summary, never the raw values.
type OperationRecord struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	SubjectID      string    `json:"subject_id"`
	Action         string    `json:"action"`
	Resource       string    `json:"resource"`
	Succeeded      bool      `json:"succeeded"`
	Error          string    `json:"error,omitempty"`
	PayloadSummary string    `json:"payload_summary"`
	Affected       int       `json:"affected"`
}

// AuditSink persists audit records. Implementations must be safe for use
// by the single writer goroutine; see stores for memory and SQL sinks.
type AuditSink interface {
	WriteDecision(ctx context.Context, rec *DecisionRecord) error
	WriteOperation(ctx context.Context, rec *OperationRecord) error
}

type auditEvent struct {
	decision  *DecisionRecord
	operation *OperationRecord
}

// AuditLogger serializes audit writes off the decision path. Appends are
// non-blocking: when the bounded queue is full the newest event is
// dropped and counted rather than stalling a caller (drop-newest policy).
// Sink failures are logged and never affect a decision.
type AuditLogger struct {
	sink    AuditSink
	ch      chan auditEvent
	done    chan struct{}
	log     logger.Logger
	dropped atomic.Uint64
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// NewAuditLogger starts the writer goroutine. queueSize <= 0 falls back
// to the default of 1024.
func NewAuditLogger(sink AuditSink, queueSize int, log logger.Logger) *AuditLogger {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	a := &AuditLogger{
		sink: sink,
		ch:   make(chan auditEvent, queueSize),
		done: make(chan struct{}),
		log:  log,
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// run consumes the queue. The event channel is never closed: a close
// while producers race an enqueue would panic the producer, so shutdown
// is signalled through done and the remaining queue drained.
func (a *AuditLogger) run() {
	defer a.wg.Done()
	ctx := context.Background()
	for {
		select {
		case ev := <-a.ch:
			a.write(ctx, ev)
		case <-a.done:
			for {
				select {
				case ev := <-a.ch:
					a.write(ctx, ev)
				default:
					return
				}
			}
		}
	}
}

func (a *AuditLogger) write(ctx context.Context, ev auditEvent) {
	if ev.decision != nil {
		if err := a.sink.WriteDecision(ctx, ev.decision); err != nil {
			a.log.Error("audit decision write failed", "id", ev.decision.ID, "error", err.Error())
		}
	}
	if ev.operation != nil {
		if err := a.sink.WriteOperation(ctx, ev.operation); err != nil {
			a.log.Error("audit operation write failed", "id", ev.operation.ID, "error", err.Error())
		}
	}
}

// Decision records one access decision. The record is stamped with the
// request's own time: a cache hit hands back a shared Decision carrying
// the timestamp of whichever request first produced it.
func (a *AuditLogger) Decision(req *AccessRequest, dec *Decision) {
	ts := req.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	rec := &DecisionRecord{
		ID:               auditID(),
		Timestamp:        ts,
		SubjectID:        req.SubjectID(),
		Action:           req.ActionName(),
		Resource:         req.ResourceDescriptor(),
		Outcome:          dec.Outcome,
		MatchedPolicyIDs: dec.MatchedPolicyIDs,
		Reason:           dec.Reason,
	}

	phlog.Info().
		Str("subject", rec.SubjectID).
		Str("action", rec.Action).
		Str("resource", rec.Resource).
		Str("outcome", string(rec.Outcome)).
		Any("matched", rec.MatchedPolicyIDs).
		Msg("audit decision")

	a.enqueue(auditEvent{decision: rec})
}

// Operation records the result of a store operation executed after a
// permit.
func (a *AuditLogger) Operation(req *AccessRequest, op Operation, res *StoreResult, opErr error) {
	rec := &OperationRecord{
		ID:             auditID(),
		Timestamp:      time.Now(),
		SubjectID:      req.SubjectID(),
		Action:         req.ActionName(),
		Resource:       op.Collection,
		Succeeded:      opErr == nil,
		PayloadSummary: RedactPayload(op.Payload),
	}
	if opErr != nil {
		rec.Error = opErr.Error()
	}
	if res != nil {
		rec.Affected = res.Affected()
	}

	phlog.Info().
		Str("subject", rec.SubjectID).
		Str("kind", string(op.Kind)).
		Str("collection", op.Collection).
		Bool("succeeded", rec.Succeeded).
		Int("affected", rec.Affected).
		Msg("audit operation")

	a.enqueue(auditEvent{operation: rec})
}

func (a *AuditLogger) enqueue(ev auditEvent) {
	if a.closed.Load() {
		return
	}
	select {
	case a.ch <- ev:
	default:
		n := a.dropped.Add(1)
		a.log.Error("audit queue full, event dropped", "dropped_total", int(n))
	}
}

// Dropped reports how many events the bounded queue has discarded.
func (a *AuditLogger) Dropped() uint64 { return a.dropped.Load() }

// Close drains the queue and stops the writer.
func (a *AuditLogger) Close() {
	if a.closed.Swap(true) {
		return
	}
	close(a.done)
	a.wg.Wait()
}

// RedactPayload summarizes a payload for the audit trail: sorted field
// names and a count, never the values themselves.
func RedactPayload(payload map[string]any) string {
	if len(payload) == 0 {
		return "fields=0"
	}
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Sprintf("fields=%d keys=%v", len(keys), keys)
}

var auditSeq atomic.Uint64

func auditID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), auditSeq.Add(1))
}
