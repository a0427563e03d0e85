package stores

import (
	"context"
	"fmt"
	"sync"

	"github.com/oarkflow/abac"
)

// MemoryDocumentStore keeps collections of documents in maps. Documents
// are cloned on the way in and out so callers can never alias store
// state.
type MemoryDocumentStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]any
}

func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{collections: make(map[string]map[string]map[string]any)}
}

func (s *MemoryDocumentStore) Find(ctx context.Context, collection string, filter map[string]any) ([]map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]map[string]any, 0)
	for _, doc := range s.collections[collection] {
		if matchFilter(doc, filter) {
			out = append(out, cloneDoc(doc))
		}
	}
	return out, nil
}

func (s *MemoryDocumentStore) Insert(ctx context.Context, collection string, doc map[string]any) (string, error) {
	if doc == nil {
		return "", fmt.Errorf("insert into %s: nil document", collection)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.collections[collection]
	if !ok {
		col = make(map[string]map[string]any)
		s.collections[collection] = col
	}
	id, _ := doc["_id"].(string)
	if id == "" {
		id = newDocID()
	}
	stored := cloneDoc(doc)
	stored["_id"] = id
	col[id] = stored
	return id, nil
}

func (s *MemoryDocumentStore) Update(ctx context.Context, collection string, filter, update map[string]any) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched, modified := 0, 0
	for _, doc := range s.collections[collection] {
		if !matchFilter(doc, filter) {
			continue
		}
		matched++
		if applyUpdate(doc, update) {
			modified++
		}
	}
	return matched, modified, nil
}

func (s *MemoryDocumentStore) Delete(ctx context.Context, collection string, filter map[string]any) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	col := s.collections[collection]
	deleted := 0
	for id, doc := range col {
		if matchFilter(doc, filter) {
			delete(col, id)
			deleted++
		}
	}
	return deleted, nil
}

// MemoryAuditSink collects audit records in slices; the test double for
// the SQL sink.
type MemoryAuditSink struct {
	mu         sync.RWMutex
	decisions  []*abac.DecisionRecord
	operations []*abac.OperationRecord
}

func NewMemoryAuditSink() *MemoryAuditSink {
	return &MemoryAuditSink{}
}

func (s *MemoryAuditSink) WriteDecision(ctx context.Context, rec *abac.DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, rec)
	return nil
}

func (s *MemoryAuditSink) WriteOperation(ctx context.Context, rec *abac.OperationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operations = append(s.operations, rec)
	return nil
}

// Decisions returns a snapshot of the decision stream.
func (s *MemoryAuditSink) Decisions() []*abac.DecisionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*abac.DecisionRecord, len(s.decisions))
	copy(out, s.decisions)
	return out
}

// Operations returns a snapshot of the operation stream.
func (s *MemoryAuditSink) Operations() []*abac.OperationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*abac.OperationRecord, len(s.operations))
	copy(out, s.operations)
	return out
}
