package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oarkflow/squealx"
)

// SQLDocumentStore keeps each document as one row with a JSON body.
// Filters are applied in Go after scanning the collection, so filter
// semantics match the memory and redis backends exactly.
type SQLDocumentStore struct {
	db *squealx.DB
}

func NewSQLDocumentStore(db *squealx.DB) *SQLDocumentStore {
	return &SQLDocumentStore{db: db}
}

func (s *SQLDocumentStore) Find(ctx context.Context, collection string, filter map[string]any) ([]map[string]any, error) {
	docs, _, err := s.scan(ctx, collection, filter)
	return docs, err
}

func (s *SQLDocumentStore) Insert(ctx context.Context, collection string, doc map[string]any) (string, error) {
	if doc == nil {
		return "", fmt.Errorf("insert into %s: nil document", collection)
	}
	stored := cloneDoc(doc)
	id, _ := stored["_id"].(string)
	if id == "" {
		id = newDocID()
	}
	stored["_id"] = id
	body, err := json.Marshal(stored)
	if err != nil {
		return "", err
	}
	now := time.Now()
	q := `INSERT INTO documents(collection, id, body_json, created_at, updated_at) VALUES(:collection, :id, :body_json, :created_at, :updated_at)`
	_, err = s.db.NamedExecContext(ctx, q, map[string]any{
		"collection": collection,
		"id":         id,
		"body_json":  string(body),
		"created_at": now,
		"updated_at": now,
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *SQLDocumentStore) Update(ctx context.Context, collection string, filter, update map[string]any) (int, int, error) {
	docs, ids, err := s.scan(ctx, collection, filter)
	if err != nil {
		return 0, 0, err
	}
	matched, modified := len(docs), 0
	for i, doc := range docs {
		if !applyUpdate(doc, update) {
			continue
		}
		body, err := json.Marshal(doc)
		if err != nil {
			return matched, modified, err
		}
		q := `UPDATE documents SET body_json = :body_json, updated_at = :updated_at WHERE collection = :collection AND id = :id`
		if _, err := s.db.NamedExecContext(ctx, q, map[string]any{
			"body_json":  string(body),
			"updated_at": time.Now(),
			"collection": collection,
			"id":         ids[i],
		}); err != nil {
			return matched, modified, err
		}
		modified++
	}
	return matched, modified, nil
}

func (s *SQLDocumentStore) Delete(ctx context.Context, collection string, filter map[string]any) (int, error) {
	_, ids, err := s.scan(ctx, collection, filter)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, id := range ids {
		q := `DELETE FROM documents WHERE collection = :collection AND id = :id`
		if _, err := s.db.NamedExecContext(ctx, q, map[string]any{
			"collection": collection,
			"id":         id,
		}); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

func (s *SQLDocumentStore) scan(ctx context.Context, collection string, filter map[string]any) ([]map[string]any, []string, error) {
	q := `SELECT id, body_json FROM documents WHERE collection = :collection`
	rows, err := s.db.NamedQueryContext(ctx, q, map[string]any{"collection": collection})
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	docs := make([]map[string]any, 0)
	ids := make([]string, 0)
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, nil, err
		}
		doc := make(map[string]any)
		if err := json.Unmarshal([]byte(body), &doc); err != nil {
			return nil, nil, fmt.Errorf("document %s/%s: %w", collection, id, err)
		}
		if matchFilter(doc, filter) {
			docs = append(docs, doc)
			ids = append(ids, id)
		}
	}
	return docs, ids, nil
}
