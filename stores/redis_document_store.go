package stores

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisDocumentStore keeps each collection as a Redis hash
// (key: doc:{collection}, field: document id, value: JSON body).
// Filters run client-side so semantics match the other backends.
type RedisDocumentStore struct {
	client *redis.Client
	keyFmt string // format string, e.g. "doc:%s"
}

func NewRedisDocumentStore(client *redis.Client) *RedisDocumentStore {
	return &RedisDocumentStore{client: client, keyFmt: "doc:%s"}
}

func (r *RedisDocumentStore) key(collection string) string {
	return fmt.Sprintf(r.keyFmt, collection)
}

func (r *RedisDocumentStore) Find(ctx context.Context, collection string, filter map[string]any) ([]map[string]any, error) {
	docs, _, err := r.scan(ctx, collection, filter)
	return docs, err
}

func (r *RedisDocumentStore) Insert(ctx context.Context, collection string, doc map[string]any) (string, error) {
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
	if err := r.client.HSet(ctx, r.key(collection), id, string(body)).Err(); err != nil {
		return "", err
	}
	return id, nil
}

func (r *RedisDocumentStore) Update(ctx context.Context, collection string, filter, update map[string]any) (int, int, error) {
	docs, ids, err := r.scan(ctx, collection, filter)
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
		if err := r.client.HSet(ctx, r.key(collection), ids[i], string(body)).Err(); err != nil {
			return matched, modified, err
		}
		modified++
	}
	return matched, modified, nil
}

func (r *RedisDocumentStore) Delete(ctx context.Context, collection string, filter map[string]any) (int, error) {
	_, ids, err := r.scan(ctx, collection, filter)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := r.client.HDel(ctx, r.key(collection), ids...).Result()
	return int(n), err
}

func (r *RedisDocumentStore) scan(ctx context.Context, collection string, filter map[string]any) ([]map[string]any, []string, error) {
	raw, err := r.client.HGetAll(ctx, r.key(collection)).Result()
	if err != nil {
		return nil, nil, err
	}
	docs := make([]map[string]any, 0, len(raw))
	ids := make([]string, 0, len(raw))
	for id, body := range raw {
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
