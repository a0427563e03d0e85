package stores

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/oarkflow/date"
)

func parseFlexibleTime(s string) (time.Time, error) {
	return date.Parse(s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var docSeq atomic.Uint64

// newDocID generates a collision-free identifier for inserted documents.
func newDocID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), docSeq.Add(1))
}

func cloneDoc(doc map[string]any) map[string]any {
	dup := make(map[string]any, len(doc))
	for k, v := range doc {
		dup[k] = v
	}
	return dup
}

// matchFilter applies a flat equality filter to a document; an empty
// filter matches every document. Numeric values compare loosely so that
// a JSON float filter matches an int field and vice versa.
func matchFilter(doc, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := doc[k]
		if !ok {
			return false
		}
		if !looseEqual(got, want) {
			return false
		}
	}
	return true
}

func looseEqual(a, b any) bool {
	if a == b {
		return true
	}
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func asFloat(v any) (float64, bool) {
	switch vv := v.(type) {
	case float64:
		return vv, true
	case float32:
		return float64(vv), true
	case int:
		return float64(vv), true
	case int64:
		return float64(vv), true
	}
	return 0, false
}

// applyUpdate merges update fields into a document, returning whether
// anything changed.
func applyUpdate(doc, update map[string]any) bool {
	changed := false
	for k, v := range update {
		if !looseEqual(doc[k], v) {
			doc[k] = v
			changed = true
		}
	}
	return changed
}
