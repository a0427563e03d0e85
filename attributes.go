package abac

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Attribute namespaces. Every key a policy or request refers to is
// qualified with one of these, e.g. "subject.role" or "context.ip".
const (
	NamespaceSubject  = "subject"
	NamespaceResource = "resource"
	NamespaceAction   = "action"
	NamespaceContext  = "context"
)

// AttributeSet is an immutable bag of typed attribute values. Keys are
// case-sensitive and unqualified within the set; the owning AccessRequest
// supplies the namespace. Values are normalized to string, float64, bool
// or []string at construction time.
type AttributeSet struct {
	values map[string]any
}

// NewAttributeSet builds an AttributeSet from a generic map, normalizing
// numeric types to float64 and []any string lists to []string. Values of
// unsupported types are stored via their fmt string form so that a caller
// mistake degrades to a lexical comparison instead of a silent drop.
func NewAttributeSet(values map[string]any) AttributeSet {
	m := make(map[string]any, len(values))
	for k, v := range values {
		m[k] = normalizeValue(v)
	}
	return AttributeSet{values: m}
}

// Get returns the value for key and whether it is present.
func (s AttributeSet) Get(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Keys returns the attribute keys in sorted order.
func (s AttributeSet) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of attributes in the set.
func (s AttributeSet) Len() int { return len(s.values) }

func normalizeValue(v any) any {
	switch vv := v.(type) {
	case nil:
		return nil
	case string, float64, bool:
		return vv
	case int:
		return float64(vv)
	case int32:
		return float64(vv)
	case int64:
		return float64(vv)
	case float32:
		return float64(vv)
	case []string:
		out := make([]string, len(vv))
		copy(out, vv)
		return out
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			out = append(out, valueString(normalizeValue(item)))
		}
		return out
	default:
		return fmt.Sprint(vv)
	}
}

// AccessRequest carries the four attribute sets of a single protected
// operation plus the moment it was built. It is constructed fresh per
// operation and never mutated afterwards.
type AccessRequest struct {
	Subject   AttributeSet
	Resource  AttributeSet
	Action    AttributeSet
	Context   AttributeSet
	Timestamp time.Time
}

// NewAccessRequest stamps the request with the current time.
func NewAccessRequest(subject, resource, action, context map[string]any) *AccessRequest {
	return &AccessRequest{
		Subject:   NewAttributeSet(subject),
		Resource:  NewAttributeSet(resource),
		Action:    NewAttributeSet(action),
		Context:   NewAttributeSet(context),
		Timestamp: time.Now(),
	}
}

// ContextAttrs builds the context attribute map the operator console fills
// in for every request: caller IP, weekday abbreviation and hour of day.
func ContextAttrs(ip string, now time.Time) map[string]any {
	return map[string]any{
		"ip":      ip,
		"weekday": now.Format("Mon"),
		"hour":    now.Hour(),
	}
}

// get resolves a namespaced key ("subject.role") against the request.
// Unknown namespaces and absent keys both report not-present.
func (r *AccessRequest) get(field string) (any, bool) {
	ns, key, ok := strings.Cut(field, ".")
	if !ok {
		return nil, false
	}
	switch ns {
	case NamespaceSubject:
		return r.Subject.Get(key)
	case NamespaceResource:
		return r.Resource.Get(key)
	case NamespaceAction:
		return r.Action.Get(key)
	case NamespaceContext:
		return r.Context.Get(key)
	}
	return nil, false
}

// SubjectID returns the subject's identifier attribute for audit records.
func (r *AccessRequest) SubjectID() string {
	if v, ok := r.Subject.Get("id"); ok {
		return valueString(v)
	}
	return ""
}

// ActionName returns the action's name attribute for audit records.
func (r *AccessRequest) ActionName() string {
	if v, ok := r.Action.Get("name"); ok {
		return valueString(v)
	}
	return ""
}

// ResourceDescriptor returns a short resource label for audit records,
// preferring the collection attribute.
func (r *AccessRequest) ResourceDescriptor() string {
	if v, ok := r.Resource.Get("collection"); ok {
		return valueString(v)
	}
	if v, ok := r.Resource.Get("id"); ok {
		return valueString(v)
	}
	return ""
}

// compareValues orders two normalized attribute values. The second return
// reports whether the operands were comparable at all: list operands,
// nil operands and bool ordering are type mismatches outside equality.
// Numbers compare numerically; strings compare numerically when both parse
// as numbers, lexically otherwise.
func compareValues(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if _, ok := a.([]string); ok {
		return 0, false
	}
	if _, ok := b.([]string); ok {
		return 0, false
	}

	switch av := a.(type) {
	case bool:
		bv, ok := toBool(b)
		if !ok {
			return 0, false
		}
		if av == bv {
			return 0, true
		}
		return 0, false
	case float64:
		if bf, ok := toNumber(b); ok {
			return cmpFloat(av, bf), true
		}
		return 0, false
	case string:
		if bv, ok := b.(bool); ok {
			ab, ok2 := toBool(av)
			if ok2 && ab == bv {
				return 0, true
			}
			return 0, false
		}
		af, aNum := toNumber(av)
		bf, bNum := toNumber(b)
		if aNum && bNum {
			return cmpFloat(af, bf), true
		}
		return strings.Compare(av, valueString(b)), true
	}
	return 0, false
}

// equalValues reports attribute equality, including list equality.
func equalValues(a, b any) bool {
	al, aList := a.([]string)
	bl, bList := b.([]string)
	if aList || bList {
		if !aList || !bList || len(al) != len(bl) {
			return false
		}
		for i := range al {
			if al[i] != bl[i] {
				return false
			}
		}
		return true
	}
	ord, ok := compareValues(a, b)
	return ok && ord == 0
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func toNumber(v any) (float64, bool) {
	switch vv := v.(type) {
	case float64:
		return vv, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(vv), 64)
		return f, err == nil
	}
	return 0, false
}

func toBool(v any) (bool, bool) {
	switch vv := v.(type) {
	case bool:
		return vv, true
	case string:
		b, err := strconv.ParseBool(vv)
		return b, err == nil
	}
	return false, false
}

// valueString renders a value for pattern matching and audit output.
func valueString(v any) string {
	switch vv := v.(type) {
	case nil:
		return ""
	case string:
		return vv
	case bool:
		return strconv.FormatBool(vv)
	case float64:
		return strconv.FormatFloat(vv, 'f', -1, 64)
	case []string:
		return strings.Join(vv, ",")
	}
	return fmt.Sprint(v)
}
