package abac

import (
	"encoding/json"
	"testing"
)

func TestPolicyValidation(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"missing id", `{"effect": "permit"}`},
		{"bad effect", `{"id": "p", "effect": "allow"}`},
		{"unqualified target key", `{"id": "p", "effect": "permit", "targets": {"role": "admin"}}`},
		{"context target key", `{"id": "p", "effect": "permit", "targets": {"context.ip": "10.*"}}`},
		{"bad condition op", `{"id": "p", "effect": "permit", "condition": {"op": "matches", "field": "subject.id", "value": "x"}}`},
		{"condition missing op", `{"id": "p", "effect": "permit", "condition": {"field": "subject.id", "value": "x"}}`},
	}
	for _, c := range cases {
		p := &Policy{}
		if err := json.Unmarshal([]byte(c.doc), p); err == nil {
			t.Fatalf("%s: expected validation to fail", c.name)
		}
	}
}

func TestPolicyRoundTrip(t *testing.T) {
	doc := `{
		"id": "orders-guard",
		"description": "deny non-chief managers",
		"effect": "deny",
		"targets": {"action.name": "delete", "resource.collection": "Orders"},
		"condition": {"op": "and", "args": [
			{"op": "eq", "field": "subject.role", "value": "ordersManager"},
			{"op": "eq", "field": "subject.isChief", "value": false}
		]},
		"priority": 7
	}`
	p := mustPolicy(t, doc)

	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	back := &Policy{}
	if err := json.Unmarshal(raw, back); err != nil {
		t.Fatalf("unmarshal round-trip: %v", err)
	}
	if back.ID != p.ID || back.Effect != p.Effect || back.Priority != p.Priority {
		t.Fatalf("round-trip changed policy: %+v vs %+v", back, p)
	}
	if len(back.Targets) != len(p.Targets) {
		t.Fatalf("round-trip changed targets: %v vs %v", back.Targets, p.Targets)
	}
	for k, v := range p.Targets {
		if back.Targets[k] != v {
			t.Fatalf("round-trip changed target %s", k)
		}
	}

	req := NewAccessRequest(
		map[string]any{"role": "ordersManager", "isChief": false},
		map[string]any{"collection": "Orders"},
		map[string]any{"name": "delete"},
		nil,
	)
	if !back.Applicable(req) || !back.Condition.Evaluate(req) {
		t.Fatalf("round-tripped policy behaves differently")
	}
}

func TestApplicableTargetSemantics(t *testing.T) {
	p := mustPolicy(t, `{
		"id": "p",
		"effect": "permit",
		"targets": {"subject.role": "admin", "resource.collection": "Orders"}
	}`)

	ok := NewAccessRequest(map[string]any{"role": "admin"}, map[string]any{"collection": "Orders"}, nil, nil)
	if !p.Applicable(ok) {
		t.Fatalf("expected applicable")
	}

	wrongValue := NewAccessRequest(map[string]any{"role": "guest"}, map[string]any{"collection": "Orders"}, nil, nil)
	if p.Applicable(wrongValue) {
		t.Fatalf("non-matching target value must not be applicable")
	}

	// an absent target attribute makes the policy not applicable
	absent := NewAccessRequest(map[string]any{"role": "admin"}, nil, nil, nil)
	if p.Applicable(absent) {
		t.Fatalf("absent target attribute must not be applicable")
	}
}

func TestApplicableListAttribute(t *testing.T) {
	p := mustPolicy(t, `{"id": "p", "effect": "permit", "targets": {"subject.groups": "eu"}}`)
	req := NewAccessRequest(map[string]any{"groups": []any{"sales", "eu"}}, nil, nil, nil)
	if !p.Applicable(req) {
		t.Fatalf("expected list element to satisfy target")
	}
}

func TestNoTargetsAppliesToEverything(t *testing.T) {
	p := mustPolicy(t, `{"id": "p", "effect": "deny"}`)
	if !p.Applicable(NewAccessRequest(nil, nil, nil, nil)) {
		t.Fatalf("policy without targets must apply to every request")
	}
}

func TestMatchPattern(t *testing.T) {
	cases := []struct {
		value, pattern string
		want           bool
	}{
		{"anything", "*", true},
		{"Orders", "Orders", true},
		{"Orders", "orders", false},
		{"Orders2024", "Orders*", true},
		{"archivedOrders", "*Orders", true},
		{"a-report-final", "a-*-final", true},
		{"a-final", "a-*-final", false},
		{"abcXdefYghi", "abc*def*ghi", true},
		{"abcYghi", "abc*def*ghi", false},
	}
	for _, c := range cases {
		if got := matchPattern(c.value, c.pattern); got != c.want {
			t.Fatalf("matchPattern(%q, %q) = %v, want %v", c.value, c.pattern, got, c.want)
		}
	}
}
