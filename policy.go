package abac

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Effect is the outcome a policy contributes when it matches.
type Effect string

const (
	EffectPermit Effect = "permit"
	EffectDeny   Effect = "deny"
)

// Policy is one declarative access rule. Targets decide whether the
// policy is applicable to a request at all (subject, resource and action
// attributes only); the condition further restricts when the effect takes
// hold and may reference any attribute including context.
type Policy struct {
	ID          string
	Description string
	Effect      Effect
	Targets     map[string]string
	Condition   Expr
	Priority    int
}

type policyDoc struct {
	ID          string            `json:"id"`
	Description string            `json:"description,omitempty"`
	Effect      Effect            `json:"effect"`
	Targets     map[string]string `json:"targets,omitempty"`
	Condition   json.RawMessage   `json:"condition,omitempty"`
	Priority    int               `json:"priority,omitempty"`
}

// UnmarshalJSON parses and validates a policy document. Everything a
// request-time evaluation could trip over (unknown operators, bad
// effects, target keys outside the three target namespaces) fails here.
func (p *Policy) UnmarshalJSON(data []byte) error {
	var doc policyDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.ID == "" {
		return fmt.Errorf("policy id is required")
	}
	if doc.Effect != EffectPermit && doc.Effect != EffectDeny {
		return fmt.Errorf("policy %s: effect must be %q or %q, got %q", doc.ID, EffectPermit, EffectDeny, doc.Effect)
	}
	for key := range doc.Targets {
		ns, _, ok := strings.Cut(key, ".")
		if !ok || (ns != NamespaceSubject && ns != NamespaceResource && ns != NamespaceAction) {
			return fmt.Errorf("policy %s: target key %q must be a subject, resource or action attribute", doc.ID, key)
		}
	}
	var cond Expr
	if len(doc.Condition) > 0 && string(doc.Condition) != "null" {
		parsed, err := ParseExpr(doc.Condition)
		if err != nil {
			return fmt.Errorf("policy %s: %w", doc.ID, err)
		}
		cond = parsed
	}
	p.ID = doc.ID
	p.Description = doc.Description
	p.Effect = doc.Effect
	p.Targets = doc.Targets
	p.Condition = cond
	p.Priority = doc.Priority
	return nil
}

// MarshalJSON re-serializes the policy to an equivalent document.
func (p *Policy) MarshalJSON() ([]byte, error) {
	doc := policyDoc{
		ID:          p.ID,
		Description: p.Description,
		Effect:      p.Effect,
		Targets:     p.Targets,
		Priority:    p.Priority,
	}
	if p.Condition != nil {
		raw, err := MarshalExpr(p.Condition)
		if err != nil {
			return nil, err
		}
		doc.Condition = raw
	}
	return json.Marshal(doc)
}

// Applicable reports whether every target pattern matches the request's
// subject/resource/action attributes. Context attributes never take part
// in target matching. A policy with no targets applies to every request.
func (p *Policy) Applicable(req *AccessRequest) bool {
	for key, pattern := range p.Targets {
		v, ok := req.get(key)
		if !ok {
			return false
		}
		if !matchTargetValue(pattern, v) {
			return false
		}
	}
	return true
}

// matchTargetValue matches one attribute value against a target pattern.
// Patterns support the '*' wildcard. A list attribute matches when any
// element matches.
func matchTargetValue(pattern string, v any) bool {
	if list, ok := v.([]string); ok {
		for _, item := range list {
			if matchPattern(item, pattern) {
				return true
			}
		}
		return false
	}
	return matchPattern(valueString(v), pattern)
}

// matchPattern matches value against a pattern where '*' matches any
// sequence of characters, including none.
func matchPattern(value, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return value == pattern
	}
	parts := strings.Split(pattern, "*")
	// leading literal must anchor at the start, trailing at the end
	if !strings.HasPrefix(value, parts[0]) {
		return false
	}
	value = value[len(parts[0]):]
	last := len(parts) - 1
	for i := 1; i < last; i++ {
		idx := strings.Index(value, parts[i])
		if idx < 0 {
			return false
		}
		value = value[idx+len(parts[i]):]
	}
	return strings.HasSuffix(value, parts[last])
}
