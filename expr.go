package abac

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MaxConditionDepth bounds condition tree nesting. Enforced when a policy
// document is parsed so evaluation always terminates in bounded time.
const MaxConditionDepth = 32

// Expr is a node of a policy condition tree. Evaluation is a pure
// function of the request: no side effects, and never an error. An
// absent attribute or an incomparable operand pair makes the comparison
// false rather than failing the request.
type Expr interface {
	Evaluate(req *AccessRequest) bool
	String() string
	exprJSON() map[string]any
}

// EqExpr matches when the attribute equals the literal value.
type EqExpr struct {
	Field string
	Value any
}

func (e *EqExpr) Evaluate(req *AccessRequest) bool {
	v, ok := req.get(e.Field)
	if !ok {
		return false
	}
	return equalValues(v, e.Value)
}

func (e *EqExpr) String() string { return fmt.Sprintf("%s == %v", e.Field, e.Value) }

func (e *EqExpr) exprJSON() map[string]any {
	return map[string]any{"op": "eq", "field": e.Field, "value": e.Value}
}

// NeExpr matches when the attribute is present and differs from the value.
type NeExpr struct {
	Field string
	Value any
}

func (e *NeExpr) Evaluate(req *AccessRequest) bool {
	v, ok := req.get(e.Field)
	if !ok {
		return false
	}
	return !equalValues(v, e.Value)
}

func (e *NeExpr) String() string { return fmt.Sprintf("%s != %v", e.Field, e.Value) }

func (e *NeExpr) exprJSON() map[string]any {
	return map[string]any{"op": "ne", "field": e.Field, "value": e.Value}
}

// CompareExpr covers the ordered comparisons lt, lte, gt and gte.
type CompareExpr struct {
	Op    string
	Field string
	Value any
}

func (e *CompareExpr) Evaluate(req *AccessRequest) bool {
	v, ok := req.get(e.Field)
	if !ok {
		return false
	}
	ord, comparable := compareValues(v, e.Value)
	if !comparable {
		return false
	}
	switch e.Op {
	case "lt":
		return ord < 0
	case "lte":
		return ord <= 0
	case "gt":
		return ord > 0
	case "gte":
		return ord >= 0
	}
	return false
}

func (e *CompareExpr) String() string {
	sym := map[string]string{"lt": "<", "lte": "<=", "gt": ">", "gte": ">="}[e.Op]
	return fmt.Sprintf("%s %s %v", e.Field, sym, e.Value)
}

func (e *CompareExpr) exprJSON() map[string]any {
	return map[string]any{"op": e.Op, "field": e.Field, "value": e.Value}
}

// PrefixExpr matches when the string attribute starts with the prefix.
type PrefixExpr struct {
	Field  string
	Prefix string
}

func (e *PrefixExpr) Evaluate(req *AccessRequest) bool {
	v, ok := req.get(e.Field)
	if !ok {
		return false
	}
	s, ok := v.(string)
	return ok && strings.HasPrefix(s, e.Prefix)
}

func (e *PrefixExpr) String() string { return fmt.Sprintf("prefix(%s,%q)", e.Field, e.Prefix) }

func (e *PrefixExpr) exprJSON() map[string]any {
	return map[string]any{"op": "prefix", "field": e.Field, "value": e.Prefix}
}

// ContainsExpr matches when the string attribute contains the substring,
// or when a list attribute contains it as an element.
type ContainsExpr struct {
	Field string
	Value string
}

func (e *ContainsExpr) Evaluate(req *AccessRequest) bool {
	v, ok := req.get(e.Field)
	if !ok {
		return false
	}
	switch vv := v.(type) {
	case string:
		return strings.Contains(vv, e.Value)
	case []string:
		for _, item := range vv {
			if item == e.Value {
				return true
			}
		}
	}
	return false
}

func (e *ContainsExpr) String() string { return fmt.Sprintf("contains(%s,%q)", e.Field, e.Value) }

func (e *ContainsExpr) exprJSON() map[string]any {
	return map[string]any{"op": "contains", "field": e.Field, "value": e.Value}
}

// InExpr matches when the attribute equals any of the listed values.
// Membership against an empty list is false, as is an absent attribute.
type InExpr struct {
	Field  string
	Values []any
}

func (e *InExpr) Evaluate(req *AccessRequest) bool {
	v, ok := req.get(e.Field)
	if !ok {
		return false
	}
	for _, candidate := range e.Values {
		if equalValues(v, candidate) {
			return true
		}
		// a list attribute is "in" the set when any element is
		if list, isList := v.([]string); isList {
			for _, item := range list {
				if equalValues(item, candidate) {
					return true
				}
			}
		}
	}
	return false
}

func (e *InExpr) String() string { return fmt.Sprintf("%s in %v", e.Field, e.Values) }

func (e *InExpr) exprJSON() map[string]any {
	return map[string]any{"op": "in", "field": e.Field, "values": e.Values}
}

// AndExpr is true when every argument is true. Short-circuits.
type AndExpr struct {
	Args []Expr
}

func (e *AndExpr) Evaluate(req *AccessRequest) bool {
	for _, arg := range e.Args {
		if !arg.Evaluate(req) {
			return false
		}
	}
	return true
}

func (e *AndExpr) String() string { return joinExprs(e.Args, " AND ") }

func (e *AndExpr) exprJSON() map[string]any {
	return map[string]any{"op": "and", "args": exprJSONList(e.Args)}
}

// OrExpr is true when any argument is true. Short-circuits.
type OrExpr struct {
	Args []Expr
}

func (e *OrExpr) Evaluate(req *AccessRequest) bool {
	for _, arg := range e.Args {
		if arg.Evaluate(req) {
			return true
		}
	}
	return false
}

func (e *OrExpr) String() string { return joinExprs(e.Args, " OR ") }

func (e *OrExpr) exprJSON() map[string]any {
	return map[string]any{"op": "or", "args": exprJSONList(e.Args)}
}

// NotExpr negates its argument.
type NotExpr struct {
	Arg Expr
}

func (e *NotExpr) Evaluate(req *AccessRequest) bool { return !e.Arg.Evaluate(req) }

func (e *NotExpr) String() string { return fmt.Sprintf("NOT (%s)", e.Arg.String()) }

func (e *NotExpr) exprJSON() map[string]any {
	return map[string]any{"op": "not", "arg": e.Arg.exprJSON()}
}

// TrueExpr always matches; the parsed form of an absent condition.
type TrueExpr struct{}

func (e *TrueExpr) Evaluate(req *AccessRequest) bool { return true }

func (e *TrueExpr) String() string { return "true" }

func (e *TrueExpr) exprJSON() map[string]any { return map[string]any{"op": "true"} }

func joinExprs(args []Expr, sep string) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

func exprJSONList(args []Expr) []map[string]any {
	out := make([]map[string]any, len(args))
	for i, a := range args {
		out[i] = a.exprJSON()
	}
	return out
}

// MarshalExpr serializes a condition tree to its JSON document form.
func MarshalExpr(e Expr) ([]byte, error) {
	if e == nil {
		e = &TrueExpr{}
	}
	return json.Marshal(e.exprJSON())
}

// ParseExpr parses the JSON document form of a condition tree. Unknown
// operators and malformed nodes fail the parse: validation happens at
// policy load time so evaluation never meets an unparseable tree.
func ParseExpr(raw json.RawMessage) (Expr, error) {
	var node map[string]any
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("condition: %w", err)
	}
	return parseExprNode(node, 1)
}

func parseExprNode(node map[string]any, depth int) (Expr, error) {
	if depth > MaxConditionDepth {
		return nil, fmt.Errorf("condition exceeds max depth %d", MaxConditionDepth)
	}
	op, _ := node["op"].(string)
	switch op {
	case "true":
		return &TrueExpr{}, nil
	case "eq":
		field, value, err := leafOperands(node)
		if err != nil {
			return nil, err
		}
		return &EqExpr{Field: field, Value: value}, nil
	case "ne":
		field, value, err := leafOperands(node)
		if err != nil {
			return nil, err
		}
		return &NeExpr{Field: field, Value: value}, nil
	case "lt", "lte", "gt", "gte":
		field, value, err := leafOperands(node)
		if err != nil {
			return nil, err
		}
		return &CompareExpr{Op: op, Field: field, Value: value}, nil
	case "prefix":
		field, value, err := leafOperands(node)
		if err != nil {
			return nil, err
		}
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("prefix operator requires a string value")
		}
		return &PrefixExpr{Field: field, Prefix: s}, nil
	case "contains":
		field, value, err := leafOperands(node)
		if err != nil {
			return nil, err
		}
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("contains operator requires a string value")
		}
		return &ContainsExpr{Field: field, Value: s}, nil
	case "in":
		field, ok := node["field"].(string)
		if !ok || field == "" {
			return nil, fmt.Errorf("in operator requires a field")
		}
		rawVals, ok := node["values"].([]any)
		if !ok {
			return nil, fmt.Errorf("in operator requires a values list")
		}
		vals := make([]any, len(rawVals))
		for i, v := range rawVals {
			vals[i] = normalizeValue(v)
		}
		return &InExpr{Field: field, Values: vals}, nil
	case "and", "or":
		rawArgs, ok := node["args"].([]any)
		if !ok || len(rawArgs) == 0 {
			return nil, fmt.Errorf("%s operator requires args", op)
		}
		args := make([]Expr, 0, len(rawArgs))
		for _, rawArg := range rawArgs {
			child, ok := rawArg.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%s operator arg is not an object", op)
			}
			expr, err := parseExprNode(child, depth+1)
			if err != nil {
				return nil, err
			}
			args = append(args, expr)
		}
		if op == "and" {
			return &AndExpr{Args: args}, nil
		}
		return &OrExpr{Args: args}, nil
	case "not":
		child, ok := node["arg"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("not operator requires an arg object")
		}
		arg, err := parseExprNode(child, depth+1)
		if err != nil {
			return nil, err
		}
		return &NotExpr{Arg: arg}, nil
	case "":
		return nil, fmt.Errorf("condition node missing op")
	default:
		return nil, fmt.Errorf("unknown condition operator %q", op)
	}
}

func leafOperands(node map[string]any) (string, any, error) {
	field, ok := node["field"].(string)
	if !ok || field == "" {
		return "", nil, fmt.Errorf("%v operator requires a field", node["op"])
	}
	value, ok := node["value"]
	if !ok {
		return "", nil, fmt.Errorf("%v operator requires a value", node["op"])
	}
	return field, normalizeValue(value), nil
}
