package hook

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Condition is one node of a hook's predicate tree, evaluated against the
// signal payload. The operator set is deliberately small: field equality,
// presence, numeric comparison and boolean combinators. Anything the tree
// cannot express belongs in application code emitting a more specific
// signal type.
type Condition struct {
	Op    string      `json:"op"`
	Field string      `json:"field,omitempty"`
	Value interface{} `json:"value,omitempty"`
	Args  []Condition `json:"args,omitempty"`
}

// ParseCondition decodes a predicate tree. nil/empty input means "always
// matched".
func ParseCondition(raw json.RawMessage) (*Condition, error) {
	if len(raw) == 0 || string(raw) == "null" || string(raw) == "{}" {
		return nil, nil
	}

	var c Condition
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("malformed condition: %w", err)
	}
	if c.Op == "" {
		return nil, fmt.Errorf("malformed condition: missing op")
	}
	return &c, nil
}

// Eval evaluates the tree against a decoded payload. An unknown operator or
// a type mismatch is an error; the resolver treats errors as "not matched".
func (c *Condition) Eval(payload map[string]interface{}) (bool, error) {
	switch c.Op {
	case "and":
		for i := range c.Args {
			ok, err := c.Args[i].Eval(payload)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case "or":
		for i := range c.Args {
			ok, err := c.Args[i].Eval(payload)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case "not":
		if len(c.Args) != 1 {
			return false, fmt.Errorf("not requires exactly one argument")
		}
		ok, err := c.Args[0].Eval(payload)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case "exists":
		_, found := lookupPath(payload, c.Field)
		return found, nil
	case "eq", "ne":
		actual, found := lookupPath(payload, c.Field)
		if !found {
			return c.Op == "ne", nil
		}
		equal := scalarEqual(actual, c.Value)
		if c.Op == "ne" {
			return !equal, nil
		}
		return equal, nil
	case "gt", "gte", "lt", "lte":
		actual, found := lookupPath(payload, c.Field)
		if !found {
			return false, nil
		}
		a, aok := toFloat(actual)
		b, bok := toFloat(c.Value)
		if !aok || !bok {
			return false, fmt.Errorf("%s requires numeric operands for field %q", c.Op, c.Field)
		}
		switch c.Op {
		case "gt":
			return a > b, nil
		case "gte":
			return a >= b, nil
		case "lt":
			return a < b, nil
		default:
			return a <= b, nil
		}
	default:
		return false, fmt.Errorf("unknown condition op %q", c.Op)
	}
}

// lookupPath walks a dot path ("customer.email") through nested objects.
func lookupPath(payload map[string]interface{}, path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}

	parts := strings.Split(path, ".")
	var current interface{} = payload
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func scalarEqual(a, b interface{}) bool {
	// JSON numbers decode as float64 on one side but may come typed on the
	// other, so compare numerically when both sides coerce.
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return a == b
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
