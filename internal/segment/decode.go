package segment

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	appErrors "github.com/unclebandit/smsleopard-segments/internal/errors"
)

// Field names used by the legacy flat rule documents and the rule builder.
var fieldAliases = map[string]Field{
	"spend":         FieldSpend,
	"totalSpending": FieldSpend,
	"visitCount":    FieldVisitCount,
	"visits":        FieldVisitCount,
	"recency":       FieldRecency,
	"lastVisit":     FieldRecency,
}

// legacyKeys is ordered so flat documents decode deterministically.
var legacyKeys = []string{"totalSpending", "visits", "lastVisit"}

// Parse decodes a JSON rule document.
func Parse(data []byte) (Rule, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", appErrors.ErrInvalidRule, err)
	}
	return FromValue(v)
}

// ParseYAML decodes a YAML rule document.
func ParseYAML(data []byte) (Rule, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", appErrors.ErrInvalidRule, err)
	}
	return FromValue(v)
}

// FromValue converts a generic decoded document into a rule tree. Only a
// top-level value that is not an object is rejected; malformed nodes below
// it decode to Invalid so a preview degrades to an empty match.
func FromValue(v any) (Rule, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected an object, got %T", appErrors.ErrInvalidRule, v)
	}
	return decodeNode(m), nil
}

func decodeNode(v any) Rule {
	m, ok := v.(map[string]any)
	if !ok {
		return Invalid{Reason: fmt.Sprintf("condition is %T, not an object", v)}
	}

	if _, ok := m["conditions"]; ok {
		return decodeComposite(m)
	}
	if _, ok := m["field"]; ok {
		return decodeLeaf(m["field"], m["operator"], m["value"])
	}
	return decodeLegacy(m)
}

func decodeComposite(m map[string]any) Rule {
	op, _ := m["operator"].(string)
	operator := Operator(strings.ToUpper(op))
	if operator != OpAnd && operator != OpOr {
		return Invalid{Reason: fmt.Sprintf("unknown composite operator %q", op)}
	}

	if m["conditions"] == nil {
		return Composite{Operator: operator}
	}
	raw, ok := m["conditions"].([]any)
	if !ok {
		return Invalid{Reason: "conditions is not a list"}
	}
	children := make([]Rule, 0, len(raw))
	for _, c := range raw {
		children = append(children, decodeNode(c))
	}
	return Composite{Operator: operator, Conditions: children}
}

func decodeLeaf(rawField, rawOp, rawValue any) Rule {
	name, _ := rawField.(string)
	field, ok := fieldAliases[name]
	if !ok {
		return Invalid{Reason: fmt.Sprintf("unknown field %q", name)}
	}
	op, ok := rawOp.(string)
	if !ok {
		return Invalid{Reason: "operator is not a string"}
	}
	value, ok := toFloat(rawValue)
	if !ok {
		return Invalid{Reason: fmt.Sprintf("value %v is not a number", rawValue)}
	}
	return Leaf{Field: field, Operator: Operator(strings.ToLower(op)), Value: value}
}

// decodeLegacy handles {totalSpending: {...}, visits: {...}, lastVisit: {...}},
// which combines the present clauses with AND.
func decodeLegacy(m map[string]any) Rule {
	var children []Rule
	for _, key := range legacyKeys {
		clause, ok := m[key]
		if !ok {
			continue
		}
		cm, ok := clause.(map[string]any)
		if !ok {
			children = append(children, Invalid{Reason: key + " is not an object"})
			continue
		}
		children = append(children, decodeLeaf(key, cm["operator"], cm["value"]))
	}
	if len(children) == 0 {
		return Invalid{Reason: "no recognised rule fields"}
	}
	if len(children) == 1 {
		return children[0]
	}
	return Composite{Operator: OpAnd, Conditions: children}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
