// Package segment models customer segment rules and compiles them into
// predicates that can be evaluated in memory or pushed down to the store.
package segment

import (
	"fmt"
	"strconv"
	"strings"
)

type Field string

const (
	FieldSpend      Field = "spend"
	FieldVisitCount Field = "visitCount"
	FieldRecency    Field = "recency"
)

type Operator string

const (
	OpGT     Operator = "gt"
	OpLT     Operator = "lt"
	OpEQ     Operator = "eq"
	OpBefore Operator = "before"
	OpAfter  Operator = "after"

	OpAnd Operator = "AND"
	OpOr  Operator = "OR"
)

// Rule is one node of a rule tree. It is implemented by Leaf, Composite
// and Invalid only.
type Rule interface {
	Describe() string
	isRule()
}

// Leaf compares a single customer attribute against a value. For recency
// the value is a number of days before the evaluation time.
type Leaf struct {
	Field    Field    `json:"field"`
	Operator Operator `json:"operator"`
	Value    float64  `json:"value"`
}

// Composite joins child rules with AND or OR.
type Composite struct {
	Operator   Operator `json:"operator"`
	Conditions []Rule   `json:"conditions"`
}

// Invalid stands in for a node that could not be decoded. It matches nothing.
type Invalid struct {
	Reason string `json:"invalid"`
}

func (Leaf) isRule()      {}
func (Composite) isRule() {}
func (Invalid) isRule()   {}

var symbols = map[Operator]string{
	OpGT: ">",
	OpLT: "<",
	OpEQ: "=",
}

func (l Leaf) Describe() string {
	value := strconv.FormatFloat(l.Value, 'f', -1, 64)
	if l.Field == FieldRecency {
		return fmt.Sprintf("%s %s %sd", l.Field, l.Operator, value)
	}
	if sym, ok := symbols[l.Operator]; ok {
		return fmt.Sprintf("%s %s %s", l.Field, sym, value)
	}
	return fmt.Sprintf("%s %s %s", l.Field, l.Operator, value)
}

func (c Composite) Describe() string {
	if len(c.Conditions) == 0 {
		return fmt.Sprintf("(empty %s)", c.Operator)
	}
	parts := make([]string, len(c.Conditions))
	for i, child := range c.Conditions {
		parts[i] = child.Describe()
	}
	return "(" + strings.Join(parts, " "+string(c.Operator)+" ") + ")"
}

func (i Invalid) Describe() string {
	return "<invalid: " + i.Reason + ">"
}
