package segment

import (
	"time"

	"github.com/unclebandit/smsleopard-segments/internal/model"
)

const day = 24 * time.Hour

// Predicate is a compiled rule. Match evaluates it against a customer
// snapshot; Filter is the same test in a form the store can execute.
// Both take the evaluation time so recency cutoffs move with the clock.
type Predicate struct {
	match  func(c model.Customer, now time.Time) bool
	Filter Filter
}

// Match reports whether c belongs to the segment at time now.
func (p Predicate) Match(c model.Customer, now time.Time) bool {
	if p.match == nil {
		return false
	}
	return p.match(c, now)
}

// Empty reports whether the predicate can never match.
func (p Predicate) Empty() bool {
	return p.Filter.Op == FilterNothing
}

// Nothing is the predicate that matches no customer.
func Nothing() Predicate {
	return Predicate{
		match:  func(model.Customer, time.Time) bool { return false },
		Filter: Filter{Op: FilterNothing},
	}
}

// Compile turns a rule tree into a Predicate. It never fails: unknown
// shapes compile to Nothing. An AND or OR with no conditions also
// compiles to Nothing so an empty rule cannot select every customer.
func Compile(rule Rule) Predicate {
	switch r := rule.(type) {
	case Leaf:
		return compileLeaf(r)
	case *Leaf:
		if r == nil {
			return Nothing()
		}
		return compileLeaf(*r)
	case Composite:
		return compileComposite(r)
	case *Composite:
		if r == nil {
			return Nothing()
		}
		return compileComposite(*r)
	}
	return Nothing()
}

func compileLeaf(l Leaf) Predicate {
	v := l.Value
	switch l.Field {
	case FieldSpend, FieldVisitCount:
		get := attribute(l.Field)
		var cmp func(float64) bool
		var op FilterOp
		switch l.Operator {
		case OpGT:
			cmp, op = func(x float64) bool { return x > v }, FilterGT
		case OpLT:
			cmp, op = func(x float64) bool { return x < v }, FilterLT
		case OpEQ:
			cmp, op = func(x float64) bool { return x == v }, FilterEQ
		default:
			return Nothing()
		}
		return Predicate{
			match:  func(c model.Customer, _ time.Time) bool { return cmp(get(c)) },
			Filter: Filter{Op: op, Column: columns[l.Field], Value: v},
		}

	case FieldRecency:
		offset := time.Duration(v * float64(day))
		switch l.Operator {
		case OpBefore:
			return Predicate{
				match: func(c model.Customer, now time.Time) bool {
					return c.LastActivityAt.Before(now.Add(-offset))
				},
				Filter: Filter{Op: FilterLT, Column: columns[FieldRecency], Value: v, DaysAgo: true},
			}
		case OpAfter:
			return Predicate{
				match: func(c model.Customer, now time.Time) bool {
					return c.LastActivityAt.After(now.Add(-offset))
				},
				Filter: Filter{Op: FilterGT, Column: columns[FieldRecency], Value: v, DaysAgo: true},
			}
		}
	}
	return Nothing()
}

func compileComposite(c Composite) Predicate {
	if len(c.Conditions) == 0 {
		return Nothing()
	}

	children := make([]Predicate, len(c.Conditions))
	filters := make([]Filter, len(c.Conditions))
	for i, child := range c.Conditions {
		children[i] = Compile(child)
		filters[i] = children[i].Filter
	}

	switch c.Operator {
	case OpAnd:
		return Predicate{
			match: func(cust model.Customer, now time.Time) bool {
				for _, p := range children {
					if !p.Match(cust, now) {
						return false
					}
				}
				return true
			},
			Filter: Filter{Op: FilterAnd, Children: filters},
		}
	case OpOr:
		return Predicate{
			match: func(cust model.Customer, now time.Time) bool {
				for _, p := range children {
					if p.Match(cust, now) {
						return true
					}
				}
				return false
			},
			Filter: Filter{Op: FilterOr, Children: filters},
		}
	}
	return Nothing()
}

func attribute(f Field) func(model.Customer) float64 {
	if f == FieldVisitCount {
		return func(c model.Customer) float64 { return float64(c.VisitCount) }
	}
	return func(c model.Customer) float64 { return c.Spend }
}
