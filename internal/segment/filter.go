package segment

import (
	"fmt"
	"strings"
	"time"
)

type FilterOp int

const (
	FilterNothing FilterOp = iota
	FilterGT
	FilterLT
	FilterEQ
	FilterAnd
	FilterOr
)

var columns = map[Field]string{
	FieldSpend:      "total_spend",
	FieldVisitCount: "visit_count",
	FieldRecency:    "last_activity_at",
}

var sqlOps = map[FilterOp]string{
	FilterGT: ">",
	FilterLT: "<",
	FilterEQ: "=",
}

// Filter describes a compiled predicate for the customer store. When
// DaysAgo is set, Value is a day offset and the compared value is the
// timestamp now minus Value days.
type Filter struct {
	Op       FilterOp
	Column   string
	Value    float64
	DaysAgo  bool
	Children []Filter
}

// Cutoff resolves a DaysAgo filter value against now.
func (f Filter) Cutoff(now time.Time) time.Time {
	return now.Add(-time.Duration(f.Value * float64(day)))
}

// SQL renders the filter as a WHERE fragment with PostgreSQL positional
// parameters numbered from firstArg.
func (f Filter) SQL(now time.Time, firstArg int) (string, []any) {
	b := &sqlBuilder{now: now, next: firstArg}
	clause := b.build(f)
	return clause, b.args
}

type sqlBuilder struct {
	now  time.Time
	next int
	args []any
}

func (b *sqlBuilder) build(f Filter) string {
	switch f.Op {
	case FilterGT, FilterLT, FilterEQ:
		var arg any = f.Value
		if f.DaysAgo {
			arg = f.Cutoff(b.now)
		}
		b.args = append(b.args, arg)
		clause := fmt.Sprintf("%s %s $%d", f.Column, sqlOps[f.Op], b.next)
		b.next++
		return clause

	case FilterAnd, FilterOr:
		if len(f.Children) == 0 {
			return "FALSE"
		}
		joiner := " AND "
		if f.Op == FilterOr {
			joiner = " OR "
		}
		parts := make([]string, len(f.Children))
		for i, child := range f.Children {
			parts[i] = b.build(child)
		}
		return "(" + strings.Join(parts, joiner) + ")"
	}
	return "FALSE"
}
