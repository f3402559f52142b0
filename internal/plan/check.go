package plan

import (
	"github.com/KaramelBytes/insightloom-cli/internal/intent"
	"github.com/KaramelBytes/insightloom-cli/internal/profile"
)

// columnSet is the ordered shape flowing between operations.
type columnSet struct {
	names []string
	types map[string]profile.Type
}

func sourceColumns(schema *profile.SchemaSummary) *columnSet {
	cs := &columnSet{types: make(map[string]profile.Type, len(schema.Columns))}
	for _, c := range schema.Columns {
		cs.add(c.Name, c.Type)
	}
	return cs
}

func (cs *columnSet) add(name string, t profile.Type) {
	if _, ok := cs.types[name]; !ok {
		cs.names = append(cs.names, name)
	}
	cs.types[name] = t
}

func (cs *columnSet) lookup(name string) (profile.Type, bool) {
	t, ok := cs.types[name]
	return t, ok
}

// Check type-checks every operation against the columns produced by the
// operation before it; the first operation sees the source schema. An
// aggregate keeps only the group keys and its outputs.
func Check(p *Plan, schema *profile.SchemaSummary) error {
	if p == nil || schema == nil {
		return &ValidationError{Reason: "plan and schema are required"}
	}
	cur := sourceColumns(schema)
	var keys []string
	aggregated := false
	lastRank := -1

	for i, op := range p.Operations {
		fail := func(column, reason string) error {
			return &ValidationError{Step: i, Op: op.Kind, Column: column, Reason: reason}
		}
		r, known := rank[op.Kind]
		if !known {
			return fail("", "unknown operation")
		}
		if r < lastRank || (r == lastRank && op.Kind != KindFilter) {
			return fail("", "operation is out of order (filter, group, aggregate, derive, sort)")
		}
		lastRank = r

		switch op.Kind {
		case KindFilter:
			if op.Filter == nil {
				return fail("", "missing filter")
			}
			t, ok := cur.lookup(op.Filter.Column)
			if !ok {
				return fail(op.Filter.Column, "does not exist at this step")
			}
			switch op.Filter.Op {
			case intent.OpGt, intent.OpGte, intent.OpLt, intent.OpLte:
				if !t.Numeric() && t != profile.TypeDatetime {
					return fail(op.Filter.Column, "is "+string(t)+" and cannot be range-compared")
				}
			case intent.OpEq, intent.OpNe, intent.OpIn, intent.OpIsNull, intent.OpNotNull:
			default:
				return fail(op.Filter.Column, "uses unsupported operator "+string(op.Filter.Op))
			}

		case KindGroup:
			if len(op.Keys) == 0 {
				return fail("", "group needs at least one key")
			}
			for _, k := range op.Keys {
				if _, ok := cur.lookup(k); !ok {
					return fail(k, "does not exist at this step")
				}
			}
			keys = op.Keys

		case KindAggregate:
			if len(op.Aggregates) == 0 {
				return fail("", "aggregate needs at least one output")
			}
			next := &columnSet{types: map[string]profile.Type{}}
			for _, k := range keys {
				t, _ := cur.lookup(k)
				next.add(k, t)
			}
			for _, a := range op.Aggregates {
				if err := checkAggregation(a, cur, next, fail); err != nil {
					return err
				}
			}
			cur = next
			aggregated = true

		case KindDerive:
			d := op.Derive
			if d == nil {
				return fail("", "missing derivation")
			}
			if d.Kind != intent.CompareRatio && d.Kind != intent.CompareDelta {
				return fail("", "unsupported derivation "+string(d.Kind))
			}
			for _, c := range []string{d.Left, d.Right} {
				t, ok := cur.lookup(c)
				if !ok {
					return fail(c, "does not exist at this step")
				}
				if !t.Numeric() {
					return fail(c, "is "+string(t)+" and cannot be derived from")
				}
			}
			if _, clash := cur.lookup(d.Output); clash {
				return fail(d.Output, "already exists")
			}
			cur.add(d.Output, profile.TypeFloat)

		case KindSort:
			s := op.Sort
			if s == nil {
				return fail("", "missing sort")
			}
			if _, ok := cur.lookup(s.Key); !ok {
				reason := "does not exist at this step"
				if aggregated && schema.Has(s.Key) {
					reason = "was dropped by the aggregate step"
				}
				return fail(s.Key, reason)
			}
			if s.Direction != intent.Asc && s.Direction != intent.Desc {
				return fail(s.Key, "has unsupported sort direction "+string(s.Direction))
			}
			if s.Limit < 0 {
				return fail(s.Key, "has a negative limit")
			}
		}
	}
	if !aggregated {
		return &ValidationError{Step: len(p.Operations), Op: KindAggregate, Reason: "plan has no aggregate step"}
	}
	return nil
}

var rank = map[Kind]int{
	KindFilter:    0,
	KindGroup:     1,
	KindAggregate: 2,
	KindDerive:    3,
	KindSort:      4,
}

func checkAggregation(a Aggregation, cur, next *columnSet, fail func(string, string) error) error {
	inputs := []string{a.Column}
	switch a.Func {
	case intent.AggCount:
		if a.Column == "" {
			inputs = nil
		}
	case intent.AggSum, intent.AggAvg:
		if a.Column == "" {
			return fail(a.Output, string(a.Func)+" needs an input column")
		}
	case intent.AggRatio:
		if a.Column == "" || a.Denominator == "" {
			return fail(a.Output, "ratio needs column and denominator")
		}
		inputs = append(inputs, a.Denominator)
	default:
		return fail(a.Output, "uses unsupported aggregation "+string(a.Func))
	}
	for _, c := range inputs {
		t, ok := cur.lookup(c)
		if !ok {
			return fail(c, "does not exist at this step")
		}
		if a.Func != intent.AggCount && !t.Numeric() && t != profile.TypeBoolean {
			return fail(c, "is "+string(t)+" and cannot be aggregated with "+string(a.Func))
		}
	}
	if _, clash := next.lookup(a.Output); clash {
		return fail(a.Output, "is produced twice")
	}
	typ := profile.TypeFloat
	if a.Func == intent.AggCount {
		typ = profile.TypeInteger
	}
	next.add(a.Output, typ)
	return nil
}
