// Package plan lowers an analysis intent into an ordered, type-checked list
// of table operations. Lowering is deterministic and has no side effects.
package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/KaramelBytes/insightloom-cli/internal/intent"
	"github.com/KaramelBytes/insightloom-cli/internal/profile"
	"github.com/KaramelBytes/insightloom-cli/internal/utils"
)

// Kind names an operation.
type Kind string

const (
	KindFilter    Kind = "filter"
	KindGroup     Kind = "group"
	KindAggregate Kind = "aggregate"
	KindDerive    Kind = "derive"
	KindSort      Kind = "sort"
)

// Aggregation computes one output column per group.
type Aggregation struct {
	Output      string     `json:"output"`
	Func        intent.Agg `json:"func"`
	Column      string     `json:"column,omitempty"`
	Denominator string     `json:"denominator,omitempty"`
}

// Derivation adds a column computed from two existing numeric columns.
type Derivation struct {
	Output string            `json:"output"`
	Kind   intent.Comparison `json:"kind"`
	Left   string            `json:"left"`
	Right  string            `json:"right"`
}

// Operation is one step. Exactly one payload field is set, matching Kind.
type Operation struct {
	Kind       Kind             `json:"op"`
	Filter     *intent.Filter   `json:"filter,omitempty"`
	Keys       []string         `json:"keys,omitempty"`
	Aggregates []Aggregation    `json:"aggregates,omitempty"`
	Derive     *Derivation      `json:"derive,omitempty"`
	Sort       *intent.SortSpec `json:"sort,omitempty"`
}

// Plan is an executable analysis over one dataset.
type Plan struct {
	Dataset    string      `json:"dataset"`
	Operations []Operation `json:"operations"`
}

// ErrPlanValidation matches any *ValidationError.
var ErrPlanValidation = errors.New("plan validation failed")

// ValidationError names the first operation that does not type-check
// against the columns produced by the operations before it.
type ValidationError struct {
	Step   int
	Op     Kind
	Column string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("plan step %d (%s): column %q %s", e.Step+1, e.Op, e.Column, e.Reason)
	}
	return fmt.Sprintf("plan step %d (%s): %s", e.Step+1, e.Op, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrPlanValidation }

// Synthesize lowers in into a plan and checks it against schema.
func Synthesize(in *intent.Intent, schema *profile.SchemaSummary) (*Plan, error) {
	if in == nil || len(in.Metrics) == 0 {
		return nil, &ValidationError{Op: KindAggregate, Reason: "intent has no metrics"}
	}
	p := &Plan{Dataset: schema.Dataset}
	for i := range in.Filters {
		f := in.Filters[i]
		p.Operations = append(p.Operations, Operation{Kind: KindFilter, Filter: &f})
	}
	if len(in.GroupBy) > 0 {
		p.Operations = append(p.Operations, Operation{Kind: KindGroup, Keys: append([]string(nil), in.GroupBy...)})
	}
	aggs := make([]Aggregation, len(in.Metrics))
	for i, m := range in.Metrics {
		aggs[i] = Aggregation{Output: m.Output(), Func: m.Agg, Column: m.Column, Denominator: m.Denominator}
	}
	p.Operations = append(p.Operations, Operation{Kind: KindAggregate, Aggregates: aggs})

	if in.Comparison == intent.CompareRatio || in.Comparison == intent.CompareDelta {
		if len(aggs) >= 2 {
			a, b := aggs[0].Output, aggs[1].Output
			p.Operations = append(p.Operations, Operation{Kind: KindDerive, Derive: &Derivation{
				Output: string(in.Comparison) + "_" + a + "_to_" + b,
				Kind:   in.Comparison,
				Left:   a,
				Right:  b,
			}})
		}
	}
	if in.Sort != nil && in.Sort.Key != "" {
		s := *in.Sort
		if s.Direction == "" {
			s.Direction = intent.Desc
		}
		p.Operations = append(p.Operations, Operation{Kind: KindSort, Sort: &s})
	}

	if err := Check(p, schema); err != nil {
		return nil, err
	}
	return p, nil
}

// Source renders the plan as a pipe expression for audit output.
func (p *Plan) Source() string {
	parts := []string{fmt.Sprintf("source(%q)", p.Dataset)}
	for _, op := range p.Operations {
		parts = append(parts, op.String())
	}
	return strings.Join(parts, " | ")
}

func (op Operation) String() string {
	switch op.Kind {
	case KindFilter:
		if op.Filter == nil {
			return "filter()"
		}
		return "filter(" + filterExpr(*op.Filter) + ")"
	case KindGroup:
		return "group(" + strings.Join(op.Keys, ", ") + ")"
	case KindAggregate:
		exprs := make([]string, len(op.Aggregates))
		for i, a := range op.Aggregates {
			exprs[i] = a.Output + " = " + aggExpr(a)
		}
		return "aggregate(" + strings.Join(exprs, ", ") + ")"
	case KindDerive:
		if op.Derive == nil {
			return "derive()"
		}
		sym := "/"
		if op.Derive.Kind == intent.CompareDelta {
			sym = "-"
		}
		return fmt.Sprintf("derive(%s = %s %s %s)", op.Derive.Output, op.Derive.Left, sym, op.Derive.Right)
	case KindSort:
		if op.Sort == nil {
			return "sort()"
		}
		s := fmt.Sprintf("sort(%s %s", op.Sort.Key, op.Sort.Direction)
		if op.Sort.Limit > 0 {
			s += fmt.Sprintf(", limit %d", op.Sort.Limit)
		}
		return s + ")"
	}
	return string(op.Kind) + "(?)"
}

func aggExpr(a Aggregation) string {
	switch a.Func {
	case intent.AggCount:
		if a.Column == "" {
			return "count()"
		}
		return "count(" + a.Column + ")"
	case intent.AggRatio:
		return fmt.Sprintf("sum(%s) / sum(%s)", a.Column, a.Denominator)
	}
	return fmt.Sprintf("%s(%s)", a.Func, a.Column)
}

var opSymbols = map[intent.Op]string{
	intent.OpEq:  "==",
	intent.OpNe:  "!=",
	intent.OpGt:  ">",
	intent.OpGte: ">=",
	intent.OpLt:  "<",
	intent.OpLte: "<=",
}

func filterExpr(f intent.Filter) string {
	switch f.Op {
	case intent.OpIsNull:
		return f.Column + " is null"
	case intent.OpNotNull:
		return f.Column + " is not null"
	case intent.OpIn:
		vals := make([]string, len(f.Values))
		for i, v := range f.Values {
			vals[i] = literal(v)
		}
		return f.Column + " in [" + strings.Join(vals, ", ") + "]"
	}
	sym, ok := opSymbols[f.Op]
	if !ok {
		sym = string(f.Op)
	}
	return f.Column + " " + sym + " " + literal(f.Value)
}

func literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return strconv.Quote(x.Format(time.RFC3339))
	}
	return fmt.Sprint(v)
}

// JSON renders the plan as indented JSON.
func (p *Plan) JSON() ([]byte, error) { return utils.PrettyJSON(p) }

// FromJSON decodes a plan saved with JSON.
func FromJSON(data []byte) (*Plan, error) {
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return &p, nil
}
