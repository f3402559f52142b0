// Package intent turns a natural-language question into a validated,
// structured analysis intent. The completion service proposes an intent as
// JSON; nothing leaves this package until it has passed the JSON Schema
// grammar and a semantic check against the live SchemaSummary.
package intent

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/KaramelBytes/insightloom-cli/internal/profile"
)

// Agg is an aggregation function.
type Agg string

const (
	AggSum   Agg = "sum"
	AggAvg   Agg = "avg"
	AggCount Agg = "count"
	AggRatio Agg = "ratio"
)

// Op is a filter predicate operator.
type Op string

const (
	OpEq      Op = "eq"
	OpNe      Op = "ne"
	OpGt      Op = "gt"
	OpGte     Op = "gte"
	OpLt      Op = "lt"
	OpLte     Op = "lte"
	OpIn      Op = "in"
	OpIsNull  Op = "is_null"
	OpNotNull Op = "not_null"
)

// Direction orders a sort.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Comparison asks for a derived column over the first two metrics.
type Comparison string

const (
	CompareNone  Comparison = "none"
	CompareRatio Comparison = "ratio"
	CompareDelta Comparison = "delta"
)

var (
	aggs        = []Agg{AggSum, AggAvg, AggCount, AggRatio}
	ops         = []Op{OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpIsNull, OpNotNull}
	directions  = []Direction{Asc, Desc}
	comparisons = []Comparison{CompareNone, CompareRatio, CompareDelta}
)

// Metric is one aggregate the question asks for.
type Metric struct {
	Agg         Agg    `json:"agg" jsonschema:"aggregation function"`
	Column      string `json:"column,omitempty" jsonschema:"column to aggregate; omit for a plain row count"`
	Denominator string `json:"denominator,omitempty" jsonschema:"denominator column, required for ratio"`
}

// Output is the name of the column this metric produces, e.g. avg_length_of_stay.
func (m Metric) Output() string {
	switch m.Agg {
	case AggCount:
		if m.Column == "" {
			return "count"
		}
		return "count_" + Ident(m.Column)
	case AggRatio:
		return "ratio_" + Ident(m.Column) + "_per_" + Ident(m.Denominator)
	}
	return string(m.Agg) + "_" + Ident(m.Column)
}

// Filter is a row predicate applied before grouping.
type Filter struct {
	Column string `json:"column" jsonschema:"column the predicate tests"`
	Op     Op     `json:"op" jsonschema:"predicate operator"`
	Value  any    `json:"value,omitempty" jsonschema:"comparison value for eq, ne, gt, gte, lt, lte"`
	Values []any  `json:"values,omitempty" jsonschema:"candidate values for in"`
}

// SortSpec orders the result.
type SortSpec struct {
	Key       string    `json:"key" jsonschema:"metric output name or group-by column"`
	Direction Direction `json:"direction,omitempty" jsonschema:"asc or desc; defaults to desc"`
	Limit     int       `json:"limit,omitempty" jsonschema:"keep only the first N rows"`
}

// Intent is the structured form of a question.
type Intent struct {
	Metrics    []Metric   `json:"metrics" jsonschema:"at least one aggregate to compute"`
	GroupBy    []string   `json:"group_by,omitempty" jsonschema:"columns to group by"`
	Filters    []Filter   `json:"filters,omitempty" jsonschema:"row predicates applied before grouping"`
	Sort       *SortSpec  `json:"sort,omitempty" jsonschema:"ordering of the result"`
	Comparison Comparison `json:"comparison,omitempty" jsonschema:"derive ratio or delta of the first two metrics"`
	Paraphrase string     `json:"paraphrase,omitempty" jsonschema:"one-sentence restatement of the question"`
}

// Primary is the output name of the first metric.
func (in *Intent) Primary() string {
	if len(in.Metrics) == 0 {
		return ""
	}
	return in.Metrics[0].Output()
}

// Outputs lists metric output names in order.
func (in *Intent) Outputs() []string {
	out := make([]string, len(in.Metrics))
	for i, m := range in.Metrics {
		out[i] = m.Output()
	}
	return out
}

// Columns returns every schema column the intent references, deduplicated.
func (in *Intent) Columns() []string {
	seen := map[string]bool{}
	var out []string
	add := func(c string) {
		if c != "" && !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	for _, m := range in.Metrics {
		add(m.Column)
		add(m.Denominator)
	}
	for _, g := range in.GroupBy {
		add(g)
	}
	for _, f := range in.Filters {
		add(f.Column)
	}
	return out
}

// Validate checks every reference and operator against schema. It returns
// all problems joined, or nil.
func (in *Intent) Validate(schema *profile.SchemaSummary) error {
	var errs []error
	reject := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }
	column := func(where, name string) (profile.ColumnProfile, bool) {
		c, ok := schema.Column(name)
		if !ok {
			reject("%s references unknown column %q", where, name)
		}
		return c, ok
	}

	if len(in.Metrics) == 0 {
		reject("at least one metric is required")
	}
	outputs := map[string]bool{}
	for i, m := range in.Metrics {
		where := fmt.Sprintf("metrics[%d]", i)
		if !contains(aggs, m.Agg) {
			reject("%s uses unsupported aggregation %q", where, m.Agg)
			continue
		}
		switch m.Agg {
		case AggCount:
			if m.Column != "" {
				column(where, m.Column)
			}
		case AggSum, AggAvg:
			if m.Column == "" {
				reject("%s: %s needs a column", where, m.Agg)
			} else if c, ok := column(where, m.Column); ok && !summable(c.Type) {
				reject("%s: cannot %s %s column %q", where, m.Agg, c.Type, m.Column)
			}
		case AggRatio:
			if m.Column == "" || m.Denominator == "" {
				reject("%s: ratio needs column and denominator", where)
				break
			}
			for _, name := range []string{m.Column, m.Denominator} {
				if c, ok := column(where, name); ok && !summable(c.Type) {
					reject("%s: ratio over %s column %q", where, c.Type, name)
				}
			}
		}
		if m.Agg != AggRatio && m.Denominator != "" {
			reject("%s: denominator is only valid for ratio", where)
		}
		outputs[m.Output()] = true
	}

	for i, g := range in.GroupBy {
		column(fmt.Sprintf("group_by[%d]", i), g)
	}

	for i, f := range in.Filters {
		where := fmt.Sprintf("filters[%d]", i)
		c, ok := column(where, f.Column)
		switch {
		case !contains(ops, f.Op):
			reject("%s uses unsupported operator %q", where, f.Op)
		case f.Op == OpIn:
			if len(f.Values) == 0 {
				reject("%s: in needs a non-empty values list", where)
			}
		case f.Op == OpIsNull || f.Op == OpNotNull:
			if f.Value != nil || len(f.Values) > 0 {
				reject("%s: %s takes no value", where, f.Op)
			}
		default:
			if f.Value == nil {
				reject("%s: %s needs a value", where, f.Op)
			}
			ordered := f.Op == OpGt || f.Op == OpGte || f.Op == OpLt || f.Op == OpLte
			if ok && ordered && !(c.Type.Numeric() || c.Type == profile.TypeDatetime) {
				reject("%s: %s on %s column %q", where, f.Op, c.Type, f.Column)
			}
		}
	}

	if in.Sort != nil {
		if in.Sort.Key != "" && !outputs[in.Sort.Key] && !schema.Has(in.Sort.Key) {
			reject("sort references unknown key %q (use a metric output: %s)", in.Sort.Key, strings.Join(in.Outputs(), ", "))
		}
		if in.Sort.Direction != "" && !contains(directions, in.Sort.Direction) {
			reject("sort uses unsupported direction %q", in.Sort.Direction)
		}
		if in.Sort.Limit < 0 {
			reject("sort limit must not be negative")
		}
	}

	if in.Comparison != "" && !contains(comparisons, in.Comparison) {
		reject("unsupported comparison %q", in.Comparison)
	}
	if (in.Comparison == CompareRatio || in.Comparison == CompareDelta) && len(in.Metrics) < 2 {
		reject("comparison %s needs at least two metrics", in.Comparison)
	}
	return errors.Join(errs...)
}

// Normalize removes duplicate metrics and group keys and fills defaults.
// With no explicit sort direction the result is ordered descending by the
// primary metric.
func (in *Intent) Normalize() {
	seenOut := map[string]bool{}
	metrics := in.Metrics[:0:0]
	for _, m := range in.Metrics {
		if !seenOut[m.Output()] {
			seenOut[m.Output()] = true
			metrics = append(metrics, m)
		}
	}
	in.Metrics = metrics

	seen := map[string]bool{}
	keys := in.GroupBy[:0:0]
	for _, g := range in.GroupBy {
		if !seen[g] {
			seen[g] = true
			keys = append(keys, g)
		}
	}
	in.GroupBy = keys

	if in.Comparison == "" {
		in.Comparison = CompareNone
	}
	if in.Sort == nil {
		in.Sort = &SortSpec{}
	}
	if in.Sort.Key == "" {
		in.Sort.Key = in.Primary()
	}
	if in.Sort.Direction == "" {
		in.Sort.Direction = Desc
	}
}

func summable(t profile.Type) bool { return t.Numeric() || t == profile.TypeBoolean }

func contains[T comparable](set []T, v T) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Ident turns a column name into an identifier fragment: runs of characters
// other than letters, digits and underscore collapse to one underscore.
func Ident(name string) string {
	var b strings.Builder
	pending := false
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	if b.Len() == 0 {
		return "col"
	}
	return b.String()
}
