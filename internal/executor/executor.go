// Package executor runs an analysis plan over an in-memory dataset. Only the
// aggregate step collapses rows; filters and limited sorts only drop them.
package executor

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/KaramelBytes/insightloom-cli/internal/dataset"
	"github.com/KaramelBytes/insightloom-cli/internal/intent"
	"github.com/KaramelBytes/insightloom-cli/internal/plan"
)

// Limits bound the memory a single execution may use. Zero values take the defaults.
type Limits struct {
	MaxRows    int
	MaxColumns int
	MaxGroups  int
}

const (
	defaultMaxRows    = 1_000_000
	defaultMaxColumns = 500
	defaultMaxGroups  = 10_000
)

type Options struct {
	Limits Limits
	Logger *slog.Logger
}

type Executor struct {
	limits Limits
	log    *slog.Logger
}

func New(opt Options) *Executor {
	l := opt.Limits
	if l.MaxRows <= 0 {
		l.MaxRows = defaultMaxRows
	}
	if l.MaxColumns <= 0 {
		l.MaxColumns = defaultMaxColumns
	}
	if l.MaxGroups <= 0 {
		l.MaxGroups = defaultMaxGroups
	}
	log := opt.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Executor{limits: l, log: log}
}

// frame is the working table between steps.
type frame struct {
	columns []string
	rows    [][]dataset.Value
}

func (f *frame) index(name string) (int, bool) {
	for i, c := range f.columns {
		if c == name {
			return i, true
		}
	}
	return -1, false
}

// Execute applies the plan's operations in order. The dataset is not modified.
func (e *Executor) Execute(p *plan.Plan, d *dataset.Dataset) (*ResultTable, error) {
	if p == nil || d == nil {
		return nil, &ExecutionError{Reason: "plan and dataset are required"}
	}
	if d.NumRows() > e.limits.MaxRows {
		return nil, &ResourceLimitError{Resource: "rows", Limit: e.limits.MaxRows, Actual: d.NumRows()}
	}
	if d.NumColumns() > e.limits.MaxColumns {
		return nil, &ResourceLimitError{Resource: "columns", Limit: e.limits.MaxColumns, Actual: d.NumColumns()}
	}

	f := &frame{columns: d.Columns(), rows: make([][]dataset.Value, d.NumRows())}
	for i := range f.rows {
		f.rows[i] = d.Row(i)
	}
	run := &execution{limits: e.limits}
	for i, op := range p.Operations {
		before := len(f.rows)
		var err error
		f, err = run.apply(i, op, f)
		if err != nil {
			return nil, err
		}
		e.log.Debug("executor: step", "step", i+1, "op", op.Kind, "rows_in", before, "rows_out", len(f.rows))
	}
	if !run.aggregated {
		return nil, &ExecutionError{Step: len(p.Operations), Op: plan.KindAggregate, Reason: "plan has no aggregate step"}
	}

	t := &ResultTable{columns: f.columns, rows: f.rows, dropped: run.dropped, sourceRows: d.NumRows()}
	t.highlights = highlights(f, run.primary, run.keys)
	return t, nil
}

type execution struct {
	limits     Limits
	keys       []string
	primary    string
	aggregated bool
	dropped    int
}

func (x *execution) apply(step int, op plan.Operation, f *frame) (*frame, error) {
	fail := func(column, reason string) error {
		return &ExecutionError{Step: step, Op: op.Kind, Column: column, Reason: reason}
	}
	switch op.Kind {
	case plan.KindFilter:
		if op.Filter == nil {
			return nil, fail("", "missing filter")
		}
		j, ok := f.index(op.Filter.Column)
		if !ok {
			return nil, fail(op.Filter.Column, "not found")
		}
		pred, err := predicate(*op.Filter)
		if err != nil {
			return nil, &ExecutionError{Step: step, Op: op.Kind, Column: op.Filter.Column, Reason: "invalid filter", Err: err}
		}
		out := f.rows[:0:0]
		for _, r := range f.rows {
			if pred(r[j]) {
				out = append(out, r)
			}
		}
		return &frame{columns: f.columns, rows: out}, nil

	case plan.KindGroup:
		for _, k := range op.Keys {
			if _, ok := f.index(k); !ok {
				return nil, fail(k, "not found")
			}
		}
		x.keys = append([]string(nil), op.Keys...)
		return f, nil

	case plan.KindAggregate:
		out, err := x.aggregate(f, op.Aggregates, fail)
		if err != nil {
			return nil, err
		}
		x.aggregated = true
		if len(op.Aggregates) > 0 {
			x.primary = op.Aggregates[0].Output
		}
		return out, nil

	case plan.KindDerive:
		if op.Derive == nil {
			return nil, fail("", "missing derivation")
		}
		return x.derive(f, *op.Derive, fail)

	case plan.KindSort:
		if op.Sort == nil {
			return nil, fail("", "missing sort")
		}
		j, ok := f.index(op.Sort.Key)
		if !ok {
			return nil, fail(op.Sort.Key, "not found")
		}
		rows := append([][]dataset.Value(nil), f.rows...)
		desc := op.Sort.Direction == intent.Desc
		sort.SliceStable(rows, func(a, b int) bool {
			return less(rows[a][j], rows[b][j], desc)
		})
		if op.Sort.Limit > 0 && len(rows) > op.Sort.Limit {
			rows = rows[:op.Sort.Limit]
		}
		return &frame{columns: f.columns, rows: rows}, nil
	}
	return nil, fail("", "unknown operation")
}

type group struct {
	key  []dataset.Value
	rows [][]dataset.Value
}

func (x *execution) aggregate(f *frame, aggs []plan.Aggregation, fail func(string, string) error) (*frame, error) {
	if len(aggs) == 0 {
		return nil, fail("", "aggregate needs at least one output")
	}
	keyIdx := make([]int, len(x.keys))
	for i, k := range x.keys {
		j, ok := f.index(k)
		if !ok {
			return nil, fail(k, "not found")
		}
		keyIdx[i] = j
	}

	var groups []*group
	if len(keyIdx) == 0 {
		groups = []*group{{rows: f.rows}}
	} else {
		byKey := map[string]*group{}
		for _, r := range f.rows {
			parts := make([]string, len(keyIdx))
			for i, j := range keyIdx {
				parts[i] = dataset.Key(r[j])
			}
			k := strings.Join(parts, "\x1f")
			g, ok := byKey[k]
			if !ok {
				if len(groups) >= x.limits.MaxGroups {
					return nil, &ResourceLimitError{Resource: "groups", Limit: x.limits.MaxGroups, Actual: len(groups) + 1}
				}
				key := make([]dataset.Value, len(keyIdx))
				for i, j := range keyIdx {
					key[i] = r[j]
				}
				g = &group{key: key}
				byKey[k] = g
				groups = append(groups, g)
			}
			g.rows = append(g.rows, r)
		}
	}

	type input struct{ col, den int }
	inputs := make([]input, len(aggs))
	for i, a := range aggs {
		in := input{col: -1, den: -1}
		if a.Column != "" {
			j, ok := f.index(a.Column)
			if !ok {
				return nil, fail(a.Column, "not found")
			}
			in.col = j
		}
		if a.Func == intent.AggRatio {
			j, ok := f.index(a.Denominator)
			if !ok {
				return nil, fail(a.Denominator, "not found")
			}
			in.den = j
		}
		if in.col < 0 && a.Func != intent.AggCount {
			return nil, fail(a.Output, string(a.Func)+" needs an input column")
		}
		inputs[i] = in
	}

	cols := append([]string(nil), x.keys...)
	for _, a := range aggs {
		cols = append(cols, a.Output)
	}
	out := &frame{columns: cols, rows: make([][]dataset.Value, 0, len(groups))}
	for _, g := range groups {
		row := append([]dataset.Value(nil), g.key...)
		for i, a := range aggs {
			v, dropped := reduce(a.Func, g.rows, inputs[i].col, inputs[i].den)
			if dropped {
				x.dropped++
			}
			row = append(row, v)
		}
		out.rows = append(out.rows, row)
	}
	return out, nil
}

// reduce computes one aggregate over a group. dropped reports a ratio whose
// denominator was zero or missing.
func reduce(fn intent.Agg, rows [][]dataset.Value, col, den int) (dataset.Value, bool) {
	switch fn {
	case intent.AggCount:
		if col < 0 {
			return int64(len(rows)), false
		}
		var n int64
		for _, r := range rows {
			if r[col] != nil {
				n++
			}
		}
		return n, false
	case intent.AggSum:
		s, n := sum(rows, col)
		if n == 0 {
			return nil, false
		}
		return s, false
	case intent.AggAvg:
		s, n := sum(rows, col)
		if n == 0 {
			return nil, false
		}
		return s / float64(n), false
	case intent.AggRatio:
		num, nn := sum(rows, col)
		d, dn := sum(rows, den)
		if nn == 0 || dn == 0 || d == 0 {
			return nil, true
		}
		return num / d, false
	}
	return nil, false
}

func sum(rows [][]dataset.Value, col int) (float64, int) {
	var s float64
	var n int
	for _, r := range rows {
		if x, ok := dataset.Float(r[col]); ok {
			s += x
			n++
		}
	}
	return s, n
}

func (x *execution) derive(f *frame, d plan.Derivation, fail func(string, string) error) (*frame, error) {
	l, ok := f.index(d.Left)
	if !ok {
		return nil, fail(d.Left, "not found")
	}
	r, ok := f.index(d.Right)
	if !ok {
		return nil, fail(d.Right, "not found")
	}
	if _, clash := f.index(d.Output); clash {
		return nil, fail(d.Output, "already exists")
	}
	out := &frame{columns: append(append([]string(nil), f.columns...), d.Output), rows: make([][]dataset.Value, len(f.rows))}
	for i, row := range f.rows {
		a, aok := dataset.Float(row[l])
		b, bok := dataset.Float(row[r])
		var v dataset.Value
		switch {
		case !aok || !bok:
			x.dropped++
		case d.Kind == intent.CompareRatio && b == 0:
			x.dropped++
		case d.Kind == intent.CompareRatio:
			v = a / b
		default:
			v = a - b
		}
		out.rows[i] = append(append([]dataset.Value(nil), row...), v)
	}
	return out, nil
}

// less orders nulls last in either direction.
func less(a, b dataset.Value, desc bool) bool {
	if a == nil || b == nil {
		return a != nil && b == nil
	}
	c := compare(a, b)
	if desc {
		return c > 0
	}
	return c < 0
}

// compare orders numbers numerically, times chronologically, and everything
// else by formatted text.
func compare(a, b dataset.Value) int {
	if x, ok := number(a); ok {
		if y, ok := number(b); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	}
	if x, ok := a.(time.Time); ok {
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	}
	return strings.Compare(dataset.Format(a), dataset.Format(b))
}

func number(v dataset.Value) (float64, bool) {
	switch v.(type) {
	case int64, float64:
		x, _ := dataset.Float(v)
		return x, !math.IsNaN(x)
	}
	return 0, false
}

func highlights(f *frame, metric string, keys []string) *Highlights {
	j, ok := f.index(metric)
	if !ok {
		return nil
	}
	var h *Highlights
	n := 0
	for _, r := range f.rows {
		x, ok := number(r[j])
		if !ok {
			continue
		}
		n++
		label := rowLabel(f, r, keys)
		if h == nil {
			h = &Highlights{Metric: metric, Highest: Extreme{label, x}, Lowest: Extreme{label, x}}
			continue
		}
		if x > h.Highest.Value {
			h.Highest = Extreme{label, x}
		}
		if x < h.Lowest.Value {
			h.Lowest = Extreme{label, x}
		}
	}
	if n < 2 {
		return nil
	}
	h.Spread = h.Highest.Value - h.Lowest.Value
	if h.Lowest.Value != 0 {
		r := h.Highest.Value / h.Lowest.Value
		pct := (r - 1) * 100
		h.Ratio, h.PercentAbove = &r, &pct
	}
	return h
}

func rowLabel(f *frame, r []dataset.Value, keys []string) string {
	if len(keys) == 0 {
		return "all rows"
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		j, _ := f.index(k)
		parts = append(parts, fmt.Sprintf("%s=%s", k, FormatValue(r[j])))
	}
	return strings.Join(parts, ", ")
}
