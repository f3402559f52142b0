package executor

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/insightloom-cli/internal/dataset"
	"github.com/KaramelBytes/insightloom-cli/internal/dataset/datasettest"
	"github.com/KaramelBytes/insightloom-cli/internal/intent"
	"github.com/KaramelBytes/insightloom-cli/internal/plan"
	"github.com/KaramelBytes/insightloom-cli/internal/profile"
)

func synthesize(t *testing.T, d *dataset.Dataset, in intent.Intent) *plan.Plan {
	t.Helper()
	s, err := profile.NewProfiler(profile.Options{}).Profile(d)
	require.NoError(t, err)
	require.NoError(t, in.Validate(s))
	in.Normalize()
	p, err := plan.Synthesize(&in, s)
	require.NoError(t, err)
	return p
}

func TestAverageStayByReadmission(t *testing.T) {
	d := datasettest.Stays(t)
	p := synthesize(t, d, intent.Intent{
		Metrics: []intent.Metric{{Agg: intent.AggAvg, Column: "length_of_stay"}},
		GroupBy: []string{"readmitted"},
	})
	table, err := New(Options{}).Execute(p, d)
	require.NoError(t, err)

	assert.Equal(t, []string{"readmitted", "avg_length_of_stay"}, table.Columns())
	assert.Equal(t, [][]dataset.Value{{true, 5.0}, {false, 3.0}}, table.Rows())
	assert.Equal(t, 2, table.RowsAnalyzed())
	assert.Equal(t, 2, table.ColumnsAnalyzed())
	assert.Equal(t, 5, table.SourceRows())

	h := table.Highlights()
	require.NotNil(t, h)
	assert.Equal(t, "avg_length_of_stay", h.Metric)
	assert.Equal(t, Extreme{Label: "readmitted=true", Value: 5}, h.Highest)
	assert.Equal(t, Extreme{Label: "readmitted=false", Value: 3}, h.Lowest)
	assert.InDelta(t, 2.0, h.Spread, 1e-9)
	require.NotNil(t, h.Ratio)
	assert.InDelta(t, 5.0/3.0, *h.Ratio, 1e-9)
	require.NotNil(t, h.PercentAbove)
	assert.InDelta(t, 66.6667, *h.PercentAbove, 1e-3)
	assert.Contains(t, h.Markdown(), "- highest avg_length_of_stay: 5 (readmitted=true)")
}

func TestExecuteIsDeterministic(t *testing.T) {
	d := datasettest.Patients(t)
	p := synthesize(t, d, intent.Intent{
		Metrics:    []intent.Metric{{Agg: intent.AggSum, Column: "cost"}, {Agg: intent.AggAvg, Column: "length_of_stay"}},
		GroupBy:    []string{"ward", "readmitted"},
		Comparison: intent.CompareRatio,
	})
	e := New(Options{})
	a, err := e.Execute(p, d)
	require.NoError(t, err)
	b, err := e.Execute(p, d)
	require.NoError(t, err)
	if diff := cmp.Diff(a.Rows(), b.Rows()); diff != "" {
		t.Fatalf("rows differ (-a +b):\n%s", diff)
	}
	assert.Equal(t, a.Columns(), b.Columns())
	assert.Equal(t, a.DroppedRows(), b.DroppedRows())
}

func TestFilterGroupSortLimit(t *testing.T) {
	d := datasettest.Patients(t)
	p := synthesize(t, d, intent.Intent{
		Metrics: []intent.Metric{{Agg: intent.AggCount}, {Agg: intent.AggSum, Column: "cost"}},
		GroupBy: []string{"ward"},
		Filters: []intent.Filter{{Column: "age", Op: intent.OpGte, Value: 50.0}},
		Sort:    &intent.SortSpec{Key: "sum_cost", Direction: intent.Asc, Limit: 2},
	})
	table, err := New(Options{}).Execute(p, d)
	require.NoError(t, err)

	// age >= 50: north {1200, 900}, south {1500, 1800, 1100}, east {2500}
	assert.Equal(t, []string{"ward", "count", "sum_cost"}, table.Columns())
	assert.Equal(t, [][]dataset.Value{
		{"north", int64(2), 2100.0},
		{"east", int64(1), 2500.0},
	}, table.Rows())
}

func TestGroupsKeepFirstAppearanceOrder(t *testing.T) {
	d := datasettest.Patients(t)
	p := &plan.Plan{Dataset: "patients", Operations: []plan.Operation{
		{Kind: plan.KindGroup, Keys: []string{"ward"}},
		{Kind: plan.KindAggregate, Aggregates: []plan.Aggregation{{Output: "count", Func: intent.AggCount}}},
	}}
	table, err := New(Options{}).Execute(p, d)
	require.NoError(t, err)
	var wards []dataset.Value
	for _, r := range table.Rows() {
		wards = append(wards, r[0])
	}
	assert.Equal(t, []dataset.Value{"north", "south", "east"}, wards)
}

func TestSortPutsNullsLast(t *testing.T) {
	d := datasettest.Must(t, "t", []string{"k", "v"}, [][]dataset.Value{
		{"a", nil}, {"b", 2.0}, {"c", 5.0}, {"d", nil},
	})
	for _, dir := range []intent.Direction{intent.Asc, intent.Desc} {
		p := &plan.Plan{Operations: []plan.Operation{
			{Kind: plan.KindGroup, Keys: []string{"k"}},
			{Kind: plan.KindAggregate, Aggregates: []plan.Aggregation{{Output: "sum_v", Func: intent.AggSum, Column: "v"}}},
			{Kind: plan.KindSort, Sort: &intent.SortSpec{Key: "sum_v", Direction: dir}},
		}}
		table, err := New(Options{}).Execute(p, d)
		require.NoError(t, err)
		rows := table.Rows()
		assert.Nil(t, rows[2][1], dir)
		assert.Nil(t, rows[3][1], dir)
		assert.Equal(t, "a", rows[2][0], "stable among nulls")
	}
}

func TestDivisionByZeroYieldsNull(t *testing.T) {
	d := datasettest.Must(t, "t", []string{"k", "num", "den"}, [][]dataset.Value{
		{"a", 4.0, 2.0},
		{"b", 3.0, 0.0},
		{"c", 1.0, nil},
	})
	p := &plan.Plan{Operations: []plan.Operation{
		{Kind: plan.KindGroup, Keys: []string{"k"}},
		{Kind: plan.KindAggregate, Aggregates: []plan.Aggregation{
			{Output: "sum_num", Func: intent.AggSum, Column: "num"},
			{Output: "sum_den", Func: intent.AggSum, Column: "den"},
			{Output: "ratio_num_per_den", Func: intent.AggRatio, Column: "num", Denominator: "den"},
		}},
		{Kind: plan.KindDerive, Derive: &plan.Derivation{Output: "ratio_sum_num_to_sum_den", Kind: intent.CompareRatio, Left: "sum_num", Right: "sum_den"}},
	}}
	var table *ResultTable
	require.NotPanics(t, func() {
		var err error
		table, err = New(Options{}).Execute(p, d)
		require.NoError(t, err)
	})
	rows := table.Rows()
	assert.Equal(t, 2.0, rows[0][3])
	assert.Equal(t, 2.0, rows[0][4])
	assert.Nil(t, rows[1][3])
	assert.Nil(t, rows[1][4])
	assert.Nil(t, rows[2][3])
	assert.Nil(t, rows[2][4])
	assert.Equal(t, 4, table.DroppedRows())
}

func TestDeltaDerivation(t *testing.T) {
	d := datasettest.Patients(t)
	p := synthesize(t, d, intent.Intent{
		Metrics:    []intent.Metric{{Agg: intent.AggAvg, Column: "cost"}, {Agg: intent.AggAvg, Column: "age"}},
		Comparison: intent.CompareDelta,
	})
	table, err := New(Options{}).Execute(p, d)
	require.NoError(t, err)
	assert.Equal(t, []string{"avg_cost", "avg_age", "delta_avg_cost_to_avg_age"}, table.Columns())
	require.Len(t, table.Rows(), 1)
	v, ok := table.Cell(0, "delta_avg_cost_to_avg_age")
	require.True(t, ok)
	assert.InDelta(t, 1475.0-59.5, v, 1e-9)
	assert.Nil(t, table.Highlights(), "one row has no spread")
}

func TestFilterOperators(t *testing.T) {
	d := datasettest.Patients(t)
	count := func(f intent.Filter) int64 {
		p := &plan.Plan{Operations: []plan.Operation{
			{Kind: plan.KindFilter, Filter: &f},
			{Kind: plan.KindAggregate, Aggregates: []plan.Aggregation{{Output: "count", Func: intent.AggCount}}},
		}}
		table, err := New(Options{}).Execute(p, d)
		require.NoError(t, err)
		v, _ := table.Cell(0, "count")
		return v.(int64)
	}
	assert.Equal(t, int64(3), count(intent.Filter{Column: "ward", Op: intent.OpEq, Value: "North"}))
	assert.Equal(t, int64(5), count(intent.Filter{Column: "ward", Op: intent.OpNe, Value: "north"}))
	assert.Equal(t, int64(4), count(intent.Filter{Column: "readmitted", Op: intent.OpEq, Value: true}))
	assert.Equal(t, int64(4), count(intent.Filter{Column: "readmitted", Op: intent.OpEq, Value: "false"}))
	assert.Equal(t, int64(2), count(intent.Filter{Column: "length_of_stay", Op: intent.OpGt, Value: 5.0}))
	assert.Equal(t, int64(3), count(intent.Filter{Column: "length_of_stay", Op: intent.OpLte, Value: "3.5"}))
	assert.Equal(t, int64(1), count(intent.Filter{Column: "length_of_stay", Op: intent.OpIsNull}))
	assert.Equal(t, int64(7), count(intent.Filter{Column: "length_of_stay", Op: intent.OpNotNull}))
	assert.Equal(t, int64(5), count(intent.Filter{Column: "ward", Op: intent.OpIn, Values: []any{"south", "east"}}))
	assert.Equal(t, int64(3), count(intent.Filter{Column: "admitted", Op: intent.OpLt, Value: "2024-01-04"}))
}

func TestUnknownColumnAtRuntime(t *testing.T) {
	d := datasettest.Patients(t)
	p := &plan.Plan{Operations: []plan.Operation{
		{Kind: plan.KindGroup, Keys: []string{"region"}},
		{Kind: plan.KindAggregate, Aggregates: []plan.Aggregation{{Output: "count", Func: intent.AggCount}}},
	}}
	_, err := New(Options{}).Execute(p, d)
	require.ErrorIs(t, err, ErrExecution)
	var ee *ExecutionError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "region", ee.Column)
	assert.Equal(t, plan.KindGroup, ee.Op)
}

func TestResourceLimits(t *testing.T) {
	d := datasettest.Patients(t)
	p := &plan.Plan{Operations: []plan.Operation{
		{Kind: plan.KindGroup, Keys: []string{"patient_id"}},
		{Kind: plan.KindAggregate, Aggregates: []plan.Aggregation{{Output: "count", Func: intent.AggCount}}},
	}}
	tests := []struct {
		limits   Limits
		resource string
	}{
		{Limits{MaxRows: 5}, "rows"},
		{Limits{MaxColumns: 3}, "columns"},
		{Limits{MaxGroups: 4}, "groups"},
	}
	for _, tt := range tests {
		_, err := New(Options{Limits: tt.limits}).Execute(p, d)
		require.ErrorIs(t, err, ErrResourceLimit)
		var rl *ResourceLimitError
		require.True(t, errors.As(err, &rl))
		assert.Equal(t, tt.resource, rl.Resource)
	}
}

func TestNothingInventsRows(t *testing.T) {
	d := datasettest.Patients(t)
	p := synthesize(t, d, intent.Intent{
		Metrics: []intent.Metric{{Agg: intent.AggAvg, Column: "cost"}},
		GroupBy: []string{"patient_id"},
	})
	table, err := New(Options{}).Execute(p, d)
	require.NoError(t, err)
	assert.LessOrEqual(t, table.RowsAnalyzed(), d.NumRows())
}

func TestTableIsImmutable(t *testing.T) {
	d := datasettest.Stays(t)
	p := synthesize(t, d, intent.Intent{Metrics: []intent.Metric{{Agg: intent.AggCount}}, GroupBy: []string{"readmitted"}})
	table, err := New(Options{}).Execute(p, d)
	require.NoError(t, err)
	rows := table.Rows()
	rows[0][1] = int64(99)
	cols := table.Columns()
	cols[0] = "x"
	assert.NotEqual(t, int64(99), table.Rows()[0][1])
	assert.Equal(t, "readmitted", table.Columns()[0])
}

func TestMarkdownAndJSON(t *testing.T) {
	d := datasettest.Stays(t)
	p := synthesize(t, d, intent.Intent{
		Metrics: []intent.Metric{{Agg: intent.AggAvg, Column: "length_of_stay"}},
		GroupBy: []string{"readmitted"},
	})
	table, err := New(Options{}).Execute(p, d)
	require.NoError(t, err)

	md := table.Markdown(0)
	assert.Contains(t, md, "| readmitted | avg_length_of_stay |")
	assert.Contains(t, md, "| true | 5 |")
	assert.Contains(t, md, "Shape: 2 rows x 2 columns")
	assert.Contains(t, table.Markdown(1), "(1 more rows not shown)")

	data, err := json.Marshal(table)
	require.NoError(t, err)
	var back ResultTable
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, table.Columns(), back.Columns())
	assert.Equal(t, 2, back.RowsAnalyzed())
	assert.Equal(t, table.Highlights(), back.Highlights())
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "3.1667", FormatValue(19.0/6.0))
	assert.Equal(t, "null", FormatValue(nil))
	assert.Equal(t, "12", FormatValue(int64(12)))
}
