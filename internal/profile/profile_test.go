package profile

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/insightloom-cli/internal/dataset"
)

func patients(t *testing.T) *dataset.Dataset {
	t.Helper()
	day := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }
	d, err := dataset.New("patients",
		[]string{"id", "length_of_stay", "readmitted", "admitted", "ward", "empty"},
		[][]dataset.Value{
			{int64(1), int64(3), true, day(1), "north", nil},
			{int64(2), 4.5, false, day(2), "south", nil},
			{int64(3), nil, true, day(3), "north", nil},
			{int64(4), int64(6), false, day(4), "east", nil},
		})
	require.NoError(t, err)
	return d
}

func TestProfileInfersTypes(t *testing.T) {
	s, err := NewProfiler(Options{}).Profile(patients(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "length_of_stay", "readmitted", "admitted", "ward", "empty"}, s.Names())
	want := map[string]Type{
		"id":             TypeInteger,
		"length_of_stay": TypeFloat,
		"readmitted":     TypeBoolean,
		"admitted":       TypeDatetime,
		"ward":           TypeString,
		"empty":          TypeString,
	}
	for name, typ := range want {
		c, ok := s.Column(name)
		require.True(t, ok, name)
		assert.Equal(t, typ, c.Type, name)
	}
	assert.Equal(t, 4, s.Rows)
	assert.NotEmpty(t, s.Fingerprint)
}

func TestProfileStats(t *testing.T) {
	s, err := NewProfiler(Options{MaxExamples: 2}).Profile(patients(t))
	require.NoError(t, err)

	los, _ := s.Column("length_of_stay")
	assert.InDelta(t, 0.25, los.NullRate, 1e-9)
	assert.Equal(t, 3, los.Distinct)
	require.NotNil(t, los.Min)
	assert.Equal(t, 3.0, *los.Min)
	assert.Equal(t, 6.0, *los.Max)
	assert.InDelta(t, 4.5, *los.Mean, 1e-9)

	ward, _ := s.Column("ward")
	assert.Equal(t, 3, ward.Distinct)
	assert.Equal(t, []string{"north", "south"}, ward.Examples)
	assert.Nil(t, ward.Min)

	empty, _ := s.Column("empty")
	assert.Equal(t, 1.0, empty.NullRate)
	assert.Equal(t, 0, empty.Distinct)
}

func TestInferTypeHonorsSample(t *testing.T) {
	d, err := dataset.New("s", []string{"v"}, [][]dataset.Value{{int64(1)}, {int64(2)}, {"x"}})
	require.NoError(t, err)

	s, err := NewProfiler(Options{SampleRows: 2}).Profile(d)
	require.NoError(t, err)
	assert.Equal(t, TypeInteger, s.Columns[0].Type)

	s, err = NewProfiler(Options{SampleRows: 3}).Profile(d)
	require.NoError(t, err)
	assert.Equal(t, TypeString, s.Columns[0].Type)
}

func TestProfileEmptyDataset(t *testing.T) {
	noRows, err := dataset.New("none", []string{"a"}, nil)
	require.NoError(t, err)
	noCols, err := dataset.New("none", nil, nil)
	require.NoError(t, err)

	for _, d := range []*dataset.Dataset{noRows, noCols} {
		_, err := NewProfiler(Options{}).Profile(d)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrEmptyDataset))
		var ee *EmptyDatasetError
		require.True(t, errors.As(err, &ee))
		assert.Equal(t, "none", ee.Dataset)
	}
}

func TestMarkdownAndDictionary(t *testing.T) {
	s, err := NewProfiler(Options{}).Profile(patients(t))
	require.NoError(t, err)

	md := s.Markdown()
	assert.True(t, strings.HasPrefix(md, "[DATASET SUMMARY]\n"))
	assert.Contains(t, md, "[SCHEMA]\n")
	assert.Contains(t, md, "- length_of_stay: float (distinct 3, missing 25.0%) min 3, max 6, mean 4.5")
	assert.Contains(t, md, "- readmitted: boolean")

	dict := s.Dictionary()
	require.Len(t, dict, 6)
	assert.Equal(t, "numeric measure ranging 3 to 6, 25% missing", dict[1].Description)
	assert.Equal(t, "yes/no flag", dict[2].Description)
	assert.Equal(t, "category with 3 values", dict[4].Description)
}

func TestWithDescriptions(t *testing.T) {
	s, err := NewProfiler(Options{}).Profile(patients(t))
	require.NoError(t, err)

	d := s.WithDescriptions(map[string]string{
		"length_of_stay": " Nights in hospital ",
		"ward":           "",
		"missing":        "not a column",
	})
	dict := d.Dictionary()
	assert.Equal(t, "Nights in hospital", dict[1].Description)
	assert.Equal(t, "category with 3 values", dict[4].Description)
	assert.Contains(t, d.Markdown(), "; meaning: Nights in hospital")
	assert.NotContains(t, d.Markdown(), "not a column")

	again := d.WithDescriptions(map[string]string{"ward": "Hospital ward"})
	assert.Equal(t, "Nights in hospital", again.Dictionary()[1].Description)
	assert.Equal(t, "Hospital ward", again.Dictionary()[4].Description)

	// the receiver is never changed
	assert.NotContains(t, s.Markdown(), "meaning:")
	assert.Equal(t, "category with 3 values", d.Dictionary()[4].Description)
}

func TestCacheHitAndInvalidate(t *testing.T) {
	cache := NewCache(time.Minute)
	p := NewProfiler(Options{Cache: cache})
	d := patients(t)

	first, err := p.Profile(d)
	require.NoError(t, err)
	second, err := p.Profile(d)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, cache.Len())

	cache.Invalidate(d.Fingerprint())
	third, err := p.Profile(d)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, first.Columns, third.Columns)
}

func TestCacheHitKeepsDatasetName(t *testing.T) {
	cache := NewCache(time.Minute)
	p := NewProfiler(Options{Cache: cache})
	d := patients(t)
	twin, err := dataset.New("patients_copy", d.Columns(), rowsOf(d))
	require.NoError(t, err)
	require.Equal(t, d.Fingerprint(), twin.Fingerprint())

	first, err := p.Profile(d)
	require.NoError(t, err)
	second, err := p.Profile(twin)
	require.NoError(t, err)
	assert.Equal(t, d.Name(), first.Dataset)
	assert.Equal(t, "patients_copy", second.Dataset)
	assert.Equal(t, first.Columns, second.Columns)
	assert.Equal(t, 1, cache.Len())

	again, err := p.Profile(d)
	require.NoError(t, err)
	assert.Same(t, first, again)
}

func rowsOf(d *dataset.Dataset) [][]dataset.Value {
	out := make([][]dataset.Value, d.NumRows())
	for i := range out {
		out[i] = d.Row(i)
	}
	return out
}
