// Package profile derives a compact SchemaSummary from a dataset. The summary
// grounds every later stage: prompts quote it and validators check column
// references against it.
package profile

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/KaramelBytes/insightloom-cli/internal/dataset"
)

// Type is the inferred kind of a column.
type Type string

const (
	TypeInteger  Type = "integer"
	TypeFloat    Type = "float"
	TypeBoolean  Type = "boolean"
	TypeDatetime Type = "datetime"
	TypeString   Type = "string"
)

// Numeric reports whether values of this type can be summed or averaged.
func (t Type) Numeric() bool { return t == TypeInteger || t == TypeFloat }

// ErrEmptyDataset matches any *EmptyDatasetError.
var ErrEmptyDataset = errors.New("empty dataset")

// EmptyDatasetError is returned when a dataset has no columns or no rows.
type EmptyDatasetError struct {
	Dataset string
	Rows    int
	Columns int
}

func (e *EmptyDatasetError) Error() string {
	return fmt.Sprintf("dataset %q is empty (%d rows, %d columns)", e.Dataset, e.Rows, e.Columns)
}

func (e *EmptyDatasetError) Unwrap() error { return ErrEmptyDataset }

const (
	defaultSampleRows  = 1000
	defaultMaxExamples = 5
)

// Options configures a Profiler. Zero values take the defaults.
type Options struct {
	// SampleRows bounds how many leading rows drive type inference.
	SampleRows  int
	MaxExamples int
	// Cache, when set, memoizes summaries by dataset fingerprint.
	Cache  *Cache
	Logger *slog.Logger
}

type Profiler struct {
	opt Options
	log *slog.Logger
}

func NewProfiler(opt Options) *Profiler {
	if opt.SampleRows <= 0 {
		opt.SampleRows = defaultSampleRows
	}
	if opt.MaxExamples <= 0 {
		opt.MaxExamples = defaultMaxExamples
	}
	log := opt.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Profiler{opt: opt, log: log}
}

// Profile summarizes d. It never modifies the dataset.
func (p *Profiler) Profile(d *dataset.Dataset) (*SchemaSummary, error) {
	if d.NumColumns() == 0 || d.NumRows() == 0 {
		return nil, &EmptyDatasetError{Dataset: d.Name(), Rows: d.NumRows(), Columns: d.NumColumns()}
	}
	fp := d.Fingerprint()
	if p.opt.Cache != nil {
		if s, ok := p.opt.Cache.Get(fp); ok {
			p.log.Debug("profile: cache hit", "dataset", d.Name(), "fingerprint", fp[:12])
			if s.Dataset != d.Name() {
				// same content under another name; column profiles are shared read-only
				c := *s
				c.Dataset = d.Name()
				c.notes = d.Notes()
				return &c, nil
			}
			return s, nil
		}
	}
	start := time.Now()
	cols := d.Columns()
	s := &SchemaSummary{
		Dataset:     d.Name(),
		Fingerprint: fp,
		Rows:        d.NumRows(),
		Columns:     make([]ColumnProfile, len(cols)),
		index:       make(map[string]int, len(cols)),
		notes:       d.Notes(),
	}
	for j, name := range cols {
		s.Columns[j] = p.column(d, j, name)
		s.index[name] = j
	}
	p.log.Debug("profile: computed", "dataset", d.Name(), "rows", s.Rows, "columns", len(cols), "took", time.Since(start))
	if p.opt.Cache != nil {
		p.opt.Cache.Set(fp, s)
	}
	return s, nil
}

func (p *Profiler) column(d *dataset.Dataset, j int, name string) ColumnProfile {
	cp := ColumnProfile{Name: name, Type: inferType(d, j, p.opt.SampleRows)}
	seen := map[string]struct{}{}
	var (
		nulls  int
		n      int
		sum    float64
		lo, hi = math.Inf(1), math.Inf(-1)
	)
	for i := 0; i < d.NumRows(); i++ {
		v := d.Value(i, j)
		if v == nil {
			nulls++
			continue
		}
		k := dataset.Key(v)
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			if len(cp.Examples) < p.opt.MaxExamples {
				cp.Examples = append(cp.Examples, dataset.Format(v))
			}
		}
		if !cp.Type.Numeric() {
			continue
		}
		switch v.(type) {
		case int64, float64:
			x, _ := dataset.Float(v)
			n++
			sum += x
			lo = math.Min(lo, x)
			hi = math.Max(hi, x)
		}
	}
	cp.NullRate = float64(nulls) / float64(d.NumRows())
	cp.Distinct = len(seen)
	if n > 0 {
		mean := sum / float64(n)
		cp.Min, cp.Max, cp.Mean = &lo, &hi, &mean
	}
	return cp
}

// inferType picks the first kind in integer > float > boolean > datetime >
// string that every sampled non-null value satisfies.
func inferType(d *dataset.Dataset, j, sample int) Type {
	limit := min(sample, d.NumRows())
	var ints, floats, bools, times, total int
	for i := 0; i < limit; i++ {
		switch d.Value(i, j).(type) {
		case nil:
			continue
		case int64:
			ints++
		case float64:
			floats++
		case bool:
			bools++
		case time.Time:
			times++
		}
		total++
	}
	switch {
	case total == 0:
		return TypeString
	case ints == total:
		return TypeInteger
	case ints+floats == total:
		return TypeFloat
	case bools == total:
		return TypeBoolean
	case times == total:
		return TypeDatetime
	}
	return TypeString
}
