// Package dataset holds the in-memory tabular representation consumed by the
// analysis pipeline, plus loaders that build it from CSV/TSV and XLSX files.
package dataset

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Value is a single cell. It is one of nil, int64, float64, bool, time.Time or string.
type Value = any

// Dataset is an ordered set of uniquely named columns and the rows that fill them.
// It has no mutating methods; callers must not modify slices returned by Row.
type Dataset struct {
	name    string
	columns []string
	rows    [][]Value
	index   map[string]int
	notes   []ColumnNote
}

// ColumnNote records a conversion performed while loading a column.
type ColumnNote struct {
	Column  string `json:"column"`
	Message string `json:"message"`
}

// ErrInvalidDataset reports a structural problem with the columns or rows.
var ErrInvalidDataset = errors.New("invalid dataset")

// New validates columns and rows and builds a Dataset. Rows are copied.
func New(name string, columns []string, rows [][]Value) (*Dataset, error) {
	idx := make(map[string]int, len(columns))
	cols := make([]string, len(columns))
	for i, c := range columns {
		if strings.TrimSpace(c) == "" {
			return nil, fmt.Errorf("%w: column %d has an empty name", ErrInvalidDataset, i+1)
		}
		if c != strings.TrimSpace(c) {
			return nil, fmt.Errorf("%w: column %q has surrounding whitespace", ErrInvalidDataset, c)
		}
		if _, dup := idx[c]; dup {
			return nil, fmt.Errorf("%w: duplicate column %q", ErrInvalidDataset, c)
		}
		idx[c] = i
		cols[i] = c
	}
	out := make([][]Value, len(rows))
	for i, r := range rows {
		if len(r) != len(cols) {
			return nil, fmt.Errorf("%w: row %d has %d values, want %d", ErrInvalidDataset, i+1, len(r), len(cols))
		}
		for j, v := range r {
			if !validValue(v) {
				return nil, fmt.Errorf("%w: row %d column %q holds unsupported %T", ErrInvalidDataset, i+1, cols[j], v)
			}
		}
		cp := make([]Value, len(r))
		copy(cp, r)
		out[i] = cp
	}
	return &Dataset{name: name, columns: cols, rows: out, index: idx}, nil
}

func validValue(v Value) bool {
	switch v.(type) {
	case nil, int64, float64, bool, time.Time, string:
		return true
	}
	return false
}

func (d *Dataset) Name() string    { return d.name }
func (d *Dataset) NumRows() int    { return len(d.rows) }
func (d *Dataset) NumColumns() int { return len(d.columns) }

// Columns returns a copy of the column names in order.
func (d *Dataset) Columns() []string {
	out := make([]string, len(d.columns))
	copy(out, d.columns)
	return out
}

// ColumnIndex returns the position of the named column.
func (d *Dataset) ColumnIndex(name string) (int, bool) {
	i, ok := d.index[name]
	return i, ok
}

// Row returns the i-th row. The slice is shared and must be treated as read-only.
func (d *Dataset) Row(i int) []Value { return d.rows[i] }

// Value returns a single cell.
func (d *Dataset) Value(row, col int) Value { return d.rows[row][col] }

// Notes returns conversion notes recorded by the loader.
func (d *Dataset) Notes() []ColumnNote {
	out := make([]ColumnNote, len(d.notes))
	copy(out, d.notes)
	return out
}

// Fingerprint is a SHA-256 over the column names and every cell, typed.
// Two datasets with identical content share a fingerprint regardless of name.
func (d *Dataset) Fingerprint() string {
	h := sha256.New()
	for _, c := range d.columns {
		h.Write([]byte(c))
		h.Write([]byte{0})
	}
	h.Write([]byte{1})
	for _, r := range d.rows {
		for _, v := range r {
			h.Write([]byte(typedKey(v)))
			h.Write([]byte{0})
		}
		h.Write([]byte{1})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// typedKey renders a value with a type tag so that int64(1) and "1" differ.
func typedKey(v Value) string {
	switch x := v.(type) {
	case nil:
		return "n:"
	case int64:
		return "i:" + strconv.FormatInt(x, 10)
	case float64:
		return "f:" + strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return "b:" + strconv.FormatBool(x)
	case time.Time:
		return "t:" + x.UTC().Format(time.RFC3339Nano)
	case string:
		return "s:" + x
	}
	return fmt.Sprintf("?:%v", v)
}

// Key returns a type-tagged string form of v suitable as a map key.
func Key(v Value) string { return typedKey(v) }

// Format renders a value for prompts, tables and examples.
func Format(v Value) string {
	switch x := v.(type) {
	case nil:
		return ""
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format("2006-01-02")
		}
		return x.Format(time.RFC3339)
	case string:
		return x
	}
	return fmt.Sprint(v)
}

// Float converts numeric and boolean values to float64. Booleans map to 0/1.
func Float(v Value) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
