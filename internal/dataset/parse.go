package dataset

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseOptions controls how raw text cells become typed values.
type ParseOptions struct {
	// Delimiter for CSV. If 0, picks '\t' for .tsv files and ',' otherwise.
	Delimiter rune
	// Numeric parsing locale. If DecimalSeparator is 0, auto-detect per value.
	DecimalSeparator   rune
	ThousandsSeparator rune // optional; if 0, strip common separators (',' '.' space)
	// MaxRows rejects inputs with more data rows; 0 means unlimited.
	MaxRows int
}

// DefaultParseOptions returns the loader defaults.
func DefaultParseOptions() ParseOptions {
	return ParseOptions{MaxRows: 1_000_000}
}

var nullTokens = map[string]struct{}{
	"": {}, "na": {}, "n/a": {}, "null": {}, "none": {}, "nan": {},
}

var timeLayouts = []string{
	time.RFC3339, "2006-01-02", "2006/01/02", "02/01/2006", "01/02/2006",
	"2006-01-02 15:04", "2006-01-02 15:04:05", "1/2/2006 15:04", "1/2/2006 15:04:05",
}

// ParseCell converts a raw text cell into a typed Value.
// Order: null token, integer, float, boolean, datetime, string.
func ParseCell(raw string, opt ParseOptions) Value {
	s := strings.TrimSpace(raw)
	if _, ok := nullTokens[strings.ToLower(s)]; ok {
		return nil
	}
	if n, ok := normalizeNumber(s, opt); ok {
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(n, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f
		}
	}
	switch strings.ToLower(s) {
	case "true", "yes":
		return true
	case "false", "no":
		return false
	}
	if t, ok := parseTimeMaybe(s); ok {
		return t
	}
	return s
}

func parseTimeMaybe(s string) (time.Time, bool) {
	for _, l := range timeLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// normalizeNumber rewrites a locale-formatted number into Go syntax.
// It reports false when the text cannot be a number at all.
func normalizeNumber(s string, opt ParseOptions) (string, bool) {
	raw := strings.ReplaceAll(s, "%", "")
	raw = strings.ReplaceAll(raw, "\u00A0", " ")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	// cheap rejection before the separator dance
	for _, r := range raw {
		if !(r >= '0' && r <= '9') && !strings.ContainsRune("+-., eE", r) {
			return "", false
		}
	}
	dec := opt.DecimalSeparator
	thou := opt.ThousandsSeparator
	if dec == 0 {
		cpos := strings.LastIndex(raw, ",")
		dpos := strings.LastIndex(raw, ".")
		switch {
		case cpos >= 0 && dpos >= 0:
			if cpos > dpos {
				dec, thou = ',', '.'
			} else {
				dec, thou = '.', ','
			}
		case cpos >= 0:
			dec = ','
		default:
			dec = '.'
		}
	}
	if thou == 0 {
		for _, sep := range []rune{',', '.', ' '} {
			if sep != dec {
				raw = strings.ReplaceAll(raw, string(sep), "")
			}
		}
	} else if thou != dec {
		raw = strings.ReplaceAll(raw, string(thou), "")
	}
	if dec != '.' {
		raw = strings.ReplaceAll(raw, string(dec), ".")
	}
	return raw, true
}

// ErrRowLimit matches any *RowLimitError.
var ErrRowLimit = errors.New("row limit exceeded")

// RowLimitError reports an input with more data rows than ParseOptions.MaxRows.
// Actual is a lower bound when the loader stopped reading early.
type RowLimitError struct {
	Limit  int
	Actual int
}

func (e *RowLimitError) Error() string {
	return fmt.Sprintf("rows limit exceeded: at least %d rows, max_rows is %d", e.Actual, e.Limit)
}

func (e *RowLimitError) Unwrap() error { return ErrRowLimit }

// FromRecords builds a Dataset from a header and text records, converting
// every cell with ParseCell. Header names are trimmed; short rows are padded
// with nulls and long rows truncated, each recorded as a column note.
// More records than opt.MaxRows is a *RowLimitError.
func FromRecords(name string, header []string, records [][]string, opt ParseOptions) (*Dataset, error) {
	if opt.MaxRows > 0 && len(records) > opt.MaxRows {
		return nil, &RowLimitError{Limit: opt.MaxRows, Actual: len(records)}
	}
	cols := make([]string, len(header))
	var notes []ColumnNote
	for i, h := range header {
		t := strings.TrimSpace(h)
		if t != h {
			notes = append(notes, ColumnNote{Column: t, Message: fmt.Sprintf("trimmed header %q", h)})
		}
		cols[i] = t
	}
	padded, truncated := 0, 0
	rows := make([][]Value, 0, len(records))
	for _, rec := range records {
		row := make([]Value, len(cols))
		if len(rec) < len(cols) {
			padded++
		} else if len(rec) > len(cols) {
			truncated++
		}
		for j := range cols {
			if j < len(rec) {
				row[j] = ParseCell(rec[j], opt)
			}
		}
		rows = append(rows, row)
	}
	if padded > 0 {
		notes = append(notes, ColumnNote{Message: fmt.Sprintf("padded %d short rows with nulls", padded)})
	}
	if truncated > 0 {
		notes = append(notes, ColumnNote{Message: fmt.Sprintf("dropped extra cells from %d long rows", truncated)})
	}
	notes = append(notes, mixedTypeNotes(cols, rows)...)
	d, err := New(name, cols, rows)
	if err != nil {
		return nil, err
	}
	d.notes = notes
	return d, nil
}

// mixedTypeNotes flags columns that are mostly numeric but carry some text cells.
func mixedTypeNotes(cols []string, rows [][]Value) []ColumnNote {
	var out []ColumnNote
	for j, c := range cols {
		var num, txt int
		for _, r := range rows {
			switch r[j].(type) {
			case int64, float64:
				num++
			case string:
				txt++
			}
		}
		if num > 0 && txt > 0 && num > txt {
			out = append(out, ColumnNote{Column: c, Message: fmt.Sprintf("%d non-numeric cells in a mostly numeric column", txt)})
		}
	}
	return out
}
