package profile

import (
	"fmt"
	"strings"

	"github.com/KaramelBytes/insightloom-cli/internal/dataset"
)

// ColumnProfile describes one column. Min, Max and Mean are set only for
// numeric columns that hold at least one number.
type ColumnProfile struct {
	Name     string   `json:"name"`
	Type     Type     `json:"type"`
	NullRate float64  `json:"null_rate"`
	Distinct int      `json:"distinct"`
	Examples []string `json:"examples,omitempty"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Mean     *float64 `json:"mean,omitempty"`
}

// SchemaSummary is a read-only snapshot of a dataset's shape.
type SchemaSummary struct {
	Dataset     string          `json:"dataset"`
	Fingerprint string          `json:"fingerprint"`
	Rows        int             `json:"rows"`
	Columns     []ColumnProfile `json:"columns"`

	index        map[string]int
	notes        []dataset.ColumnNote
	descriptions map[string]string
}

// WithDescriptions returns a copy whose dictionary and prompt block carry the
// given column descriptions. Unknown columns and blank text are ignored.
func (s *SchemaSummary) WithDescriptions(desc map[string]string) *SchemaSummary {
	c := *s
	c.descriptions = make(map[string]string, len(desc))
	for k, v := range s.descriptions {
		c.descriptions[k] = v
	}
	for k, v := range desc {
		if v = strings.TrimSpace(v); v != "" && s.Has(k) {
			c.descriptions[k] = v
		}
	}
	return &c
}

// Column looks up a column profile by exact name.
func (s *SchemaSummary) Column(name string) (ColumnProfile, bool) {
	if s.index != nil {
		if i, ok := s.index[name]; ok {
			return s.Columns[i], true
		}
		return ColumnProfile{}, false
	}
	// decoded from JSON; no index
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnProfile{}, false
}

func (s *SchemaSummary) Has(name string) bool {
	_, ok := s.Column(name)
	return ok
}

// Names returns column names in dataset order.
func (s *SchemaSummary) Names() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Name
	}
	return out
}

// Notes returns the loader's cleansing notes for the profiled dataset.
func (s *SchemaSummary) Notes() []dataset.ColumnNote {
	out := make([]dataset.ColumnNote, len(s.notes))
	copy(out, s.notes)
	return out
}

// Markdown renders the summary as a prompt block.
func (s *SchemaSummary) Markdown() string {
	var b strings.Builder
	b.WriteString("[DATASET SUMMARY]\n")
	if s.Dataset != "" {
		b.WriteString(fmt.Sprintf("Dataset: %s\n", s.Dataset))
	}
	b.WriteString(fmt.Sprintf("Rows: %d\n", s.Rows))
	b.WriteString(fmt.Sprintf("Columns: %d\n\n", len(s.Columns)))

	b.WriteString("[SCHEMA]\n")
	for _, c := range s.Columns {
		b.WriteString(fmt.Sprintf("- %s: %s (distinct %d, missing %.1f%%)", c.Name, c.Type, c.Distinct, c.NullRate*100))
		if c.Min != nil && c.Max != nil && c.Mean != nil {
			b.WriteString(fmt.Sprintf(" min %.4g, max %.4g, mean %.4g", *c.Min, *c.Max, *c.Mean))
		}
		if len(c.Examples) > 0 {
			vals := make([]string, len(c.Examples))
			for i, ex := range c.Examples {
				vals[i] = safeVal(ex)
			}
			b.WriteString("; e.g. " + strings.Join(vals, " | "))
		}
		if d, ok := s.descriptions[c.Name]; ok {
			b.WriteString("; meaning: " + safeVal(d))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// DictionaryEntry is one row of the data dictionary.
type DictionaryEntry struct {
	Column      string `json:"column"`
	Type        Type   `json:"type"`
	Description string `json:"description"`
}

// Dictionary describes each column in plain words. Descriptions set with
// WithDescriptions win; the rest are derived from the profile.
func (s *SchemaSummary) Dictionary() []DictionaryEntry {
	out := make([]DictionaryEntry, 0, len(s.Columns))
	for _, c := range s.Columns {
		d, ok := s.descriptions[c.Name]
		if !ok {
			d = describe(c, s.Rows)
		}
		out = append(out, DictionaryEntry{Column: c.Name, Type: c.Type, Description: d})
	}
	return out
}

func describe(c ColumnProfile, rows int) string {
	var parts []string
	switch {
	case c.Type.Numeric() && c.Min != nil:
		parts = append(parts, fmt.Sprintf("numeric measure ranging %s to %s", fmtNum(*c.Min), fmtNum(*c.Max)))
	case c.Type == TypeBoolean:
		parts = append(parts, "yes/no flag")
	case c.Type == TypeDatetime:
		parts = append(parts, "date or timestamp")
	case c.Distinct > 0 && c.Distinct <= 20 && c.Distinct < rows:
		parts = append(parts, fmt.Sprintf("category with %d values", c.Distinct))
	case c.Distinct == rows:
		parts = append(parts, "unique identifier or free text")
	default:
		parts = append(parts, "text")
	}
	if c.NullRate > 0 {
		parts = append(parts, fmt.Sprintf("%.0f%% missing", c.NullRate*100))
	}
	return strings.Join(parts, ", ")
}

func fmtNum(x float64) string { return fmt.Sprintf("%.4g", x) }

func safeVal(s string) string { return strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), "|", "/") }
