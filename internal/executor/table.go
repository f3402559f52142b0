package executor

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/KaramelBytes/insightloom-cli/internal/dataset"
)

// ResultTable is the immutable output of a plan. Accessors return copies.
type ResultTable struct {
	columns    []string
	rows       [][]dataset.Value
	dropped    int
	sourceRows int
	highlights *Highlights
}

// Extreme is the row holding the highest or lowest primary value.
type Extreme struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// Highlights summarizes the primary metric across result rows. Ratio and
// PercentAbove are nil when the lowest value is zero.
type Highlights struct {
	Metric  string   `json:"metric"`
	Highest Extreme  `json:"highest"`
	Lowest  Extreme  `json:"lowest"`
	Spread  float64  `json:"spread"`
	Ratio   *float64 `json:"ratio,omitempty"`

	// PercentAbove is how far the highest value sits above the lowest, in percent.
	PercentAbove *float64 `json:"percent_above,omitempty"`
}

// Numbers lists every numeric value the highlights assert.
func (h *Highlights) Numbers() []float64 {
	if h == nil {
		return nil
	}
	out := []float64{h.Highest.Value, h.Lowest.Value, h.Spread}
	if h.Ratio != nil {
		out = append(out, *h.Ratio)
	}
	if h.PercentAbove != nil {
		out = append(out, *h.PercentAbove)
	}
	return out
}

// Columns returns the column names in order.
func (t *ResultTable) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// Rows returns a deep copy of the rows.
func (t *ResultTable) Rows() [][]dataset.Value {
	out := make([][]dataset.Value, len(t.rows))
	for i, r := range t.rows {
		out[i] = append([]dataset.Value(nil), r...)
	}
	return out
}

// RowsAnalyzed is the number of rows in the final table.
func (t *ResultTable) RowsAnalyzed() int { return len(t.rows) }

// ColumnsAnalyzed is the number of columns in the final table.
func (t *ResultTable) ColumnsAnalyzed() int { return len(t.columns) }

// DroppedRows counts derived or ratio cells set to null by a zero or null operand.
func (t *ResultTable) DroppedRows() int { return t.dropped }

// SourceRows is the row count of the dataset the plan ran over.
func (t *ResultTable) SourceRows() int { return t.sourceRows }

// Markdown renders the highlights as prompt lines.
func (h *Highlights) Markdown() string {
	if h == nil {
		return "(none)"
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("- highest %s: %s (%s)\n", h.Metric, FormatValue(h.Highest.Value), h.Highest.Label))
	b.WriteString(fmt.Sprintf("- lowest %s: %s (%s)\n", h.Metric, FormatValue(h.Lowest.Value), h.Lowest.Label))
	b.WriteString(fmt.Sprintf("- spread: %s", FormatValue(h.Spread)))
	if h.Ratio != nil {
		b.WriteString(fmt.Sprintf("\n- highest / lowest: %s", FormatValue(*h.Ratio)))
	}
	if h.PercentAbove != nil {
		b.WriteString(fmt.Sprintf("\n- highest is %s%% above lowest", FormatValue(*h.PercentAbove)))
	}
	return b.String()
}

// Highlights returns nil when the primary metric has fewer than two values.
func (t *ResultTable) Highlights() *Highlights {
	if t.highlights == nil {
		return nil
	}
	h := *t.highlights
	if h.Ratio != nil {
		r := *h.Ratio
		h.Ratio = &r
	}
	if h.PercentAbove != nil {
		p := *h.PercentAbove
		h.PercentAbove = &p
	}
	return &h
}

// Cell returns the value at row i in the named column.
func (t *ResultTable) Cell(i int, column string) (dataset.Value, bool) {
	for j, c := range t.columns {
		if c == column {
			if i < 0 || i >= len(t.rows) {
				return nil, false
			}
			return t.rows[i][j], true
		}
	}
	return nil, false
}

// Numbers lists every numeric cell in the table.
func (t *ResultTable) Numbers() []float64 {
	var out []float64
	for _, r := range t.rows {
		for _, v := range r {
			switch v.(type) {
			case int64, float64:
				x, _ := dataset.Float(v)
				out = append(out, x)
			}
		}
	}
	return out
}

// FormatValue renders a cell for display, rounding floats to four decimals.
func FormatValue(v dataset.Value) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case float64:
		if math.IsInf(x, 0) || math.IsNaN(x) {
			return "null"
		}
		return strconv.FormatFloat(math.Round(x*1e4)/1e4, 'f', -1, 64)
	}
	return dataset.Format(v)
}

// Markdown renders at most maxRows rows as a pipe table. maxRows <= 0 means all.
func (t *ResultTable) Markdown(maxRows int) string {
	var b strings.Builder
	b.WriteString("| " + strings.Join(t.columns, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(t.columns)) + "\n")
	n := len(t.rows)
	if maxRows > 0 && n > maxRows {
		n = maxRows
	}
	for _, r := range t.rows[:n] {
		cells := make([]string, len(r))
		for j, v := range r {
			cells[j] = strings.ReplaceAll(FormatValue(v), "|", "/")
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	if n < len(t.rows) {
		b.WriteString(fmt.Sprintf("(%d more rows not shown)\n", len(t.rows)-n))
	}
	b.WriteString(fmt.Sprintf("\nShape: %d rows x %d columns", len(t.rows), len(t.columns)))
	return b.String()
}

type tableJSON struct {
	Columns         []string          `json:"columns"`
	Rows            [][]dataset.Value `json:"rows"`
	RowsAnalyzed    int               `json:"rows_analyzed"`
	ColumnsAnalyzed int               `json:"columns_analyzed"`
	DroppedRows     int               `json:"dropped_rows"`
	SourceRows      int               `json:"source_rows"`
	Highlights      *Highlights       `json:"highlights,omitempty"`
}

func (t *ResultTable) MarshalJSON() ([]byte, error) {
	rows := t.Rows()
	for _, r := range rows {
		for j, v := range r {
			if f, ok := v.(float64); ok && (math.IsInf(f, 0) || math.IsNaN(f)) {
				r[j] = nil
			}
		}
	}
	return json.Marshal(tableJSON{
		Columns:         t.columns,
		Rows:            rows,
		RowsAnalyzed:    t.RowsAnalyzed(),
		ColumnsAnalyzed: t.ColumnsAnalyzed(),
		DroppedRows:     t.dropped,
		SourceRows:      t.sourceRows,
		Highlights:      t.highlights,
	})
}

// UnmarshalJSON restores a stored table. Numbers come back as float64.
func (t *ResultTable) UnmarshalJSON(data []byte) error {
	var raw tableJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.columns = raw.Columns
	t.rows = raw.Rows
	t.dropped = raw.DroppedRows
	t.sourceRows = raw.SourceRows
	t.highlights = raw.Highlights
	return nil
}
