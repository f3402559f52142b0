package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/KaramelBytes/insightloom-cli/internal/executor"
	"github.com/KaramelBytes/insightloom-cli/internal/history"
	"github.com/KaramelBytes/insightloom-cli/internal/profile"
)

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetHeader(header)
	return table
}

func renderResultTable(w io.Writer, t *executor.ResultTable) {
	table := newTable(w, t.Columns())
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	for _, row := range t.Rows() {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = executor.FormatValue(v)
		}
		table.Append(cells)
	}
	table.Render()
	fmt.Fprintf(w, "%d rows x %d columns", t.RowsAnalyzed(), t.ColumnsAnalyzed())
	if n := t.DroppedRows(); n > 0 {
		fmt.Fprintf(w, ", %d null result(s) from division by zero or missing values", n)
	}
	fmt.Fprintln(w)
}

func renderSchema(w io.Writer, s *profile.SchemaSummary) {
	fmt.Fprintf(w, "Dataset: %s (%d rows)\n", s.Dataset, s.Rows)
	table := newTable(w, []string{"Column", "Type", "Null %", "Distinct", "Examples"})
	for _, c := range s.Columns {
		table.Append([]string{
			c.Name,
			string(c.Type),
			fmt.Sprintf("%.1f", c.NullRate*100),
			fmt.Sprintf("%d", c.Distinct),
			strings.Join(c.Examples, ", "),
		})
	}
	table.Render()
}

func renderDictionary(w io.Writer, s *profile.SchemaSummary) {
	table := newTable(w, []string{"Column", "Type", "Description"})
	for _, e := range s.Dictionary() {
		table.Append([]string{e.Column, string(e.Type), e.Description})
	}
	table.Render()
}

func renderHistory(w io.Writer, runs []history.Summary) {
	table := newTable(w, []string{"ID", "When", "Dataset", "Question", "Bottom line"})
	for _, r := range runs {
		table.Append([]string{
			r.ID,
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			r.Dataset,
			clip(r.Question, 60),
			clip(r.BottomLine, 60),
		})
	}
	table.Render()
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
