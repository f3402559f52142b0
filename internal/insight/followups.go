package insight

import (
	"fmt"
	"strings"

	"github.com/KaramelBytes/insightloom-cli/internal/intent"
	"github.com/KaramelBytes/insightloom-cli/internal/profile"
)

// unusedColumns lists schema columns the intent does not touch, in schema order.
func unusedColumns(schema *profile.SchemaSummary, in *intent.Intent) []profile.ColumnProfile {
	used := map[string]bool{}
	for _, c := range in.Columns() {
		used[c] = true
	}
	var out []profile.ColumnProfile
	for _, c := range schema.Columns {
		if !used[c.Name] {
			out = append(out, c)
		}
	}
	return out
}

// followUps keeps suggested questions that mention an unused column, then
// fills up to limit from templates. It always returns at least one question.
func followUps(suggested []string, unused []profile.ColumnProfile, in *intent.Intent, limit int) []string {
	seen := map[string]bool{}
	var out []string
	add := func(q string) {
		q = strings.TrimSpace(q)
		key := strings.ToLower(q)
		if q == "" || seen[key] || len(out) >= limit {
			return
		}
		seen[key] = true
		out = append(out, q)
	}

	covered := map[string]bool{}
	for _, q := range suggested {
		cols := mentioned(q, unused)
		if len(cols) == 0 {
			continue
		}
		add(q)
		for _, c := range cols {
			covered[c] = true
		}
	}
	for _, c := range unused {
		if !covered[c.Name] && !identifier(c.Name) {
			add(template(c, in))
		}
	}
	if len(out) == 0 {
		add(fallback(in))
	}
	return out
}

// mentioned returns the names of cols that q refers to.
func mentioned(q string, cols []profile.ColumnProfile) []string {
	lq := strings.ToLower(q)
	var out []string
	for _, c := range cols {
		name := strings.ToLower(c.Name)
		if containsWord(lq, name) || containsWord(lq, strings.ReplaceAll(name, "_", " ")) {
			out = append(out, c.Name)
		}
	}
	return out
}

// containsWord finds w in s only where it is not part of a longer word, so
// "age" does not match "average".
func containsWord(s, w string) bool {
	if w == "" {
		return false
	}
	for off := 0; ; {
		i := strings.Index(s[off:], w)
		if i < 0 {
			return false
		}
		start, end := off+i, off+i+len(w)
		if !wordByte(s, start-1) && !wordByte(s, end) {
			return true
		}
		off = start + 1
	}
}

func wordByte(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return false
	}
	c := s[i]
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func identifier(name string) bool {
	n := strings.ToLower(name)
	return n == "id" || strings.HasSuffix(n, "_id") || strings.HasSuffix(n, " id")
}

func template(c profile.ColumnProfile, in *intent.Intent) string {
	metric := describeMetric(in)
	switch {
	case c.Type.Numeric():
		if len(in.GroupBy) > 0 {
			return fmt.Sprintf("How does the average %s differ across %s?", c.Name, strings.Join(in.GroupBy, " and "))
		}
		return fmt.Sprintf("How does %s relate to %s?", c.Name, metric)
	case c.Type == profile.TypeDatetime:
		return fmt.Sprintf("How has %s changed over %s?", metric, c.Name)
	case c.Type == profile.TypeBoolean:
		return fmt.Sprintf("Does %s differ when %s is true versus false?", metric, c.Name)
	}
	return fmt.Sprintf("How does %s break down by %s?", metric, c.Name)
}

func fallback(in *intent.Intent) string {
	if len(in.GroupBy) > 0 {
		return fmt.Sprintf("Which %s drives the largest share of %s?", strings.Join(in.GroupBy, " and "), describeMetric(in))
	}
	return fmt.Sprintf("What is driving %s?", describeMetric(in))
}

func describeMetric(in *intent.Intent) string {
	if len(in.Metrics) == 0 {
		return "the result"
	}
	m := in.Metrics[0]
	switch m.Agg {
	case intent.AggCount:
		if m.Column == "" {
			return "the row count"
		}
		return "the count of " + m.Column
	case intent.AggAvg:
		return "the average " + m.Column
	case intent.AggSum:
		return "the total " + m.Column
	case intent.AggRatio:
		return m.Column + " per " + m.Denominator
	}
	return m.Output()
}
