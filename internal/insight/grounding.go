package insight

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/KaramelBytes/insightloom-cli/internal/dataset"
	"github.com/KaramelBytes/insightloom-cli/internal/executor"
)

var numberPattern = regexp.MustCompile(`-?\d+(?:,\d{3})*(?:\.\d+)?%?`)

// evidence is the set of numbers a narrative may cite, plus text fragments
// (column names, labels, dates) whose digits are not numeric claims.
// shape holds the table's row and column counts, which only ground a number
// that is followed by a word such as rows or groups.
type evidence struct {
	numbers []float64
	shape   []float64
	literal []string
}

var shapeWords = map[string]struct{}{
	"row": {}, "rows": {}, "record": {}, "records": {}, "column": {}, "columns": {},
	"field": {}, "fields": {}, "group": {}, "groups": {}, "category": {}, "categories": {},
	"segment": {}, "segments": {}, "entry": {}, "entries": {},
}

func gatherEvidence(t *executor.ResultTable, question string) *evidence {
	ev := &evidence{}
	ev.numbers = append(ev.numbers, t.Numbers()...)
	ev.numbers = append(ev.numbers, t.Highlights().Numbers()...)
	ev.shape = []float64{
		float64(t.RowsAnalyzed()), float64(t.ColumnsAnalyzed()),
		float64(t.SourceRows()), float64(t.DroppedRows()),
	}

	for _, m := range numberPattern.FindAllString(question, -1) {
		if x, _, ok := parseClaim(m); ok {
			ev.numbers = append(ev.numbers, x)
		}
	}

	ev.literal = append(ev.literal, t.Columns()...)
	for _, r := range t.Rows() {
		for _, v := range r {
			switch v.(type) {
			case nil, int64, float64:
				continue
			}
			ev.literal = append(ev.literal, dataset.Format(v))
		}
	}
	if h := t.Highlights(); h != nil {
		ev.literal = append(ev.literal, h.Metric, h.Highest.Label, h.Lowest.Label)
	}
	// longest first so a label is removed before any column name inside it
	sort.SliceStable(ev.literal, func(i, j int) bool { return len(ev.literal[i]) > len(ev.literal[j]) })
	return ev
}

// ungrounded returns the numeric claims in text that match no evidence.
func (ev *evidence) ungrounded(text string) []string {
	for _, lit := range ev.literal {
		if lit != "" && strings.ContainsAny(lit, "0123456789") {
			text = replaceFold(text, lit, " ")
		}
	}
	var bad []string
	for _, loc := range numberPattern.FindAllStringIndex(text, -1) {
		if partOfWord(text, loc[0], loc[1]) {
			continue
		}
		claim := text[loc[0]:loc[1]]
		if strings.HasPrefix(claim, "-") && loc[0] > 0 {
			// a hyphen after a word or digit is a range or compound, not a sign
			r, _ := utf8.DecodeLastRuneInString(text[:loc[0]])
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				claim = claim[1:]
			}
		}
		x, decimals, ok := parseClaim(claim)
		if !ok {
			continue
		}
		percent := strings.HasSuffix(claim, "%")
		if ev.matches(ev.numbers, x, decimals, percent) {
			continue
		}
		if !percent && shapeFollows(text[loc[1]:]) && ev.matches(ev.shape, x, decimals, false) {
			continue
		}
		bad = append(bad, claim)
	}
	return bad
}

// matches compares signed values. An unsigned claim may still quote the
// size of a negative value, as in "fell by 2".
func (ev *evidence) matches(values []float64, x float64, decimals int, percent bool) bool {
	tol := 0.5*math.Pow10(-decimals) + 1e-9
	for _, v := range values {
		for _, c := range candidates(v, percent) {
			if math.Abs(x-c) <= tol || (x >= 0 && c < 0 && math.Abs(x+c) <= tol) {
				return true
			}
		}
	}
	return false
}

// shapeFollows reports whether one of the next two words names a table shape,
// as in "5 rows" or "2 distinct groups".
func shapeFollows(rest string) bool {
	words := strings.FieldsFunc(rest, func(r rune) bool { return !unicode.IsLetter(r) })
	for i, w := range words {
		if i == 2 {
			break
		}
		if _, ok := shapeWords[strings.ToLower(w)]; ok {
			return true
		}
	}
	return false
}

// candidates lists the forms a value may take in prose. A percentage may
// quote a rate (0.25 as 25%) or a value already in percent.
func candidates(v float64, percent bool) []float64 {
	if percent {
		return []float64{v, v * 100}
	}
	return []float64{v}
}

// parseClaim reads a number like 1,234.50 or 25%. decimals counts the digits
// after the point, which bounds the rounding the claim may carry.
func parseClaim(s string) (float64, int, bool) {
	s = strings.TrimSuffix(s, "%")
	s = strings.ReplaceAll(s, ",", "")
	x, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, 0, false
	}
	decimals := 0
	if i := strings.IndexByte(s, '.'); i >= 0 {
		decimals = len(s) - i - 1
	}
	return x, decimals, true
}

// partOfWord reports digits glued to letters, as in Q3 or 2nd. A trailing x
// (2x, 1.7x) is still a claim.
func partOfWord(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if unicode.IsLetter(r) || r == '_' {
			return true
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if (unicode.IsLetter(r) || r == '_') && r != 'x' && r != 'X' {
			return true
		}
	}
	return false
}

func replaceFold(s, old, repl string) string {
	if old == "" {
		return s
	}
	lower, lowerOld := strings.ToLower(s), strings.ToLower(old)
	if len(lower) != len(s) || len(lowerOld) != len(old) {
		return strings.ReplaceAll(s, old, repl)
	}
	var b strings.Builder
	for {
		i := strings.Index(lower, lowerOld)
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		b.WriteString(repl)
		s, lower = s[i+len(old):], lower[i+len(old):]
	}
}
