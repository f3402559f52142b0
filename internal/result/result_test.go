package result

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const valid = `{
  "bottom_line": "Readmitted patients stay 5 days on average versus 3.",
  "additional_insights": "The gap is 2 days.",
  "follow_up_questions": ["Does ward matter?"],
  "metadata": {
    "timestamp": "2024-03-01T12:00:00Z",
    "question": "compare average length of stay by readmission status",
    "rows_analyzed": 2,
    "columns_analyzed": 2
  }
}`

func TestParseValid(t *testing.T) {
	r, err := Parse([]byte(valid))
	require.NoError(t, err)
	assert.Equal(t, 2, r.Metadata.RowsAnalyzed)
	assert.Equal(t, []string{"Does ward matter?"}, r.FollowUpQuestions)

	out, err := r.JSON()
	require.NoError(t, err)
	again, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, r, again)
}

func TestParseFieldOrderIsIrrelevant(t *testing.T) {
	reordered := `{"metadata":{"columns_analyzed":1,"rows_analyzed":3,"question":"q","timestamp":"2024-03-01T12:00:00+02:00"},"follow_up_questions":[],"additional_insights":"","bottom_line":"x"}`
	r, err := Parse([]byte(reordered))
	require.NoError(t, err)
	assert.Equal(t, 3, r.Metadata.RowsAnalyzed)
}

func TestParseRejects(t *testing.T) {
	mutate := func(f func(m map[string]any)) []byte {
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(valid), &m))
		f(m)
		b, err := json.Marshal(m)
		require.NoError(t, err)
		return b
	}
	meta := func(m map[string]any) map[string]any { return m["metadata"].(map[string]any) }
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"missing bottom line", mutate(func(m map[string]any) { delete(m, "bottom_line") }), "missing bottom_line"},
		{"missing metadata field", mutate(func(m map[string]any) { delete(meta(m), "question") }), "missing metadata.question"},
		{"negative rows", mutate(func(m map[string]any) { meta(m)["rows_analyzed"] = -1 }), "rows_analyzed is negative"},
		{"fractional columns", mutate(func(m map[string]any) { meta(m)["columns_analyzed"] = 1.5 }), "decode business result"},
		{"null follow-ups", mutate(func(m map[string]any) { m["follow_up_questions"] = nil }), "must be an array"},
		{"bad timestamp", mutate(func(m map[string]any) { meta(m)["timestamp"] = "yesterday" }), "not ISO-8601"},
		{"not json", []byte("nope"), "decode business result"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestJSONWritesEmptyFollowUps(t *testing.T) {
	r := &BusinessResult{BottomLine: "x", Metadata: Metadata{Timestamp: "2024-03-01T12:00:00Z"}}
	out, err := r.JSON()
	require.NoError(t, err)
	assert.Contains(t, string(out), `"follow_up_questions": []`)
	assert.Nil(t, r.FollowUpQuestions)
}

func TestMarkdown(t *testing.T) {
	r, err := Parse([]byte(valid))
	require.NoError(t, err)
	md := r.Markdown()
	assert.Contains(t, md, "## Bottom line")
	assert.Contains(t, md, "- Does ward matter?")
	assert.Contains(t, md, "2 rows x 2 columns")
}
