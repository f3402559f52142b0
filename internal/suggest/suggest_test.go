package suggest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/insightloom-cli/internal/dataset/datasettest"
	"github.com/KaramelBytes/insightloom-cli/internal/llm"
	"github.com/KaramelBytes/insightloom-cli/internal/llm/llmtest"
	"github.com/KaramelBytes/insightloom-cli/internal/profile"
)

func staysSchema(t *testing.T) *profile.SchemaSummary {
	t.Helper()
	s, err := profile.NewProfiler(profile.Options{}).Profile(datasettest.Stays(t))
	require.NoError(t, err)
	return s
}

func newSuggester(t *testing.T, svc llm.Service) *Suggester {
	t.Helper()
	s, err := New(svc, Options{Questions: 2})
	require.NoError(t, err)
	return s
}

func TestDescribe(t *testing.T) {
	script := llmtest.Text("Here you go:\n```json\n" +
		`{"columns":["readmitted","length_of_stay","ward"],"descriptions":["Whether the patient came back within 30 days","Nights spent in hospital","Hospital ward"]}` +
		"\n```")
	schema := staysSchema(t)

	got, err := newSuggester(t, script).Describe(context.Background(), schema)
	require.NoError(t, err)
	dict := got.Dictionary()
	require.Len(t, dict, 2)
	assert.Equal(t, "Whether the patient came back within 30 days", dict[0].Description)
	assert.Equal(t, "Nights spent in hospital", dict[1].Description)
	assert.Contains(t, got.Markdown(), "meaning: Nights spent in hospital")

	// the input summary is left alone
	assert.NotContains(t, schema.Markdown(), "meaning:")

	reqs := script.Requests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].JSON)
	assert.Contains(t, reqs[0].System, "- length_of_stay: float")
}

func TestDescribeKeepsHeuristicForSkippedColumns(t *testing.T) {
	script := llmtest.Text(`{"columns":["readmitted"],"descriptions":["Came back within 30 days"]}`)
	got, err := newSuggester(t, script).Describe(context.Background(), staysSchema(t))
	require.NoError(t, err)
	dict := got.Dictionary()
	assert.Equal(t, "Came back within 30 days", dict[0].Description)
	assert.Contains(t, dict[1].Description, "numeric measure")
}

func TestDescribeRejectsBadReplies(t *testing.T) {
	tests := []struct {
		name, reply, reason string
	}{
		{"length mismatch", `{"columns":["readmitted","length_of_stay"],"descriptions":["x"]}`, "1 descriptions for 2 columns"},
		{"unknown columns only", `{"columns":["ward"],"descriptions":["Hospital ward"]}`, "no description names a schema column"},
		{"no json", "I cannot help with that.", "no JSON object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newSuggester(t, llmtest.Text(tt.reply)).Describe(context.Background(), staysSchema(t))
			require.ErrorIs(t, err, ErrReply)
			assert.ErrorContains(t, err, tt.reason)
		})
	}
}

func TestQuestions(t *testing.T) {
	script := llmtest.Text(`{"questions":[
		"What is the average length of stay by readmitted?",
		"what is the average  length of stay by readmitted?",
		"How does the weather change things?",
		"What share of patients were readmitted?",
		"Total length_of_stay overall?"
	]}`)
	got, err := newSuggester(t, script).Questions(context.Background(), staysSchema(t))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"What is the average length of stay by readmitted?",
		"What share of patients were readmitted?",
	}, got)
	assert.Contains(t, script.Requests()[0].System, "Write 2 questions.")
}

func TestQuestionsNoneValid(t *testing.T) {
	_, err := newSuggester(t, llmtest.Text(`{"questions":["Is it raining?"]}`)).Questions(context.Background(), staysSchema(t))
	var re *ReplyError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "questions", re.Kind)
}

func TestServiceErrorPassesThrough(t *testing.T) {
	down := errors.New("down")
	_, err := newSuggester(t, llmtest.NewScript(llmtest.Reply{Err: down})).Questions(context.Background(), staysSchema(t))
	assert.ErrorIs(t, err, down)
	assert.NotErrorIs(t, err, ErrReply)
}

func TestNewRequiresService(t *testing.T) {
	_, err := New(nil, Options{})
	assert.Error(t, err)
}
