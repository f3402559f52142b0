package insight

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/insightloom-cli/internal/dataset"
	"github.com/KaramelBytes/insightloom-cli/internal/dataset/datasettest"
	"github.com/KaramelBytes/insightloom-cli/internal/executor"
	"github.com/KaramelBytes/insightloom-cli/internal/intent"
	"github.com/KaramelBytes/insightloom-cli/internal/llm"
	"github.com/KaramelBytes/insightloom-cli/internal/llm/llmtest"
	"github.com/KaramelBytes/insightloom-cli/internal/plan"
	"github.com/KaramelBytes/insightloom-cli/internal/profile"
)

type fixture struct {
	schema *profile.SchemaSummary
	intent *intent.Intent
	table  *executor.ResultTable
}

func run(t *testing.T, d *dataset.Dataset, in intent.Intent) fixture {
	t.Helper()
	s, err := profile.NewProfiler(profile.Options{}).Profile(d)
	require.NoError(t, err)
	require.NoError(t, in.Validate(s))
	in.Normalize()
	p, err := plan.Synthesize(&in, s)
	require.NoError(t, err)
	table, err := executor.New(executor.Options{}).Execute(p, d)
	require.NoError(t, err)
	return fixture{schema: s, intent: &in, table: table}
}

func staysByReadmission(t *testing.T) fixture {
	return run(t, datasettest.Stays(t), intent.Intent{
		Metrics: []intent.Metric{{Agg: intent.AggAvg, Column: "length_of_stay"}},
		GroupBy: []string{"readmitted"},
	})
}

var at = time.Date(2024, 3, 1, 12, 30, 0, 0, time.FixedZone("CET", 3600))

func newSynth(t *testing.T, svc llm.Service, opt Options) *Synthesizer {
	t.Helper()
	if opt.Clock == nil {
		opt.Clock = clockwork.NewFakeClockAt(at)
	}
	s, err := NewSynthesizer(svc, opt)
	require.NoError(t, err)
	return s
}

const grounded = `{"bottom_line":"Readmitted patients stay 5 days on average versus 3 days for everyone else.","additional_insights":"That is a gap of 2 days, about 67% longer, or 1.67x.","follow_up_questions":["Is the weather a factor?"]}`

func TestSynthesizeGroundedAnswer(t *testing.T) {
	f := staysByReadmission(t)
	script := llmtest.Text(grounded)
	question := "  compare average length of stay by readmission status "
	r, err := newSynth(t, script, Options{}).Synthesize(context.Background(), f.table, f.intent, f.schema, question)
	require.NoError(t, err)

	assert.Contains(t, r.BottomLine, "5 days")
	assert.Contains(t, r.AdditionalInsights, "67%")
	assert.Equal(t, question, r.Metadata.Question)
	assert.Equal(t, "2024-03-01T11:30:00Z", r.Metadata.Timestamp)
	assert.Equal(t, f.table.RowsAnalyzed(), r.Metadata.RowsAnalyzed)
	assert.Equal(t, f.table.ColumnsAnalyzed(), r.Metadata.ColumnsAnalyzed)
	assert.Equal(t, 2, r.Metadata.RowsAnalyzed)
	assert.Equal(t, 2, r.Metadata.ColumnsAnalyzed)
	require.NoError(t, r.Validate())

	// every column is used, so the weather suggestion is dropped for a fallback
	require.Len(t, r.FollowUpQuestions, 1)
	assert.Contains(t, r.FollowUpQuestions[0], "readmitted")

	req := script.Requests()[0]
	assert.True(t, req.JSON)
	assert.Contains(t, req.System, "| true | 5 |")
	assert.Contains(t, req.System, "- highest avg_length_of_stay: 5 (readmitted=true)")
	assert.Contains(t, req.System, strings.TrimSpace(question))
}

func TestSynthesizeRetriesUngroundedNumbers(t *testing.T) {
	f := staysByReadmission(t)
	script := llmtest.Text(
		`{"bottom_line":"Readmitted patients stay 7.5 days on average.","additional_insights":"","follow_up_questions":[]}`,
		grounded,
	)
	r, err := newSynth(t, script, Options{}).Synthesize(context.Background(), f.table, f.intent, f.schema, "q")
	require.NoError(t, err)
	assert.Contains(t, r.BottomLine, "5 days")

	reqs := script.Requests()
	require.Len(t, reqs, 2)
	feedback := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Equal(t, llm.RoleUser, feedback.Role)
	assert.Contains(t, feedback.Content, "7.5")
}

func TestSynthesizeExhaustsAttempts(t *testing.T) {
	f := staysByReadmission(t)
	script := llmtest.Text(`{"bottom_line":"Readmitted patients stay 42 days.","additional_insights":"","follow_up_questions":[]}`)
	_, err := newSynth(t, script, Options{MaxAttempts: 2}).Synthesize(context.Background(), f.table, f.intent, f.schema, "q")
	require.ErrorIs(t, err, ErrSynthesis)
	var se *SynthesisError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 2, se.Attempts)
	assert.Len(t, se.Rejections, 2)
	assert.Contains(t, se.Error(), "42")
}

func TestSynthesizeRejectsEmptyBottomLine(t *testing.T) {
	f := staysByReadmission(t)
	script := llmtest.Text(`{"bottom_line":"  ","additional_insights":"x"}`, "not json at all", grounded)
	_, err := newSynth(t, script, Options{}).Synthesize(context.Background(), f.table, f.intent, f.schema, "q")
	require.NoError(t, err)
	assert.Equal(t, 3, script.Calls())
}

func TestSynthesizeWrapsServiceFailure(t *testing.T) {
	f := staysByReadmission(t)
	cause := &llm.TimeoutError{After: time.Second}
	script := llmtest.NewScript(llmtest.Reply{Err: cause}, llmtest.Reply{Content: grounded})
	_, err := newSynth(t, script, Options{}).Synthesize(context.Background(), f.table, f.intent, f.schema, "q")
	require.ErrorIs(t, err, ErrSynthesis)
	var te *llm.TimeoutError
	assert.True(t, errors.As(err, &te))
	assert.Equal(t, 1, script.Calls())

	rl := &llm.RateLimitError{APIError: &llm.APIError{StatusCode: http.StatusTooManyRequests}}
	_, err = newSynth(t, llmtest.NewScript(llmtest.Reply{Err: rl}), Options{}).Synthesize(context.Background(), f.table, f.intent, f.schema, "q")
	require.ErrorIs(t, err, ErrSynthesis)
}

func TestFollowUpsFromUnusedColumns(t *testing.T) {
	f := run(t, datasettest.Patients(t), intent.Intent{
		Metrics: []intent.Metric{{Agg: intent.AggAvg, Column: "length_of_stay"}},
		GroupBy: []string{"readmitted"},
	})
	reply := `{"bottom_line":"Stays are similar.","additional_insights":"","follow_up_questions":["Does ward affect stay?","What about the weather?","Is average stay seasonal?"]}`
	r, err := newSynth(t, llmtest.Text(reply), Options{}).Synthesize(context.Background(), f.table, f.intent, f.schema, "q")
	require.NoError(t, err)

	qs := r.FollowUpQuestions
	require.GreaterOrEqual(t, len(qs), 1)
	require.LessOrEqual(t, len(qs), 5)
	assert.Equal(t, "Does ward affect stay?", qs[0])
	for _, q := range qs {
		assert.NotContains(t, q, "weather")
		assert.NotContains(t, q, "seasonal")
		assert.NotContains(t, q, "patient_id")
	}
	assert.Equal(t, []string{
		"Does ward affect stay?",
		"How does the average cost differ across readmitted?",
		"How has the average length_of_stay changed over admitted?",
		"How does the average age differ across readmitted?",
	}, qs)
}

func TestNarrativeIsBounded(t *testing.T) {
	f := staysByReadmission(t)
	long := strings.Repeat("Readmitted patients stay 5 days. ", 20)
	reply := `{"bottom_line":"` + long + `","additional_insights":"","follow_up_questions":[]}`
	r, err := newSynth(t, llmtest.Text(reply), Options{MaxNarrativeTokens: 20}).Synthesize(context.Background(), f.table, f.intent, f.schema, "q")
	require.NoError(t, err)
	assert.LessOrEqual(t, len([]rune(r.BottomLine)), 80)
	assert.True(t, strings.HasSuffix(r.BottomLine, "."), r.BottomLine)
}

func TestAdditionalInsightsAsList(t *testing.T) {
	f := staysByReadmission(t)
	reply := `{"bottom_line":"Readmitted stays average 5 days.","additional_insights":["Gap is 2 days.","Non-readmitted average 3."],"follow_up_questions":[]}`
	r, err := newSynth(t, llmtest.Text(reply), Options{}).Synthesize(context.Background(), f.table, f.intent, f.schema, "q")
	require.NoError(t, err)
	assert.Equal(t, "Gap is 2 days. Non-readmitted average 3.", r.AdditionalInsights)
}
