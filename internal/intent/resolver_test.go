package intent

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/insightloom-cli/internal/llm"
	"github.com/KaramelBytes/insightloom-cli/internal/llm/llmtest"
)

const validIntent = `{"metrics":[{"agg":"avg","column":"length_of_stay"}],"group_by":["readmitted"],"paraphrase":"Average stay by readmission"}`

func newResolver(t *testing.T, svc llm.Service) *Resolver {
	t.Helper()
	r, err := NewResolver(svc, ResolverOptions{})
	require.NoError(t, err)
	return r
}

func TestResolveValidIntent(t *testing.T) {
	script := llmtest.Text(validIntent)
	in, err := newResolver(t, script).Resolve(context.Background(), "compare average length of stay by readmission status", patientSchema(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"avg_length_of_stay"}, in.Outputs())
	assert.Equal(t, []string{"readmitted"}, in.GroupBy)
	assert.Equal(t, &SortSpec{Key: "avg_length_of_stay", Direction: Desc}, in.Sort)
	assert.Equal(t, "Average stay by readmission", in.Paraphrase)

	reqs := script.Requests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].JSON)
	assert.Contains(t, reqs[0].System, "[SCHEMA]")
	assert.Contains(t, reqs[0].System, "- length_of_stay: float")
	assert.Contains(t, reqs[0].System, `"not_null"`)
	assert.NotContains(t, reqs[0].System, "{{")
}

func TestResolveFeedsRejectionBack(t *testing.T) {
	bad := `{"metrics":[{"agg":"sum","column":"revenue"}],"group_by":["region"]}`
	script := llmtest.Text(bad, validIntent)
	in, err := newResolver(t, script).Resolve(context.Background(), "average stay by readmission", patientSchema(t))
	require.NoError(t, err)
	assert.Equal(t, "avg_length_of_stay", in.Primary())

	reqs := script.Requests()
	require.Len(t, reqs, 2)
	retry := reqs[1].Messages
	require.Len(t, retry, 3)
	assert.Equal(t, llm.RoleAssistant, retry[1].Role)
	assert.Equal(t, bad, retry[1].Content)
	assert.Equal(t, llm.RoleUser, retry[2].Role)
	assert.Contains(t, retry[2].Content, `unknown column "revenue"`)
}

func TestResolveExhaustsAttempts(t *testing.T) {
	script := llmtest.Text(`{"metrics":[{"agg":"sum","column":"revenue"}],"group_by":["region"]}`)
	_, err := newResolver(t, script).Resolve(context.Background(), "show revenue by region", patientSchema(t))
	require.ErrorIs(t, err, ErrIntentResolution)

	var re *ResolutionError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, 3, re.Attempts)
	assert.Len(t, re.Rejections, 3)
	assert.Equal(t, "show revenue by region", re.Question)
	assert.Equal(t, 3, script.Calls())
}

func TestResolveRejectsMalformedOutput(t *testing.T) {
	script := llmtest.Text("I think you want revenue.", `{"metrics":[{"agg":"median","column":"cost"}]}`, validIntent)
	in, err := newResolver(t, script).Resolve(context.Background(), "q", patientSchema(t))
	require.NoError(t, err)
	assert.Equal(t, "avg_length_of_stay", in.Primary())
	assert.Equal(t, 3, script.Calls())
}

func TestResolveWrapsServiceFailure(t *testing.T) {
	cause := &llm.RateLimitError{APIError: &llm.APIError{StatusCode: http.StatusTooManyRequests, Message: "slow down"}}
	script := llmtest.NewScript(llmtest.Reply{Err: cause})
	_, err := newResolver(t, script).Resolve(context.Background(), "q", patientSchema(t))

	require.ErrorIs(t, err, ErrIntentResolution)
	var rl *llm.RateLimitError
	assert.True(t, errors.As(err, &rl))
	assert.Equal(t, 1, script.Calls())
}

func TestResolveEmptyQuestion(t *testing.T) {
	script := llmtest.Text(validIntent)
	_, err := newResolver(t, script).Resolve(context.Background(), "   ", patientSchema(t))
	require.ErrorIs(t, err, ErrIntentResolution)
	assert.Zero(t, script.Calls())
}

func TestResolvedIntentReferencesOnlySchemaColumns(t *testing.T) {
	schema := patientSchema(t)
	replies := []string{
		`{"metrics":[{"agg":"count"}],"group_by":["ward"],"filters":[{"column":"age","op":"gt","value":60}]}`,
		`{"metrics":[{"agg":"ratio","column":"cost","denominator":"length_of_stay"}],"group_by":["ward"],"sort":{"key":"ward","direction":"asc"}}`,
		`{"metrics":[{"agg":"sum","column":"cost"},{"agg":"avg","column":"cost"}],"comparison":"ratio"}`,
	}
	for _, reply := range replies {
		in, err := newResolver(t, llmtest.Text(reply)).Resolve(context.Background(), "q", schema)
		require.NoError(t, err, reply)
		for _, c := range in.Columns() {
			assert.True(t, schema.Has(c), c)
		}
	}
}

func TestNewResolverRequiresService(t *testing.T) {
	_, err := NewResolver(nil, ResolverOptions{})
	require.Error(t, err)
}
