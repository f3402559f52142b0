package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/insightloom-cli/internal/dataset/datasettest"
	"github.com/KaramelBytes/insightloom-cli/internal/llm"
	"github.com/KaramelBytes/insightloom-cli/internal/llm/llmtest"
	"github.com/KaramelBytes/insightloom-cli/internal/pipeline"
)

const question = "compare average length of stay by readmission status"

var at = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func record(t *testing.T, created time.Time) *Record {
	t.Helper()
	o, err := pipeline.Build(llmtest.Text(
		`{"metrics":[{"agg":"avg","column":"length_of_stay"}],"group_by":["readmitted"],"paraphrase":"Average stay by readmission"}`,
		`{"bottom_line":"Readmitted patients stay 5 days on average versus 3 days.","additional_insights":"","follow_up_questions":[]}`,
	), pipeline.Settings{Retry: llm.RetryConfig{MaxAttempts: -1}, Clock: clockwork.NewFakeClockAt(at)})
	require.NoError(t, err)
	d := datasettest.Stays(t)
	out, err := o.Run(context.Background(), d, question)
	require.NoError(t, err)
	r, err := NewRecord(out, d, question, created)
	require.NoError(t, err)
	return r
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	out := map[string]Store{}
	for _, driver := range []string{DriverJSON, DriverSQLite} {
		s, err := Open(driver, t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { assert.NoError(t, s.Close()) })
		out[driver] = s
	}
	return out
}

func TestNewRecordCapturesRun(t *testing.T) {
	r := record(t, at)
	_, err := uuid.Parse(r.ID)
	require.NoError(t, err)
	assert.Equal(t, "stays", r.Dataset)
	assert.Equal(t, datasettest.Stays(t).Fingerprint(), r.Fingerprint)
	assert.Equal(t, "Average stay by readmission", r.Paraphrase)
	assert.Equal(t, question, r.Question)
	assert.Contains(t, r.PlanSource, "aggregate(avg_length_of_stay = avg(length_of_stay))")
	assert.Equal(t, 2, r.Completions)

	_, err = NewRecord(&pipeline.Outcome{}, datasettest.Stays(t), question, at)
	assert.Error(t, err)
}

func TestStoreRoundTrip(t *testing.T) {
	for driver, s := range stores(t) {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			r := record(t, at)
			require.NoError(t, s.Save(ctx, r))

			got, err := s.Get(ctx, r.ID)
			require.NoError(t, err)
			assert.Equal(t, r.ID, got.ID)
			assert.True(t, r.CreatedAt.Equal(got.CreatedAt))
			assert.Equal(t, r.PlanSource, got.PlanSource)
			assert.Equal(t, r.Plan.Source(), got.Plan.Source())
			assert.Equal(t, r.Intent, got.Intent)
			assert.Equal(t, r.Result, got.Result)
			assert.Equal(t, r.Table.Columns(), got.Table.Columns())
			assert.Equal(t, r.Table.RowsAnalyzed(), got.Table.RowsAnalyzed())
			assert.Equal(t, r.Fingerprint, got.Fingerprint)
		})
	}
}

func TestStoreListsNewestFirst(t *testing.T) {
	for driver, s := range stores(t) {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			older := record(t, at)
			newer := record(t, at.Add(time.Hour))
			require.NoError(t, s.Save(ctx, older))
			require.NoError(t, s.Save(ctx, newer))

			all, err := s.List(ctx, 0)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, newer.ID, all[0].ID)
			assert.Equal(t, older.ID, all[1].ID)
			assert.Equal(t, "Readmitted patients stay 5 days on average versus 3 days.", all[0].BottomLine)

			one, err := s.List(ctx, 1)
			require.NoError(t, err)
			require.Len(t, one, 1)
			assert.Equal(t, newer.ID, one[0].ID)
		})
	}
}

func TestStoreGetUnknown(t *testing.T) {
	for driver, s := range stores(t) {
		t.Run(driver, func(t *testing.T) {
			_, err := s.Get(context.Background(), uuid.NewString())
			assert.True(t, errors.Is(err, ErrNotFound))

			_, err = s.Get(context.Background(), "../../etc/passwd")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("postgres", t.TempDir())
	assert.ErrorContains(t, err, "unknown history driver")
}

func TestSQLiteReopenKeepsRuns(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSQLiteStore(dir)
	require.NoError(t, err)
	r := record(t, at)
	require.NoError(t, s.Save(context.Background(), r))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(dir)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Question, got.Question)
}
