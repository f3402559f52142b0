// Package history stores finished runs so a result can be shown again and
// reproduced: the question, the dataset fingerprint, the intent, the plan,
// the result table and the BusinessResult.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/KaramelBytes/insightloom-cli/internal/dataset"
	"github.com/KaramelBytes/insightloom-cli/internal/executor"
	"github.com/KaramelBytes/insightloom-cli/internal/intent"
	"github.com/KaramelBytes/insightloom-cli/internal/pipeline"
	"github.com/KaramelBytes/insightloom-cli/internal/plan"
	"github.com/KaramelBytes/insightloom-cli/internal/result"
)

// Storage drivers accepted by Open.
const (
	DriverJSON   = "json"
	DriverSQLite = "sqlite"
)

// ErrNotFound is returned by Get for an unknown run ID.
var ErrNotFound = errors.New("run not found")

// Record is one stored run.
type Record struct {
	ID          string                 `json:"id"`
	CreatedAt   time.Time              `json:"created_at"`
	Question    string                 `json:"question"`
	Paraphrase  string                 `json:"paraphrase,omitempty"`
	Dataset     string                 `json:"dataset"`
	Fingerprint string                 `json:"fingerprint"`
	Intent      *intent.Intent         `json:"intent"`
	PlanSource  string                 `json:"plan_source"`
	Plan        *plan.Plan             `json:"plan"`
	Table       *executor.ResultTable  `json:"result_table"`
	Result      *result.BusinessResult `json:"result"`
	DurationMS  int64                  `json:"duration_ms"`
	Completions int                    `json:"completions"`
}

// Summary is the listing view of a Record.
type Summary struct {
	ID         string
	CreatedAt  time.Time
	Dataset    string
	Question   string
	BottomLine string
}

func (r *Record) Summary() Summary {
	s := Summary{ID: r.ID, CreatedAt: r.CreatedAt, Dataset: r.Dataset, Question: r.Question}
	if r.Result != nil {
		s.BottomLine = r.Result.BottomLine
	}
	return s
}

// Store persists records. List returns the newest first; limit <= 0 means all.
type Store interface {
	Save(ctx context.Context, r *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context, limit int) ([]Summary, error)
	Close() error
}

// NewRecord captures a finished run under a fresh ID.
func NewRecord(out *pipeline.Outcome, d *dataset.Dataset, question string, now time.Time) (*Record, error) {
	if out == nil || out.Result == nil {
		return nil, errors.New("outcome has no result")
	}
	r := &Record{
		ID:          uuid.NewString(),
		CreatedAt:   now.UTC(),
		Question:    question,
		Dataset:     d.Name(),
		Fingerprint: d.Fingerprint(),
		Intent:      out.Intent,
		Plan:        out.Plan,
		Table:       out.Table,
		Result:      out.Result,
		DurationMS:  out.Duration.Milliseconds(),
		Completions: out.Completions,
	}
	if out.Intent != nil {
		r.Paraphrase = out.Intent.Paraphrase
	}
	if out.Plan != nil {
		r.PlanSource = out.Plan.Source()
	}
	return r, nil
}

// Open returns the store for driver rooted at dir.
func Open(driver, dir string) (Store, error) {
	switch driver {
	case "", DriverJSON:
		return NewJSONStore(dir)
	case DriverSQLite:
		return NewSQLiteStore(dir)
	}
	return nil, fmt.Errorf("unknown history driver %q (use %s or %s)", driver, DriverJSON, DriverSQLite)
}

func validID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %q is not a run ID", ErrNotFound, id)
	}
	return nil
}
