package pipeline

import (
	"context"

	"github.com/alitto/pond/v2"

	"github.com/KaramelBytes/insightloom-cli/internal/dataset"
)

const defaultBatchConcurrency = 4

// BatchItem is the answer, or the error, for one question of a batch.
type BatchItem struct {
	Question string
	Outcome  *Outcome
	Err      error
}

// RunBatch answers every question against the same read-only dataset with at
// most concurrency runs in flight. Items come back in question order; one
// failing question does not stop the others.
func (o *Orchestrator) RunBatch(ctx context.Context, d *dataset.Dataset, questions []string, concurrency int) ([]BatchItem, error) {
	if len(questions) == 0 {
		return nil, nil
	}
	if concurrency <= 0 {
		concurrency = defaultBatchConcurrency
	}
	pool := pond.NewResultPool[BatchItem](concurrency)
	defer pool.StopAndWait()

	group := pool.NewGroupContext(ctx)
	for _, q := range questions {
		group.Submit(func() BatchItem {
			out, err := o.Run(ctx, d, q)
			return BatchItem{Question: q, Outcome: out, Err: err}
		})
	}
	items, err := group.Wait()
	if err != nil {
		return nil, err
	}
	o.log.Info("pipeline: batch done", "questions", len(questions), "concurrency", concurrency)
	return items, nil
}
