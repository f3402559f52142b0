// Package pipeline runs a question against a dataset through the analysis
// stages and returns a complete BusinessResult or a stage-tagged error.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/KaramelBytes/insightloom-cli/internal/dataset"
	"github.com/KaramelBytes/insightloom-cli/internal/executor"
	"github.com/KaramelBytes/insightloom-cli/internal/intent"
	"github.com/KaramelBytes/insightloom-cli/internal/plan"
	"github.com/KaramelBytes/insightloom-cli/internal/profile"
	"github.com/KaramelBytes/insightloom-cli/internal/result"
)

type Profiler interface {
	Profile(d *dataset.Dataset) (*profile.SchemaSummary, error)
}

// Describer adds plain-language column descriptions to a profile before the
// question is resolved.
type Describer interface {
	Describe(ctx context.Context, schema *profile.SchemaSummary) (*profile.SchemaSummary, error)
}

type Resolver interface {
	Resolve(ctx context.Context, question string, schema *profile.SchemaSummary) (*intent.Intent, error)
}

type Executor interface {
	Execute(p *plan.Plan, d *dataset.Dataset) (*executor.ResultTable, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, table *executor.ResultTable, in *intent.Intent, schema *profile.SchemaSummary, question string) (*result.BusinessResult, error)
}

// Outcome is a finished run: the answer plus every intermediate artifact
// needed to reproduce it.
type Outcome struct {
	Result      *result.BusinessResult
	Schema      *profile.SchemaSummary
	Intent      *intent.Intent
	Plan        *plan.Plan
	Table       *executor.ResultTable
	Transitions []Transition
	Duration    time.Duration
	// Completions counts completion-service attempts made during the run.
	Completions int
}

type Options struct {
	Clock    clockwork.Clock
	Logger   *slog.Logger
	Observer Observer
	// Describer, when set, runs during Profiling. A failure keeps the
	// profile-derived dictionary and the run goes on.
	Describer Describer
}

type Orchestrator struct {
	profiler    Profiler
	resolver    Resolver
	executor    Executor
	synthesizer Synthesizer
	describer   Describer
	clock       clockwork.Clock
	log         *slog.Logger
	observe     Observer
}

func New(p Profiler, r Resolver, e Executor, s Synthesizer, opt Options) *Orchestrator {
	if opt.Clock == nil {
		opt.Clock = clockwork.NewRealClock()
	}
	log := opt.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{
		profiler:    p,
		resolver:    r,
		executor:    e,
		synthesizer: s,
		describer:   opt.Describer,
		clock:       opt.Clock,
		log:         log,
		observe:     opt.Observer,
	}
}

type stage struct {
	name Stage
	run  func(context.Context) error
}

func (o *Orchestrator) stages(d *dataset.Dataset, question string, out *Outcome) []stage {
	return []stage{
		{Profiling, func(ctx context.Context) error {
			s, err := o.profiler.Profile(d)
			out.Schema = s
			if err != nil || o.describer == nil {
				return err
			}
			described, err := o.describer.Describe(ctx, s)
			if err != nil {
				if ctx.Err() != nil {
					return err
				}
				o.log.Warn("pipeline: column descriptions unavailable", "error", err)
				return nil
			}
			out.Schema = described
			return nil
		}},
		{Resolving, func(ctx context.Context) error {
			in, err := o.resolver.Resolve(ctx, question, out.Schema)
			out.Intent = in
			return err
		}},
		{Planning, func(context.Context) error {
			p, err := plan.Synthesize(out.Intent, out.Schema)
			out.Plan = p
			return err
		}},
		{Executing, func(context.Context) error {
			t, err := o.executor.Execute(out.Plan, d)
			out.Table = t
			return err
		}},
		{Synthesizing, func(ctx context.Context) error {
			r, err := o.synthesizer.Synthesize(ctx, out.Table, out.Intent, out.Schema, question)
			if err != nil {
				return err
			}
			if err := consistent(r, out.Table); err != nil {
				return err
			}
			out.Result = r
			return nil
		}},
	}
}

// Run answers question over d. Cancellation is checked before each stage; a
// cancelled run fails with an error matching ErrCancelled.
func (o *Orchestrator) Run(ctx context.Context, d *dataset.Dataset, question string) (*Outcome, error) {
	return o.run(ctx, d, question, Synthesizing)
}

// DryRun stops once the plan is built. The Outcome has no table or result
// and its last transition enters Planning.
func (o *Orchestrator) DryRun(ctx context.Context, d *dataset.Dataset, question string) (*Outcome, error) {
	return o.run(ctx, d, question, Planning)
}

func (o *Orchestrator) run(ctx context.Context, d *dataset.Dataset, question string, last Stage) (*Outcome, error) {
	start := o.clock.Now()
	m := &machine{state: Pending, now: o.clock.Now, observe: o.observe}
	ctx, calls := withMeter(ctx)
	out := &Outcome{}

	if d == nil {
		return nil, o.fail(m, Profiling, errors.New("dataset is required"))
	}
	for _, st := range o.stages(d, question, out) {
		if err := ctx.Err(); err != nil {
			return nil, o.fail(m, st.name, fmt.Errorf("%w before %s: %w", ErrCancelled, st.name, err))
		}
		if err := m.advance(st.name); err != nil {
			return nil, o.fail(m, st.name, err)
		}
		o.log.Debug("pipeline: stage", "stage", st.name, "dataset", d.Name())
		if err := st.run(ctx); err != nil {
			if ctx.Err() != nil && !errors.Is(err, ErrCancelled) {
				err = fmt.Errorf("%w: %w", ErrCancelled, err)
			}
			return nil, o.fail(m, st.name, err)
		}
		if st.name == last {
			break
		}
	}
	if last == Synthesizing {
		if err := m.advance(Done); err != nil {
			return nil, o.fail(m, Synthesizing, err)
		}
	}

	out.Transitions = m.history()
	out.Duration = o.clock.Since(start)
	out.Completions = calls.count()
	if out.Result != nil {
		o.log.Info("pipeline: done", "dataset", d.Name(), "rows_analyzed", out.Result.Metadata.RowsAnalyzed, "took", out.Duration, "completions", out.Completions)
	}
	return out, nil
}

func (o *Orchestrator) fail(m *machine, stage Stage, err error) *PipelineError {
	if !m.state.Terminal() {
		_ = m.advance(Failed)
	}
	o.log.Warn("pipeline: failed", "stage", stage, "error", err)
	return &PipelineError{Stage: stage, Reason: err.Error(), Err: err, Transitions: m.history()}
}

// consistent checks that the metadata counts describe the table the answer was built from.
func consistent(r *result.BusinessResult, t *executor.ResultTable) error {
	if r == nil {
		return errors.New("synthesizer returned no result")
	}
	if r.Metadata.RowsAnalyzed != t.RowsAnalyzed() || r.Metadata.ColumnsAnalyzed != t.ColumnsAnalyzed() {
		return fmt.Errorf("result reports %dx%d but the table is %dx%d",
			r.Metadata.RowsAnalyzed, r.Metadata.ColumnsAnalyzed, t.RowsAnalyzed(), t.ColumnsAnalyzed())
	}
	return r.Validate()
}
