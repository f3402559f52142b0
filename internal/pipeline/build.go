package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/KaramelBytes/insightloom-cli/internal/executor"
	"github.com/KaramelBytes/insightloom-cli/internal/insight"
	"github.com/KaramelBytes/insightloom-cli/internal/intent"
	"github.com/KaramelBytes/insightloom-cli/internal/llm"
	"github.com/KaramelBytes/insightloom-cli/internal/profile"
	"github.com/KaramelBytes/insightloom-cli/internal/suggest"
)

// Settings gathers the knobs of every stage.
type Settings struct {
	MaxTokens   int
	Temperature float64

	IntentMaxAttempts    int
	SynthesisMaxAttempts int
	PromptTokenBudget    int
	MaxNarrativeTokens   int

	SampleRows int
	// CacheTTL enables the profile cache when positive.
	CacheTTL time.Duration
	Limits   executor.Limits

	// Retry wraps the service unless Retry.MaxAttempts is negative.
	Retry llm.RetryConfig

	// DescribeColumns asks the service for a data dictionary during Profiling
	// and hands it to the resolver with the schema.
	DescribeColumns bool

	Clock    clockwork.Clock
	Logger   *slog.Logger
	Observer Observer
}

// Build wires the default stages around one completion service.
func Build(svc llm.Service, s Settings) (*Orchestrator, error) {
	if svc == nil {
		return nil, errors.New("completion service is required")
	}
	log := s.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if s.Retry.MaxAttempts >= 0 {
		retry := s.Retry
		retry.Logger = log
		svc = llm.NewRetrying(svc, retry)
	}
	svc = Metered(svc)

	var cache *profile.Cache
	if s.CacheTTL > 0 {
		cache = profile.NewCache(s.CacheTTL)
	}
	prof := profile.NewProfiler(profile.Options{SampleRows: s.SampleRows, Cache: cache, Logger: log})

	res, err := intent.NewResolver(svc, intent.ResolverOptions{
		MaxAttempts:       s.IntentMaxAttempts,
		MaxTokens:         s.MaxTokens,
		Temperature:       s.Temperature,
		PromptTokenBudget: s.PromptTokenBudget,
		Logger:            log,
	})
	if err != nil {
		return nil, fmt.Errorf("build resolver: %w", err)
	}
	syn, err := insight.NewSynthesizer(svc, insight.Options{
		MaxAttempts:        s.SynthesisMaxAttempts,
		MaxTokens:          s.MaxTokens,
		Temperature:        s.Temperature,
		PromptTokenBudget:  s.PromptTokenBudget,
		MaxNarrativeTokens: s.MaxNarrativeTokens,
		Clock:              s.Clock,
		Logger:             log,
	})
	if err != nil {
		return nil, fmt.Errorf("build synthesizer: %w", err)
	}
	exec := executor.New(executor.Options{Limits: s.Limits, Logger: log})

	opt := Options{Clock: s.Clock, Logger: log, Observer: s.Observer}
	if s.DescribeColumns {
		sug, err := suggest.New(svc, suggest.Options{MaxTokens: s.MaxTokens, Temperature: s.Temperature, Logger: log})
		if err != nil {
			return nil, fmt.Errorf("build describer: %w", err)
		}
		opt.Describer = sug
	}
	return New(prof, res, exec, syn, opt), nil
}
