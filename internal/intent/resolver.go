package intent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/KaramelBytes/insightloom-cli/internal/llm"
	"github.com/KaramelBytes/insightloom-cli/internal/profile"
	"github.com/KaramelBytes/insightloom-cli/internal/prompts"
	"github.com/KaramelBytes/insightloom-cli/internal/utils"
)

// ErrIntentResolution matches any *ResolutionError.
var ErrIntentResolution = errors.New("intent resolution failed")

// ResolutionError is returned when no valid intent could be obtained, either
// because every attempt was rejected or because the completion service failed.
type ResolutionError struct {
	Question   string
	Attempts   int
	Rejections []string
	Err        error
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("could not resolve question into an analysis intent after %d attempt(s)", e.Attempts)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResolutionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrIntentResolution}
	}
	return []error{ErrIntentResolution, e.Err}
}

const (
	defaultMaxAttempts       = 3
	defaultMaxTokens         = 800
	defaultPromptTokenBudget = 3000
)

// ResolverOptions configures a Resolver. Zero values take the defaults.
type ResolverOptions struct {
	MaxAttempts int
	MaxTokens   int
	Temperature float64
	// PromptTokenBudget caps the dataset schema block quoted in the prompt.
	PromptTokenBudget int
	Logger            *slog.Logger
}

// Resolver asks the completion service for an intent and accepts only one
// that passes the grammar and the schema check.
type Resolver struct {
	svc     llm.Service
	opt     ResolverOptions
	prompts *prompts.Prompts
	log     *slog.Logger
}

func NewResolver(svc llm.Service, opt ResolverOptions) (*Resolver, error) {
	if svc == nil {
		return nil, errors.New("completion service is required")
	}
	if opt.MaxAttempts <= 0 {
		opt.MaxAttempts = defaultMaxAttempts
	}
	if opt.MaxTokens <= 0 {
		opt.MaxTokens = defaultMaxTokens
	}
	if opt.PromptTokenBudget <= 0 {
		opt.PromptTokenBudget = defaultPromptTokenBudget
	}
	log := opt.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	p, err := prompts.Load()
	if err != nil {
		return nil, err
	}
	if _, err := loadGrammar(); err != nil {
		return nil, err
	}
	return &Resolver{svc: svc, opt: opt, prompts: p, log: log}, nil
}

// Resolve turns question into a normalized intent valid against schema.
func (r *Resolver) Resolve(ctx context.Context, question string, schema *profile.SchemaSummary) (*Intent, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, &ResolutionError{Err: errors.New("question is empty")}
	}
	if schema == nil {
		return nil, &ResolutionError{Question: question, Err: errors.New("schema summary is required")}
	}

	system, err := r.systemPrompt(schema)
	if err != nil {
		return nil, &ResolutionError{Question: question, Err: err}
	}
	messages := []llm.Message{{Role: llm.RoleUser, Content: question}}
	var rejections []string

	for attempt := 1; attempt <= r.opt.MaxAttempts; attempt++ {
		resp, err := r.svc.Complete(ctx, llm.Request{
			System:      system,
			Messages:    messages,
			MaxTokens:   r.opt.MaxTokens,
			Temperature: r.opt.Temperature,
			JSON:        true,
		})
		if err != nil {
			return nil, &ResolutionError{Question: question, Attempts: attempt, Rejections: rejections, Err: err}
		}

		in, reason := r.accept(resp.Content, schema)
		if reason == nil {
			r.log.Debug("intent: resolved", "attempt", attempt, "metrics", in.Outputs(), "group_by", in.GroupBy)
			return in, nil
		}

		rejections = append(rejections, reason.Error())
		r.log.Warn("intent: rejected proposal", "attempt", attempt, "reason", reason, "response", llm.Truncate(resp.Content, 200))
		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: resp.Content},
			llm.Message{Role: llm.RoleUser, Content: feedback(reason)},
		)
	}

	return nil, &ResolutionError{
		Question:   question,
		Attempts:   r.opt.MaxAttempts,
		Rejections: rejections,
		Err:        errors.New(rejections[len(rejections)-1]),
	}
}

func (r *Resolver) accept(content string, schema *profile.SchemaSummary) (*Intent, error) {
	in, err := Parse(content)
	if err != nil {
		return nil, err
	}
	if err := in.Validate(schema); err != nil {
		return nil, err
	}
	in.Normalize()
	return in, nil
}

func (r *Resolver) systemPrompt(schema *profile.SchemaSummary) (string, error) {
	grammarText, err := SchemaJSON()
	if err != nil {
		return "", err
	}
	datasetBlock := schema.Markdown()
	if utils.CountTokens(datasetBlock) > r.opt.PromptTokenBudget {
		r.log.Debug("intent: truncating schema block", "tokens", utils.CountTokens(datasetBlock), "budget", r.opt.PromptTokenBudget)
		datasetBlock = utils.TruncateToTokenLimit(datasetBlock, r.opt.PromptTokenBudget)
	}
	return prompts.Fill(r.prompts.Resolve, map[string]string{
		"VOCABULARY":     Vocabulary(),
		"INTENT_SCHEMA":  grammarText,
		"DATASET_SCHEMA": datasetBlock,
	}), nil
}

func feedback(reason error) string {
	return "Your previous answer was rejected:\n" + reason.Error() +
		"\n\nReply again with a single corrected JSON object that uses only columns from the dataset schema."
}
