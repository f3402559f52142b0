// Package insight phrases a computed result table as a BusinessResult. The
// completion service writes the narrative; every number it cites must trace
// back to the table, its highlights or the question.
package insight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/KaramelBytes/insightloom-cli/internal/executor"
	"github.com/KaramelBytes/insightloom-cli/internal/intent"
	"github.com/KaramelBytes/insightloom-cli/internal/llm"
	"github.com/KaramelBytes/insightloom-cli/internal/profile"
	"github.com/KaramelBytes/insightloom-cli/internal/prompts"
	"github.com/KaramelBytes/insightloom-cli/internal/result"
	"github.com/KaramelBytes/insightloom-cli/internal/utils"
)

// ErrSynthesis matches any *SynthesisError.
var ErrSynthesis = errors.New("insight synthesis failed")

// SynthesisError is returned when no grounded narrative could be obtained.
type SynthesisError struct {
	Attempts   int
	Rejections []string
	Err        error
}

func (e *SynthesisError) Error() string {
	msg := fmt.Sprintf("could not synthesize a grounded answer after %d attempt(s)", e.Attempts)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SynthesisError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrSynthesis}
	}
	return []error{ErrSynthesis, e.Err}
}

const (
	defaultMaxAttempts        = 3
	defaultMaxTokens          = 700
	defaultPromptTokenBudget  = 3000
	defaultMaxNarrativeTokens = 250
	maxFollowUps              = 5
)

// Options configures a Synthesizer. Zero values take the defaults.
type Options struct {
	MaxAttempts int
	MaxTokens   int
	Temperature float64
	// PromptTokenBudget caps the result table quoted in the prompt.
	PromptTokenBudget int
	// MaxNarrativeTokens bounds bottom_line and additional_insights each.
	MaxNarrativeTokens int
	Clock              clockwork.Clock
	Logger             *slog.Logger
}

type Synthesizer struct {
	svc     llm.Service
	opt     Options
	prompts *prompts.Prompts
	log     *slog.Logger
}

func NewSynthesizer(svc llm.Service, opt Options) (*Synthesizer, error) {
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
	if opt.MaxNarrativeTokens <= 0 {
		opt.MaxNarrativeTokens = defaultMaxNarrativeTokens
	}
	if opt.Clock == nil {
		opt.Clock = clockwork.NewRealClock()
	}
	log := opt.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	p, err := prompts.Load()
	if err != nil {
		return nil, err
	}
	return &Synthesizer{svc: svc, opt: opt, prompts: p, log: log}, nil
}

// draft is the JSON object the completion service returns.
type draft struct {
	BottomLine         string          `json:"bottom_line"`
	AdditionalInsights json.RawMessage `json:"additional_insights"`
	FollowUpQuestions  []string        `json:"follow_up_questions"`
}

// Synthesize writes the business answer for table. question is stored
// verbatim in the metadata.
func (s *Synthesizer) Synthesize(ctx context.Context, table *executor.ResultTable, in *intent.Intent, schema *profile.SchemaSummary, question string) (*result.BusinessResult, error) {
	if table == nil || in == nil || schema == nil {
		return nil, &SynthesisError{Err: errors.New("table, intent and schema are required")}
	}
	unused := unusedColumns(schema, in)
	ev := gatherEvidence(table, question)
	system := s.systemPrompt(table, question, unused)
	messages := []llm.Message{{Role: llm.RoleUser, Content: "Write the JSON answer now."}}
	var rejections []string

	for attempt := 1; attempt <= s.opt.MaxAttempts; attempt++ {
		resp, err := s.svc.Complete(ctx, llm.Request{
			System:      system,
			Messages:    messages,
			MaxTokens:   s.opt.MaxTokens,
			Temperature: s.opt.Temperature,
			JSON:        true,
		})
		if err != nil {
			return nil, &SynthesisError{Attempts: attempt, Rejections: rejections, Err: err}
		}

		d, reason := s.accept(resp.Content, ev)
		if reason == nil {
			r := &result.BusinessResult{
				BottomLine:         s.bound(d.BottomLine),
				AdditionalInsights: s.bound(insightsText(d.AdditionalInsights)),
				FollowUpQuestions:  followUps(d.FollowUpQuestions, unused, in, maxFollowUps),
				Metadata: result.Metadata{
					Timestamp:       s.opt.Clock.Now().UTC().Format(time.RFC3339),
					Question:        question,
					RowsAnalyzed:    table.RowsAnalyzed(),
					ColumnsAnalyzed: table.ColumnsAnalyzed(),
				},
			}
			s.log.Debug("insight: synthesized", "attempt", attempt, "follow_ups", len(r.FollowUpQuestions))
			return r, nil
		}

		rejections = append(rejections, reason.Error())
		s.log.Warn("insight: rejected narrative", "attempt", attempt, "reason", reason)
		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: resp.Content},
			llm.Message{Role: llm.RoleUser, Content: "Your answer was rejected: " + reason.Error() +
				"\nRewrite it using only numbers that appear in the result table or highlights. Reply with the JSON object only."},
		)
	}
	return nil, &SynthesisError{
		Attempts:   s.opt.MaxAttempts,
		Rejections: rejections,
		Err:        errors.New(rejections[len(rejections)-1]),
	}
}

func (s *Synthesizer) accept(content string, ev *evidence) (*draft, error) {
	raw := llm.ExtractJSON(content)
	if raw == "" {
		return nil, errors.New("response contains no JSON object")
	}
	var d draft
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, fmt.Errorf("response is not a valid answer object: %w", err)
	}
	if strings.TrimSpace(d.BottomLine) == "" {
		return nil, errors.New("bottom_line is empty")
	}
	narrative := d.BottomLine + "\n" + insightsText(d.AdditionalInsights)
	if bad := ev.ungrounded(narrative); len(bad) > 0 {
		return nil, fmt.Errorf("numbers not found in the result table: %s", strings.Join(bad, ", "))
	}
	return &d, nil
}

// insightsText accepts additional_insights as a string or a list of strings.
func insightsText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.TrimSpace(strings.Join(list, " "))
	}
	return ""
}

// bound trims text to the narrative budget, cutting at a sentence or word
// boundary so no number is split.
func (s *Synthesizer) bound(text string) string {
	limit := s.opt.MaxNarrativeTokens
	if utils.CountTokens(text) <= limit {
		return text
	}
	cut := utils.TruncateToTokenLimit(text, limit)
	if i := strings.LastIndexAny(cut, ".!?"); i > 0 && i+1 < len(cut) && cut[i+1] == ' ' {
		return cut[:i+1]
	}
	if i := strings.LastIndex(cut, " "); i > 0 {
		return strings.TrimRight(cut[:i], ",;:") + "..."
	}
	return cut
}

func (s *Synthesizer) systemPrompt(table *executor.ResultTable, question string, unused []profile.ColumnProfile) string {
	tableText := table.Markdown(0)
	if utils.CountTokens(tableText) > s.opt.PromptTokenBudget {
		// keep whole rows: halve until the table fits
		rows := table.RowsAnalyzed()
		for rows > 1 && utils.CountTokens(tableText) > s.opt.PromptTokenBudget {
			rows /= 2
			tableText = table.Markdown(rows)
		}
		s.log.Debug("insight: truncated result table", "rows_shown", rows, "rows", table.RowsAnalyzed())
	}
	names := make([]string, len(unused))
	for i, c := range unused {
		names[i] = fmt.Sprintf("- %s (%s)", c.Name, c.Type)
	}
	unusedText := strings.Join(names, "\n")
	if unusedText == "" {
		unusedText = "(none)"
	}
	return prompts.Fill(s.prompts.Synthesize, map[string]string{
		"QUESTION":       question,
		"TABLE":          tableText,
		"HIGHLIGHTS":     table.Highlights().Markdown(),
		"UNUSED_COLUMNS": unusedText,
	})
}
