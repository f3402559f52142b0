// Package suggest asks the completion service about a dataset before any
// question is posed: plain-language column descriptions and starter questions.
package suggest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/KaramelBytes/insightloom-cli/internal/llm"
	"github.com/KaramelBytes/insightloom-cli/internal/profile"
	"github.com/KaramelBytes/insightloom-cli/internal/prompts"
)

// ErrReply matches any *ReplyError.
var ErrReply = errors.New("unusable suggestion reply")

// ReplyError reports a completion that could not be turned into suggestions.
type ReplyError struct {
	Kind   string // dictionary or questions
	Reason string
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("%s reply rejected: %s", e.Kind, e.Reason)
}

func (e *ReplyError) Unwrap() error { return ErrReply }

const (
	defaultMaxTokens = 800
	defaultQuestions = 5
)

// Options configures a Suggester. Zero values take the defaults.
type Options struct {
	MaxTokens   int
	Temperature float64
	// Questions is how many starter questions to keep.
	Questions int
	Logger    *slog.Logger
}

type Suggester struct {
	svc     llm.Service
	opt     Options
	prompts *prompts.Prompts
	log     *slog.Logger
}

func New(svc llm.Service, opt Options) (*Suggester, error) {
	if svc == nil {
		return nil, errors.New("completion service is required")
	}
	if opt.MaxTokens <= 0 {
		opt.MaxTokens = defaultMaxTokens
	}
	if opt.Questions <= 0 {
		opt.Questions = defaultQuestions
	}
	log := opt.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	p, err := prompts.Load()
	if err != nil {
		return nil, err
	}
	return &Suggester{svc: svc, opt: opt, prompts: p, log: log}, nil
}

type dictionaryReply struct {
	Columns      []string `json:"columns"`
	Descriptions []string `json:"descriptions"`
}

// Describe returns a copy of schema carrying the service's column
// descriptions. Columns the reply skips keep their profile-derived text.
func (s *Suggester) Describe(ctx context.Context, schema *profile.SchemaSummary) (*profile.SchemaSummary, error) {
	var r dictionaryReply
	if err := s.ask(ctx, "dictionary", s.prompts.Describe, schema, "Write the data dictionary now.", &r); err != nil {
		return nil, err
	}
	if len(r.Columns) != len(r.Descriptions) {
		return nil, &ReplyError{Kind: "dictionary", Reason: fmt.Sprintf("%d descriptions for %d columns", len(r.Descriptions), len(r.Columns))}
	}
	desc := make(map[string]string, len(r.Columns))
	for i, c := range r.Columns {
		c = strings.TrimSpace(c)
		d := strings.TrimSpace(r.Descriptions[i])
		if !schema.Has(c) {
			s.log.Debug("suggest: unknown column in dictionary", "column", c)
			continue
		}
		if d != "" {
			desc[c] = d
		}
	}
	if len(desc) == 0 {
		return nil, &ReplyError{Kind: "dictionary", Reason: "no description names a schema column"}
	}
	s.log.Debug("suggest: described columns", "described", len(desc), "columns", len(schema.Columns))
	return schema.WithDescriptions(desc), nil
}

type questionsReply struct {
	Questions []string `json:"questions"`
}

// Questions returns up to Options.Questions starter questions. Each kept
// question names a schema column; duplicates are dropped.
func (s *Suggester) Questions(ctx context.Context, schema *profile.SchemaSummary) ([]string, error) {
	var r questionsReply
	if err := s.ask(ctx, "questions", s.prompts.Suggest, schema, "List the questions now.", &r); err != nil {
		return nil, err
	}
	out := validQuestions(r.Questions, schema, s.opt.Questions)
	if len(out) == 0 {
		return nil, &ReplyError{Kind: "questions", Reason: "no question names a schema column"}
	}
	return out, nil
}

func (s *Suggester) ask(ctx context.Context, kind, tmpl string, schema *profile.SchemaSummary, user string, v any) error {
	system := prompts.Fill(tmpl, map[string]string{
		"DATASET_SCHEMA": schema.Markdown(),
		"COUNT":          strconv.Itoa(s.opt.Questions),
	})
	req := llm.UserPrompt(system, user)
	req.MaxTokens = s.opt.MaxTokens
	req.Temperature = s.opt.Temperature
	req.JSON = true
	resp, err := s.svc.Complete(ctx, req)
	if err != nil {
		return err
	}
	raw := llm.ExtractJSON(resp.Content)
	if raw == "" {
		return &ReplyError{Kind: kind, Reason: "response contains no JSON object"}
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return &ReplyError{Kind: kind, Reason: err.Error()}
	}
	return nil
}

func validQuestions(qs []string, schema *profile.SchemaSummary, limit int) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, q := range qs {
		q = strings.Join(strings.Fields(q), " ")
		key := strings.ToLower(q)
		if q == "" || !mentionsColumn(key, schema) {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, q)
		if len(out) == limit {
			break
		}
	}
	return out
}

// mentionsColumn matches a column by whole word, either as spelled or with
// underscores read as spaces. q must be lower case.
func mentionsColumn(q string, schema *profile.SchemaSummary) bool {
	for _, name := range schema.Names() {
		n := strings.ToLower(name)
		if containsWord(q, n) || containsWord(q, strings.ReplaceAll(n, "_", " ")) {
			return true
		}
	}
	return false
}

func containsWord(s, w string) bool {
	if w == "" {
		return false
	}
	for off := 0; ; {
		i := strings.Index(s[off:], w)
		if i < 0 {
			return false
		}
		start, end := off+i, off+i+len(w)
		if !wordByte(s, start-1) && !wordByte(s, end) {
			return true
		}
		off = start + 1
	}
}

func wordByte(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return false
	}
	c := s[i]
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
