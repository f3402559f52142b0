package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicMaxTokens = 1024

// AnthropicClient implements Service using the Anthropic Messages API.
// SDK-level retries are disabled so that Retrying owns the retry policy.
type AnthropicClient struct {
	client anthropic.Client
	model  anthropic.Model
	log    *slog.Logger
}

// NewAnthropicClient builds a client. An empty apiKey falls back to the
// SDK's ANTHROPIC_API_KEY lookup; baseURL is for tests.
func NewAnthropicClient(apiKey, model, baseURL string, httpTimeout time.Duration, log *slog.Logger) *AnthropicClient {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpTimeout > 0 {
		opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: httpTimeout}))
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &AnthropicClient{client: anthropic.NewClient(opts...), model: anthropic.Model(model), log: log}
}

func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if c.model == "" {
		return nil, errors.New("model cannot be empty")
	}
	if len(req.Messages) == 0 {
		return nil, errors.New("messages cannot be empty")
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages:  make([]anthropic.MessageParam, 0, len(req.Messages)),
	}
	system := req.System
	if req.JSON {
		system += "\n\nRespond with a single JSON object and nothing else."
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	start := time.Now()
	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		c.log.Debug("anthropic: call failed", "model", c.model, "duration", time.Since(start), "error", err)
		return nil, mapAnthropicError(ctx, err)
	}
	c.log.Debug("anthropic: call completed", "model", c.model, "duration", time.Since(start), "stop_reason", msg.StopReason)

	for _, block := range msg.Content {
		if block.Type == "text" {
			return &Response{
				Content: block.Text,
				Model:   string(msg.Model),
				Usage: Usage{
					PromptTokens:     int(msg.Usage.InputTokens),
					CompletionTokens: int(msg.Usage.OutputTokens),
					TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
				},
				RequestID: msg.ID,
			}, nil
		}
	}
	return nil, &MalformedResponseError{Provider: ProviderAnthropic, Reason: "no text content in response"}
}

func mapAnthropicError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		e := &APIError{StatusCode: apiErr.StatusCode, Message: apiErr.Error()}
		header := http.Header{}
		if apiErr.Response != nil {
			header = apiErr.Response.Header
			e.RequestID = extractRequestID(header)
		}
		return classifyAPIError(e, header)
	}
	return &UnreachableError{Host: "api.anthropic.com", Err: fmt.Errorf("anthropic: %w", err)}
}
