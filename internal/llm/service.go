// Package llm is the completion-service boundary. Stages depend on Service;
// runtimes for OpenRouter, Ollama and Anthropic implement it, and Retrying
// wraps any of them with timeouts and backoff.
package llm

import "context"

// Roles used in Message.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-neutral completion request.
type Request struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	// JSON asks the runtime for a JSON object response where the provider supports it.
	JSON bool
}

// Usage reports token counts when the provider returns them.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the text a runtime produced.
type Response struct {
	Content   string
	Model     string
	Usage     Usage
	RequestID string
	// Attempts is set by Retrying to the number of calls made.
	Attempts int
}

// Service produces one completion per call.
type Service interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// ServiceFunc adapts a function to Service.
type ServiceFunc func(ctx context.Context, req Request) (*Response, error)

func (f ServiceFunc) Complete(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// UserPrompt builds a single-turn request.
func UserPrompt(system, user string) Request {
	return Request{System: system, Messages: []Message{{Role: RoleUser, Content: user}}}
}
