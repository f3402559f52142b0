package llm

import (
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// Provider identifiers used across the CLI for selection.
const (
	ProviderOpenRouter = "openrouter"
	ProviderOllama     = "ollama"
	ProviderAnthropic  = "anthropic"
)

// RuntimeConfig carries the knobs runtimes share.
type RuntimeConfig struct {
	Model       string
	HTTPTimeout time.Duration
	// OpenRouter / Anthropic
	APIKey  string
	BaseURL string
	// Ollama
	Host   string
	Logger *slog.Logger
}

// RuntimeFactory builds a Service from a RuntimeConfig.
type RuntimeFactory func(RuntimeConfig) Service

var registry = map[string]RuntimeFactory{}

// RegisterRuntime registers a provider name with its factory.
func RegisterRuntime(name string, f RuntimeFactory) { registry[name] = f }

// NewRuntime creates the Service registered under name.
func NewRuntime(name string, cfg RuntimeConfig) (Service, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (available: %v)", name, Providers())
	}
	return f(cfg), nil
}

// Providers lists registered provider names, sorted.
func Providers() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func init() {
	RegisterRuntime(ProviderOpenRouter, func(c RuntimeConfig) Service {
		return NewOpenRouterClient(c.APIKey, c.Model, c.BaseURL, c.HTTPTimeout)
	})
	RegisterRuntime(ProviderOllama, func(c RuntimeConfig) Service {
		return NewOllamaClient(c.Host, c.Model, c.HTTPTimeout)
	})
	RegisterRuntime(ProviderAnthropic, func(c RuntimeConfig) Service {
		return NewAnthropicClient(c.APIKey, c.Model, c.BaseURL, c.HTTPTimeout, c.Logger)
	})
}
