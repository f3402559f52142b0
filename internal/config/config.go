package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/KaramelBytes/insightloom-cli/internal/llm"
)

const dirName = ".insightloom"

// Global configuration structure.
type Global struct {
	APIKey          string  `mapstructure:"api_key" yaml:"api_key"`
	AnthropicAPIKey string  `mapstructure:"anthropic_api_key" yaml:"anthropic_api_key"`
	DefaultProvider string  `mapstructure:"default_provider" yaml:"default_provider"`
	DefaultModel    string  `mapstructure:"default_model" yaml:"default_model"`
	MaxTokens       int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature" yaml:"temperature"`

	// HTTP/Retry configuration
	HTTPTimeoutSec   int `mapstructure:"http_timeout_sec" yaml:"http_timeout_sec"`
	CallTimeoutSec   int `mapstructure:"call_timeout_sec" yaml:"call_timeout_sec"`
	RetryMaxAttempts int `mapstructure:"retry_max_attempts" yaml:"retry_max_attempts"`
	RetryBaseDelayMs int `mapstructure:"retry_base_delay_ms" yaml:"retry_base_delay_ms"`
	RetryMaxDelayMs  int `mapstructure:"retry_max_delay_ms" yaml:"retry_max_delay_ms"`

	// Local runtimes (Ollama)
	OllamaHost string `mapstructure:"ollama_host" yaml:"ollama_host"`

	// Analysis stages
	IntentMaxAttempts    int `mapstructure:"intent_max_attempts" yaml:"intent_max_attempts"`
	SynthesisMaxAttempts int `mapstructure:"synthesis_max_attempts" yaml:"synthesis_max_attempts"`
	ProfileSampleRows    int `mapstructure:"profile_sample_rows" yaml:"profile_sample_rows"`
	ProfileCacheTTLSec   int `mapstructure:"profile_cache_ttl_sec" yaml:"profile_cache_ttl_sec"`
	MaxRows              int `mapstructure:"max_rows" yaml:"max_rows"`
	MaxColumns           int `mapstructure:"max_columns" yaml:"max_columns"`
	MaxGroups            int `mapstructure:"max_groups" yaml:"max_groups"`
	PromptTokenBudget    int `mapstructure:"prompt_token_budget" yaml:"prompt_token_budget"`
	MaxNarrativeTokens   int `mapstructure:"max_narrative_tokens" yaml:"max_narrative_tokens"`
	BatchConcurrency     int `mapstructure:"batch_concurrency" yaml:"batch_concurrency"`

	// Ask the model for a data dictionary before resolving
	DescribeColumns bool `mapstructure:"describe_columns" yaml:"describe_columns"`

	// Run history
	HistoryDir    string `mapstructure:"history_dir" yaml:"history_dir"`
	HistoryDriver string `mapstructure:"history_driver" yaml:"history_driver"`
}

func defaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, dirName), nil
}

// Save writes the given configuration to the cfgFile path. If cfgFile is empty,
// it writes to ~/.insightloom/config.yaml, creating the directory if necessary.
func Save(c *Global, cfgFile string) error {
	path := cfgFile
	if path == "" {
		dir, err := defaultDir()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir config dir: %w", err)
		}
		path = filepath.Join(dir, "config.yaml")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_key", "")
	v.SetDefault("anthropic_api_key", "")
	v.SetDefault("history_dir", "")
	// provider keys may also come from their conventional variables
	_ = v.BindEnv("api_key", "INSIGHTLOOM_API_KEY", "OPENROUTER_API_KEY")
	_ = v.BindEnv("anthropic_api_key", "INSIGHTLOOM_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	v.SetDefault("default_provider", llm.ProviderOpenRouter)
	v.SetDefault("default_model", "openai/gpt-4o-mini")
	v.SetDefault("max_tokens", 800)
	v.SetDefault("temperature", 0.0)
	// HTTP/retry defaults
	v.SetDefault("http_timeout_sec", 60)
	v.SetDefault("call_timeout_sec", 30)
	v.SetDefault("retry_max_attempts", 3)
	v.SetDefault("retry_base_delay_ms", 500)
	v.SetDefault("retry_max_delay_ms", 4000)
	v.SetDefault("ollama_host", "http://127.0.0.1:11434")

	v.SetDefault("intent_max_attempts", 3)
	v.SetDefault("synthesis_max_attempts", 3)
	v.SetDefault("profile_sample_rows", 1000)
	v.SetDefault("profile_cache_ttl_sec", 900)
	v.SetDefault("max_rows", 1_000_000)
	v.SetDefault("max_columns", 500)
	v.SetDefault("max_groups", 10_000)
	v.SetDefault("prompt_token_budget", 3000)
	v.SetDefault("max_narrative_tokens", 250)
	v.SetDefault("batch_concurrency", 4)
	v.SetDefault("describe_columns", false)
	v.SetDefault("history_driver", "json")
}

// Load loads configuration from file, env, and defaults.
// Precedence: flags (cfgFile) > env > config file > defaults.
func Load(cfgFile string) (*Global, error) {
	v := viper.New()
	v.SetEnvPrefix("INSIGHTLOOM")
	v.AutomaticEnv()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		dir, err := defaultDir()
		if err != nil {
			return nil, err
		}
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, missing := err.(viper.ConfigFileNotFoundError); !missing && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Global
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if c.HistoryDir == "" {
		dir, err := defaultDir()
		if err != nil {
			return nil, err
		}
		c.HistoryDir = filepath.Join(dir, "history")
	}
	return &c, nil
}

// Keys lists the settable keys in display order.
func Keys() []string {
	return []string{
		"api_key", "anthropic_api_key", "default_provider", "default_model", "max_tokens", "temperature",
		"http_timeout_sec", "call_timeout_sec", "retry_max_attempts", "retry_base_delay_ms", "retry_max_delay_ms",
		"ollama_host", "intent_max_attempts", "synthesis_max_attempts", "profile_sample_rows",
		"profile_cache_ttl_sec", "max_rows", "max_columns", "max_groups", "prompt_token_budget",
		"max_narrative_tokens", "batch_concurrency", "describe_columns", "history_dir", "history_driver",
	}
}

func (c *Global) ints() map[string]*int {
	return map[string]*int{
		"max_tokens":             &c.MaxTokens,
		"http_timeout_sec":       &c.HTTPTimeoutSec,
		"call_timeout_sec":       &c.CallTimeoutSec,
		"retry_max_attempts":     &c.RetryMaxAttempts,
		"retry_base_delay_ms":    &c.RetryBaseDelayMs,
		"retry_max_delay_ms":     &c.RetryMaxDelayMs,
		"intent_max_attempts":    &c.IntentMaxAttempts,
		"synthesis_max_attempts": &c.SynthesisMaxAttempts,
		"profile_sample_rows":    &c.ProfileSampleRows,
		"profile_cache_ttl_sec":  &c.ProfileCacheTTLSec,
		"max_rows":               &c.MaxRows,
		"max_columns":            &c.MaxColumns,
		"max_groups":             &c.MaxGroups,
		"prompt_token_budget":    &c.PromptTokenBudget,
		"max_narrative_tokens":   &c.MaxNarrativeTokens,
		"batch_concurrency":      &c.BatchConcurrency,
	}
}

func (c *Global) strs() map[string]*string {
	return map[string]*string{
		"api_key":           &c.APIKey,
		"anthropic_api_key": &c.AnthropicAPIKey,
		"default_model":     &c.DefaultModel,
		"ollama_host":       &c.OllamaHost,
		"history_dir":       &c.HistoryDir,
	}
}

// Set assigns one key from its string form.
func (c *Global) Set(key, val string) error {
	if p, ok := c.strs()[key]; ok {
		*p = val
		return nil
	}
	if p, ok := c.ints()[key]; ok {
		i, err := strconv.Atoi(val)
		if err != nil || i < 0 {
			return fmt.Errorf("invalid non-negative int for %s: %q", key, val)
		}
		*p = i
		return nil
	}
	switch key {
	case "temperature":
		f, err := strconv.ParseFloat(val, 64)
		if err != nil || f < 0 {
			return fmt.Errorf("invalid float for temperature: %q", val)
		}
		c.Temperature = f
	case "default_provider":
		switch p := strings.ToLower(val); p {
		case llm.ProviderOpenRouter, llm.ProviderOllama, llm.ProviderAnthropic:
			c.DefaultProvider = p
		case "local":
			c.DefaultProvider = llm.ProviderOllama
		default:
			return fmt.Errorf("invalid default_provider: %s (use openrouter, ollama or anthropic)", val)
		}
	case "describe_columns":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid bool for describe_columns: %q", val)
		}
		c.DescribeColumns = b
	case "history_driver":
		switch d := strings.ToLower(val); d {
		case "json", "sqlite":
			c.HistoryDriver = d
		default:
			return fmt.Errorf("invalid history_driver: %s (use json or sqlite)", val)
		}
	default:
		return fmt.Errorf("unknown key: %s", key)
	}
	return nil
}

// Get renders one key for display. Secrets are masked.
func (c *Global) Get(key string) (string, bool) {
	if p, ok := c.strs()[key]; ok {
		if strings.HasSuffix(key, "api_key") {
			return mask(*p), true
		}
		return *p, true
	}
	if p, ok := c.ints()[key]; ok {
		return strconv.Itoa(*p), true
	}
	switch key {
	case "temperature":
		return strconv.FormatFloat(c.Temperature, 'f', 3, 64), true
	case "default_provider":
		return c.DefaultProvider, true
	case "describe_columns":
		return strconv.FormatBool(c.DescribeColumns), true
	case "history_driver":
		return c.HistoryDriver, true
	}
	return "", false
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 6 {
		return "******"
	}
	return s[:3] + "****" + s[len(s)-3:]
}

// Runtime picks the provider settings; empty provider or model fall back to the defaults.
func (c *Global) Runtime(provider, model string) (string, llm.RuntimeConfig) {
	if provider == "" {
		provider = c.DefaultProvider
	}
	if model == "" {
		model = c.DefaultModel
	}
	rc := llm.RuntimeConfig{
		Model:       model,
		HTTPTimeout: time.Duration(c.HTTPTimeoutSec) * time.Second,
		Host:        c.OllamaHost,
	}
	switch provider {
	case llm.ProviderAnthropic:
		rc.APIKey = c.AnthropicAPIKey
	case llm.ProviderOpenRouter:
		rc.APIKey = c.APIKey
	}
	return provider, rc
}
