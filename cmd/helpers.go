package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	cfgpkg "github.com/KaramelBytes/insightloom-cli/internal/config"
	"github.com/KaramelBytes/insightloom-cli/internal/dataset"
	"github.com/KaramelBytes/insightloom-cli/internal/executor"
	"github.com/KaramelBytes/insightloom-cli/internal/history"
	"github.com/KaramelBytes/insightloom-cli/internal/llm"
	"github.com/KaramelBytes/insightloom-cli/internal/pipeline"
	"github.com/KaramelBytes/insightloom-cli/internal/suggest"
)

// loadFlags are the dataset flags shared by every command that reads a file.
type loadFlags struct {
	sheetName string
	delimiter string
	decimal   string
	thousands string
	maxRows   int
}

func (f *loadFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.sheetName, "sheet-name", "", "XLSX sheet to read (default: first sheet)")
	cmd.Flags().StringVar(&f.delimiter, "delimiter", "", "CSV delimiter: ',' | 'tab' | ';' (default: sniffed)")
	cmd.Flags().StringVar(&f.decimal, "decimal", "", "decimal separator: '.' | 'comma' (default: auto)")
	cmd.Flags().StringVar(&f.thousands, "thousands", "", "thousands separator: ',' | '.' | 'space'")
	cmd.Flags().IntVar(&f.maxRows, "max-rows", 0, "largest dataset accepted, in rows (default: max_rows from config)")
}

func (f *loadFlags) options() (dataset.ParseOptions, error) {
	opt := dataset.DefaultParseOptions()
	// --max-rows overrides the config value for the loader and the executor
	if f.maxRows > 0 {
		cfg.MaxRows = f.maxRows
	}
	if cfg.MaxRows > 0 {
		opt.MaxRows = cfg.MaxRows
	}
	switch f.delimiter {
	case "":
	case ",":
		opt.Delimiter = ','
	case "\t", "tab":
		opt.Delimiter = '\t'
	case ";":
		opt.Delimiter = ';'
	default:
		return opt, fmt.Errorf("unsupported --delimiter: %s", f.delimiter)
	}
	switch strings.ToLower(strings.TrimSpace(f.decimal)) {
	case ",", "comma":
		opt.DecimalSeparator = ','
	case ".", "dot":
		opt.DecimalSeparator = '.'
	case "":
	default:
		return opt, fmt.Errorf("unsupported --decimal: %s (use '.'|'comma')", f.decimal)
	}
	switch strings.ToLower(f.thousands) {
	case ",":
		opt.ThousandsSeparator = ','
	case ".":
		opt.ThousandsSeparator = '.'
	case "space", " ":
		opt.ThousandsSeparator = ' '
	case "":
	default:
		return opt, fmt.Errorf("unsupported --thousands: %s (use ','|'.'|'space')", f.thousands)
	}
	return opt, nil
}

func (f *loadFlags) load(path string) (*dataset.Dataset, error) {
	opt, err := f.options()
	if err != nil {
		return nil, err
	}
	d, err := dataset.Load(path, opt, f.sheetName)
	var rl *dataset.RowLimitError
	if errors.As(err, &rl) {
		return nil, &executor.ResourceLimitError{Resource: "rows", Limit: rl.Limit, Actual: rl.Actual}
	}
	if err != nil {
		return nil, err
	}
	for _, n := range d.Notes() {
		logger.Debug("dataset: cleansing", "column", n.Column, "note", n.Message)
	}
	logger.Debug("dataset: loaded", "name", d.Name(), "rows", d.NumRows(), "columns", d.NumColumns())
	return d, nil
}

// runtimeFlags select the completion runtime.
type runtimeFlags struct {
	provider string
	model    string
}

func (f *runtimeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.provider, "provider", "", "completion provider: openrouter | ollama | anthropic (default from config)")
	cmd.Flags().StringVar(&f.model, "model", "", "model name (default from config)")
}

func (f *runtimeFlags) service() (llm.Service, error) {
	provider, rc := cfg.Runtime(strings.ToLower(f.provider), f.model)
	if rc.APIKey == "" && provider != llm.ProviderOllama {
		return nil, fmt.Errorf("no API key for %s: set it with 'insightloom config set' or in .env", provider)
	}
	rc.Logger = logger
	logger.Debug("runtime", "provider", provider, "model", rc.Model)
	return llm.NewRuntime(provider, rc)
}

func (f *runtimeFlags) orchestrator() (*pipeline.Orchestrator, error) {
	svc, err := f.service()
	if err != nil {
		return nil, err
	}
	s := pipelineSettings(cfg)
	s.Logger = logger
	s.Clock = clockwork.NewRealClock()
	s.Observer = func(t pipeline.Transition) {
		logger.Debug("pipeline: transition", "from", t.From, "to", t.To)
	}
	return pipeline.Build(svc, s)
}

// suggester wraps the runtime with the configured retry policy.
func (f *runtimeFlags) suggester(questions int) (*suggest.Suggester, error) {
	svc, err := f.service()
	if err != nil {
		return nil, err
	}
	retry := pipelineSettings(cfg).Retry
	retry.Logger = logger
	return suggest.New(llm.NewRetrying(svc, retry), suggest.Options{
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Questions:   questions,
		Logger:      logger,
	})
}

func openHistory() (history.Store, error) {
	return history.Open(cfg.HistoryDriver, cfg.HistoryDir)
}

// pipelineSettings maps the stage keys onto pipeline settings.
func pipelineSettings(c *cfgpkg.Global) pipeline.Settings {
	return pipeline.Settings{
		MaxTokens:            c.MaxTokens,
		Temperature:          c.Temperature,
		IntentMaxAttempts:    c.IntentMaxAttempts,
		SynthesisMaxAttempts: c.SynthesisMaxAttempts,
		PromptTokenBudget:    c.PromptTokenBudget,
		MaxNarrativeTokens:   c.MaxNarrativeTokens,
		SampleRows:           c.ProfileSampleRows,
		CacheTTL:             time.Duration(c.ProfileCacheTTLSec) * time.Second,
		DescribeColumns:      c.DescribeColumns,
		Limits: executor.Limits{
			MaxRows:    c.MaxRows,
			MaxColumns: c.MaxColumns,
			MaxGroups:  c.MaxGroups,
		},
		Retry: llm.RetryConfig{
			MaxAttempts: c.RetryMaxAttempts,
			BaseDelay:   time.Duration(c.RetryBaseDelayMs) * time.Millisecond,
			MaxDelay:    time.Duration(c.RetryMaxDelayMs) * time.Millisecond,
			CallTimeout: time.Duration(c.CallTimeoutSec) * time.Second,
		},
	}
}
