// Package prompts holds the system prompts sent to the completion service.
package prompts

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed *.md
var PromptsFS embed.FS

// Prompts contains the stage prompts loaded from embedded files.
type Prompts struct {
	Resolve    string // question to intent
	Synthesize string // result table to business answer
	Describe   string // schema to data dictionary
	Suggest    string // schema to starter questions
}

// Load loads all prompts from the embedded filesystem.
func Load() (*Prompts, error) {
	p := &Prompts{}

	var err error
	if p.Resolve, err = loadPrompt("RESOLVE.md"); err != nil {
		return nil, fmt.Errorf("failed to load RESOLVE: %w", err)
	}
	if p.Synthesize, err = loadPrompt("SYNTHESIZE.md"); err != nil {
		return nil, fmt.Errorf("failed to load SYNTHESIZE: %w", err)
	}
	if p.Describe, err = loadPrompt("DESCRIBE.md"); err != nil {
		return nil, fmt.Errorf("failed to load DESCRIBE: %w", err)
	}
	if p.Suggest, err = loadPrompt("SUGGEST.md"); err != nil {
		return nil, fmt.Errorf("failed to load SUGGEST: %w", err)
	}
	return p, nil
}

// Fill replaces each {{KEY}} placeholder in tmpl.
func Fill(tmpl string, values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func loadPrompt(path string) (string, error) {
	data, err := PromptsFS.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}
