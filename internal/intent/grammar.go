package intent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/KaramelBytes/insightloom-cli/internal/llm"
)

// grammar is the JSON Schema every proposed intent must satisfy before it is
// decoded. Enums pin the closed vocabularies.
type grammar struct {
	schema   *jsonschema.Schema
	resolved *jsonschema.Resolved
	text     string
}

var loadGrammar = sync.OnceValues(func() (*grammar, error) {
	s, err := jsonschema.For[Intent](nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build intent schema: %w", err)
	}
	one := 1
	if m := prop(s, "metrics"); m != nil {
		m.MinItems = &one
		setEnum(prop(m.Items, "agg"), aggs)
	}
	if f := prop(s, "filters"); f != nil {
		setEnum(prop(f.Items, "op"), ops)
	}
	setEnum(prop(prop(s, "sort"), "direction"), directions)
	setEnum(prop(s, "comparison"), comparisons)

	resolved, err := s.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve intent schema: %w", err)
	}
	text, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal intent schema: %w", err)
	}
	return &grammar{schema: s, resolved: resolved, text: string(text)}, nil
})

func prop(s *jsonschema.Schema, name string) *jsonschema.Schema {
	if s == nil {
		return nil
	}
	return s.Properties[name]
}

func setEnum[T ~string](s *jsonschema.Schema, vals []T) {
	if s == nil {
		return
	}
	s.Enum = make([]any, len(vals))
	for i, v := range vals {
		s.Enum[i] = string(v)
	}
}

// SchemaJSON returns the intent JSON Schema as indented JSON.
func SchemaJSON() (string, error) {
	g, err := loadGrammar()
	if err != nil {
		return "", err
	}
	return g.text, nil
}

// Vocabulary is the fixed operation vocabulary quoted to the model.
func Vocabulary() string {
	var b strings.Builder
	b.WriteString("- filter(column op value): op is one of " + join(ops) + "\n")
	b.WriteString("- group(columns...)\n")
	b.WriteString("- aggregate(" + join(aggs) + ")\n")
	b.WriteString("- sort(key " + join(directions) + ", limit)\n")
	b.WriteString("- comparison: " + join(comparisons))
	return b.String()
}

func join[T ~string](vals []T) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = string(v)
	}
	return strings.Join(parts, "|")
}

// Parse extracts the JSON object from a completion, checks it against the
// intent grammar and decodes it strictly. It does not consult a dataset
// schema; see Intent.Validate.
func Parse(response string) (*Intent, error) {
	g, err := loadGrammar()
	if err != nil {
		return nil, err
	}
	raw := llm.ExtractJSON(response)
	if raw == "" {
		return nil, errors.New("response contains no JSON object")
	}
	var instance any
	if err := json.Unmarshal([]byte(raw), &instance); err != nil {
		return nil, fmt.Errorf("response is not valid JSON: %w", err)
	}
	if err := g.resolved.Validate(instance); err != nil {
		return nil, fmt.Errorf("intent does not match schema: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()
	var in Intent
	if err := dec.Decode(&in); err != nil {
		return nil, fmt.Errorf("failed to decode intent: %w", err)
	}
	return &in, nil
}
