// Package result defines the BusinessResult JSON contract returned to callers.
package result

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/KaramelBytes/insightloom-cli/internal/utils"
)

// Metadata records where an answer came from.
type Metadata struct {
	Timestamp       string `json:"timestamp"`
	Question        string `json:"question"`
	RowsAnalyzed    int    `json:"rows_analyzed"`
	ColumnsAnalyzed int    `json:"columns_analyzed"`
}

// BusinessResult is the final answer. Every field is always present in its
// JSON form.
type BusinessResult struct {
	BottomLine         string   `json:"bottom_line"`
	AdditionalInsights string   `json:"additional_insights"`
	FollowUpQuestions  []string `json:"follow_up_questions"`
	Metadata           Metadata `json:"metadata"`
}

var (
	topLevelKeys = []string{"bottom_line", "additional_insights", "follow_up_questions", "metadata"}
	metadataKeys = []string{"timestamp", "question", "rows_analyzed", "columns_analyzed"}
)

// Validate checks the invariants a decoded or freshly built result must hold.
func (r *BusinessResult) Validate() error {
	var errs []error
	if strings.TrimSpace(r.BottomLine) == "" {
		errs = append(errs, errors.New("bottom_line is empty"))
	}
	if r.Metadata.RowsAnalyzed < 0 {
		errs = append(errs, fmt.Errorf("rows_analyzed is negative (%d)", r.Metadata.RowsAnalyzed))
	}
	if r.Metadata.ColumnsAnalyzed < 0 {
		errs = append(errs, fmt.Errorf("columns_analyzed is negative (%d)", r.Metadata.ColumnsAnalyzed))
	}
	if _, err := time.Parse(time.RFC3339, r.Metadata.Timestamp); err != nil {
		errs = append(errs, fmt.Errorf("timestamp %q is not ISO-8601: %w", r.Metadata.Timestamp, err))
	}
	return errors.Join(errs...)
}

// JSON renders the result as indented JSON. A nil follow-up list is written as [].
func (r *BusinessResult) JSON() ([]byte, error) {
	out := *r
	if out.FollowUpQuestions == nil {
		out.FollowUpQuestions = []string{}
	}
	return utils.PrettyJSON(out)
}

// Parse decodes a BusinessResult, requiring every field of the contract to
// be present and the counts to be non-negative integers.
func Parse(data []byte) (*BusinessResult, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("decode business result: %w", err)
	}
	if err := requireKeys("", top, topLevelKeys); err != nil {
		return nil, err
	}
	var meta map[string]json.RawMessage
	if err := json.Unmarshal(top["metadata"], &meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if err := requireKeys("metadata.", meta, metadataKeys); err != nil {
		return nil, err
	}
	if bytes.Equal(bytes.TrimSpace(top["follow_up_questions"]), []byte("null")) {
		return nil, errors.New("follow_up_questions must be an array")
	}

	var r BusinessResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode business result: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("invalid business result: %w", err)
	}
	return &r, nil
}

func requireKeys(prefix string, m map[string]json.RawMessage, keys []string) error {
	var missing []string
	for _, k := range keys {
		if _, ok := m[k]; !ok {
			missing = append(missing, prefix+k)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("business result is missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Markdown renders the result for terminal output.
func (r *BusinessResult) Markdown() string {
	var b strings.Builder
	b.WriteString("## Bottom line\n\n")
	b.WriteString(r.BottomLine + "\n\n")
	if r.AdditionalInsights != "" {
		b.WriteString("## Additional insights\n\n")
		b.WriteString(r.AdditionalInsights + "\n\n")
	}
	if len(r.FollowUpQuestions) > 0 {
		b.WriteString("## Follow-up questions\n\n")
		for _, q := range r.FollowUpQuestions {
			b.WriteString("- " + q + "\n")
		}
		b.WriteString("\n")
	}
	b.WriteString(fmt.Sprintf("_%d rows x %d columns analyzed at %s_\n", r.Metadata.RowsAnalyzed, r.Metadata.ColumnsAnalyzed, r.Metadata.Timestamp))
	return b.String()
}
