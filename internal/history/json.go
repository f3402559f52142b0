package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/KaramelBytes/insightloom-cli/internal/utils"
)

// JSONStore keeps one pretty-printed file per run in a directory.
type JSONStore struct {
	dir string
}

func NewJSONStore(dir string) (*JSONStore, error) {
	if dir == "" {
		return nil, errors.New("history directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	return &JSONStore{dir: dir}, nil
}

func (s *JSONStore) path(id string) string { return filepath.Join(s.dir, id+".json") }

func (s *JSONStore) Save(_ context.Context, r *Record) error {
	if err := validID(r.ID); err != nil {
		return err
	}
	b, err := utils.PrettyJSON(r)
	if err != nil {
		return err
	}
	return utils.SafeWriteFile(s.path(r.ID), b)
}

func (s *JSONStore) Get(_ context.Context, id string) (*Record, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read run %s: %w", id, err)
	}
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}
	return &r, nil
}

func (s *JSONStore) List(ctx context.Context, limit int) ([]Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read history directory: %w", err)
	}
	var out []Summary
	for _, e := range entries {
		id, ok := strings.CutSuffix(e.Name(), ".json")
		if e.IsDir() || !ok || validID(id) != nil {
			continue
		}
		r, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, r.Summary())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *JSONStore) Close() error { return nil }
