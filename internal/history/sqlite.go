package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/KaramelBytes/insightloom-cli/internal/history/migrations"
)

// timeLayout sorts lexically in UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore keeps runs in history.db under a directory.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

func NewSQLiteStore(dir string) (*SQLiteStore, error) {
	if dir == "" {
		return nil, errors.New("history directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	path := filepath.Join(dir, "history.db")
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	s := &SQLiteStore{db: db, path: path}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate(fsys fs.FS) error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil || version <= current {
			continue
		}
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(body)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, r *Record) error {
	if err := validID(r.ID); err != nil {
		return err
	}
	blobs := make([]string, 4)
	for i, v := range []any{r.Intent, r.Plan, r.Table, r.Result} {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode run %s: %w", r.ID, err)
		}
		blobs[i] = string(b)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, created_at, question, paraphrase, dataset, fingerprint,
			intent, plan_source, plan, result_table, result, duration_ms, completions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			result = excluded.result,
			duration_ms = excluded.duration_ms,
			completions = excluded.completions
	`, r.ID, r.CreatedAt.UTC().Format(timeLayout), r.Question, r.Paraphrase, r.Dataset, r.Fingerprint,
		blobs[0], r.PlanSource, blobs[1], blobs[2], blobs[3], r.DurationMS, r.Completions)
	if err != nil {
		return fmt.Errorf("save run %s: %w", r.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Record, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	var (
		r                               Record
		created                         string
		intentJSON, planJSON, tableJSON string
		resultJSON                      string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, question, paraphrase, dataset, fingerprint,
			intent, plan_source, plan, result_table, result, duration_ms, completions
		FROM runs WHERE id = ?`, id).Scan(
		&r.ID, &created, &r.Question, &r.Paraphrase, &r.Dataset, &r.Fingerprint,
		&intentJSON, &r.PlanSource, &planJSON, &tableJSON, &resultJSON, &r.DurationMS, &r.Completions)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", id, err)
	}
	if r.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return nil, fmt.Errorf("run %s: bad created_at: %w", id, err)
	}
	for _, f := range []struct {
		raw string
		dst any
	}{
		{intentJSON, &r.Intent},
		{planJSON, &r.Plan},
		{tableJSON, &r.Table},
		{resultJSON, &r.Result},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return nil, fmt.Errorf("decode run %s: %w", id, err)
		}
	}
	return &r, nil
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, dataset, question, json_extract(result, '$.bottom_line')
		FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum     Summary
			created string
			bottom  sql.NullString
		)
		if err := rows.Scan(&sum.ID, &created, &sum.Dataset, &sum.Question, &bottom); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if sum.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("run %s: bad created_at: %w", sum.ID, err)
		}
		sum.BottomLine = bottom.String
		out = append(out, sum)
	}
	return out, rows.Err()
}
