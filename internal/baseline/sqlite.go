package baseline

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore persists baselines in a SQLite database so calibrated and
// promoted values survive process restarts. A fresh database is seeded with
// Defaults().
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	dbPath string
}

const schema = `
CREATE TABLE IF NOT EXISTS baselines (
	metric     TEXT PRIMARY KEY,
	value      REAL NOT NULL,
	source     TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// OpenSQLite opens (or creates) the baseline database at dir/baselines.db.
func OpenSQLite(dir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create baseline directory: %w", err)
	}

	dbPath := filepath.Join(dir, "baselines.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open baseline database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite works best with a single writer

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize baseline schema: %w", err)
	}

	s := &SQLiteStore{db: db, dbPath: dbPath}
	if err := s.seedIfEmpty(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// seedIfEmpty writes the documented defaults into a brand-new database.
func (s *SQLiteStore) seedIfEmpty(ctx context.Context) error {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM baselines`).Scan(&count); err != nil {
		return fmt.Errorf("failed to count baselines: %w", err)
	}
	if count > 0 {
		return nil
	}
	for _, b := range Defaults() {
		if err := s.Put(ctx, b); err != nil {
			return fmt.Errorf("failed to seed default baseline %q: %w", b.Metric, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, metric string) (*Baseline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT metric, value, source, updated_at FROM baselines WHERE metric = ?`, metric)

	var b Baseline
	var updated string
	err := row.Scan(&b.Metric, &b.Value, (*string)(&b.Source), &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read baseline %q: %w", metric, err)
	}
	if t, perr := time.Parse(time.RFC3339Nano, updated); perr == nil {
		b.UpdatedAt = t
	}
	return &b, nil
}

func (s *SQLiteStore) Put(ctx context.Context, b Baseline) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.Metric == "" {
		return fmt.Errorf("baseline metric name is required")
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO baselines (metric, value, source, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(metric) DO UPDATE SET
			value = excluded.value,
			source = excluded.source,
			updated_at = excluded.updated_at`,
		b.Metric, b.Value, string(b.Source), b.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to write baseline %q: %w", b.Metric, err)
	}
	return nil
}

func (s *SQLiteStore) All(ctx context.Context) ([]Baseline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT metric, value, source, updated_at FROM baselines ORDER BY metric`)
	if err != nil {
		return nil, fmt.Errorf("failed to list baselines: %w", err)
	}
	defer rows.Close()

	var out []Baseline
	for rows.Next() {
		var b Baseline
		var updated string
		if err := rows.Scan(&b.Metric, &b.Value, (*string)(&b.Source), &updated); err != nil {
			return nil, fmt.Errorf("failed to scan baseline row: %w", err)
		}
		if t, perr := time.Parse(time.RFC3339Nano, updated); perr == nil {
			b.UpdatedAt = t
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Promote(ctx context.Context, metric string, value float64, source Source) error {
	return s.Put(ctx, Baseline{Metric: metric, Value: value, Source: source})
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
