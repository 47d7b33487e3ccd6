// Package store persists run history and cached LLM analyses in SQLite.
package store

import (
	"autopn/internal/logging"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Run statuses.
const (
	RunRunning = "running"
	RunOK      = "ok"
	RunFailed  = "failed"
)

// LocalStore is the SQLite-backed cache.
type LocalStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// Analysis is one cached LLM response.
type Analysis struct {
	Key       string
	Relation  string
	Year      int
	Seq       int
	Model     string
	Response  string
	CreatedAt time.Time
}

// Run is one recorded command execution.
type Run struct {
	ID         string
	Command    string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
	Error      string
}

// NewLocalStore opens (creating if needed) the database at path.
// ":memory:" opens a private in-memory database.
func NewLocalStore(path string) (*LocalStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// each pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	s := &LocalStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.StoreDebug("opened store %s", path)
	return s, nil
}

func (s *LocalStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		command TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		status TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	CREATE TABLE IF NOT EXISTS analyses (
		key TEXT PRIMARY KEY,
		year INTEGER NOT NULL DEFAULT 0,
		seq INTEGER NOT NULL DEFAULT 0,
		model TEXT NOT NULL DEFAULT '',
		response TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_analyses_year ON analyses(year);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return RunMigrations(s.db)
}

// Close closes the database.
func (s *LocalStore) Close() error {
	logging.StoreDebug("closing store %s", s.dbPath)
	return s.db.Close()
}

// GetDB returns the underlying SQL database connection.
func (s *LocalStore) GetDB() *sql.DB {
	return s.db
}

// AnalysisKey hashes the inputs that determine an LLM response.
func AnalysisKey(model, systemPrompt, userPrompt string) string {
	h := sha256.New()
	for _, part := range []string{model, systemPrompt, userPrompt} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// GetAnalysis returns the cached analysis for key.
func (s *LocalStore) GetAnalysis(ctx context.Context, key string) (Analysis, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a := Analysis{Key: key}
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(relation, ''), year, seq, model, response, created_at FROM analyses WHERE key = ?", key,
	).Scan(&a.Relation, &a.Year, &a.Seq, &a.Model, &a.Response, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Analysis{}, false, nil
	}
	if err != nil {
		return Analysis{}, false, fmt.Errorf("failed to read analysis: %w", err)
	}
	return a, true, nil
}

// PutAnalysis stores or replaces an analysis.
func (s *LocalStore) PutAnalysis(ctx context.Context, a Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO analyses (key, relation, year, seq, model, response, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		a.Key, a.Relation, a.Year, a.Seq, a.Model, a.Response, a.CreatedAt,
	)
	if err != nil {
		logging.StoreError("failed to cache analysis %s: %v", a.Key, err)
		return fmt.Errorf("failed to write analysis: %w", err)
	}
	return nil
}

// BeginRun records the start of command and returns the run id.
func (s *LocalStore) BeginRun(ctx context.Context, command string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (id, command, started_at, status) VALUES (?, ?, ?, ?)",
		id, command, time.Now().UTC(), RunRunning,
	)
	if err != nil {
		return "", fmt.Errorf("failed to record run: %w", err)
	}
	return id, nil
}

// FinishRun marks a run finished. A nil runErr records success.
func (s *LocalStore) FinishRun(ctx context.Context, id string, runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, msg := RunOK, ""
	if runErr != nil {
		status, msg = RunFailed, runErr.Error()
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE runs SET finished_at = ?, status = ?, error = ? WHERE id = ?",
		time.Now().UTC(), status, msg, id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("unknown run %s", id)
	}
	return nil
}

// RecentRuns returns the latest runs, newest first.
func (s *LocalStore) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, command, started_at, finished_at, status, COALESCE(error, '') FROM runs ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.Command, &r.StartedAt, &finished, &r.Status, &r.Error); err != nil {
			return nil, err
		}
		if finished.Valid {
			r.FinishedAt = finished.Time
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetStats returns the row count of each table.
func (s *LocalStore) GetStats() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int64)
	for _, table := range []string{"runs", "analyses"} {
		var count int64
		if err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		stats[table] = count
	}
	return stats, nil
}

// DefaultPath resolves a relative store path against base.
func DefaultPath(base, path string) string {
	if path == "" {
		path = filepath.Join(".autopn", "autopn.db")
	}
	if path == ":memory:" || filepath.IsAbs(path) || strings.HasPrefix(path, "file:") {
		return path
	}
	return filepath.Join(base, path)
}
