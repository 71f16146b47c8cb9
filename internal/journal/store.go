// Package journal persists sequence runs so past observations can be
// inspected after the process exits.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Run statuses recorded in the journal.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
	RunAborted   = "aborted"
)

// Run is the journal record of one sequence execution.
type Run struct {
	ID          string // uuid assigned at start
	Plan        string // plan name
	Fingerprint uint64 // plan content hash
	Status      string
	Report      string // one-line summary, set when the run finishes
	StartedAt   time.Time
	FinishedAt  time.Time // zero while the run is still going
}

// TaskRecord is the journal record of one task within a run.
type TaskRecord struct {
	RunID     string
	TaskID    string // plan step id
	Name      string
	Op        string
	State     string // pending, succeeded, failed, cancelled
	Value     string // rendered final value
	Error     string
	DependsOn []string
}

// ProgressEntry is one logged intermediate report of a task.
type ProgressEntry struct {
	RunID  string
	TaskID string
	Stage  string
	Detail string
	At     time.Time
}

// Store defines the persistence interface for runs, task records, and
// progress history.
type Store interface {
	BeginRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, runID, status, report string) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)

	SaveTaskRun(ctx context.Context, rec *TaskRecord) error
	TaskRuns(ctx context.Context, runID string) ([]*TaskRecord, error)

	RecordProgress(ctx context.Context, runID, taskID, stage, detail string) error
	History(ctx context.Context, runID, taskID string) ([]ProgressEntry, error)

	Close() error
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed journal at the given path.
// Creates parent directories if needed. Enables WAL mode, foreign keys,
// and a busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// modernc.org/sqlite takes foreign_keys as a PRAGMA, not a conn param
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Two connections: one for primary queries, one for the per-row
	// dependency subqueries in TaskRuns
	db.SetMaxOpenConns(2)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// NewMemoryStore creates an in-memory journal for testing. Uses a shared
// cache so both pooled connections see the same database.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", "file::memory:?mode=memory&cache=shared")
	if err != nil {
		return nil, fmt.Errorf("failed to open memory database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	db.SetMaxOpenConns(2)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
