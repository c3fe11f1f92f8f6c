// Package store is the embedded transactional storage layer: it owns the
// schema for tasks, attempts, events, and run state (spec.md §3, §4.1) and
// exposes a transactional primitive that the Repository layer builds on.
// Every multi-row state change in this system executes in exactly one
// transaction opened through WithTx.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"ember/internal/errorsx"
	"ember/internal/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id               TEXT PRIMARY KEY,
	type             TEXT NOT NULL,
	title            TEXT NOT NULL,
	prompt           TEXT NOT NULL,
	success_criteria TEXT,
	task_request     TEXT,
	mode             TEXT NOT NULL DEFAULT 'auto',
	priority         INTEGER NOT NULL,
	attempt_count    INTEGER NOT NULL DEFAULT 0,
	max_attempts     INTEGER NOT NULL DEFAULT 3,
	status           TEXT NOT NULL,
	lease_owner      TEXT,
	lease_expires_at TEXT,
	last_error       TEXT,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_claim ON tasks(status, priority, created_at);
CREATE INDEX IF NOT EXISTS idx_tasks_lease_expiry ON tasks(lease_expires_at);

CREATE TABLE IF NOT EXISTS task_attempts (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id          TEXT NOT NULL REFERENCES tasks(id),
	attempt_no       INTEGER NOT NULL,
	status           TEXT NOT NULL,
	lease_owner      TEXT NOT NULL,
	lease_expires_at TEXT NOT NULL,
	phase            TEXT,
	output_json      TEXT,
	started_at       TEXT NOT NULL,
	finished_at      TEXT,
	UNIQUE(task_id, attempt_no)
);

CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id    TEXT,
	attempt_id INTEGER,
	phase      TEXT,
	level      TEXT NOT NULL,
	message    TEXT NOT NULL,
	data_json  TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_events_task_created ON events(task_id, created_at DESC);

CREATE TABLE IF NOT EXISTS run_state (
	key        TEXT PRIMARY KEY,
	value_json TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// Store is the embedded SQL engine, opened in WAL journaling mode with
// foreign-key enforcement on and a bounded busy-wait on lock contention.
type Store struct {
	db     *sql.DB
	logger *logging.Logger
}

// Option configures a Store at construction.
type Option func(*options)

type options struct {
	busyTimeout time.Duration
}

// WithBusyTimeout overrides the default 5s lock-contention busy-wait.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) { o.busyTimeout = d }
}

// Open opens (creating if absent) the SQLite database at path and applies
// the WAL/foreign-key/busy-timeout pragmas spec.md §4.1 requires.
func Open(path string, opts ...Option) (*Store, error) {
	cfg := options{busyTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single physical connection avoids spurious SQLITE_BUSY noise from
	// this process itself; cross-process contention is still handled by
	// the busy_timeout pragma below.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.busyTimeout.Milliseconds()),
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	return &Store{db: db, logger: logging.NewComponentLogger("Store")}, nil
}

// EnsureSchema creates the schema if it does not already exist. Safe to
// call repeatedly against an already-initialized database.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for packages (the Repository) that
// build domain queries directly on top of the Store's transactional
// primitive.
func (s *Store) DB() *sql.DB { return s.db }

const maxTxRetries = 3

// WithTx runs fn inside a single transaction, committing on success and
// rolling back otherwise. Transient failures (lock contention) are
// retried a bounded number of times before being surfaced, per spec.md
// §7 "Store errors: transient failures retried a bounded number of
// times."
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 20 * time.Millisecond)
		}
		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		lastErr = err
		if !errorsx.IsTransient(err) {
			return err
		}
		s.logger.Warn("transaction retry after transient error", "attempt", attempt, "error", err)
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", maxTxRetries, lastErr)
}

func (s *Store) runOnce(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errorsx.NewTransient(err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err = tx.Commit(); err != nil {
		return errorsx.NewTransient(err)
	}
	return nil
}

// Now returns the current instant in UTC. FormatTime renders it as
// fixed-width ISO-8601 so that stored timestamps remain lexicographically
// sortable even across clock adjustments, per spec.md §9 "Clock discipline".
func Now() time.Time {
	return time.Now().UTC()
}

// FormatTime renders t as fixed-width ISO-8601 UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z")
}

// ParseTime parses a fixed-width ISO-8601 UTC timestamp written by FormatTime.
func ParseTime(s string) (time.Time, error) {
	return time.Parse("2006-01-02T15:04:05.000000000Z", s)
}
