// Package sqlite provides a single-file ledger using mattn/go-sqlite3.
// Suited to single-node deployments and local development; the write
// path is serialized by SQLite itself.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mattn/go-sqlite3"

	"github.com/steveoberholzer/ShareSync/job"
	"github.com/steveoberholzer/ShareSync/joblog"
)

var (
	_ job.Store    = (*Store)(nil)
	_ joblog.Store = (*Store)(nil)
)

// Store is a SQLite implementation of the job ledger and log store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New opens or creates the database file at path. Foreign keys and a
// busy timeout are enabled through the DSN.
func New(path string, opts ...Option) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_fk=1&_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sharesync/sqlite: open: %w", err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// churn under concurrent dispatchers.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sharesync_jobs (
		id           TEXT PRIMARY KEY,
		kind         TEXT NOT NULL,
		file_name    TEXT NOT NULL DEFAULT '',
		requested_by TEXT NOT NULL DEFAULT '',
		environment  TEXT NOT NULL,
		site_url     TEXT NOT NULL DEFAULT '',
		total        INTEGER NOT NULL,
		processed    INTEGER NOT NULL DEFAULT 0,
		failed       INTEGER NOT NULL DEFAULT 0,
		status       TEXT NOT NULL,
		priority     TEXT NOT NULL,
		error        TEXT NOT NULL DEFAULT '',
		created_at   DATETIME NOT NULL,
		started_at   DATETIME,
		completed_at DATETIME
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sharesync_jobs_status_created
		ON sharesync_jobs (status, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS sharesync_items (
		message_id   TEXT PRIMARY KEY,
		job_id       TEXT NOT NULL REFERENCES sharesync_jobs (id) ON DELETE CASCADE,
		kind         TEXT NOT NULL,
		identifier   TEXT NOT NULL DEFAULT '',
		payload      BLOB NOT NULL,
		status       TEXT NOT NULL,
		retry_count  INTEGER NOT NULL DEFAULT 0,
		max_retries  INTEGER NOT NULL DEFAULT 3,
		error        TEXT NOT NULL DEFAULT '',
		created_at   DATETIME NOT NULL,
		processed_at DATETIME
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sharesync_items_job_created
		ON sharesync_items (job_id, created_at ASC)`,
	`CREATE INDEX IF NOT EXISTS idx_sharesync_items_status
		ON sharesync_items (status)`,
	`CREATE TABLE IF NOT EXISTS sharesync_logs (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id     TEXT,
		message_id TEXT,
		level      TEXT NOT NULL,
		message    TEXT NOT NULL,
		detail     TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sharesync_logs_job
		ON sharesync_logs (job_id, id ASC)`,
}

// Migrate creates the schema. Safe to rerun.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sharesync/sqlite: migrate: %w", err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// isDuplicateKey reports whether err is a primary-key or unique
// constraint violation.
func isDuplicateKey(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// isNoRows reports whether err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// limitOrAll maps a zero limit to SQLite's "no limit" sentinel.
func limitOrAll(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
