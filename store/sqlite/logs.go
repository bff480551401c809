package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/steveoberholzer/ShareSync/joblog"
)

func (s *Store) AppendLogs(ctx context.Context, entries []*joblog.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sharesync/sqlite: append logs: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sharesync_logs (job_id, message_id, level, message, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sharesync/sqlite: append logs: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx,
			nullableID(e.JobID), nullableID(e.MessageID),
			e.Level, e.Message, e.Detail, e.CreatedAt,
		); err != nil {
			return fmt.Errorf("sharesync/sqlite: append logs: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sharesync/sqlite: append logs: %w", err)
	}
	return nil
}

func (s *Store) ListLogs(ctx context.Context, jobID uuid.UUID, limit int) ([]*joblog.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, message_id, level, message, detail, created_at
		FROM sharesync_logs
		WHERE (? = '' OR job_id = ?)
		ORDER BY id ASC
		LIMIT ?`,
		stringOrEmpty(jobID), stringOrEmpty(jobID), limitOrAll(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("sharesync/sqlite: list logs: %w", err)
	}
	defer rows.Close()

	out := make([]*joblog.Entry, 0)
	for rows.Next() {
		var e joblog.Entry
		var jID, mID sql.NullString
		if err := rows.Scan(&e.ID, &jID, &mID, &e.Level, &e.Message, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("sharesync/sqlite: scan log: %w", err)
		}
		if jID.Valid && jID.String != "" {
			if e.JobID, err = uuid.Parse(jID.String); err != nil {
				return nil, fmt.Errorf("sharesync/sqlite: parse log job id: %w", err)
			}
		}
		if mID.Valid && mID.String != "" {
			if e.MessageID, err = uuid.Parse(mID.String); err != nil {
				return nil, fmt.Errorf("sharesync/sqlite: parse log message id: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// nullableID maps the zero uuid to SQL NULL.
func nullableID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id.String()
}

// stringOrEmpty maps the zero uuid to the empty string used by the
// all-jobs filter.
func stringOrEmpty(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}
