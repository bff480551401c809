package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/steveoberholzer/ShareSync/joblog"
)

func (s *Store) AppendLogs(ctx context.Context, entries []*joblog.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := make([][]any, 0, len(entries))
	for _, e := range entries {
		batch = append(batch, []any{
			nullableID(e.JobID), nullableID(e.MessageID),
			e.Level, e.Message, e.Detail, e.CreatedAt,
		})
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("sharesync/postgres: append logs: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, args := range batch {
		if _, err := tx.Exec(ctx, `
			INSERT INTO sharesync_logs (job_id, message_id, level, message, detail, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			args...,
		); err != nil {
			return fmt.Errorf("sharesync/postgres: append logs: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("sharesync/postgres: append logs: %w", err)
	}
	return nil
}

func (s *Store) ListLogs(ctx context.Context, jobID uuid.UUID, limit int) ([]*joblog.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, message_id, level, message, detail, created_at
		FROM sharesync_logs
		WHERE ($1::uuid IS NULL OR job_id = $1)
		ORDER BY id ASC
		LIMIT NULLIF($2, 0)`,
		nullableID(jobID), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sharesync/postgres: list logs: %w", err)
	}
	defer rows.Close()

	out := make([]*joblog.Entry, 0)
	for rows.Next() {
		var e joblog.Entry
		var jID, mID *uuid.UUID
		if err := rows.Scan(&e.ID, &jID, &mID, &e.Level, &e.Message, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("sharesync/postgres: scan log: %w", err)
		}
		if jID != nil {
			e.JobID = *jID
		}
		if mID != nil {
			e.MessageID = *mID
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// nullableID maps the zero uuid to SQL NULL.
func nullableID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
