package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	sharesync "github.com/steveoberholzer/ShareSync"
	"github.com/steveoberholzer/ShareSync/job"
)

const itemColumns = `message_id, job_id, kind, identifier, payload,
	status, retry_count, max_retries, error, created_at, processed_at`

func (s *Store) CreateItem(ctx context.Context, it *job.Item) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sharesync_items (
			message_id, job_id, kind, identifier, payload,
			status, retry_count, max_retries, error, created_at, processed_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11
		)`,
		it.MessageID, it.JobID, it.Kind, it.Identifier, it.Payload,
		string(it.Status), it.RetryCount, it.MaxRetries, it.Error,
		it.CreatedAt, it.ProcessedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return sharesync.ErrDuplicateItem
		}
		return fmt.Errorf("sharesync/postgres: create item: %w", err)
	}
	return nil
}

func (s *Store) GetItem(ctx context.Context, messageID uuid.UUID) (*job.Item, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM sharesync_items WHERE message_id = $1`, messageID)

	it, err := scanItem(row)
	if err != nil {
		if isNoRows(err) {
			return nil, sharesync.ErrItemNotFound
		}
		return nil, fmt.Errorf("sharesync/postgres: get item: %w", err)
	}
	return it, nil
}

func (s *Store) ListItems(ctx context.Context, jobID uuid.UUID, opts job.ItemListOpts) ([]*job.Item, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+itemColumns+`
		FROM sharesync_items
		WHERE job_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at ASC`,
		jobID, string(opts.Status),
	)
	if err != nil {
		return nil, fmt.Errorf("sharesync/postgres: list items: %w", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

func (s *Store) SearchItems(ctx context.Context, opts job.ItemSearchOpts) ([]*job.Item, int, error) {
	where := `($1 = '' OR status = $1)
		AND ($2 = '' OR kind = $2)
		AND ($3 = '' OR identifier ILIKE '%' || $3 || '%')`
	args := []any{string(opts.Status), opts.Kind, opts.Search}

	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM sharesync_items WHERE `+where, args...,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("sharesync/postgres: count items: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+itemColumns+`
		FROM sharesync_items
		WHERE `+where+`
		ORDER BY created_at ASC
		OFFSET $4
		LIMIT NULLIF($5, 0)`,
		append(args, opts.Offset, opts.Limit)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("sharesync/postgres: search items: %w", err)
	}
	defer rows.Close()

	items, err := collectItems(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *Store) UpdateItemStatus(ctx context.Context, messageID uuid.UUID, status job.ItemStatus, upd job.ItemUpdate) error {
	// A missing item is deliberately a no-op.
	_, err := s.pool.Exec(ctx, `
		UPDATE sharesync_items
		SET status = $2,
		    error = COALESCE($3, error),
		    retry_count = COALESCE($4, retry_count),
		    processed_at = CASE
		        WHEN $5 AND processed_at IS NULL THEN NOW()
		        ELSE processed_at
		    END
		WHERE message_id = $1`,
		messageID, string(status), upd.Error, upd.RetryCount, status.Terminal(),
	)
	if err != nil {
		return fmt.Errorf("sharesync/postgres: update item: %w", err)
	}
	return nil
}

func (s *Store) DeleteItem(ctx context.Context, messageID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM sharesync_items
		WHERE message_id = $1 AND status IN ('Completed', 'Failed')`,
		messageID,
	)
	if err != nil {
		return fmt.Errorf("sharesync/postgres: delete item: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM sharesync_items WHERE message_id = $1)`, messageID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("sharesync/postgres: check item: %w", err)
	}
	if !exists {
		return sharesync.ErrItemNotFound
	}
	return sharesync.ErrItemActive
}

func collectItems(rows pgx.Rows) ([]*job.Item, error) {
	out := make([]*job.Item, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("sharesync/postgres: scan item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func scanItem(row pgx.Row) (*job.Item, error) {
	var it job.Item
	var status string
	err := row.Scan(
		&it.MessageID, &it.JobID, &it.Kind, &it.Identifier, &it.Payload,
		&status, &it.RetryCount, &it.MaxRetries, &it.Error,
		&it.CreatedAt, &it.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	it.Status = job.ItemStatus(status)
	return &it, nil
}
