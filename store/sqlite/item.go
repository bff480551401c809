package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	sharesync "github.com/steveoberholzer/ShareSync"
	"github.com/steveoberholzer/ShareSync/job"
)

const itemColumns = `message_id, job_id, kind, identifier, payload,
	status, retry_count, max_retries, error, created_at, processed_at`

func (s *Store) CreateItem(ctx context.Context, it *job.Item) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sharesync_items (
			message_id, job_id, kind, identifier, payload,
			status, retry_count, max_retries, error, created_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.MessageID.String(), it.JobID.String(), it.Kind, it.Identifier, it.Payload,
		string(it.Status), it.RetryCount, it.MaxRetries, it.Error,
		it.CreatedAt, it.ProcessedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return sharesync.ErrDuplicateItem
		}
		return fmt.Errorf("sharesync/sqlite: create item: %w", err)
	}
	return nil
}

func (s *Store) GetItem(ctx context.Context, messageID uuid.UUID) (*job.Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM sharesync_items WHERE message_id = ?`,
		messageID.String())

	it, err := scanItem(row)
	if err != nil {
		if isNoRows(err) {
			return nil, sharesync.ErrItemNotFound
		}
		return nil, fmt.Errorf("sharesync/sqlite: get item: %w", err)
	}
	return it, nil
}

func (s *Store) ListItems(ctx context.Context, jobID uuid.UUID, opts job.ItemListOpts) ([]*job.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM sharesync_items
		WHERE job_id = ? AND (? = '' OR status = ?)
		ORDER BY created_at ASC`,
		jobID.String(), string(opts.Status), string(opts.Status),
	)
	if err != nil {
		return nil, fmt.Errorf("sharesync/sqlite: list items: %w", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

func (s *Store) SearchItems(ctx context.Context, opts job.ItemSearchOpts) ([]*job.Item, int, error) {
	where := `(? = '' OR status = ?)
		AND (? = '' OR kind = ?)
		AND (? = '' OR identifier LIKE '%' || ? || '%')`
	args := []any{
		string(opts.Status), string(opts.Status),
		opts.Kind, opts.Kind,
		opts.Search, opts.Search,
	}

	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sharesync_items WHERE `+where, args...,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("sharesync/sqlite: count items: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM sharesync_items
		WHERE `+where+`
		ORDER BY created_at ASC
		LIMIT ? OFFSET ?`,
		append(args, limitOrAll(opts.Limit), opts.Offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("sharesync/sqlite: search items: %w", err)
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
	_, err := s.db.ExecContext(ctx, `
		UPDATE sharesync_items
		SET status = ?,
		    error = COALESCE(?, error),
		    retry_count = COALESCE(?, retry_count),
		    processed_at = CASE
		        WHEN ? AND processed_at IS NULL THEN ?
		        ELSE processed_at
		    END
		WHERE message_id = ?`,
		string(status), upd.Error, upd.RetryCount,
		status.Terminal(), time.Now().UTC(), messageID.String(),
	)
	if err != nil {
		return fmt.Errorf("sharesync/sqlite: update item: %w", err)
	}
	return nil
}

func (s *Store) DeleteItem(ctx context.Context, messageID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sharesync_items
		WHERE message_id = ? AND status IN ('Completed', 'Failed')`,
		messageID.String(),
	)
	if err != nil {
		return fmt.Errorf("sharesync/sqlite: delete item: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var one int
	err = s.db.QueryRowContext(ctx,
		`SELECT 1 FROM sharesync_items WHERE message_id = ?`, messageID.String()).Scan(&one)
	if isNoRows(err) {
		return sharesync.ErrItemNotFound
	}
	if err != nil {
		return fmt.Errorf("sharesync/sqlite: check item: %w", err)
	}
	return sharesync.ErrItemActive
}

func collectItems(rows interface {
	rowScanner
	Next() bool
	Err() error
}) ([]*job.Item, error) {
	out := make([]*job.Item, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("sharesync/sqlite: scan item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func scanItem(row rowScanner) (*job.Item, error) {
	var it job.Item
	var messageID, jobID, status string
	err := row.Scan(
		&messageID, &jobID, &it.Kind, &it.Identifier, &it.Payload,
		&status, &it.RetryCount, &it.MaxRetries, &it.Error,
		&it.CreatedAt, &it.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	if it.MessageID, err = uuid.Parse(messageID); err != nil {
		return nil, fmt.Errorf("parse message id: %w", err)
	}
	if it.JobID, err = uuid.Parse(jobID); err != nil {
		return nil, fmt.Errorf("parse job id: %w", err)
	}
	it.Status = job.ItemStatus(status)
	return &it, nil
}
