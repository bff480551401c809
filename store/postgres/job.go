package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	sharesync "github.com/steveoberholzer/ShareSync"
	"github.com/steveoberholzer/ShareSync/job"
)

const jobColumns = `id, kind, file_name, requested_by, environment, site_url,
	total, processed, failed, status, priority, error,
	created_at, started_at, completed_at`

func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sharesync_jobs (
			id, kind, file_name, requested_by, environment, site_url,
			total, processed, failed, status, priority, error,
			created_at, started_at, completed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15
		)`,
		j.ID, j.Kind, j.FileName, j.RequestedBy, j.Environment, j.SiteURL,
		j.Total, j.Processed, j.Failed, string(j.Status), string(j.Priority), j.Error,
		j.CreatedAt, j.StartedAt, j.CompletedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return sharesync.ErrJobExists
		}
		return fmt.Errorf("sharesync/postgres: create job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, jobID uuid.UUID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM sharesync_jobs WHERE id = $1`, jobID)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, sharesync.ErrJobNotFound
		}
		return nil, fmt.Errorf("sharesync/postgres: get job: %w", err)
	}
	return j, nil
}

func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM sharesync_jobs
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		OFFSET $2
		LIMIT NULLIF($3, 0)`,
		string(opts.Status), opts.Offset, opts.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sharesync/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	out := make([]*job.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("sharesync/postgres: list jobs: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) SetJobStatus(ctx context.Context, jobID uuid.UUID, status job.Status, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sharesync_jobs
		SET status = $2, error = CASE WHEN $3 = '' THEN error ELSE $3 END
		WHERE id = $1`,
		jobID, string(status), errMsg,
	)
	if err != nil {
		return fmt.Errorf("sharesync/postgres: set job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sharesync.ErrJobNotFound
	}
	return nil
}

func (s *Store) SetJobPriority(ctx context.Context, jobID uuid.UUID, p job.Priority) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sharesync_jobs SET priority = $2 WHERE id = $1`,
		jobID, string(p),
	)
	if err != nil {
		return fmt.Errorf("sharesync/postgres: set job priority: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sharesync.ErrJobNotFound
	}
	return nil
}

func (s *Store) IncrementProcessed(ctx context.Context, jobID uuid.UUID) error {
	return s.bumpCounter(ctx, jobID, `processed = processed + 1`)
}

func (s *Store) IncrementFailed(ctx context.Context, jobID uuid.UUID) error {
	return s.bumpCounter(ctx, jobID, `failed = failed + 1`)
}

func (s *Store) DecrementFailed(ctx context.Context, jobID uuid.UUID) error {
	return s.bumpCounter(ctx, jobID, `failed = GREATEST(failed - 1, 0)`)
}

func (s *Store) bumpCounter(ctx context.Context, jobID uuid.UUID, set string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sharesync_jobs SET `+set+` WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("sharesync/postgres: update counter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sharesync.ErrJobNotFound
	}
	return nil
}

func (s *Store) MarkStarted(ctx context.Context, jobID uuid.UUID) error {
	// started_at records the first delivery even when the status moved
	// past Queued some other way, e.g. a pause/resume before delivery.
	tag, err := s.pool.Exec(ctx, `
		UPDATE sharesync_jobs
		SET status = CASE WHEN status = 'Queued' THEN 'Processing' ELSE status END,
		    started_at = COALESCE(started_at, NOW())
		WHERE id = $1 AND status NOT IN ('Completed', 'Failed')`,
		jobID,
	)
	if err != nil {
		return fmt.Errorf("sharesync/postgres: mark started: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.ensureJobExists(ctx, jobID)
	}
	return nil
}

func (s *Store) MarkFinished(ctx context.Context, jobID uuid.UUID, final job.Status) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sharesync_jobs
		SET status = $2, completed_at = COALESCE(completed_at, NOW())
		WHERE id = $1 AND status NOT IN ('Completed', 'Failed')`,
		jobID, string(final),
	)
	if err != nil {
		return fmt.Errorf("sharesync/postgres: mark finished: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.ensureJobExists(ctx, jobID)
	}
	return nil
}

// ensureJobExists distinguishes an idempotent no-op update from a
// missing row.
func (s *Store) ensureJobExists(ctx context.Context, jobID uuid.UUID) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM sharesync_jobs WHERE id = $1)`, jobID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("sharesync/postgres: check job: %w", err)
	}
	if !exists {
		return sharesync.ErrJobNotFound
	}
	return nil
}

func (s *Store) PurgeJobs(ctx context.Context, before time.Time) (int, error) {
	// Items cascade from the job delete; log entries carry no foreign
	// key and are removed in the same statement.
	var purged int
	err := s.pool.QueryRow(ctx, `
		WITH purged AS (
			DELETE FROM sharesync_jobs
			WHERE status IN ('Completed', 'Failed') AND completed_at < $1
			RETURNING id
		), logs AS (
			DELETE FROM sharesync_logs WHERE job_id IN (SELECT id FROM purged)
		)
		SELECT COUNT(*) FROM purged`,
		before,
	).Scan(&purged)
	if err != nil {
		return 0, fmt.Errorf("sharesync/postgres: purge jobs: %w", err)
	}
	return purged, nil
}

func (s *Store) Stats(ctx context.Context) (*job.Stats, error) {
	stats := &job.Stats{
		Jobs:  make(map[job.Status]int),
		Items: make(map[job.ItemStatus]int),
	}

	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM sharesync_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("sharesync/postgres: job stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("sharesync/postgres: job stats: %w", err)
		}
		stats.Jobs[job.Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sharesync/postgres: job stats: %w", err)
	}

	itemRows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM sharesync_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("sharesync/postgres: item stats: %w", err)
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var status string
		var count int
		if err := itemRows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("sharesync/postgres: item stats: %w", err)
		}
		stats.Items[job.ItemStatus(status)] = count
	}
	return stats, itemRows.Err()
}

func scanJob(row pgx.Row) (*job.Job, error) {
	var j job.Job
	var status, priority string
	err := row.Scan(
		&j.ID, &j.Kind, &j.FileName, &j.RequestedBy, &j.Environment, &j.SiteURL,
		&j.Total, &j.Processed, &j.Failed, &status, &priority, &j.Error,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Status = job.Status(status)
	j.Priority = job.Priority(priority)
	return &j, nil
}
