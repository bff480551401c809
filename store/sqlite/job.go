package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	sharesync "github.com/steveoberholzer/ShareSync"
	"github.com/steveoberholzer/ShareSync/job"
)

const jobColumns = `id, kind, file_name, requested_by, environment, site_url,
	total, processed, failed, status, priority, error,
	created_at, started_at, completed_at`

func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sharesync_jobs (
			id, kind, file_name, requested_by, environment, site_url,
			total, processed, failed, status, priority, error,
			created_at, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID.String(), j.Kind, j.FileName, j.RequestedBy, j.Environment, j.SiteURL,
		j.Total, j.Processed, j.Failed, string(j.Status), string(j.Priority), j.Error,
		j.CreatedAt, j.StartedAt, j.CompletedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return sharesync.ErrJobExists
		}
		return fmt.Errorf("sharesync/sqlite: create job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, jobID uuid.UUID) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM sharesync_jobs WHERE id = ?`, jobID.String())

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, sharesync.ErrJobNotFound
		}
		return nil, fmt.Errorf("sharesync/sqlite: get job: %w", err)
	}
	return j, nil
}

func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM sharesync_jobs
		WHERE (? = '' OR status = ?)
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`,
		string(opts.Status), string(opts.Status), limitOrAll(opts.Limit), opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sharesync/sqlite: list jobs: %w", err)
	}
	defer rows.Close()

	out := make([]*job.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("sharesync/sqlite: list jobs: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) SetJobStatus(ctx context.Context, jobID uuid.UUID, status job.Status, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sharesync_jobs
		SET status = ?, error = CASE WHEN ? = '' THEN error ELSE ? END
		WHERE id = ?`,
		string(status), errMsg, errMsg, jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("sharesync/sqlite: set job status: %w", err)
	}
	return requireRow(res)
}

func (s *Store) SetJobPriority(ctx context.Context, jobID uuid.UUID, p job.Priority) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sharesync_jobs SET priority = ? WHERE id = ?`,
		string(p), jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("sharesync/sqlite: set job priority: %w", err)
	}
	return requireRow(res)
}

func (s *Store) IncrementProcessed(ctx context.Context, jobID uuid.UUID) error {
	return s.bumpCounter(ctx, jobID, `processed = processed + 1`)
}

func (s *Store) IncrementFailed(ctx context.Context, jobID uuid.UUID) error {
	return s.bumpCounter(ctx, jobID, `failed = failed + 1`)
}

func (s *Store) DecrementFailed(ctx context.Context, jobID uuid.UUID) error {
	return s.bumpCounter(ctx, jobID, `failed = MAX(failed - 1, 0)`)
}

func (s *Store) bumpCounter(ctx context.Context, jobID uuid.UUID, set string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sharesync_jobs SET `+set+` WHERE id = ?`, jobID.String())
	if err != nil {
		return fmt.Errorf("sharesync/sqlite: update counter: %w", err)
	}
	return requireRow(res)
}

func (s *Store) MarkStarted(ctx context.Context, jobID uuid.UUID) error {
	// started_at records the first delivery even when the status moved
	// past Queued some other way, e.g. a pause/resume before delivery.
	res, err := s.db.ExecContext(ctx, `
		UPDATE sharesync_jobs
		SET status = CASE WHEN status = 'Queued' THEN 'Processing' ELSE status END,
		    started_at = COALESCE(started_at, ?)
		WHERE id = ? AND status NOT IN ('Completed', 'Failed')`,
		time.Now().UTC(), jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("sharesync/sqlite: mark started: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.ensureJobExists(ctx, jobID)
	}
	return nil
}

func (s *Store) MarkFinished(ctx context.Context, jobID uuid.UUID, final job.Status) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sharesync_jobs
		SET status = ?, completed_at = COALESCE(completed_at, ?)
		WHERE id = ? AND status NOT IN ('Completed', 'Failed')`,
		string(final), time.Now().UTC(), jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("sharesync/sqlite: mark finished: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.ensureJobExists(ctx, jobID)
	}
	return nil
}

func (s *Store) ensureJobExists(ctx context.Context, jobID uuid.UUID) error {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM sharesync_jobs WHERE id = ?`, jobID.String()).Scan(&one)
	if isNoRows(err) {
		return sharesync.ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("sharesync/sqlite: check job: %w", err)
	}
	return nil
}

func (s *Store) PurgeJobs(ctx context.Context, before time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sharesync/sqlite: purge jobs: %w", err)
	}
	defer tx.Rollback()

	// Stored timestamps are UTC; the cutoff must match for the string
	// comparison to hold.
	before = before.UTC()

	// Log entries carry no foreign key; clear them before the job rows
	// so the subquery still sees the doomed ids. Items cascade.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM sharesync_logs WHERE job_id IN (
			SELECT id FROM sharesync_jobs
			WHERE status IN ('Completed', 'Failed') AND completed_at < ?
		)`, before); err != nil {
		return 0, fmt.Errorf("sharesync/sqlite: purge logs: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM sharesync_jobs
		WHERE status IN ('Completed', 'Failed') AND completed_at < ?`,
		before)
	if err != nil {
		return 0, fmt.Errorf("sharesync/sqlite: purge jobs: %w", err)
	}
	purged, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sharesync/sqlite: purge jobs: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sharesync/sqlite: purge jobs: %w", err)
	}
	return int(purged), nil
}

func (s *Store) Stats(ctx context.Context) (*job.Stats, error) {
	stats := &job.Stats{
		Jobs:  make(map[job.Status]int),
		Items: make(map[job.ItemStatus]int),
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM sharesync_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("sharesync/sqlite: job stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("sharesync/sqlite: job stats: %w", err)
		}
		stats.Jobs[job.Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sharesync/sqlite: job stats: %w", err)
	}

	itemRows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM sharesync_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("sharesync/sqlite: item stats: %w", err)
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var status string
		var count int
		if err := itemRows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("sharesync/sqlite: item stats: %w", err)
		}
		stats.Items[job.ItemStatus(status)] = count
	}
	return stats, itemRows.Err()
}

// requireRow maps a zero-row update to ErrJobNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sharesync/sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return sharesync.ErrJobNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*job.Job, error) {
	var j job.Job
	var id, status, priority string
	err := row.Scan(
		&id, &j.Kind, &j.FileName, &j.RequestedBy, &j.Environment, &j.SiteURL,
		&j.Total, &j.Processed, &j.Failed, &status, &priority, &j.Error,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	j.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse job id: %w", err)
	}
	j.Status = job.Status(status)
	j.Priority = job.Priority(priority)
	return &j, nil
}
