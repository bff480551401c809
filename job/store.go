package job

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Status filters by job status. Empty means all statuses.
	Status Status
	// Offset is the number of jobs to skip.
	Offset int
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
}

// ItemListOpts controls filtering for per-job item queries.
type ItemListOpts struct {
	// Status filters by item status. Empty means all statuses.
	Status ItemStatus
}

// ItemSearchOpts controls filtering and pagination for cross-job item
// queries on the administrative surface.
type ItemSearchOpts struct {
	Status ItemStatus
	Kind   string
	// Search matches against the item identifier, substring semantics.
	Search string
	Offset int
	Limit  int
}

// ItemUpdate carries the optional fields of an item status update.
// Nil fields are left untouched.
type ItemUpdate struct {
	Error      *string
	RetryCount *int
}

// Stats is a snapshot of ledger counts by status.
type Stats struct {
	Jobs  map[Status]int     `json:"jobs"`
	Items map[ItemStatus]int `json:"items"`
}

// Store is the durable ledger contract. Every read and write goes to
// storage; callers never assume an in-memory mirror is authoritative.
// Implementations must be safe for concurrent use, and the counter
// increments must not race with each other for the same job.
type Store interface {
	// CreateJob persists a new job. Returns sharesync.ErrJobExists if
	// the job id is already present.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by id. Returns sharesync.ErrJobNotFound
	// if absent.
	GetJob(ctx context.Context, jobID uuid.UUID) (*Job, error)

	// ListJobs returns jobs matching opts, newest first.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// SetJobStatus overwrites a job's status and, when errMsg is
	// non-empty, its error message. Administrative use (pause/resume).
	SetJobStatus(ctx context.Context, jobID uuid.UUID, status Status, errMsg string) error

	// SetJobPriority overwrites a job's priority label.
	SetJobPriority(ctx context.Context, jobID uuid.UUID, p Priority) error

	// IncrementProcessed atomically increments the processed counter.
	IncrementProcessed(ctx context.Context, jobID uuid.UUID) error

	// IncrementFailed atomically increments the failed counter.
	IncrementFailed(ctx context.Context, jobID uuid.UUID) error

	// DecrementFailed atomically decrements the failed counter,
	// flooring at zero. Used by manual retry to reopen a job whose
	// failed item is being republished.
	DecrementFailed(ctx context.Context, jobID uuid.UUID) error

	// MarkStarted stamps StartedAt if unset and promotes a Queued job
	// to Processing. Idempotent; terminal jobs are left untouched.
	MarkStarted(ctx context.Context, jobID uuid.UUID) error

	// MarkFinished sets the job to the given terminal status and
	// stamps CompletedAt if unset. Idempotent: once terminal, neither
	// status nor timestamp changes.
	MarkFinished(ctx context.Context, jobID uuid.UUID, final Status) error

	// CreateItem persists a new item. Returns
	// sharesync.ErrDuplicateItem if the message id is already present.
	CreateItem(ctx context.Context, it *Item) error

	// GetItem retrieves an item by message id. Returns
	// sharesync.ErrItemNotFound if absent.
	GetItem(ctx context.Context, messageID uuid.UUID) (*Item, error)

	// ListItems returns a job's items, oldest first.
	ListItems(ctx context.Context, jobID uuid.UUID, opts ItemListOpts) ([]*Item, error)

	// SearchItems returns items across all jobs matching opts, plus
	// the total match count before pagination.
	SearchItems(ctx context.Context, opts ItemSearchOpts) ([]*Item, int, error)

	// UpdateItemStatus overwrites an item's status and any supplied
	// update fields, stamping ProcessedAt when the status becomes
	// terminal. A missing item is a no-op, not an error.
	UpdateItemStatus(ctx context.Context, messageID uuid.UUID, status ItemStatus, upd ItemUpdate) error

	// DeleteItem removes an item. Returns sharesync.ErrItemActive
	// unless the item is Completed or Failed, and
	// sharesync.ErrItemNotFound if absent.
	DeleteItem(ctx context.Context, messageID uuid.UUID) error

	// PurgeJobs deletes terminal jobs finished before the cutoff,
	// together with their items and log entries. It returns the
	// number of jobs removed.
	PurgeJobs(ctx context.Context, before time.Time) (int, error)

	// Stats returns live counts of jobs and items by status.
	Stats(ctx context.Context) (*Stats, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
