// Package producer seeds the pipeline. CreateJob persists the job and
// its items and publishes one envelope per item; Retry republishes a
// permanently failed item from its stored payload.
package producer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	sharesync "github.com/steveoberholzer/ShareSync"
	"github.com/steveoberholzer/ShareSync/broker"
	"github.com/steveoberholzer/ShareSync/job"
	"github.com/steveoberholzer/ShareSync/joblog"
	"github.com/steveoberholzer/ShareSync/message"
	"github.com/steveoberholzer/ShareSync/metrics"
)

// Record is one input row of a job. Exactly one payload field must be
// set, and it must match the job's operation kind.
type Record struct {
	FolderCreate    *message.FolderCreate
	PermissionSync  *message.PermissionSync
	PermissionReset *message.PermissionReset
	FolderValidate  *message.FolderValidate
}

// CreateRequest describes a new job and its input records.
type CreateRequest struct {
	Kind        message.Kind
	FileName    string
	RequestedBy string
	Environment string
	SiteURL     string
	Priority    job.Priority
	Records     []Record
}

// Producer creates jobs and publishes their items.
type Producer struct {
	store      job.Store
	transport  broker.Transport
	logger     *slog.Logger
	logs       *joblog.Writer
	metrics    *metrics.Metrics
	maxRetries int
}

// Option configures a Producer.
type Option func(*Producer)

// WithMaxRetries sets the retry budget stamped on every item.
func WithMaxRetries(n int) Option {
	return func(p *Producer) { p.maxRetries = n }
}

// WithLogWriter attaches a job-log writer for persisted audit entries.
func WithLogWriter(w *joblog.Writer) Option {
	return func(p *Producer) { p.logs = w }
}

// WithMetrics enables prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Producer) { p.metrics = m }
}

// New creates a Producer.
func New(store job.Store, transport broker.Transport, logger *slog.Logger, opts ...Option) *Producer {
	p := &Producer{
		store:      store,
		transport:  transport,
		logger:     logger,
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CreateJob persists the job with total fixed at len(records), then for
// each record persists a Pending item and publishes its envelope at the
// job's priority. The ledger write always precedes the publish; a
// publish failure leaves that item Pending and does not roll the job
// back.
func (p *Producer) CreateJob(ctx context.Context, req CreateRequest) (*job.Job, error) {
	if len(req.Records) == 0 {
		return nil, fmt.Errorf("sharesync/producer: job needs at least one record")
	}
	queue, err := message.QueueFor(req.Kind)
	if err != nil {
		return nil, fmt.Errorf("sharesync/producer: %w", err)
	}
	priority := req.Priority
	if priority == "" {
		priority = job.PriorityMedium
	}

	j := &job.Job{
		ID:          uuid.New(),
		Kind:        string(req.Kind),
		FileName:    req.FileName,
		RequestedBy: req.RequestedBy,
		Environment: req.Environment,
		SiteURL:     req.SiteURL,
		Total:       len(req.Records),
		Status:      job.StatusQueued,
		Priority:    priority,
		CreatedAt:   time.Now().UTC(),
	}
	if err := p.store.CreateJob(ctx, j); err != nil {
		return nil, fmt.Errorf("sharesync/producer: create job: %w", err)
	}

	p.logger.Info("job created",
		slog.String("job_id", j.ID.String()),
		slog.String("kind", j.Kind),
		slog.String("priority", string(j.Priority)),
		slog.Int("total", j.Total),
	)
	p.appendLog(j.ID, uuid.Nil, joblog.LevelInfo,
		fmt.Sprintf("job created with %d items", j.Total), "")
	if p.metrics != nil {
		p.metrics.JobsCreated.Inc()
	}

	published := 0
	for i, rec := range req.Records {
		env, err := p.buildEnvelope(j, req.Kind, rec)
		if err != nil {
			return nil, fmt.Errorf("sharesync/producer: record %d: %w", i, err)
		}

		body, err := message.Encode(env)
		if err != nil {
			return nil, fmt.Errorf("sharesync/producer: record %d: %w", i, err)
		}

		it := &job.Item{
			MessageID:  env.MessageID,
			JobID:      j.ID,
			Kind:       string(env.Kind),
			Identifier: env.Identifier(),
			Payload:    body,
			Status:     job.ItemPending,
			MaxRetries: env.MaxRetries,
			CreatedAt:  time.Now().UTC(),
		}
		if err := p.store.CreateItem(ctx, it); err != nil {
			return nil, fmt.Errorf("sharesync/producer: record %d: %w", i, err)
		}

		if err := p.transport.Publish(ctx, queue, env, priority.Value()); err != nil {
			// The ledger row exists, so the item stays visibly
			// Pending instead of being silently lost.
			p.logger.Warn("item publish failed, left pending",
				slog.String("job_id", j.ID.String()),
				slog.String("message_id", env.MessageID.String()),
				slog.String("error", err.Error()),
			)
			p.appendLog(j.ID, env.MessageID, joblog.LevelWarning,
				"item publish failed, left pending", err.Error())
			continue
		}
		published++
	}

	p.logger.Info("job published",
		slog.String("job_id", j.ID.String()),
		slog.Int("published", published),
		slog.Int("total", j.Total),
	)
	return j, nil
}

// Retry resets a permanently failed item and republishes its stored
// payload at the owning job's current priority. Returns
// sharesync.ErrItemNotRetryable unless the item is Failed.
func (p *Producer) Retry(ctx context.Context, messageID uuid.UUID) error {
	it, err := p.store.GetItem(ctx, messageID)
	if err != nil {
		return fmt.Errorf("sharesync/producer: retry %s: %w", messageID, err)
	}
	if it.Status != job.ItemFailed {
		return fmt.Errorf("sharesync/producer: retry %s: %w", messageID, sharesync.ErrItemNotRetryable)
	}

	j, err := p.store.GetJob(ctx, it.JobID)
	if err != nil {
		return fmt.Errorf("sharesync/producer: retry %s: %w", messageID, err)
	}

	env, err := message.Decode(it.Payload)
	if err != nil {
		return fmt.Errorf("sharesync/producer: retry %s: %w", messageID, err)
	}
	env.RetryCount = 0

	queue, err := message.QueueFor(env.Kind)
	if err != nil {
		return fmt.Errorf("sharesync/producer: retry %s: %w", messageID, err)
	}

	zero := 0
	empty := ""
	if err := p.store.UpdateItemStatus(ctx, messageID, job.ItemPending, job.ItemUpdate{
		Error:      &empty,
		RetryCount: &zero,
	}); err != nil {
		return fmt.Errorf("sharesync/producer: retry %s: %w", messageID, err)
	}

	// The failed counter already counted this item, and the job may be
	// terminal. Reopen both so the completion check fires again once
	// the republished item settles.
	if err := p.store.DecrementFailed(ctx, it.JobID); err != nil {
		return fmt.Errorf("sharesync/producer: retry %s: %w", messageID, err)
	}
	if err := p.store.SetJobStatus(ctx, it.JobID, job.StatusProcessing, ""); err != nil {
		return fmt.Errorf("sharesync/producer: retry %s: %w", messageID, err)
	}

	if err := p.transport.Publish(ctx, queue, env, j.Priority.Value()); err != nil {
		return fmt.Errorf("sharesync/producer: retry %s: %w", messageID, err)
	}

	p.logger.Info("item retried",
		slog.String("job_id", it.JobID.String()),
		slog.String("message_id", messageID.String()),
	)
	p.appendLog(it.JobID, messageID, joblog.LevelInfo, "item manually retried", "")
	return nil
}

// buildEnvelope assembles and validates the wire message for a record.
func (p *Producer) buildEnvelope(j *job.Job, kind message.Kind, rec Record) (*message.Envelope, error) {
	env := message.New(j.ID, kind, j.Environment, p.maxRetries)
	env.FolderCreate = rec.FolderCreate
	env.PermissionSync = rec.PermissionSync
	env.PermissionReset = rec.PermissionReset
	env.FolderValidate = rec.FolderValidate
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

func (p *Producer) appendLog(jobID, messageID uuid.UUID, level, msg, detail string) {
	if p.logs == nil {
		return
	}
	p.logs.Append(&joblog.Entry{
		JobID:     jobID,
		MessageID: messageID,
		Level:     level,
		Message:   msg,
		Detail:    detail,
	})
}
