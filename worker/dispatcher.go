// Package worker consumes operation queues and drives each delivery
// through its handler. The Dispatcher owns the per-item state machine
// (ledger updates, counted retry, escalation, adaptive pacing) and the
// Pool owns one consumer per operation queue plus graceful shutdown.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/steveoberholzer/ShareSync/broker"
	"github.com/steveoberholzer/ShareSync/handler"
	"github.com/steveoberholzer/ShareSync/job"
	"github.com/steveoberholzer/ShareSync/message"
	"github.com/steveoberholzer/ShareSync/metrics"
	"github.com/steveoberholzer/ShareSync/middleware"
	"github.com/steveoberholzer/ShareSync/throttle"
)

// upstreamThrottleCode is the numeric code some site backends return
// alongside HTTP 429 when a request is rejected for exceeding the
// request quota.
const upstreamThrottleCode = -2147429894

// Dispatcher runs one delivered envelope through the registered handler
// and applies the outcome to the ledger, the queue, and the throttle
// controller.
type Dispatcher struct {
	store     job.Store
	transport broker.Transport
	registry  *handler.Registry
	throttle  *throttle.Controller
	metrics   *metrics.Metrics
	mw        middleware.Middleware
	logger    *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMiddleware sets the middleware chain wrapping every handler call.
func WithMiddleware(mws ...middleware.Middleware) DispatcherOption {
	return func(d *Dispatcher) { d.mw = middleware.Chain(mws...) }
}

// WithMetrics enables prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(
	store job.Store,
	transport broker.Transport,
	registry *handler.Registry,
	ctrl *throttle.Controller,
	logger *slog.Logger,
	opts ...DispatcherOption,
) *Dispatcher {
	d := &Dispatcher{
		store:     store,
		transport: transport,
		registry:  registry,
		throttle:  ctrl,
		mw:        middleware.Chain(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch is the broker handler for one delivery. It returns a non-nil
// error only when the envelope cannot be attributed to a known job; the
// transport then rejects the delivery into the broker's dead-letter
// binding. Every application-level outcome, including permanent
// failure, is resolved here and acknowledged.
func (d *Dispatcher) Dispatch(ctx context.Context, env *message.Envelope) error {
	j, err := d.store.GetJob(ctx, env.JobID)
	if err != nil {
		// An orphaned item cannot be retried or counted anywhere.
		return fmt.Errorf("dispatch %s: %w", env.MessageID, err)
	}

	queue, err := message.QueueFor(env.Kind)
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", env.MessageID, err)
	}

	// Paused jobs circulate their items uncounted. The item keeps its
	// ledger state and its retry budget until the job resumes.
	if j.Status == job.StatusPaused {
		if pubErr := d.transport.Publish(ctx, queue, env, j.Priority.Value()); pubErr != nil {
			return fmt.Errorf("dispatch %s: requeue for paused job: %w", env.MessageID, pubErr)
		}
		d.pace(ctx, d.throttle.Delay())
		return nil
	}

	if err := d.store.MarkStarted(ctx, env.JobID); err != nil {
		d.logger.Error("mark started failed",
			slog.String("job_id", env.JobID.String()),
			slog.String("error", err.Error()),
		)
	}
	if err := d.store.UpdateItemStatus(ctx, env.MessageID, job.ItemProcessing, job.ItemUpdate{}); err != nil {
		d.logger.Error("item status update failed",
			slog.String("message_id", env.MessageID.String()),
			slog.String("error", err.Error()),
		)
	}

	h, ok := d.registry.Get(env.Kind)
	if !ok {
		// The registry is a closed set, so an unregistered kind is a
		// deployment mismatch. No retry can fix it.
		res := handler.Fail(fmt.Sprintf("no handler registered for kind %q", env.Kind))
		if err := d.escalate(ctx, env, j, res); err != nil {
			return err
		}
		d.pace(ctx, d.throttle.Delay())
		return nil
	}

	res := d.mw(ctx, env, func(ctx context.Context) handler.Result {
		return h.Handle(ctx, env)
	})

	if res.Success {
		return d.complete(ctx, env, j)
	}
	return d.fail(ctx, env, j, res)
}

// complete applies the success path: terminal ledger state, processed
// counter, throttle feedback, pacing, completion check.
func (d *Dispatcher) complete(ctx context.Context, env *message.Envelope, j *job.Job) error {
	if err := d.store.UpdateItemStatus(ctx, env.MessageID, job.ItemCompleted, job.ItemUpdate{}); err != nil {
		d.logger.Error("item status update failed",
			slog.String("message_id", env.MessageID.String()),
			slog.String("error", err.Error()),
		)
	}
	if err := d.store.IncrementProcessed(ctx, env.JobID); err != nil {
		d.logger.Error("processed counter update failed",
			slog.String("job_id", env.JobID.String()),
			slog.String("error", err.Error()),
		)
	}

	d.throttle.ReportSuccess()
	if d.metrics != nil {
		d.metrics.ItemsCompleted.WithLabelValues(string(env.Kind)).Inc()
		d.metrics.ThrottleDelay.Set(d.throttle.Delay().Seconds())
	}

	d.checkCompletion(ctx, env.JobID)
	d.pace(ctx, d.throttle.Delay())
	return nil
}

// fail applies the failure path: throttle classification, counted
// retry via republish, or escalation when the budget is spent.
func (d *Dispatcher) fail(ctx context.Context, env *message.Envelope, j *job.Job, res handler.Result) error {
	delay := d.throttle.Delay()
	if isThrottling(res) {
		d.throttle.ReportThrottling()
		delay = d.throttle.ThrottledDelay()
		if d.metrics != nil {
			d.metrics.ThrottleEvents.Inc()
			d.metrics.ThrottleDelay.Set(d.throttle.Delay().Seconds())
		}
		d.logger.Warn("upstream throttling detected",
			slog.String("message_id", env.MessageID.String()),
			slog.String("kind", string(env.Kind)),
			slog.Duration("delay", d.throttle.Delay()),
		)
	}

	env.RetryCount++

	if env.RetryCount < env.MaxRetries {
		if err := d.requeue(ctx, env, j, res); err != nil {
			return err
		}
	} else {
		if err := d.escalate(ctx, env, j, res); err != nil {
			return err
		}
	}

	d.pace(ctx, delay)
	return nil
}

// requeue records the attempt and republishes the envelope to its
// operation queue with the incremented retry count.
func (d *Dispatcher) requeue(ctx context.Context, env *message.Envelope, j *job.Job, res handler.Result) error {
	retries := env.RetryCount
	errMsg := res.Error
	if err := d.store.UpdateItemStatus(ctx, env.MessageID, job.ItemRequeued, job.ItemUpdate{
		Error:      &errMsg,
		RetryCount: &retries,
	}); err != nil {
		d.logger.Error("item status update failed",
			slog.String("message_id", env.MessageID.String()),
			slog.String("error", err.Error()),
		)
	}

	queue, err := message.QueueFor(env.Kind)
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", env.MessageID, err)
	}
	if err := d.transport.Publish(ctx, queue, env, j.Priority.Value()); err != nil {
		return fmt.Errorf("dispatch %s: republish: %w", env.MessageID, err)
	}

	if d.metrics != nil {
		d.metrics.ItemsRequeued.WithLabelValues(string(env.Kind)).Inc()
	}
	d.logger.Info("item requeued",
		slog.String("message_id", env.MessageID.String()),
		slog.String("kind", string(env.Kind)),
		slog.Int("attempt", env.RetryCount),
		slog.Int("max_retries", env.MaxRetries),
		slog.String("error", res.Error),
	)
	return nil
}

// escalate records the permanent failure, bumps the failed counter, and
// forwards the envelope to the dead-letter queue for inspection.
func (d *Dispatcher) escalate(ctx context.Context, env *message.Envelope, j *job.Job, res handler.Result) error {
	retries := env.RetryCount
	errMsg := res.Error
	if err := d.store.UpdateItemStatus(ctx, env.MessageID, job.ItemFailed, job.ItemUpdate{
		Error:      &errMsg,
		RetryCount: &retries,
	}); err != nil {
		d.logger.Error("item status update failed",
			slog.String("message_id", env.MessageID.String()),
			slog.String("error", err.Error()),
		)
	}
	if err := d.store.IncrementFailed(ctx, env.JobID); err != nil {
		d.logger.Error("failed counter update failed",
			slog.String("job_id", env.JobID.String()),
			slog.String("error", err.Error()),
		)
	}

	if err := d.transport.PublishToDeadLetter(ctx, env); err != nil {
		d.logger.Error("dead-letter publish failed",
			slog.String("message_id", env.MessageID.String()),
			slog.String("error", err.Error()),
		)
	} else if d.metrics != nil {
		d.metrics.ItemsDeadLettered.WithLabelValues(string(env.Kind)).Inc()
	}

	if d.metrics != nil {
		d.metrics.ItemsFailed.WithLabelValues(string(env.Kind)).Inc()
	}
	d.logger.Warn("item failed permanently",
		slog.String("message_id", env.MessageID.String()),
		slog.String("kind", string(env.Kind)),
		slog.Int("retry_count", env.RetryCount),
		slog.String("error", res.Error),
	)

	d.checkCompletion(ctx, env.JobID)
	return nil
}

// checkCompletion finalizes the job when every item has reached a
// terminal state. MarkFinished is idempotent, so concurrent workers
// observing the final counter at the same time settle on one outcome.
func (d *Dispatcher) checkCompletion(ctx context.Context, jobID uuid.UUID) {
	j, err := d.store.GetJob(ctx, jobID)
	if err != nil {
		d.logger.Error("completion check failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if j.Processed+j.Failed < j.Total {
		return
	}

	final := job.StatusCompleted
	if j.Failed > 0 {
		final = job.StatusFailed
	}
	if err := d.store.MarkFinished(ctx, jobID, final); err != nil {
		d.logger.Error("job finalize failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	d.logger.Info("job finished",
		slog.String("job_id", jobID.String()),
		slog.String("status", string(final)),
		slog.Int("processed", j.Processed),
		slog.Int("failed", j.Failed),
		slog.Int("total", j.Total),
	)
}

// isThrottling reports whether a handler failure is an upstream
// rate-limit signal rather than an ordinary error.
func isThrottling(res handler.Result) bool {
	if res.Code == 429 || res.Code == upstreamThrottleCode {
		return true
	}
	msg := strings.ToLower(res.Error)
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "throttl") ||
		strings.Contains(msg, "too many requests")
}

// pace sleeps the adaptive delay between items, honouring cancellation.
func (d *Dispatcher) pace(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

var _ broker.HandleFunc = (*Dispatcher)(nil).Dispatch
