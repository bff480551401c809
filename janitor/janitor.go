// Package janitor prunes finished jobs after a retention window. The
// sweep runs on a cron schedule and removes terminal jobs together
// with their items and log entries.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/steveoberholzer/ShareSync/job"
)

// cronParser supports standard 5-field cron and descriptors like
// "@every 6h".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Option configures a Janitor.
type Option func(*Janitor)

// WithRetention sets how long finished jobs are kept.
func WithRetention(d time.Duration) Option {
	return func(j *Janitor) { j.retention = d }
}

// WithSchedule sets the sweep cron expression.
func WithSchedule(expr string) Option {
	return func(j *Janitor) { j.schedule = expr }
}

// Janitor deletes terminal jobs older than the retention window.
type Janitor struct {
	store     job.Store
	logger    *slog.Logger
	retention time.Duration
	schedule  string

	cron *cronlib.Cron
}

// New creates a Janitor. Defaults: 30 day retention, sweeping daily
// at 03:00.
func New(store job.Store, logger *slog.Logger, opts ...Option) *Janitor {
	j := &Janitor{
		store:     store,
		logger:    logger,
		retention: 30 * 24 * time.Hour,
		schedule:  "0 3 * * *",
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Start schedules the sweep and returns immediately.
func (j *Janitor) Start() error {
	if _, err := cronParser.Parse(j.schedule); err != nil {
		return fmt.Errorf("janitor: invalid schedule %q: %w", j.schedule, err)
	}

	j.cron = cronlib.New(cronlib.WithParser(cronParser))
	_, err := j.cron.AddFunc(j.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := j.RunOnce(ctx); err != nil {
			j.logger.Error("retention sweep failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("janitor: schedule sweep: %w", err)
	}

	j.cron.Start()
	j.logger.Info("janitor started",
		slog.String("schedule", j.schedule),
		slog.Duration("retention", j.retention),
	)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop(ctx context.Context) error {
	if j.cron == nil {
		return nil
	}
	select {
	case <-j.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs a single sweep and returns the number of jobs
// removed.
func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-j.retention)
	purged, err := j.store.PurgeJobs(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		j.logger.Info("retention sweep removed jobs",
			slog.Int("jobs", purged),
			slog.Time("cutoff", cutoff),
		)
	}
	return purged, nil
}
