// Package throttle provides the adaptive pacing controller shared by
// every dispatcher instance. The delay shrinks multiplicatively after a
// run of successes and grows multiplicatively on an upstream throttle
// signal, bounded to [MinDelay, MaxDelay].
package throttle

import (
	"sync"
	"sync/atomic"
	"time"
)

// Controller holds the process-wide pacing delay. It is safe for
// concurrent use: reports are serialized under a mutex, and Delay reads
// the current value atomically so hot paths never take the lock.
// Construct one with New and inject it explicitly; nothing in this
// package is a singleton.
type Controller struct {
	delay atomic.Int64 // nanoseconds

	mu              sync.Mutex
	successStreak   int
	throttleCount   int
	minDelay        time.Duration
	maxDelay        time.Duration
	threshold       int
	reductionFactor float64
	multiplier      float64
}

// Stats is a point-in-time snapshot of the controller.
type Stats struct {
	CurrentDelay  time.Duration `json:"current_delay"`
	SuccessStreak int           `json:"success_streak"`
	ThrottleCount int           `json:"throttle_count"`
}

// Option configures a Controller.
type Option func(*Controller)

// WithBounds sets the minimum and maximum pacing delay.
func WithBounds(minDelay, maxDelay time.Duration) Option {
	return func(c *Controller) {
		c.minDelay = minDelay
		c.maxDelay = maxDelay
	}
}

// WithSuccessThreshold sets how many consecutive successes trigger a
// delay reduction.
func WithSuccessThreshold(n int) Option {
	return func(c *Controller) { c.threshold = n }
}

// WithReductionFactor sets the multiplier, in (0,1), applied to the
// delay after a success streak.
func WithReductionFactor(f float64) Option {
	return func(c *Controller) { c.reductionFactor = f }
}

// WithThrottleMultiplier sets the multiplier, greater than 1, applied
// to the delay on a throttle report.
func WithThrottleMultiplier(m float64) Option {
	return func(c *Controller) { c.multiplier = m }
}

// New creates a Controller starting at initialDelay.
func New(initialDelay time.Duration, opts ...Option) *Controller {
	c := &Controller{
		minDelay:        50 * time.Millisecond,
		maxDelay:        5 * time.Second,
		threshold:       10,
		reductionFactor: 0.9,
		multiplier:      2,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.delay.Store(int64(initialDelay))
	return c
}

// Delay returns the current pacing delay.
func (c *Controller) Delay() time.Duration {
	return time.Duration(c.delay.Load())
}

// ThrottledDelay returns the doubled pacing delay applied after a
// throttling-classified failure, before the next unit of work.
func (c *Controller) ThrottledDelay() time.Duration {
	return 2 * c.Delay()
}

// ReportSuccess records one successful item. After the configured
// number of consecutive successes the delay is reduced, floored at the
// minimum, and the streak restarts.
func (c *Controller) ReportSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.successStreak++
	if c.successStreak < c.threshold {
		return
	}
	c.successStreak = 0

	reduced := time.Duration(float64(c.delay.Load()) * c.reductionFactor)
	if reduced < c.minDelay {
		reduced = c.minDelay
	}
	c.delay.Store(int64(reduced))
}

// ReportThrottling records an upstream rate-limit signal. The success
// streak resets and the delay grows, capped at the maximum.
func (c *Controller) ReportThrottling() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.successStreak = 0
	c.throttleCount++

	raised := time.Duration(float64(c.delay.Load()) * c.multiplier)
	if raised > c.maxDelay {
		raised = c.maxDelay
	}
	c.delay.Store(int64(raised))
}

// Stats returns a snapshot of the controller state.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		CurrentDelay:  time.Duration(c.delay.Load()),
		SuccessStreak: c.successStreak,
		ThrottleCount: c.throttleCount,
	}
}
