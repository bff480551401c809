package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/steveoberholzer/ShareSync/broker"
	"github.com/steveoberholzer/ShareSync/message"
)

// Pool runs one consumer per operation queue and routes every delivery
// through the Dispatcher. Within a queue, items are processed one at a
// time so the adaptive pacing delay actually spaces out upstream calls.
type Pool struct {
	transport  broker.Transport
	dispatcher *Dispatcher
	logger     *slog.Logger

	queues    []string
	rateLimit rate.Limit
	grace     time.Duration

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	inFlight sync.WaitGroup
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithQueues overrides the set of queues the pool consumes. The default
// is every operation queue.
func WithQueues(queues []string) PoolOption {
	return func(p *Pool) { p.queues = queues }
}

// WithRateLimit caps deliveries per second on each queue. Zero means
// unlimited.
func WithRateLimit(perSecond float64) PoolOption {
	return func(p *Pool) { p.rateLimit = rate.Limit(perSecond) }
}

// WithShutdownGrace sets how long Stop waits for in-flight items before
// giving up.
func WithShutdownGrace(d time.Duration) PoolOption {
	return func(p *Pool) { p.grace = d }
}

// NewPool creates a consumer pool.
func NewPool(transport broker.Transport, dispatcher *Dispatcher, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		transport:  transport,
		dispatcher: dispatcher,
		logger:     logger,
		queues:     message.OperationQueues(),
		grace:      30 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start declares the topology and registers one consumer per queue. It
// returns once every consumer is registered.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	if err := p.transport.DeclareTopology(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.logger.Info("worker pool starting",
		slog.Any("queues", p.queues),
		slog.Float64("rate_limit", float64(p.rateLimit)),
	)

	for _, queue := range p.queues {
		if err := p.transport.Subscribe(runCtx, queue, p.handlerFor(queue)); err != nil {
			cancel()
			return err
		}
	}

	p.running = true
	return nil
}

// handlerFor wraps the dispatcher with in-flight tracking and the
// optional per-queue rate limiter.
func (p *Pool) handlerFor(queue string) broker.HandleFunc {
	var limiter *rate.Limiter
	if p.rateLimit > 0 {
		limiter = rate.NewLimiter(p.rateLimit, 1)
	}

	return func(ctx context.Context, env *message.Envelope) error {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}

		p.inFlight.Add(1)
		defer p.inFlight.Done()

		err := p.dispatcher.Dispatch(ctx, env)
		if err != nil {
			p.logger.Error("dispatch rejected delivery",
				slog.String("queue", queue),
				slog.String("message_id", env.MessageID.String()),
				slog.String("error", err.Error()),
			)
		}
		return err
	}
}

// Stop cancels the consumers and waits up to the shutdown grace period
// for in-flight items to finish.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	p.logger.Info("worker pool stopping")
	cancel()

	done := make(chan struct{})
	go func() {
		p.inFlight.Wait()
		close(done)
	}()

	timer := time.NewTimer(p.grace)
	defer timer.Stop()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
	case <-timer.C:
		p.logger.Warn("worker pool shutdown grace expired with items in flight")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown cancelled with items in flight")
	}
	return nil
}
