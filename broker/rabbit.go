package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	sharesync "github.com/steveoberholzer/ShareSync"
	"github.com/steveoberholzer/ShareSync/backoff"
	"github.com/steveoberholzer/ShareSync/message"
)

// Compile-time interface check.
var _ Transport = (*Rabbit)(nil)

// RabbitOption configures a Rabbit transport.
type RabbitOption func(*Rabbit)

// WithLogger sets the transport logger.
func WithLogger(l *slog.Logger) RabbitOption {
	return func(r *Rabbit) { r.logger = l }
}

// WithPrefetch sets the per-consumer unacknowledged delivery limit.
func WithPrefetch(n int) RabbitOption {
	return func(r *Rabbit) { r.prefetch = n }
}

// WithReconnectBackoff sets the delay strategy used when a consumer
// channel is lost.
func WithReconnectBackoff(s backoff.Strategy) RabbitOption {
	return func(r *Rabbit) { r.reconnect = s }
}

// Rabbit implements Transport over RabbitMQ. The connection is opened
// lazily and re-established on next use after a connection loss;
// topology is redeclared after every reconnect.
type Rabbit struct {
	url       string
	prefetch  int
	logger    *slog.Logger
	reconnect backoff.Strategy

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed bool
}

// NewRabbit creates a RabbitMQ transport for the given AMQP URL. No
// connection is made until first use.
func NewRabbit(url string, opts ...RabbitOption) *Rabbit {
	r := &Rabbit{
		url:       url,
		prefetch:  1,
		logger:    slog.Default(),
		reconnect: backoff.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// channel returns a live channel, dialing and redeclaring topology as
// needed. Callers must not hold r.mu.
func (r *Rabbit) channel(ctx context.Context) (*amqp.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, sharesync.ErrNotConnected
	}
	if r.conn != nil && !r.conn.IsClosed() && r.ch != nil && !r.ch.IsClosed() {
		return r.ch, nil
	}

	conn, err := amqp.Dial(r.url)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", sharesync.ErrNotConnected, r.url, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: open channel: %v", sharesync.ErrNotConnected, err)
	}
	if err := ch.Qos(r.prefetch, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("broker: set qos: %w", err)
	}

	r.conn = conn
	r.ch = ch
	r.logger.Info("broker connected", slog.String("url", r.url))

	// Reconnects must land on a declared topology.
	if err := r.declareLocked(ctx, ch); err != nil {
		return nil, err
	}
	return ch, nil
}

// DeclareTopology creates the dead-letter queue first, then every
// operation queue with dead-letter overflow and priority 0-10 enabled.
func (r *Rabbit) DeclareTopology(ctx context.Context) error {
	_, err := r.channel(ctx)
	return err
}

func (r *Rabbit) declareLocked(_ context.Context, ch *amqp.Channel) error {
	if _, err := ch.QueueDeclare(message.QueueDeadLetter, true, false, false, false, nil); err != nil {
		return fmt.Errorf("broker: declare %s: %w", message.QueueDeadLetter, err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": message.QueueDeadLetter,
		"x-max-priority":            int32(MaxPriority),
	}
	for _, q := range message.OperationQueues() {
		if _, err := ch.QueueDeclare(q, true, false, false, false, args); err != nil {
			return fmt.Errorf("broker: declare %s: %w", q, err)
		}
		r.logger.Info("declared priority queue",
			slog.String("queue", q),
			slog.Int("max_priority", MaxPriority),
		)
	}
	return nil
}

// Publish sends the envelope durably with the clamped priority.
func (r *Rabbit) Publish(ctx context.Context, queue string, env *message.Envelope, priority int) error {
	body, err := message.Encode(env)
	if err != nil {
		return err
	}

	ch, err := r.channel(ctx)
	if err != nil {
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.MessageID.String(),
		Timestamp:    time.Now().UTC(),
		Priority:     uint8(clampPriority(priority)),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", queue, true, false, pub); err != nil {
		return fmt.Errorf("broker: publish %s to %s: %w", env.MessageID, queue, err)
	}

	r.logger.Debug("published message",
		slog.String("message_id", env.MessageID.String()),
		slog.String("queue", queue),
		slog.Int("priority", clampPriority(priority)),
	)
	return nil
}

// PublishToDeadLetter escalates the envelope to the dead-letter queue.
func (r *Rabbit) PublishToDeadLetter(ctx context.Context, env *message.Envelope) error {
	return r.Publish(ctx, message.QueueDeadLetter, env, MinPriority)
}

// Subscribe registers a manual-ack consumer and delivers until ctx is
// cancelled. A lost channel is resubscribed with backoff. Handler
// errors and panics both result in a negative acknowledgment without
// requeue, so the broker's dead-letter binding forwards the message.
func (r *Rabbit) Subscribe(ctx context.Context, queue string, h HandleFunc) error {
	deliveries, ch, err := r.consume(ctx, queue)
	if err != nil {
		return err
	}
	r.logger.Info("subscribed", slog.String("queue", queue))

	go r.consumeLoop(ctx, queue, deliveries, ch, h)
	return nil
}

// consume opens a consumer on a live channel.
func (r *Rabbit) consume(ctx context.Context, queue string) (<-chan amqp.Delivery, *amqp.Channel, error) {
	ch, err := r.channel(ctx)
	if err != nil {
		return nil, nil, err
	}
	deliveries, err := ch.Consume(queue, "sharesync-"+queue, false, false, false, false, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("broker: consume %s: %w", queue, err)
	}
	return deliveries, ch, nil
}

func (r *Rabbit) consumeLoop(ctx context.Context, queue string, deliveries <-chan amqp.Delivery, ch *amqp.Channel, h HandleFunc) {
	for {
		select {
		case <-ctx.Done():
			// Stop accepting new deliveries; unacked messages
			// return to the queue when the channel closes.
			_ = ch.Cancel("sharesync-"+queue, false)
			return
		case d, ok := <-deliveries:
			if !ok {
				var err error
				deliveries, ch, err = r.resubscribe(ctx, queue)
				if err != nil {
					return
				}
				continue
			}
			r.dispatch(ctx, queue, d, h)
		}
	}
}

// resubscribe re-opens the consumer after a channel loss, waiting the
// strategy delay between attempts. It gives up only when the context
// is cancelled or the transport is closed.
func (r *Rabbit) resubscribe(ctx context.Context, queue string) (<-chan amqp.Delivery, *amqp.Channel, error) {
	for attempt := 1; ; attempt++ {
		if r.isClosed() {
			return nil, nil, sharesync.ErrNotConnected
		}
		delay := r.reconnect.Delay(attempt)
		r.logger.Warn("consumer channel lost, reconnecting",
			slog.String("queue", queue),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(delay):
		}

		deliveries, ch, err := r.consume(ctx, queue)
		if err == nil {
			r.logger.Info("consumer restored",
				slog.String("queue", queue),
				slog.Int("attempts", attempt),
			)
			return deliveries, ch, nil
		}
		r.logger.Error("reconnect failed",
			slog.String("queue", queue),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Rabbit) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// dispatch decodes one delivery and settles it. An in-flight callback
// that panics must still be negatively acknowledged so the message is
// neither silently dropped nor endlessly redelivered.
func (r *Rabbit) dispatch(ctx context.Context, queue string, d amqp.Delivery, h HandleFunc) {
	env, err := message.Decode(d.Body)
	if err != nil {
		r.logger.Warn("rejecting undecodable message",
			slog.String("queue", queue),
			slog.String("error", err.Error()),
		)
		_ = d.Nack(false, false)
		return
	}

	if err := r.invoke(ctx, env, h); err != nil {
		r.logger.Error("handler error, dead-lettering delivery",
			slog.String("queue", queue),
			slog.String("message_id", env.MessageID.String()),
			slog.String("error", err.Error()),
		)
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

func (r *Rabbit) invoke(ctx context.Context, env *message.Envelope, h HandleFunc) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("broker: consumer panic: %v", rec)
		}
	}()
	return h(ctx, env)
}

// Close shuts the connection down. Safe to call more than once.
func (r *Rabbit) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if r.ch != nil {
		_ = r.ch.Close()
	}
	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			return fmt.Errorf("broker: close: %w", err)
		}
	}
	r.logger.Info("broker connection closed")
	return nil
}
