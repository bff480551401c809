// Package broker defines the queue transport contract and its
// implementations. The transport owns topology declaration (one
// priority queue per operation kind bound to a shared dead-letter
// queue), priority-aware publishing, and at-least-once consumption
// with manual acknowledgment.
package broker

import (
	"context"

	"github.com/steveoberholzer/ShareSync/message"
)

// Priority bounds for published messages. Priority is a best-effort
// scheduling hint: higher values are served first, subject to broker
// scheduling, never a strict ordering guarantee.
const (
	MinPriority = 0
	MaxPriority = 10
)

// HandleFunc processes one delivered envelope. Returning nil
// acknowledges the delivery; returning an error rejects it without
// requeue, so the broker's dead-letter binding forwards it. Retry is an
// application-level concern handled by re-publishing, never by broker
// redelivery.
type HandleFunc func(ctx context.Context, env *message.Envelope) error

// Transport is the broker contract used by the producer and workers.
// Implementations must be safe for concurrent use.
type Transport interface {
	// DeclareTopology creates the dead-letter queue and every
	// operation queue, each bound to dead-letter as its overflow
	// target with priorities 0-10 enabled.
	DeclareTopology(ctx context.Context) error

	// Publish serializes the envelope and sends it durably to the
	// named queue with the given priority, clamped into [0,10].
	Publish(ctx context.Context, queue string, env *message.Envelope, priority int) error

	// PublishToDeadLetter escalates an envelope straight to the
	// dead-letter queue. Used when the counted retry budget is
	// exhausted; distinct from the broker's own dead-letter binding.
	PublishToDeadLetter(ctx context.Context, env *message.Envelope) error

	// Subscribe registers a consumer on the named queue. Each
	// delivery is decoded and passed to h; a decode failure or a
	// handler error results in a negative acknowledgment without
	// requeue. Subscribe returns once the consumer is registered and
	// delivers until ctx is cancelled or the transport closes.
	Subscribe(ctx context.Context, queue string, h HandleFunc) error

	// Close shuts the transport down.
	Close() error
}

func clampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}
