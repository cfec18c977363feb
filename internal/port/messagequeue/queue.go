// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
// The context carries request-scoped values such as the request ID.
// The returned error decides the delivery's fate: nil acknowledges it,
// a Retry error redelivers it after a delay, a Permanent error drops it,
// and any other error redelivers it immediately.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
// Delivery is at-least-once.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// PublishMsg sends a message carrying a deduplication id. The broker
	// drops a second publish with the same id inside its dedup window.
	PublishMsg(ctx context.Context, subject, msgID string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// Handlers may run concurrently; callers bound their own concurrency.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	// Pending messages are processed; no new messages are accepted.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject constants for NATS subjects used by the concierge.
const (
	SubjectJobExecute = "jobs.execute" // Enqueuer → Worker: run a payment-triggered job
	SubjectJobFailed  = "jobs.failed"  // Worker → ops: job needs manual intervention
)
