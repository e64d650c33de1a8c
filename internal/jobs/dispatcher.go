// Package jobs enqueues follow-up work triggered by dispatched handlers
// (spec §4.K). Dispatcher is an abstract sink; the webhook pipeline must
// never block on job delivery, so OutboxDispatcher wraps any Dispatcher
// with a bounded-timeout attempt and a durable fallback.
package jobs

import (
	"context"
	"time"
)

// Options carries per-enqueue metadata. TenantID is mandatory (spec §4.K
// "options must carry the tenant id").
type Options struct {
	TenantID string
	JobID    string // optional, caller-supplied idempotency aid for the downstream consumer
}

// Dispatcher is the abstract enqueue sink domain handlers call through.
type Dispatcher interface {
	Enqueue(ctx context.Context, topic string, payload []byte, opts Options) error
}

// DispatcherFunc adapts a plain function to Dispatcher, mirroring the
// teacher's habit of offering function-adapter escape hatches next to the
// concrete client wrappers (internal/webhooks/dispatcher.go's
// WebhookSender interface).
type DispatcherFunc func(ctx context.Context, topic string, payload []byte, opts Options) error

func (f DispatcherFunc) Enqueue(ctx context.Context, topic string, payload []byte, opts Options) error {
	return f(ctx, topic, payload, opts)
}

// WithTimeout wraps a Dispatcher so a slow backing sink cannot stall the
// caller past d (spec §4.K default 2s per enqueue).
func WithTimeout(d Dispatcher, timeout time.Duration) Dispatcher {
	return DispatcherFunc(func(ctx context.Context, topic string, payload []byte, opts Options) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return d.Enqueue(ctx, topic, payload, opts)
	})
}
