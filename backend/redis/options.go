package redis

import (
	"log/slog"
	"time"

	"github.com/xraph/taskbus/backoff"
	"github.com/xraph/taskbus/codec"
	"github.com/xraph/taskbus/queue"
)

// Option configures the Backend.
type Option func(*Backend)

// WithCodec sets the serializer for everything written to Redis.
func WithCodec(c codec.Codec) Option {
	return func(b *Backend) { b.codec = c }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// WithPoolSize bounds how many task and message handlers this view runs
// concurrently. Values below 1 are ignored.
func WithPoolSize(n int) Option {
	return func(b *Backend) {
		if n > 0 {
			b.poolSize = n
		}
	}
}

// WithPrefix sets the key prefix. Views sharing a prefix share state.
func WithPrefix(p string) Option {
	return func(b *Backend) { b.prefix = p }
}

// WithBlockTimeout sets how long an idle loop or result consumer waits for
// a notification before polling Redis again.
func WithBlockTimeout(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.blockTimeout = d
		}
	}
}

// WithBackoff sets the delay strategy applied after a consumption loop
// fails to talk to Redis.
func WithBackoff(s backoff.Strategy) Option {
	return func(b *Backend) { b.backoff = s }
}

// WithQueueManager applies per-queue rate limits and concurrency caps
// before each dequeue.
func WithQueueManager(m *queue.Manager) Option {
	return func(b *Backend) { b.queues = m }
}
