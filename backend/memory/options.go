package memory

import (
	"log/slog"

	"github.com/xraph/taskbus/queue"
)

// Option configures a Backend view.
type Option func(*Backend)

// WithPoolSize bounds how many task and message handlers this view runs
// concurrently. Values below 1 are ignored.
func WithPoolSize(n int) Option {
	return func(b *Backend) {
		if n > 0 {
			b.poolSize = n
		}
	}
}

// WithLogger sets the logger for this view's loops and handlers.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// WithQueueManager applies per-queue rate limits and concurrency caps
// before each dequeue.
func WithQueueManager(m *queue.Manager) Option {
	return func(b *Backend) { b.queues = m }
}
