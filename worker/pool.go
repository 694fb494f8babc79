package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/xraph/taskbus"
)

type activeUnit struct {
	key    string
	cancel context.CancelFunc
}

// Pool tracks the handler units an App spawned so Stop can cancel every
// one still running. It does not limit concurrency; backends do that.
type Pool struct {
	logger *slog.Logger

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
	next   uint64
	active map[uint64]activeUnit
}

// NewPool creates an empty Pool.
func NewPool(logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		logger: logger,
		active: make(map[uint64]activeUnit),
	}
}

// Run calls fn with a context that Stop cancels. key names the unit in
// logs (typically the task or message id). Run fails with
// taskbus.ErrAppClosed once Stop has been called.
func (p *Pool) Run(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return taskbus.ErrAppClosed
	}
	slot := p.next
	p.next++
	p.active[slot] = activeUnit{key: key, cancel: cancel}
	p.wg.Add(1)
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.active, slot)
		p.mu.Unlock()
		p.wg.Done()
	}()

	return fn(ctx)
}

// ActiveCount returns the number of units currently running.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Stop cancels every running unit and waits for them to return, or for ctx
// to be done. Further Run calls fail. Stop is idempotent.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	for _, u := range p.active {
		p.logger.Debug("cancelling active handler", slog.String("key", u.key))
		u.cancel()
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		p.logger.Warn("handler shutdown timed out",
			slog.Int("still_running", p.ActiveCount()),
		)
		return ctx.Err()
	}
}
