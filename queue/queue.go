package queue

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config defines per-queue behaviour such as rate limiting and concurrency.
type Config struct {
	// Name is the queue or exchange identifier.
	Name string

	// MaxConcurrency limits how many handlers from this queue may run
	// simultaneously. Zero means no queue-specific limit (the backend
	// pool size still applies).
	MaxConcurrency int

	// RateLimit is the maximum sustained items per second that may be
	// dequeued from this queue. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// queueState tracks runtime state for a single queue.
type queueState struct {
	config  Config
	limiter *rate.Limiter
	slots   *semaphore.Weighted
	active  int
}

// Manager controls per-queue rate limiting and concurrency.
// It is safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*queueState
}

// NewManager creates a Manager with the given queue configurations.
// Queues not listed here have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		queues: make(map[string]*queueState, len(configs)),
	}
	for _, cfg := range configs {
		m.queues[cfg.Name] = newQueueState(cfg)
	}
	return m
}

func newQueueState(cfg Config) *queueState {
	qs := &queueState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		qs.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	if cfg.MaxConcurrency > 0 {
		qs.slots = semaphore.NewWeighted(int64(cfg.MaxConcurrency))
	}
	return qs
}

func (m *Manager) state(queue string) *queueState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queues[queue]
}

// Acquire blocks until the queue's rate limit and concurrency cap admit
// one more item, or ctx is done. The returned release func must be called
// exactly once when the item's handler completes.
func (m *Manager) Acquire(ctx context.Context, queue string) (func(), error) {
	qs := m.state(queue)
	if qs == nil {
		return func() {}, nil
	}

	if qs.slots != nil {
		if err := qs.slots.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}
	if qs.limiter != nil {
		if err := qs.limiter.Wait(ctx); err != nil {
			if qs.slots != nil {
				qs.slots.Release(1)
			}
			return nil, err
		}
	}
	return m.admit(qs), nil
}

// TryAcquire is the non-blocking form of Acquire. It reports false when
// the queue is rate limited or at its concurrency cap.
func (m *Manager) TryAcquire(queue string) (func(), bool) {
	qs := m.state(queue)
	if qs == nil {
		return func() {}, true
	}

	if qs.slots != nil && !qs.slots.TryAcquire(1) {
		return nil, false
	}
	if qs.limiter != nil && !qs.limiter.Allow() {
		if qs.slots != nil {
			qs.slots.Release(1)
		}
		return nil, false
	}
	return m.admit(qs), true
}

// admit records one active item against qs and returns its release func.
// Releasing always targets the state the slot was taken from, even if the
// queue is reconfigured meanwhile.
func (m *Manager) admit(qs *queueState) func() {
	m.mu.Lock()
	qs.active++
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if qs.active > 0 {
				qs.active--
			}
			m.mu.Unlock()
			if qs.slots != nil {
				qs.slots.Release(1)
			}
		})
	}
}

// SetQueueConfig dynamically updates (or creates) a queue configuration.
// Items admitted under the previous configuration release against it.
func (m *Manager) SetQueueConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[cfg.Name] = newQueueState(cfg)
}

// Config returns the configuration for queue, if any.
func (m *Manager) Config(queue string) (Config, bool) {
	qs := m.state(queue)
	if qs == nil {
		return Config{}, false
	}
	return qs.config, true
}

// ActiveCount returns the current number of active items for a queue
// under its current configuration.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs := m.queues[queue]; qs != nil {
		return qs.active
	}
	return 0
}
