package memory

import (
	"container/heap"
	"context"
	"log/slog"
	"time"

	"github.com/xraph/taskbus"
)

// item is one queued task instance or message.
type item struct {
	priority int
	seq      uint64
	enqueued time.Time
	ttl      time.Duration
	key      string
	value    any
}

// itemHeap orders by (-priority, seq). seq is assigned from a per-identity
// counter at submission, so it is monotonic in enqueue order.
type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x any)   { *h = append(*h, x.(*item)) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// itemQueue is one named priority queue with a broadcast wake channel.
type itemQueue struct {
	items itemHeap
	wake  chan struct{}
}

func newItemQueue() *itemQueue {
	return &itemQueue{wake: make(chan struct{})}
}

// queueFor returns the named queue in set, creating it. Caller holds s.mu.
func (s *state) queueFor(set map[string]*itemQueue, name string) *itemQueue {
	q, ok := set[name]
	if !ok {
		q = newItemQueue()
		set[name] = q
	}
	return q
}

// push enqueues value. Caller holds s.mu.
func (s *state) push(set map[string]*itemQueue, name, key string, priority int, ttl time.Duration, value any) {
	s.seq++
	q := s.queueFor(set, name)
	heap.Push(&q.items, &item{
		priority: priority,
		seq:      s.seq,
		enqueued: time.Now(),
		ttl:      ttl,
		key:      key,
		value:    value,
	})
	close(q.wake)
	q.wake = make(chan struct{})
}

// await blocks until the named queue is non-empty. selectSet is called
// under s.mu to pick the task or message set, since teardown clears both.
func (s *state) await(ctx context.Context, selectSet func(*state) map[string]*itemQueue, name string) error {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return taskbus.ErrBackendClosed
		}
		q := s.queueFor(selectSet(s), name)
		if q.items.Len() > 0 {
			s.mu.Unlock()
			return nil
		}
		wake := q.wake
		s.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		case <-s.ctx.Done():
			return taskbus.ErrBackendClosed
		}
	}
}

// tryPop removes the highest-priority fresh item, dropping stale ones on
// the way. It reports false when the queue holds no fresh item.
func (s *state) tryPop(selectSet func(*state) map[string]*itemQueue, name string) (*item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	q := s.queueFor(selectSet(s), name)
	now := time.Now()
	for q.items.Len() > 0 {
		it := heap.Pop(&q.items).(*item)
		if taskbus.IsStale(it.enqueued, it.ttl, now) {
			s.logger.Debug("dropped stale item",
				slog.String("queue", name),
				slog.String("id", it.key),
			)
			continue
		}
		return it, true
	}
	return nil, false
}

// length returns how many items, stale ones included, wait in a queue.
func (s *state) length(selectSet func(*state) map[string]*itemQueue, name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	if q, ok := selectSet(s)[name]; ok {
		return q.items.Len()
	}
	return 0
}

func taskSet(s *state) map[string]*itemQueue    { return s.tasks }
func messageSet(s *state) map[string]*itemQueue { return s.messages }
