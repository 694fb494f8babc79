package memory

import (
	"context"
	"iter"
	"slices"
	"time"

	"github.com/xraph/taskbus"
	"github.com/xraph/taskbus/task"
)

// resultEntry is the buffer for one task id. Results are never removed
// individually; the whole entry expires ResultTTL after it was created or
// last pushed to.
type resultEntry struct {
	buf     []task.Result
	wake    chan struct{}
	timer   *time.Timer
	expired bool
}

// resultsFor returns the entry for taskID, creating it with its expiry
// armed. Caller holds s.mu.
func (s *state) resultsFor(taskID string, ttl time.Duration) *resultEntry {
	e, ok := s.results[taskID]
	if !ok {
		e = &resultEntry{wake: make(chan struct{})}
		s.results[taskID] = e
		s.armExpiry(taskID, e, ttl)
	}
	return e
}

// pushResult appends res and re-arms the expiry. Caller holds s.mu.
func (s *state) pushResult(taskID string, ttl time.Duration, res task.Result) {
	e := s.resultsFor(taskID, ttl)
	e.buf = append(e.buf, res)
	close(e.wake)
	e.wake = make(chan struct{})
	s.armExpiry(taskID, e, ttl)
}

// armExpiry (re)starts e's timer. A zero ttl keeps the entry until teardown.
// Caller holds s.mu.
func (s *state) armExpiry(taskID string, e *resultEntry, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(ttl, func() { s.expireResults(taskID, e) })
}

// expireResults drops the entry if it is still the one that armed the
// timer, and wakes its consumers.
func (s *state) expireResults(taskID string, e *resultEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.results[taskID] != e {
		return
	}
	delete(s.results, taskID)
	e.expired = true
	close(e.wake)
	e.wake = make(chan struct{})
}

// popResults is the lazy sequence behind Backend.PopResults. done is the
// view's lifetime.
func (s *state) popResults(ctx context.Context, done <-chan struct{}, taskID string, ttl time.Duration) iter.Seq2[task.Result, error] {
	return func(yield func(task.Result, error) bool) {
		var (
			e      *resultEntry
			cursor int
		)
		for {
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				yield(task.Result{}, taskbus.ErrBackendClosed)
				return
			}
			if e == nil {
				e = s.resultsFor(taskID, ttl)
			}
			if cursor < len(e.buf) {
				batch := slices.Clone(e.buf[cursor:])
				cursor = len(e.buf)
				s.mu.Unlock()

				for _, r := range batch {
					if r.IsClosed() {
						return
					}
					if !yield(r, nil) {
						return
					}
				}
				continue
			}
			if e.expired {
				s.mu.Unlock()
				yield(task.Result{}, taskbus.ErrResultExpired)
				return
			}
			wake := e.wake
			s.mu.Unlock()

			select {
			case <-wake:
			case <-ctx.Done():
				yield(task.Result{}, ctx.Err())
				return
			case <-done:
				yield(task.Result{}, taskbus.ErrBackendClosed)
				return
			case <-s.ctx.Done():
				yield(task.Result{}, taskbus.ErrBackendClosed)
				return
			}
		}
	}
}
