package memory

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/xraph/taskbus"
	"github.com/xraph/taskbus/event"
)

type queuedEvent struct {
	evt      *event.Event
	enqueued time.Time
}

// addEvent appends evt in arrival order, pruning entries whose ttl has
// elapsed. Caller holds s.mu.
func (s *state) addEvent(evt *event.Event) {
	now := time.Now()
	s.events = slices.DeleteFunc(s.events, func(q queuedEvent) bool {
		return taskbus.IsStale(q.enqueued, q.evt.TTL, now)
	})
	s.events = append(s.events, queuedEvent{evt: evt, enqueued: now})
	close(s.eventWake)
	s.eventWake = make(chan struct{})
}

// subscribe registers sub and starts the dispatch loop on first use.
// Caller holds s.mu.
func (s *state) subscribe(sub *event.Subscription) {
	s.subs[sub.ID] = sub
	if !s.dispatching {
		s.dispatching = true
		s.dispatchWG.Add(1)
		go s.dispatchLoop()
	}
}

// nextEvent blocks until the table is non-empty and pops the oldest event
// together with the subscriptions it matches.
func (s *state) nextEvent() (queuedEvent, []*event.Subscription, bool) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return queuedEvent{}, nil, false
		}
		if len(s.events) > 0 {
			q := s.events[0]
			s.events[0] = queuedEvent{}
			s.events = s.events[1:]

			var matched []*event.Subscription
			for _, sub := range s.subs {
				if sub.Matches(q.evt) {
					matched = append(matched, sub)
				}
			}
			s.mu.Unlock()
			slices.SortFunc(matched, func(a, b *event.Subscription) int {
				return strings.Compare(a.ID, b.ID)
			})
			return q, matched, true
		}
		wake := s.eventWake
		s.mu.Unlock()

		select {
		case <-wake:
		case <-s.ctx.Done():
			return queuedEvent{}, nil, false
		}
	}
}

// dispatchLoop is the single event loop of an identity. Sync callbacks
// are awaited one after another; async ones each get a goroutine. Only the
// loop itself is tracked by dispatchWG: a callback that ignores
// cancellation is abandoned at teardown instead of blocking it.
func (s *state) dispatchLoop() {
	defer s.dispatchWG.Done()

	for {
		q, subs, ok := s.nextEvent()
		if !ok {
			return
		}
		if taskbus.IsStale(q.enqueued, q.evt.TTL, time.Now()) {
			s.logger.Debug("dropped stale event",
				slog.String("event_id", q.evt.ID.String()),
				slog.String("type", q.evt.Type),
			)
			continue
		}
		for _, sub := range subs {
			if sub.Async {
				go s.invoke(sub, q.evt)
				continue
			}
			if !s.invokeSync(sub, q.evt) {
				return
			}
		}
	}
}

// invokeSync runs a sync callback and waits for it or for teardown, reporting
// false on teardown.
func (s *state) invokeSync(sub *event.Subscription, evt *event.Event) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.invoke(sub, evt)
	}()
	select {
	case <-done:
		return true
	case <-s.ctx.Done():
		s.logger.Warn("event callback still running at teardown",
			slog.String("callback_id", sub.ID),
			slog.String("event_id", evt.ID.String()),
		)
		return false
	}
}

// invoke runs one callback, logging its error or panic.
func (s *state) invoke(sub *event.Subscription, evt *event.Event) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return sub.Callback(s.ctx, evt)
	}()
	if err != nil {
		s.logger.Error("event callback failed",
			slog.String("callback_id", sub.ID),
			slog.String("event_id", evt.ID.String()),
			slog.String("type", evt.Type),
			slog.String("error", err.Error()),
		)
	}
}

// unsubscribe removes the named callbacks. Caller holds s.mu.
func (s *state) unsubscribe(ids ...string) {
	for _, id := range ids {
		delete(s.subs, id)
	}
}
