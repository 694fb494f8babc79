package redis

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/taskbus"
	"github.com/xraph/taskbus/event"
)

// envelope is what goes on the events channel.
type envelope struct {
	Event  *event.Event `json:"event"`
	SentAt time.Time    `json:"sent_at"`
}

// SendEvent publishes evt to every process consuming events under this
// prefix. Events published while nobody listens are not retained.
func (b *Backend) SendEvent(ctx context.Context, evt *event.Event) error {
	if b.isClosed() {
		return taskbus.ErrBackendClosed
	}
	data, err := b.codec.Encode(envelope{Event: evt, SentAt: time.Now()})
	if err != nil {
		return fmt.Errorf("taskbus/redis: encode event: %w", err)
	}
	if err := b.client.Publish(ctx, b.eventsChannel(), data).Err(); err != nil {
		return fmt.Errorf("taskbus/redis: publish event: %w", err)
	}
	return nil
}

// ConsumeEvents registers sub. The first subscription starts this view's
// listener on the events channel.
func (b *Backend) ConsumeEvents(sub *event.Subscription) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return taskbus.ErrBackendClosed
	}

	if b.events == nil {
		ps := b.client.Subscribe(b.ctx, b.eventsChannel())
		if _, err := ps.Receive(b.ctx); err != nil {
			_ = ps.Close()
			return fmt.Errorf("taskbus/redis: subscribe events: %w", err)
		}
		b.events = ps
		b.eventWG.Add(1)
		go b.listen(ps.Channel())
	}
	b.subs[sub.ID] = sub
	return nil
}

// StopConsumeEvents removes the named subscriptions, or every one.
func (b *Backend) StopConsumeEvents(callbackIDs ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(callbackIDs) == 0 {
		clear(b.subs)
		return
	}
	for _, id := range callbackIDs {
		delete(b.subs, id)
	}
}

// listen dispatches every received event to the matching subscriptions in
// callback id order. Sync callbacks are awaited one after another; async
// ones each get a goroutine. Close waits for the listener only.
func (b *Backend) listen(ch <-chan *goredis.Message) {
	defer b.eventWG.Done()

	for msg := range ch {
		var env envelope
		if err := b.codec.Decode([]byte(msg.Payload), &env); err != nil || env.Event == nil {
			b.logger.Warn("dropped undecodable event", slog.Any("error", err))
			continue
		}
		evt := env.Event
		if taskbus.IsStale(env.SentAt, evt.TTL, time.Now()) {
			b.logger.Debug("dropped stale event",
				slog.String("event_id", evt.ID.String()),
				slog.String("type", evt.Type),
			)
			continue
		}

		for _, sub := range b.matching(evt) {
			if sub.Async {
				go b.invoke(sub, evt)
				continue
			}
			if !b.invokeSync(sub, evt) {
				return
			}
		}
	}
}

// invokeSync runs a sync callback and waits for it or for Close, reporting
// false on Close.
func (b *Backend) invokeSync(sub *event.Subscription, evt *event.Event) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.invoke(sub, evt)
	}()
	select {
	case <-done:
		return true
	case <-b.ctx.Done():
		b.logger.Warn("event callback still running at close",
			slog.String("callback_id", sub.ID),
			slog.String("event_id", evt.ID.String()),
		)
		return false
	}
}

func (b *Backend) matching(evt *event.Event) []*event.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	var matched []*event.Subscription
	for _, sub := range b.subs {
		if sub.Matches(evt) {
			matched = append(matched, sub)
		}
	}
	slices.SortFunc(matched, func(x, y *event.Subscription) int {
		return strings.Compare(x.ID, y.ID)
	})
	return matched
}

// invoke runs one callback, logging its error or panic.
func (b *Backend) invoke(sub *event.Subscription, evt *event.Event) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return sub.Callback(b.ctx, evt)
	}()
	if err != nil {
		b.logger.Error("event callback failed",
			slog.String("callback_id", sub.ID),
			slog.String("event_id", evt.ID.String()),
			slog.String("type", evt.Type),
			slog.String("error", err.Error()),
		)
	}
}
