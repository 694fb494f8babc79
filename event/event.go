// Package event provides broadcast notifications. Unlike tasks and
// messages, one event is delivered to every subscription whose type filter
// matches.
package event

import (
	"context"
	"slices"
	"time"

	"github.com/xraph/taskbus/id"
)

// Event is a broadcast notification keyed by ID and tagged with Type.
type Event struct {
	ID        id.EventID    `json:"id"`
	Type      string        `json:"type"`
	Payload   any           `json:"payload,omitempty"`
	TTL       time.Duration `json:"ttl"`
	CreatedAt time.Time     `json:"created_at"`
}

// New builds an event of the given type.
func New(typ string, payload any, ttl time.Duration) *Event {
	return &Event{
		ID:        id.NewEventID(),
		Type:      typ,
		Payload:   payload,
		TTL:       ttl,
		CreatedAt: time.Now().UTC(),
	}
}

// Callback receives matching events. Errors are logged by the dispatch
// loop.
type Callback func(ctx context.Context, evt *Event) error

// Subscription is one registered callback and its type filter.
type Subscription struct {
	ID       string
	Callback Callback

	// Types filters by event type. Empty matches every event.
	Types []string

	// Async runs the callback in its own goroutine so a slow subscriber
	// cannot stall dispatch to the others.
	Async bool
}

// Matches reports whether evt passes the subscription's type filter.
func (s *Subscription) Matches(evt *Event) bool {
	return len(s.Types) == 0 || slices.Contains(s.Types, evt.Type)
}

// SubscribeOption configures a Subscription.
type SubscribeOption func(*Subscription)

// WithTypes restricts the subscription to the given event types.
func WithTypes(types ...string) SubscribeOption {
	return func(s *Subscription) { s.Types = append(s.Types, types...) }
}

// Async marks the callback as asynchronous.
func Async() SubscribeOption {
	return func(s *Subscription) { s.Async = true }
}

// NewSubscription builds a subscription record.
func NewSubscription(callbackID string, cb Callback, opts ...SubscribeOption) *Subscription {
	s := &Subscription{ID: callbackID, Callback: cb}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
