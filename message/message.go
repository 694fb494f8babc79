// Package message defines fire-and-forget payloads routed by exchange name.
// Messages have no result channel and are consumed at most once per
// exchange consumption loop.
package message

import (
	"context"
	"time"

	"github.com/xraph/taskbus/id"
)

// Message is a fire-and-forget payload routed by Exchange.
type Message struct {
	ID        id.MessageID  `json:"id"`
	Exchange  string        `json:"exchange"`
	Priority  int           `json:"priority"`
	TTL       time.Duration `json:"ttl"`
	Body      any           `json:"body"`
	CreatedAt time.Time     `json:"created_at"`
}

// Handler processes one delivered message. Returned errors are logged by
// the consumption loop and never stop it.
type Handler func(ctx context.Context, msg *Message) error

// Options configures one message submission.
type Options struct {
	Exchange string
	Priority int
	TTL      time.Duration
}

// Option is a functional option for a message submission.
type Option func(*Options)

// WithExchange routes the message to exchange.
func WithExchange(exchange string) Option {
	return func(o *Options) { o.Exchange = exchange }
}

// WithPriority sets the dequeue priority. Higher values are delivered first.
func WithPriority(p int) Option {
	return func(o *Options) { o.Priority = p }
}

// WithTTL sets the staleness bound checked at dequeue.
func WithTTL(d time.Duration) Option {
	return func(o *Options) { o.TTL = d }
}

// New builds a message from body and resolved options.
func New(body any, opts Options) *Message {
	return &Message{
		ID:        id.NewMessageID(),
		Exchange:  opts.Exchange,
		Priority:  opts.Priority,
		TTL:       opts.TTL,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
}
