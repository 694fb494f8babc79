package task

import (
	"maps"
	"time"

	"github.com/xraph/taskbus"
)

// Options configures per-task behavior such as routing, priority, and
// result retention.
type Options struct {
	// Queue is the queue name this task is submitted to.
	Queue string

	// Priority determines dequeue ordering. Higher values are processed first.
	Priority int

	// TTL is the staleness bound checked when the task is dequeued.
	TTL time.Duration

	// ResultReturn requests that produced results are stored.
	ResultReturn bool

	// ResultTTL is how long stored results survive the last push.
	ResultTTL time.Duration

	// Streaming records that the sender knew the task as generator-shaped.
	// Consumers do not rely on it.
	Streaming bool

	// Timeout is the maximum duration one execution may run. Zero means
	// unlimited.
	Timeout time.Duration

	// Extra is an open bag of cross-cutting metadata.
	Extra map[string]any
}

// DefaultOptions returns Options derived from taskbus.DefaultConfig.
func DefaultOptions() Options {
	return OptionsFromConfig(taskbus.DefaultConfig())
}

// OptionsFromConfig returns the task defaults carried by cfg.
func OptionsFromConfig(cfg taskbus.Config) Options {
	return Options{
		Queue:        cfg.DefaultQueue,
		TTL:          cfg.TaskTTL,
		ResultReturn: cfg.ResultReturn,
		ResultTTL:    cfg.ResultTTL,
	}
}

// Option is a functional option for configuring a task definition or a
// single submission.
type Option func(*Options)

// Apply returns a copy of o with opts applied in order.
func (o Options) Apply(opts ...Option) Options {
	o.Extra = maps.Clone(o.Extra)
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithQueue sets the queue name for the task.
func WithQueue(q string) Option {
	return func(o *Options) {
		o.Queue = q
	}
}

// WithPriority sets the task priority. Higher values are processed first.
func WithPriority(p int) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithTTL sets the staleness bound. Use taskbus.NoExpiry to disable it.
func WithTTL(d time.Duration) Option {
	return func(o *Options) {
		o.TTL = d
	}
}

// WithResultReturn controls whether results are stored.
func WithResultReturn(b bool) Option {
	return func(o *Options) {
		o.ResultReturn = b
	}
}

// WithResultTTL sets how long results survive the last push.
func WithResultTTL(d time.Duration) Option {
	return func(o *Options) {
		o.ResultTTL = d
	}
}

// WithStreaming marks the task as generator-shaped.
func WithStreaming(b bool) Option {
	return func(o *Options) {
		o.Streaming = b
	}
}

// WithTimeout sets the maximum execution duration.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithExtra sets one metadata key.
func WithExtra(key string, value any) Option {
	return func(o *Options) {
		if o.Extra == nil {
			o.Extra = make(map[string]any)
		}
		o.Extra[key] = value
	}
}
