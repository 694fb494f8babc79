package taskbus

import "time"

// Config holds process-wide defaults shared by Apps and Backends.
type Config struct {
	// PoolSize bounds how many task and message handlers a backend runs
	// concurrently.
	PoolSize int

	// DefaultQueue is the queue a task is routed to when neither its
	// definition nor the caller picks one.
	DefaultQueue string

	// DefaultExchange is the exchange used for messages sent without one.
	DefaultExchange string

	// TaskTTL is the staleness bound applied to tasks at dequeue time.
	// Negative values never expire.
	TaskTTL time.Duration

	// ResultReturn controls whether results are stored by default.
	ResultReturn bool

	// ResultTTL is how long a result buffer survives its last push.
	// Zero or negative keeps it until the backend identity is torn down.
	ResultTTL time.Duration

	// MessageTTL is the staleness bound applied to messages.
	MessageTTL time.Duration

	// EventTTL is how long an event may wait in the event table.
	EventTTL time.Duration

	// ShutdownTimeout is the maximum time Close waits for hooks.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PoolSize:        10,
		DefaultQueue:    "default",
		DefaultExchange: "default",
		TaskTTL:         24 * time.Hour,
		ResultReturn:    true,
		ResultTTL:       10 * time.Minute,
		MessageTTL:      time.Hour,
		EventTTL:        time.Minute,
		ShutdownTimeout: 30 * time.Second,
	}
}
