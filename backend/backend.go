// Package backend defines the storage and fan-out contract every taskbus
// backend implements: task queues, the result store, message queues, and
// event broadcast for one logical broker identity.
//
// backend/memory is the reference implementation. backend/redis carries
// the same contract over a network.
package backend

import (
	"context"
	"iter"

	"github.com/xraph/taskbus/event"
	"github.com/xraph/taskbus/message"
	"github.com/xraph/taskbus/task"
)

// TaskHandler processes one dequeued task instance. Returned errors and
// panics are logged by the consumption loop and never stop it.
type TaskHandler func(ctx context.Context, in *task.Instance) error

// Backend is the contract between the dispatch core and a broker.
//
// Submit and Send never block on consumers. Each consumption loop delivers
// every item to at most one handler invocation, in strict priority order
// and FIFO among equal priorities, dropping items found stale at dequeue.
// Handlers run concurrently, bounded by the backend's pool size.
type Backend interface {
	// SubmitTask enqueues in on in.Queue. If in.ResultReturn is set, the
	// result buffer for in.ID is created eagerly.
	SubmitTask(ctx context.Context, in *task.Instance) error

	// ConsumeTasks starts one loop per named queue not already consumed by
	// this backend.
	ConsumeTasks(queues []string, h TaskHandler) error

	// StopConsumeTasks cancels the loops for queues, or all loops when
	// none are named. It is idempotent.
	StopConsumeTasks(queues ...string)

	// PushResult appends res to the buffer for in.ID and wakes waiters.
	PushResult(ctx context.Context, in *task.Instance, res task.Result) error

	// PopResults returns the results for in.ID in push order. It fails
	// with taskbus.ErrResultNotRequested when in.ResultReturn is false.
	// The sequence suspends while no result is buffered and ends, without
	// yielding it, at a Closed result. It ends with an error when ctx is
	// done, the backend closes, or the buffer expires. Every call keeps
	// its own cursor, so concurrent consumers see the same results.
	PopResults(ctx context.Context, in *task.Instance) (iter.Seq2[task.Result, error], error)

	// SendMessage enqueues msg on msg.Exchange.
	SendMessage(ctx context.Context, msg *message.Message) error

	// ConsumeMessages starts one loop per named exchange not already
	// consumed by this backend.
	ConsumeMessages(exchanges []string, h message.Handler) error

	// StopConsumeMessages cancels the loops for exchanges, or all loops
	// when none are named. It is idempotent.
	StopConsumeMessages(exchanges ...string)

	// SendEvent adds evt to the event table.
	SendEvent(ctx context.Context, evt *event.Event) error

	// ConsumeEvents registers sub with the identity's dispatch loop,
	// starting the loop on first use. Registering an existing callback id
	// replaces it.
	ConsumeEvents(sub *event.Subscription) error

	// StopConsumeEvents removes the named subscriptions, or every
	// subscription this backend registered when none are named.
	StopConsumeEvents(callbackIDs ...string)

	// Close stops all consumption, cancels in-flight handlers, and
	// releases the backend. It is idempotent.
	Close() error
}
