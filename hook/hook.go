package hook

import (
	"context"

	"github.com/xraph/taskbus/event"
	"github.com/xraph/taskbus/message"
	"github.com/xraph/taskbus/task"
)

// Hook is the base interface all hooks must implement.
type Hook interface {
	// Name returns a unique human-readable name for the hook.
	Name() string
}

// ──────────────────────────────────────────────────
// Task lifecycle hooks
// ──────────────────────────────────────────────────

// TaskSend is called before a task instance is submitted to the backend.
type TaskSend interface {
	OnTaskSend(ctx context.Context, in *task.Instance) error
}

// ExitFunc releases a resource acquired by TaskContext. err is the last
// failure observed while the task ran, or nil.
type ExitFunc func(ctx context.Context, err error) error

// TaskContext wraps each execution in a scoped resource. EnterTask runs
// before the task body; the returned ExitFunc runs after it, in the same
// handler invocation, whether or not the body failed.
type TaskContext interface {
	EnterTask(ctx context.Context, in *task.Instance) (ExitFunc, error)
}

// TaskReceived is called when a consumer picks up a task instance.
type TaskReceived interface {
	OnTaskReceived(ctx context.Context, in *task.Instance) error
}

// TaskResult is called for every result a task produces.
type TaskResult interface {
	OnTaskResult(ctx context.Context, in *task.Instance, res task.Result) error
}

// TaskDone is called once execution has finished. f is the last failure
// observed, or nil.
type TaskDone interface {
	OnTaskDone(ctx context.Context, in *task.Instance, f *task.Failure) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// MessageSent is called after a message is handed to the backend.
type MessageSent interface {
	OnMessageSent(ctx context.Context, msg *message.Message) error
}

// EventSent is called after an event is handed to the backend.
type EventSent interface {
	OnEventSent(ctx context.Context, evt *event.Event) error
}

// Close is called while the app is closing.
type Close interface {
	OnClose(ctx context.Context) error
}
