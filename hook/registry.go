package hook

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/taskbus"
	"github.com/xraph/taskbus/event"
	"github.com/xraph/taskbus/message"
	"github.com/xraph/taskbus/task"
)

// entry pairs a hook implementation with the hook name captured at
// registration time.
type entry[H any] struct {
	name string
	hook H
}

// Registry holds registered hooks and dispatches lifecycle points to them.
// It type-caches hooks at registration time so each phase iterates only
// over hooks that implement the relevant interface.
type Registry struct {
	mu     sync.RWMutex
	hooks  []Hook
	logger *slog.Logger

	taskSend     []entry[TaskSend]
	taskContext  []entry[TaskContext]
	taskReceived []entry[TaskReceived]
	taskResult   []entry[TaskResult]
	taskDone     []entry[TaskDone]
	messageSent  []entry[MessageSent]
	eventSent    []entry[EventSent]
	closeHooks   []entry[Close]
}

// NewRegistry creates a hook registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds a hook and type-asserts it into all applicable caches.
func (r *Registry) Register(h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.hooks = append(r.hooks, h)
	name := h.Name()

	if v, ok := h.(TaskSend); ok {
		r.taskSend = append(r.taskSend, entry[TaskSend]{name, v})
	}
	if v, ok := h.(TaskContext); ok {
		r.taskContext = append(r.taskContext, entry[TaskContext]{name, v})
	}
	if v, ok := h.(TaskReceived); ok {
		r.taskReceived = append(r.taskReceived, entry[TaskReceived]{name, v})
	}
	if v, ok := h.(TaskResult); ok {
		r.taskResult = append(r.taskResult, entry[TaskResult]{name, v})
	}
	if v, ok := h.(TaskDone); ok {
		r.taskDone = append(r.taskDone, entry[TaskDone]{name, v})
	}
	if v, ok := h.(MessageSent); ok {
		r.messageSent = append(r.messageSent, entry[MessageSent]{name, v})
	}
	if v, ok := h.(EventSent); ok {
		r.eventSent = append(r.eventSent, entry[EventSent]{name, v})
	}
	if v, ok := h.(Close); ok {
		r.closeHooks = append(r.closeHooks, entry[Close]{name, v})
	}
}

// Hooks returns all registered hooks.
func (r *Registry) Hooks() []Hook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Hook(nil), r.hooks...)
}

// snapshot copies a cache under the read lock so a phase never races with
// Register.
func snapshot[H any](r *Registry, s []entry[H]) []entry[H] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]entry[H](nil), s...)
}

// fanOut runs call for every entry concurrently and waits for all of them.
// Failures and panics are logged per hook and swallowed.
func fanOut[H any](ctx context.Context, r *Registry, point string, entries []entry[H], call func(ctx context.Context, name string, h H) error) {
	if len(entries) == 0 {
		return
	}
	var g errgroup.Group
	for _, e := range entries {
		g.Go(func() error {
			if err := r.safeCall(point, e.name, func() error { return call(ctx, e.name, e.hook) }); err != nil {
				r.logHookError(err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// safeCall invokes fn, converting a returned error or a panic into a
// *taskbus.HookError.
func (r *Registry) safeCall(point, name string, fn func() error) (herr *taskbus.HookError) {
	defer func() {
		if rv := recover(); rv != nil {
			herr = &taskbus.HookError{Hook: point, Name: name, Err: fmt.Errorf("panic: %v", rv)}
		}
	}()
	if err := fn(); err != nil {
		return &taskbus.HookError{Hook: point, Name: name, Err: err}
	}
	return nil
}

// logHookError logs a warning when a hook fails.
// Hook errors are never propagated: they must not block the pipeline.
func (r *Registry) logHookError(err *taskbus.HookError) {
	r.logger.Warn("hook error",
		slog.String("hook", err.Hook),
		slog.String("name", err.Name),
		slog.String("error", err.Err.Error()),
	)
}

// ──────────────────────────────────────────────────
// Task phases
// ──────────────────────────────────────────────────

// EmitTaskSend notifies all hooks that implement TaskSend.
func (r *Registry) EmitTaskSend(ctx context.Context, in *task.Instance) {
	fanOut(ctx, r, "OnTaskSend", snapshot(r, r.taskSend), func(ctx context.Context, _ string, h TaskSend) error {
		return h.OnTaskSend(ctx, in)
	})
}

// EnterTask enters every TaskContext hook concurrently and returns a func
// that exits the ones that entered successfully. The returned func must be
// called exactly once.
func (r *Registry) EnterTask(ctx context.Context, in *task.Instance) func(ctx context.Context, err error) {
	var (
		mu    sync.Mutex
		exits []entry[ExitFunc]
	)
	fanOut(ctx, r, "EnterTask", snapshot(r, r.taskContext), func(ctx context.Context, name string, h TaskContext) error {
		exit, err := h.EnterTask(ctx, in)
		if err != nil {
			return err
		}
		if exit != nil {
			mu.Lock()
			exits = append(exits, entry[ExitFunc]{name, exit})
			mu.Unlock()
		}
		return nil
	})

	return func(ctx context.Context, taskErr error) {
		fanOut(ctx, r, "ExitTask", exits, func(ctx context.Context, _ string, exit ExitFunc) error {
			return exit(ctx, taskErr)
		})
	}
}

// EmitTaskReceived notifies all hooks that implement TaskReceived.
func (r *Registry) EmitTaskReceived(ctx context.Context, in *task.Instance) {
	fanOut(ctx, r, "OnTaskReceived", snapshot(r, r.taskReceived), func(ctx context.Context, _ string, h TaskReceived) error {
		return h.OnTaskReceived(ctx, in)
	})
}

// EmitTaskResult notifies all hooks that implement TaskResult.
func (r *Registry) EmitTaskResult(ctx context.Context, in *task.Instance, res task.Result) {
	fanOut(ctx, r, "OnTaskResult", snapshot(r, r.taskResult), func(ctx context.Context, _ string, h TaskResult) error {
		return h.OnTaskResult(ctx, in, res)
	})
}

// EmitTaskDone notifies all hooks that implement TaskDone.
func (r *Registry) EmitTaskDone(ctx context.Context, in *task.Instance, f *task.Failure) {
	fanOut(ctx, r, "OnTaskDone", snapshot(r, r.taskDone), func(ctx context.Context, _ string, h TaskDone) error {
		return h.OnTaskDone(ctx, in, f)
	})
}

// ──────────────────────────────────────────────────
// Other phases
// ──────────────────────────────────────────────────

// EmitMessageSent notifies all hooks that implement MessageSent.
func (r *Registry) EmitMessageSent(ctx context.Context, msg *message.Message) {
	fanOut(ctx, r, "OnMessageSent", snapshot(r, r.messageSent), func(ctx context.Context, _ string, h MessageSent) error {
		return h.OnMessageSent(ctx, msg)
	})
}

// EmitEventSent notifies all hooks that implement EventSent.
func (r *Registry) EmitEventSent(ctx context.Context, evt *event.Event) {
	fanOut(ctx, r, "OnEventSent", snapshot(r, r.eventSent), func(ctx context.Context, _ string, h EventSent) error {
		return h.OnEventSent(ctx, evt)
	})
}

// EmitClose notifies all hooks that implement Close.
func (r *Registry) EmitClose(ctx context.Context) {
	fanOut(ctx, r, "OnClose", snapshot(r, r.closeHooks), func(ctx context.Context, _ string, h Close) error {
		return h.OnClose(ctx)
	})
}
