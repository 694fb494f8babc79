package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/taskbus"
	"github.com/xraph/taskbus/id"
	"github.com/xraph/taskbus/task"
)

// ConsumeTasks registers the App's task handler for queues, or the default
// queue.
func (a *App) ConsumeTasks(queues ...string) error {
	if a.isClosed() {
		return taskbus.ErrAppClosed
	}
	if len(queues) == 0 {
		queues = []string{a.config.DefaultQueue}
	}
	if err := a.backend.ConsumeTasks(queues, a.handleTask); err != nil {
		return fmt.Errorf("consume tasks: %w", err)
	}
	a.logger.Info("consuming tasks", slog.Any("queues", queues))
	return nil
}

// StopConsumeTasks stops consumption of queues, or of every queue.
func (a *App) StopConsumeTasks(queues ...string) {
	a.backend.StopConsumeTasks(queues...)
}

// handleTask is the backend.TaskHandler. Each instance runs as a unit the
// App cancels on Close.
func (a *App) handleTask(ctx context.Context, in *task.Instance) error {
	return a.pool.Run(ctx, in.ID.String(), func(ctx context.Context) error {
		a.runTask(ctx, in)
		return nil
	})
}

// runTask drives one execution: enter task contexts, notify receipt, push
// and announce every result tagged with a fresh run token, close generator
// sequences, notify completion, exit task contexts.
func (a *App) runTask(ctx context.Context, in *task.Instance) {
	exit := a.hooks.EnterTask(ctx, in)

	var runErr error
	defer func() { exit(context.WithoutCancel(ctx), runErr) }()

	a.hooks.EmitTaskReceived(ctx, in)

	run := id.NewRunID()
	var seq uint64
	next := func() task.Index {
		seq++
		return task.Index{Run: run, Seq: seq}
	}

	shape, runErr := a.executor.Execute(ctx, in, func(ctx context.Context, v any, final bool) error {
		if final {
			a.publishResult(ctx, in, task.FinalValue(next(), v))
		} else {
			a.publishResult(ctx, in, task.Value(next(), v))
		}
		return nil
	})

	if runErr != nil && ctx.Err() != nil {
		a.logger.Warn("task cancelled",
			slog.String("task_id", in.ID.String()),
			slog.String("task_name", in.Name),
			slog.Uint64("results", seq),
			slog.String("error", runErr.Error()),
		)
		return
	}

	var failure *task.Failure
	if runErr != nil {
		f := task.FailureFrom(runErr)
		failure = &f
		a.publishResult(ctx, in, task.Fail(next(), f))
	}

	// The sender may not know the definition; the shape run here decides.
	if shape == task.ShapeGenerator && in.ResultReturn {
		if err := a.backend.PushResult(ctx, in, task.Closed(next())); err != nil {
			a.logResultError(in, err)
		}
	}

	a.hooks.EmitTaskDone(ctx, in, failure)
}

// publishResult stores res if results were requested and notifies the
// result hooks.
func (a *App) publishResult(ctx context.Context, in *task.Instance, res task.Result) {
	if in.ResultReturn {
		if err := a.backend.PushResult(ctx, in, res); err != nil {
			a.logResultError(in, err)
		}
	}
	a.hooks.EmitTaskResult(ctx, in, res)
}

func (a *App) logResultError(in *task.Instance, err error) {
	level := slog.LevelError
	if errors.Is(err, taskbus.ErrBackendClosed) {
		level = slog.LevelWarn
	}
	a.logger.Log(context.Background(), level, "push result failed",
		slog.String("task_id", in.ID.String()),
		slog.String("task_name", in.Name),
		slog.String("error", err.Error()),
	)
}
