// Package worker provides the task execution engine: an Executor that
// resolves a task's definition and drives its result sequence through
// middleware, and a Pool that tracks the handler units an App spawned so
// they can be cancelled on shutdown.
package worker

import (
	"context"
	"log/slog"

	"github.com/xraph/taskbus/middleware"
	"github.com/xraph/taskbus/task"
)

// EmitFunc receives each value produced by a task body, in order. final is
// set on the value of a single-value execution, after which nothing more
// is emitted. Returning an error stops the sequence.
type EmitFunc func(ctx context.Context, value any, final bool) error

// Executor resolves task definitions by name and runs their result
// sequences through the middleware chain.
type Executor struct {
	registry *task.Registry
	mw       middleware.Middleware
	logger   *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(registry *task.Registry, logger *slog.Logger, mws ...middleware.Middleware) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry: registry,
		mw:       middleware.Chain(mws...),
		logger:   logger,
	}
}

// Execute runs one execution of in and reports the shape of the definition
// it ran, which only the executing process knows. Every produced value is
// passed to emit in sequence order. The returned error is the terminal
// failure of the task body (a routing failure for a name with no local
// definition, a recovered panic, or the body's own error), or ctx's error
// if the execution was cancelled between values.
func (e *Executor) Execute(ctx context.Context, in *task.Instance, emit EmitFunc) (task.Shape, error) {
	def, resolveErr := e.registry.Resolve(in.Name)
	shape := task.ShapeOf(def)
	x := middleware.NewExecution(in, shape)

	terminal := func(ctx context.Context) error {
		if resolveErr != nil {
			return resolveErr
		}
		for v, err := range def.Sequence(ctx, in) {
			if err != nil {
				return err
			}
			if err := emit(ctx, v, shape == task.ShapeSingle); err != nil {
				return err
			}
			x.Record(ctx)
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		return nil
	}

	return shape, e.mw(ctx, x, terminal)
}
