package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// PanicError is returned by Recover when a task body panics. Results is
// how many values the body produced before it panicked; those values have
// already been delivered.
type PanicError struct {
	Name    string
	Value   any
	Results uint64
	Stack   string
}

func (e *PanicError) Error() string {
	if e.Results == 0 {
		return fmt.Sprintf("panic in task %s: %v", e.Name, e.Value)
	}
	return fmt.Sprintf("panic in task %s after %d results: %v", e.Name, e.Results, e.Value)
}

// Trace returns the goroutine stack captured at the panic. It becomes the
// Trace of the stored task.Failure.
func (e *PanicError) Trace() string { return e.Stack }

// Recover turns a panic anywhere inside the chain into a *PanicError.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, x *Execution, next Handler) (err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			perr := &PanicError{
				Name:    x.Instance.Name,
				Value:   r,
				Results: x.Results(),
				Stack:   string(debug.Stack()),
			}
			logger.Error("task panicked",
				slog.String("task_id", x.Instance.ID.String()),
				slog.String("task_name", x.Instance.Name),
				slog.Uint64("results", perr.Results),
				slog.Any("panic", r),
			)
			err = perr
		}()
		return next(ctx)
	}
}
