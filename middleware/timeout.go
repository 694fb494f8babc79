package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Timeout bounds the whole result stream by the instance's Timeout. A
// zero Timeout leaves the execution unbounded. When the deadline ends the
// stream, the returned error still matches context.DeadlineExceeded and
// names how many values were produced.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, x *Execution, next Handler) error {
		limit := x.Instance.Timeout
		if limit <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		err := next(ctx)
		if err == nil || !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return err
		}
		logger.Warn("task timed out",
			slog.String("task_id", x.Instance.ID.String()),
			slog.String("task_name", x.Instance.Name),
			slog.Duration("timeout", limit),
			slog.Uint64("results", x.Results()),
		)
		return fmt.Errorf("task %s exceeded %s after %d results: %w",
			x.Instance.Name, limit, x.Results(), context.DeadlineExceeded)
	}
}
