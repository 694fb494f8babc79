package middleware

import (
	"context"
	"log/slog"
	"time"
)

// Logging logs the start of an execution and how it ended. Failures are
// errors, timeouts warnings, cancellations and completions debug.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, x *Execution, next Handler) error {
		in := x.Instance
		logger.Debug("task started",
			slog.String("task_id", in.ID.String()),
			slog.String("task_name", in.Name),
			slog.String("queue", in.Queue),
			slog.String("shape", x.Shape.String()),
		)

		err := next(ctx)

		outcome := x.Outcome(err)
		attrs := []slog.Attr{
			slog.String("task_id", in.ID.String()),
			slog.String("task_name", in.Name),
			slog.String("outcome", string(outcome)),
			slog.Uint64("results", x.Results()),
			slog.Duration("elapsed", time.Since(x.Started)),
		}
		level := slog.LevelDebug
		switch outcome {
		case OutcomeFailure:
			level = slog.LevelError
		case OutcomeTimeout:
			level = slog.LevelWarn
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		logger.LogAttrs(ctx, level, "task finished", attrs...)
		return err
	}
}
