package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/xraph/taskbus"

// Tracing wraps each execution in a span from the global TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer wraps each execution in a "taskbus.task.execute" span.
// Every produced value adds a "taskbus.result" span event carrying its
// sequence number. The span ends with the outcome and result count as
// attributes; failures, timeouts, and cancellations set an error status.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, x *Execution, next Handler) error {
		in := x.Instance
		ctx, span := tracer.Start(ctx, "taskbus.task.execute",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("taskbus.task.id", in.ID.String()),
				attribute.String("taskbus.task.name", in.Name),
				attribute.String("taskbus.queue", in.Queue),
				attribute.Int("taskbus.priority", in.Priority),
				attribute.String("taskbus.shape", x.Shape.String()),
				attribute.Bool("taskbus.result_return", in.ResultReturn),
			),
		)
		defer span.End()

		x.OnResult(func(_ context.Context, seq uint64) {
			span.AddEvent("taskbus.result", trace.WithAttributes(attribute.Int64("taskbus.result.seq", int64(seq))))
		})

		err := next(ctx)

		outcome := x.Outcome(err)
		span.SetAttributes(
			attribute.String("taskbus.outcome", string(outcome)),
			attribute.Int64("taskbus.results", int64(x.Results())),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
