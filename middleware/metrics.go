package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/xraph/taskbus"

// Metrics records execution metrics on the global MeterProvider. Without
// one the instruments are noops.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter records execution metrics on meter:
//
//	taskbus.task.duration           histogram, seconds      task_name, queue, shape, outcome
//	taskbus.task.executions         counter                 task_name, queue, shape, outcome
//	taskbus.task.stream_length      histogram, values/run   task_name, shape, outcome
//	taskbus.task.first_result_delay histogram, seconds      task_name, shape
//
// first_result_delay is recorded only for executions that produced a value.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Instrument errors yield noop instruments.
	duration, _ := meter.Float64Histogram("taskbus.task.duration",
		metric.WithDescription("Duration of one execution, whole stream included"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter("taskbus.task.executions",
		metric.WithDescription("Executions by outcome"),
		metric.WithUnit("{execution}"),
	)
	streamLength, _ := meter.Int64Histogram("taskbus.task.stream_length",
		metric.WithDescription("Values produced by one execution"),
		metric.WithUnit("{result}"),
	)
	firstResult, _ := meter.Float64Histogram("taskbus.task.first_result_delay",
		metric.WithDescription("Time from execution start to its first value"),
		metric.WithUnit("s"),
	)

	return func(ctx context.Context, x *Execution, next Handler) error {
		name := attribute.String("task_name", x.Instance.Name)
		shape := attribute.String("shape", x.Shape.String())

		x.OnResult(func(ctx context.Context, seq uint64) {
			if seq == 1 {
				firstResult.Record(ctx, time.Since(x.Started).Seconds(), metric.WithAttributes(name, shape))
			}
		})

		err := next(ctx)

		outcome := attribute.String("outcome", string(x.Outcome(err)))
		full := metric.WithAttributes(name, attribute.String("queue", x.Instance.Queue), shape, outcome)
		duration.Record(ctx, time.Since(x.Started).Seconds(), full)
		executions.Add(ctx, 1, full)
		streamLength.Record(ctx, int64(x.Results()), metric.WithAttributes(name, shape, outcome))
		return err
	}
}
