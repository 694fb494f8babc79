package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/taskbus/event"
	"github.com/xraph/taskbus/hook"
	"github.com/xraph/taskbus/id"
	"github.com/xraph/taskbus/message"
	"github.com/xraph/taskbus/task"
)

// Compile-time interface checks.
var (
	_ hook.Hook         = (*MetricsHook)(nil)
	_ hook.TaskSend     = (*MetricsHook)(nil)
	_ hook.TaskReceived = (*MetricsHook)(nil)
	_ hook.TaskResult   = (*MetricsHook)(nil)
	_ hook.TaskDone     = (*MetricsHook)(nil)
	_ hook.MessageSent  = (*MetricsHook)(nil)
	_ hook.EventSent    = (*MetricsHook)(nil)
)

// meterName is the instrumentation scope for lifecycle counters.
const meterName = "github.com/xraph/taskbus/observability"

// MetricsHook records system-wide lifecycle counters. Register it as a hook
// to track send rates, receive counts, produced results, failures, and
// message and event traffic.
type MetricsHook struct {
	TaskSent     metric.Int64Counter
	TaskReceived metric.Int64Counter
	TaskResults  metric.Int64Counter
	TaskFailed   metric.Int64Counter
	TaskDone     metric.Int64Counter
	MessageSent  metric.Int64Counter
	EventSent    metric.Int64Counter
	CronFired    metric.Int64Counter
}

// NewMetricsHook creates a MetricsHook using the global MeterProvider.
func NewMetricsHook() *MetricsHook {
	return NewMetricsHookWithMeter(otel.Meter(meterName))
}

// NewMetricsHookWithMeter creates a MetricsHook with the provided meter.
func NewMetricsHookWithMeter(meter metric.Meter) *MetricsHook {
	// On error, the API returns noop instruments.
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	return &MetricsHook{
		TaskSent:     counter("taskbus.task.sent", "Tasks submitted"),
		TaskReceived: counter("taskbus.task.received", "Tasks received by a consumer"),
		TaskResults:  counter("taskbus.task.results", "Results produced by task bodies"),
		TaskFailed:   counter("taskbus.task.failed", "Task executions that ended in failure"),
		TaskDone:     counter("taskbus.task.done", "Task executions finished"),
		MessageSent:  counter("taskbus.message.sent", "Messages sent"),
		EventSent:    counter("taskbus.event.sent", "Events sent"),
		CronFired:    counter("taskbus.cron.fired", "Cron entries fired"),
	}
}

// Name implements hook.Hook.
func (m *MetricsHook) Name() string { return "observability-metrics" }

func taskAttrs(in *task.Instance) metric.AddOption {
	return metric.WithAttributes(
		attribute.String("task_name", in.Name),
		attribute.String("queue", in.Queue),
	)
}

// ── Task lifecycle hooks ────────────────────────────

// OnTaskSend implements hook.TaskSend.
func (m *MetricsHook) OnTaskSend(ctx context.Context, in *task.Instance) error {
	m.TaskSent.Add(ctx, 1, taskAttrs(in))
	return nil
}

// OnTaskReceived implements hook.TaskReceived.
func (m *MetricsHook) OnTaskReceived(ctx context.Context, in *task.Instance) error {
	m.TaskReceived.Add(ctx, 1, taskAttrs(in))
	return nil
}

// OnTaskResult implements hook.TaskResult. Failures are counted by
// OnTaskDone.
func (m *MetricsHook) OnTaskResult(ctx context.Context, in *task.Instance, res task.Result) error {
	if res.IsValue() {
		m.TaskResults.Add(ctx, 1, taskAttrs(in))
	}
	return nil
}

// OnTaskDone implements hook.TaskDone.
func (m *MetricsHook) OnTaskDone(ctx context.Context, in *task.Instance, f *task.Failure) error {
	status := "ok"
	if f != nil {
		status = "error"
		m.TaskFailed.Add(ctx, 1, taskAttrs(in))
	}
	m.TaskDone.Add(ctx, 1, metric.WithAttributes(
		attribute.String("task_name", in.Name),
		attribute.String("queue", in.Queue),
		attribute.String("status", status),
	))
	return nil
}

// ── Message and event hooks ─────────────────────────

// OnMessageSent implements hook.MessageSent.
func (m *MetricsHook) OnMessageSent(ctx context.Context, msg *message.Message) error {
	m.MessageSent.Add(ctx, 1, metric.WithAttributes(attribute.String("exchange", msg.Exchange)))
	return nil
}

// OnEventSent implements hook.EventSent.
func (m *MetricsHook) OnEventSent(ctx context.Context, evt *event.Event) error {
	m.EventSent.Add(ctx, 1, metric.WithAttributes(attribute.String("type", evt.Type)))
	return nil
}

// ── Cron ────────────────────────────────────────────

// OnCronFired has the shape of cron.FiredFunc.
func (m *MetricsHook) OnCronFired(ctx context.Context, entryName string, _ id.TaskID) {
	m.CronFired.Add(ctx, 1, metric.WithAttributes(attribute.String("cron_name", entryName)))
}
