package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/taskbus"
	"github.com/xraph/taskbus/backend"
	"github.com/xraph/taskbus/cron"
	"github.com/xraph/taskbus/event"
	"github.com/xraph/taskbus/hook"
	"github.com/xraph/taskbus/id"
	"github.com/xraph/taskbus/message"
	mw "github.com/xraph/taskbus/middleware"
	"github.com/xraph/taskbus/observability"
	"github.com/xraph/taskbus/task"
	"github.com/xraph/taskbus/worker"
)

// App is the dispatch orchestrator bound to one backend view.
type App struct {
	backend backend.Backend
	config  taskbus.Config
	logger  *slog.Logger

	tasks     *task.Registry
	hooks     *hook.Registry
	executor  *worker.Executor
	pool      *worker.Pool
	scheduler *cron.Scheduler
	metrics   *observability.MetricsHook

	pendingHooks   []hook.Hook
	mws            []mw.Middleware
	cronOpts       []cron.SchedulerOption
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	mu     sync.Mutex
	closed bool
}

// New creates an App over b. The App takes ownership of b and closes it in
// Close.
func New(b backend.Backend, opts ...Option) (*App, error) {
	if b == nil {
		return nil, errors.New("taskbus: nil backend")
	}
	a := &App{
		backend: b,
		config:  taskbus.DefaultConfig(),
		logger:  slog.Default(),
		tasks:   task.NewRegistry(),
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}

	// Lifecycle counters are always on; they are noop without a provider.
	if a.meterProvider != nil {
		a.metrics = observability.NewMetricsHookWithMeter(a.meterProvider.Meter("github.com/xraph/taskbus/observability"))
	} else {
		a.metrics = observability.NewMetricsHook()
	}
	a.hooks = hook.NewRegistry(a.logger)
	a.hooks.Register(a.metrics)
	for _, h := range a.pendingHooks {
		a.hooks.Register(h)
	}
	a.pendingHooks = nil

	var tracingMw mw.Middleware
	if a.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(a.tracerProvider.Tracer("github.com/xraph/taskbus"))
	} else {
		tracingMw = mw.Tracing()
	}
	var metricsMw mw.Middleware
	if a.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(a.meterProvider.Meter("github.com/xraph/taskbus"))
	} else {
		metricsMw = mw.Metrics()
	}

	// Default stack: tracing → metrics → logging → recover → timeout.
	// Recover sits inside the telemetry so a panic ends as a failure outcome.
	stack := []mw.Middleware{
		tracingMw,
		metricsMw,
		mw.Logging(a.logger),
		mw.Recover(a.logger),
		mw.Timeout(a.logger),
	}
	stack = append(stack, a.mws...)

	a.executor = worker.NewExecutor(a.tasks, a.logger, stack...)
	a.pool = worker.NewPool(a.logger)

	cronOpts := append([]cron.SchedulerOption{cron.WithFired(a.metrics.OnCronFired)}, a.cronOpts...)
	a.scheduler = cron.NewScheduler(a.enqueueFromCron, a.logger, cronOpts...)
	return a, nil
}

// Logger returns the App's logger.
func (a *App) Logger() *slog.Logger { return a.logger }

// Config returns a copy of the App's configuration.
func (a *App) Config() taskbus.Config { return a.config }

// Backend returns the backend view the App was built on.
func (a *App) Backend() backend.Backend { return a.backend }

// Tasks returns the task definition registry.
func (a *App) Tasks() *task.Registry { return a.tasks }

// Hooks returns the hook registry.
func (a *App) Hooks() *hook.Registry { return a.hooks }

// Scheduler returns the cron scheduler. It fires through SendTask and is
// stopped by Close.
func (a *App) Scheduler() *cron.Scheduler { return a.scheduler }

// Register associates def with its name.
func (a *App) Register(def task.Definition) error {
	return a.tasks.Register(def)
}

// ──────────────────────────────────────────────────
// Tasks
// ──────────────────────────────────────────────────

// SendTask submits a task by name. Names with no local definition are
// still routed, so the task can be executed by a consumer in another
// process.
func (a *App) SendTask(ctx context.Context, name string, args []any, kwargs map[string]any, opts ...task.Option) (*AsyncResult, error) {
	def, err := a.tasks.Resolve(name)
	if err != nil {
		return nil, err
	}
	return a.SendDefinition(ctx, def, args, kwargs, opts...)
}

// SendDefinition submits a task for def. Options are merged as process
// defaults, then the definition's options, then opts.
func (a *App) SendDefinition(ctx context.Context, def task.Definition, args []any, kwargs map[string]any, opts ...task.Option) (*AsyncResult, error) {
	if a.isClosed() {
		return nil, taskbus.ErrAppClosed
	}

	o := task.OptionsFromConfig(a.config).Apply(def.Options()...).Apply(opts...)
	in := task.New(def.Name(), args, kwargs, o)

	a.hooks.EmitTaskSend(ctx, in)

	if err := a.backend.SubmitTask(ctx, in); err != nil {
		return nil, fmt.Errorf("send task %q: %w", in.Name, err)
	}
	a.logger.Debug("task sent",
		slog.String("task_id", in.ID.String()),
		slog.String("task_name", in.Name),
		slog.String("queue", in.Queue),
		slog.Int("priority", in.Priority),
	)
	return newAsyncResult(a, in), nil
}

func (a *App) enqueueFromCron(ctx context.Context, name string, args []any, kwargs map[string]any, opts ...task.Option) (id.TaskID, error) {
	res, err := a.SendTask(ctx, name, args, kwargs, opts...)
	if err != nil {
		return id.Nil, err
	}
	return res.TaskID(), nil
}

// ──────────────────────────────────────────────────
// Messages
// ──────────────────────────────────────────────────

// SendMessage sends body to the default exchange, or the one chosen by
// opts.
func (a *App) SendMessage(ctx context.Context, body any, opts ...message.Option) (*message.Message, error) {
	if a.isClosed() {
		return nil, taskbus.ErrAppClosed
	}

	o := message.Options{Exchange: a.config.DefaultExchange, TTL: a.config.MessageTTL}
	for _, opt := range opts {
		opt(&o)
	}
	msg := message.New(body, o)

	if err := a.backend.SendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("send message to %q: %w", msg.Exchange, err)
	}
	a.hooks.EmitMessageSent(ctx, msg)
	a.logger.Debug("message sent",
		slog.String("message_id", msg.ID.String()),
		slog.String("exchange", msg.Exchange),
	)
	return msg, nil
}

// ConsumeMessages delivers messages from exchanges, or the default
// exchange, to h. Handlers run as units the App cancels on Close.
func (a *App) ConsumeMessages(h message.Handler, exchanges ...string) error {
	if a.isClosed() {
		return taskbus.ErrAppClosed
	}
	if len(exchanges) == 0 {
		exchanges = []string{a.config.DefaultExchange}
	}
	err := a.backend.ConsumeMessages(exchanges, func(ctx context.Context, msg *message.Message) error {
		return a.pool.Run(ctx, msg.ID.String(), func(ctx context.Context) error {
			return h(ctx, msg)
		})
	})
	if err != nil {
		return fmt.Errorf("consume messages: %w", err)
	}
	a.logger.Info("consuming messages", slog.Any("exchanges", exchanges))
	return nil
}

// StopConsumeMessages stops consumption of exchanges, or of every exchange.
func (a *App) StopConsumeMessages(exchanges ...string) {
	a.backend.StopConsumeMessages(exchanges...)
}

// ──────────────────────────────────────────────────
// Events
// ──────────────────────────────────────────────────

// SendEvent broadcasts an event of type typ with the default event TTL.
func (a *App) SendEvent(ctx context.Context, typ string, payload any) (*event.Event, error) {
	evt := event.New(typ, payload, a.config.EventTTL)
	if err := a.PublishEvent(ctx, evt); err != nil {
		return nil, err
	}
	return evt, nil
}

// PublishEvent broadcasts a prepared event.
func (a *App) PublishEvent(ctx context.Context, evt *event.Event) error {
	if a.isClosed() {
		return taskbus.ErrAppClosed
	}
	if err := a.backend.SendEvent(ctx, evt); err != nil {
		return fmt.Errorf("send event %q: %w", evt.Type, err)
	}
	a.hooks.EmitEventSent(ctx, evt)
	a.logger.Debug("event sent",
		slog.String("event_id", evt.ID.String()),
		slog.String("type", evt.Type),
	)
	return nil
}

// ConsumeEvents registers cb under callbackID. Callbacks run as units the
// App cancels on Close.
func (a *App) ConsumeEvents(callbackID string, cb event.Callback, opts ...event.SubscribeOption) error {
	if a.isClosed() {
		return taskbus.ErrAppClosed
	}
	wrapped := func(ctx context.Context, evt *event.Event) error {
		return a.pool.Run(ctx, evt.ID.String(), func(ctx context.Context) error {
			return cb(ctx, evt)
		})
	}
	if err := a.backend.ConsumeEvents(event.NewSubscription(callbackID, wrapped, opts...)); err != nil {
		return fmt.Errorf("consume events: %w", err)
	}
	a.logger.Info("consuming events", slog.String("callback_id", callbackID))
	return nil
}

// StopConsumeEvents removes the named callbacks, or every callback.
func (a *App) StopConsumeEvents(callbackIDs ...string) {
	a.backend.StopConsumeEvents(callbackIDs...)
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Close runs the close hooks, stops the scheduler and all consumption,
// cancels every unit the App spawned, and closes the backend. Close is
// idempotent.
func (a *App) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	if a.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.ShutdownTimeout)
		defer cancel()
	}
	start := time.Now()

	a.hooks.EmitClose(ctx)

	var errs []error
	if err := a.scheduler.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
	}

	a.backend.StopConsumeTasks()
	a.backend.StopConsumeMessages()
	a.backend.StopConsumeEvents()

	if err := a.pool.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop handlers: %w", err))
	}
	if err := a.backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close backend: %w", err))
	}

	a.logger.Info("app closed", slog.Duration("elapsed", time.Since(start)))
	return errors.Join(errs...)
}

func (a *App) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}
