package app

import (
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/taskbus"
	"github.com/xraph/taskbus/cron"
	"github.com/xraph/taskbus/hook"
	"github.com/xraph/taskbus/middleware"
)

// Option configures an App.
type Option func(*App) error

// WithLogger sets the structured logger for the App.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) error {
		if l == nil {
			return errors.New("taskbus: nil logger")
		}
		a.logger = l
		return nil
	}
}

// WithConfig replaces the process-wide defaults.
func WithConfig(cfg taskbus.Config) Option {
	return func(a *App) error {
		if cfg.DefaultQueue == "" || cfg.DefaultExchange == "" {
			return errors.New("taskbus: config needs a default queue and exchange")
		}
		a.config = cfg
		return nil
	}
}

// WithHook registers a hook. Hooks are notified in registration order
// within a phase, concurrently.
func WithHook(h hook.Hook) Option {
	return func(a *App) error {
		a.pendingHooks = append(a.pendingHooks, h)
		return nil
	}
}

// WithMiddleware appends middleware after the default stack.
func WithMiddleware(m middleware.Middleware) Option {
	return func(a *App) error {
		a.mws = append(a.mws, m)
		return nil
	}
}

// WithTracerProvider sets a custom OTel TracerProvider. If not set, the
// global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(a *App) error {
		a.tracerProvider = tp
		return nil
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for both the metrics
// middleware and the lifecycle metrics hook. If not set, the global
// otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(a *App) error {
		a.meterProvider = mp
		return nil
	}
}

// WithCronOptions configures the App's cron scheduler.
func WithCronOptions(opts ...cron.SchedulerOption) Option {
	return func(a *App) error {
		a.cronOpts = append(a.cronOpts, opts...)
		return nil
	}
}
