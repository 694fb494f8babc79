// Package observability provides the OpenTelemetry metrics hook. The
// MetricsHook implements the send, receive, result, done, message, and event
// hook points and counts each lifecycle step. Cron fires are counted through
// OnCronFired.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
