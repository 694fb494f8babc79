// Package middleware wraps the execution of one task body.
//
// A [Middleware] sees the whole result stream of an execution, not a single
// call: the terminal handler iterates every value the body produces, so a
// generator that panics mid-stream is recovered and a [Timeout] bounds the
// stream as a whole. Middleware observe individual results through
// [Execution.OnResult].
//
// The first middleware given to [Chain] is the outermost.
//
//	func Audit(log *slog.Logger) middleware.Middleware {
//	    return func(ctx context.Context, x *middleware.Execution, next middleware.Handler) error {
//	        x.OnResult(func(_ context.Context, seq uint64) {
//	            log.Info("result", slog.Uint64("seq", seq))
//	        })
//	        return next(ctx)
//	    }
//	}
package middleware

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/xraph/taskbus/task"
)

// Outcome classifies how an execution ended.
type Outcome string

const (
	// OutcomeValue: a single-value execution produced its value.
	OutcomeValue Outcome = "value"
	// OutcomeClosed: a generator ran to completion.
	OutcomeClosed Outcome = "closed"
	// OutcomeFailure: the body failed, panicked, or could not be resolved.
	OutcomeFailure Outcome = "failure"
	// OutcomeTimeout: the instance's Timeout elapsed.
	OutcomeTimeout Outcome = "timeout"
	// OutcomeCancelled: the consumer was shut down mid-execution.
	OutcomeCancelled Outcome = "cancelled"
)

// Execution is one run of a task body as seen by middleware. Results are
// recorded by the executor from a single goroutine.
type Execution struct {
	Instance *task.Instance
	Shape    task.Shape
	Started  time.Time

	results   atomic.Uint64
	observers []func(ctx context.Context, seq uint64)
}

// NewExecution starts tracking one run of in.
func NewExecution(in *task.Instance, shape task.Shape) *Execution {
	return &Execution{Instance: in, Shape: shape, Started: time.Now()}
}

// OnResult registers fn to be called after every produced value with its
// 1-based sequence number. Register before calling next.
func (x *Execution) OnResult(fn func(ctx context.Context, seq uint64)) {
	x.observers = append(x.observers, fn)
}

// Record counts one produced value and notifies observers.
func (x *Execution) Record(ctx context.Context) uint64 {
	seq := x.results.Add(1)
	for _, fn := range x.observers {
		fn(ctx, seq)
	}
	return seq
}

// Results returns how many values the body has produced so far.
func (x *Execution) Results() uint64 { return x.results.Load() }

// Outcome classifies err, the error that ended the execution.
func (x *Execution) Outcome(err error) Outcome {
	switch {
	case err == nil && x.Shape == task.ShapeGenerator:
		return OutcomeClosed
	case err == nil:
		return OutcomeValue
	case errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	case errors.Is(err, context.Canceled):
		return OutcomeCancelled
	default:
		return OutcomeFailure
	}
}

// Handler drives the rest of the execution.
type Handler func(ctx context.Context) error

// Middleware wraps one execution. It must call next unless it means to
// end the execution without running the body.
type Middleware func(ctx context.Context, x *Execution, next Handler) error

// Chain composes mws into one Middleware, first outermost.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, x *Execution, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			m, inner := mws[i], h
			h = func(ctx context.Context) error { return m(ctx, x, inner) }
		}
		return h(ctx)
	}
}
