package app

import (
	"context"
	"errors"
	"iter"

	"github.com/xraph/taskbus"
	"github.com/xraph/taskbus/id"
	"github.com/xraph/taskbus/task"
)

// PopResult returns the stored results of in. Value results are yielded as
// data; a Failure result is yielded once as a *taskbus.TaskExecutionError
// and ends the sequence. The sequence also ends after the final value of a
// single-value execution, or at the Closed result of a generator.
func (a *App) PopResult(ctx context.Context, in *task.Instance) (iter.Seq2[task.Result, error], error) {
	seq, err := a.backend.PopResults(ctx, in)
	if err != nil {
		return nil, err
	}
	return func(yield func(task.Result, error) bool) {
		for res, err := range seq {
			if err != nil {
				yield(task.Result{}, err)
				return
			}
			if res.IsFailure() {
				yield(task.Result{}, executionError(in, res.Failure))
				return
			}
			if !yield(res, nil) || res.Final {
				return
			}
		}
	}, nil
}

func executionError(in *task.Instance, f *task.Failure) *taskbus.TaskExecutionError {
	e := &taskbus.TaskExecutionError{TaskID: in.ID.String(), Name: in.Name}
	if f != nil {
		e.Type, e.Message, e.Trace = f.Type, f.Message, f.Trace
	}
	return e
}

// AsyncResult is the consumer view over one submitted instance's results.
// Iteration continues where the previous one stopped and never restarts;
// take a new handle to read from the beginning. An AsyncResult is not safe
// for concurrent iteration.
type AsyncResult struct {
	app *App
	in  *task.Instance

	consumed int  // values yielded so far
	done     bool // sequence ended or a failure was raised
	produced bool
	last     any
}

func newAsyncResult(a *App, in *task.Instance) *AsyncResult {
	return &AsyncResult{app: a, in: in}
}

// NewAsyncResult returns a fresh handle over in's results, reading them
// from the beginning.
func (a *App) NewAsyncResult(in *task.Instance) *AsyncResult {
	return newAsyncResult(a, in)
}

// TaskID returns the id of the submitted instance.
func (r *AsyncResult) TaskID() id.TaskID { return r.in.ID }

// Instance returns the submitted instance.
func (r *AsyncResult) Instance() *task.Instance { return r.in }

// All yields the task's values in push order. A failure is yielded once as
// a *taskbus.TaskExecutionError, after which All yields nothing. The
// sequence ends where the executing process ended it: after the value of a
// single-value task, or at a generator's Closed result.
func (r *AsyncResult) All(ctx context.Context) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		if r.done {
			return
		}
		seq, err := r.app.PopResult(ctx, r.in)
		if err != nil {
			yield(nil, err)
			return
		}

		skipped := 0
		for res, err := range seq {
			if err != nil {
				var execErr *taskbus.TaskExecutionError
				if errors.As(err, &execErr) {
					r.done = true
				}
				yield(nil, err)
				return
			}
			if skipped < r.consumed {
				skipped++
				continue
			}

			r.consumed++
			r.produced = true
			r.last = res.Value
			if res.Final {
				r.done = true
			}
			if !yield(res.Value, nil) || r.done {
				return
			}
		}
		r.done = true
	}
}

// Get drains the sequence and returns the last value produced. It fails
// with taskbus.ErrTaskClosedWithoutResult when the task ended without
// producing any value.
func (r *AsyncResult) Get(ctx context.Context) (any, error) {
	for _, err := range r.All(ctx) {
		if err != nil {
			return nil, err
		}
	}
	if !r.produced {
		return nil, taskbus.ErrTaskClosedWithoutResult
	}
	return r.last, nil
}
