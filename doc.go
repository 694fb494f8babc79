// Package taskbus provides an in-process task, message, and event broker
// together with a dispatch core that runs registered tasks and streams
// their results back to the submitter.
//
// taskbus is a library. Open a backend, build an App on top of it, register
// task definitions as ordinary Go functions, and start consuming.
//
// # Quick Start
//
//	reg := memory.NewRegistry()
//	b := reg.Open("default", memory.WithPoolSize(8))
//
//	a, err := app.New(b)
//	if err != nil { ... }
//	defer a.Close(ctx)
//
//	_ = a.Register(task.NewFunc("add", func(_ context.Context, in *task.Instance) (any, error) {
//	    return in.Args[0].(int) + in.Args[1].(int), nil
//	}))
//	_ = a.ConsumeTasks("default")
//
//	res, _ := a.SendTask(ctx, "add", []any{2, 3}, nil, task.WithResultReturn(true))
//	v, err := res.Get(ctx) // 5
//
// # Architecture
//
// A Backend owns all queue, result, and event state for one broker
// identity. Several Backend views opened with the same identity share that
// state, so independent Apps in one process cooperate on one logical broker.
// The App is the only component that turns a task name into an instance and
// the only component that drives the Executor. Results are observed through
// an AsyncResult.
//
// Two Backends ship with the module: backend/memory, the reference
// implementation, and backend/redis, which carries the same contracts over
// Redis using a pluggable codec.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package taskbus
