// Package app is the dispatch orchestrator. An App turns task names into
// task instances, submits them through a backend.Backend, drives the
// Executor for the instances it consumes, and hands callers an AsyncResult
// per submission.
//
// The App owns the hook registry, the middleware stack, the cron
// scheduler, and the units of work it spawns. Closing the App runs the
// close hooks, stops consumption, cancels those units, and closes the
// backend.
//
//	b := memory.NewRegistry().Open("default")
//	a, err := app.New(b, app.WithLogger(logger))
//	if err != nil { ... }
//	defer a.Close(ctx)
//
//	a.Register(task.NewFunc("add", add))
//	a.ConsumeTasks("default")
//	res, _ := a.SendTask(ctx, "add", []any{2, 3}, nil)
//	v, err := res.Get(ctx)
package app
