// Package hook defines the hook pipeline for taskbus.
//
// Hooks are best-effort side channels notified at defined lifecycle points.
// Each lifecycle point is a separate interface so a hook opts in only to
// the points it cares about.
//
// # Implementing a Hook
//
//	type AuditHook struct{}
//
//	func (h *AuditHook) Name() string { return "audit" }
//
//	func (h *AuditHook) OnTaskDone(ctx context.Context, in *task.Instance, f *task.Failure) error {
//	    log.Printf("task %s done (failed=%v)", in.ID, f != nil)
//	    return nil
//	}
//
// # Lifecycle Points
//
//   - [TaskSend] before a task instance is submitted
//   - [TaskContext] a scoped resource entered before execution and exited after
//   - [TaskReceived] a consumer picked up a task instance
//   - [TaskResult] a result was produced
//   - [TaskDone] execution finished, with the last failure if any
//   - [MessageSent] and [EventSent] after a message or event is sent
//   - [Close] the app is closing
//
// All hooks of one phase run concurrently and are awaited together. A hook
// that returns an error or panics is logged as a [taskbus.HookError]; the
// error never reaches the caller and never stops the other hooks.
package hook
