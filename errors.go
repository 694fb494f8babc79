package taskbus

import (
	"errors"
	"fmt"
)

var (
	// Routing errors.
	ErrRouting           = errors.New("taskbus: task cannot be routed")
	ErrDuplicateTaskName = errors.New("taskbus: task name already registered")

	// Result errors.
	ErrResultNotRequested      = errors.New("taskbus: result was not requested for this task")
	ErrTaskClosedWithoutResult = errors.New("taskbus: task closed without producing a result")
	ErrResultExpired           = errors.New("taskbus: result expired")

	// Lifecycle errors.
	ErrBackendClosed = errors.New("taskbus: backend closed")
	ErrAppClosed     = errors.New("taskbus: app closed")

	// Cron errors.
	ErrDuplicateCronEntry = errors.New("taskbus: cron entry already exists")
	ErrCronEntryNotFound  = errors.New("taskbus: cron entry not found")
	ErrInvalidSchedule    = errors.New("taskbus: invalid cron schedule")
)

// TaskExecutionError is raised at the result-handle boundary when a stored
// result carries a failure produced by the task body.
type TaskExecutionError struct {
	TaskID  string
	Name    string
	Type    string
	Message string
	Trace   string
}

func (e *TaskExecutionError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("taskbus: task %s (%s) failed: %s", e.Name, e.TaskID, e.Message)
	}
	return fmt.Sprintf("taskbus: task %s (%s) failed: %s: %s", e.Name, e.TaskID, e.Type, e.Message)
}

// HookError wraps a failure raised by a registered hook. Hook errors are
// logged where the hook is invoked and never reach the caller.
type HookError struct {
	Hook string
	Name string
	Err  error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("taskbus: hook %s (%s): %v", e.Hook, e.Name, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }
