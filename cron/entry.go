package cron

import (
	"time"

	"github.com/xraph/taskbus/task"
)

// Entry is one recurring task submission.
type Entry struct {
	Name      string         `json:"name"`
	Schedule  string         `json:"schedule"`
	TaskName  string         `json:"task_name"`
	Args      []any          `json:"args,omitempty"`
	Kwargs    map[string]any `json:"kwargs,omitempty"`
	Options   []task.Option  `json:"-"`
	Enabled   bool           `json:"enabled"`
	LastRunAt *time.Time     `json:"last_run_at,omitempty"`
	NextRunAt *time.Time     `json:"next_run_at,omitempty"`
}
