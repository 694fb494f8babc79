package task

import (
	"maps"
	"slices"
	"time"

	"github.com/xraph/taskbus/id"
)

// Instance is one submitted, uniquely identified unit of work.
type Instance struct {
	ID           id.TaskID      `json:"id"`
	Name         string         `json:"name"`
	Queue        string         `json:"queue"`
	Priority     int            `json:"priority"`
	TTL          time.Duration  `json:"ttl"`
	ResultReturn bool           `json:"result_return"`
	ResultTTL    time.Duration  `json:"result_ttl"`
	Streaming    bool           `json:"streaming,omitempty"`
	Timeout      time.Duration  `json:"timeout,omitempty"`
	Args         []any          `json:"args,omitempty"`
	Kwargs       map[string]any `json:"kwargs,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// New builds an instance for the named task from resolved options.
func New(name string, args []any, kwargs map[string]any, opts Options) *Instance {
	return &Instance{
		ID:           id.NewTaskID(),
		Name:         name,
		Queue:        opts.Queue,
		Priority:     opts.Priority,
		TTL:          opts.TTL,
		ResultReturn: opts.ResultReturn,
		ResultTTL:    opts.ResultTTL,
		Streaming:    opts.Streaming,
		Timeout:      opts.Timeout,
		Args:         args,
		Kwargs:       kwargs,
		Extra:        maps.Clone(opts.Extra),
		CreatedAt:    time.Now().UTC(),
	}
}

// Clone returns a copy whose slices and maps are not shared with in.
// Backends queue clones so callers cannot mutate a queued instance.
func (in *Instance) Clone() *Instance {
	cp := *in
	cp.Args = slices.Clone(in.Args)
	cp.Kwargs = maps.Clone(in.Kwargs)
	cp.Extra = maps.Clone(in.Extra)
	return &cp
}
