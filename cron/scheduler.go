package cron

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/taskbus"
	"github.com/xraph/taskbus/id"
	"github.com/xraph/taskbus/task"
)

// EnqueueFunc is the callback the scheduler uses to submit tasks.
// The App provides the implementation.
type EnqueueFunc func(ctx context.Context, name string, args []any, kwargs map[string]any, opts ...task.Option) (id.TaskID, error)

// FiredFunc is called after an entry's task was submitted.
type FiredFunc func(ctx context.Context, entryName string, taskID id.TaskID)

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithFired registers a callback invoked after every fire.
func WithFired(fn FiredFunc) SchedulerOption {
	return func(s *Scheduler) { s.fired = fn }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", taskbus.ErrInvalidSchedule, expr, err)
	}
	return sched, nil
}

type scheduled struct {
	entry Entry
	sched cronlib.Schedule
}

// Scheduler fires entries on a tick loop.
type Scheduler struct {
	enqueue EnqueueFunc
	fired   FiredFunc
	logger  *slog.Logger

	tickInterval time.Duration

	mu      sync.Mutex
	entries map[string]*scheduled

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(enqueue EnqueueFunc, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		enqueue:      enqueue,
		logger:       logger,
		tickInterval: time.Second,
		entries:      make(map[string]*scheduled),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ──────────────────────────────────────────────────
// Entries
// ──────────────────────────────────────────────────

// Add registers e, enabled, with its first run computed from now.
func (s *Scheduler) Add(e Entry) error {
	if e.Name == "" || e.TaskName == "" {
		return fmt.Errorf("add cron entry: %w: name and task name are required", taskbus.ErrRouting)
	}
	sched, err := ParseSchedule(e.Schedule)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[e.Name]; exists {
		return fmt.Errorf("add cron entry %q: %w", e.Name, taskbus.ErrDuplicateCronEntry)
	}

	e.Enabled = true
	e.LastRunAt = nil
	next := sched.Next(time.Now())
	e.NextRunAt = &next
	e.Options = slices.Clone(e.Options)
	s.entries[e.Name] = &scheduled{entry: e, sched: sched}
	return nil
}

// Remove deletes the named entry.
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; !ok {
		return fmt.Errorf("remove cron entry %q: %w", name, taskbus.ErrCronEntryNotFound)
	}
	delete(s.entries, name)
	return nil
}

// Enable resumes firing the named entry.
func (s *Scheduler) Enable(name string) error { return s.setEnabled(name, true) }

// Disable stops firing the named entry without removing it.
func (s *Scheduler) Disable(name string) error { return s.setEnabled(name, false) }

func (s *Scheduler) setEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("cron entry %q: %w", name, taskbus.ErrCronEntryNotFound)
	}
	sc.entry.Enabled = enabled
	return nil
}

// Entries returns copies of all entries ordered by name.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, sc := range s.entries {
		out = append(out, sc.entry)
	}
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Start launches the tick goroutine. Calling Start on a running scheduler
// is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return nil
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go s.tickLoop(ctx)
	s.logger.Info("cron scheduler started",
		slog.Duration("tick_interval", s.tickInterval),
	)
	return nil
}

// Stop signals the tick goroutine and waits for it. Stop on a scheduler
// that is not running is a no-op.
func (s *Scheduler) Stop(_ context.Context) error {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	s.runMu.Unlock()

	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
	return nil
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.RunDue(ctx, now)
		}
	}
}

// RunDue fires every enabled entry whose next run is at or before now and
// returns how many were submitted.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time) int {
	s.mu.Lock()
	var due []*scheduled
	for _, sc := range s.entries {
		if !sc.entry.Enabled || sc.entry.NextRunAt == nil || sc.entry.NextRunAt.After(now) {
			continue
		}
		// Advance before firing so a slow submission cannot double-fire.
		last := now
		next := sc.sched.Next(now)
		sc.entry.LastRunAt = &last
		sc.entry.NextRunAt = &next
		due = append(due, sc)
	}
	s.mu.Unlock()

	fired := 0
	for _, sc := range due {
		if s.fire(ctx, sc.entry) {
			fired++
		}
	}
	return fired
}

func (s *Scheduler) fire(ctx context.Context, entry Entry) bool {
	taskID, err := s.enqueue(ctx, entry.TaskName, entry.Args, entry.Kwargs, entry.Options...)
	if err != nil {
		s.logger.Error("cron enqueue error",
			slog.String("cron_name", entry.Name),
			slog.String("task_name", entry.TaskName),
			slog.String("error", err.Error()),
		)
		return false
	}

	if s.fired != nil {
		s.fired(ctx, entry.Name, taskID)
	}

	s.logger.Info("cron fired",
		slog.String("cron_name", entry.Name),
		slog.String("task_name", entry.TaskName),
		slog.String("task_id", taskID.String()),
	)
	return true
}
