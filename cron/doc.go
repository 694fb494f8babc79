// Package cron submits tasks on a recurring schedule.
//
// # Entry
//
// An [Entry] names a schedule and the task to submit when it fires:
//   - Schedule: standard 5-field cron expression or a descriptor such as
//     "@every 30s" or "@hourly"
//   - TaskName: the task sent on every fire
//   - Args / Kwargs: static arguments passed to every submission
//   - Options: per-call task options (queue, priority, ttl, ...)
//
// # Scheduler
//
// The [Scheduler] keeps entries in memory and checks them on every tick.
// Each due entry is submitted through an [EnqueueFunc], normally the App's
// SendTask, and its next run time is computed from the schedule. Entries
// live as long as the process; there is no cross-process leader, so run
// one scheduler per logical broker.
package cron
