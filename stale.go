package taskbus

import "time"

// NoExpiry disables the staleness check for a task, message, or event.
const NoExpiry time.Duration = -1

// IsStale reports whether an item enqueued at enqueued with the given ttl
// must be dropped when looked at, at time now. A zero ttl is always stale;
// a negative ttl never is.
func IsStale(enqueued time.Time, ttl time.Duration, now time.Time) bool {
	if ttl < 0 {
		return false
	}
	return !now.Before(enqueued.Add(ttl))
}
