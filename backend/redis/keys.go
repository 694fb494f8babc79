package redis

import "fmt"

// Redis key naming conventions. Every key carries the view's prefix, which
// plays the role of the broker identity: views with the same prefix share
// state.

// DefaultPrefix is used when WithPrefix is not given.
const DefaultPrefix = "taskbus:"

// seqKey is the counter that orders submissions within a priority.
func (b *Backend) seqKey() string { return b.prefix + "seq" }

// itemKey returns the Hash holding one queued payload: {p}item:{id}
func (b *Backend) itemKey(id string) string { return b.prefix + "item:" + id }

// queueKey returns the Sorted Set for a task queue: {p}queue:{name}
func (b *Backend) queueKey(name string) string { return b.prefix + "queue:" + name }

// exchangeKey returns the Sorted Set for a message exchange: {p}exchange:{name}
func (b *Backend) exchangeKey(name string) string { return b.prefix + "exchange:" + name }

// wakeChannel returns the Pub/Sub channel notified on every push to a
// Sorted Set.
func (b *Backend) wakeChannel(setKey string) string { return setKey + ":wake" }

// resultKey returns the List of results for a task: {p}result:{id}
func (b *Backend) resultKey(taskID string) string { return b.prefix + "result:" + taskID }

// resultChannel returns the Pub/Sub channel notified on every result push.
func (b *Backend) resultChannel(taskID string) string { return b.prefix + "result_notify:" + taskID }

// eventsChannel is the Pub/Sub channel all events are published on.
func (b *Backend) eventsChannel() string { return b.prefix + "events" }

// member builds the Sorted Set member for an item. The zero-padded sequence
// makes lexicographic order match submission order.
func member(seq int64, id string) string { return fmt.Sprintf("%020d:%s", seq, id) }
