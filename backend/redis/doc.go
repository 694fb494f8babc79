// Package redis implements backend.Backend on Redis so that producers and
// consumers in different processes share queues, results, and events.
//
// Tasks and messages are stored as Hashes and ordered in Sorted Sets scored
// by negated priority; equal scores fall back to the member, which carries a
// zero-padded submission sequence, so ordering within a priority is FIFO.
// Results are Lists read with a per-consumer cursor. Events use Pub/Sub and
// reach every process that consumes them.
//
// Usage:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	b := redis.New(client, redis.WithPrefix("orders:"))
//	defer b.Close()
//
// The caller owns the Redis client lifecycle.
package redis
