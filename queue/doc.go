// Package queue provides per-queue flow control for consumption loops:
// a token-bucket rate limit and a concurrency cap per named task queue or
// message exchange.
//
// # Per-Queue Configuration
//
// Use [Config] to set per-queue rate limits and concurrency caps:
//
//	queue.Config{
//	    Name:           "email",
//	    MaxConcurrency: 5,      // max 5 concurrent email handlers
//	    RateLimit:      10,     // max 10 items/s dequeued from this queue
//	    RateBurst:      20,     // allow bursts up to 20
//	}
//
// Pass a [Manager] to a backend:
//
//	qm := queue.NewManager(
//	    queue.Config{Name: "critical", MaxConcurrency: 20},
//	    queue.Config{Name: "bulk", RateLimit: 5, RateBurst: 10},
//	)
//	b, _ := reg.Open("default", memory.WithQueueManager(qm))
//
// # Manager
//
// [Manager] is consulted by the backend loops before each dequeue. It uses
// a token-bucket rate limiter (golang.org/x/time/rate) and a weighted
// semaphore (golang.org/x/sync/semaphore) for concurrency caps.
//
//	release, err := m.Acquire(ctx, queueName)
//	if err != nil {
//	    return err
//	}
//	defer release()
//
// Queues without a [Config] have no limits beyond the pool-wide bound.
package queue
