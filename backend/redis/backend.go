package redis

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/semaphore"

	"github.com/xraph/taskbus"
	"github.com/xraph/taskbus/backend"
	"github.com/xraph/taskbus/backoff"
	"github.com/xraph/taskbus/codec"
	"github.com/xraph/taskbus/event"
	"github.com/xraph/taskbus/message"
	"github.com/xraph/taskbus/queue"
	"github.com/xraph/taskbus/task"
)

// Compile-time check.
var _ backend.Backend = (*Backend)(nil)

type loopKind uint8

const (
	taskLoop loopKind = iota + 1
	messageLoop
)

func (k loopKind) String() string {
	if k == taskLoop {
		return "task"
	}
	return "message"
}

type loopKey struct {
	kind loopKind
	name string
}

// Backend is one view over the state stored under a key prefix.
type Backend struct {
	client       goredis.UniversalClient
	codec        codec.Codec
	logger       *slog.Logger
	prefix       string
	poolSize     int
	blockTimeout time.Duration
	backoff      backoff.Strategy
	queues       *queue.Manager
	sem          *semaphore.Weighted

	// ctx is cancelled by Close; handlers and callbacks run under it.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	loops  map[loopKey]context.CancelFunc
	loopWG sync.WaitGroup

	subs    map[string]*event.Subscription
	events  *goredis.PubSub
	eventWG sync.WaitGroup
}

// New creates a Redis-backed view. The caller owns the client lifecycle.
func New(client goredis.UniversalClient, opts ...Option) *Backend {
	b := &Backend{
		client:       client,
		codec:        codec.JSON{},
		logger:       slog.Default(),
		prefix:       DefaultPrefix,
		poolSize:     taskbus.DefaultConfig().PoolSize,
		blockTimeout: time.Second,
		backoff:      backoff.DefaultStrategy(),
		loops:        make(map[loopKey]context.CancelFunc),
		subs:         make(map[string]*event.Subscription),
	}
	for _, o := range opts {
		o(b)
	}
	b.logger = b.logger.With(slog.String("prefix", b.prefix))
	b.sem = semaphore.NewWeighted(int64(b.poolSize))
	b.ctx, b.cancel = context.WithCancel(context.Background())
	return b
}

// Client returns the underlying Redis client.
func (b *Backend) Client() goredis.UniversalClient { return b.client }

// Ping verifies the Redis connection is alive.
func (b *Backend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// QueueLen returns how many tasks wait in the named queue, stale ones
// included.
func (b *Backend) QueueLen(ctx context.Context, name string) (int64, error) {
	n, err := b.client.ZCard(ctx, b.queueKey(name)).Result()
	if err != nil {
		return 0, fmt.Errorf("taskbus/redis: queue len: %w", err)
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Tasks
// ──────────────────────────────────────────────────

// SubmitTask stores in and adds it to its queue's Sorted Set.
func (b *Backend) SubmitTask(ctx context.Context, in *task.Instance) error {
	if b.isClosed() {
		return taskbus.ErrBackendClosed
	}
	if err := b.enqueue(ctx, b.queueKey(in.Queue), in.ID.String(), in.Priority, in.TTL, in); err != nil {
		return fmt.Errorf("taskbus/redis: submit task: %w", err)
	}
	return nil
}

// ConsumeTasks starts a loop for each named queue not already consumed by
// this view.
func (b *Backend) ConsumeTasks(queues []string, h backend.TaskHandler) error {
	return b.startLoops(taskLoop, queues, func(ctx context.Context, payload []byte) error {
		var in task.Instance
		if err := b.codec.Decode(payload, &in); err != nil {
			return fmt.Errorf("decode task: %w", err)
		}
		return h(ctx, &in)
	})
}

// StopConsumeTasks cancels the loops for queues, or every task loop.
func (b *Backend) StopConsumeTasks(queues ...string) {
	b.stopLoops(taskLoop, queues)
}

// ──────────────────────────────────────────────────
// Messages
// ──────────────────────────────────────────────────

// SendMessage stores msg and adds it to its exchange's Sorted Set.
func (b *Backend) SendMessage(ctx context.Context, msg *message.Message) error {
	if b.isClosed() {
		return taskbus.ErrBackendClosed
	}
	if err := b.enqueue(ctx, b.exchangeKey(msg.Exchange), msg.ID.String(), msg.Priority, msg.TTL, msg); err != nil {
		return fmt.Errorf("taskbus/redis: send message: %w", err)
	}
	return nil
}

// ConsumeMessages starts a loop for each named exchange not already
// consumed by this view.
func (b *Backend) ConsumeMessages(exchanges []string, h message.Handler) error {
	return b.startLoops(messageLoop, exchanges, func(ctx context.Context, payload []byte) error {
		var msg message.Message
		if err := b.codec.Decode(payload, &msg); err != nil {
			return fmt.Errorf("decode message: %w", err)
		}
		return h(ctx, &msg)
	})
}

// StopConsumeMessages cancels the loops for exchanges, or every message
// loop.
func (b *Backend) StopConsumeMessages(exchanges ...string) {
	b.stopLoops(messageLoop, exchanges)
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Close stops this view's loops and event listener and cancels its
// in-flight handlers. Data stored in Redis is left in place for other
// views.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	ps := b.events
	b.events = nil
	clear(b.subs)
	b.mu.Unlock()

	b.StopConsumeTasks()
	b.StopConsumeMessages()
	b.cancel()

	var err error
	if ps != nil {
		err = ps.Close()
	}
	b.loopWG.Wait()
	b.eventWG.Wait()

	b.logger.Debug("backend closed")
	if err != nil {
		return fmt.Errorf("taskbus/redis: close: %w", err)
	}
	return nil
}

func (b *Backend) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// ──────────────────────────────────────────────────
// Queues
// ──────────────────────────────────────────────────

// enqueue stores the encoded value as a Hash and adds it to setKey, then
// wakes idle loops.
func (b *Backend) enqueue(ctx context.Context, setKey, id string, priority int, ttl time.Duration, value any) error {
	payload, err := b.codec.Encode(value)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	seq, err := b.client.Incr(ctx, b.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("incr seq: %w", err)
	}

	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, b.itemKey(id),
		"payload", payload,
		"enqueued_at", time.Now().UnixMilli(),
		"ttl", int64(ttl),
	)
	// Higher priority sorts first; ties fall back to the member.
	pipe.ZAdd(ctx, setKey, goredis.Z{Score: float64(-priority), Member: member(seq, id)})
	pipe.Publish(ctx, b.wakeChannel(setKey), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	return nil
}

// popped is one dequeued payload.
type popped struct {
	id      string
	payload []byte
}

// tryPop removes the highest-priority fresh item from setKey, dropping
// stale ones on the way. It reports false when no fresh item is queued.
func (b *Backend) tryPop(ctx context.Context, setKey string) (popped, bool, error) {
	for {
		zs, err := b.client.ZPopMin(ctx, setKey, 1).Result()
		if err != nil {
			return popped{}, false, fmt.Errorf("zpopmin: %w", err)
		}
		if len(zs) == 0 {
			return popped{}, false, nil
		}
		m, ok := zs[0].Member.(string)
		if !ok {
			continue
		}
		_, itemID, _ := strings.Cut(m, ":")

		key := b.itemKey(itemID)
		pipe := b.client.TxPipeline()
		get := pipe.HGetAll(ctx, key)
		pipe.Del(ctx, key)
		if _, err := pipe.Exec(ctx); err != nil {
			return popped{}, false, fmt.Errorf("take item: %w", err)
		}
		vals := get.Val()
		if len(vals) == 0 {
			continue
		}

		enqueuedMs, _ := strconv.ParseInt(vals["enqueued_at"], 10, 64) //nolint:errcheck // written by enqueue
		ttl, _ := strconv.ParseInt(vals["ttl"], 10, 64)                //nolint:errcheck // written by enqueue
		if taskbus.IsStale(time.UnixMilli(enqueuedMs), time.Duration(ttl), time.Now()) {
			b.logger.Debug("dropped stale item",
				slog.String("key", setKey),
				slog.String("id", itemID),
			)
			continue
		}
		return popped{id: itemID, payload: []byte(vals["payload"])}, true, nil
	}
}

// ──────────────────────────────────────────────────
// Consumption loops
// ──────────────────────────────────────────────────

func (b *Backend) startLoops(kind loopKind, names []string, run func(context.Context, []byte) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return taskbus.ErrBackendClosed
	}

	for _, name := range names {
		key := loopKey{kind, name}
		if _, running := b.loops[key]; running {
			continue
		}
		setKey := b.queueKey(name)
		if kind == messageLoop {
			setKey = b.exchangeKey(name)
		}

		// Subscribe before the first poll so no wake-up is missed.
		ps := b.client.Subscribe(b.ctx, b.wakeChannel(setKey))
		if _, err := ps.Receive(b.ctx); err != nil {
			_ = ps.Close()
			return fmt.Errorf("taskbus/redis: subscribe %s: %w", name, err)
		}

		ctx, cancel := context.WithCancel(b.ctx)
		b.loops[key] = cancel
		b.loopWG.Add(1)
		go b.loop(ctx, kind, name, setKey, ps, run)

		b.logger.Debug("consumption loop started",
			slog.String("kind", kind.String()),
			slog.String("queue", name),
		)
	}
	return nil
}

func (b *Backend) stopLoops(kind loopKind, names []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(names) == 0 {
		for key, cancel := range b.loops {
			if key.kind == kind {
				cancel()
				delete(b.loops, key)
			}
		}
		return
	}
	for _, name := range names {
		key := loopKey{kind, name}
		if cancel, ok := b.loops[key]; ok {
			cancel()
			delete(b.loops, key)
		}
	}
}

// loop acquires a pool slot and a queue slot, then polls the Sorted Set.
// When it is empty the slots are released and the loop waits for a wake-up
// or the block timeout. Redis errors are retried after a backoff delay.
func (b *Backend) loop(ctx context.Context, kind loopKind, name, setKey string, ps *goredis.PubSub, run func(context.Context, []byte) error) {
	defer b.loopWG.Done()
	defer ps.Close()

	wake := ps.Channel()
	attempt := 0
	for {
		if err := b.sem.Acquire(ctx, 1); err != nil {
			return
		}
		releaseQueue := func() {}
		if b.queues != nil {
			r, err := b.queues.Acquire(ctx, name)
			if err != nil {
				b.sem.Release(1)
				return
			}
			releaseQueue = r
		}

		it, ok, err := b.tryPop(ctx, setKey)
		if err != nil || !ok {
			releaseQueue()
			b.sem.Release(1)
		}
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			attempt++
			delay := b.backoff.Delay(attempt)
			b.logger.Warn("dequeue failed",
				slog.String("kind", kind.String()),
				slog.String("queue", name),
				slog.Int("attempt", attempt),
				slog.Duration("retry_in", delay),
				slog.String("error", err.Error()),
			)
			if !sleepCtx(ctx, delay) {
				return
			}
			continue
		case !ok:
			attempt = 0
			if !b.waitWake(ctx, wake) {
				return
			}
			continue
		}

		attempt = 0
		go func() {
			defer b.sem.Release(1)
			defer releaseQueue()
			b.handle(kind, name, it, run)
		}()
	}
}

// waitWake blocks until a push notification, the block timeout, or ctx
// ends. It reports false when ctx ended.
func (b *Backend) waitWake(ctx context.Context, wake <-chan *goredis.Message) bool {
	timer := time.NewTimer(b.blockTimeout)
	defer timer.Stop()
	select {
	case <-wake:
		return true
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// handle runs one handler, logging its error or panic.
func (b *Backend) handle(kind loopKind, name string, it popped, run func(context.Context, []byte) error) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return run(b.ctx, it.payload)
	}()
	if err != nil {
		b.logger.Error("handler failed",
			slog.String("kind", kind.String()),
			slog.String("queue", name),
			slog.String("id", it.id),
			slog.String("error", err.Error()),
		)
	}
}

// sleepCtx sleeps for d, or returns false early if ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// ──────────────────────────────────────────────────
// Results
// ──────────────────────────────────────────────────

// PushResult appends res to the task's List and refreshes its expiry.
func (b *Backend) PushResult(ctx context.Context, in *task.Instance, res task.Result) error {
	data, err := b.codec.Encode(res)
	if err != nil {
		return fmt.Errorf("taskbus/redis: encode result: %w", err)
	}

	taskID := in.ID.String()
	key := b.resultKey(taskID)
	pipe := b.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	if in.ResultTTL > 0 {
		pipe.PExpire(ctx, key, in.ResultTTL)
	}
	pipe.Publish(ctx, b.resultChannel(taskID), res.Index.Seq)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("taskbus/redis: push result: %w", err)
	}
	return nil
}

// PopResults returns the lazy result sequence for in.ID. Each sequence
// reads the List with its own cursor, so every consumer sees every result.
func (b *Backend) PopResults(ctx context.Context, in *task.Instance) (iter.Seq2[task.Result, error], error) {
	if !in.ResultReturn {
		return nil, fmt.Errorf("pop results for %s: %w", in.ID, taskbus.ErrResultNotRequested)
	}
	if b.isClosed() {
		return nil, taskbus.ErrBackendClosed
	}

	taskID := in.ID.String()
	key := b.resultKey(taskID)
	return func(yield func(task.Result, error) bool) {
		ps := b.client.Subscribe(ctx, b.resultChannel(taskID))
		defer ps.Close()
		if _, err := ps.Receive(ctx); err != nil {
			yield(task.Result{}, b.waitErr(ctx, fmt.Errorf("taskbus/redis: subscribe results: %w", err)))
			return
		}
		notify := ps.Channel()

		var cursor int64
		for {
			raw, err := b.client.LRange(ctx, key, cursor, -1).Result()
			if err != nil {
				yield(task.Result{}, b.waitErr(ctx, fmt.Errorf("taskbus/redis: read results: %w", err)))
				return
			}
			if len(raw) == 0 && cursor > 0 {
				n, err := b.client.Exists(ctx, key).Result()
				if err != nil {
					yield(task.Result{}, b.waitErr(ctx, fmt.Errorf("taskbus/redis: results exist: %w", err)))
					return
				}
				if n == 0 {
					yield(task.Result{}, taskbus.ErrResultExpired)
					return
				}
			}

			for _, s := range raw {
				cursor++
				var r task.Result
				if err := b.codec.Decode([]byte(s), &r); err != nil {
					yield(task.Result{}, fmt.Errorf("taskbus/redis: decode result: %w", err))
					return
				}
				if r.IsClosed() {
					return
				}
				if !yield(r, nil) {
					return
				}
			}
			if len(raw) > 0 {
				continue
			}

			timer := time.NewTimer(b.blockTimeout)
			select {
			case <-notify:
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				yield(task.Result{}, ctx.Err())
				return
			case <-b.ctx.Done():
				timer.Stop()
				yield(task.Result{}, taskbus.ErrBackendClosed)
				return
			}
			timer.Stop()
		}
	}, nil
}

// waitErr prefers the caller's cancellation or the view's closure over a
// Redis error caused by either.
func (b *Backend) waitErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if b.ctx.Err() != nil {
		return taskbus.ErrBackendClosed
	}
	if errors.Is(err, goredis.ErrClosed) {
		return taskbus.ErrBackendClosed
	}
	return err
}
