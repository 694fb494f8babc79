package memory

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/xraph/taskbus"
	"github.com/xraph/taskbus/backend"
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

// Backend is one view over an identity's shared state.
type Backend struct {
	reg      *Registry
	identity string
	st       *state
	poolSize int
	logger   *slog.Logger
	queues   *queue.Manager
	sem      *semaphore.Weighted

	// ctx is cancelled by Close; handlers run under it.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	loops  map[loopKey]context.CancelFunc
	subs   map[string]struct{}
	loopWG sync.WaitGroup
}

func (b *Backend) init(st *state) {
	b.st = st
	b.sem = semaphore.NewWeighted(int64(b.poolSize))
	b.ctx, b.cancel = context.WithCancel(context.Background())
}

// Identity returns the broker identity this view is bound to.
func (b *Backend) Identity() string { return b.identity }

// QueueLen returns how many tasks wait in the named queue, stale ones
// included.
func (b *Backend) QueueLen(name string) int { return b.st.length(taskSet, name) }

// ──────────────────────────────────────────────────
// Tasks
// ──────────────────────────────────────────────────

// SubmitTask enqueues a copy of in. It never blocks.
func (b *Backend) SubmitTask(_ context.Context, in *task.Instance) error {
	if b.isClosed() {
		return taskbus.ErrBackendClosed
	}

	b.st.mu.Lock()
	defer b.st.mu.Unlock()
	if b.st.closed {
		return taskbus.ErrBackendClosed
	}
	b.st.push(b.st.tasks, in.Queue, in.ID.String(), in.Priority, in.TTL, in.Clone())
	if in.ResultReturn {
		b.st.resultsFor(in.ID.String(), in.ResultTTL)
	}
	return nil
}

// ConsumeTasks starts a loop for each named queue not already consumed by
// this view.
func (b *Backend) ConsumeTasks(queues []string, h backend.TaskHandler) error {
	return b.startLoops(taskLoop, queues, func(ctx context.Context, it *item) error {
		return h(ctx, it.value.(*task.Instance))
	})
}

// StopConsumeTasks cancels the loops for queues, or every task loop.
func (b *Backend) StopConsumeTasks(queues ...string) {
	b.stopLoops(taskLoop, queues)
}

// PushResult appends res to the buffer for in.ID.
func (b *Backend) PushResult(_ context.Context, in *task.Instance, res task.Result) error {
	b.st.mu.Lock()
	defer b.st.mu.Unlock()
	if b.st.closed {
		return taskbus.ErrBackendClosed
	}
	b.st.pushResult(in.ID.String(), in.ResultTTL, res)
	return nil
}

// PopResults returns the lazy result sequence for in.ID.
func (b *Backend) PopResults(ctx context.Context, in *task.Instance) (iter.Seq2[task.Result, error], error) {
	if !in.ResultReturn {
		return nil, fmt.Errorf("pop results for %s: %w", in.ID, taskbus.ErrResultNotRequested)
	}
	if b.isClosed() {
		return nil, taskbus.ErrBackendClosed
	}
	return b.st.popResults(ctx, b.ctx.Done(), in.ID.String(), in.ResultTTL), nil
}

// ──────────────────────────────────────────────────
// Messages
// ──────────────────────────────────────────────────

// SendMessage enqueues msg on its exchange. It never blocks.
func (b *Backend) SendMessage(_ context.Context, msg *message.Message) error {
	if b.isClosed() {
		return taskbus.ErrBackendClosed
	}

	b.st.mu.Lock()
	defer b.st.mu.Unlock()
	if b.st.closed {
		return taskbus.ErrBackendClosed
	}
	cp := *msg
	b.st.push(b.st.messages, msg.Exchange, msg.ID.String(), msg.Priority, msg.TTL, &cp)
	return nil
}

// ConsumeMessages starts a loop for each named exchange not already
// consumed by this view.
func (b *Backend) ConsumeMessages(exchanges []string, h message.Handler) error {
	return b.startLoops(messageLoop, exchanges, func(ctx context.Context, it *item) error {
		return h(ctx, it.value.(*message.Message))
	})
}

// StopConsumeMessages cancels the loops for exchanges, or every message
// loop.
func (b *Backend) StopConsumeMessages(exchanges ...string) {
	b.stopLoops(messageLoop, exchanges)
}

// ──────────────────────────────────────────────────
// Events
// ──────────────────────────────────────────────────

// SendEvent adds evt to the identity's event table. It never blocks.
func (b *Backend) SendEvent(_ context.Context, evt *event.Event) error {
	if b.isClosed() {
		return taskbus.ErrBackendClosed
	}

	b.st.mu.Lock()
	defer b.st.mu.Unlock()
	if b.st.closed {
		return taskbus.ErrBackendClosed
	}
	b.st.addEvent(evt)
	return nil
}

// ConsumeEvents registers sub with the identity's dispatch loop.
func (b *Backend) ConsumeEvents(sub *event.Subscription) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return taskbus.ErrBackendClosed
	}

	b.st.mu.Lock()
	defer b.st.mu.Unlock()
	if b.st.closed {
		return taskbus.ErrBackendClosed
	}
	b.st.subscribe(sub)
	b.subs[sub.ID] = struct{}{}
	return nil
}

// StopConsumeEvents removes the named subscriptions, or every one this
// view registered.
func (b *Backend) StopConsumeEvents(callbackIDs ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(callbackIDs) == 0 {
		for id := range b.subs {
			callbackIDs = append(callbackIDs, id)
		}
	}
	for _, id := range callbackIDs {
		delete(b.subs, id)
	}

	b.st.mu.Lock()
	defer b.st.mu.Unlock()
	if !b.st.closed {
		b.st.unsubscribe(callbackIDs...)
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Close stops this view's loops, cancels its in-flight handlers, removes
// its subscriptions, and releases its reference on the identity. Handlers
// that ignore cancellation keep running but no longer block Close.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.StopConsumeTasks()
	b.StopConsumeMessages()
	b.StopConsumeEvents()
	b.cancel()
	b.loopWG.Wait()

	b.reg.release(b.identity, b.st)
	b.logger.Debug("backend closed")
	return nil
}

func (b *Backend) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// ──────────────────────────────────────────────────
// Consumption loops
// ──────────────────────────────────────────────────

func (b *Backend) startLoops(kind loopKind, names []string, run func(context.Context, *item) error) error {
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
		ctx, cancel := context.WithCancel(b.ctx)
		b.loops[key] = cancel
		b.loopWG.Add(1)
		go b.loop(ctx, kind, name, run)

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

// loop waits for the queue to be non-empty, acquires a pool slot and then
// a queue slot, dequeues, and hands the item to a handler goroutine that
// releases both slots when done. An idle loop holds no slot.
func (b *Backend) loop(ctx context.Context, kind loopKind, name string, run func(context.Context, *item) error) {
	defer b.loopWG.Done()

	set := taskSet
	if kind == messageLoop {
		set = messageSet
	}

	for {
		if err := b.st.await(ctx, set, name); err != nil {
			return
		}
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

		it, ok := b.st.tryPop(set, name)
		if !ok {
			// Another loop won the item, or it went stale.
			releaseQueue()
			b.sem.Release(1)
			continue
		}

		go func() {
			defer b.sem.Release(1)
			defer releaseQueue()
			b.handle(kind, name, it, run)
		}()
	}
}

// handle runs one handler, logging its error or panic.
func (b *Backend) handle(kind loopKind, name string, it *item, run func(context.Context, *item) error) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return run(b.ctx, it)
	}()
	if err != nil {
		b.logger.Error("handler failed",
			slog.String("kind", kind.String()),
			slog.String("queue", name),
			slog.String("id", it.key),
			slog.String("error", err.Error()),
		)
	}
}
