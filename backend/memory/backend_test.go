package memory_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/taskbus"
	"github.com/xraph/taskbus/backend/memory"
	"github.com/xraph/taskbus/event"
	"github.com/xraph/taskbus/id"
	"github.com/xraph/taskbus/message"
	"github.com/xraph/taskbus/queue"
	"github.com/xraph/taskbus/task"
)

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func openBackend(t *testing.T, opts ...memory.Option) *memory.Backend {
	t.Helper()
	b := memory.NewRegistry().Open("test", opts...)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func newTask(name string, opts ...task.Option) *task.Instance {
	base := task.DefaultOptions().Apply(task.WithQueue("q1"), task.WithTTL(taskbus.NoExpiry))
	return task.New(name, nil, nil, base.Apply(opts...))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// recorder collects task names in handler order.
type recorder struct {
	mu    sync.Mutex
	names []string
}

func (r *recorder) handler(_ context.Context, in *task.Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, in.Name)
	return nil
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.names)
}

func drain(t *testing.T, b *memory.Backend, ctx context.Context, in *task.Instance) ([]task.Result, error) {
	t.Helper()
	seq, err := b.PopResults(ctx, in)
	if err != nil {
		return nil, err
	}
	var out []task.Result
	for r, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Task queues
// ──────────────────────────────────────────────────

func TestBackend_PriorityOrdering(t *testing.T) {
	b := openBackend(t, memory.WithPoolSize(1))
	ctx := context.Background()

	for _, in := range []*task.Instance{
		newTask("low", task.WithPriority(1)),
		newTask("high", task.WithPriority(10)),
		newTask("mid", task.WithPriority(5)),
	} {
		if err := b.SubmitTask(ctx, in); err != nil {
			t.Fatalf("SubmitTask: %v", err)
		}
	}

	rec := &recorder{}
	if err := b.ConsumeTasks([]string{"q1"}, rec.handler); err != nil {
		t.Fatalf("ConsumeTasks: %v", err)
	}

	waitFor(t, time.Second, func() bool { return len(rec.snapshot()) == 3 })
	want := []string{"high", "mid", "low"}
	if got := rec.snapshot(); !slices.Equal(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestBackend_FIFOTieBreak(t *testing.T) {
	b := openBackend(t, memory.WithPoolSize(1))
	ctx := context.Background()

	want := []string{"t1", "t2", "t3", "t4", "t5"}
	for _, name := range want {
		if err := b.SubmitTask(ctx, newTask(name, task.WithPriority(3))); err != nil {
			t.Fatalf("SubmitTask: %v", err)
		}
	}

	rec := &recorder{}
	if err := b.ConsumeTasks([]string{"q1"}, rec.handler); err != nil {
		t.Fatalf("ConsumeTasks: %v", err)
	}

	waitFor(t, time.Second, func() bool { return len(rec.snapshot()) == len(want) })
	if got := rec.snapshot(); !slices.Equal(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestBackend_TTLZeroNeverDelivered(t *testing.T) {
	b := openBackend(t)
	ctx := context.Background()

	if err := b.SubmitTask(ctx, newTask("stale", task.WithTTL(0))); err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := b.SubmitTask(ctx, newTask("fresh")); err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}

	rec := &recorder{}
	if err := b.ConsumeTasks([]string{"q1"}, rec.handler); err != nil {
		t.Fatalf("ConsumeTasks: %v", err)
	}

	waitFor(t, time.Second, func() bool { return len(rec.snapshot()) == 1 })
	time.Sleep(20 * time.Millisecond)
	if got := rec.snapshot(); !slices.Equal(got, []string{"fresh"}) {
		t.Fatalf("delivered = %v, want [fresh]", got)
	}
	if b.QueueLen("q1") != 0 {
		t.Errorf("expected stale item to be dropped, queue len = %d", b.QueueLen("q1"))
	}
}

func TestBackend_AtMostOncePerLoop(t *testing.T) {
	b := openBackend(t, memory.WithPoolSize(4))
	ctx := context.Background()

	const n = 50
	var mu sync.Mutex
	seen := make(map[string]int)
	var total atomic.Int64

	if err := b.ConsumeTasks([]string{"q1"}, func(_ context.Context, in *task.Instance) error {
		mu.Lock()
		seen[in.ID.String()]++
		mu.Unlock()
		total.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("ConsumeTasks: %v", err)
	}

	for range n {
		if err := b.SubmitTask(ctx, newTask("once")); err != nil {
			t.Fatalf("SubmitTask: %v", err)
		}
	}

	waitFor(t, 2*time.Second, func() bool { return total.Load() == n })
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != n {
		t.Fatalf("distinct deliveries = %d, want %d", len(seen), n)
	}
	for taskID, count := range seen {
		if count != 1 {
			t.Errorf("task %s delivered %d times", taskID, count)
		}
	}
}

func TestBackend_PoolBound(t *testing.T) {
	b := openBackend(t, memory.WithPoolSize(2))
	ctx := context.Background()

	var current, peak, done atomic.Int64
	release := make(chan struct{})
	if err := b.ConsumeTasks([]string{"q1"}, func(context.Context, *task.Instance) error {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		current.Add(-1)
		done.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("ConsumeTasks: %v", err)
	}

	for range 5 {
		if err := b.SubmitTask(ctx, newTask("slow")); err != nil {
			t.Fatalf("SubmitTask: %v", err)
		}
	}

	waitFor(t, time.Second, func() bool { return current.Load() == 2 })
	time.Sleep(20 * time.Millisecond)
	if peak.Load() != 2 {
		t.Fatalf("peak = %d, want 2", peak.Load())
	}
	close(release)
	waitFor(t, time.Second, func() bool { return done.Load() == 5 })
}

func TestBackend_HandlerFailureKeepsLoop(t *testing.T) {
	b := openBackend(t, memory.WithPoolSize(1))
	ctx := context.Background()

	var handled atomic.Int64
	if err := b.ConsumeTasks([]string{"q1"}, func(_ context.Context, in *task.Instance) error {
		handled.Add(1)
		switch in.Name {
		case "panic":
			panic("handler exploded")
		case "error":
			return errors.New("handler failed")
		}
		return nil
	}); err != nil {
		t.Fatalf("ConsumeTasks: %v", err)
	}

	for _, name := range []string{"panic", "error", "ok"} {
		if err := b.SubmitTask(ctx, newTask(name)); err != nil {
			t.Fatalf("SubmitTask: %v", err)
		}
	}
	waitFor(t, time.Second, func() bool { return handled.Load() == 3 })
}

func TestBackend_StopConsumeTasks(t *testing.T) {
	b := openBackend(t)
	ctx := context.Background()

	rec := &recorder{}
	if err := b.ConsumeTasks([]string{"q1", "q2"}, rec.handler); err != nil {
		t.Fatalf("ConsumeTasks: %v", err)
	}
	b.StopConsumeTasks("q1")
	b.StopConsumeTasks("q1") // idempotent

	if err := b.SubmitTask(ctx, newTask("on-q1")); err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}
	if err := b.SubmitTask(ctx, newTask("on-q2", task.WithQueue("q2"))); err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}

	waitFor(t, time.Second, func() bool { return len(rec.snapshot()) == 1 })
	time.Sleep(20 * time.Millisecond)
	if got := rec.snapshot(); !slices.Equal(got, []string{"on-q2"}) {
		t.Fatalf("delivered = %v, want [on-q2]", got)
	}
	if b.QueueLen("q1") != 1 {
		t.Errorf("q1 len = %d, want 1", b.QueueLen("q1"))
	}

	// Restarting consumption picks the waiting task up.
	if err := b.ConsumeTasks([]string{"q1"}, rec.handler); err != nil {
		t.Fatalf("ConsumeTasks: %v", err)
	}
	waitFor(t, time.Second, func() bool { return len(rec.snapshot()) == 2 })
}

func TestBackend_QueueManagerCapsConcurrency(t *testing.T) {
	qm := queue.NewManager(queue.Config{Name: "q1", MaxConcurrency: 1})
	b := openBackend(t, memory.WithPoolSize(4), memory.WithQueueManager(qm))
	ctx := context.Background()

	var current, peak, done atomic.Int64
	if err := b.ConsumeTasks([]string{"q1"}, func(context.Context, *task.Instance) error {
		n := current.Add(1)
		if n > peak.Load() {
			peak.Store(n)
		}
		time.Sleep(5 * time.Millisecond)
		current.Add(-1)
		done.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("ConsumeTasks: %v", err)
	}
	for range 4 {
		if err := b.SubmitTask(ctx, newTask("capped")); err != nil {
			t.Fatalf("SubmitTask: %v", err)
		}
	}

	waitFor(t, time.Second, func() bool { return done.Load() == 4 })
	if peak.Load() != 1 {
		t.Fatalf("peak = %d, want 1", peak.Load())
	}
}

// ──────────────────────────────────────────────────
// Results
// ──────────────────────────────────────────────────

func TestBackend_ResultNotRequested(t *testing.T) {
	b := openBackend(t)
	in := newTask("fire", task.WithResultReturn(false))

	if _, err := b.PopResults(context.Background(), in); !errors.Is(err, taskbus.ErrResultNotRequested) {
		t.Fatalf("expected ErrResultNotRequested, got %v", err)
	}
}

func TestBackend_ResultOrderingEarlyAndLate(t *testing.T) {
	b := openBackend(t)
	ctx := context.Background()
	in := newTask("gen", task.WithResultReturn(true), task.WithStreaming(true))
	if err := b.SubmitTask(ctx, in); err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}

	type outcome struct {
		results []task.Result
		err     error
	}
	early := make(chan outcome, 1)
	go func() {
		rs, err := drain(t, b, ctx, in)
		early <- outcome{rs, err}
	}()

	run := id.NewRunID()
	for i := range 4 {
		idx := task.Index{Run: run, Seq: uint64(i + 1)}
		if err := b.PushResult(ctx, in, task.Value(idx, i*10)); err != nil {
			t.Fatalf("PushResult: %v", err)
		}
	}
	if err := b.PushResult(ctx, in, task.Closed(task.Index{Run: run, Seq: 5})); err != nil {
		t.Fatalf("PushResult: %v", err)
	}

	late, lateErr := drain(t, b, ctx, in)
	got := <-early

	if got.err != nil || lateErr != nil {
		t.Fatalf("errors: early=%v late=%v", got.err, lateErr)
	}
	if len(got.results) != 4 || len(late) != 4 {
		t.Fatalf("early=%d late=%d results, want 4 each", len(got.results), len(late))
	}
	for i := range 4 {
		if got.results[i].Value != late[i].Value || got.results[i].Index.Seq != late[i].Index.Seq {
			t.Errorf("result %d differs: early=%+v late=%+v", i, got.results[i], late[i])
		}
		if late[i].Value != i*10 {
			t.Errorf("result %d = %v, want %d", i, late[i].Value, i*10)
		}
	}
}

func TestBackend_ResultExpiry(t *testing.T) {
	b := openBackend(t)
	ctx := context.Background()
	in := newTask("expiring", task.WithResultReturn(true), task.WithResultTTL(30*time.Millisecond))

	if err := b.PushResult(ctx, in, task.Value(task.Index{Run: id.NewRunID(), Seq: 1}, "v")); err != nil {
		t.Fatalf("PushResult: %v", err)
	}

	results, err := drain(t, b, ctx, in)
	if !errors.Is(err, taskbus.ErrResultExpired) {
		t.Fatalf("expected ErrResultExpired, got %v", err)
	}
	if len(results) != 1 || results[0].Value != "v" {
		t.Fatalf("results = %+v, want one value before expiry", results)
	}
}

func TestBackend_UnconsumedResultsExpire(t *testing.T) {
	b := openBackend(t)
	in := newTask("unconsumed", task.WithResultReturn(true), task.WithResultTTL(30*time.Millisecond))

	// Submitted but never executed: no result is ever pushed.
	if err := b.SubmitTask(context.Background(), in); err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}
	time.Sleep(60 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	results, err := drain(t, b, ctx, in)
	if !errors.Is(err, taskbus.ErrResultExpired) {
		t.Fatalf("expected ErrResultExpired, got %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("results = %+v, want none", results)
	}
}

func TestBackend_PopBeforeAnyPushExpires(t *testing.T) {
	b := openBackend(t)
	in := newTask("waiting", task.WithResultReturn(true), task.WithResultTTL(30*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	if _, err := drain(t, b, ctx, in); !errors.Is(err, taskbus.ErrResultExpired) {
		t.Fatalf("expected ErrResultExpired, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("waited %s for an entry with a 30ms ttl", elapsed)
	}
}

func TestBackend_PopResultsContextCancel(t *testing.T) {
	b := openBackend(t)
	in := newTask("never", task.WithResultReturn(true))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := drain(t, b, ctx, in); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestBackend_CloseWakesResultWaiters(t *testing.T) {
	b := memory.NewRegistry().Open("close-wake")
	in := newTask("pending", task.WithResultReturn(true))

	errCh := make(chan error, 1)
	go func() {
		_, err := drain(t, b, context.Background(), in)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case err := <-errCh:
		if !errors.Is(err, taskbus.ErrBackendClosed) {
			t.Fatalf("expected ErrBackendClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by Close")
	}
}

// ──────────────────────────────────────────────────
// Messages
// ──────────────────────────────────────────────────

func TestBackend_Messages(t *testing.T) {
	b := openBackend(t, memory.WithPoolSize(1))
	ctx := context.Background()

	for _, body := range []string{"m1", "m2"} {
		msg := message.New(body, message.Options{Exchange: "ex", TTL: taskbus.NoExpiry})
		if err := b.SendMessage(ctx, msg); err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
	}
	stale := message.New("stale", message.Options{Exchange: "ex", TTL: 0, Priority: 9})
	if err := b.SendMessage(ctx, stale); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	var mu sync.Mutex
	var got []any
	if err := b.ConsumeMessages([]string{"ex"}, func(_ context.Context, msg *message.Message) error {
		mu.Lock()
		got = append(got, msg.Body)
		mu.Unlock()
		return nil
	}); err != nil {
		t.Fatalf("ConsumeMessages: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})
	mu.Lock()
	defer mu.Unlock()
	if got[0] != "m1" || got[1] != "m2" {
		t.Fatalf("messages = %v, want [m1 m2]", got)
	}
}

// ──────────────────────────────────────────────────
// Events
// ──────────────────────────────────────────────────

func TestBackend_EventTypeFilter(t *testing.T) {
	b := openBackend(t)
	ctx := context.Background()

	var pingCalls, pongCalls atomic.Int64
	if err := b.ConsumeEvents(event.NewSubscription("on-ping", func(context.Context, *event.Event) error {
		pingCalls.Add(1)
		return nil
	}, event.WithTypes("ping"))); err != nil {
		t.Fatalf("ConsumeEvents: %v", err)
	}
	if err := b.ConsumeEvents(event.NewSubscription("on-pong", func(context.Context, *event.Event) error {
		pongCalls.Add(1)
		return nil
	}, event.WithTypes("pong"))); err != nil {
		t.Fatalf("ConsumeEvents: %v", err)
	}

	if err := b.SendEvent(ctx, event.New("ping", nil, time.Minute)); err != nil {
		t.Fatalf("SendEvent: %v", err)
	}

	waitFor(t, time.Second, func() bool { return pingCalls.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	if pongCalls.Load() != 0 {
		t.Fatalf("pong subscriber called %d times, want 0", pongCalls.Load())
	}
}

func TestBackend_AsyncSubscriberDoesNotStall(t *testing.T) {
	b := openBackend(t)
	ctx := context.Background()

	block := make(chan struct{})
	defer close(block)
	if err := b.ConsumeEvents(event.NewSubscription("a-slow", func(context.Context, *event.Event) error {
		<-block
		return nil
	}, event.Async())); err != nil {
		t.Fatalf("ConsumeEvents: %v", err)
	}

	var fast atomic.Int64
	if err := b.ConsumeEvents(event.NewSubscription("b-fast", func(context.Context, *event.Event) error {
		fast.Add(1)
		return nil
	})); err != nil {
		t.Fatalf("ConsumeEvents: %v", err)
	}

	for range 3 {
		if err := b.SendEvent(ctx, event.New("tick", nil, time.Minute)); err != nil {
			t.Fatalf("SendEvent: %v", err)
		}
	}
	waitFor(t, time.Second, func() bool { return fast.Load() == 3 })
}

func TestBackend_StaleEventDropped(t *testing.T) {
	b := openBackend(t)
	ctx := context.Background()

	if err := b.SendEvent(ctx, event.New("old", nil, 0)); err != nil {
		t.Fatalf("SendEvent: %v", err)
	}

	var calls atomic.Int64
	if err := b.ConsumeEvents(event.NewSubscription("all", func(context.Context, *event.Event) error {
		calls.Add(1)
		return nil
	})); err != nil {
		t.Fatalf("ConsumeEvents: %v", err)
	}
	if err := b.SendEvent(ctx, event.New("new", nil, time.Minute)); err != nil {
		t.Fatalf("SendEvent: %v", err)
	}

	waitFor(t, time.Second, func() bool { return calls.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestBackend_StopConsumeEvents(t *testing.T) {
	b := openBackend(t)
	ctx := context.Background()

	var calls atomic.Int64
	if err := b.ConsumeEvents(event.NewSubscription("sub", func(context.Context, *event.Event) error {
		calls.Add(1)
		return nil
	})); err != nil {
		t.Fatalf("ConsumeEvents: %v", err)
	}
	b.StopConsumeEvents("sub")

	if err := b.SendEvent(ctx, event.New("ping", nil, time.Minute)); err != nil {
		t.Fatalf("SendEvent: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if calls.Load() != 0 {
		t.Fatalf("removed subscriber called %d times", calls.Load())
	}
}

// ──────────────────────────────────────────────────
// Identity registry
// ──────────────────────────────────────────────────

func TestRegistry_SharedIdentity(t *testing.T) {
	reg := memory.NewRegistry()
	producer := reg.Open("shared")
	consumer := reg.Open("shared")
	other := reg.Open("other")
	defer other.Close()

	if reg.Refs("shared") != 2 {
		t.Fatalf("Refs = %d, want 2", reg.Refs("shared"))
	}

	ctx := context.Background()
	if err := producer.SubmitTask(ctx, newTask("cross-view")); err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}
	if other.QueueLen("q1") != 0 {
		t.Fatal("a different identity must not see the task")
	}

	rec := &recorder{}
	if err := consumer.ConsumeTasks([]string{"q1"}, rec.handler); err != nil {
		t.Fatalf("ConsumeTasks: %v", err)
	}
	waitFor(t, time.Second, func() bool { return len(rec.snapshot()) == 1 })

	// Closing one view keeps the state alive.
	if err := producer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if reg.Refs("shared") != 1 {
		t.Fatalf("Refs = %d, want 1", reg.Refs("shared"))
	}
	if err := producer.SubmitTask(ctx, newTask("after-close")); !errors.Is(err, taskbus.ErrBackendClosed) {
		t.Fatalf("expected ErrBackendClosed from closed view, got %v", err)
	}

	// The last close tears the state down.
	if err := consumer.SubmitTask(ctx, newTask("left-behind", task.WithQueue("idle"))); err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}
	if err := consumer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if reg.Refs("shared") != 0 {
		t.Fatalf("Refs = %d, want 0", reg.Refs("shared"))
	}

	fresh := reg.Open("shared")
	defer fresh.Close()
	if fresh.QueueLen("idle") != 0 {
		t.Fatal("a reopened identity must start from empty state")
	}
}

func TestBackend_CloseIdempotent(t *testing.T) {
	b := memory.NewRegistry().Open("idem")
	if err := b.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := b.ConsumeTasks([]string{"q1"}, (&recorder{}).handler); !errors.Is(err, taskbus.ErrBackendClosed) {
		t.Fatalf("expected ErrBackendClosed, got %v", err)
	}
}

func TestBackend_CloseCancelsHandlers(t *testing.T) {
	b := memory.NewRegistry().Open("cancel")
	ctx := context.Background()

	cancelled := make(chan struct{})
	if err := b.ConsumeTasks([]string{"q1"}, func(ctx context.Context, _ *task.Instance) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}); err != nil {
		t.Fatalf("ConsumeTasks: %v", err)
	}
	if err := b.SubmitTask(ctx, newTask("blocked")); err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("handler context not cancelled by Close")
	}
}

func TestBackend_CloseDoesNotWaitForStuckCallbacks(t *testing.T) {
	for _, async := range []bool{false, true} {
		b := memory.NewRegistry().Open("stuck")
		ctx := context.Background()

		release := make(chan struct{})
		t.Cleanup(func() { close(release) })
		entered := make(chan struct{}, 1)

		var opts []event.SubscribeOption
		if async {
			opts = append(opts, event.Async())
		}
		sub := event.NewSubscription("stuck", func(context.Context, *event.Event) error {
			entered <- struct{}{}
			<-release // ignores cancellation
			return nil
		}, opts...)
		if err := b.ConsumeEvents(sub); err != nil {
			t.Fatalf("ConsumeEvents: %v", err)
		}
		if err := b.SendEvent(ctx, event.New("ping", nil, taskbus.NoExpiry)); err != nil {
			t.Fatalf("SendEvent: %v", err)
		}
		select {
		case <-entered:
		case <-time.After(time.Second):
			t.Fatalf("async=%v: callback never ran", async)
		}

		closed := make(chan error, 1)
		go func() { closed <- b.Close() }()
		select {
		case err := <-closed:
			if err != nil {
				t.Fatalf("async=%v: Close: %v", async, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("async=%v: Close blocked on a callback that ignores cancellation", async)
		}
	}
}
