package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/xraph/taskbus"
	"github.com/xraph/taskbus/event"
)

// Registry maps broker identities to their shared state.
// It is safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	states map[string]*state
}

// NewRegistry creates an empty identity registry.
func NewRegistry() *Registry {
	return &Registry{states: make(map[string]*state)}
}

// Open returns a new view over the state for identity, creating the state
// if this is the first open view.
func (r *Registry) Open(identity string, opts ...Option) *Backend {
	b := &Backend{
		reg:      r,
		identity: identity,
		poolSize: taskbus.DefaultConfig().PoolSize,
		logger:   slog.Default(),
		subs:     make(map[string]struct{}),
		loops:    make(map[loopKey]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(slog.String("identity", identity))

	r.mu.Lock()
	st, ok := r.states[identity]
	if !ok {
		st = newState(b.logger)
		r.states[identity] = st
	}
	st.refs++
	r.mu.Unlock()

	b.init(st)
	return b
}

// Refs returns how many open views reference identity.
func (r *Registry) Refs(identity string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[identity]; ok {
		return st.refs
	}
	return 0
}

// release drops one reference and tears the state down with the last one.
func (r *Registry) release(identity string, st *state) {
	r.mu.Lock()
	st.refs--
	last := st.refs == 0
	if last && r.states[identity] == st {
		delete(r.states, identity)
	}
	r.mu.Unlock()

	if last {
		st.teardown()
	}
}

// state is everything one identity owns. All fields are guarded by mu.
type state struct {
	mu     sync.Mutex
	logger *slog.Logger

	// ctx is cancelled at teardown; it wakes every waiter.
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
	refs   int // guarded by Registry.mu

	seq      uint64
	tasks    map[string]*itemQueue
	messages map[string]*itemQueue
	results  map[string]*resultEntry

	events      []queuedEvent
	eventWake   chan struct{}
	subs        map[string]*event.Subscription
	dispatching bool
	dispatchWG  sync.WaitGroup
}

func newState(logger *slog.Logger) *state {
	ctx, cancel := context.WithCancel(context.Background())
	return &state{
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		tasks:     make(map[string]*itemQueue),
		messages:  make(map[string]*itemQueue),
		results:   make(map[string]*resultEntry),
		eventWake: make(chan struct{}),
		subs:      make(map[string]*event.Subscription),
	}
}

// teardown cancels the dispatch loop, wakes every waiter, and drops all
// queued state. It waits for the dispatch loop only, never for callbacks.
func (s *state) teardown() {
	s.mu.Lock()
	s.closed = true
	s.cancel()
	for _, e := range s.results {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	s.tasks = nil
	s.messages = nil
	s.results = nil
	s.events = nil
	s.subs = nil
	s.mu.Unlock()

	s.dispatchWG.Wait()
}
