package machine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Option configures a Machine.
type Option func(*options)

type options struct {
	name          string
	logger        Logger
	actionTimeout time.Duration
	now           func() time.Time
}

// WithName sets the machine name used in logs.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithLogger sets the machine logger.
func WithLogger(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithActionTimeout bounds every action execution.
func WithActionTimeout(d time.Duration) Option {
	return func(o *options) {
		o.actionTimeout = d
	}
}

// WithClock overrides the clock used to stamp transitions.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

type envelope struct {
	id  string
	evt Event
}

// Machine owns one state value and reduces events against it one at a time.
// Actions produced by each reduction run concurrently and report back by
// dispatching further events.
type Machine[S any, E any] struct {
	name          string
	resolver      Resolver[S, E]
	env           E
	logger        Logger
	listeners     *Registry[S]
	actionTimeout time.Duration
	now           func() time.Time
	recoverPanic  func(funcName string, fields ...map[string]any)

	stateMu sync.RWMutex
	state   S

	queueMu sync.Mutex
	queue   []envelope
	signal  chan struct{}
	stopped bool
	pending int
	idle    chan struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
	actions  sync.WaitGroup
	// seq numbers actions in scheduling order, owned by the loop goroutine
	seq uint64
}

// New builds a machine in initial state and starts its processing loop.
func New[S any, E any](initial S, resolver Resolver[S, E], env E, opts ...Option) *Machine[S, E] {
	cfg := options{name: "machine", now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	logger := WithLoggerFields(NormalizeLogger(cfg.logger), map[string]any{"machine": cfg.name})

	ctx, cancel := context.WithCancel(context.Background())
	m := &Machine[S, E]{
		name:          cfg.name,
		resolver:      resolver,
		env:           env,
		logger:        logger,
		listeners:     NewRegistry[S](),
		actionTimeout: cfg.actionTimeout,
		now:           cfg.now,
		recoverPanic:  MakePanicHandler(LoggerPanicLogger(logger)),
		state:         initial,
		signal:        make(chan struct{}, 1),
		ctx:           ctx,
		cancel:        cancel,
		loopDone:      make(chan struct{}),
	}
	go m.loop()
	return m
}

// Name returns the machine name.
func (m *Machine[S, E]) Name() string { return m.name }

// Environment returns the environment handed to actions.
func (m *Machine[S, E]) Environment() E { return m.env }

// Current returns a snapshot of the current state.
func (m *Machine[S, E]) Current() S {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

// Dispatch enqueues evt and returns its correlation id.
func (m *Machine[S, E]) Dispatch(evt Event) string {
	id := uuid.NewString()
	m.enqueue(id, evt)
	return id
}

func (m *Machine[S, E]) enqueue(id string, evt Event) bool {
	if evt == nil {
		return false
	}
	m.queueMu.Lock()
	if m.stopped {
		m.queueMu.Unlock()
		m.logger.Debug("dropping event %s: machine stopped", evt.Type())
		return false
	}
	m.queue = append(m.queue, envelope{id: id, evt: evt})
	m.trackLocked(1)
	m.queueMu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

func (m *Machine[S, E]) next() (envelope, bool) {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	if len(m.queue) == 0 {
		return envelope{}, false
	}
	env := m.queue[0]
	m.queue[0] = envelope{}
	m.queue = m.queue[1:]
	return env, true
}

func (m *Machine[S, E]) loop() {
	defer close(m.loopDone)
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.signal:
		}
		for {
			if m.ctx.Err() != nil {
				return
			}
			env, ok := m.next()
			if !ok {
				break
			}
			m.process(env)
			m.track(-1)
		}
	}
}

// track counts queued events and running actions. An action dispatching
// its follow-up event keeps the count above zero until that event is done.
func (m *Machine[S, E]) track(delta int) {
	m.queueMu.Lock()
	m.trackLocked(delta)
	m.queueMu.Unlock()
}

func (m *Machine[S, E]) trackLocked(delta int) {
	m.pending += delta
	if m.pending <= 0 && m.idle != nil {
		close(m.idle)
		m.idle = nil
	}
}

func (m *Machine[S, E]) process(env envelope) {
	prev := m.Current()
	res := m.resolve(prev, env)

	m.stateMu.Lock()
	m.state = res.State
	m.stateMu.Unlock()

	logger := WithLoggerFields(m.logger, map[string]any{
		"event_id": env.id,
		"event":    env.evt.Type(),
	})
	if res.Ignored {
		logger.Trace("event ignored in %v", prev)
	} else {
		logger.Debug("transition %v -> %v actions=%d", prev, res.State, len(res.Actions))
	}

	m.listeners.Notify(Transition[S]{
		EventID:  env.id,
		Event:    env.evt,
		Previous: prev,
		Current:  res.State,
		Ignored:  res.Ignored,
		At:       m.now(),
	})

	for _, action := range res.Actions {
		if action == nil {
			continue
		}
		m.execute(action, env.id, logger)
	}
}

func (m *Machine[S, E]) resolve(state S, env envelope) (res Resolution[S, E]) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("resolver panic on %s: %v", env.evt.Type(), panicError(r))
			res = Ignore[S, E](state)
		}
	}()
	return m.resolver.Resolve(state, env.evt)
}

func (m *Machine[S, E]) execute(action Action[E], eventID string, logger Logger) {
	m.seq++
	seq := m.seq
	m.actions.Add(1)
	m.track(1)
	go func() {
		defer m.actions.Done()
		defer m.track(-1)
		defer m.recoverPanic(action.Name(), map[string]any{"event_id": eventID})

		ctx := context.WithValue(m.ctx, sequenceKey{}, seq)
		if m.actionTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, m.actionTimeout)
			defer cancel()
		}
		logger.Trace("action %s started", action.Name())
		action.Execute(ctx, m, m.env)
	}()
}

// Listen registers listener for every processed event.
func (m *Machine[S, E]) Listen(listener Listener[S]) Subscription {
	return m.listeners.Add(listener)
}

// ListenWithToken registers listener under a caller supplied token.
func (m *Machine[S, E]) ListenWithToken(token string, listener Listener[S]) Subscription {
	return m.listeners.AddWithToken(token, listener)
}

// Unlisten removes the listener registered under token.
func (m *Machine[S, E]) Unlisten(token string) bool {
	return m.listeners.Remove(token)
}

// WaitFor blocks until the state satisfies until, ctx ends or the machine stops.
func (m *Machine[S, E]) WaitFor(ctx context.Context, until func(S) bool) (S, error) {
	ch := make(chan S, 1)
	sub := m.listeners.Add(func(tr Transition[S]) {
		if until(tr.Current) {
			select {
			case ch <- tr.Current:
			default:
			}
		}
	})
	defer sub.Unsubscribe()

	if cur := m.Current(); until(cur) {
		return cur, nil
	}
	return m.await(ctx, ch, nil)
}

// DispatchAndWait dispatches evt and waits for the first state, at or after
// evt's own transition, that satisfies until. It fails with ErrEventIgnored
// when the resolver treated evt as a no-op.
func (m *Machine[S, E]) DispatchAndWait(ctx context.Context, evt Event, until func(S) bool) (S, error) {
	id := uuid.NewString()
	ch := make(chan S, 1)
	errCh := make(chan error, 1)
	seen := false

	sub := m.listeners.Add(func(tr Transition[S]) {
		if !seen {
			if tr.EventID != id {
				return
			}
			seen = true
			if tr.Ignored {
				select {
				case errCh <- CloneError(ErrEventIgnored, fmt.Sprintf("event %s ignored in %v", evt.Type(), tr.Current), nil, map[string]any{
					"event":    evt.Type(),
					"event_id": id,
				}):
				default:
				}
				return
			}
		}
		if until(tr.Current) {
			select {
			case ch <- tr.Current:
			default:
			}
		}
	})
	defer sub.Unsubscribe()

	if !m.enqueue(id, evt) {
		var zero S
		return zero, CloneError(ErrMachineStopped, "", nil, map[string]any{"event": evt.Type()})
	}
	return m.await(ctx, ch, errCh)
}

func (m *Machine[S, E]) await(ctx context.Context, ch <-chan S, errCh <-chan error) (S, error) {
	var zero S
	select {
	case s := <-ch:
		return s, nil
	case err := <-errCh:
		return m.Current(), err
	case <-ctx.Done():
		return zero, CloneError(ErrWaitCanceled, "", ctx.Err(), nil)
	case <-m.loopDone:
		return zero, CloneError(ErrMachineStopped, "", nil, nil)
	}
}

// Drain waits until no events are queued and no actions are running.
func (m *Machine[S, E]) Drain(ctx context.Context) error {
	for {
		m.queueMu.Lock()
		if m.pending <= 0 {
			m.queueMu.Unlock()
			return nil
		}
		if m.idle == nil {
			m.idle = make(chan struct{})
		}
		idle := m.idle
		m.queueMu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		case <-m.loopDone:
			return CloneError(ErrMachineStopped, "", nil, nil)
		}
	}
}

// Stop stops accepting events, cancels running actions and waits for the
// loop and actions to finish or ctx to end.
func (m *Machine[S, E]) Stop(ctx context.Context) error {
	m.queueMu.Lock()
	if m.stopped {
		m.queueMu.Unlock()
		return nil
	}
	m.stopped = true
	m.trackLocked(-len(m.queue))
	m.queue = nil
	m.queueMu.Unlock()

	m.cancel()

	done := make(chan struct{})
	go func() {
		<-m.loopDone
		m.actions.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
