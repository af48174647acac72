package machine

import "context"

// Event is a typed message fed into a Machine.
type Event interface {
	Type() string
}

// Dispatcher accepts events for asynchronous, ordered processing.
type Dispatcher interface {
	// Dispatch enqueues evt and returns its correlation id. It never blocks.
	Dispatch(evt Event) string
}

// Action is a side effect requested by a resolver. Actions report their
// outcome by dispatching events; they never return errors to the machine.
type Action[E any] interface {
	Name() string
	Execute(ctx context.Context, d Dispatcher, env E)
}

type sequenceKey struct{}

// ActionSequence returns the position of the running action in the order
// its machine scheduled actions. Actions scheduled by later reductions
// always get higher values.
func ActionSequence(ctx context.Context) (uint64, bool) {
	seq, ok := ctx.Value(sequenceKey{}).(uint64)
	return seq, ok
}

// ActionFunc adapts a function to an Action.
type ActionFunc[E any] struct {
	ActionName string
	Fn         func(ctx context.Context, d Dispatcher, env E)
}

func (a ActionFunc[E]) Name() string { return a.ActionName }

func (a ActionFunc[E]) Execute(ctx context.Context, d Dispatcher, env E) {
	if a.Fn != nil {
		a.Fn(ctx, d, env)
	}
}

// Resolution is the outcome of resolving one event against one state.
type Resolution[S any, E any] struct {
	State   S
	Actions []Action[E]
	// Ignored marks an explicit no-op: the event has no meaning in State.
	Ignored bool
}

// Resolve builds a handled resolution.
func Resolve[S any, E any](state S, actions ...Action[E]) Resolution[S, E] {
	return Resolution[S, E]{State: state, Actions: actions}
}

// Ignore builds a no-op resolution that keeps state.
func Ignore[S any, E any](state S) Resolution[S, E] {
	return Resolution[S, E]{State: state, Ignored: true}
}

// Resolver is a pure, total transition function.
type Resolver[S any, E any] interface {
	Resolve(state S, evt Event) Resolution[S, E]
}

// ResolverFunc adapts a function to a Resolver.
type ResolverFunc[S any, E any] func(state S, evt Event) Resolution[S, E]

func (f ResolverFunc[S, E]) Resolve(state S, evt Event) Resolution[S, E] {
	return f(state, evt)
}
