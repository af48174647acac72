package machine

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Transition describes one processed event.
type Transition[S any] struct {
	EventID  string
	Event    Event
	Previous S
	Current  S
	Ignored  bool
	At       time.Time
}

// Listener observes transitions. It runs on the machine's processing
// goroutine and must not block; dispatching from it is allowed.
type Listener[S any] func(Transition[S])

// Subscription removes a listener.
type Subscription interface {
	Token() string
	Unsubscribe()
}

// Registry stores listeners keyed by token and delivers in registration order.
type Registry[S any] struct {
	mu        sync.RWMutex
	order     []string
	listeners map[string]Listener[S]
}

// NewRegistry builds an empty registry.
func NewRegistry[S any]() *Registry[S] {
	return &Registry[S]{listeners: make(map[string]Listener[S])}
}

// Add registers listener under a generated token.
func (r *Registry[S]) Add(listener Listener[S]) Subscription {
	return r.AddWithToken(uuid.NewString(), listener)
}

// AddWithToken registers listener under token, replacing any listener that
// already holds it.
func (r *Registry[S]) AddWithToken(token string, listener Listener[S]) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.listeners[token]; !exists {
		r.order = append(r.order, token)
	}
	r.listeners[token] = listener
	return &listenerSub[S]{registry: r, token: token}
}

// Remove drops the listener for token. It reports whether one existed.
func (r *Registry[S]) Remove(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.listeners[token]; !ok {
		return false
	}
	delete(r.listeners, token)
	next := make([]string, 0, len(r.order))
	for _, t := range r.order {
		if t != token {
			next = append(next, t)
		}
	}
	r.order = next
	return true
}

// Len returns the number of registered listeners.
func (r *Registry[S]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}

// Notify delivers tr to a snapshot of the current listeners. Listeners added
// during delivery are not called for tr.
func (r *Registry[S]) Notify(tr Transition[S]) {
	r.mu.RLock()
	snapshot := make([]string, len(r.order))
	copy(snapshot, r.order)
	r.mu.RUnlock()

	for _, token := range snapshot {
		r.mu.RLock()
		listener, ok := r.listeners[token]
		r.mu.RUnlock()
		if !ok || listener == nil {
			continue
		}
		listener(tr)
	}
}

type listenerSub[S any] struct {
	registry *Registry[S]
	token    string
	once     sync.Once
}

func (s *listenerSub[S]) Token() string { return s.token }

func (s *listenerSub[S]) Unsubscribe() {
	s.once.Do(func() {
		s.registry.Remove(s.token)
	})
}
