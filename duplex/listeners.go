package duplex

import (
	"sync"

	"github.com/rs/zerolog"
)

// ListenerHandle identifies a previously registered listener so it can be
// removed later. The zero value never refers to a real registration.
type ListenerHandle uint64

// listenerSet is an insertion-irrelevant set of callables, keyed by an
// opaque handle rather than by identity (Go function values are not
// comparable). Add is O(1) amortized; Remove scans the registration order
// and is linear in the number of listeners. notifyEach copies the current
// set before iterating so a listener that adds/removes during dispatch
// never corrupts that dispatch, per spec.md §9.
type listenerSet[T any] struct {
	mu     sync.Mutex
	next   uint64
	byID   map[ListenerHandle]T
	order  []ListenerHandle
	logger zerolog.Logger
	what   string
}

func newListenerSet[T any](logger zerolog.Logger, what string) *listenerSet[T] {
	return &listenerSet[T]{
		byID:   make(map[ListenerHandle]T),
		logger: logger,
		what:   what,
	}
}

func (s *listenerSet[T]) add(fn T) ListenerHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	h := ListenerHandle(s.next)
	s.byID[h] = fn
	s.order = append(s.order, h)
	return h
}

func (s *listenerSet[T]) remove(h ListenerHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[h]; !ok {
		return
	}
	delete(s.byID, h)
	for i, id := range s.order {
		if id == h {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *listenerSet[T]) empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order) == 0
}

// snapshot returns the currently registered listeners in registration
// order, safe to range over after releasing the lock.
func (s *listenerSet[T]) snapshot() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]T, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// notifyEach invokes call(listener) for every registered listener,
// isolating panics: a listener that panics is logged and does not stop
// later listeners from running.
func notifyEach[T any](s *listenerSet[T], call func(T)) {
	for _, fn := range s.snapshot() {
		invokeIsolated(s.logger, s.what, fn, call)
	}
}

func invokeIsolated[T any](logger zerolog.Logger, what string, fn T, call func(T)) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Str("listener", what).Interface("panic", r).Msg("listener panicked")
		}
	}()
	call(fn)
}
