package sandbox

import (
	"context"
	"sync"
)

// Signal is a one-shot completion cell with any number of observers.
// Waiters registering after the signal has fired get the stored result
// immediately; the signal fires exactly once and later fires are
// ignored.
type Signal[T any] struct {
	mu    sync.Mutex
	fired bool
	value T
	err   error
	done  chan struct{}
}

// NewSignal creates an unfired signal.
func NewSignal[T any]() *Signal[T] {
	return &Signal[T]{done: make(chan struct{})}
}

// Fire resolves the signal. Only the first call has any effect.
func (s *Signal[T]) Fire(value T, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fired {
		return
	}
	s.fired = true
	s.value = value
	s.err = err
	close(s.done)
}

// Fired reports whether the signal has resolved.
func (s *Signal[T]) Fired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired
}

// Wait blocks until the signal fires or the context ends.
func (s *Signal[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.value, s.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
