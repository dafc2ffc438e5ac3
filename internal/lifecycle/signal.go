package lifecycle

import (
	"context"
	"sync"
)

// ExitSignal is a one-way cancellation latch shared by every task of a service.
// The transition from active to triggered happens at most once; all current and
// future observers see it.
type ExitSignal struct {
	mu        sync.Mutex
	triggered bool
	cause     error
	done      chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// NewExitSignal creates an active exit signal.
func NewExitSignal() *ExitSignal {
	ctx, cancel := context.WithCancel(context.Background())
	return &ExitSignal{
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Trigger moves the signal to the triggered state and wakes all waiters.
// The first caller's cause is kept; later calls are no-ops.
// Returns true only for the call that performed the transition.
func (s *ExitSignal) Trigger(cause error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.triggered {
		return false
	}
	s.triggered = true
	s.cause = cause
	close(s.done)
	s.cancel()
	return true
}

// IsTriggered reports whether the signal has been triggered.
func (s *ExitSignal) IsTriggered() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed once the signal is triggered.
func (s *ExitSignal) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the signal is triggered or ctx is done.
// It returns ctx.Err() if ctx ended first, nil otherwise.
func (s *ExitSignal) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cause returns the cause recorded by the first Trigger call.
// A nil cause after triggering means an external stop request.
func (s *ExitSignal) Cause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// Context returns a context that is cancelled when the signal triggers.
// Every task runs with a context derived from it.
func (s *ExitSignal) Context() context.Context {
	return s.ctx
}

// whileActive runs fn while holding the latch lock, but only if the signal has
// not been triggered yet. Used to make task registration and triggering mutually
// exclusive.
func (s *ExitSignal) whileActive(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.triggered {
		return false
	}
	fn()
	return true
}
