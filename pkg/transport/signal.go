package transport

import "time"

// Signal is a readiness notification holding at most one pending token.
// Notify never blocks; Wait consumes the token. Waiters must re-check their
// condition after Wait returns, and check it before waiting.
type Signal struct {
	ch chan struct{}
}

// NewSignal creates a signal without a pending token.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Notify sets the token. It is safe on a nil Signal.
func (s *Signal) Notify() {
	if s == nil {
		return
	}
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until notified or until timeout passes. It reports whether a
// token was consumed.
func (s *Signal) Wait(timeout time.Duration) bool {
	select {
	case <-s.ch:
		return true
	default:
	}
	if timeout <= 0 {
		return false
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-s.ch:
		return true
	case <-t.C:
		return false
	}
}
