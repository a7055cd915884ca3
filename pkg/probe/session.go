package probe

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// session is one probe run. It settles exactly once.
type session struct {
	target string
	start  time.Time
	cancel context.CancelFunc

	once      sync.Once
	done      chan struct{}
	reachable bool
	timedOut  bool
	polls     atomic.Int32
}

func newSession(target string, start time.Time, cancel context.CancelFunc) *session {
	return &session{
		target: target,
		start:  start,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// settle records the outcome and reports whether this call decided it.
// Later calls are ignored.
func (s *session) settle(reachable, timedOut bool) bool {
	settled := false
	s.once.Do(func() {
		s.reachable = reachable
		s.timedOut = timedOut
		settled = true
		close(s.done)
		s.cancel()
	})
	return settled
}

// isSettled reports whether the session has an outcome.
func (s *session) isSettled() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
