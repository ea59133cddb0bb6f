package trigger

import (
	"sync/atomic"
	"time"
)

// State is shared between ambient playback and the sequencing loop: the
// ambient interrupt flag and the timer deadline.
type State struct {
	interrupt atomic.Bool
	deadline  atomic.Int64 // unix nanos, 0 = unset
}

// SetInterrupt raises the flag, returning true only if it was not already set
func (s *State) SetInterrupt() bool {
	return s.interrupt.CompareAndSwap(false, true)
}

// ClearInterrupt lowers the flag after the vocal cycle has been serviced
func (s *State) ClearInterrupt() {
	s.interrupt.Store(false)
}

// Interrupted reports whether an unserviced interrupt is pending
func (s *State) Interrupted() bool {
	return s.interrupt.Load()
}

// SetDeadline sets the absolute timer deadline
func (s *State) SetDeadline(t time.Time) {
	s.deadline.Store(t.UnixNano())
}

// ClearDeadline removes the deadline
func (s *State) ClearDeadline() {
	s.deadline.Store(0)
}

// Deadline returns the deadline, false when unset
func (s *State) Deadline() (time.Time, bool) {
	ns := s.deadline.Load()
	if ns == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

// DeadlinePassed reports whether now is at or after a set deadline
func (s *State) DeadlinePassed(now time.Time) bool {
	d, ok := s.Deadline()
	return ok && !now.Before(d)
}
