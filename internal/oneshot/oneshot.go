// Package oneshot provides a single-assignment signal that any number of
// goroutines can wait on.
package oneshot

import "sync"

// Signal is resolved at most once. The zero value is not usable; use New.
type Signal struct {
	once sync.Once
	done chan struct{}
}

// New returns an unresolved Signal.
func New() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Fire resolves the signal if it is still unresolved. It reports whether this
// call performed the resolution; later calls are no-ops and return false.
func (s *Signal) Fire() bool {
	fired := false
	s.once.Do(func() {
		close(s.done)
		fired = true
	})
	return fired
}

// Done returns a channel that is closed once the signal fires.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Fired reports whether the signal has been resolved.
func (s *Signal) Fired() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
