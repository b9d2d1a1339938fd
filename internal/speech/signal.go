// Package speech carries the upstream "speech resumed" signal from the
// segmenter to playback.
//
// The segmenter is the only writer. Readers never queue events: they compare
// the current epoch with the one they last observed, so any number of
// resumes between two reads collapse into one.
package speech

import (
	"sync"
	"sync/atomic"
	"time"
)

// Signal reports speaker activity. The zero value is not usable; call
// [NewSignal].
type Signal struct {
	epoch   atomic.Uint64
	active  atomic.Bool
	lastEnd atomic.Int64 // UnixNano; zero when speech never ended

	mu      sync.Mutex
	changed chan struct{}
}

// NewSignal returns an inactive Signal at epoch zero.
func NewSignal() *Signal {
	return &Signal{changed: make(chan struct{})}
}

// Resume records a speech onset: the epoch advances and the speaker is
// marked active.
func (s *Signal) Resume() {
	s.epoch.Add(1)
	s.active.Store(true)
	s.notify()
}

// End records the end of speech at the given time.
func (s *Signal) End(at time.Time) {
	s.lastEnd.Store(at.UnixNano())
	s.active.Store(false)
	s.notify()
}

// Epoch returns the number of Resume calls so far.
func (s *Signal) Epoch() uint64 { return s.epoch.Load() }

// Active reports whether the speaker is currently talking.
func (s *Signal) Active() bool { return s.active.Load() }

// LastEnd returns when speech last ended, or the zero time.
func (s *Signal) LastEnd() time.Time {
	ns := s.lastEnd.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Changed returns a channel that is closed on the next Resume or End.
func (s *Signal) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

func (s *Signal) notify() {
	s.mu.Lock()
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
}
