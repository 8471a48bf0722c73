package clock

import (
	"sync"
	"time"
)

// Manual is a clock that only moves when told to. Waiting on it (After, Sleep)
// moves it forward by the waited duration and returns immediately, so retry
// loops with backoff run instantly while still observing the elapsed time.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual constructs a Manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start.UTC()}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// After advances the clock by d and returns a channel that already holds the
// new time.
func (m *Manual) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- m.Advance(d)
	return ch
}

// Sleep advances the clock by d.
func (m *Manual) Sleep(d time.Duration) {
	m.Advance(d)
}

// Advance moves time forward by d. Negative durations are ignored.
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d > 0 {
		m.now = m.now.Add(d)
	}
	return m.now
}

// Set jumps to t. Moving backwards is allowed, which is useful to simulate
// clock skew between processes.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t.UTC()
	m.mu.Unlock()
}
