// Package clock provides the monotonic time source used by all timing code.
package clock

import (
	"sync"
	"time"
)

// Clock returns monotonic timestamps as offsets from an arbitrary epoch.
// Only differences between two readings of the same Clock are meaningful.
type Clock interface {
	Now() time.Duration
}

// Monotonic reads the operating system's monotonic clock.
type Monotonic struct{}

// New returns the default monotonic clock.
func New() Clock {
	return Monotonic{}
}

// Now returns the current monotonic time.
func (Monotonic) Now() time.Duration {
	return now()
}

// Manual is a clock that only moves when told to. It is safe for concurrent use.
type Manual struct {
	mu  sync.Mutex
	cur time.Duration
}

// NewManual creates a manual clock starting at start.
func NewManual(start time.Duration) *Manual {
	return &Manual{cur: start}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

// Advance moves the clock forward by d. Negative values move it backwards,
// which tests use to simulate a misbehaving host clock.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.cur += d
	m.mu.Unlock()
}

// Set jumps the clock to t.
func (m *Manual) Set(t time.Duration) {
	m.mu.Lock()
	m.cur = t
	m.mu.Unlock()
}
