// ABOUTME: Time source abstraction used by the scheduler for wall-clock reads
// ABOUTME: Real reads the system clock; Manual is set explicitly by tests

package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time. All scheduler components read time through
// a Clock so that deadlines and heartbeat windows can be driven deterministically.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// Real returns a Clock backed by the system clock, in UTC.
func Real() Clock {
	return realClock{}
}

// Manual is a Clock whose time only moves when told to.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual creates a Manual clock starting at t.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to t. Moving backwards is allowed; callers that need
// monotonic behavior should only use Advance.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// Advance moves the clock forward by d and returns the new time.
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}
