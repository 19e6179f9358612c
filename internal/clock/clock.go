package clock

import (
	"sync"
	"time"
)

// Clock abstracts time-related functions so loops and retries can be driven
// deterministically in tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	Sleep(d time.Duration)
}

// Real implements Clock using the standard library.
type Real struct{}

// Now returns the current UTC time.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// After mirrors time.After while satisfying the Clock interface.
func (Real) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Sleep blocks for at least the supplied duration.
func (Real) Sleep(d time.Duration) {
	time.Sleep(d)
}

// Manual is a clock that only moves when told to. Sleep and After advance the
// clock immediately instead of blocking, which keeps retry and backoff paths
// fast in tests while still recording how long the caller asked to wait.
type Manual struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

// NewManual constructs a Manual clock starting at the supplied time.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start.UTC()}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves time forward by d and returns the new time.
func (m *Manual) Advance(d time.Duration) time.Time {
	if d < 0 {
		d = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}

// After advances the clock by d and returns an already-fired channel.
func (m *Manual) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- m.sleep(d)
	return ch
}

// Sleep advances the clock by d without blocking.
func (m *Manual) Sleep(d time.Duration) {
	m.sleep(d)
}

// Slept returns every duration passed to Sleep or After, in call order.
func (m *Manual) Slept() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]time.Duration, len(m.slept))
	copy(out, m.slept)
	return out
}

func (m *Manual) sleep(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slept = append(m.slept, d)
	if d > 0 {
		m.now = m.now.Add(d)
	}
	return m.now
}
