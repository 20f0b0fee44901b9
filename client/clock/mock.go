package clock

import (
	"fmt"
	"sync"
	"time"
)

// Mock is a Clock whose time only moves when Set or Add is called. Timers
// and tickers created from it fire synchronously from within Set/Add.
type Mock struct {
	mu     sync.Mutex
	now    time.Time
	timers map[*mockTimer]struct{}
}

var _ Clock = &Mock{}

// NewMock returns a new mocked Clock positioned at the zero time.
func NewMock() *Mock {
	return &Mock{
		timers: map[*mockTimer]struct{}{},
	}
}

// Now implements the Clock interface.
func (m *Mock) Now() time.Time {
	m.mu.Lock()
	now := m.now
	m.mu.Unlock()

	return now
}

// Set moves the current time forward to now, firing every timer whose
// deadline has been reached. Moving time backwards panics.
func (m *Mock) Set(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Before(m.now) {
		panic(fmt.Sprintf("cannot move mock time backwards: %s < %s", now, m.now))
	}

	m.now = now

	for timer := range m.timers {
		timer.advanceTo(now)
	}
}

// Add moves the current time forward by d and returns the new time.
func (m *Mock) Add(d time.Duration) time.Time {
	ts := m.Now().Add(d)
	m.Set(ts)

	return ts
}

// NewTimer implements the Clock interface.
func (m *Mock) NewTimer(d time.Duration) Timer {
	return m.newTimer(d, false)
}

// NewTicker implements the Clock interface.
func (m *Mock) NewTicker(d time.Duration) Ticker {
	return &mockTickerWrapper{m.newTimer(d, true)}
}

func (m *Mock) newTimer(d time.Duration, periodic bool) *mockTimer {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := &mockTimer{
		mock:     m,
		periodic: periodic,
		deadline: m.now.Add(d),
		d:        d,
		c:        make(chan time.Time, 1),
	}

	m.timers[t] = struct{}{}

	return t
}

type mockTimer struct {
	mock     *Mock
	periodic bool

	mu       sync.Mutex
	deadline time.Time
	d        time.Duration
	stopped  bool
	c        chan time.Time
}

func (t *mockTimer) C() <-chan time.Time {
	return t.c
}

// advanceTo delivers all fires due at ts. The channel has capacity one and
// sends never block, matching the time package semantics.
func (t *mockTimer) advanceTo(ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for !t.stopped && !t.deadline.After(ts) {
		select {
		case t.c <- t.deadline:
		default:
		}

		if !t.periodic {
			t.stopped = true

			break
		}

		t.deadline = t.deadline.Add(t.d)
	}
}

func (t *mockTimer) Stop() bool {
	t.mu.Lock()
	justStopped := !t.stopped
	t.stopped = true
	t.mu.Unlock()

	return justStopped
}

func (t *mockTimer) Reset(d time.Duration) {
	now := t.mock.Now()

	t.mu.Lock()
	t.deadline = now.Add(d)
	t.d = d
	t.stopped = false
	t.mu.Unlock()
}

// mockTickerWrapper adapts mockTimer to the Ticker interface, whose Stop
// does not return a boolean.
type mockTickerWrapper struct {
	*mockTimer
}

func (t *mockTickerWrapper) Stop() {
	t.mockTimer.Stop()
}
