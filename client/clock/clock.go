package clock

import "time"

// Clock abstracts time so that components arming timers can be tested
// deterministically with Mock.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
	NewTicker(d time.Duration) Ticker
}

// Timer fires once on its channel after the configured duration.
type Timer interface {
	C() <-chan time.Time
	// Stop prevents the timer from firing. It returns true when the call
	// stops the timer, false when the timer already fired or was stopped.
	Stop() bool
	Reset(d time.Duration)
}

// Ticker fires periodically on its channel.
type Ticker interface {
	C() <-chan time.Time
	Stop()
	Reset(d time.Duration)
}

// New returns a Clock backed by the time package.
func New() Clock {
	return clock{}
}

type clock struct{}

func (c clock) Now() time.Time {
	return time.Now()
}

func (c clock) NewTimer(d time.Duration) Timer {
	return &timer{timer: time.NewTimer(d)}
}

func (c clock) NewTicker(d time.Duration) Ticker {
	return &ticker{ticker: time.NewTicker(d)}
}

type timer struct {
	timer *time.Timer
}

var _ Timer = &timer{}

func (t *timer) C() <-chan time.Time {
	return t.timer.C
}

func (t *timer) Stop() bool {
	return t.timer.Stop()
}

func (t *timer) Reset(d time.Duration) {
	t.timer.Reset(d)
}

type ticker struct {
	ticker *time.Ticker
}

var _ Ticker = &ticker{}

func (t *ticker) C() <-chan time.Time {
	return t.ticker.C
}

func (t *ticker) Stop() {
	t.ticker.Stop()
}

func (t *ticker) Reset(d time.Duration) {
	t.ticker.Reset(d)
}
