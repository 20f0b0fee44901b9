package clock_test

import (
	"testing"
	"time"

	"github.com/bleq/bleq/client/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMock_TimerFires(t *testing.T) {
	m := clock.NewMock()

	timer := m.NewTimer(10 * time.Second)

	select {
	case <-timer.C():
		t.Fatal("timer fired before deadline")
	default:
	}

	m.Add(9 * time.Second)

	select {
	case <-timer.C():
		t.Fatal("timer fired before deadline")
	default:
	}

	m.Add(time.Second)

	select {
	case <-timer.C():
	default:
		t.Fatal("timer did not fire at deadline")
	}
}

func TestMock_TimerFiresOnce(t *testing.T) {
	m := clock.NewMock()

	timer := m.NewTimer(time.Second)

	m.Add(5 * time.Second)

	<-timer.C()

	select {
	case <-timer.C():
		t.Fatal("timer fired twice")
	default:
	}
}

func TestMock_TimerStop(t *testing.T) {
	m := clock.NewMock()

	timer := m.NewTimer(time.Second)

	require.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	m.Add(2 * time.Second)

	select {
	case <-timer.C():
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestMock_TimerReset(t *testing.T) {
	m := clock.NewMock()

	timer := m.NewTimer(time.Second)
	m.Add(time.Second)
	<-timer.C()

	timer.Reset(3 * time.Second)

	m.Add(2 * time.Second)

	select {
	case <-timer.C():
		t.Fatal("timer fired before reset deadline")
	default:
	}

	m.Add(time.Second)

	select {
	case <-timer.C():
	default:
		t.Fatal("reset timer did not fire")
	}
}

func TestMock_Ticker(t *testing.T) {
	m := clock.NewMock()

	ticker := m.NewTicker(time.Second)
	defer ticker.Stop()

	m.Add(time.Second)
	<-ticker.C()

	m.Add(time.Second)

	select {
	case <-ticker.C():
	default:
		t.Fatal("ticker did not keep ticking")
	}
}

func TestMock_TimeBackwardsPanics(t *testing.T) {
	m := clock.NewMock()
	m.Add(time.Minute)

	assert.Panics(t, func() {
		m.Set(time.Time{})
	})
}

func TestMock_Now(t *testing.T) {
	m := clock.NewMock()

	start := m.Now()
	ts := m.Add(time.Minute)

	assert.Equal(t, time.Minute, ts.Sub(start))
	assert.Equal(t, ts, m.Now())
}
