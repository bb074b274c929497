package scheduler

import (
	"sync"
	"testing"
	"time"
)

// fakeClock is an injectable Clock under test control. Its Now() tracks
// real wall-clock time plus an offset, rather than a frozen instant: the
// engine's driver loop sleeps on a real time.Timer sized from
// wakeup.Sub(now), so a clock that never advances in real time would
// leave every future wakeup permanently in the future and the driver
// would never fire. Set/Advance move the offset, letting tests anchor a
// schedule at an arbitrary instant (e.g. "2026-01-01") while still
// letting real time carry it forward.
type fakeClock struct {
	mu     sync.Mutex
	offset time.Duration
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{offset: time.Until(start)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Add(c.offset)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = time.Until(t)
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += d
}

func TestFakeClockAdvanceMovesNowByTheGivenDuration(t *testing.T) {
	c := newFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	before := c.Now()

	c.Advance(time.Hour)

	after := c.Now()
	if got := after.Sub(before); got < time.Hour || got > time.Hour+time.Second {
		t.Errorf("Now() advanced by %v, want ~1h", got)
	}
}
