package visualizer

import (
	"sync"
	"time"
)

// FrameID identifies a requested frame callback
type FrameID uint64

// FrameClock schedules one-shot per-frame callbacks, like a display refresh
type FrameClock interface {
	RequestFrame(fn func(time.Time)) FrameID
	CancelFrame(id FrameID)
}

// TickerClock fires frame callbacks at a fixed refresh rate
type TickerClock struct {
	interval time.Duration

	mu     sync.Mutex
	next   FrameID
	timers map[FrameID]*time.Timer
}

// NewTickerClock creates a clock refreshing fps times per second
func NewTickerClock(fps int) *TickerClock {
	if fps <= 0 {
		fps = 60
	}
	return &TickerClock{
		interval: time.Second / time.Duration(fps),
		timers:   make(map[FrameID]*time.Timer),
	}
}

// RequestFrame schedules fn for the next refresh
func (c *TickerClock) RequestFrame(fn func(time.Time)) FrameID {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.next++
	id := c.next
	c.timers[id] = time.AfterFunc(c.interval, func() {
		c.mu.Lock()
		_, pending := c.timers[id]
		delete(c.timers, id)
		c.mu.Unlock()

		if pending {
			fn(time.Now())
		}
	})
	return id
}

// CancelFrame cancels a pending callback
func (c *TickerClock) CancelFrame(id FrameID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.timers[id]; ok {
		t.Stop()
		delete(c.timers, id)
	}
}

// Pending returns the number of scheduled callbacks
func (c *TickerClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// ManualClock fires frames only when Tick is called
type ManualClock struct {
	mu      sync.Mutex
	next    FrameID
	pending map[FrameID]func(time.Time)
}

// NewManualClock creates a manual clock
func NewManualClock() *ManualClock {
	return &ManualClock{pending: make(map[FrameID]func(time.Time))}
}

func (c *ManualClock) RequestFrame(fn func(time.Time)) FrameID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	c.pending[c.next] = fn
	return c.next
}

func (c *ManualClock) CancelFrame(id FrameID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

// Tick runs the callbacks pending before the call and returns how many ran.
// Callbacks requested during the tick wait for the next one.
func (c *ManualClock) Tick(now time.Time) int {
	c.mu.Lock()
	due := c.pending
	c.pending = make(map[FrameID]func(time.Time))
	c.mu.Unlock()

	for _, fn := range due {
		fn(now)
	}
	return len(due)
}

// Pending returns the number of scheduled callbacks
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
