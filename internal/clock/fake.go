package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a manually advanced Clock. Time only moves when Advance
// is called.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	seq    int
	at     time.Time
	every  time.Duration // >0 for tickers
	fn     func()
	ch     chan time.Time
	active bool
}

// NewFake returns a FakeClock reading initial.
func NewFake(initial time.Time) *FakeClock {
	return &FakeClock{now: initial}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.addLocked(&fakeWaiter{at: c.now.Add(d), ch: ch, active: true})
	return ch
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	c.mu.Lock()
	if d <= 0 {
		c.mu.Unlock()
		f()
		return &Timer{stop: func() bool { return false }}
	}
	w := &fakeWaiter{at: c.now.Add(d), fn: f, active: true}
	c.addLocked(w)
	c.mu.Unlock()
	return &Timer{stop: func() bool { return c.cancel(w) }}
}

func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	ch := make(chan time.Time, 1)
	c.mu.Lock()
	w := &fakeWaiter{at: c.now.Add(d), every: d, ch: ch, active: true}
	c.addLocked(w)
	c.mu.Unlock()
	return &Ticker{C: ch, stop: func() { c.cancel(w) }}
}

// Advance moves the clock forward by d, firing every timer and ticker
// that falls due, in deadline order. AfterFunc callbacks run on the
// calling goroutine without the clock lock held.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		w := c.nextDueLocked(target)
		if w == nil {
			break
		}
		c.now = w.at
		if w.every > 0 {
			select {
			case w.ch <- w.at:
			default:
			}
			w.at = w.at.Add(w.every)
			continue
		}
		w.active = false
		c.removeLocked(w)
		if w.ch != nil {
			w.ch <- w.at
			continue
		}
		c.mu.Unlock()
		w.fn()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

// PendingCount reports how many timers and tickers are still armed.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func (c *FakeClock) addLocked(w *fakeWaiter) {
	c.seq++
	w.seq = c.seq
	c.waiters = append(c.waiters, w)
}

func (c *FakeClock) nextDueLocked(target time.Time) *fakeWaiter {
	sort.SliceStable(c.waiters, func(i, j int) bool {
		if c.waiters[i].at.Equal(c.waiters[j].at) {
			return c.waiters[i].seq < c.waiters[j].seq
		}
		return c.waiters[i].at.Before(c.waiters[j].at)
	})
	if len(c.waiters) == 0 || c.waiters[0].at.After(target) {
		return nil
	}
	return c.waiters[0]
}

func (c *FakeClock) cancel(w *fakeWaiter) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !w.active {
		return false
	}
	w.active = false
	c.removeLocked(w)
	return true
}

func (c *FakeClock) removeLocked(w *fakeWaiter) {
	for i, x := range c.waiters {
		if x == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}
