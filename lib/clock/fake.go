// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

// Fake returns a FakeClock initialized to the given time. Time stands
// still until Advance is called. All timer, ticker, and sleep
// operations register pending waiters that fire when the clock
// advances past their deadline.
//
// FakeClock is safe for concurrent use by multiple goroutines.
func Fake(initial time.Time) *FakeClock {
	clock := &FakeClock{current: initial}
	clock.waitersChanged = sync.NewCond(&clock.mu)
	return clock
}

// FakeClock is a deterministic Clock for testing. Time advances only
// when Advance is called. Timers, tickers, and sleeps block until the
// clock is advanced past their deadline.
type FakeClock struct {
	mu             sync.Mutex
	current        time.Time
	waiters        []*fakeWaiter
	waitersChanged *sync.Cond
}

// fakeWaiter represents a pending timer, ticker, or sleep operation.
type fakeWaiter struct {
	deadline time.Time

	// channel receives the fire time. Capacity 1; ticker ticks that
	// find the channel full are dropped, matching time.Ticker.
	channel chan time.Time

	// interval is non-zero for ticker waiters. After firing, the
	// waiter is rescheduled at deadline + interval.
	interval time.Duration

	// stopped is set by Ticker.Stop. Stopped waiters are skipped
	// during Advance and garbage-collected.
	stopped bool

	// fired marks one-shot waiters (After, Sleep) that already
	// delivered, preventing double-firing on overlapping Advances.
	fired bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After returns a channel that receives after duration d elapses. If
// d <= 0, the channel receives immediately without registering a
// waiter.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.current
		return channel
	}

	c.addWaiter(&fakeWaiter{
		deadline: c.current.Add(d),
		channel:  channel,
	})
	return channel
}

// NewTicker returns a Ticker firing every d once the clock advances
// past each successive deadline. Panics if d <= 0, matching
// time.NewTicker.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	waiter := &fakeWaiter{
		deadline: c.current.Add(d),
		channel:  make(chan time.Time, 1),
		interval: d,
	}
	c.addWaiter(waiter)

	return &Ticker{
		C: waiter.channel,
		stopFunc: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			waiter.stopped = true
		},
	}
}

// Sleep blocks until the clock advances past the current time plus d.
// Returns immediately if d <= 0.
func (c *FakeClock) Sleep(d time.Duration) {
	<-c.After(d)
}

// Advance moves the fake time forward by d, firing every waiter whose
// deadline falls within the advanced window in deadline order. Ticker
// waiters are rescheduled and may fire multiple times during a single
// large Advance.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := c.current.Add(d)

	for {
		next := c.nextDeadline(target)
		if next == nil {
			break
		}
		c.current = next.deadline
		next.fire()
		if next.interval > 0 {
			next.deadline = next.deadline.Add(next.interval)
		}
	}

	c.current = target
	c.compactWaiters()
}

// WaitForWaiters blocks until at least n waiters (sleeps, timers,
// tickers) are registered. Use this to synchronize with a goroutine
// that is about to block on the clock before calling Advance.
func (c *FakeClock) WaitForWaiters(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingLocked() < n {
		c.waitersChanged.Wait()
	}
}

// addWaiter appends a waiter and wakes WaitForWaiters callers. Caller
// must hold c.mu.
func (c *FakeClock) addWaiter(w *fakeWaiter) {
	c.waiters = append(c.waiters, w)
	c.waitersChanged.Broadcast()
}

// pendingLocked counts live waiters. Caller must hold c.mu.
func (c *FakeClock) pendingLocked() int {
	count := 0
	for _, waiter := range c.waiters {
		if !waiter.stopped && !waiter.fired {
			count++
		}
	}
	return count
}

// nextDeadline returns the live waiter with the earliest deadline at
// or before target, or nil when none remain. Caller must hold c.mu.
func (c *FakeClock) nextDeadline(target time.Time) *fakeWaiter {
	var next *fakeWaiter
	for _, waiter := range c.waiters {
		if waiter.stopped || waiter.fired {
			continue
		}
		if waiter.deadline.After(target) {
			continue
		}
		if next == nil || waiter.deadline.Before(next.deadline) {
			next = waiter
		}
	}
	return next
}

// compactWaiters drops fired and stopped waiters. Caller must hold
// c.mu.
func (c *FakeClock) compactWaiters() {
	live := c.waiters[:0]
	for _, waiter := range c.waiters {
		if !waiter.stopped && !waiter.fired {
			live = append(live, waiter)
		}
	}
	c.waiters = live
}

// fire delivers the waiter's deadline on its channel. One-shot waiters
// are marked fired; ticker deliveries that find the channel full are
// dropped.
func (w *fakeWaiter) fire() {
	select {
	case w.channel <- w.deadline:
	default:
	}
	if w.interval == 0 {
		w.fired = true
	}
}
