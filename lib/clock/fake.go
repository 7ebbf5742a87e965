// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"slices"
	"sync"
	"time"
)

// FakeClock is a Clock whose time only moves when Advance is called.
// Retry backoff and telemetry timestamps use it in tests. It is safe
// for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []alarm // ordered by deadline, then registration
	changed *sync.Cond
}

type alarm struct {
	deadline time.Time
	fire     chan time.Time
}

// Fake returns a FakeClock stopped at start.
func Fake(start time.Time) *FakeClock {
	c := &FakeClock{now: start}
	c.changed = sync.NewCond(&c.mu)
	return c
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that receives the fake time once Advance has
// moved the clock d past now. Non-positive d is ready at once.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	fire := make(chan time.Time, 1)

	c.mu.Lock()
	defer c.mu.Unlock()
	if d <= 0 {
		fire <- c.now
		return fire
	}
	deadline := c.now.Add(d)
	at := len(c.pending)
	for at > 0 && c.pending[at-1].deadline.After(deadline) {
		at--
	}
	c.pending = slices.Insert(c.pending, at, alarm{deadline: deadline, fire: fire})
	c.changed.Broadcast()
	return fire
}

// Advance moves the clock forward by d. Every alarm due at the new time
// fires, earliest deadline first.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	due := 0
	for due < len(c.pending) && !c.pending[due].deadline.After(now) {
		due++
	}
	fired := slices.Clone(c.pending[:due])
	c.pending = slices.Delete(c.pending, 0, due)
	c.mu.Unlock()

	for _, a := range fired {
		a.fire <- now
	}
}

// WaitForTimers blocks until at least n calls to After are waiting on
// the clock.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.pending) < n {
		c.changed.Wait()
	}
}

// PendingCount returns how many alarms have not fired yet.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
