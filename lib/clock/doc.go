// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides injectable time for code that waits.
//
// Components that back off or time out take a [Clock] instead of
// calling the time package. Production code passes [Real]; tests pass
// [Fake] and move time with [FakeClock.Advance]:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go doRetryingWork(c)
//	c.WaitForTimers(1)         // the goroutine is now waiting
//	c.Advance(2 * time.Second) // and is released deterministically
package clock
