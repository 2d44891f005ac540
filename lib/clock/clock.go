// Copyright 2026 The Snapfold Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction so that
// retry and polling loops can be tested deterministically.
//
// Production code accepts a Clock instead of calling time.Now,
// time.After, or time.Sleep directly. Real() provides standard
// library behavior; Fake() provides a clock that advances only when
// Advance is called. When a goroutine under test calls Sleep or After
// on a FakeClock it registers a pending waiter; WaitForTimers lets
// the test block until the waiter exists before advancing, removing
// the registration race without real sleeps.
package clock

import "time"

// Clock abstracts the time operations used by polling and timeout
// logic.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once
	// duration d has elapsed. If d <= 0 the channel receives
	// immediately.
	After(d time.Duration) <-chan time.Time

	// Sleep pauses the calling goroutine for at least duration d.
	Sleep(d time.Duration)
}
