// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock parameter instead of calling time.Now,
// time.After, time.NewTicker, or time.Sleep directly. Real() provides
// standard library behavior; Fake() provides a deterministic clock that
// advances only when Advance is called.
//
// When a goroutine calls Sleep, After, or NewTicker on a FakeClock, it
// registers a pending waiter. Tests use WaitForWaiters to block until a
// specific number of waiters are registered before calling Advance,
// which removes the race between timer registration and time
// advancement that plagues tests using real sleeps for synchronization.
// The watch-stream heartbeat tests are the main consumer.
package clock
