// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock lets the credential stack read and wait on time through
// an interface so tests can drive it by hand.
//
// Components hold a [Clock] field. Production wiring passes [Real];
// tests pass a [FakeClock] from [Fake] and move time with
// [FakeClock.Advance]. The cache garbage collector ticks on it, the
// environment reader stamps and bounds its futures with it, and bound
// identities measure their age against it.
//
// A goroutine that blocks on a fake timer registers a waiter first.
// Tests call [FakeClock.WaitForTimers] before advancing so the wakeup
// cannot be lost to a scheduling race.
package clock
