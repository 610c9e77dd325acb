// Package testutil provides testing utilities for packline tests: an
// in-process fake of the fulfillment backend (REST and realtime) and small
// polling helpers for asynchronous assertions.
package testutil

import (
	"testing"
	"time"
)

// DefaultWait bounds how long WaitFor polls.
const DefaultWait = 3 * time.Second

// WaitFor polls cond until it returns true or DefaultWait elapses, then
// fails the test with msg.
func WaitFor(t testing.TB, msg string, cond func() bool) {
	t.Helper()
	if !Eventually(DefaultWait, cond) {
		t.Fatalf("timed out waiting for %s", msg)
	}
}

// Eventually polls cond every few milliseconds for up to timeout and
// reports whether it became true.
func Eventually(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Never polls cond for the whole duration and reports whether it stayed
// false throughout.
func Never(d time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
	return !cond()
}
