// Package testutil holds assertion helpers shared by claimsync tests.
package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Timeout bounds every asynchronous assertion.
const Timeout = 10 * time.Second

// Tick is the polling interval of the Eventually helpers.
const Tick = 10 * time.Millisecond

// AssertEventually wraps assert.Eventually with Timeout and Tick.
func AssertEventually(t *testing.T, condition func() bool, msgAndArgs ...any) bool {
	t.Helper()
	return assert.Eventually(t, condition, Timeout, Tick, msgAndArgs...)
}

// RequireEventually wraps require.Eventually with Timeout and Tick.
func RequireEventually(t *testing.T, condition func() bool, msgAndArgs ...any) {
	t.Helper()
	require.Eventually(t, condition, Timeout, Tick, msgAndArgs...)
}

// RequireReceive waits for one value on ch and fails the test after Timeout.
func RequireReceive[T any](t *testing.T, ch <-chan T, msgAndArgs ...any) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(Timeout):
		require.FailNow(t, "timed out waiting for a value", msgAndArgs...)
		var zero T
		return zero
	}
}
