// SPDX-License-Identifier: MIT

package fault

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	err := New(KindNotFound, "node.loadTrack", "no match")
	assert.Equal(t, KindNotFound, KindOf(err))

	wrapped := fmt.Errorf("handling play: %w", err)
	assert.Equal(t, KindNotFound, KindOf(wrapped), "Kind must survive fmt wrapping")

	assert.Equal(t, KindInternal, KindOf(errors.New("untagged")))
}

func TestWrapNil(t *testing.T) {
	err := Wrap(KindBackend, "store.enqueue", nil)
	assert.NoError(t, err, "wrapping a nil cause must yield a nil error, not a typed-nil value")
}

func TestErrorString(t *testing.T) {
	err := Wrap(KindBackend, "store.clearAll", errors.New("disk full"))
	assert.Equal(t, "store.clearAll: backend: disk full", err.Error())
}

func TestClassifyTable(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
		severity  Severity
	}{
		{"validation", New(KindValidation, "cmd.play", "empty query"), false, SeverityInfo},
		{"permission", New(KindPermission, "store.isAllowed", "tenant not allowlisted"), false, SeverityWarning},
		{"not found", New(KindNotFound, "node.loadTrack", "no match"), false, SeverityInfo},
		{"network", New(KindNetwork, "node.dial", "connection refused"), true, SeverityWarning},
		{"remote peer", New(KindRemotePeer, "node.play", "internal node error"), true, SeverityWarning},
		{"backend throttled", New(KindBackendThrottled, "store.enqueue", "txn conflict"), true, SeverityWarning},
		{"backend denied", New(KindBackendDenied, "store.open", "bad credentials"), false, SeverityCritical},
		{"backend", New(KindBackend, "store.dequeue", "io error"), true, SeverityError},
		{"internal", New(KindInternal, "orchestrator", "nil session"), false, SeverityError},
		{"untagged", errors.New("something"), false, SeverityError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Classify(tc.err)
			assert.Equal(t, tc.retryable, c.Retryable)
			assert.Equal(t, tc.severity, c.Severity)
		})
	}
}

func TestClassifyRateLimitCarriesDelay(t *testing.T) {
	err := &Error{Kind: KindRateLimit, Op: "node.loadTrack", RetryAfter: 1500 * time.Millisecond, Err: errors.New("429")}
	c := Classify(err)
	require.True(t, c.Retryable)
	assert.Equal(t, 1500*time.Millisecond, c.RetryAfter)
}

func TestClassifyContextExpiry(t *testing.T) {
	c := Classify(fmt.Errorf("node.play: %w", context.Canceled))
	assert.False(t, c.Retryable, "cancelled work must not be retried")

	c = Classify(context.DeadlineExceeded)
	assert.False(t, c.Retryable)

	// A per-call timeout tagged at the node boundary stays retryable even
	// though a deadline error sits underneath.
	tagged := Wrap(KindNetwork, "node.play", context.DeadlineExceeded)
	c = Classify(tagged)
	assert.True(t, c.Retryable)
}
