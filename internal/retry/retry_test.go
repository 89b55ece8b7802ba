// SPDX-License-Identifier: MIT

package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/playq/internal/fault"
)

// instrumented returns an executor whose sleeps are recorded instead of slept.
func instrumented(p Policy) (*Executor, *[]time.Duration) {
	e := New(p)
	slept := &[]time.Duration{}
	e.sleep = func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
	e.jitter = func(time.Duration) time.Duration { return 0 }
	return e, slept
}

func TestDoSucceedsFirstTry(t *testing.T) {
	e, slept := instrumented(DefaultPolicy())
	calls := 0
	out, err := Do(context.Background(), e, func(context.Context) (int, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, out)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *slept)
}

func TestDoNonRetryableInvokesOnce(t *testing.T) {
	e, slept := instrumented(DefaultPolicy())
	boom := fault.New(fault.KindPermission, "store.isAllowed", "denied")
	calls := 0
	_, err := Do(context.Background(), e, func(context.Context) (int, error) {
		calls++
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls, "non-retryable failures must not be retried")
	assert.Empty(t, *slept, "non-retryable failures must not sleep")
}

func TestDoExhaustsAttempts(t *testing.T) {
	e, slept := instrumented(Policy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2})
	boom := fault.New(fault.KindNetwork, "node.play", "connection reset")
	calls := 0
	_, err := Do(context.Background(), e, func(context.Context) (string, error) {
		calls++
		return "", boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls, "must invoke exactly MaxAttempts times")
	assert.Len(t, *slept, 2, "no sleep after the final attempt")
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, *slept)
}

func TestDoRecoversMidway(t *testing.T) {
	e, slept := instrumented(DefaultPolicy())
	calls := 0
	out, err := Do(context.Background(), e, func(context.Context) (string, error) {
		calls++
		if calls <= 2 {
			return "", fault.New(fault.KindBackendThrottled, "store.enqueue", "txn conflict")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, calls)
	assert.Len(t, *slept, 2, "exactly two delayed retries before success")
}

func TestDoHonoursExplicitRetryAfter(t *testing.T) {
	e, slept := instrumented(DefaultPolicy())
	limited := &fault.Error{Kind: fault.KindRateLimit, Op: "node.loadTrack", RetryAfter: 750 * time.Millisecond}
	calls := 0
	_, err := Do(context.Background(), e, func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, limited
		}
		return 7, nil
	})
	require.NoError(t, err)
	require.Len(t, *slept, 1)
	assert.Equal(t, 750*time.Millisecond, (*slept)[0], "peer-supplied delay overrides backoff")
}

func TestDoCancelledSleepAborts(t *testing.T) {
	e := New(Policy{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := Do(ctx, e, func(context.Context) (int, error) {
		calls++
		return 0, fault.New(fault.KindNetwork, "node.dial", "refused")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "cancelled context must stop the loop at the sleep")
}

func TestPolicyDelayCapped(t *testing.T) {
	p := Policy{MaxAttempts: 10, BaseDelay: 100 * time.Millisecond, MaxDelay: 500 * time.Millisecond, Multiplier: 3}
	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 300*time.Millisecond, p.Delay(2))
	assert.Equal(t, 500*time.Millisecond, p.Delay(3), "delay must cap at MaxDelay")
	assert.Equal(t, 500*time.Millisecond, p.Delay(8))
}
