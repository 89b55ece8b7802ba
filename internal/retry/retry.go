// SPDX-License-Identifier: MIT

// Package retry executes fallible operations under a bounded
// exponential-backoff policy driven by fault classification.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/ManuGH/playq/internal/fault"
	"github.com/ManuGH/playq/internal/log"
	"github.com/ManuGH/playq/internal/metrics"
)

// Policy bounds the retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	JitterRange time.Duration // uniform random extra delay in [0, JitterRange)
}

// DefaultPolicy is tuned for short user-facing commands: three attempts,
// sub-second waits.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Multiplier:  2.0,
		JitterRange: 100 * time.Millisecond,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2.0
	}
	return p
}

// Delay computes the backoff before retry attempt `attempt` (1-based count of
// failures so far), without jitter.
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
		if time.Duration(d) >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// sleeper is injectable for tests; the default honours context cancellation.
type sleeper func(ctx context.Context, d time.Duration) error

func ctxSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Executor runs operations under a Policy.
type Executor struct {
	policy Policy
	sleep  sleeper
	jitter func(time.Duration) time.Duration
}

// New creates an Executor with the given policy.
func New(policy Policy) *Executor {
	return &Executor{
		policy: policy.normalized(),
		sleep:  ctxSleep,
		jitter: func(r time.Duration) time.Duration {
			if r <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(r)))
		},
	}
}

// Do runs op until it succeeds, fails non-retryably, the policy is exhausted,
// or ctx is cancelled. The last error is returned unwrapped so callers can
// inspect its fault kind.
func Do[T any](ctx context.Context, e *Executor, op func(context.Context) (T, error)) (T, error) {
	var zero T
	logger := log.WithComponentFromContext(ctx, "retry")

	var lastErr error
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err

		c := fault.Classify(err)
		metrics.RetryAttemptsTotal.WithLabelValues(string(c.Kind), boolLabel(c.Retryable)).Inc()
		if !c.Retryable {
			logger.Debug().Err(err).
				Int(log.FieldAttempt, attempt).
				Str("kind", string(c.Kind)).
				Msg("non-retryable failure")
			return zero, err
		}
		if attempt == e.policy.MaxAttempts {
			break
		}

		delay := e.policy.Delay(attempt) + e.jitter(e.policy.JitterRange)
		if c.RetryAfter > 0 {
			// Peer told us exactly when to come back.
			delay = c.RetryAfter
		}
		logger.Warn().Err(err).
			Int(log.FieldAttempt, attempt).
			Dur(log.FieldDelay, delay).
			Str("kind", string(c.Kind)).
			Msg("retrying after failure")
		if serr := e.sleep(ctx, delay); serr != nil {
			return zero, serr
		}
	}

	logger.Error().Err(lastErr).
		Int("max_attempts", e.policy.MaxAttempts).
		Msg("retry budget exhausted")
	return zero, lastErr
}

// DoVoid is Do for operations without a result value.
func DoVoid(ctx context.Context, e *Executor, op func(context.Context) error) error {
	_, err := Do(ctx, e, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
