// SPDX-License-Identifier: MIT

package fault

import (
	"context"
	"errors"
	"time"
)

// Classification is the retry/no-retry verdict for a failure.
type Classification struct {
	Kind       Kind
	Severity   Severity
	Retryable  bool
	RetryAfter time.Duration // peer-supplied delay, zero when computed backoff applies
}

// Classify maps an error onto the retry policy table. It is a pure function
// of the error's Kind: message text is never inspected.
func Classify(err error) Classification {
	var fe *Error
	if !errors.As(err, &fe) {
		// Untagged context expiry means the caller gave up, not that the
		// operation is worth repeating. A node call that timed out is
		// tagged KindNetwork at its origin and stays retryable.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Classification{Kind: KindNetwork, Severity: SeverityInfo, Retryable: false}
		}
	}

	kind := KindOf(err)
	c := Classification{Kind: kind}

	switch kind {
	case KindValidation, KindNotFound:
		c.Severity = SeverityInfo
	case KindPermission:
		c.Severity = SeverityWarning
	case KindRateLimit:
		c.Severity = SeverityWarning
		c.Retryable = true
		var fe *Error
		if errors.As(err, &fe) {
			c.RetryAfter = fe.RetryAfter
		}
	case KindNetwork, KindRemotePeer, KindBackendThrottled:
		c.Severity = SeverityWarning
		c.Retryable = true
	case KindBackendDenied:
		c.Severity = SeverityCritical
	case KindBackend:
		c.Severity = SeverityError
		c.Retryable = true
	default: // KindInternal and anything untagged
		c.Kind = KindInternal
		c.Severity = SeverityError
	}
	return c
}
