// SPDX-License-Identifier: MIT

// Package fault defines the closed error taxonomy shared by the store, the
// node pool and the orchestrator. Every failure is tagged with a Kind at the
// point it originates; classification downstream is a pure function of that
// Kind, never of the message text.
package fault

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies the origin category of a failure.
type Kind string

const (
	// KindValidation covers malformed or rejected input (bad command args,
	// empty queries). Never retried.
	KindValidation Kind = "validation"
	// KindPermission covers denied access (tenant not allowlisted,
	// missing admin token). Never retried.
	KindPermission Kind = "permission"
	// KindNotFound covers lookups with no match (track search miss). Never retried.
	KindNotFound Kind = "not_found"
	// KindRateLimit covers explicit throttle signals from a peer, usually
	// with a peer-supplied retry-after delay.
	KindRateLimit Kind = "rate_limit"
	// KindNetwork covers transport failures and per-call timeouts.
	KindNetwork Kind = "network"
	// KindRemotePeer covers node-originated internal failures (5xx-equivalent).
	KindRemotePeer Kind = "remote_peer"
	// KindBackendThrottled covers transient store pushback (txn conflicts,
	// write stalls). Retryable.
	KindBackendThrottled Kind = "backend_throttled"
	// KindBackendDenied covers store access-denied or misconfiguration.
	// Operator-facing, never retried.
	KindBackendDenied Kind = "backend_denied"
	// KindBackend covers other store failures (I/O, corruption).
	KindBackend Kind = "backend"
	// KindInternal covers bugs and violated assumptions. Never retried.
	KindInternal Kind = "internal"
)

// Severity grades a classified failure for logging and alerting.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Error is the rich error type carried across component boundaries.
type Error struct {
	Kind Kind
	Op   string // originating operation, e.g. "node.loadTrack"
	// RetryAfter is a peer-supplied delay for KindRateLimit, zero otherwise.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a tagged error without a cause.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg)}
}

// Wrap tags an underlying cause. A nil cause yields a nil error, so call
// sites can wrap a transaction result unconditionally.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf creates a tagged error with a formatted message.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from err, or KindInternal when err carries no tag.
// Untagged errors reaching a classification boundary are a programming error;
// treating them as internal keeps them out of the retry path.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
