// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the daemon.
const (
	// Command attributes
	CommandNameKey    = "command.name"
	CommandTenantKey  = "command.tenant_id"
	CommandUserKey    = "command.user_id"
	CommandOutcomeKey = "command.outcome"

	// Queue attributes
	QueueSizeKey = "queue.size"
	QueueRankKey = "queue.rank"

	// Node attributes
	NodeIDKey       = "node.id"
	NodeEndpointKey = "node.endpoint"
	NodeOpKey       = "node.op"

	// Retry attributes
	RetryAttemptKey = "retry.attempt"
	RetryDelayKey   = "retry.delay_ms"
	RetryKindKey    = "retry.kind"

	// Error attributes
	ErrorKey     = "error"
	ErrorKindKey = "error.kind"
)

// CommandAttributes creates span attributes for a playback command.
func CommandAttributes(name, tenantID, userID string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if name != "" {
		attrs = append(attrs, attribute.String(CommandNameKey, name))
	}
	if tenantID != "" {
		attrs = append(attrs, attribute.String(CommandTenantKey, tenantID))
	}
	if userID != "" {
		attrs = append(attrs, attribute.String(CommandUserKey, userID))
	}
	return attrs
}

// QueueAttributes creates queue-related span attributes.
func QueueAttributes(size, rank int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(QueueSizeKey, size),
		attribute.Int(QueueRankKey, rank),
	}
}

// NodeAttributes creates node-related span attributes.
func NodeAttributes(nodeID, op string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(NodeIDKey, nodeID),
		attribute.String(NodeOpKey, op),
	}
}

// RetryAttributes creates retry-related span attributes.
func RetryAttributes(attempt int, delayMS int64, kind string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(RetryAttemptKey, attempt),
		attribute.Int64(RetryDelayKey, delayMS),
		attribute.String(RetryKindKey, kind),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, kind string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorKindKey, kind),
	}
}
