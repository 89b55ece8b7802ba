// SPDX-License-Identifier: MIT

// Package metrics provides Prometheus metrics for the playq daemon.
// Label cardinality is bounded: no tenant or request IDs in labels.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CommandsTotal counts processed commands by name and outcome.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "playq",
		Name:      "commands_total",
		Help:      "Total number of processed playback commands, by name and outcome.",
	}, []string{"command", "outcome"})

	// CommandDuration observes end-to-end command handling latency.
	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "playq",
		Name:      "command_duration_seconds",
		Help:      "End-to-end command handling latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"command"})

	// RetryAttemptsTotal counts failed attempts seen by the retry executor,
	// by fault kind and whether the failure was retryable.
	RetryAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "playq",
		Name:      "retry_attempts_total",
		Help:      "Total failed attempts observed by the retry executor, by fault kind.",
	}, []string{"kind", "retryable"})

	// NodeConnectivity tracks per-node connectivity (1 for the current state).
	NodeConnectivity = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "playq",
		Name:      "node_connectivity",
		Help:      "Current node connectivity state (one series set to 1 per node).",
	}, []string{"node", "state"})

	// NodeReconnectsTotal counts control channel reconnect attempts per node.
	NodeReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "playq",
		Name:      "node_reconnects_total",
		Help:      "Total control channel reconnect attempts, by node and result.",
	}, []string{"node", "result"})

	// SessionsActive tracks bound tenant sessions per node.
	SessionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "playq",
		Name:      "sessions_active",
		Help:      "Current number of bound tenant sessions, by node.",
	}, []string{"node"})

	// QueueOpsTotal counts queue store operations by op and result.
	QueueOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "playq",
		Name:      "queue_ops_total",
		Help:      "Total queue store operations, by operation and result.",
	}, []string{"op", "result"})

	// DequeueRacesTotal counts dequeues that lost the conditional delete to a
	// concurrent competitor. A non-zero value is expected under load.
	DequeueRacesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "playq",
		Name:      "dequeue_races_total",
		Help:      "Total head dequeues that found the entry already removed.",
	})

	// StaleNodeEventsTotal counts node events discarded by skip-token mismatch.
	StaleNodeEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "playq",
		Name:      "stale_node_events_total",
		Help:      "Total node events discarded because their skip token epoch was superseded.",
	}, []string{"type"})

	// AllowlistDeniedTotal counts commands rejected by the allowlist,
	// including store-error fail-closed denials.
	AllowlistDeniedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "playq",
		Name:      "allowlist_denied_total",
		Help:      "Total commands denied by the tenant allowlist, by reason.",
	}, []string{"reason"})
)

// nodeStates must cover every connectivity value so SetNodeConnectivity can
// zero the stale series.
var nodeStates = []string{"disconnected", "connecting", "connected", "reconnecting"}

// SetNodeConnectivity records the single current state for a node.
func SetNodeConnectivity(node, state string) {
	for _, s := range nodeStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		NodeConnectivity.WithLabelValues(node, s).Set(v)
	}
}
