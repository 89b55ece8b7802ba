// SPDX-License-Identifier: MIT

package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetNodeConnectivityExclusive(t *testing.T) {
	SetNodeConnectivity("node-a", "connected")
	assert.Equal(t, 1.0, GaugeValue(NodeConnectivity, "node-a", "connected"))
	assert.Equal(t, 0.0, GaugeValue(NodeConnectivity, "node-a", "disconnected"))

	SetNodeConnectivity("node-a", "reconnecting")
	assert.Equal(t, 0.0, GaugeValue(NodeConnectivity, "node-a", "connected"),
		"previous state series must be zeroed")
	assert.Equal(t, 1.0, GaugeValue(NodeConnectivity, "node-a", "reconnecting"))
}

func TestCounterValueReadback(t *testing.T) {
	before := CounterValue(QueueOpsTotal, "enqueue", "ok")
	QueueOpsTotal.WithLabelValues("enqueue", "ok").Inc()
	assert.Equal(t, before+1, CounterValue(QueueOpsTotal, "enqueue", "ok"))
}
