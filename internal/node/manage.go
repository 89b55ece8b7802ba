// SPDX-License-Identifier: MIT

package node

import (
	"context"
	"encoding/json"
	"math/rand"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ManuGH/playq/internal/log"
	"github.com/ManuGH/playq/internal/metrics"
)

// wsURL derives the control channel URL from the REST endpoint.
func wsURL(endpoint string) string {
	u := strings.TrimRight(endpoint, "/")
	u = strings.Replace(u, "http://", "ws://", 1)
	u = strings.Replace(u, "https://", "wss://", 1)
	return u + "/v1/ws"
}

// manageNode is the per-node reconciliation loop: dial, serve the read loop,
// and on loss mark bound sessions for lazy rebind and back off before the
// next attempt. It never blocks command processing.
func (p *Pool) manageNode(ctx context.Context, h *nodeHandle) {
	logger := p.logger.With().Str(log.FieldNodeID, h.cfg.ID).Logger()
	attempt := 0

	for {
		if ctx.Err() != nil {
			h.setState(Disconnected)
			return
		}

		if attempt == 0 {
			h.setState(Connecting)
		} else {
			h.setState(Reconnecting)
		}

		conn, resp, err := p.dialer.DialContext(ctx, wsURL(h.cfg.Endpoint), h.rest.authHeaders())
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			if ctx.Err() != nil {
				h.setState(Disconnected)
				return
			}
			attempt++
			metrics.NodeReconnectsTotal.WithLabelValues(h.cfg.ID, "error").Inc()
			delay := p.reconnect.Delay(attempt) + jitter(p.reconnect.JitterRange)
			logger.Warn().Err(err).
				Int(log.FieldAttempt, attempt).
				Dur(log.FieldDelay, delay).
				Msg("node dial failed")
			if !sleep(ctx, delay) {
				h.setState(Disconnected)
				return
			}
			continue
		}

		attempt = 0
		h.setConn(conn)
		h.setState(Connected)
		metrics.NodeReconnectsTotal.WithLabelValues(h.cfg.ID, "ok").Inc()
		logger.Info().Msg("node control channel established")

		p.readLoop(ctx, h, conn)

		h.setConn(nil)
		_ = conn.Close()
		if ctx.Err() != nil {
			h.setState(Disconnected)
			return
		}

		// Sessions repair lazily on the next tenant command; reconnecting
		// them eagerly here would stampede the node.
		p.markNodeLost(h.cfg.ID)
		logger.Warn().Msg("node control channel lost")
		attempt = 1
		delay := p.reconnect.Delay(attempt) + jitter(p.reconnect.JitterRange)
		if !sleep(ctx, delay) {
			h.setState(Disconnected)
			return
		}
	}
}

// markNodeLost flags every session bound to the node for rebind.
func (p *Pool) markNodeLost(nodeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h := p.nodes[nodeID]; h != nil {
		h.setState(Reconnecting)
	}
	for _, s := range p.sessions {
		if s.NodeID() == nodeID && s.State() == SessionBound {
			s.markNeedsRebind()
			metrics.SessionsActive.WithLabelValues(nodeID).Dec()
		}
	}
}

// nodeEvent is the inbound websocket frame. Epoch on a trackEnd echoes the
// value from the play frame that started the track.
type nodeEvent struct {
	Op       string `json:"op"`
	Type     string `json:"type"` // "trackEnd" | "sessionClosed"
	TenantID string `json:"tenantId"`
	Track    string `json:"track,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Code     int    `json:"code,omitempty"`
	Epoch    uint64 `json:"epoch,omitempty"`
}

// readLoop consumes events until the connection fails.
func (p *Pool) readLoop(ctx context.Context, h *nodeHandle, conn *websocket.Conn) {
	logger := p.logger.With().Str(log.FieldNodeID, h.cfg.ID).Logger()
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var ev nodeEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			logger.Warn().Err(err).Msg("undecodable node event")
			continue
		}
		if ev.Op != "event" {
			continue
		}
		p.dispatch(h.cfg.ID, ev)
	}
}

// dispatch hands an event to the sink asynchronously. A trackEnd carries the
// epoch the node echoed from the play frame that started the track, so a late
// end for a replaced track stays stale even when the same ref is playing
// again. sessionClosed applies to the session as a whole and is stamped with
// the epoch of the most recent play.
func (p *Pool) dispatch(nodeID string, ev nodeEvent) {
	if p.sink == nil {
		return
	}
	p.mu.Lock()
	sess := p.sessions[ev.TenantID]
	p.mu.Unlock()
	if sess == nil {
		return
	}

	switch ev.Type {
	case "trackEnd":
		event := TrackEndEvent{
			TenantID: ev.TenantID,
			NodeID:   nodeID,
			TrackRef: ev.Track,
			Reason:   ev.Reason,
			Epoch:    ev.Epoch,
		}
		p.tasks.Go(func() { p.sink.TrackEnded(event) })
	case "sessionClosed":
		if sess.State() == SessionBound {
			sess.markNeedsRebind()
			metrics.SessionsActive.WithLabelValues(nodeID).Dec()
		}
		event := SessionClosedEvent{
			TenantID: ev.TenantID,
			NodeID:   nodeID,
			Code:     ev.Code,
			Epoch:    sess.PlayEpoch(),
		}
		p.tasks.Go(func() { p.sink.SessionClosed(event) })
	}
}

func jitter(r time.Duration) time.Duration {
	if r <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(r)))
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
