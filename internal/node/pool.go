// SPDX-License-Identifier: MIT

package node

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ManuGH/playq/internal/fault"
	"github.com/ManuGH/playq/internal/log"
	"github.com/ManuGH/playq/internal/metrics"
	"github.com/ManuGH/playq/internal/retry"
)

// Identity names this daemon towards the nodes.
type Identity struct {
	UserID     string
	ClientName string
}

// Pool owns the node roster, their control channels and all tenant sessions.
type Pool struct {
	identity  headerIdentity
	sink      EventSink
	reconnect retry.Policy
	dialer    *websocket.Dialer
	logger    zerolog.Logger

	mu       sync.Mutex
	nodes    map[string]*nodeHandle
	sessions map[string]*Session
	tasks    taskRegistry
	runCtx   context.Context
	cancel   context.CancelFunc
}

// nodeHandle is the pool's view of one node.
type nodeHandle struct {
	cfg  Config
	rest *client

	mu      sync.Mutex
	state   Connectivity
	conn    *websocket.Conn
	writeMu sync.Mutex
	stop    context.CancelFunc // stops this node's manager loop
}

func (h *nodeHandle) setState(s Connectivity) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
	metrics.SetNodeConnectivity(h.cfg.ID, string(s))
}

func (h *nodeHandle) getState() Connectivity {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *nodeHandle) setConn(c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conn = c
}

func (h *nodeHandle) getConn() *websocket.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn
}

// NewPool creates a pool for the given roster. Call Start before use and
// SetSink before Start.
func NewPool(roster []Config, identity Identity, reconnect retry.Policy) *Pool {
	p := &Pool{
		identity: headerIdentity{
			Identity:   identity.UserID,
			ClientName: identity.ClientName,
		},
		reconnect: reconnect,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:    log.WithComponent("nodepool"),
		nodes:     make(map[string]*nodeHandle),
		sessions:  make(map[string]*Session),
	}
	for _, cfg := range roster {
		p.nodes[cfg.ID] = p.newHandle(cfg)
	}
	return p
}

func (p *Pool) newHandle(cfg Config) *nodeHandle {
	h := &nodeHandle{
		cfg:   cfg,
		rest:  newClient(cfg, p.identity),
		state: Disconnected,
	}
	metrics.SetNodeConnectivity(cfg.ID, string(Disconnected))
	return h
}

// SetSink wires the event consumer. Must be called before Start.
func (p *Pool) SetSink(sink EventSink) { p.sink = sink }

// Start launches one manager goroutine per node.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runCtx, p.cancel = context.WithCancel(ctx)
	for _, h := range p.nodes {
		p.startManagerLocked(h)
	}
}

func (p *Pool) startManagerLocked(h *nodeHandle) {
	mctx, mcancel := context.WithCancel(p.runCtx)
	h.stop = mcancel
	handle := h
	p.tasks.Go(func() { p.manageNode(mctx, handle) })
}

// Stop tears the pool down and waits for its goroutines, bounded by ctx.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	for _, h := range p.nodes {
		if c := h.getConn(); c != nil {
			_ = c.Close()
		}
	}
	p.mu.Unlock()
	return p.tasks.CloseAndWait(ctx)
}

// UpdateRoster reconciles the node set against a new roster. New nodes get a
// manager; removed nodes are torn down and their sessions marked for rebind.
func (p *Pool) UpdateRoster(roster []Config) {
	p.mu.Lock()
	defer p.mu.Unlock()

	want := make(map[string]Config, len(roster))
	for _, cfg := range roster {
		want[cfg.ID] = cfg
	}

	for id, h := range p.nodes {
		if _, keep := want[id]; keep {
			continue
		}
		p.logger.Info().Str(log.FieldNodeID, id).Msg("node removed from roster")
		if h.stop != nil {
			h.stop()
		}
		if c := h.getConn(); c != nil {
			_ = c.Close()
		}
		h.setState(Disconnected)
		delete(p.nodes, id)
		for _, s := range p.sessions {
			if s.NodeID() == id && s.State() == SessionBound {
				s.markNeedsRebind()
				metrics.SessionsActive.WithLabelValues(id).Dec()
			}
		}
	}

	for id, cfg := range want {
		if _, ok := p.nodes[id]; ok {
			continue
		}
		p.logger.Info().Str(log.FieldNodeID, id).Msg("node added to roster")
		h := p.newHandle(cfg)
		p.nodes[id] = h
		if p.runCtx != nil {
			p.startManagerLocked(h)
		}
	}
}

// ConnectedNodes returns the IDs of currently connected nodes.
func (p *Pool) ConnectedNodes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for id, h := range p.nodes {
		if h.getState() == Connected {
			out = append(out, id)
		}
	}
	return out
}

// AcquireSession returns the tenant's live session, rebinding or creating one
// on the least-loaded connected node. Fails with ErrNoNodes when nothing is
// connected.
func (p *Pool) AcquireSession(ctx context.Context, tenantID, voiceChannel, replyChannel string) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sess := p.sessions[tenantID]
	wasBound := sess != nil && sess.State() == SessionBound
	if wasBound {
		if h := p.nodes[sess.NodeID()]; h != nil && h.getState() == Connected {
			return sess, nil
		}
		sess.markNeedsRebind()
	}

	target := p.leastLoadedLocked()
	if target == nil {
		return nil, ErrNoNodes
	}

	if sess == nil {
		sess = &Session{
			TenantID:     tenantID,
			VoiceChannel: voiceChannel,
			ReplyChannel: replyChannel,
		}
		p.sessions[tenantID] = sess
	}
	prev := sess.NodeID()
	sess.setBinding(target.cfg.ID, SessionBound)
	switch {
	case !wasBound:
		// markNodeLost or roster removal already released the old slot.
		metrics.SessionsActive.WithLabelValues(target.cfg.ID).Inc()
	case prev != target.cfg.ID:
		metrics.SessionsActive.WithLabelValues(prev).Dec()
		metrics.SessionsActive.WithLabelValues(target.cfg.ID).Inc()
	}
	l := log.WithComponentFromContext(ctx, "nodepool")
	l.Debug().
		Str(log.FieldTenantID, tenantID).
		Str(log.FieldNodeID, target.cfg.ID).
		Msg("session bound")
	return sess, nil
}

// leastLoadedLocked picks the connected node serving the fewest bound sessions.
func (p *Pool) leastLoadedLocked() *nodeHandle {
	loads := make(map[string]int, len(p.nodes))
	for _, s := range p.sessions {
		if s.State() == SessionBound {
			loads[s.NodeID()]++
		}
	}
	var best *nodeHandle
	bestLoad := 0
	for _, h := range p.nodes {
		if h.getState() != Connected {
			continue
		}
		load := loads[h.cfg.ID]
		if best == nil || load < bestLoad || (load == bestLoad && h.cfg.ID < best.cfg.ID) {
			best = h
			bestLoad = load
		}
	}
	return best
}

// Session returns the tenant's session, if any.
func (p *Pool) Session(tenantID string) *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[tenantID]
}

// ReleaseSession destroys the tenant's session binding.
func (p *Pool) ReleaseSession(tenantID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sess := p.sessions[tenantID]
	if sess == nil {
		return
	}
	if id := sess.NodeID(); id != "" && sess.State() == SessionBound {
		metrics.SessionsActive.WithLabelValues(id).Dec()
	}
	sess.markClosed()
	delete(p.sessions, tenantID)
}

// LoadTrack resolves a query via the session's node.
func (p *Pool) LoadTrack(ctx context.Context, sess *Session, query string) (TrackMetadata, error) {
	h := p.handleFor(sess)
	if h == nil {
		return TrackMetadata{}, ErrNoNodes
	}
	return h.rest.LoadTrack(ctx, query)
}

// controlOp is the outbound websocket frame. Play frames carry the epoch the
// node must echo back in the trackEnd for that track.
type controlOp struct {
	Op       string `json:"op"`
	TenantID string `json:"tenantId"`
	Track    string `json:"track,omitempty"`
	Epoch    uint64 `json:"epoch,omitempty"`
}

// Play starts trackRef for the session's tenant. The session's play epoch is
// pinned to the current skip token before the frame leaves and travels with
// the frame, so the trackEnd for this exact track carries it back even when
// the same ref plays again later.
func (p *Pool) Play(ctx context.Context, sess *Session, trackRef string) error {
	epoch := sess.SkipToken()
	sess.setPlayEpoch(epoch)
	return p.send(ctx, sess, controlOp{Op: "play", TenantID: sess.TenantID, Track: trackRef, Epoch: epoch})
}

// StopPlayback halts playback for the session's tenant. Stopping an idle
// tenant is a no-op on the node side.
func (p *Pool) StopPlayback(ctx context.Context, sess *Session) error {
	return p.send(ctx, sess, controlOp{Op: "stop", TenantID: sess.TenantID})
}

func (p *Pool) send(ctx context.Context, sess *Session, op controlOp) error {
	const opName = "node.control"
	h := p.handleFor(sess)
	if h == nil {
		return ErrNoNodes
	}
	conn := h.getConn()
	if conn == nil || h.getState() != Connected {
		return fault.Errorf(fault.KindNetwork, opName, "node %s not connected", h.cfg.ID)
	}

	buf, err := json.Marshal(op)
	if err != nil {
		return fault.Wrap(fault.KindInternal, opName, err)
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	deadline := time.Now().Add(rpcTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, buf); err != nil {
		return fault.Wrap(fault.KindNetwork, opName, err)
	}
	return nil
}

func (p *Pool) handleFor(sess *Session) *nodeHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nodes[sess.NodeID()]
}
