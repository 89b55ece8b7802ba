// SPDX-License-Identifier: MIT

package node

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/playq/internal/retry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// http test servers keep idle transport goroutines around
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
	)
}

// fakeNode is an in-process audio node: ws control channel + loadtracks REST.
type fakeNode struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.Mutex
	conns    []*websocket.Conn
	headers  []http.Header
	received []map[string]any
}

func newFakeNode(t *testing.T) *fakeNode {
	t.Helper()
	f := &fakeNode{t: t}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.headers = append(f.headers, r.Header.Clone())
		f.mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns = append(f.conns, conn)
		f.mu.Unlock()
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame map[string]any
			if json.Unmarshal(payload, &frame) == nil {
				f.mu.Lock()
				f.received = append(f.received, frame)
				f.mu.Unlock()
			}
		}
	})
	mux.HandleFunc("/v1/loadtracks", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "application/json")
		if q == "missing" {
			_ = json.NewEncoder(w).Encode(map[string]any{"loadType": "NO_MATCHES"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"loadType": "TRACK_LOADED",
			"track":    map[string]any{"ref": "ref:" + q, "title": "Title " + q, "durationMs": 180000},
		})
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeNode) config(id string) Config {
	return Config{ID: id, Endpoint: f.server.URL, Secret: "shh"}
}

func (f *fakeNode) emit(ev map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(f.t, f.conns, "no control channel to emit on")
	conn := f.conns[len(f.conns)-1]
	require.NoError(f.t, conn.WriteJSON(ev))
}

func (f *fakeNode) dropConns() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		_ = c.Close()
	}
	f.conns = nil
}

func (f *fakeNode) lastFrames() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, len(f.received))
	copy(out, f.received)
	return out
}

// recordingSink captures dispatched events.
type recordingSink struct {
	mu      sync.Mutex
	ends    []TrackEndEvent
	closed  []SessionClosedEvent
	endedCh chan TrackEndEvent
}

func newRecordingSink() *recordingSink {
	return &recordingSink{endedCh: make(chan TrackEndEvent, 16)}
}

func (s *recordingSink) TrackEnded(ev TrackEndEvent) {
	s.mu.Lock()
	s.ends = append(s.ends, ev)
	s.mu.Unlock()
	s.endedCh <- ev
}

func (s *recordingSink) SessionClosed(ev SessionClosedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, ev)
}

func fastReconnect() retry.Policy {
	return retry.Policy{MaxAttempts: 100, BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2}
}

func startPool(t *testing.T, sink EventSink, nodes ...Config) *Pool {
	t.Helper()
	p := NewPool(nodes, Identity{UserID: "playq-test", ClientName: "playq/test"}, fastReconnect())
	p.SetSink(sink)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	t.Cleanup(func() {
		cancel()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		require.NoError(t, p.Stop(stopCtx))
	})
	return p
}

func waitConnected(t *testing.T, p *Pool, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(p.ConnectedNodes()) == n
	}, 5*time.Second, 10*time.Millisecond, "nodes never connected")
}

func TestAcquireSessionNoNodes(t *testing.T) {
	p := startPool(t, newRecordingSink())
	_, err := p.AcquireSession(context.Background(), "guild-1", "voice", "reply")
	assert.ErrorIs(t, err, ErrNoNodes)
}

func TestDialSendsAuthHeaders(t *testing.T) {
	f := newFakeNode(t)
	p := startPool(t, newRecordingSink(), f.config("node-a"))
	waitConnected(t, p, 1)

	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.headers)
	h := f.headers[0]
	assert.Equal(t, "shh", h.Get("Authorization"))
	assert.Equal(t, "playq-test", h.Get("User-Id"))
	assert.Equal(t, "playq/test", h.Get("Client-Name"))
}

func TestPlayReachesNode(t *testing.T) {
	f := newFakeNode(t)
	p := startPool(t, newRecordingSink(), f.config("node-a"))
	waitConnected(t, p, 1)

	sess, err := p.AcquireSession(context.Background(), "guild-1", "voice", "reply")
	require.NoError(t, err)
	require.NoError(t, p.Play(context.Background(), sess, "ref:song"))

	require.Eventually(t, func() bool {
		return len(f.lastFrames()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	frame := f.lastFrames()[0]
	assert.Equal(t, "play", frame["op"])
	assert.Equal(t, "guild-1", frame["tenantId"])
	assert.Equal(t, "ref:song", frame["track"])
}

func TestLoadTrack(t *testing.T) {
	f := newFakeNode(t)
	p := startPool(t, newRecordingSink(), f.config("node-a"))
	waitConnected(t, p, 1)

	sess, err := p.AcquireSession(context.Background(), "guild-1", "voice", "reply")
	require.NoError(t, err)

	meta, err := p.LoadTrack(context.Background(), sess, "song")
	require.NoError(t, err)
	assert.Equal(t, "ref:song", meta.Ref)
	assert.Equal(t, "Title song", meta.Title)
	assert.Equal(t, 3*time.Minute, meta.Duration)

	_, err = p.LoadTrack(context.Background(), sess, "missing")
	assert.Error(t, err)
}

func TestTrackEndEventCarriesEpoch(t *testing.T) {
	f := newFakeNode(t)
	sink := newRecordingSink()
	p := startPool(t, sink, f.config("node-a"))
	waitConnected(t, p, 1)

	sess, err := p.AcquireSession(context.Background(), "guild-1", "voice", "reply")
	require.NoError(t, err)
	sess.BumpSkipToken()
	require.NoError(t, p.Play(context.Background(), sess, "ref:a"))

	require.Eventually(t, func() bool {
		return len(f.lastFrames()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	frame := f.lastFrames()[0]
	epochAtPlay := uint64(frame["epoch"].(float64))
	require.Equal(t, sess.PlayEpoch(), epochAtPlay, "play frame must carry the pinned epoch")

	// A skip after the play bumps the token; the node echoes the epoch it
	// got with the play frame, so the end still names the track that
	// actually finished.
	sess.BumpSkipToken()

	f.emit(map[string]any{"op": "event", "type": "trackEnd", "tenantId": "guild-1", "track": "ref:a", "reason": "finished", "epoch": epochAtPlay})

	select {
	case ev := <-sink.endedCh:
		assert.Equal(t, epochAtPlay, ev.Epoch)
		assert.NotEqual(t, sess.SkipToken(), ev.Epoch, "event epoch must read as stale after a skip")
	case <-time.After(5 * time.Second):
		t.Fatal("trackEnd never delivered")
	}
}

func TestNodeLossMarksSessionsAndReconnects(t *testing.T) {
	f := newFakeNode(t)
	p := startPool(t, newRecordingSink(), f.config("node-a"))
	waitConnected(t, p, 1)

	sess, err := p.AcquireSession(context.Background(), "guild-1", "voice", "reply")
	require.NoError(t, err)
	require.Equal(t, SessionBound, sess.State())

	f.dropConns()

	require.Eventually(t, func() bool {
		return sess.State() == SessionNeedsRebind
	}, 5*time.Second, 10*time.Millisecond, "session never marked for rebind")

	// The manager reconnects on its own; the next acquire repairs the binding.
	waitConnected(t, p, 1)
	again, err := p.AcquireSession(context.Background(), "guild-1", "voice", "reply")
	require.NoError(t, err)
	assert.Same(t, sess, again, "rebind must reuse the session object")
	assert.Equal(t, SessionBound, again.State())
}

func TestAcquirePrefersLeastLoaded(t *testing.T) {
	fa, fb := newFakeNode(t), newFakeNode(t)
	p := startPool(t, newRecordingSink(), fa.config("node-a"), fb.config("node-b"))
	waitConnected(t, p, 2)

	seen := map[string]int{}
	for _, tenant := range []string{"g1", "g2", "g3", "g4"} {
		sess, err := p.AcquireSession(context.Background(), tenant, "voice", "reply")
		require.NoError(t, err)
		seen[sess.NodeID()]++
	}
	assert.Equal(t, 2, seen["node-a"], "sessions must spread evenly")
	assert.Equal(t, 2, seen["node-b"])
}

func TestUpdateRosterRemovesNode(t *testing.T) {
	f := newFakeNode(t)
	p := startPool(t, newRecordingSink(), f.config("node-a"))
	waitConnected(t, p, 1)

	sess, err := p.AcquireSession(context.Background(), "guild-1", "voice", "reply")
	require.NoError(t, err)

	p.UpdateRoster(nil)
	assert.Empty(t, p.ConnectedNodes())
	assert.Equal(t, SessionNeedsRebind, sess.State())

	_, err = p.AcquireSession(context.Background(), "guild-1", "voice", "reply")
	assert.ErrorIs(t, err, ErrNoNodes)
}

func TestReleaseSession(t *testing.T) {
	f := newFakeNode(t)
	p := startPool(t, newRecordingSink(), f.config("node-a"))
	waitConnected(t, p, 1)

	sess, err := p.AcquireSession(context.Background(), "guild-1", "voice", "reply")
	require.NoError(t, err)
	p.ReleaseSession("guild-1")
	assert.Equal(t, SessionClosed, sess.State())

	fresh, err := p.AcquireSession(context.Background(), "guild-1", "voice", "reply")
	require.NoError(t, err)
	assert.NotSame(t, sess, fresh)
}
