// SPDX-License-Identifier: MIT

// Package node manages connections and tenant sessions to remote audio
// rendering nodes. Each node exposes an authenticated websocket control
// channel for playback ops and lifecycle events, plus a small REST surface
// for track resolution.
package node

import (
	"sync"
	"time"

	"github.com/ManuGH/playq/internal/fault"
)

// Connectivity is the single source of truth for a node's link state.
type Connectivity string

const (
	Disconnected Connectivity = "disconnected"
	Connecting   Connectivity = "connecting"
	Connected    Connectivity = "connected"
	Reconnecting Connectivity = "reconnecting"
)

// Config is one roster entry.
type Config struct {
	ID       string `yaml:"id"`
	Endpoint string `yaml:"endpoint"` // http(s) base URL; ws URL is derived
	Secret   string `yaml:"secret"`
}

// TrackMetadata describes a resolved track.
type TrackMetadata struct {
	Ref      string        `json:"ref"`
	Title    string        `json:"title"`
	Duration time.Duration `json:"duration"`
}

// SessionState tracks the tenant-to-node binding lifecycle.
type SessionState string

const (
	SessionConnecting  SessionState = "connecting"
	SessionBound       SessionState = "bound"
	SessionNeedsRebind SessionState = "needs_rebind"
	SessionClosed      SessionState = "closed"
)

// Session binds a tenant to the node currently serving it. Field access is
// guarded internally: the orchestrator mutates it under its per-tenant lock
// while the pool's read loops mark node loss concurrently.
type Session struct {
	TenantID     string
	VoiceChannel string
	ReplyChannel string

	mu           sync.Mutex
	nodeID       string
	state        SessionState
	currentTrack string // empty while nothing is playing
	skipToken    uint64 // incremented on every orchestrator-initiated skip
	playEpoch    uint64 // skipToken snapshot taken when the current track started
}

func (s *Session) NodeID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodeID
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setBinding(nodeID string, state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodeID = nodeID
	s.state = state
}

func (s *Session) markNeedsRebind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionClosed {
		s.state = SessionNeedsRebind
	}
}

func (s *Session) markClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = SessionClosed
}

// CurrentTrack returns the track ref the orchestrator believes is playing.
func (s *Session) CurrentTrack() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTrack
}

// SetCurrentTrack records the now-playing track ref ("" for idle).
func (s *Session) SetCurrentTrack(ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentTrack = ref
}

// SkipToken returns the current token epoch.
func (s *Session) SkipToken() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipToken
}

// BumpSkipToken invalidates in-flight node events from the previous epoch
// and returns the new token.
func (s *Session) BumpSkipToken() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipToken++
	return s.skipToken
}

// PlayEpoch returns the token snapshot of the current track.
func (s *Session) PlayEpoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playEpoch
}

func (s *Session) setPlayEpoch(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playEpoch = epoch
}

// TrackEndEvent is delivered when a node reports the end of a track. Epoch
// is the value the node echoed from the play frame that started the track,
// so consumers can discard ends superseded by a skip even when the same ref
// is playing again.
type TrackEndEvent struct {
	TenantID string
	NodeID   string
	TrackRef string
	Reason   string
	Epoch    uint64
}

// SessionClosedEvent is delivered when a node drops a tenant session.
type SessionClosedEvent struct {
	TenantID string
	NodeID   string
	Code     int
	Epoch    uint64
}

// EventSink consumes node-originated events. Delivery is asynchronous with
// respect to the node read loop.
type EventSink interface {
	TrackEnded(ev TrackEndEvent)
	SessionClosed(ev SessionClosedEvent)
}

// ErrNoNodes is returned by AcquireSession when no node is connected.
// Tagged as a network fault: callers surface it as a transient condition.
var ErrNoNodes = fault.New(fault.KindNetwork, "node.acquireSession", "no audio node available")
