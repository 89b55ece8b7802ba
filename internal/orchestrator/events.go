// SPDX-License-Identifier: MIT

package orchestrator

import (
	"context"

	"github.com/ManuGH/playq/internal/log"
	"github.com/ManuGH/playq/internal/metrics"
	"github.com/ManuGH/playq/internal/node"
)

// TrackEnded advances the tenant's queue when the node reports a natural
// track end. Events stamped with a superseded skip token are discarded; the
// skip that bumped the token has already advanced the queue.
func (o *Orchestrator) TrackEnded(ev node.TrackEndEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), o.eventTimeout)
	defer cancel()
	ctx = log.ContextWithTenant(ctx, ev.TenantID, "")
	l := log.WithComponentFromContext(ctx, "orchestrator")

	unlock := o.lockTenant(ev.TenantID)
	defer unlock()

	sess := o.pool.Session(ev.TenantID)
	if sess == nil || sess.State() != node.SessionBound {
		metrics.StaleNodeEventsTotal.WithLabelValues("trackEnd").Inc()
		return
	}
	if ev.Epoch != sess.SkipToken() {
		metrics.StaleNodeEventsTotal.WithLabelValues("trackEnd").Inc()
		l.Debug().
			Uint64("event_epoch", ev.Epoch).
			Uint64("skip_token", sess.SkipToken()).
			Msg("discarding stale track end")
		return
	}
	if ev.TrackRef != "" && ev.TrackRef != sess.CurrentTrack() {
		// A late end for a track that playback already moved past.
		metrics.StaleNodeEventsTotal.WithLabelValues("trackEnd").Inc()
		l.Debug().Str("track", ev.TrackRef).Msg("discarding track end for a superseded track")
		return
	}

	l.Debug().Str("track", ev.TrackRef).Str("reason", ev.Reason).Msg("track ended")
	if _, err := o.advance(ctx, ev.TenantID, sess); err != nil {
		// The node is idle after a track end regardless of the outcome.
		sess.SetCurrentTrack("")
		l.Error().Err(err).Msg("advancement after track end failed")
	}
}

// SessionClosed records a node-side session loss. The pool has already marked
// the binding for repair; queued entries live in the store and are untouched.
// The next command for the tenant reacquires a session lazily.
func (o *Orchestrator) SessionClosed(ev node.SessionClosedEvent) {
	ctx := log.ContextWithTenant(context.Background(), ev.TenantID, "")
	l := log.WithComponentFromContext(ctx, "orchestrator")

	unlock := o.lockTenant(ev.TenantID)
	defer unlock()

	sess := o.pool.Session(ev.TenantID)
	if sess == nil {
		metrics.StaleNodeEventsTotal.WithLabelValues("sessionClosed").Inc()
		return
	}
	if ev.Epoch != sess.SkipToken() {
		metrics.StaleNodeEventsTotal.WithLabelValues("sessionClosed").Inc()
		l.Debug().Uint64("event_epoch", ev.Epoch).Msg("discarding stale session close")
		return
	}
	l.Warn().
		Str(log.FieldNodeID, ev.NodeID).
		Int("code", ev.Code).
		Msg("node closed the session, rebinding on next command")
}
