// SPDX-License-Identifier: MIT

// Package orchestrator is the per-tenant playback state machine. It serializes
// all commands for a tenant, keeps the durable queue and the node session in
// step, and advances playback on skips and on node track-end events.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/playq/internal/fault"
	"github.com/ManuGH/playq/internal/log"
	"github.com/ManuGH/playq/internal/metrics"
	"github.com/ManuGH/playq/internal/node"
	"github.com/ManuGH/playq/internal/retry"
	"github.com/ManuGH/playq/internal/store"
)

// Command names accepted by Handle.
const (
	CmdJoin      = "join"
	CmdPlay      = "play"
	CmdSkip      = "skip"
	CmdClear     = "clear"
	CmdQueueSize = "queueSize"
	CmdLeave     = "leave"
)

// Command is a tenant-scoped playback request from the command front-end.
type Command struct {
	Name         string
	TenantID     string
	UserID       string
	Query        string
	VoiceChannel string
	ReplyChannel string
}

// Result is what the front-end relays back to the user.
type Result struct {
	Success     bool
	UserMessage string

	// Skipped is set by skip: true only when a current track existed.
	Skipped bool
	// Rank is the 1-based queue position assigned by play when a track is
	// already active.
	Rank int
	// Removed is the entry count reported by clear.
	Removed int
	// Size is the queue depth reported by queueSize.
	Size int
}

// Authorizer gates tenants. Implementations fail closed.
type Authorizer interface {
	IsAllowed(ctx context.Context, tenantID string) bool
}

// NodePool is the session and control-channel surface the orchestrator
// drives. *node.Pool satisfies it.
type NodePool interface {
	AcquireSession(ctx context.Context, tenantID, voiceChannel, replyChannel string) (*node.Session, error)
	Session(tenantID string) *node.Session
	ReleaseSession(tenantID string)
	LoadTrack(ctx context.Context, sess *node.Session, query string) (node.TrackMetadata, error)
	Play(ctx context.Context, sess *node.Session, trackRef string) error
	StopPlayback(ctx context.Context, sess *node.Session) error
}

const defaultEventTimeout = 15 * time.Second

// Orchestrator composes the queue store, the node pool and the retry
// executor into join/play/skip/clear semantics.
type Orchestrator struct {
	store store.QueueStore
	allow Authorizer
	pool  NodePool
	exec  *retry.Executor

	eventTimeout time.Duration

	mu      sync.Mutex
	tenants map[string]*sync.Mutex
}

// New builds an Orchestrator. exec may be nil, in which case the default
// retry policy is used.
func New(qs store.QueueStore, allow Authorizer, pool NodePool, exec *retry.Executor) *Orchestrator {
	if exec == nil {
		exec = retry.New(retry.DefaultPolicy())
	}
	return &Orchestrator{
		store:        qs,
		allow:        allow,
		pool:         pool,
		exec:         exec,
		eventTimeout: defaultEventTimeout,
		tenants:      make(map[string]*sync.Mutex),
	}
}

// lockTenant serializes all orchestrator work for one tenant. Commands for
// different tenants proceed in parallel.
func (o *Orchestrator) lockTenant(tenantID string) func() {
	o.mu.Lock()
	m := o.tenants[tenantID]
	if m == nil {
		m = &sync.Mutex{}
		o.tenants[tenantID] = m
	}
	o.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// Handle executes a single command under the tenant's lock. The allowlist is
// consulted before any queue or node access.
func (o *Orchestrator) Handle(ctx context.Context, cmd Command) Result {
	ctx = log.ContextWithTenant(ctx, cmd.TenantID, cmd.UserID)
	ctx = log.ContextWithCommand(ctx, cmd.Name)
	start := time.Now()

	unlock := o.lockTenant(cmd.TenantID)
	defer unlock()

	if !o.allow.IsAllowed(ctx, cmd.TenantID) {
		metrics.AllowlistDeniedTotal.WithLabelValues("not_listed").Inc()
		metrics.CommandsTotal.WithLabelValues(cmd.Name, "denied").Inc()
		l := log.WithComponentFromContext(ctx, "orchestrator")
		l.Warn().Msg("command denied, tenant not allowlisted")
		return Result{UserMessage: "this server is not enabled for playback"}
	}

	var res Result
	switch cmd.Name {
	case CmdJoin:
		res = o.join(ctx, cmd)
	case CmdPlay:
		res = o.play(ctx, cmd)
	case CmdSkip:
		res = o.skip(ctx, cmd)
	case CmdClear:
		res = o.clear(ctx, cmd)
	case CmdQueueSize:
		res = o.queueSize(ctx, cmd)
	case CmdLeave:
		res = o.leave(ctx, cmd)
	default:
		res = Result{UserMessage: fmt.Sprintf("unknown command %q", cmd.Name)}
	}

	outcome := "ok"
	if !res.Success {
		outcome = "error"
	}
	metrics.CommandsTotal.WithLabelValues(cmd.Name, outcome).Inc()
	metrics.CommandDuration.WithLabelValues(cmd.Name).Observe(time.Since(start).Seconds())
	return res
}

// ensureSession returns the tenant's bound session, repairing a lost binding
// via the pool. With resume set, a preserved current track is re-issued to the
// new node so playback survives the rebind.
func (o *Orchestrator) ensureSession(ctx context.Context, cmd Command, resume bool) (*node.Session, error) {
	sess := o.pool.Session(cmd.TenantID)
	if sess != nil && sess.State() == node.SessionBound {
		return sess, nil
	}

	voice, reply := cmd.VoiceChannel, cmd.ReplyChannel
	if sess != nil {
		if voice == "" {
			voice = sess.VoiceChannel
		}
		if reply == "" {
			reply = sess.ReplyChannel
		}
	}

	needsResume := sess != nil && sess.CurrentTrack() != ""
	fresh, err := retry.Do(ctx, o.exec, func(ctx context.Context) (*node.Session, error) {
		return o.pool.AcquireSession(ctx, cmd.TenantID, voice, reply)
	})
	if err != nil {
		return nil, err
	}

	if resume && needsResume {
		if cur := fresh.CurrentTrack(); cur != "" {
			if err := o.pool.Play(ctx, fresh, cur); err != nil {
				l := log.WithComponentFromContext(ctx, "orchestrator")
				l.Warn().Err(err).Msg("could not resume current track after rebind")
			}
		}
	}
	return fresh, nil
}

func (o *Orchestrator) join(ctx context.Context, cmd Command) Result {
	if _, err := o.ensureSession(ctx, cmd, true); err != nil {
		return o.failure(ctx, err)
	}
	return Result{Success: true, UserMessage: "connected and ready"}
}

func (o *Orchestrator) play(ctx context.Context, cmd Command) Result {
	query := strings.TrimSpace(cmd.Query)
	if query == "" {
		return Result{UserMessage: "tell me what to play"}
	}

	sess, err := o.ensureSession(ctx, cmd, true)
	if err != nil {
		return o.failure(ctx, err)
	}

	meta, err := retry.Do(ctx, o.exec, func(ctx context.Context) (node.TrackMetadata, error) {
		return o.pool.LoadTrack(ctx, sess, query)
	})
	if err != nil {
		return o.failure(ctx, err)
	}

	if sess.CurrentTrack() == "" {
		err := retry.DoVoid(ctx, o.exec, func(ctx context.Context) error {
			return o.pool.Play(ctx, sess, meta.Ref)
		})
		if err != nil {
			return o.failure(ctx, err)
		}
		sess.SetCurrentTrack(meta.Ref)
		return Result{Success: true, UserMessage: fmt.Sprintf("now playing %s", meta.Title)}
	}

	// The track reference is stored as the raw query and re-resolved on
	// advancement, so queue entries round-trip as opaque strings.
	rank, err := retry.Do(ctx, o.exec, func(ctx context.Context) (int, error) {
		return o.store.Enqueue(ctx, cmd.TenantID, query)
	})
	if err != nil {
		return o.failure(ctx, err)
	}
	return Result{
		Success:     true,
		Rank:        rank,
		UserMessage: fmt.Sprintf("queued %s at position %d", meta.Title, rank),
	}
}

func (o *Orchestrator) skip(ctx context.Context, cmd Command) Result {
	sess := o.pool.Session(cmd.TenantID)
	if sess == nil || sess.CurrentTrack() == "" {
		return Result{Success: true, UserMessage: "nothing is playing"}
	}

	// Invalidate in-flight node events for the track being skipped before
	// anything else happens.
	sess.BumpSkipToken()

	bound, err := o.ensureSession(ctx, cmd, false)
	if err != nil {
		return o.failure(ctx, err)
	}
	title, err := o.advance(ctx, cmd.TenantID, bound)
	if err != nil {
		return o.failure(ctx, err)
	}
	if title == "" {
		return Result{Success: true, Skipped: true, UserMessage: "skipped, the queue is empty"}
	}
	return Result{Success: true, Skipped: true, UserMessage: fmt.Sprintf("skipped, now playing %s", title)}
}

func (o *Orchestrator) clear(ctx context.Context, cmd Command) Result {
	n, err := retry.Do(ctx, o.exec, func(ctx context.Context) (int, error) {
		return o.store.Size(ctx, cmd.TenantID)
	})
	if err != nil {
		return o.failure(ctx, err)
	}
	err = retry.DoVoid(ctx, o.exec, func(ctx context.Context) error {
		return o.store.ClearAll(ctx, cmd.TenantID)
	})
	if err != nil {
		return o.failure(ctx, err)
	}

	if sess := o.pool.Session(cmd.TenantID); sess != nil {
		if sess.State() == node.SessionBound {
			if err := o.pool.StopPlayback(ctx, sess); err != nil {
				l := log.WithComponentFromContext(ctx, "orchestrator")
				l.Warn().Err(err).Msg("stop after clear failed")
			}
		}
		sess.SetCurrentTrack("")
	}
	return Result{
		Success:     true,
		Removed:     n,
		UserMessage: fmt.Sprintf("cleared %d queued tracks", n),
	}
}

func (o *Orchestrator) queueSize(ctx context.Context, cmd Command) Result {
	n, err := retry.Do(ctx, o.exec, func(ctx context.Context) (int, error) {
		return o.store.Size(ctx, cmd.TenantID)
	})
	if err != nil {
		return o.failure(ctx, err)
	}
	return Result{Success: true, Size: n, UserMessage: fmt.Sprintf("%d tracks queued", n)}
}

func (o *Orchestrator) leave(ctx context.Context, cmd Command) Result {
	if sess := o.pool.Session(cmd.TenantID); sess != nil && sess.State() == node.SessionBound {
		if err := o.pool.StopPlayback(ctx, sess); err != nil {
			l := log.WithComponentFromContext(ctx, "orchestrator")
			l.Warn().Err(err).Msg("stop on leave failed")
		}
	}
	o.pool.ReleaseSession(cmd.TenantID)
	return Result{Success: true, UserMessage: "disconnected"}
}

type head struct {
	ref string
	ok  bool
}

// advance pops the queue head and starts it, skipping entries that no longer
// resolve. Returns the started track's title, or "" when the queue drained
// and playback was stopped. Callers hold the tenant lock.
func (o *Orchestrator) advance(ctx context.Context, tenantID string, sess *node.Session) (string, error) {
	for {
		h, err := retry.Do(ctx, o.exec, func(ctx context.Context) (head, error) {
			ref, ok, err := o.store.DequeueHead(ctx, tenantID)
			return head{ref: ref, ok: ok}, err
		})
		if err != nil {
			return "", err
		}
		if !h.ok {
			if err := o.pool.StopPlayback(ctx, sess); err != nil {
				l := log.WithComponentFromContext(ctx, "orchestrator")
				l.Warn().Err(err).Msg("stop on empty queue failed")
			}
			sess.SetCurrentTrack("")
			return "", nil
		}

		meta, err := retry.Do(ctx, o.exec, func(ctx context.Context) (node.TrackMetadata, error) {
			return o.pool.LoadTrack(ctx, sess, h.ref)
		})
		if err != nil {
			if fault.KindOf(err) == fault.KindNotFound {
				l := log.WithComponentFromContext(ctx, "orchestrator")
				l.Info().Str("query", h.ref).Msg("dropping queue entry that no longer resolves")
				continue
			}
			return "", err
		}

		err = retry.DoVoid(ctx, o.exec, func(ctx context.Context) error {
			return o.pool.Play(ctx, sess, meta.Ref)
		})
		if err != nil {
			return "", err
		}
		sess.SetCurrentTrack(meta.Ref)
		return meta.Title, nil
	}
}

// failure logs a classified error with tenant correlation and turns it into a
// user-facing result. Queue state is never mutated on the failure path.
func (o *Orchestrator) failure(ctx context.Context, err error) Result {
	cls := fault.Classify(err)
	l := log.WithComponentFromContext(ctx, "orchestrator")
	evt := l.Error()
	switch cls.Severity {
	case fault.SeverityInfo:
		evt = l.Info()
	case fault.SeverityWarning:
		evt = l.Warn()
	case fault.SeverityCritical:
		evt = l.Error().Bool("operator_action_required", true)
	}
	evt.Err(err).
		Str("kind", string(cls.Kind)).
		Bool("retryable", cls.Retryable).
		Msg("command failed")
	return Result{UserMessage: userMessage(err)}
}
