// SPDX-License-Identifier: MIT

// Package store provides the durable per-tenant playback queue and the
// tenant allowlist. Everything is keyed by tenant; no operation coordinates
// across tenants.
package store

import (
	"context"
	"time"

	"github.com/ManuGH/playq/internal/fault"
)

// Entry is a queued playback request. Ordering is by Seq, which is strictly
// increasing per tenant and never reused, so removals never renumber.
type Entry struct {
	TenantID   string    `json:"tenantId"`
	Seq        uint64    `json:"seq"`
	TrackRef   string    `json:"trackRef"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// QueueStore is the durable per-tenant queue plus allowlist.
type QueueStore interface {
	// IsAllowed reports whether the tenant may use the service. It fails
	// closed: any backend error yields false, never an error.
	IsAllowed(ctx context.Context, tenantID string) bool

	// Allow and Disallow manage allowlist membership.
	Allow(ctx context.Context, tenantID string) error
	Disallow(ctx context.Context, tenantID string) error

	// Enqueue appends a request under a fresh sequence number and returns
	// its 1-based rank among the tenant's queued entries.
	Enqueue(ctx context.Context, tenantID, trackRef string) (int, error)

	// DequeueHead atomically removes and returns the entry with the
	// smallest sequence number. A racing removal yields ok=false, not an
	// error, so each entry is dequeued at most once.
	DequeueHead(ctx context.Context, tenantID string) (trackRef string, ok bool, err error)

	// PeekHead returns the head entry without removing it.
	PeekHead(ctx context.Context, tenantID string) (trackRef string, ok bool, err error)

	// Size returns the number of queued entries for the tenant.
	Size(ctx context.Context, tenantID string) (int, error)

	// ClearAll deletes every queued entry for the tenant, entry by entry.
	// The backend has no multi-key transactions to lean on.
	ClearAll(ctx context.Context, tenantID string) error

	Close() error
}

// Config selects and locates a backend.
type Config struct {
	Driver string // "badger", "sqlite" or "memory"
	Path   string // data directory (badger) or database file (sqlite)
}

// Open creates a QueueStore for the configured backend.
func Open(cfg Config) (QueueStore, error) {
	switch cfg.Driver {
	case "", "badger":
		return OpenBadger(cfg.Path)
	case "sqlite":
		return OpenSqlite(cfg.Path)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fault.Errorf(fault.KindBackendDenied, "store.open", "unknown store driver %q", cfg.Driver)
	}
}
