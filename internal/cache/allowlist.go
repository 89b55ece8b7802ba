// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"time"
)

// AllowlistSource answers authorization checks. Satisfied by store.QueueStore.
type AllowlistSource interface {
	IsAllowed(ctx context.Context, tenantID string) bool
}

// Allowlist is a read-through cache over the store allowlist. Denials are
// cached only briefly: a store outage (which reads as denial) must not pin a
// tenant out for the whole positive TTL.
type Allowlist struct {
	src    AllowlistSource
	cache  Cache
	posTTL time.Duration
	negTTL time.Duration
}

// NewAllowlist wraps src with the given cache. Zero TTLs get defaults
// (60s positive, 5s negative).
func NewAllowlist(src AllowlistSource, c Cache, posTTL, negTTL time.Duration) *Allowlist {
	if posTTL <= 0 {
		posTTL = 60 * time.Second
	}
	if negTTL <= 0 {
		negTTL = 5 * time.Second
	}
	return &Allowlist{src: src, cache: c, posTTL: posTTL, negTTL: negTTL}
}

const allowlistKeyPrefix = "allow:"

// IsAllowed checks the cache, then the source. The source already fails
// closed, so the result is always a definite bool.
func (a *Allowlist) IsAllowed(ctx context.Context, tenantID string) bool {
	key := allowlistKeyPrefix + tenantID
	if v, ok := a.cache.Get(key); ok {
		if allowed, ok := v.(bool); ok {
			return allowed
		}
	}
	allowed := a.src.IsAllowed(ctx, tenantID)
	ttl := a.negTTL
	if allowed {
		ttl = a.posTTL
	}
	a.cache.Set(key, allowed, ttl)
	return allowed
}

// Invalidate drops the cached verdict for a tenant. Called after admin
// allow/disallow mutations.
func (a *Allowlist) Invalidate(tenantID string) {
	a.cache.Delete(allowlistKeyPrefix + tenantID)
}
