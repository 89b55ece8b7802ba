// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingSource struct {
	allowed map[string]bool
	calls   int
}

func (s *countingSource) IsAllowed(_ context.Context, tenantID string) bool {
	s.calls++
	return s.allowed[tenantID]
}

func TestAllowlistReadThrough(t *testing.T) {
	src := &countingSource{allowed: map[string]bool{"guild-1": true}}
	mem := NewMemory(0)
	defer mem.Close()
	al := NewAllowlist(src, mem, time.Minute, time.Second)
	ctx := context.Background()

	assert.True(t, al.IsAllowed(ctx, "guild-1"))
	assert.True(t, al.IsAllowed(ctx, "guild-1"))
	assert.Equal(t, 1, src.calls, "second lookup must come from cache")
}

func TestAllowlistDenialCachedBriefly(t *testing.T) {
	src := &countingSource{allowed: map[string]bool{}}
	mem := NewMemory(0)
	defer mem.Close()
	al := NewAllowlist(src, mem, time.Minute, 10*time.Millisecond)
	ctx := context.Background()

	assert.False(t, al.IsAllowed(ctx, "guild-2"))
	assert.False(t, al.IsAllowed(ctx, "guild-2"))
	assert.Equal(t, 1, src.calls)

	// After the negative TTL the source is consulted again, so a recovered
	// store (or a freshly allowlisted tenant) is picked up quickly.
	src.allowed["guild-2"] = true
	time.Sleep(20 * time.Millisecond)
	assert.True(t, al.IsAllowed(ctx, "guild-2"))
	assert.Equal(t, 2, src.calls)
}

func TestAllowlistInvalidate(t *testing.T) {
	src := &countingSource{allowed: map[string]bool{"guild-1": true}}
	mem := NewMemory(0)
	defer mem.Close()
	al := NewAllowlist(src, mem, time.Minute, time.Second)
	ctx := context.Background()

	assert.True(t, al.IsAllowed(ctx, "guild-1"))
	src.allowed["guild-1"] = false
	al.Invalidate("guild-1")
	assert.False(t, al.IsAllowed(ctx, "guild-1"), "invalidate must force a source re-read")
}
