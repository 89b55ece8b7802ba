// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory QueueStore for tests and development.
type MemoryStore struct {
	mu      sync.Mutex
	allowed map[string]bool
	queues  map[string]map[uint64]Entry
	nextSeq map[string]uint64

	// failAll, when set, makes every operation fail with the given error.
	// Tests use it to exercise fail-closed behaviour.
	failAll error
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		allowed: make(map[string]bool),
		queues:  make(map[string]map[uint64]Entry),
		nextSeq: make(map[string]uint64),
	}
}

// FailWith forces every subsequent operation to fail with err. Pass nil to
// restore normal operation.
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAll = err
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) IsAllowed(ctx context.Context, tenantID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll != nil {
		return false // fail closed
	}
	return s.allowed[tenantID]
}

func (s *MemoryStore) Allow(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll != nil {
		return s.failAll
	}
	s.allowed[tenantID] = true
	return nil
}

func (s *MemoryStore) Disallow(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll != nil {
		return s.failAll
	}
	delete(s.allowed, tenantID)
	return nil
}

func (s *MemoryStore) Enqueue(ctx context.Context, tenantID, trackRef string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll != nil {
		return 0, s.failAll
	}
	s.nextSeq[tenantID]++
	seq := s.nextSeq[tenantID]
	q := s.queues[tenantID]
	if q == nil {
		q = make(map[uint64]Entry)
		s.queues[tenantID] = q
	}
	q[seq] = Entry{TenantID: tenantID, Seq: seq, TrackRef: trackRef, EnqueuedAt: time.Now().UTC()}
	return len(q), nil
}

func (s *MemoryStore) DequeueHead(ctx context.Context, tenantID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll != nil {
		return "", false, s.failAll
	}
	seqs := s.sortedSeqs(tenantID)
	if len(seqs) == 0 {
		return "", false, nil
	}
	head := seqs[0]
	entry := s.queues[tenantID][head]
	delete(s.queues[tenantID], head)
	return entry.TrackRef, true, nil
}

func (s *MemoryStore) PeekHead(ctx context.Context, tenantID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll != nil {
		return "", false, s.failAll
	}
	seqs := s.sortedSeqs(tenantID)
	if len(seqs) == 0 {
		return "", false, nil
	}
	return s.queues[tenantID][seqs[0]].TrackRef, true, nil
}

func (s *MemoryStore) Size(ctx context.Context, tenantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll != nil {
		return 0, s.failAll
	}
	return len(s.queues[tenantID]), nil
}

func (s *MemoryStore) ClearAll(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll != nil {
		return s.failAll
	}
	delete(s.queues, tenantID)
	return nil
}

func (s *MemoryStore) sortedSeqs(tenantID string) []uint64 {
	q := s.queues[tenantID]
	seqs := make([]uint64, 0, len(q))
	for seq := range q {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs
}

var _ QueueStore = (*MemoryStore)(nil)
