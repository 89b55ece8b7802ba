// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backends returns one fresh store per driver, all backed by t.TempDir().
func backends(t *testing.T) map[string]QueueStore {
	t.Helper()
	dir := t.TempDir()

	badgerStore, err := OpenBadger(filepath.Join(dir, "badger"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = badgerStore.Close() })

	sqliteStore, err := OpenSqlite(filepath.Join(dir, "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteStore.Close() })

	return map[string]QueueStore{
		"badger": badgerStore,
		"sqlite": sqliteStore,
		"memory": NewMemory(),
	}
}

func TestEnqueueRankAndSize(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			rank, err := s.Enqueue(ctx, "tenantA", "trackX")
			require.NoError(t, err)
			assert.Equal(t, 1, rank, "first entry in an empty queue has rank 1")

			n, err := s.Size(ctx, "tenantA")
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			for k := 2; k <= 5; k++ {
				rank, err = s.Enqueue(ctx, "tenantA", fmt.Sprintf("track-%d", k))
				require.NoError(t, err)
				assert.Equal(t, k, rank)
			}
			n, err = s.Size(ctx, "tenantA")
			require.NoError(t, err)
			assert.Equal(t, 5, n)
		})
	}
}

func TestDequeueStrictOrder(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			want := []string{"a", "b", "c", "d"}
			for _, ref := range want {
				_, err := s.Enqueue(ctx, "tenantA", ref)
				require.NoError(t, err)
			}

			var got []string
			for {
				ref, ok, err := s.DequeueHead(ctx, "tenantA")
				require.NoError(t, err)
				if !ok {
					break
				}
				got = append(got, ref)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("dequeue order mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDequeueEmptyQueue(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.DequeueHead(context.Background(), "nobody")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestPeekDoesNotRemove(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.Enqueue(ctx, "tenantA", "only")
			require.NoError(t, err)

			ref, ok, err := s.PeekHead(ctx, "tenantA")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "only", ref)

			n, err := s.Size(ctx, "tenantA")
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

func TestCrossTenantIsolation(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.Enqueue(ctx, "tenantA", "a1")
			require.NoError(t, err)
			_, err = s.Enqueue(ctx, "tenantB", "b1")
			require.NoError(t, err)
			_, err = s.Enqueue(ctx, "tenantA", "a2")
			require.NoError(t, err)

			ref, ok, err := s.DequeueHead(ctx, "tenantB")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "b1", ref)

			nA, err := s.Size(ctx, "tenantA")
			require.NoError(t, err)
			assert.Equal(t, 2, nA, "tenantB activity must not touch tenantA")
		})
	}
}

func TestClearAll(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 7; i++ {
				_, err := s.Enqueue(ctx, "tenantA", fmt.Sprintf("t%d", i))
				require.NoError(t, err)
			}
			require.NoError(t, s.ClearAll(ctx, "tenantA"))

			n, err := s.Size(ctx, "tenantA")
			require.NoError(t, err)
			assert.Equal(t, 0, n)
		})
	}
}

func TestSequenceNumbersNeverReused(t *testing.T) {
	// Drain the queue, then enqueue again: the new entry must still sort
	// after anything previously stored, which only holds if counters are
	// not reset on empty.
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.Enqueue(ctx, "tenantA", "first")
			require.NoError(t, err)
			_, _, err = s.DequeueHead(ctx, "tenantA")
			require.NoError(t, err)

			_, err = s.Enqueue(ctx, "tenantA", "old-head")
			require.NoError(t, err)
			_, err = s.Enqueue(ctx, "tenantA", "newer")
			require.NoError(t, err)

			ref, ok, err := s.DequeueHead(ctx, "tenantA")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "old-head", ref)
		})
	}
}

func TestAllowlist(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			assert.False(t, s.IsAllowed(ctx, "tenantA"), "absent tenant is denied")

			require.NoError(t, s.Allow(ctx, "tenantA"))
			assert.True(t, s.IsAllowed(ctx, "tenantA"))
			assert.False(t, s.IsAllowed(ctx, "tenantB"))

			require.NoError(t, s.Disallow(ctx, "tenantA"))
			assert.False(t, s.IsAllowed(ctx, "tenantA"))
		})
	}
}

func TestConcurrentDequeueAtMostOnce(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const entries = 20
			for i := 0; i < entries; i++ {
				_, err := s.Enqueue(ctx, "tenantA", fmt.Sprintf("t%03d", i))
				require.NoError(t, err)
			}

			var (
				mu   sync.Mutex
				got  []string
				wg   sync.WaitGroup
				work = entries * 2 // more dequeues than entries
			)
			for i := 0; i < work; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ref, ok, err := s.DequeueHead(ctx, "tenantA")
					assert.NoError(t, err)
					if ok {
						mu.Lock()
						got = append(got, ref)
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			assert.Len(t, got, entries, "every entry dequeued exactly once")
			seen := map[string]bool{}
			for _, ref := range got {
				assert.False(t, seen[ref], "entry %s dequeued twice", ref)
				seen[ref] = true
			}
			n, err := s.Size(ctx, "tenantA")
			require.NoError(t, err)
			assert.Equal(t, 0, n)
		})
	}
}

func TestFactory(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(Config{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(Config{Driver: "badger", Path: filepath.Join(dir, "b")})
	require.NoError(t, err)
	assert.IsType(t, &BadgerStore{}, s)
	require.NoError(t, s.Close())

	s, err = Open(Config{Driver: "sqlite", Path: filepath.Join(dir, "q.db")})
	require.NoError(t, err)
	assert.IsType(t, &SqliteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(Config{Driver: "bogus"})
	assert.Error(t, err)
}
