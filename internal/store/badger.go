// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/ManuGH/playq/internal/fault"
	"github.com/ManuGH/playq/internal/log"
	"github.com/ManuGH/playq/internal/metrics"
)

// BadgerStore is the primary QueueStore backend. Layout:
//   - queue entries: "q:<tenant>:<seq %016x>" (JSON Entry); the hex padding
//     makes lexicographic key order equal sequence order
//   - sequence counter: "seq:<tenant>" (8-byte big endian)
//   - allowlist: "allow:<tenant>" (presence implies authorization)
type BadgerStore struct {
	db *badger.DB
}

// conflictRetries bounds re-runs of transactions that lost an SSI conflict.
// Each re-run observes the competitor's commit, so progress is guaranteed;
// the bound only guards against pathological contention. With many writers
// racing on one tenant a single run can lose dozens of times in a row, so
// the budget is generous and re-runs pause briefly to desynchronize.
const conflictRetries = 256

// conflictBackoff is the pause unit between conflict re-runs. The pause
// grows with the attempt and is capped at 50 units.
const conflictBackoff = 100 * time.Microsecond

// OpenBadger opens or creates the store at path.
func OpenBadger(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fault.Wrap(fault.KindBackendDenied, "store.open", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func queuePrefix(tenantID string) []byte {
	return []byte("q:" + tenantID + ":")
}

func entryKey(tenantID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("q:%s:%016x", tenantID, seq))
}

func seqKey(tenantID string) []byte {
	return []byte("seq:" + tenantID)
}

func allowKey(tenantID string) []byte {
	return []byte("allow:" + tenantID)
}

func (s *BadgerStore) IsAllowed(ctx context.Context, tenantID string) bool {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(allowKey(tenantID))
		return err
	})
	if err == nil {
		return true
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		// Fail closed: a broken backend denies everyone.
		l := log.WithComponentFromContext(ctx, "store")
		l.Error().Err(err).
			Str(log.FieldTenantID, tenantID).
			Msg("allowlist lookup failed, denying")
		metrics.AllowlistDeniedTotal.WithLabelValues("backend_error").Inc()
	}
	return false
}

func (s *BadgerStore) Allow(ctx context.Context, tenantID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(allowKey(tenantID), []byte("1"))
	})
	return fault.Wrap(fault.KindBackend, "store.allow", err)
}

func (s *BadgerStore) Disallow(ctx context.Context, tenantID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(allowKey(tenantID))
	})
	return fault.Wrap(fault.KindBackend, "store.disallow", err)
}

// Enqueue allocates the next sequence number and appends the entry in one
// transaction. The rank is counted inside the same transaction, so it is
// exact at commit time.
func (s *BadgerStore) Enqueue(ctx context.Context, tenantID, trackRef string) (int, error) {
	var rank int
	run := func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			seq, err := nextSeq(txn, tenantID)
			if err != nil {
				return err
			}
			entry := Entry{
				TenantID:   tenantID,
				Seq:        seq,
				TrackRef:   trackRef,
				EnqueuedAt: time.Now().UTC(),
			}
			buf, err := json.Marshal(entry)
			if err != nil {
				return err
			}
			if err := txn.Set(entryKey(tenantID, seq), buf); err != nil {
				return err
			}
			rank = countPrefix(txn, queuePrefix(tenantID))
			return nil
		})
	}
	if err := s.withConflictRetry(run); err != nil {
		metrics.QueueOpsTotal.WithLabelValues("enqueue", "error").Inc()
		return 0, err
	}
	metrics.QueueOpsTotal.WithLabelValues("enqueue", "ok").Inc()
	return rank, nil
}

// nextSeq increments the per-tenant counter. Counters start at 1 and are
// never reset, so sequence numbers are never reused.
func nextSeq(txn *badger.Txn, tenantID string) (uint64, error) {
	var seq uint64
	item, err := txn.Get(seqKey(tenantID))
	switch {
	case err == nil:
		if err := item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("corrupt sequence counter: %d bytes", len(val))
			}
			seq = binary.BigEndian.Uint64(val)
			return nil
		}); err != nil {
			return 0, err
		}
	case errors.Is(err, badger.ErrKeyNotFound):
		seq = 0
	default:
		return 0, err
	}
	seq++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return seq, txn.Set(seqKey(tenantID), buf[:])
}

func countPrefix(txn *badger.Txn, prefix []byte) int {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()
	n := 0
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		n++
	}
	return n
}

func (s *BadgerStore) DequeueHead(ctx context.Context, tenantID string) (string, bool, error) {
	var (
		trackRef string
		found    bool
	)
	run := func() error {
		trackRef, found = "", false
		return s.db.Update(func(txn *badger.Txn) error {
			key, entry, ok, err := headEntry(txn, tenantID)
			if err != nil || !ok {
				return err
			}
			// Delete-if-present: the SSI conflict check turns a racing
			// removal into ErrConflict, which the retry re-reads as empty.
			if err := txn.Delete(key); err != nil {
				return err
			}
			trackRef = entry.TrackRef
			found = true
			return nil
		})
	}
	if err := s.withConflictRetry(run); err != nil {
		metrics.QueueOpsTotal.WithLabelValues("dequeue", "error").Inc()
		return "", false, err
	}
	metrics.QueueOpsTotal.WithLabelValues("dequeue", "ok").Inc()
	return trackRef, found, nil
}

func (s *BadgerStore) PeekHead(ctx context.Context, tenantID string) (string, bool, error) {
	var (
		trackRef string
		found    bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		_, entry, ok, err := headEntry(txn, tenantID)
		if err != nil || !ok {
			return err
		}
		trackRef = entry.TrackRef
		found = true
		return nil
	})
	if err != nil {
		return "", false, fault.Wrap(fault.KindBackend, "store.peekHead", err)
	}
	return trackRef, found, nil
}

func headEntry(txn *badger.Txn, tenantID string) ([]byte, *Entry, bool, error) {
	prefix := queuePrefix(tenantID)
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	it.Seek(prefix)
	if !it.ValidForPrefix(prefix) {
		return nil, nil, false, nil
	}
	item := it.Item()
	key := item.KeyCopy(nil)
	var entry Entry
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &entry)
	}); err != nil {
		return nil, nil, false, err
	}
	return key, &entry, true, nil
}

func (s *BadgerStore) Size(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := s.db.View(func(txn *badger.Txn) error {
		n = countPrefix(txn, queuePrefix(tenantID))
		return nil
	})
	if err != nil {
		return 0, fault.Wrap(fault.KindBackend, "store.size", err)
	}
	return n, nil
}

// ClearAll deletes the tenant's entries one key at a time. Entries enqueued
// concurrently after the snapshot survive, which matches the "clear what was
// there" contract.
func (s *BadgerStore) ClearAll(ctx context.Context, tenantID string) error {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := queuePrefix(tenantID)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fault.Wrap(fault.KindBackend, "store.clearAll", err)
	}

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		del := func() error {
			return s.db.Update(func(txn *badger.Txn) error {
				return txn.Delete(key)
			})
		}
		if err := s.withConflictRetry(del); err != nil {
			return err
		}
	}
	metrics.QueueOpsTotal.WithLabelValues("clear", "ok").Inc()
	return nil
}

// withConflictRetry re-runs a transaction that lost an SSI conflict. The
// conflict means a competitor committed first; re-reading is the resolution.
func (s *BadgerStore) withConflictRetry(run func() error) error {
	var err error
	for i := 0; i < conflictRetries; i++ {
		if i > 0 {
			units := i
			if units > 50 {
				units = 50
			}
			time.Sleep(time.Duration(rand.Intn(units)+1) * conflictBackoff)
		}
		err = run()
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrConflict) {
			return fault.Wrap(fault.KindBackend, "store.txn", err)
		}
		metrics.DequeueRacesTotal.Inc()
	}
	return fault.Wrap(fault.KindBackendThrottled, "store.txn", err)
}

var _ QueueStore = (*BadgerStore)(nil)
