// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ManuGH/playq/internal/fault"
	"github.com/ManuGH/playq/internal/log"
	"github.com/ManuGH/playq/internal/metrics"
	"github.com/ManuGH/playq/internal/persistence/sqlite"
)

const sqliteSchemaVersion = 1

// SqliteStore implements QueueStore on SQLite.
type SqliteStore struct {
	db *sql.DB
}

// OpenSqlite initializes the SQLite-backed queue store.
func OpenSqlite(dbPath string) (*SqliteStore, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, fault.Wrap(fault.KindBackendDenied, "store.open", err)
	}
	s := &SqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fault.Wrap(fault.KindBackendDenied, "store.open", err)
	}
	return s, nil
}

func (s *SqliteStore) Close() error { return s.db.Close() }

func (s *SqliteStore) migrate() error {
	var current int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return err
	}
	if current >= sqliteSchemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS queue_entries (
		tenant_id    TEXT    NOT NULL,
		seq          INTEGER NOT NULL,
		track_ref    TEXT    NOT NULL,
		enqueued_at_ms INTEGER NOT NULL,
		PRIMARY KEY (tenant_id, seq)
	);
	CREATE TABLE IF NOT EXISTS tenant_seq (
		tenant_id TEXT PRIMARY KEY,
		next_seq  INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS allowlist (
		tenant_id TEXT PRIMARY KEY
	);`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec("PRAGMA user_version = 1"); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SqliteStore) IsAllowed(ctx context.Context, tenantID string) bool {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM allowlist WHERE tenant_id = ?", tenantID).Scan(&one)
	if err == nil {
		return true
	}
	if !errors.Is(err, sql.ErrNoRows) {
		l := log.WithComponentFromContext(ctx, "store")
		l.Error().Err(err).
			Str(log.FieldTenantID, tenantID).
			Msg("allowlist lookup failed, denying")
		metrics.AllowlistDeniedTotal.WithLabelValues("backend_error").Inc()
	}
	return false
}

func (s *SqliteStore) Allow(ctx context.Context, tenantID string) error {
	_, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO allowlist (tenant_id) VALUES (?)", tenantID)
	return fault.Wrap(fault.KindBackend, "store.allow", err)
}

func (s *SqliteStore) Disallow(ctx context.Context, tenantID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM allowlist WHERE tenant_id = ?", tenantID)
	return fault.Wrap(fault.KindBackend, "store.disallow", err)
}

func (s *SqliteStore) Enqueue(ctx context.Context, tenantID, trackRef string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fault.Wrap(fault.KindBackend, "store.enqueue", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq uint64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO tenant_seq (tenant_id, next_seq) VALUES (?, 1)
		ON CONFLICT(tenant_id) DO UPDATE SET next_seq = next_seq + 1
		RETURNING next_seq`, tenantID).Scan(&seq)
	if err != nil {
		return 0, fault.Wrap(fault.KindBackend, "store.enqueue", err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO queue_entries (tenant_id, seq, track_ref, enqueued_at_ms) VALUES (?, ?, ?, ?)",
		tenantID, seq, trackRef, time.Now().UnixMilli())
	if err != nil {
		return 0, fault.Wrap(fault.KindBackend, "store.enqueue", err)
	}

	var rank int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM queue_entries WHERE tenant_id = ?", tenantID).Scan(&rank); err != nil {
		return 0, fault.Wrap(fault.KindBackend, "store.enqueue", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fault.Wrap(fault.KindBackendThrottled, "store.enqueue", err)
	}
	metrics.QueueOpsTotal.WithLabelValues("enqueue", "ok").Inc()
	return rank, nil
}

func (s *SqliteStore) DequeueHead(ctx context.Context, tenantID string) (string, bool, error) {
	// Single-statement read-and-conditional-delete: a racing dequeue simply
	// finds no row and reads as "empty".
	var trackRef string
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM queue_entries
		WHERE tenant_id = ?1
		  AND seq = (SELECT MIN(seq) FROM queue_entries WHERE tenant_id = ?1)
		RETURNING track_ref`, tenantID).Scan(&trackRef)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fault.Wrap(fault.KindBackend, "store.dequeueHead", err)
	}
	metrics.QueueOpsTotal.WithLabelValues("dequeue", "ok").Inc()
	return trackRef, true, nil
}

func (s *SqliteStore) PeekHead(ctx context.Context, tenantID string) (string, bool, error) {
	var trackRef string
	err := s.db.QueryRowContext(ctx, `
		SELECT track_ref FROM queue_entries
		WHERE tenant_id = ? ORDER BY seq LIMIT 1`, tenantID).Scan(&trackRef)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fault.Wrap(fault.KindBackend, "store.peekHead", err)
	}
	return trackRef, true, nil
}

func (s *SqliteStore) Size(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM queue_entries WHERE tenant_id = ?", tenantID).Scan(&n)
	if err != nil {
		return 0, fault.Wrap(fault.KindBackend, "store.size", err)
	}
	return n, nil
}

func (s *SqliteStore) ClearAll(ctx context.Context, tenantID string) error {
	// Entry-by-entry to mirror the ordered-store contract: collect the
	// snapshot, then delete each key individually.
	rows, err := s.db.QueryContext(ctx,
		"SELECT seq FROM queue_entries WHERE tenant_id = ? ORDER BY seq", tenantID)
	if err != nil {
		return fault.Wrap(fault.KindBackend, "store.clearAll", err)
	}
	var seqs []uint64
	for rows.Next() {
		var seq uint64
		if err := rows.Scan(&seq); err != nil {
			_ = rows.Close()
			return fault.Wrap(fault.KindBackend, "store.clearAll", err)
		}
		seqs = append(seqs, seq)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fault.Wrap(fault.KindBackend, "store.clearAll", err)
	}
	if err := rows.Close(); err != nil {
		return fault.Wrap(fault.KindBackend, "store.clearAll", err)
	}

	for _, seq := range seqs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx,
			"DELETE FROM queue_entries WHERE tenant_id = ? AND seq = ?", tenantID, seq); err != nil {
			return fault.Wrap(fault.KindBackend, "store.clearAll", err)
		}
	}
	metrics.QueueOpsTotal.WithLabelValues("clear", "ok").Inc()
	return nil
}

var _ QueueStore = (*SqliteStore)(nil)
