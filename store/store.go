// Package store persists per-module data blobs and named counters in
// Postgres. The core never inspects blob contents; each module owns its own
// schema. Writes that only matter for freshness go through PutAsync, which
// runs on a bounded worker pool and logs failures instead of blocking
// dispatch.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/patchbay-tv/chatbot/telemetry"
)

// Store is safe for concurrent use; all methods hit the database directly.
type Store struct {
	db   *sql.DB
	pool *ants.Pool
	log  *slog.Logger
}

// New wraps db with a flush pool of the given size (minimum 1).
func New(db *sql.DB, flushWorkers int) (*Store, error) {
	if flushWorkers < 1 {
		flushWorkers = 1
	}
	pool, err := ants.NewPool(flushWorkers, ants.WithNonblocking(false))
	if err != nil {
		return nil, fmt.Errorf("create flush pool: %w", err)
	}
	return &Store{
		db:   db,
		pool: pool,
		log:  slog.Default().With(slog.String("component", "store")),
	}, nil
}

// Get returns the stored blob for moduleID, or nil when none exists.
func (s *Store) Get(ctx context.Context, moduleID string) (json.RawMessage, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM module_data WHERE module_id=$1`, moduleID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get module data %s: %w", moduleID, err)
	}
	return raw, nil
}

// GetInto unmarshals the stored blob for moduleID into v. Missing data
// leaves v untouched and returns false.
func (s *Store) GetInto(ctx context.Context, moduleID string, v any) (bool, error) {
	raw, err := s.Get(ctx, moduleID)
	if err != nil || raw == nil {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode module data %s: %w", moduleID, err)
	}
	return true, nil
}

// Put upserts the blob for moduleID. v is marshaled as JSON.
func (s *Store) Put(ctx context.Context, moduleID string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode module data %s: %w", moduleID, err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO module_data (module_id, data, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (module_id) DO UPDATE SET data=EXCLUDED.data, updated_at=NOW()`, moduleID, raw)
	if err != nil {
		return fmt.Errorf("put module data %s: %w", moduleID, err)
	}
	return nil
}

// PutAsync flushes v for moduleID on the worker pool. Failures are logged
// and counted; in-memory state stays authoritative until the next flush.
func (s *Store) PutAsync(moduleID string, v any) {
	// Marshal on the caller to snapshot the value before it changes.
	raw, err := json.Marshal(v)
	if err != nil {
		s.log.Error("encode for async flush failed", slog.String("module", moduleID), slog.Any("err", err))
		return
	}
	submit := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := s.db.ExecContext(ctx, `INSERT INTO module_data (module_id, data, updated_at) VALUES ($1, $2, NOW())
			ON CONFLICT (module_id) DO UPDATE SET data=EXCLUDED.data, updated_at=NOW()`, moduleID, raw); err != nil {
			if telemetry.StoreFlushFailed != nil {
				telemetry.StoreFlushFailed.Inc()
			}
			s.log.Warn("async flush failed", slog.String("module", moduleID), slog.Any("err", err))
		}
	}
	if err := s.pool.Submit(submit); err != nil {
		s.log.Warn("flush pool rejected task; flushing inline", slog.String("module", moduleID), slog.Any("err", err))
		submit()
	}
}

// GetCounter returns the named counter, 0 when unset.
func (s *Store) GetCounter(ctx context.Context, name string) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM counters WHERE name=$1`, name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get counter %s: %w", name, err)
	}
	return v, nil
}

// SetCounter upserts the named counter.
func (s *Store) SetCounter(ctx context.Context, name string, value int64) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO counters (name, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`, name, value)
	if err != nil {
		return fmt.Errorf("set counter %s: %w", name, err)
	}
	return nil
}

// IncrCounter adds delta to the named counter and returns the new value.
func (s *Store) IncrCounter(ctx context.Context, name string, delta int64) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `INSERT INTO counters (name, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET value=counters.value+EXCLUDED.value, updated_at=NOW()
		RETURNING value`, name, delta).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("incr counter %s: %w", name, err)
	}
	return v, nil
}

// Close waits briefly for pending async flushes and releases the pool.
func (s *Store) Close() {
	if err := s.pool.ReleaseTimeout(5 * time.Second); err != nil {
		s.log.Warn("flush pool did not drain before shutdown", slog.Any("err", err))
	}
}
