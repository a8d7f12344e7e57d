package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tower-feed/internal/domain"
	"tower-feed/internal/storage"
)

// snapshotRowID is the fixed key of the single tower row.
const snapshotRowID = "global"

// SnapshotStore is a PostgreSQL implementation of storage.SnapshotStore.
// Uses the tower_state table with one row keyed 'global'; the log is stored
// as a JSONB array.
type SnapshotStore struct {
	pool *Pool
}

// NewSnapshotStore creates a new PostgreSQL snapshot store.
func NewSnapshotStore(pool *Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Name returns the backend name.
func (s *SnapshotStore) Name() string {
	return "postgres"
}

// EnsureRow creates the tower row with a default state when it is missing.
// An existing row is left untouched.
func (s *SnapshotStore) EnsureRow(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tower_state (id, height, last_action_ts, log, updated_at)
		VALUES ($1, 0, $2, '[]'::jsonb, NOW())
		ON CONFLICT (id) DO NOTHING
	`, snapshotRowID, time.Now().UnixMilli())
	if err != nil {
		if isUndefinedTableError(err) {
			return fmt.Errorf("ensure tower row: table missing, migrations not applied: %w", err)
		}
		return fmt.Errorf("ensure tower row: %w", err)
	}
	return nil
}

// Load returns the stored snapshot.
func (s *SnapshotStore) Load(ctx context.Context) (*domain.TowerState, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT height, last_action_ts, log
		FROM tower_state
		WHERE id = $1
	`, snapshotRowID)

	var (
		state   domain.TowerState
		logJSON []byte
	)
	if err := row.Scan(&state.Height, &state.LastActionTs, &logJSON); err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("load tower row: %w", err)
	}

	if err := json.Unmarshal(logJSON, &state.Log); err != nil {
		return nil, fmt.Errorf("decode tower log: %w", err)
	}
	if state.Log == nil {
		state.Log = []domain.LogEntry{}
	}

	return &state, nil
}

// Save upserts the snapshot into the tower row.
func (s *SnapshotStore) Save(ctx context.Context, state *domain.TowerState) error {
	if state == nil {
		return storage.ErrInvalidInput
	}

	entries := state.Log
	if entries == nil {
		entries = []domain.LogEntry{}
	}
	logJSON, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode tower log: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO tower_state (id, height, last_action_ts, log, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, NOW())
		ON CONFLICT (id) DO UPDATE
		SET height = EXCLUDED.height,
		    last_action_ts = EXCLUDED.last_action_ts,
		    log = EXCLUDED.log,
		    updated_at = NOW()
	`, snapshotRowID, state.Height, state.LastActionTs, string(logJSON))
	if err != nil {
		return fmt.Errorf("save tower row: %w", err)
	}
	return nil
}

// Close closes the underlying pool.
func (s *SnapshotStore) Close() error {
	s.pool.Close()
	return nil
}
