// Package file stores the tower snapshot as a JSON document on local disk.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"tower-feed/internal/domain"
	"tower-feed/internal/storage"
)

// Store is a local-file implementation of storage.SnapshotStore. Writes go
// to a temporary file in the same directory which is then renamed over the
// target, so a crash never leaves a half-written snapshot.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a store writing to path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Name returns the backend name.
func (s *Store) Name() string {
	return "file"
}

// Path returns the snapshot file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the snapshot file.
func (s *Store) Load(_ context.Context) (*domain.TowerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}

	var state domain.TowerState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	if state.Log == nil {
		state.Log = []domain.LogEntry{}
	}
	return &state, nil
}

// Save writes the snapshot atomically.
func (s *Store) Save(_ context.Context, state *domain.TowerState) error {
	if state == nil {
		return storage.ErrInvalidInput
	}

	out := *state
	if out.Log == nil {
		out.Log = []domain.LogEntry{}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", tmpPath, err)
	}
	return nil
}

// Close is a no-op; every Save is complete on return.
func (s *Store) Close() error {
	return nil
}
