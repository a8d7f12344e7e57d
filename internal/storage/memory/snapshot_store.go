package memory

import (
	"context"
	"sync"

	"tower-feed/internal/domain"
	"tower-feed/internal/storage"
)

// SnapshotStore is an in-memory implementation of storage.SnapshotStore.
// It records every successful save and can be told to fail.
type SnapshotStore struct {
	mu      sync.RWMutex
	state   *domain.TowerState
	saves   []domain.TowerState
	saveErr error
	loadErr error
	closed  bool
}

// NewSnapshotStore creates a new empty in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{}
}

// Name returns the backend name.
func (s *SnapshotStore) Name() string {
	return "memory"
}

// Load returns a copy of the stored snapshot.
func (s *SnapshotStore) Load(_ context.Context) (*domain.TowerState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.state == nil {
		return nil, storage.ErrNotFound
	}
	out := s.state.Clone()
	return &out, nil
}

// Save stores a copy of state.
func (s *SnapshotStore) Save(_ context.Context, state *domain.TowerState) error {
	if state == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saveErr != nil {
		return s.saveErr
	}
	stored := state.Clone()
	s.state = &stored
	s.saves = append(s.saves, state.Clone())
	return nil
}

// Close marks the store closed.
func (s *SnapshotStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// FailSaves makes subsequent saves return err. Nil restores saving.
func (s *SnapshotStore) FailSaves(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveErr = err
}

// FailLoads makes subsequent loads return err.
func (s *SnapshotStore) FailLoads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadErr = err
}

// Saves returns every successfully saved snapshot in order.
func (s *SnapshotStore) Saves() []domain.TowerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.TowerState, len(s.saves))
	copy(out, s.saves)
	return out
}

// Closed reports whether Close was called.
func (s *SnapshotStore) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
