package storage

import (
	"context"

	"tower-feed/internal/domain"
)

// SnapshotStore persists the single tower snapshot. Implementations are
// selected once at startup; callers depend only on this interface.
type SnapshotStore interface {
	// Load returns the last saved snapshot. Returns ErrNotFound if nothing
	// has been saved yet.
	Load(ctx context.Context) (*domain.TowerState, error)

	// Save replaces the stored snapshot. Returns ErrInvalidInput for nil.
	Save(ctx context.Context, state *domain.TowerState) error

	// Close releases the backend.
	Close() error

	// Name identifies the backend in logs and metrics.
	Name() string
}
