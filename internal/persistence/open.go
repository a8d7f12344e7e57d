package persistence

import (
	"context"
	"fmt"
	"log"
	"time"

	"tower-feed/internal/storage"
	"tower-feed/internal/storage/file"
	"tower-feed/internal/storage/migrations"
	"tower-feed/internal/storage/postgres"
)

// DefaultStatePath is the default file backend location.
const DefaultStatePath = "state.json"

// OpenOptions configures backend selection.
type OpenOptions struct {
	DatabaseURL    string        // empty selects the file backend
	StatePath      string        // Default: state.json
	ConnectTimeout time.Duration // Default: 10s for the whole postgres bring-up
	Logger         *log.Logger
}

// Open selects the snapshot backend once for the life of the process. With
// a database URL it connects, applies migrations and ensures the tower row;
// any failure in that bring-up falls back to the file backend for good.
func Open(ctx context.Context, opts OpenOptions) storage.SnapshotStore {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	statePath := opts.StatePath
	if statePath == "" {
		statePath = DefaultStatePath
	}

	if opts.DatabaseURL != "" {
		store, err := openPostgres(ctx, opts)
		if err == nil {
			logger.Println("Using postgres backend")
			return store
		}
		logger.Printf("WARN: postgres unavailable, falling back to file %s: %v", statePath, err)
	}

	logger.Printf("Using file backend %s", statePath)
	return file.NewStore(statePath)
}

func openPostgres(ctx context.Context, opts OpenOptions) (*postgres.SnapshotStore, error) {
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := postgres.NewPool(ctx, opts.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if _, err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	store := postgres.NewSnapshotStore(pool)
	if err := store.EnsureRow(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}
