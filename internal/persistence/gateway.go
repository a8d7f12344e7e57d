// Package persistence writes tower snapshots to the backend chosen at
// startup, coalescing rapid changes into one write.
package persistence

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"tower-feed/internal/domain"
	"tower-feed/internal/observability"
	"tower-feed/internal/storage"
)

// DefaultDebounce is the default write coalescing window.
const DefaultDebounce = 500 * time.Millisecond

// writeTimeout bounds a single background write.
const writeTimeout = 10 * time.Second

// Gateway is the tower's only path to durable storage. Load and Schedule
// never fail: errors are logged and the tower keeps running in memory.
type Gateway struct {
	store    storage.SnapshotStore
	debounce time.Duration
	logger   *log.Logger
	now      func() time.Time

	mu         sync.Mutex
	pending    *domain.TowerState
	pendingSeq uint64
	seq        uint64
	timer      *time.Timer
	closed     bool

	// inflight counts timer writes that have taken a snapshot.
	inflight sync.WaitGroup

	// writeMu serializes writes; written is the newest seq on disk.
	writeMu sync.Mutex
	written uint64
}

// GatewayOptions contains configuration for creating a Gateway.
type GatewayOptions struct {
	Store    storage.SnapshotStore
	Debounce time.Duration // Default: 500ms
	Logger   *log.Logger
	Clock    func() time.Time
}

// NewGateway creates a new persistence gateway over store.
func NewGateway(opts GatewayOptions) *Gateway {
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	return &Gateway{
		store:    opts.Store,
		debounce: debounce,
		logger:   logger,
		now:      now,
	}
}

// Backend returns the name of the active backend.
func (g *Gateway) Backend() string {
	return g.store.Name()
}

// Load returns the saved snapshot, or a fresh default state when nothing is
// saved or the backend fails.
func (g *Gateway) Load(ctx context.Context) domain.TowerState {
	state, err := g.store.Load(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		g.logger.Printf("No saved state in %s, starting fresh", g.store.Name())
		return domain.DefaultTowerState(g.now().UnixMilli())
	case err != nil:
		g.logger.Printf("WARN: load from %s failed, starting fresh: %v", g.store.Name(), err)
		return domain.DefaultTowerState(g.now().UnixMilli())
	}

	if state.Height < 0 {
		g.logger.Printf("WARN: saved height %d is negative, clamping to 0", state.Height)
		state.Height = 0
	}
	if state.Log == nil {
		state.Log = []domain.LogEntry{}
	}
	g.logger.Printf("Loaded state from %s: height %d, %d log entries", g.store.Name(), state.Height, len(state.Log))
	return *state
}

// Schedule queues state for writing. Changes arriving within the debounce
// window collapse into one write of the latest state. The window starts at
// the first pending change and is not extended by later ones, so a steady
// stream of changes still reaches disk every window.
func (g *Gateway) Schedule(state domain.TowerState) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return
	}

	g.seq++
	snapshot := state.Clone()
	g.pending = &snapshot
	g.pendingSeq = g.seq

	if g.timer == nil {
		g.timer = time.AfterFunc(g.debounce, g.fire)
	}
}

func (g *Gateway) fire() {
	state, seq := g.takePending(true)
	if state == nil {
		return
	}
	defer g.inflight.Done()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	g.write(ctx, state, seq)
}

// takePending removes and returns the pending snapshot, stopping the timer.
// With track set (timer writes), a taken snapshot is counted in inflight and
// nothing is taken once the gateway is closed; Close writes it instead.
func (g *Gateway) takePending(track bool) (*domain.TowerState, uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if track && g.closed {
		return nil, 0
	}
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	state, seq := g.pending, g.pendingSeq
	g.pending = nil
	if state != nil && track {
		g.inflight.Add(1)
	}
	return state, seq
}

// write saves state unless a newer snapshot has already been written.
// A failed save is logged and the snapshot goes back to pending.
func (g *Gateway) write(ctx context.Context, state *domain.TowerState, seq uint64) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	if seq <= g.written {
		return nil
	}

	start := time.Now()
	err := g.store.Save(ctx, state)
	observability.RecordPersistenceWrite(g.store.Name(), time.Since(start).Seconds(), err)
	if err != nil {
		g.logger.Printf("WARN: save to %s failed, will retry: %v", g.store.Name(), err)
		g.requeue(state, seq)
		return err
	}
	g.written = seq
	return nil
}

// requeue restores a snapshot whose save failed unless a newer change has
// been scheduled since, and arms the timer for another attempt.
func (g *Gateway) requeue(state *domain.TowerState, seq uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pendingSeq > seq {
		return
	}
	g.pending = state
	g.pendingSeq = seq
	if !g.closed && g.timer == nil {
		g.timer = time.AfterFunc(g.debounce, g.fire)
	}
}

// Flush synchronously writes the pending snapshot, if any.
func (g *Gateway) Flush(ctx context.Context) error {
	state, seq := g.takePending(false)
	if state == nil {
		return nil
	}
	return g.write(ctx, state, seq)
}

// Close stops accepting changes, flushes the pending snapshot and closes the
// backend. It is safe to call more than once.
func (g *Gateway) Close(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.mu.Unlock()

	// Timer writes that started before close finish first; a failed one
	// leaves its snapshot pending for the flush below.
	g.inflight.Wait()
	flushErr := g.Flush(ctx)

	return errors.Join(flushErr, g.store.Close())
}
