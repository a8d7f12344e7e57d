// Package tower holds the tower state machine and the single task that
// drives it.
package tower

import (
	"fmt"
	"sync"
	"time"

	"tower-feed/internal/domain"
)

// Log messages
const (
	msgEmpty = "tower empty"
)

// Defaults
const (
	DefaultLogCap     = 100
	DefaultDecayAfter = 5 * time.Minute
)

// MachineOptions contains configuration for creating a Machine.
type MachineOptions struct {
	LogCap     int           // Default: 100 entries
	DecayAfter time.Duration // Default: 5m of silence before one decay step
	Clock      func() time.Time
}

// Machine holds the authoritative tower state. Every transition updates
// height, timestamp and log together under one lock.
type Machine struct {
	mu           sync.Mutex
	height       int
	lastActionTs int64 // ms
	log          *logRing
	decayAfter   time.Duration
	now          func() time.Time
}

// NewMachine creates a machine starting from initial. A negative height is
// clamped to zero and only the newest LogCap entries are kept.
func NewMachine(initial domain.TowerState, opts MachineOptions) *Machine {
	logCap := opts.LogCap
	if logCap <= 0 {
		logCap = DefaultLogCap
	}
	decayAfter := opts.DecayAfter
	if decayAfter <= 0 {
		decayAfter = DefaultDecayAfter
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	m := &Machine{
		height:       initial.Height,
		lastActionTs: initial.LastActionTs,
		log:          newLogRing(logCap),
		decayAfter:   decayAfter,
		now:          now,
	}
	if m.height < 0 {
		m.height = 0
	}
	for _, e := range initial.Log {
		m.log.push(e)
	}
	return m
}

// ApplyBuy adds a block. It always changes state.
func (m *Machine) ApplyBuy() (domain.TowerState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.now().UnixMilli()
	m.height++
	m.lastActionTs = ts
	m.log.push(domain.LogEntry{Ts: ts, Message: fmt.Sprintf("block added (height: %d)", m.height)})
	return m.snapshotLocked(), true
}

// ApplySell removes a block. At height zero it is a no-op.
func (m *Machine) ApplySell() (domain.TowerState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.height == 0 {
		return m.snapshotLocked(), false
	}
	m.decrementLocked(m.now().UnixMilli(), "block removed")
	return m.snapshotLocked(), true
}

// ApplyDecay removes one block if nothing happened for DecayAfter before
// now. It is safe to call on every tick.
func (m *Machine) ApplyDecay(now time.Time) (domain.TowerState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := now.UnixMilli()
	if m.height == 0 || ts-m.lastActionTs < m.decayAfter.Milliseconds() {
		return m.snapshotLocked(), false
	}
	m.decrementLocked(ts, "decay")
	return m.snapshotLocked(), true
}

func (m *Machine) decrementLocked(ts int64, what string) {
	m.height--
	m.lastActionTs = ts
	m.log.push(domain.LogEntry{Ts: ts, Message: fmt.Sprintf("%s (height: %d)", what, m.height)})
	if m.height == 0 {
		m.log.push(domain.LogEntry{Ts: ts, Message: msgEmpty})
	}
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() domain.TowerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Now returns the machine clock's current time.
func (m *Machine) Now() time.Time {
	return m.now()
}

func (m *Machine) snapshotLocked() domain.TowerState {
	return domain.TowerState{
		Height:       m.height,
		LastActionTs: m.lastActionTs,
		Log:          m.log.entries(),
	}
}
