// Package broadcast fans tower state out to connected viewers.
package broadcast

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"tower-feed/internal/domain"
	"tower-feed/internal/observability"
)

// Viewer is a connected client that receives state updates.
type Viewer interface {
	ID() string
	// Send queues msg for delivery. It must not block on the network.
	Send(msg []byte) error
	Close() error
}

// Hub holds the current snapshot and the set of live viewers.
// Broadcast is called from the tower runner in transition order.
type Hub struct {
	logger *log.Logger

	mu      sync.Mutex
	current domain.TowerState
	viewers map[string]Viewer
}

// HubOptions contains configuration for creating a Hub.
type HubOptions struct {
	Initial domain.TowerState // snapshot sent to viewers before the first broadcast
	Logger  *log.Logger
}

// NewHub creates a new broadcast hub.
func NewHub(opts HubOptions) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Hub{
		logger:  logger,
		current: opts.Initial.Clone(),
		viewers: make(map[string]Viewer),
	}
}

// EncodeStateUpdate renders the STATE_UPDATE envelope for state.
func EncodeStateUpdate(state domain.TowerState) ([]byte, error) {
	if state.Log == nil {
		state.Log = []domain.LogEntry{}
	}
	msg, err := json.Marshal(domain.StateUpdateMessage{
		Type:  domain.MessageStateUpdate,
		State: state,
	})
	if err != nil {
		return nil, fmt.Errorf("encode state update: %w", err)
	}
	return msg, nil
}

// AddViewer sends the current snapshot to v alone and then registers it.
// No broadcast can slip between the two, so v never misses or reorders an
// update. A viewer whose first send fails is not added.
func (h *Hub) AddViewer(v Viewer) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	msg, err := EncodeStateUpdate(h.current)
	if err != nil {
		return err
	}
	if err := v.Send(msg); err != nil {
		observability.RecordViewerSendFailure()
		return fmt.Errorf("send initial state to %s: %w", v.ID(), err)
	}

	h.viewers[v.ID()] = v
	observability.UpdateViewers(len(h.viewers))
	h.logger.Printf("Viewer %s connected (%d total)", v.ID(), len(h.viewers))
	return nil
}

// RemoveViewer unregisters v. Removing an unknown viewer is a no-op.
func (h *Hub) RemoveViewer(v Viewer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.viewers[v.ID()]; !ok {
		return
	}
	delete(h.viewers, v.ID())
	observability.UpdateViewers(len(h.viewers))
	h.logger.Printf("Viewer %s disconnected (%d total)", v.ID(), len(h.viewers))
}

// Broadcast makes state current and sends it to every viewer. Viewers that
// fail are closed and removed; the rest still receive the update.
func (h *Hub) Broadcast(state domain.TowerState) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.current = state.Clone()
	msg, err := EncodeStateUpdate(h.current)
	if err != nil {
		h.logger.Printf("WARN: %v", err)
		return
	}

	dropped := 0
	for id, v := range h.viewers {
		if err := v.Send(msg); err != nil {
			h.logger.Printf("WARN: dropping viewer %s: %v", id, err)
			delete(h.viewers, id)
			_ = v.Close()
			dropped++
		}
	}

	observability.RecordBroadcast(dropped)
	if dropped > 0 {
		observability.UpdateViewers(len(h.viewers))
	}
}

// Snapshot returns the current state.
func (h *Hub) Snapshot() domain.TowerState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current.Clone()
}

// Count returns the number of registered viewers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.viewers)
}

// Close disconnects every viewer.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, v := range h.viewers {
		_ = v.Close()
		delete(h.viewers, id)
	}
	observability.UpdateViewers(0)
}
