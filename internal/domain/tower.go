package domain

// LogEntry is one line of the tower's activity log.
type LogEntry struct {
	Ts      int64  `json:"ts"` // Unix timestamp in milliseconds
	Message string `json:"message"`
}

// TowerState is the full tower snapshot. It is both the persisted form and
// the payload pushed to viewers.
type TowerState struct {
	Height       int        `json:"height"`
	LastActionTs int64      `json:"lastActionTs"` // Unix timestamp in milliseconds
	Log          []LogEntry `json:"log"`
}

// Clone returns a deep copy so callers can hold a snapshot without sharing
// the log slice.
func (s TowerState) Clone() TowerState {
	out := s
	out.Log = make([]LogEntry, len(s.Log))
	copy(out.Log, s.Log)
	return out
}

// DefaultTowerState is the state of a fresh tower: empty, with an empty log.
func DefaultTowerState(nowMs int64) TowerState {
	return TowerState{
		Height:       0,
		LastActionTs: nowMs,
		Log:          []LogEntry{},
	}
}
