package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTowerState_JSONShape(t *testing.T) {
	state := TowerState{
		Height:       2,
		LastActionTs: 1700000000000,
		Log:          []LogEntry{{Ts: 1700000000000, Message: "block added (height: 2)"}},
	}

	data, err := json.Marshal(StateUpdateMessage{Type: MessageStateUpdate, State: state})
	require.NoError(t, err)

	assert.JSONEq(t,
		`{"type":"STATE_UPDATE","state":{"height":2,"lastActionTs":1700000000000,"log":[{"ts":1700000000000,"message":"block added (height: 2)"}]}}`,
		string(data))
}

func TestTowerState_Clone(t *testing.T) {
	state := TowerState{Height: 1, Log: []LogEntry{{Ts: 1, Message: "a"}}}
	clone := state.Clone()
	clone.Log[0].Message = "b"

	assert.Equal(t, "a", state.Log[0].Message)
}

func TestDefaultTowerState(t *testing.T) {
	state := DefaultTowerState(42)
	assert.Equal(t, 0, state.Height)
	assert.Equal(t, int64(42), state.LastActionTs)
	assert.NotNil(t, state.Log)

	data, err := json.Marshal(state)
	require.NoError(t, err)
	assert.JSONEq(t, `{"height":0,"lastActionTs":42,"log":[]}`, string(data))
}

func TestSignalForMessage(t *testing.T) {
	sig, ok := SignalForMessage("BUY")
	assert.True(t, ok)
	assert.Equal(t, SignalBuy, sig)

	sig, ok = SignalForMessage("SELL")
	assert.True(t, ok)
	assert.Equal(t, SignalSell, sig)

	_, ok = SignalForMessage("buy")
	assert.False(t, ok)
	_, ok = SignalForMessage("")
	assert.False(t, ok)
}
