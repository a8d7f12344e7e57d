package tower

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tower-feed/internal/domain"
)

// fakeClock is a settable clock for deterministic timestamps.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1700000000000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestMachine(clock *fakeClock, logCap int) *Machine {
	return NewMachine(domain.DefaultTowerState(clock.Now().UnixMilli()), MachineOptions{
		LogCap:     logCap,
		DecayAfter: 5 * time.Minute,
		Clock:      clock.Now,
	})
}

func messages(state domain.TowerState) []string {
	out := make([]string, len(state.Log))
	for i, e := range state.Log {
		out[i] = e.Message
	}
	return out
}

func TestMachine_BuySell(t *testing.T) {
	clock := newFakeClock()
	m := newTestMachine(clock, 100)

	clock.Advance(time.Second)
	state, changed := m.ApplyBuy()
	require.True(t, changed)
	assert.Equal(t, 1, state.Height)
	assert.Equal(t, clock.Now().UnixMilli(), state.LastActionTs)

	state, changed = m.ApplyBuy()
	require.True(t, changed)
	assert.Equal(t, 2, state.Height)

	clock.Advance(time.Second)
	state, changed = m.ApplySell()
	require.True(t, changed)
	assert.Equal(t, 1, state.Height)
	assert.Equal(t, clock.Now().UnixMilli(), state.LastActionTs)

	assert.Equal(t, []string{
		"block added (height: 1)",
		"block added (height: 2)",
		"block removed (height: 1)",
	}, messages(state))
}

func TestMachine_SellAtZeroIsNoop(t *testing.T) {
	clock := newFakeClock()
	m := newTestMachine(clock, 100)
	before := m.Snapshot()

	clock.Advance(time.Hour)
	state, changed := m.ApplySell()
	assert.False(t, changed)
	assert.Equal(t, before, state)

	state, changed = m.ApplyDecay(clock.Now())
	assert.False(t, changed)
	assert.Equal(t, before, state)
}

func TestMachine_ZeroTransitionLog(t *testing.T) {
	clock := newFakeClock()
	m := newTestMachine(clock, 100)

	m.ApplyBuy()
	state, changed := m.ApplySell()
	require.True(t, changed)
	assert.Equal(t, 0, state.Height)
	assert.Equal(t, []string{
		"block added (height: 1)",
		"block removed (height: 0)",
		"tower empty",
	}, messages(state))

	m.ApplyBuy()
	clock.Advance(5 * time.Minute)
	state, changed = m.ApplyDecay(clock.Now())
	require.True(t, changed)
	assert.Equal(t, 0, state.Height)

	tail := messages(state)[len(state.Log)-2:]
	assert.Equal(t, []string{"decay (height: 0)", "tower empty"}, tail)
	assert.Equal(t, state.Log[len(state.Log)-1].Ts, state.Log[len(state.Log)-2].Ts)
}

func TestMachine_DecayNeedsSilence(t *testing.T) {
	clock := newFakeClock()
	m := newTestMachine(clock, 100)
	for i := 0; i < 3; i++ {
		m.ApplyBuy()
	}

	clock.Advance(4*time.Minute + 59*time.Second)
	_, changed := m.ApplyDecay(clock.Now())
	assert.False(t, changed)

	clock.Advance(time.Second)
	state, changed := m.ApplyDecay(clock.Now())
	require.True(t, changed)
	assert.Equal(t, 2, state.Height)
	assert.Equal(t, "decay (height: 2)", state.Log[len(state.Log)-1].Message)
	assert.Equal(t, clock.Now().UnixMilli(), state.LastActionTs)

	// Decay reset the timestamp: an immediate second tick does nothing.
	clock.Advance(10 * time.Second)
	_, changed = m.ApplyDecay(clock.Now())
	assert.False(t, changed)
}

func TestMachine_DecayOnePerQualifyingTick(t *testing.T) {
	clock := newFakeClock()
	m := newTestMachine(clock, 100)
	for i := 0; i < 3; i++ {
		m.ApplyBuy()
	}

	// Ticks every 10s for 11 minutes: decay fires at 5m and 10m only.
	applied := 0
	for elapsed := time.Duration(0); elapsed < 11*time.Minute; elapsed += 10 * time.Second {
		clock.Advance(10 * time.Second)
		if _, changed := m.ApplyDecay(clock.Now()); changed {
			applied++
		}
	}

	assert.Equal(t, 2, applied)
	assert.Equal(t, 1, m.Snapshot().Height)
}

func TestMachine_LogCap(t *testing.T) {
	clock := newFakeClock()
	m := newTestMachine(clock, 5)

	var state domain.TowerState
	for i := 0; i < 12; i++ {
		clock.Advance(time.Millisecond)
		state, _ = m.ApplyBuy()
		assert.LessOrEqual(t, len(state.Log), 5)
	}

	require.Len(t, state.Log, 5)
	for i, e := range state.Log {
		assert.Equal(t, fmt.Sprintf("block added (height: %d)", 8+i), e.Message)
		if i > 0 {
			assert.Greater(t, e.Ts, state.Log[i-1].Ts)
		}
	}
}

func TestMachine_HeightInvariantRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	clock := newFakeClock()
	m := newTestMachine(clock, 10)

	for i := 0; i < 2000; i++ {
		before := m.Snapshot()
		var state domain.TowerState
		var changed bool

		switch rng.Intn(3) {
		case 0:
			state, changed = m.ApplyBuy()
		case 1:
			state, changed = m.ApplySell()
		default:
			clock.Advance(time.Duration(rng.Intn(400)) * time.Second)
			state, changed = m.ApplyDecay(clock.Now())
		}

		require.GreaterOrEqual(t, state.Height, 0)
		require.LessOrEqual(t, len(state.Log), 10)
		if !changed {
			require.Equal(t, before, state)
		}
	}
}

func TestMachine_InitialState(t *testing.T) {
	initial := domain.TowerState{
		Height:       -3,
		LastActionTs: 99,
		Log: []domain.LogEntry{
			{Ts: 1, Message: "one"},
			{Ts: 2, Message: "two"},
			{Ts: 3, Message: "three"},
		},
	}

	m := NewMachine(initial, MachineOptions{LogCap: 2})
	state := m.Snapshot()

	assert.Equal(t, 0, state.Height)
	assert.Equal(t, int64(99), state.LastActionTs)
	assert.Equal(t, []string{"two", "three"}, messages(state))
}

func TestMachine_SnapshotIsCopy(t *testing.T) {
	m := newTestMachine(newFakeClock(), 10)
	state, _ := m.ApplyBuy()
	state.Log[0].Message = "tampered"

	assert.Equal(t, "block added (height: 1)", m.Snapshot().Log[0].Message)
}

func TestMachine_ConcurrentTransitions(t *testing.T) {
	m := newTestMachine(newFakeClock(), 1000)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.ApplyBuy()
		}()
		go func() {
			defer wg.Done()
			m.ApplyBuy()
		}()
	}
	wg.Wait()

	state := m.Snapshot()
	assert.Equal(t, 100, state.Height)
	assert.Len(t, state.Log, 100)
}

func TestLogRing(t *testing.T) {
	r := newLogRing(3)
	assert.Empty(t, r.entries())

	for i := 1; i <= 4; i++ {
		r.push(domain.LogEntry{Ts: int64(i)})
	}

	entries := r.entries()
	require.Len(t, entries, 3)
	assert.Equal(t, []int64{2, 3, 4}, []int64{entries[0].Ts, entries[1].Ts, entries[2].Ts})
}
