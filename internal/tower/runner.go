package tower

import (
	"context"
	"errors"
	"log"
	"time"

	"tower-feed/internal/domain"
	"tower-feed/internal/observability"
)

// ErrRunnerStopped is returned by Submit once the runner has exited.
var ErrRunnerStopped = errors.New("tower runner stopped")

// Signal sources
const (
	SourceChain  = "chain"
	SourceViewer = "viewer"
)

// Broadcaster pushes a changed state to viewers.
type Broadcaster interface {
	Broadcast(state domain.TowerState)
}

// Persister schedules a changed state for a durable write.
type Persister interface {
	Schedule(state domain.TowerState)
}

type command struct {
	signal domain.Signal
	source string
}

// Runner is the single owner of the tower. It applies chain signals,
// viewer commands and decay ticks one at a time, and for every transition
// that changes state it broadcasts and then schedules a write, in
// transition order.
type Runner struct {
	machine       *Machine
	signals       <-chan domain.Signal
	broadcaster   Broadcaster
	persister     Persister
	decayInterval time.Duration
	logger        *log.Logger

	commands chan command
	done     chan struct{}
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	Machine       *Machine
	Signals       <-chan domain.Signal // chain signals from the ingestion feed
	Broadcaster   Broadcaster
	Persister     Persister
	DecayInterval time.Duration // Default: 10s
	Logger        *log.Logger
}

// NewRunner creates a new tower runner.
func NewRunner(opts RunnerOptions) *Runner {
	decayInterval := opts.DecayInterval
	if decayInterval <= 0 {
		decayInterval = 10 * time.Second
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Runner{
		machine:       opts.Machine,
		signals:       opts.Signals,
		broadcaster:   opts.Broadcaster,
		persister:     opts.Persister,
		decayInterval: decayInterval,
		logger:        logger,
		commands:      make(chan command),
		done:          make(chan struct{}),
	}
}

// Run processes signals until ctx is cancelled. It blocks.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.done)

	ticker := time.NewTicker(r.decayInterval)
	defer ticker.Stop()

	state := r.machine.Snapshot()
	observability.UpdateTowerHeight(state.Height)
	r.logger.Printf("Tower runner started at height %d, decay check every %v", state.Height, r.decayInterval)

	signals := r.signals
	for {
		select {
		case <-ctx.Done():
			r.logger.Println("Tower runner stopping...")
			return ctx.Err()

		case sig, ok := <-signals:
			if !ok {
				// Viewer commands and decay keep working without a feed.
				signals = nil
				continue
			}
			r.apply(sig, SourceChain)

		case cmd := <-r.commands:
			r.apply(cmd.signal, cmd.source)

		case <-ticker.C:
			r.decay(r.machine.Now())
		}
	}
}

// Submit hands a viewer command to the runner and waits until it is accepted.
func (r *Runner) Submit(ctx context.Context, signal domain.Signal) error {
	select {
	case r.commands <- command{signal: signal, source: SourceViewer}:
		return nil
	case <-r.done:
		return ErrRunnerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the current tower state.
func (r *Runner) Snapshot() domain.TowerState {
	return r.machine.Snapshot()
}

func (r *Runner) apply(signal domain.Signal, source string) {
	var (
		state   domain.TowerState
		changed bool
	)
	switch signal {
	case domain.SignalBuy:
		state, changed = r.machine.ApplyBuy()
	case domain.SignalSell:
		state, changed = r.machine.ApplySell()
	default:
		r.logger.Printf("WARN: ignoring unknown signal %d from %s", signal, source)
		return
	}
	if !changed {
		return
	}
	r.publish(state, signal.String(), source)
}

func (r *Runner) decay(now time.Time) {
	state, changed := r.machine.ApplyDecay(now)
	if !changed {
		return
	}
	r.logger.Printf("Decay applied, height %d", state.Height)
	r.publish(state, "decay", "timer")
}

// publish runs one notification cycle for a changed state.
func (r *Runner) publish(state domain.TowerState, kind, source string) {
	if r.broadcaster != nil {
		r.broadcaster.Broadcast(state)
	}
	if r.persister != nil {
		r.persister.Schedule(state)
	}
	observability.RecordSignalApplied(kind, source, state.Height)
}
