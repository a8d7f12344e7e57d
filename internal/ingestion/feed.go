package ingestion

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"tower-feed/internal/classifier"
	"tower-feed/internal/domain"
	"tower-feed/internal/observability"
)

// ErrFeedClosed is returned by Run after Close.
var ErrFeedClosed = errors.New("feed closed")

// ErrStreamClosed is returned by Run when the source closes the
// notification stream without the feed being closed.
var ErrStreamClosed = errors.New("notification stream closed")

// FeedState is the subscription state of a Feed.
type FeedState int32

// Feed states
const (
	StateDisconnected FeedState = iota
	StateSubscribing
	StateSubscribed
)

func (s FeedState) String() string {
	switch s {
	case StateSubscribing:
		return "subscribing"
	case StateSubscribed:
		return "subscribed"
	default:
		return "disconnected"
	}
}

// FeedStats holds feed counters.
type FeedStats struct {
	Notifications int64 // notifications received
	Duplicates    int64 // dropped by the dedup window
	Failed        int64 // notifications for failed transactions
	Dropped       int64 // resolution errors or missing transactions
	Ignored       int64 // resolved but classified Ignore
	Buys          int64
	Sells         int64
}

// Feed turns pool notifications into buy/sell signals, at most one per
// signature while it is resident in the dedup window.
// Resolutions run concurrently, so signals are emitted in resolution order,
// not notification order.
type Feed struct {
	source            NotificationSource
	pool              string
	output            chan<- domain.Signal
	dedup             *DedupCache
	resolveDelay      time.Duration
	heartbeatInterval time.Duration
	silenceThreshold  time.Duration
	debug             bool
	logger            *log.Logger
	now               func() time.Time

	state        atomic.Int32
	lastActivity atomic.Int64 // unix nanos

	notifications atomic.Int64
	duplicates    atomic.Int64
	failed        atomic.Int64
	dropped       atomic.Int64
	ignored       atomic.Int64
	buys          atomic.Int64
	sells         atomic.Int64

	// mu guards the fields below; resolutions are only started while
	// closed is false so Close can wait for all of them.
	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
	sub    *Subscription

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// FeedOptions contains configuration for creating a Feed.
type FeedOptions struct {
	Source NotificationSource
	Pool   string
	Output chan<- domain.Signal

	// Dedup is the signature window. Default: NewDedupCache(DedupCapacity).
	Dedup         *DedupCache
	DedupCapacity int

	ResolveDelay      time.Duration // Default: 500ms - lets the RPC node index the transaction; negative disables
	HeartbeatInterval time.Duration // Default: 60s
	SilenceThreshold  time.Duration // Default: HeartbeatInterval
	Debug             bool          // log every ignored or classified transaction
	Logger            *log.Logger
	Clock             func() time.Time
}

// NewFeed creates a new ingestion feed.
func NewFeed(opts FeedOptions) *Feed {
	dedup := opts.Dedup
	if dedup == nil {
		dedup = NewDedupCache(opts.DedupCapacity)
	}

	resolveDelay := opts.ResolveDelay
	if resolveDelay < 0 {
		resolveDelay = 0
	} else if resolveDelay == 0 {
		resolveDelay = 500 * time.Millisecond
	}

	heartbeat := opts.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 60 * time.Second
	}

	silence := opts.SilenceThreshold
	if silence <= 0 {
		silence = heartbeat
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	return &Feed{
		source:            opts.Source,
		pool:              opts.Pool,
		output:            opts.Output,
		dedup:             dedup,
		resolveDelay:      resolveDelay,
		heartbeatInterval: heartbeat,
		silenceThreshold:  silence,
		debug:             opts.Debug,
		logger:            logger,
		now:               now,
		done:              make(chan struct{}),
	}
}

// State returns the current subscription state.
func (f *Feed) State() FeedState {
	return FeedState(f.state.Load())
}

// Stats returns a snapshot of the feed counters.
func (f *Feed) Stats() FeedStats {
	return FeedStats{
		Notifications: f.notifications.Load(),
		Duplicates:    f.duplicates.Load(),
		Failed:        f.failed.Load(),
		Dropped:       f.dropped.Load(),
		Ignored:       f.ignored.Load(),
		Buys:          f.buys.Load(),
		Sells:         f.sells.Load(),
	}
}

// Run subscribes to the pool and processes notifications until ctx is
// cancelled, Close is called, or the stream ends. Cancelling ctx closes the
// feed.
func (f *Feed) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFeedClosed
	}
	f.cancel = cancel
	f.mu.Unlock()

	f.state.Store(int32(StateSubscribing))
	sub, err := f.source.Subscribe(runCtx, f.pool)
	if err != nil {
		f.state.Store(int32(StateDisconnected))
		return err
	}

	f.mu.Lock()
	f.sub = sub
	closed := f.closed
	f.mu.Unlock()
	if closed {
		// Close ran while we were subscribing and did not see sub.
		f.unsubscribe(sub)
		return ErrFeedClosed
	}

	f.state.Store(int32(StateSubscribed))
	f.touch()
	f.logger.Printf("Subscribed to pool %s", f.pool)

	heartbeat := time.NewTicker(f.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			f.Close()
			return ctx.Err()

		case <-f.done:
			return nil

		case <-heartbeat.C:
			f.checkSilence()

		case n, ok := <-sub.Notifications:
			if !ok {
				select {
				case <-f.done:
					return nil
				default:
				}
				f.state.Store(int32(StateDisconnected))
				f.logger.Println("Notification stream closed")
				return ErrStreamClosed
			}
			f.handle(runCtx, n)
		}
	}
}

// handle gates a notification through the dedup window and starts its
// resolution. It never blocks on I/O.
func (f *Feed) handle(ctx context.Context, n Notification) {
	f.notifications.Add(1)
	f.touch()
	observability.RecordNotification()

	if n.Err != nil {
		f.failed.Add(1)
		if f.debug {
			f.logger.Printf("Skipping failed tx %s: %v", n.Signature, n.Err)
		}
		return
	}

	// Record before resolving so a burst of duplicates cannot race into
	// double resolution.
	if !f.dedup.CheckAndRecord(n.Signature) {
		f.duplicates.Add(1)
		observability.RecordDuplicate()
		return
	}
	observability.UpdateDedupSize(f.dedup.Len())

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.wg.Add(1)
	f.mu.Unlock()

	go func() {
		defer f.wg.Done()
		f.resolve(ctx, n.Signature)
	}()
}

// resolve fetches, classifies and emits one transaction. Failures are
// logged and dropped; a signature is never retried.
func (f *Feed) resolve(ctx context.Context, signature string) {
	if f.resolveDelay > 0 {
		timer := time.NewTimer(f.resolveDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}

	tx, err := f.source.Resolve(ctx, signature)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		f.dropped.Add(1)
		observability.RecordResolveError("rpc")
		f.logger.Printf("WARN: resolve %s failed, dropping: %v", signature, err)
		return
	}
	if tx == nil {
		f.dropped.Add(1)
		observability.RecordResolveError("not_found")
		f.logger.Printf("WARN: transaction %s not found, dropping", signature)
		return
	}

	result := classifier.Classify(tx, f.pool)
	observability.RecordClassification(result.String())

	signal, ok := result.Signal()
	if !ok {
		f.ignored.Add(1)
		if f.debug {
			f.logger.Printf("Ignored tx %s", signature)
		}
		return
	}

	switch signal {
	case domain.SignalBuy:
		f.buys.Add(1)
	case domain.SignalSell:
		f.sells.Add(1)
	}
	if f.debug {
		f.logger.Printf("Classified tx %s as %s", signature, result)
	}

	select {
	case f.output <- signal:
	case <-ctx.Done():
	}
}

func (f *Feed) touch() {
	f.lastActivity.Store(f.now().UnixNano())
}

// checkSilence logs when no notification arrived within the silence
// threshold. It never reconnects; the transport owns reconnection.
func (f *Feed) checkSilence() {
	last := time.Unix(0, f.lastActivity.Load())
	idle := f.now().Sub(last)
	if idle >= f.silenceThreshold {
		f.logger.Printf("Waiting for transactions... (idle %s, state %s)", idle.Truncate(time.Second), f.State())
	}
}

func (f *Feed) unsubscribe(sub *Subscription) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.source.Unsubscribe(ctx, sub); err != nil {
		f.logger.Printf("WARN: unsubscribe: %v", err)
	}
}

// Close stops the heartbeat, unsubscribes, and waits for in-flight
// resolutions, which observe cancellation. It is safe to call more than once.
func (f *Feed) Close() {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		cancel := f.cancel
		sub := f.sub
		f.mu.Unlock()

		close(f.done)
		if cancel != nil {
			cancel()
		}
		if sub != nil {
			f.unsubscribe(sub)
		}
		f.wg.Wait()
		f.state.Store(int32(StateDisconnected))

		stats := f.Stats()
		f.logger.Printf("Feed stopped: notifications=%d buys=%d sells=%d ignored=%d dropped=%d duplicates=%d",
			stats.Notifications, stats.Buys, stats.Sells, stats.Ignored, stats.Dropped, stats.Duplicates)
	})
}
