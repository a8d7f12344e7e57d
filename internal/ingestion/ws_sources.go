package ingestion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tower-feed/internal/observability"
	"tower-feed/internal/solana"
)

// WSNotificationSource streams pool notifications over a logsSubscribe
// WebSocket subscription and resolves them through JSON-RPC getTransaction.
type WSNotificationSource struct {
	ws         solana.WSClient
	rpc        solana.RPCClient
	commitment string

	mu   sync.Mutex
	subs map[uint64]*wsSubscription
}

type wsSubscription struct {
	logs *solana.LogSubscription
	stop chan struct{}
}

// NewWSNotificationSource creates a source backed by the given clients.
// An empty commitment uses the WebSocket client's default.
func NewWSNotificationSource(ws solana.WSClient, rpc solana.RPCClient, commitment string) *WSNotificationSource {
	return &WSNotificationSource{
		ws:         ws,
		rpc:        rpc,
		commitment: commitment,
		subs:       make(map[uint64]*wsSubscription),
	}
}

// Subscribe subscribes to logs mentioning pool.
func (s *WSNotificationSource) Subscribe(ctx context.Context, pool string) (*Subscription, error) {
	logSub, err := s.ws.SubscribeLogs(ctx, solana.LogsFilter{
		Mentions:   []string{pool},
		Commitment: s.commitment,
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe logs for %s: %w", pool, err)
	}

	sub := &wsSubscription{logs: logSub, stop: make(chan struct{})}
	s.mu.Lock()
	s.subs[logSub.Key] = sub
	s.mu.Unlock()

	out := make(chan Notification, 100)
	go func() {
		defer close(out)
		// The log channel is closed by UnsubscribeLogs or client Close.
		for n := range logSub.Notifications {
			select {
			case out <- Notification{Signature: n.Signature, Slot: n.Slot, Err: n.Err}:
			case <-sub.stop:
				return
			}
		}
	}()

	return &Subscription{ID: logSub.Key, Notifications: out}, nil
}

// Unsubscribe cancels the logs subscription. Unknown subscriptions are a no-op.
func (s *WSNotificationSource) Unsubscribe(ctx context.Context, sub *Subscription) error {
	if sub == nil {
		return nil
	}

	s.mu.Lock()
	wsSub, ok := s.subs[sub.ID]
	delete(s.subs, sub.ID)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	close(wsSub.stop)
	return s.ws.UnsubscribeLogs(ctx, wsSub.logs)
}

// Resolve fetches the transaction via RPC.
func (s *WSNotificationSource) Resolve(ctx context.Context, signature string) (*solana.Transaction, error) {
	start := time.Now()
	tx, err := s.rpc.GetTransaction(ctx, signature)
	observability.RecordRPCLatency("getTransaction", time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", signature, err)
	}
	return tx, nil
}
