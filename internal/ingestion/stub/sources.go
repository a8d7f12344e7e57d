package stub

import (
	"context"
	"sync"

	"tower-feed/internal/ingestion"
	"tower-feed/internal/solana"
	solanastub "tower-feed/internal/solana/stub"
)

// NotificationSource is an in-memory ingestion.NotificationSource for
// testing. Notifications are pushed with Send and resolved from an RPC stub.
// Implements ingestion.NotificationSource interface.
type NotificationSource struct {
	RPC *solanastub.RPCClient

	mu     sync.Mutex
	ch     chan ingestion.Notification
	closed bool
}

// NewNotificationSource creates a new stub source with an empty RPC stub.
func NewNotificationSource() *NotificationSource {
	return &NotificationSource{
		RPC: solanastub.NewRPCClient(),
		ch:  make(chan ingestion.Notification, 100),
	}
}

// Subscribe returns the single stub stream regardless of pool.
func (s *NotificationSource) Subscribe(_ context.Context, _ string) (*ingestion.Subscription, error) {
	return &ingestion.Subscription{ID: 1, Notifications: s.ch}, nil
}

// Unsubscribe closes the stream. Repeated calls are a no-op.
func (s *NotificationSource) Unsubscribe(_ context.Context, _ *ingestion.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

// Resolve looks the signature up in the RPC stub.
func (s *NotificationSource) Resolve(ctx context.Context, signature string) (*solana.Transaction, error) {
	return s.RPC.GetTransaction(ctx, signature)
}

// Send pushes a notification for signature.
func (s *NotificationSource) Send(signature string) {
	s.ch <- ingestion.Notification{Signature: signature}
}
