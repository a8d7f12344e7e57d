package ingestion

import (
	"context"

	"tower-feed/internal/solana"
)

// Notification is one "the pool was touched by a transaction" event.
type Notification struct {
	Signature string
	Slot      int64
	Err       interface{} // non-nil when the transaction failed on chain
}

// Subscription is a live notification stream for one pool. Notifications is
// closed after Unsubscribe or when the source shuts down.
type Subscription struct {
	ID            uint64
	Notifications <-chan Notification
}

// NotificationSource supplies pool notifications and resolves them to full
// transactions.
type NotificationSource interface {
	// Subscribe starts streaming notifications for transactions mentioning pool.
	Subscribe(ctx context.Context, pool string) (*Subscription, error)

	// Unsubscribe stops the stream and closes its channel.
	Unsubscribe(ctx context.Context, sub *Subscription) error

	// Resolve fetches the full transaction. It returns (nil, nil) when the
	// transaction is not available.
	Resolve(ctx context.Context, signature string) (*solana.Transaction, error)
}
