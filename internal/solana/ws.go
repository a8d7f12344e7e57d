package solana

import "context"

// WSClient defines Solana WebSocket subscription interface.
type WSClient interface {
	// SubscribeLogs subscribes to logs mentioning the filter's accounts.
	SubscribeLogs(ctx context.Context, filter LogsFilter) (*LogSubscription, error)

	// UnsubscribeLogs cancels a subscription and closes its channel.
	UnsubscribeLogs(ctx context.Context, sub *LogSubscription) error

	// Close closes the WebSocket connection.
	Close() error
}

// LogsFilter defines subscription filter for logs.
type LogsFilter struct {
	// Mentions filters logs that mention any of these accounts.
	Mentions []string
	// Commitment overrides the client default when set.
	Commitment string
}

// LogSubscription is a live logsSubscribe stream. Key is stable across
// reconnects even though the server-side subscription id changes.
type LogSubscription struct {
	Key           uint64
	Notifications <-chan LogNotification
}

// LogNotification represents a logs subscription message.
type LogNotification struct {
	Signature string
	Slot      int64
	Logs      []string
	Err       interface{}
}
