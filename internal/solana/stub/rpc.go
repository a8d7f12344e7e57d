package stub

import (
	"context"
	"errors"
	"sync"
	"time"

	"tower-feed/internal/solana"
)

// ErrNotFound is returned when a transaction is not in the stub and
// MissingIsNil is false.
var ErrNotFound = errors.New("not found")

// RPCClient implements solana.RPCClient for testing.
type RPCClient struct {
	mu           sync.Mutex
	Transactions map[string]*solana.Transaction
	Errors       map[string]error
	// MissingIsNil makes unknown signatures return (nil, nil) like a node
	// that has not indexed the transaction yet.
	MissingIsNil bool
	// Latency delays every call, honoring context cancellation.
	Latency time.Duration

	calls map[string]int
}

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Transactions: make(map[string]*solana.Transaction),
		Errors:       make(map[string]error),
		calls:        make(map[string]int),
	}
}

// GetTransaction retrieves a transaction by signature from the stub store.
func (c *RPCClient) GetTransaction(ctx context.Context, signature string) (*solana.Transaction, error) {
	if c.Latency > 0 {
		select {
		case <-time.After(c.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls[signature]++
	if err, ok := c.Errors[signature]; ok {
		return nil, err
	}
	tx, ok := c.Transactions[signature]
	if !ok {
		if c.MissingIsNil {
			return nil, nil
		}
		return nil, ErrNotFound
	}
	return tx, nil
}

// AddTransaction adds a transaction to the stub store.
func (c *RPCClient) AddTransaction(tx *solana.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Transactions[tx.Signature] = tx
}

// FailTransaction makes lookups of signature return err.
func (c *RPCClient) FailTransaction(signature string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Errors[signature] = err
}

// Calls returns how many times signature was requested.
func (c *RPCClient) Calls(signature string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[signature]
}
