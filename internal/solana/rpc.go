package solana

import (
	"context"

	"github.com/shopspring/decimal"
)

// RPCClient defines the subset of the Solana RPC HTTP interface the feed needs.
type RPCClient interface {
	// GetTransaction retrieves a transaction by signature.
	// Returns (nil, nil) when the node does not know the signature yet.
	GetTransaction(ctx context.Context, signature string) (*Transaction, error)
}

// Transaction represents a Solana transaction with its token balance metadata.
type Transaction struct {
	Slot      int64
	Signature string
	BlockTime int64 // Unix timestamp (seconds)
	Meta      *TransactionMeta
}

// TransactionMeta contains transaction metadata.
// A nil balance slice means the node did not report that list.
type TransactionMeta struct {
	Err               interface{}
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// TokenBalance is one SPL token account balance before or after execution.
type TokenBalance struct {
	AccountIndex int
	Owner        string
	Mint         string
	// Amount is the raw integer amount (no decimals applied).
	Amount decimal.Decimal
}
