package solana

import "errors"

// WrappedSOLMint is the mint of the wrapped native token.
const WrappedSOLMint = "So11111111111111111111111111111111111111112"

// Commitment levels accepted by RPC and subscription calls.
const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

// ErrClientClosed is returned by calls made after Close.
var ErrClientClosed = errors.New("client closed")

// ValidCommitment reports whether c is a known commitment level.
func ValidCommitment(c string) bool {
	switch c {
	case CommitmentProcessed, CommitmentConfirmed, CommitmentFinalized:
		return true
	}
	return false
}
