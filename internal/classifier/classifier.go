// Package classifier decides whether a pool transaction is a buy or a sell
// from the pool's own token balance changes.
package classifier

import (
	"github.com/shopspring/decimal"

	"tower-feed/internal/domain"
	"tower-feed/internal/solana"
)

// Result is the outcome of classifying one transaction.
type Result int

// Classification results
const (
	Ignore Result = iota
	Buy
	Sell
)

func (r Result) String() string {
	switch r {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "ignore"
	}
}

// Signal converts a Buy or Sell result into a tower signal.
func (r Result) Signal() (domain.Signal, bool) {
	switch r {
	case Buy:
		return domain.SignalBuy, true
	case Sell:
		return domain.SignalSell, true
	default:
		return 0, false
	}
}

// Classify inspects the pool-owned token balances of tx. The pool's meme mint
// leaving the pool is a buy, arriving is a sell. Anything it cannot read
// safely is Ignore.
func Classify(tx *solana.Transaction, pool string) Result {
	if tx == nil || tx.Meta == nil || tx.Meta.Err != nil {
		return Ignore
	}
	pre, post := tx.Meta.PreTokenBalances, tx.Meta.PostTokenBalances
	if pre == nil || post == nil {
		return Ignore
	}

	poolPre := ownedBy(pre, pool)
	poolPost := ownedBy(post, pool)

	mint, ok := memeMint(poolPre)
	if !ok {
		mint, ok = memeMint(poolPost)
	}
	if !ok {
		return Ignore
	}

	delta := amountOf(poolPost, mint).Sub(amountOf(poolPre, mint))
	switch delta.Sign() {
	case -1:
		return Buy
	case 1:
		return Sell
	default:
		return Ignore
	}
}

func ownedBy(balances []solana.TokenBalance, owner string) []solana.TokenBalance {
	var out []solana.TokenBalance
	for _, b := range balances {
		if b.Owner == owner {
			out = append(out, b)
		}
	}
	return out
}

// memeMint returns the first mint that is not wrapped SOL.
func memeMint(balances []solana.TokenBalance) (string, bool) {
	for _, b := range balances {
		if b.Mint != solana.WrappedSOLMint {
			return b.Mint, true
		}
	}
	return "", false
}

// amountOf returns the first balance for mint, zero when absent.
func amountOf(balances []solana.TokenBalance, mint string) decimal.Decimal {
	for _, b := range balances {
		if b.Mint == mint {
			return b.Amount
		}
	}
	return decimal.Zero
}
