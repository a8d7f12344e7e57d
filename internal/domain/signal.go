package domain

// Signal is a classified swap delivered to the tower.
type Signal int

// Signal values
const (
	SignalBuy Signal = iota + 1
	SignalSell
)

func (s Signal) String() string {
	switch s {
	case SignalBuy:
		return "buy"
	case SignalSell:
		return "sell"
	default:
		return "unknown"
	}
}
