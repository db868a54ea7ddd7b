package shared

import (
	"time"
)

// TradeSetup represents a confirmed trade setup produced by the structure
// state machine. It is ephemeral, produced on a candle close and consumed
// immediately by the position manager.
type TradeSetup struct {
	Market    string
	Direction Direction
	// Entry is the reference entry price (the confirming candle close).
	Entry float64
	// Stop is the protective stop derived from the break-of-structure anchor.
	Stop float64
	// RiskPerUnit is the entry-to-stop distance (R). Always strictly positive.
	RiskPerUnit float64
	// TakeProfit1 is the provisional first target derived from the reference
	// entry. The position manager recomputes targets from the actual fill.
	TakeProfit1 float64
	// TakeProfit2 is the provisional second target, zero when disabled.
	TakeProfit2 float64
	CreatedOn   time.Time
}

// NewTradeSetup initializes a new trade setup.
func NewTradeSetup(market string, direction Direction, entry float64, stop float64,
	riskPerUnit float64, takeProfit1 float64, takeProfit2 float64, created time.Time) *TradeSetup {
	return &TradeSetup{
		Market:      market,
		Direction:   direction,
		Entry:       entry,
		Stop:        stop,
		RiskPerUnit: riskPerUnit,
		TakeProfit1: takeProfit1,
		TakeProfit2: takeProfit2,
		CreatedOn:   created,
	}
}
