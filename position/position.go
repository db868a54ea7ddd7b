package position

import (
	"time"

	"github.com/dnldd/breakout/shared"
	"github.com/google/uuid"
)

// Phase represents the lifecycle phase of a position.
type Phase int

const (
	// PreTP1 is the phase before the first take profit fills.
	PreTP1 Phase = iota
	// Runner is the remaining size managed with trailing stops after the
	// first take profit.
	Runner
)

// String stringifies the provided phase.
func (p Phase) String() string {
	switch p {
	case PreTP1:
		return "pre_tp1"
	case Runner:
		return "runner"
	default:
		return "unknown"
	}
}

// Position represents an open market position through its lifecycle. At most
// one position is open per market at a time.
type Position struct {
	ID               string
	Market           string
	Direction        shared.Direction
	EntryPrice       float64
	StopPrice        float64
	InitialSize      float64
	CurrentSize      float64
	TakeProfit1Price float64
	TakeProfit1Size  float64
	// TakeProfit2Price is zero when the second target is disabled.
	TakeProfit2Price float64
	TakeProfit1Taken bool
	// RealizedPNL accumulates net leg pnl, fees on entry and every exit leg
	// included.
	RealizedPNL float64
	FeesPaid    float64
	Phase       Phase
	OpenedOn    time.Time
	ClosedOn    time.Time
	ExitPrice   float64
	ExitReason  shared.ExitReason

	// Runner management state.
	tp1Bar        int
	structStop    float64
	structStopSet bool
	atrStop       float64
	atrStopSet    bool
	highestHigh   float64
	lowestLow     float64
}

// NewPosition initializes a new position from the provided entry fill.
func NewPosition(market string, direction shared.Direction, entryPrice float64,
	stop float64, size float64, tp1Price float64, tp1Size float64, tp2Price float64,
	entryFee float64, opened time.Time) *Position {
	return &Position{
		ID:               uuid.New().String(),
		Market:           market,
		Direction:        direction,
		EntryPrice:       entryPrice,
		StopPrice:        stop,
		InitialSize:      size,
		CurrentSize:      size,
		TakeProfit1Price: tp1Price,
		TakeProfit1Size:  tp1Size,
		TakeProfit2Price: tp2Price,
		RealizedPNL:      -entryFee,
		FeesPaid:         entryFee,
		Phase:            PreTP1,
		OpenedOn:         opened,
	}
}

// MarkToMarket returns the unrealized pnl of the remaining size at the
// provided price.
func (p *Position) MarkToMarket(price float64) float64 {
	switch p.Direction {
	case shared.Long:
		return (price - p.EntryPrice) * p.CurrentSize
	case shared.Short:
		return (p.EntryPrice - price) * p.CurrentSize
	default:
		return 0
	}
}

// grossLegPNL returns the gross pnl of closing the provided size at the
// provided price.
func (p *Position) grossLegPNL(price float64, size float64) float64 {
	switch p.Direction {
	case shared.Long:
		return (price - p.EntryPrice) * size
	case shared.Short:
		return (p.EntryPrice - price) * size
	default:
		return 0
	}
}
