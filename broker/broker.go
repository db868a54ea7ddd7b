package broker

import (
	"context"

	"github.com/dnldd/breakout/shared"
)

// Fill represents the result of a submitted order.
type Fill struct {
	// Price is the price the order filled at.
	Price float64
	// Fee is the fee charged on the filled notional.
	Fee float64
}

// Broker defines the requirements for submitting orders for a market.
type Broker interface {
	// SubmitEntry submits an entry order of the provided size at the
	// reference price and returns the fill.
	SubmitEntry(ctx context.Context, market string, direction shared.Direction,
		size float64, referencePrice float64) (*Fill, error)
	// SubmitExit submits an exit order of the provided size at the reference
	// price and returns the fill.
	SubmitExit(ctx context.Context, market string, direction shared.Direction,
		size float64, referencePrice float64, reason shared.ExitReason) (*Fill, error)
}
