package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/dnldd/breakout/shared"
	"github.com/rs/zerolog"
)

// PaperConfig represents the paper broker configuration.
type PaperConfig struct {
	// TakerFeePercent is the fee charged per leg as a fraction of notional.
	TakerFeePercent float64
	// EntrySlippagePercent shifts entry fills unfavorably.
	EntrySlippagePercent float64
	// StopSlippagePercent shifts stop and forced exit fills unfavorably.
	StopSlippagePercent float64
	// TakeProfitSlippagePercent shifts take profit fills unfavorably.
	TakeProfitSlippagePercent float64
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config has sane inputs.
func (cfg *PaperConfig) Validate() error {
	var errs error

	if cfg.TakerFeePercent < 0 {
		errs = errors.Join(errs, fmt.Errorf("taker fee percent cannot be negative"))
	}
	if cfg.EntrySlippagePercent < 0 || cfg.StopSlippagePercent < 0 || cfg.TakeProfitSlippagePercent < 0 {
		errs = errors.Join(errs, fmt.Errorf("slippage percents cannot be negative"))
	}

	return errs
}

// Paper simulates order execution by applying deterministic slippage and fee
// formulas to the reference price instead of calling an exchange.
type Paper struct {
	cfg *PaperConfig
}

// Ensure the paper broker implements the Broker interface.
var _ Broker = (*Paper)(nil)

// NewPaper initializes a new paper broker.
func NewPaper(cfg *PaperConfig) (*Paper, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating paper broker config: %w", err)
	}

	return &Paper{cfg: cfg}, nil
}

// SubmitEntry fills an entry at the reference price shifted unfavorably by
// the entry slippage, a long pays up and a short pays down.
func (p *Paper) SubmitEntry(_ context.Context, market string, direction shared.Direction,
	size float64, referencePrice float64) (*Fill, error) {
	if size <= 0 {
		return nil, fmt.Errorf("entry size must be positive, got %f", size)
	}

	var price float64
	switch direction {
	case shared.Long:
		price = referencePrice * (1 + p.cfg.EntrySlippagePercent)
	case shared.Short:
		price = referencePrice * (1 - p.cfg.EntrySlippagePercent)
	default:
		return nil, fmt.Errorf("unknown direction for %s entry: %d", market, direction)
	}

	return &Fill{Price: price, Fee: price * size * p.cfg.TakerFeePercent}, nil
}

// SubmitExit fills an exit at the reference price shifted unfavorably by the
// slippage for the exit reason, a long fills down and a short fills up.
func (p *Paper) SubmitExit(_ context.Context, market string, direction shared.Direction,
	size float64, referencePrice float64, reason shared.ExitReason) (*Fill, error) {
	if size <= 0 {
		return nil, fmt.Errorf("exit size must be positive, got %f", size)
	}

	var slippage float64
	switch reason {
	case shared.TakeProfitOneHit, shared.TakeProfitTwoHit:
		slippage = p.cfg.TakeProfitSlippagePercent
	default:
		slippage = p.cfg.StopSlippagePercent
	}

	var price float64
	switch direction {
	case shared.Long:
		price = referencePrice * (1 - slippage)
	case shared.Short:
		price = referencePrice * (1 + slippage)
	default:
		return nil, fmt.Errorf("unknown direction for %s exit: %d", market, direction)
	}

	return &Fill{Price: price, Fee: price * size * p.cfg.TakerFeePercent}, nil
}
