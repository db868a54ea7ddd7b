package market

import (
	"errors"
	"fmt"
	"time"

	"github.com/dnldd/breakout/shared"
)

const (
	// defaultSnapshotSize is the default closed candle capacity per timeframe.
	defaultSnapshotSize = 360
	// biasSeedCandles is the number of seeded execution candles replayed into
	// the bias timeframe builder.
	biasSeedCandles = 240
)

// Config represents the market configuration.
type Config struct {
	// Market is the name of the tracked market.
	Market string
	// ExecTimeframe is the execution timeframe candles are built on.
	ExecTimeframe shared.Timeframe
	// BiasTimeframe is the higher timeframe synthesized from execution closes.
	BiasTimeframe shared.Timeframe
	// SnapshotSize overrides the default candle history capacity when positive.
	SnapshotSize int32
}

// Validate asserts the config has sane inputs.
func (cfg *Config) Validate() error {
	var errs error

	if cfg.Market == "" {
		errs = errors.Join(errs, fmt.Errorf("market cannot be an empty string"))
	}
	if cfg.ExecTimeframe.Seconds() <= 0 {
		errs = errors.Join(errs, fmt.Errorf("execution timeframe has no positive width"))
	}
	if cfg.BiasTimeframe.Seconds() <= cfg.ExecTimeframe.Seconds() {
		errs = errors.Join(errs, fmt.Errorf("bias timeframe must be wider than the execution timeframe"))
	}

	return errs
}

// Market aggregates the tick stream of one market into execution timeframe
// candles and synthesizes bias timeframe candles from their closes.
type Market struct {
	cfg  *Config
	exec *CandleBuilder
	bias *CandleBuilder
}

// NewMarket initializes a new market.
func NewMarket(cfg *Config) (*Market, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating market config: %w", err)
	}

	size := cfg.SnapshotSize
	if size <= 0 {
		size = defaultSnapshotSize
	}

	exec, err := NewCandleBuilder(cfg.Market, cfg.ExecTimeframe, size)
	if err != nil {
		return nil, fmt.Errorf("creating execution candle builder: %w", err)
	}

	bias, err := NewCandleBuilder(cfg.Market, cfg.BiasTimeframe, size)
	if err != nil {
		return nil, fmt.Errorf("creating bias candle builder: %w", err)
	}

	return &Market{
		cfg:  cfg,
		exec: exec,
		bias: bias,
	}, nil
}

// Seed initializes the market from bootstrapped execution timeframe history.
// Bias candles are rebuilt from the closes of the seeded candles.
func (m *Market) Seed(history []shared.Candlestick) error {
	for idx := range history {
		if history[idx].Timeframe != m.cfg.ExecTimeframe {
			return fmt.Errorf("expected %s history, got %s",
				m.cfg.ExecTimeframe.String(), history[idx].Timeframe.String())
		}
	}

	m.exec.Seed(history)

	closed := m.exec.Snapshot().LastN(biasSeedCandles)
	for idx := range closed {
		m.feedBias(closed[idx])
	}

	return nil
}

// Update processes the provided tick and returns the newly closed execution
// timeframe candle, or nil if the tick did not close one.
func (m *Market) Update(tick shared.Tick) *shared.Candlestick {
	closed := m.exec.Update(tick.Time.Unix(), tick.Price)
	if closed == nil {
		return nil
	}

	m.feedBias(closed)
	return closed
}

// Backfill inserts a fetched execution timeframe candle that closed while
// the tick stream was down. Candles at or before the last closed bucket and
// candles at or after the in-progress bucket are dropped, live ticks already
// cover those. The accepted candle is returned, nil otherwise.
func (m *Market) Backfill(candle *shared.Candlestick) *shared.Candlestick {
	if candle.Timeframe != m.cfg.ExecTimeframe {
		return nil
	}

	bucket := m.cfg.ExecTimeframe.Bucket(candle.Date.Unix())
	if last := m.exec.LastClosed(); last != nil && bucket <= last.Date.Unix() {
		return nil
	}
	if current := m.exec.Current(); current != nil && bucket >= current.Date.Unix() {
		return nil
	}

	accepted := *candle
	accepted.Market = m.cfg.Market
	accepted.Date = timeFromBucket(bucket)
	m.exec.Append(&accepted)
	m.feedBias(&accepted)

	return &accepted
}

// feedBias advances the bias timeframe builder with the close of a finalized
// execution candle, stamped at the candle's close time.
func (m *Market) feedBias(closed *shared.Candlestick) {
	closeTime := closed.Date.Unix() + m.cfg.ExecTimeframe.Seconds()
	m.bias.Update(closeTime, closed.Close)
}

// ExecSnapshot returns the closed execution timeframe candle history.
func (m *Market) ExecSnapshot() *shared.CandlestickSnapshot {
	return m.exec.Snapshot()
}

// BiasSnapshot returns the closed bias timeframe candle history.
func (m *Market) BiasSnapshot() *shared.CandlestickSnapshot {
	return m.bias.Snapshot()
}

func timeFromBucket(bucket int64) time.Time {
	return time.Unix(bucket, 0).UTC()
}
