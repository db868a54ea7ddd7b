package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/dnldd/breakout/indicator"
	"github.com/dnldd/breakout/market"
	"github.com/dnldd/breakout/position"
	"github.com/dnldd/breakout/risk"
	"github.com/dnldd/breakout/shared"
	"github.com/dnldd/breakout/structure"
	"github.com/rs/zerolog"
)

const (
	// bufferSize is the default buffer size for channels.
	bufferSize = 64
	// emaWindowMult scales the slow ema period into the close window used to
	// compute emas, wide enough for the recurrence to converge.
	emaWindowMult = 4
	// minExecCandles is the minimum closed execution candles required before
	// evaluating.
	minExecCandles = 120
	// minBiasCandles is the minimum closed bias candles required before
	// evaluating.
	minBiasCandles = 40
	// rsiPeriod is the momentum window logged with each indicator snapshot.
	rsiPeriod = 14
)

// TraderConfig represents the per market trader configuration.
type TraderConfig struct {
	// Market is the name of the traded market.
	Market string
	// EMAFastPeriod and EMASlowPeriod are the execution timeframe trend emas.
	EMAFastPeriod int
	EMASlowPeriod int
	// BiasEMAFastPeriod and BiasEMASlowPeriod are the bias timeframe emas.
	BiasEMAFastPeriod int
	BiasEMASlowPeriod int
	// ATRPeriod is the average true range length on the execution timeframe.
	ATRPeriod int
	// PivotLookback is the confirmation width for swing pivots.
	PivotLookback int
	// RiskPerTrade is the account currency risked per trade.
	RiskPerTrade float64
	// RecordClosedTrade relays the provided closed trade for persistence.
	RecordClosedTrade func(pos *position.Position)
	// EmitEvent relays the provided event for processing.
	EmitEvent func(event shared.Event)
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config has sane inputs.
func (cfg *TraderConfig) Validate() error {
	var errs error

	if cfg.Market == "" {
		errs = errors.Join(errs, fmt.Errorf("market cannot be an empty string"))
	}
	if cfg.EMAFastPeriod < 1 || cfg.EMASlowPeriod <= cfg.EMAFastPeriod {
		errs = errors.Join(errs, fmt.Errorf("invalid execution ema periods: %d/%d",
			cfg.EMAFastPeriod, cfg.EMASlowPeriod))
	}
	if cfg.BiasEMAFastPeriod < 1 || cfg.BiasEMASlowPeriod <= cfg.BiasEMAFastPeriod {
		errs = errors.Join(errs, fmt.Errorf("invalid bias ema periods: %d/%d",
			cfg.BiasEMAFastPeriod, cfg.BiasEMASlowPeriod))
	}
	if cfg.ATRPeriod < 1 {
		errs = errors.Join(errs, fmt.Errorf("atr period must be at least 1"))
	}
	if cfg.PivotLookback < 1 {
		errs = errors.Join(errs, fmt.Errorf("pivot lookback must be at least 1"))
	}
	if cfg.RiskPerTrade <= 0 {
		errs = errors.Join(errs, fmt.Errorf("risk per trade must be positive"))
	}
	if cfg.RecordClosedTrade == nil {
		errs = errors.Join(errs, fmt.Errorf("closed trade recorder cannot be nil"))
	}
	if cfg.EmitEvent == nil {
		errs = errors.Join(errs, fmt.Errorf("event emitter cannot be nil"))
	}

	return errs
}

// Trader runs the full evaluation pipeline for one market. All of its state
// transitions happen synchronously on its own goroutine, one closed candle at
// a time, so no candle is ever evaluated against partially updated state.
type Trader struct {
	cfg       *TraderConfig
	market    *market.Market
	structure *structure.StateMachine
	positions *position.Manager
	risk      *risk.State

	ticks     chan shared.Tick
	backfills chan []shared.Candlestick

	barIndex    int
	prevEMAFast float64
	prevEMASlow float64
	prevEMAOK   bool
}

// NewTrader initializes a new trader.
func NewTrader(cfg *TraderConfig, mkt *market.Market, sm *structure.StateMachine,
	positions *position.Manager, riskState *risk.State) (*Trader, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating trader config: %w", err)
	}

	return &Trader{
		cfg:       cfg,
		market:    mkt,
		structure: sm,
		positions: positions,
		risk:      riskState,
		ticks:     make(chan shared.Tick, bufferSize),
		backfills: make(chan []shared.Candlestick, bufferSize),
		barIndex:  -1,
	}, nil
}

// SeedHistory bootstraps the trader from fetched execution timeframe history.
func (t *Trader) SeedHistory(history []shared.Candlestick) error {
	err := t.market.Seed(history)
	if err != nil {
		return fmt.Errorf("seeding %s market: %w", t.cfg.Market, err)
	}

	t.barIndex = int(t.market.ExecSnapshot().Count()) - 1
	return nil
}

// SendTick relays the provided tick for processing.
func (t *Trader) SendTick(tick shared.Tick) {
	select {
	case t.ticks <- tick:
		// do nothing.
	default:
		t.cfg.Logger.Error().Msgf("%s tick channel at capacity: %d/%d",
			t.cfg.Market, len(t.ticks), bufferSize)
	}
}

// SendBackfill relays the provided catch up candles for processing.
func (t *Trader) SendBackfill(candles []shared.Candlestick) {
	select {
	case t.backfills <- candles:
		// do nothing.
	default:
		t.cfg.Logger.Error().Msgf("%s backfill channel at capacity: %d/%d",
			t.cfg.Market, len(t.backfills), bufferSize)
	}
}

// handleBackfill folds candles fetched across a stream gap into the market,
// evaluating any that close a missing bucket.
func (t *Trader) handleBackfill(ctx context.Context, candles []shared.Candlestick) {
	for idx := range candles {
		closed := t.market.Backfill(&candles[idx])
		if closed == nil {
			continue
		}

		t.handleClosedCandle(ctx, closed)
	}
}

// handleTick processes the provided tick, advancing the evaluation pipeline
// when it closes an execution timeframe candle.
func (t *Trader) handleTick(ctx context.Context, tick shared.Tick) {
	closed := t.market.Update(tick)
	if closed == nil {
		return
	}

	t.handleClosedCandle(ctx, closed)
}

// handleClosedCandle evaluates the newly closed execution timeframe candle.
func (t *Trader) handleClosedCandle(ctx context.Context, candle *shared.Candlestick) {
	t.barIndex++

	event := shared.NewEvent(shared.EventCandleClosed, t.cfg.Market, candle.Date)
	event.Price = candle.Close
	t.cfg.EmitEvent(event)

	exec := t.market.ExecSnapshot()
	bias := t.market.BiasSnapshot()

	if exec.Count() < minExecCandles || bias.Count() < minBiasCandles {
		return
	}

	window := int32(t.cfg.EMASlowPeriod * emaWindowMult)
	execCloses := exec.Closes(window)
	biasCloses := bias.Closes(int32(t.cfg.BiasEMASlowPeriod * emaWindowMult))

	emaFast, fastOK := indicator.EMA(execCloses, t.cfg.EMAFastPeriod)
	emaSlow, slowOK := indicator.EMA(execCloses, t.cfg.EMASlowPeriod)
	biasFast, biasFastOK := indicator.EMA(biasCloses, t.cfg.BiasEMAFastPeriod)
	biasSlow, biasSlowOK := indicator.EMA(biasCloses, t.cfg.BiasEMASlowPeriod)
	emaOK := fastOK && slowOK
	biasOK := biasFastOK && biasSlowOK

	atr, atrOK := indicator.ATR(exec.LastN(int32(t.cfg.ATRPeriod)+1), t.cfg.ATRPeriod)
	if !emaOK || !biasOK || !atrOK {
		t.trackEMAs(emaFast, emaSlow, emaOK)
		return
	}

	if rsi, ok := indicator.RSI(execCloses, rsiPeriod); ok {
		t.cfg.Logger.Debug().Msgf("%s close %f ema %f/%f atr %f rsi %f",
			t.cfg.Market, candle.Close, emaFast, emaSlow, atr, rsi)
	}

	pivotWindow := exec.LastN(window)
	highs := make([]float64, len(pivotWindow))
	lows := make([]float64, len(pivotWindow))
	for idx := range pivotWindow {
		highs[idx] = pivotWindow[idx].High
		lows[idx] = pivotWindow[idx].Low
	}

	// Window positions translate to absolute bar indices, the last window
	// element is the just closed candle.
	windowBase := t.barIndex - len(pivotWindow) + 1
	swingHighIdx, swingHighOK := indicator.LastConfirmedSwingHigh(highs, t.cfg.PivotLookback)
	swingLowIdx, swingLowOK := indicator.LastConfirmedSwingLow(lows, t.cfg.PivotLookback)

	var prevClose float64
	if len(execCloses) > 1 {
		prevClose = execCloses[len(execCloses)-2]
	}

	if t.positions.HasOpenPosition() {
		cctx := &position.CandleContext{
			Candle:      candle,
			BarIndex:    t.barIndex,
			ATR:         atr,
			EMAFast:     emaFast,
			EMASlow:     emaSlow,
			EMAOK:       emaOK,
			PrevEMAFast: t.prevEMAFast,
			PrevEMASlow: t.prevEMASlow,
			PrevEMAOK:   t.prevEMAOK,
		}
		if swingHighOK {
			cctx.SwingHigh = highs[swingHighIdx]
			cctx.SwingHighBar = windowBase + swingHighIdx
			cctx.SwingHighOK = true
		}
		if swingLowOK {
			cctx.SwingLow = lows[swingLowIdx]
			cctx.SwingLowBar = windowBase + swingLowIdx
			cctx.SwingLowOK = true
		}

		result, err := t.positions.HandleCandle(ctx, cctx)
		if err != nil {
			t.cfg.Logger.Error().Msgf("managing %s position: %v", t.cfg.Market, err)
		}
		if result != nil {
			t.risk.RegisterTradeResult(result.PNL, candle.Date)
			t.cfg.RecordClosedTrade(result.Position)
		}

		t.trackEMAs(emaFast, emaSlow, emaOK)
		return
	}

	if !swingHighOK || !swingLowOK {
		t.trackEMAs(emaFast, emaSlow, emaOK)
		return
	}

	inputs := &structure.Inputs{
		Candle:     candle,
		PrevClose:  prevClose,
		SwingHigh:  highs[swingHighIdx],
		SwingLow:   lows[swingLowIdx],
		ATR:        atr,
		BiasLong:   biasFast > biasSlow,
		BiasShort:  biasFast < biasSlow,
		TrendLong:  emaFast > emaSlow,
		TrendShort: emaFast < emaSlow,
	}

	setup := t.structure.Evaluate(inputs)
	if setup != nil {
		t.enter(ctx, setup)
	}

	t.trackEMAs(emaFast, emaSlow, emaOK)
}

// enter applies the risk breakers and opens a position for the confirmed
// setup.
func (t *Trader) enter(ctx context.Context, setup *shared.TradeSetup) {
	allowed, reason := t.risk.CanEnter(setup.CreatedOn)
	if !allowed {
		t.cfg.Logger.Info().Msgf("%s entry blocked: %s", t.cfg.Market, reason)
		return
	}

	// The sizing distance must be positive, so the prices are passed entry
	// then stop for longs and stop then entry for shorts.
	var size float64
	switch setup.Direction {
	case shared.Short:
		size = risk.SizeFromRisk(t.cfg.RiskPerTrade, setup.Stop, setup.Entry)
	default:
		size = risk.SizeFromRisk(t.cfg.RiskPerTrade, setup.Entry, setup.Stop)
	}
	if size <= 0 {
		t.cfg.Logger.Error().Msgf("%s setup produced a non-positive size, entry %f stop %f",
			t.cfg.Market, setup.Entry, setup.Stop)
		return
	}

	err := t.positions.Open(ctx, setup, size, t.barIndex)
	if err != nil {
		t.cfg.Logger.Error().Msgf("opening %s position: %v", t.cfg.Market, err)
	}
}

// trackEMAs records the current emas for cross detection on the next close.
func (t *Trader) trackEMAs(fast float64, slow float64, ok bool) {
	t.prevEMAFast = fast
	t.prevEMASlow = slow
	t.prevEMAOK = ok
}

// Run manages the lifecycle processes of the trader.
func (t *Trader) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-t.ticks:
			t.handleTick(ctx, tick)
		case candles := <-t.backfills:
			t.handleBackfill(ctx, candles)
		}
	}
}
