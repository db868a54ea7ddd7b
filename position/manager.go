package position

import (
	"context"
	"errors"
	"fmt"

	"github.com/dnldd/breakout/broker"
	"github.com/dnldd/breakout/shared"
	"github.com/rs/zerolog"
)

// ManagerConfig represents the position manager configuration.
type ManagerConfig struct {
	// Market is the name of the managed market.
	Market string
	// TakeProfit1Fraction is the fraction of the initial size closed at the
	// first target.
	TakeProfit1Fraction float64
	// BreakevenBufferPercent offsets the promoted breakeven stop as a
	// fraction of entry. Mutually exclusive with BreakevenBufferATRMult.
	BreakevenBufferPercent float64
	// BreakevenBufferATRMult offsets the promoted breakeven stop as an ATR
	// multiple. Mutually exclusive with BreakevenBufferPercent.
	BreakevenBufferATRMult float64
	// StructurePadATRMult pads the structure trailing stop beyond the pivot.
	StructurePadATRMult float64
	// SeatbeltATRMult is the ATR trail distance from the post-TP1 extrema.
	SeatbeltATRMult float64
	// TimeStopBars is the maximum number of bars the runner is held after
	// the first target, zero disables the time stop.
	TimeStopBars int
	// Broker executes entries and exits.
	Broker broker.Broker
	// EmitEvent relays the provided event for processing.
	EmitEvent func(event shared.Event)
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config has sane inputs.
func (cfg *ManagerConfig) Validate() error {
	var errs error

	if cfg.Market == "" {
		errs = errors.Join(errs, fmt.Errorf("market cannot be an empty string"))
	}
	if cfg.TakeProfit1Fraction <= 0 || cfg.TakeProfit1Fraction > 1 {
		errs = errors.Join(errs, fmt.Errorf("take profit 1 fraction must be in (0, 1]"))
	}
	if cfg.BreakevenBufferPercent < 0 || cfg.BreakevenBufferATRMult < 0 {
		errs = errors.Join(errs, fmt.Errorf("breakeven buffers cannot be negative"))
	}
	if cfg.BreakevenBufferPercent > 0 && cfg.BreakevenBufferATRMult > 0 {
		errs = errors.Join(errs, fmt.Errorf("breakeven buffer percent and atr multiple are mutually exclusive"))
	}
	if cfg.StructurePadATRMult < 0 || cfg.SeatbeltATRMult < 0 {
		errs = errors.Join(errs, fmt.Errorf("runner trail multipliers cannot be negative"))
	}
	if cfg.TimeStopBars < 0 {
		errs = errors.Join(errs, fmt.Errorf("time stop bars cannot be negative"))
	}
	if cfg.Broker == nil {
		errs = errors.Join(errs, fmt.Errorf("broker cannot be nil"))
	}
	if cfg.EmitEvent == nil {
		errs = errors.Join(errs, fmt.Errorf("event emitter cannot be nil"))
	}

	return errs
}

// CandleContext carries the per-close inputs the open position is managed
// against.
type CandleContext struct {
	// Candle is the newly closed execution timeframe candle.
	Candle *shared.Candlestick
	// BarIndex is the monotonically increasing closed candle counter.
	BarIndex int
	// ATR is the current average true range on the execution timeframe.
	ATR float64
	// SwingLow carries the value and absolute bar index of the last
	// confirmed swing low, valid when SwingLowOK is set.
	SwingLow    float64
	SwingLowBar int
	SwingLowOK  bool
	// SwingHigh carries the value and absolute bar index of the last
	// confirmed swing high, valid when SwingHighOK is set.
	SwingHigh    float64
	SwingHighBar int
	SwingHighOK  bool
	// EMA values on the execution timeframe for cross detection, valid when
	// the respective ok flags are set.
	EMAFast     float64
	EMASlow     float64
	EMAOK       bool
	PrevEMAFast float64
	PrevEMASlow float64
	PrevEMAOK   bool
}

// TradeResult represents the outcome of a fully closed trade.
type TradeResult struct {
	// PNL is the net realized pnl of the whole trade, all legs and fees.
	PNL float64
	// Reason is the final exit reason.
	Reason shared.ExitReason
	// Position is the closed position.
	Position *Position
}

// Manager manages at most one open position for its market through the
// take profit, breakeven promotion and runner trailing lifecycle.
type Manager struct {
	cfg      *ManagerConfig
	position *Position
}

// NewManager initializes a new position manager.
func NewManager(cfg *ManagerConfig) (*Manager, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating position manager config: %w", err)
	}

	return &Manager{cfg: cfg}, nil
}

// HasOpenPosition reports whether a position is currently open.
func (m *Manager) HasOpenPosition() bool {
	return m.position != nil
}

// Position returns the currently open position, or nil.
func (m *Manager) Position() *Position {
	return m.position
}

// Open opens a position for the provided setup and size. The position is
// created only from a confirmed entry fill, a failed submission leaves the
// manager flat. Risk per unit and targets are recomputed from the fill price
// so slippage is reflected in the plan.
func (m *Manager) Open(ctx context.Context, setup *shared.TradeSetup, size float64, barIndex int) error {
	if m.position != nil {
		return fmt.Errorf("%s already has an open position (%s)", m.cfg.Market, m.position.ID)
	}
	if size <= 0 {
		return fmt.Errorf("position size must be positive, got %f", size)
	}

	fill, err := m.cfg.Broker.SubmitEntry(ctx, setup.Market, setup.Direction, size, setup.Entry)
	if err != nil {
		return fmt.Errorf("submitting %s entry: %w", setup.Market, err)
	}

	// Recompute risk and targets from the actual fill, preserving the risk
	// multiples of the setup plan so slippage shifts targets with the entry.
	var risk, tp1, tp2 float64
	switch setup.Direction {
	case shared.Long:
		risk = fill.Price - setup.Stop
		tp1Mult := (setup.TakeProfit1 - setup.Entry) / setup.RiskPerUnit
		tp1 = fill.Price + tp1Mult*risk
		if setup.TakeProfit2 != 0 {
			tp2Mult := (setup.TakeProfit2 - setup.Entry) / setup.RiskPerUnit
			tp2 = fill.Price + tp2Mult*risk
		}
	case shared.Short:
		risk = setup.Stop - fill.Price
		tp1Mult := (setup.Entry - setup.TakeProfit1) / setup.RiskPerUnit
		tp1 = fill.Price - tp1Mult*risk
		if setup.TakeProfit2 != 0 {
			tp2Mult := (setup.Entry - setup.TakeProfit2) / setup.RiskPerUnit
			tp2 = fill.Price - tp2Mult*risk
		}
	}

	if risk <= 0 {
		// Slippage consumed the whole risk distance, unwind immediately.
		_, exitErr := m.cfg.Broker.SubmitExit(ctx, setup.Market, setup.Direction, size,
			fill.Price, shared.StopLossHit)
		if exitErr != nil {
			m.cfg.Logger.Error().Msgf("unwinding degenerate %s entry: %v", setup.Market, exitErr)
		}
		return fmt.Errorf("%s entry fill %f crossed the stop %f", setup.Market, fill.Price, setup.Stop)
	}

	pos := NewPosition(setup.Market, setup.Direction, fill.Price, setup.Stop, size,
		tp1, size*m.cfg.TakeProfit1Fraction, tp2, fill.Fee, setup.CreatedOn)
	pos.tp1Bar = barIndex
	m.position = pos

	event := shared.NewEvent(shared.EventPositionOpened, m.cfg.Market, setup.CreatedOn)
	event.Direction = pos.Direction
	event.Price = pos.EntryPrice
	event.Stop = pos.StopPrice
	event.TakeProfit1 = pos.TakeProfit1Price
	event.TakeProfit2 = pos.TakeProfit2Price
	event.Size = pos.InitialSize
	m.cfg.EmitEvent(event)

	return nil
}

// HandleCandle manages the open position against the provided closed candle.
// Returns the trade result when the position fully closes, nil while it
// remains open. An exit submission failure leaves the position open so the
// exit is retried on the next candle.
func (m *Manager) HandleCandle(ctx context.Context, cctx *CandleContext) (*TradeResult, error) {
	pos := m.position
	if pos == nil {
		return nil, nil
	}

	switch pos.Phase {
	case PreTP1:
		return m.handlePreTP1(ctx, cctx)
	case Runner:
		return m.handleRunner(ctx, cctx)
	default:
		return nil, fmt.Errorf("unknown phase for %s position: %d", m.cfg.Market, pos.Phase)
	}
}

// handlePreTP1 manages the position before the first target: the initial
// stop takes priority, then the first target, then the optional second
// target.
func (m *Manager) handlePreTP1(ctx context.Context, cctx *CandleContext) (*TradeResult, error) {
	pos := m.position
	candle := cctx.Candle

	if m.touched(pos.StopPrice, candle) {
		return m.closeRemaining(ctx, cctx, pos.StopPrice, shared.StopLossHit)
	}

	if !pos.TakeProfit1Taken && m.touchedFavorable(pos.TakeProfit1Price, candle) {
		err := m.takeTP1(ctx, cctx)
		if err != nil {
			return nil, err
		}
	}

	if pos.TakeProfit2Price != 0 && m.touchedFavorable(pos.TakeProfit2Price, candle) {
		return m.closeRemaining(ctx, cctx, pos.TakeProfit2Price, shared.TakeProfitTwoHit)
	}

	m.emitMarkToMarket(cctx)

	return nil, nil
}

// takeTP1 closes the first target fraction, promotes the stop toward
// breakeven and transitions the position into the runner phase.
func (m *Manager) takeTP1(ctx context.Context, cctx *CandleContext) error {
	pos := m.position
	candle := cctx.Candle

	fill, err := m.cfg.Broker.SubmitExit(ctx, pos.Market, pos.Direction, pos.TakeProfit1Size,
		pos.TakeProfit1Price, shared.TakeProfitOneHit)
	if err != nil {
		return fmt.Errorf("submitting %s tp1 exit: %w", pos.Market, err)
	}

	legPNL := pos.grossLegPNL(fill.Price, pos.TakeProfit1Size) - fill.Fee
	pos.RealizedPNL += legPNL
	pos.FeesPaid += fill.Fee
	pos.CurrentSize -= pos.TakeProfit1Size
	pos.TakeProfit1Taken = true

	// Promote the stop to breakeven plus a buffer, never loosening it.
	var buffer float64
	switch {
	case m.cfg.BreakevenBufferATRMult > 0:
		buffer = cctx.ATR * m.cfg.BreakevenBufferATRMult
	default:
		buffer = pos.EntryPrice * m.cfg.BreakevenBufferPercent
	}

	switch pos.Direction {
	case shared.Long:
		breakeven := pos.EntryPrice + buffer
		if breakeven > pos.StopPrice {
			pos.StopPrice = breakeven
		}
	case shared.Short:
		breakeven := pos.EntryPrice - buffer
		if breakeven < pos.StopPrice {
			pos.StopPrice = breakeven
		}
	}

	pos.Phase = Runner
	pos.tp1Bar = cctx.BarIndex
	pos.highestHigh = candle.High
	pos.lowestLow = candle.Low
	pos.structStopSet = false
	pos.atrStopSet = false

	event := shared.NewEvent(shared.EventTakeProfitOneTaken, pos.Market, candle.Date)
	event.Direction = pos.Direction
	event.Price = fill.Price
	event.Stop = pos.StopPrice
	event.Size = pos.TakeProfit1Size
	event.PNL = legPNL
	m.cfg.EmitEvent(event)

	return nil
}

// handleRunner manages the remaining size with the best of the breakeven,
// structure trail and ATR seatbelt stops, plus the EMA cross and time based
// forced exits.
func (m *Manager) handleRunner(ctx context.Context, cctx *CandleContext) (*TradeResult, error) {
	pos := m.position
	candle := cctx.Candle

	if pos.TakeProfit2Price != 0 && m.touchedFavorable(pos.TakeProfit2Price, candle) {
		return m.closeRemaining(ctx, cctx, pos.TakeProfit2Price, shared.TakeProfitTwoHit)
	}

	// Maintain running extrema since the first target bar.
	if candle.High > pos.highestHigh {
		pos.highestHigh = candle.High
	}
	if candle.Low < pos.lowestLow {
		pos.lowestLow = candle.Low
	}

	runnerStop := m.updateRunnerStop(cctx)

	if m.touched(runnerStop, candle) {
		return m.closeRemaining(ctx, cctx, runnerStop, shared.RunnerStopHit)
	}

	if cctx.EMAOK && cctx.PrevEMAOK {
		var crossed bool
		switch pos.Direction {
		case shared.Long:
			crossed = cctx.PrevEMAFast >= cctx.PrevEMASlow && cctx.EMAFast < cctx.EMASlow
		case shared.Short:
			crossed = cctx.PrevEMAFast <= cctx.PrevEMASlow && cctx.EMAFast > cctx.EMASlow
		}
		if crossed {
			return m.closeRemaining(ctx, cctx, candle.Close, shared.EMACrossExit)
		}
	}

	if m.cfg.TimeStopBars > 0 && cctx.BarIndex-pos.tp1Bar >= m.cfg.TimeStopBars {
		return m.closeRemaining(ctx, cctx, candle.Close, shared.TimeStopExit)
	}

	m.emitMarkToMarket(cctx)

	return nil, nil
}

// updateRunnerStop recomputes the candidate protective stops, tightening
// monotonically, and returns the most favorable of them.
func (m *Manager) updateRunnerStop(cctx *CandleContext) float64 {
	pos := m.position

	structPad := cctx.ATR * m.cfg.StructurePadATRMult
	seatbelt := cctx.ATR * m.cfg.SeatbeltATRMult

	switch pos.Direction {
	case shared.Long:
		// Structure trail from confirmed pivots formed after the tp1 bar.
		if cctx.SwingLowOK && cctx.SwingLowBar > pos.tp1Bar {
			candidate := cctx.SwingLow - structPad
			if !pos.structStopSet || candidate > pos.structStop {
				pos.structStop = candidate
				pos.structStopSet = true
			}
		}

		candidate := pos.highestHigh - seatbelt
		if !pos.atrStopSet || candidate > pos.atrStop {
			pos.atrStop = candidate
			pos.atrStopSet = true
		}

		runnerStop := pos.StopPrice
		if pos.structStopSet && pos.structStop > runnerStop {
			runnerStop = pos.structStop
		}
		if pos.atrStopSet && pos.atrStop > runnerStop {
			runnerStop = pos.atrStop
		}

		m.emitRunnerStop(cctx, runnerStop)
		return runnerStop

	default:
		if cctx.SwingHighOK && cctx.SwingHighBar > pos.tp1Bar {
			candidate := cctx.SwingHigh + structPad
			if !pos.structStopSet || candidate < pos.structStop {
				pos.structStop = candidate
				pos.structStopSet = true
			}
		}

		candidate := pos.lowestLow + seatbelt
		if !pos.atrStopSet || candidate < pos.atrStop {
			pos.atrStop = candidate
			pos.atrStopSet = true
		}

		runnerStop := pos.StopPrice
		if pos.structStopSet && pos.structStop < runnerStop {
			runnerStop = pos.structStop
		}
		if pos.atrStopSet && pos.atrStop < runnerStop {
			runnerStop = pos.atrStop
		}

		m.emitRunnerStop(cctx, runnerStop)
		return runnerStop
	}
}

// emitRunnerStop emits a runner stop update when the effective stop moves.
func (m *Manager) emitRunnerStop(cctx *CandleContext, runnerStop float64) {
	pos := m.position
	if runnerStop == pos.StopPrice {
		return
	}

	pos.StopPrice = runnerStop

	event := shared.NewEvent(shared.EventRunnerStopUpdated, pos.Market, cctx.Candle.Date)
	event.Direction = pos.Direction
	event.Stop = runnerStop
	m.cfg.EmitEvent(event)
}

// closeRemaining fully closes the remaining size at the reference price and
// returns the trade result.
func (m *Manager) closeRemaining(ctx context.Context, cctx *CandleContext,
	referencePrice float64, reason shared.ExitReason) (*TradeResult, error) {
	pos := m.position

	fill, err := m.cfg.Broker.SubmitExit(ctx, pos.Market, pos.Direction, pos.CurrentSize,
		referencePrice, reason)
	if err != nil {
		// A desynchronized position is the most severe failure mode here,
		// keep the position open and retry the exit on the next candle.
		m.cfg.Logger.Error().Msgf("%s exit submission failed, position may be desynchronized, "+
			"retrying next candle: %v", pos.Market, err)
		return nil, fmt.Errorf("submitting %s exit: %w", pos.Market, err)
	}

	legPNL := pos.grossLegPNL(fill.Price, pos.CurrentSize) - fill.Fee
	pos.RealizedPNL += legPNL
	pos.FeesPaid += fill.Fee
	pos.CurrentSize = 0
	pos.ExitPrice = fill.Price
	pos.ExitReason = reason
	pos.ClosedOn = cctx.Candle.Date

	event := shared.NewEvent(shared.EventPositionClosed, pos.Market, cctx.Candle.Date)
	event.Direction = pos.Direction
	event.Price = fill.Price
	event.PNL = pos.RealizedPNL
	event.Reason = reason
	m.cfg.EmitEvent(event)

	m.position = nil

	return &TradeResult{PNL: pos.RealizedPNL, Reason: reason, Position: pos}, nil
}

// touched reports whether the candle traded through the protective stop.
func (m *Manager) touched(stop float64, candle *shared.Candlestick) bool {
	switch m.position.Direction {
	case shared.Long:
		return candle.Low <= stop
	case shared.Short:
		return candle.High >= stop
	default:
		return false
	}
}

// touchedFavorable reports whether the candle traded through a target in the
// favorable direction.
func (m *Manager) touchedFavorable(target float64, candle *shared.Candlestick) bool {
	switch m.position.Direction {
	case shared.Long:
		return candle.High >= target
	case shared.Short:
		return candle.Low <= target
	default:
		return false
	}
}

// emitMarkToMarket emits the unrealized pnl of the open position.
func (m *Manager) emitMarkToMarket(cctx *CandleContext) {
	pos := m.position

	event := shared.NewEvent(shared.EventMarkToMarket, pos.Market, cctx.Candle.Date)
	event.Direction = pos.Direction
	event.Price = cctx.Candle.Close
	event.PNL = pos.MarkToMarket(cctx.Candle.Close)
	m.cfg.EmitEvent(event)
}
