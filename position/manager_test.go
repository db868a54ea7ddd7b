package position

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/dnldd/breakout/broker"
	"github.com/dnldd/breakout/shared"
	"github.com/peterldowns/testy/assert"
	"github.com/rs/zerolog"
)

// fakeBroker fills orders at the reference price with no slippage or fees,
// optionally failing exits.
type fakeBroker struct {
	failExits bool
	entries   int
	exits     int
}

var _ broker.Broker = (*fakeBroker)(nil)

func (b *fakeBroker) SubmitEntry(_ context.Context, _ string, _ shared.Direction,
	_ float64, referencePrice float64) (*broker.Fill, error) {
	b.entries++
	return &broker.Fill{Price: referencePrice}, nil
}

func (b *fakeBroker) SubmitExit(_ context.Context, _ string, _ shared.Direction,
	_ float64, referencePrice float64, _ shared.ExitReason) (*broker.Fill, error) {
	if b.failExits {
		return nil, errors.New("exchange unavailable")
	}

	b.exits++
	return &broker.Fill{Price: referencePrice}, nil
}

func newTestManager(t *testing.T, executionBroker broker.Broker,
	events *[]shared.Event) *Manager {
	t.Helper()

	logger := zerolog.Nop()
	mgr, err := NewManager(&ManagerConfig{
		Market:                 "BTC",
		TakeProfit1Fraction:    0.5,
		BreakevenBufferPercent: 0.001,
		StructurePadATRMult:    0.5,
		SeatbeltATRMult:        2.0,
		TimeStopBars:           0,
		Broker:                 executionBroker,
		EmitEvent: func(event shared.Event) {
			*events = append(*events, event)
		},
		Logger: &logger,
	})
	assert.NoError(t, err)

	return mgr
}

func longSetup() *shared.TradeSetup {
	// entry 100, stop 99, 1R targets at 101 and 102.
	return shared.NewTradeSetup("BTC", shared.Long, 100, 99, 1, 101, 102,
		time.Unix(1700000100, 0).UTC())
}

func candleContext(barIndex int, high float64, low float64, close float64) *CandleContext {
	return &CandleContext{
		Candle: &shared.Candlestick{
			Open:  close,
			High:  high,
			Low:   low,
			Close: close,
			Date:  time.Unix(1700000100+int64(barIndex)*300, 0).UTC(),
		},
		BarIndex: barIndex,
		ATR:      0.5,
	}
}

func TestOpenEnforcesSinglePosition(t *testing.T) {
	var events []shared.Event
	fb := &fakeBroker{}
	mgr := newTestManager(t, fb, &events)
	ctx := context.Background()

	assert.False(t, mgr.HasOpenPosition())

	err := mgr.Open(ctx, longSetup(), 2.0, 0)
	assert.NoError(t, err)
	assert.True(t, mgr.HasOpenPosition())

	pos := mgr.Position()
	assert.Equal(t, pos.EntryPrice, float64(100))
	assert.Equal(t, pos.TakeProfit1Price, float64(101))
	assert.Equal(t, pos.TakeProfit2Price, float64(102))
	assert.Equal(t, pos.TakeProfit1Size, float64(1))
	assert.Equal(t, pos.Phase, PreTP1)

	// A second open while a position exists must fail.
	err = mgr.Open(ctx, longSetup(), 1.0, 1)
	assert.Error(t, err)
	assert.Equal(t, fb.entries, 1)
}

func TestStopTakesPriorityOverTargets(t *testing.T) {
	var events []shared.Event
	fb := &fakeBroker{}
	mgr := newTestManager(t, fb, &events)
	ctx := context.Background()

	err := mgr.Open(ctx, longSetup(), 2.0, 0)
	assert.NoError(t, err)

	// The candle spans both the stop and the first target, the stop wins.
	result, err := mgr.HandleCandle(ctx, candleContext(1, 101.5, 98.9, 99.5))
	assert.NoError(t, err)
	if result == nil {
		t.Fatal("expected the position to close on the stop")
	}

	assert.Equal(t, result.Reason, shared.StopLossHit)
	assert.Equal(t, result.PNL, float64(-2))
	assert.False(t, mgr.HasOpenPosition())
}

func TestTakeProfitOneAndRunnerStop(t *testing.T) {
	var events []shared.Event
	fb := &fakeBroker{}
	mgr := newTestManager(t, fb, &events)
	ctx := context.Background()

	err := mgr.Open(ctx, longSetup(), 2.0, 0)
	assert.NoError(t, err)

	// No level touched, the position marks to market and stays open.
	result, err := mgr.HandleCandle(ctx, candleContext(1, 100.5, 99.8, 100.2))
	assert.NoError(t, err)
	if result != nil {
		t.Fatal("expected the position to remain open")
	}

	// The first target fills half the size and promotes the stop to
	// breakeven plus the buffer.
	result, err = mgr.HandleCandle(ctx, candleContext(2, 101.2, 100.2, 101.0))
	assert.NoError(t, err)
	if result != nil {
		t.Fatal("expected the runner to remain open after tp1")
	}

	pos := mgr.Position()
	assert.True(t, pos.TakeProfit1Taken)
	assert.Equal(t, pos.Phase, Runner)
	assert.Equal(t, pos.CurrentSize, float64(1))
	if math.Abs(pos.StopPrice-100.1) > 1e-9 {
		t.Fatalf("expected breakeven stop 100.1, got %v", pos.StopPrice)
	}
	if math.Abs(pos.RealizedPNL-1) > 1e-9 {
		t.Fatalf("expected realized pnl 1 after tp1, got %v", pos.RealizedPNL)
	}

	// The ATR seatbelt ratchets the stop beneath the running high:
	// 101.5 - 2*0.5 = 100.5.
	result, err = mgr.HandleCandle(ctx, candleContext(3, 101.5, 100.8, 101.2))
	assert.NoError(t, err)
	if result != nil {
		t.Fatal("expected the runner to remain open")
	}
	if math.Abs(mgr.Position().StopPrice-100.5) > 1e-9 {
		t.Fatalf("expected runner stop 100.5, got %v", mgr.Position().StopPrice)
	}

	// A dip through the runner stop closes the remainder.
	result, err = mgr.HandleCandle(ctx, candleContext(4, 101.3, 100.4, 100.6))
	assert.NoError(t, err)
	if result == nil {
		t.Fatal("expected the runner stop to close the position")
	}

	assert.Equal(t, result.Reason, shared.RunnerStopHit)
	// tp1 leg 1.0 plus runner leg 0.5.
	if math.Abs(result.PNL-1.5) > 1e-9 {
		t.Fatalf("expected total pnl 1.5, got %v", result.PNL)
	}
	assert.False(t, mgr.HasOpenPosition())
}

func TestRunnerStopNeverLoosens(t *testing.T) {
	var events []shared.Event
	fb := &fakeBroker{}
	mgr := newTestManager(t, fb, &events)
	ctx := context.Background()

	err := mgr.Open(ctx, longSetup(), 2.0, 0)
	assert.NoError(t, err)

	_, err = mgr.HandleCandle(ctx, candleContext(1, 101.2, 100.2, 101.0))
	assert.NoError(t, err)

	// Ratchet the seatbelt up with a strong candle that stays shy of the
	// second target: 101.9 - 2*0.5 = 100.9.
	_, err = mgr.HandleCandle(ctx, candleContext(2, 101.9, 101.0, 101.7))
	assert.NoError(t, err)
	if !mgr.HasOpenPosition() {
		t.Fatal("expected the runner to remain open")
	}
	tightened := mgr.Position().StopPrice
	if math.Abs(tightened-100.9) > 1e-9 {
		t.Fatalf("expected runner stop 100.9, got %v", tightened)
	}

	// A weaker candle that stays above the stop must not loosen it.
	_, err = mgr.HandleCandle(ctx, candleContext(3, 101.5, 101.0, 101.3))
	assert.NoError(t, err)
	assert.Equal(t, mgr.Position().StopPrice, tightened)
}

func TestStructureTrailUsesPivotsAfterTP1(t *testing.T) {
	var events []shared.Event
	fb := &fakeBroker{}
	mgr := newTestManager(t, fb, &events)
	ctx := context.Background()

	err := mgr.Open(ctx, longSetup(), 2.0, 0)
	assert.NoError(t, err)

	// tp1 fills on bar 2.
	_, err = mgr.HandleCandle(ctx, candleContext(2, 101.2, 100.2, 101.0))
	assert.NoError(t, err)

	// A pivot formed before the tp1 bar is ignored.
	stale := candleContext(3, 101.4, 100.9, 101.2)
	stale.SwingLow = 100.9
	stale.SwingLowBar = 1
	stale.SwingLowOK = true
	_, err = mgr.HandleCandle(ctx, stale)
	assert.NoError(t, err)
	// Seatbelt only: 101.4 - 1.0.
	if math.Abs(mgr.Position().StopPrice-100.4) > 1e-9 {
		t.Fatalf("expected seatbelt stop 100.4, got %v", mgr.Position().StopPrice)
	}

	// A pivot formed strictly after the tp1 bar trails the stop beneath it
	// with the ATR pad: 101.0 - 0.5*0.5 = 100.75.
	fresh := candleContext(4, 101.5, 101.0, 101.3)
	fresh.SwingLow = 101.0
	fresh.SwingLowBar = 3
	fresh.SwingLowOK = true
	_, err = mgr.HandleCandle(ctx, fresh)
	assert.NoError(t, err)
	if math.Abs(mgr.Position().StopPrice-100.75) > 1e-9 {
		t.Fatalf("expected structure stop 100.75, got %v", mgr.Position().StopPrice)
	}
}

func TestEMACrossExitsRunner(t *testing.T) {
	var events []shared.Event
	fb := &fakeBroker{}
	mgr := newTestManager(t, fb, &events)
	ctx := context.Background()

	err := mgr.Open(ctx, longSetup(), 2.0, 0)
	assert.NoError(t, err)

	_, err = mgr.HandleCandle(ctx, candleContext(1, 101.2, 100.2, 101.0))
	assert.NoError(t, err)

	// A bearish ema cross closes the runner at the candle close.
	crossed := candleContext(2, 101.4, 100.9, 101.1)
	crossed.EMAOK = true
	crossed.PrevEMAOK = true
	crossed.PrevEMAFast = 101.0
	crossed.PrevEMASlow = 100.9
	crossed.EMAFast = 100.8
	crossed.EMASlow = 100.9

	result, err := mgr.HandleCandle(ctx, crossed)
	assert.NoError(t, err)
	if result == nil {
		t.Fatal("expected the ema cross to close the runner")
	}
	assert.Equal(t, result.Reason, shared.EMACrossExit)
	assert.Equal(t, result.Position.ExitPrice, 101.1)
}

func TestTimeStopExitsRunner(t *testing.T) {
	var events []shared.Event
	fb := &fakeBroker{}
	logger := zerolog.Nop()
	mgr, err := NewManager(&ManagerConfig{
		Market:                 "BTC",
		TakeProfit1Fraction:    0.5,
		BreakevenBufferPercent: 0.001,
		StructurePadATRMult:    0.5,
		SeatbeltATRMult:        20,
		TimeStopBars:           2,
		Broker:                 fb,
		EmitEvent: func(event shared.Event) {
			events = append(events, event)
		},
		Logger: &logger,
	})
	assert.NoError(t, err)
	ctx := context.Background()

	err = mgr.Open(ctx, longSetup(), 2.0, 0)
	assert.NoError(t, err)

	// tp1 on bar 1 starts the runner clock.
	_, err = mgr.HandleCandle(ctx, candleContext(1, 101.2, 100.2, 101.0))
	assert.NoError(t, err)

	result, err := mgr.HandleCandle(ctx, candleContext(2, 101.3, 100.9, 101.1))
	assert.NoError(t, err)
	if result != nil {
		t.Fatal("expected the runner to remain open one bar after tp1")
	}

	result, err = mgr.HandleCandle(ctx, candleContext(3, 101.3, 100.9, 101.2))
	assert.NoError(t, err)
	if result == nil {
		t.Fatal("expected the time stop to close the runner")
	}
	assert.Equal(t, result.Reason, shared.TimeStopExit)
}

func TestExitFailureKeepsPositionOpen(t *testing.T) {
	var events []shared.Event
	fb := &fakeBroker{failExits: true}
	mgr := newTestManager(t, fb, &events)
	ctx := context.Background()

	err := mgr.Open(ctx, longSetup(), 2.0, 0)
	assert.NoError(t, err)

	// The stop is touched but the exit submission fails, the position stays
	// open for a retry on the next candle.
	result, err := mgr.HandleCandle(ctx, candleContext(1, 100.2, 98.9, 99.2))
	assert.Error(t, err)
	if result != nil {
		t.Fatal("expected no trade result on a failed exit")
	}
	assert.True(t, mgr.HasOpenPosition())

	// Once the broker recovers the retry closes the position.
	fb.failExits = false
	result, err = mgr.HandleCandle(ctx, candleContext(2, 99.4, 98.8, 99.0))
	assert.NoError(t, err)
	if result == nil {
		t.Fatal("expected the retried exit to close the position")
	}
	assert.Equal(t, result.Reason, shared.StopLossHit)
}
