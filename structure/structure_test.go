package structure

import (
	"math"
	"testing"
	"time"

	"github.com/dnldd/breakout/shared"
	"github.com/peterldowns/testy/assert"
	"github.com/rs/zerolog"
)

func newTestConfig(collector *[]shared.Event) *Config {
	logger := zerolog.Nop()
	return &Config{
		Market:            "BTC",
		AcceptanceBars:    2,
		RetestBufferMult:  0.25,
		StopMethod:        StopPercentBuffer,
		StopBufferPercent: 0.001,
		TakeProfit1RMult:  1.0,
		TakeProfit2RMult:  2.0,
		MinStopPercent:    0.001,
		MaxStopPercent:    0.10,
		EmitEvent: func(event shared.Event) {
			*collector = append(*collector, event)
		},
		Logger: &logger,
	}
}

func longInputs(close float64, low float64, high float64, prevClose float64) *Inputs {
	return &Inputs{
		Candle: &shared.Candlestick{
			Open:  prevClose,
			High:  high,
			Low:   low,
			Close: close,
			Date:  time.Unix(1700000100, 0).UTC(),
		},
		PrevClose: prevClose,
		SwingHigh: 110,
		SwingLow:  105,
		ATR:       2,
		BiasLong:  true,
		TrendLong: true,
	}
}

func kinds(events []shared.Event) []shared.EventKind {
	set := make([]shared.EventKind, len(events))
	for idx := range events {
		set[idx] = events[idx].Kind
	}

	return set
}

func TestConfigValidate(t *testing.T) {
	var events []shared.Event

	// Ensure a valid config passes.
	cfg := newTestConfig(&events)
	assert.NoError(t, cfg.Validate())

	// Ensure the stop method requirements are enforced.
	cfg = newTestConfig(&events)
	cfg.StopBufferPercent = 0
	assert.Error(t, cfg.Validate())

	cfg = newTestConfig(&events)
	cfg.StopMethod = StopATRPad
	assert.Error(t, cfg.Validate())
	cfg.StopPadATRMult = 0.5
	assert.NoError(t, cfg.Validate())

	// Ensure inverted guardrails are rejected.
	cfg = newTestConfig(&events)
	cfg.MinStopPercent = 0.2
	assert.Error(t, cfg.Validate())
}

func TestBreakoutConfirmation(t *testing.T) {
	var events []shared.Event
	sm, err := NewStateMachine(newTestConfig(&events))
	assert.NoError(t, err)

	// A close above the swing high with aligned bias and trend arms the
	// machine. The candle also dips to the breakout level, so the retest is
	// detected and the close counts as the first accepting bar.
	setup := sm.Evaluate(longInputs(110.5, 110.0, 110.6, 109.5))
	if setup != nil {
		t.Fatal("expected no setup before acceptance completes")
	}
	assert.True(t, sm.Armed())

	// A second confirming close completes acceptance and confirms the setup.
	setup = sm.Evaluate(longInputs(110.8, 110.3, 110.9, 110.5))
	if setup == nil {
		t.Fatal("expected a confirmed setup")
	}

	assert.Equal(t, setup.Direction, shared.Long)
	assert.Equal(t, setup.Entry, 110.8)

	// The stop hangs off the swing anchor captured at arm time, offset by
	// the percent buffer: 105 * (1 - 0.001).
	wantStop := 105 * 0.999
	if math.Abs(setup.Stop-wantStop) > 1e-9 {
		t.Fatalf("expected stop %v, got %v", wantStop, setup.Stop)
	}

	wantRisk := 110.8 - wantStop
	if math.Abs(setup.RiskPerUnit-wantRisk) > 1e-9 {
		t.Fatalf("expected risk %v, got %v", wantRisk, setup.RiskPerUnit)
	}
	if math.Abs(setup.TakeProfit1-(110.8+wantRisk)) > 1e-9 {
		t.Fatalf("expected tp1 %v, got %v", 110.8+wantRisk, setup.TakeProfit1)
	}
	if math.Abs(setup.TakeProfit2-(110.8+2*wantRisk)) > 1e-9 {
		t.Fatalf("expected tp2 %v, got %v", 110.8+2*wantRisk, setup.TakeProfit2)
	}

	// Confirmation resets the machine.
	assert.False(t, sm.Armed())

	assert.Equal(t, kinds(events), []shared.EventKind{
		shared.EventBOSArmed,
		shared.EventRetestDetected,
		shared.EventAcceptanceProgress,
		shared.EventAcceptanceProgress,
		shared.EventSetupConfirmed,
	})
}

func TestAcceptanceIsStrictlyConsecutive(t *testing.T) {
	var events []shared.Event
	sm, err := NewStateMachine(newTestConfig(&events))
	assert.NoError(t, err)

	// Arm and retest, first accepting close.
	setup := sm.Evaluate(longInputs(110.5, 110.0, 110.6, 109.5))
	if setup != nil {
		t.Fatal("expected no setup yet")
	}

	// A close back below the retest reference resets the counter to zero.
	setup = sm.Evaluate(longInputs(109.9, 109.8, 110.6, 110.5))
	if setup != nil {
		t.Fatal("expected no setup after a non-confirming close")
	}
	assert.True(t, sm.Armed())

	// Two fresh consecutive confirming closes are now required again.
	setup = sm.Evaluate(longInputs(110.4, 110.1, 110.5, 109.9))
	if setup != nil {
		t.Fatal("expected no setup after one fresh confirming close")
	}

	setup = sm.Evaluate(longInputs(110.7, 110.3, 110.8, 110.4))
	if setup == nil {
		t.Fatal("expected a confirmed setup after two consecutive confirming closes")
	}
}

func TestBiasFlipInvalidatesSetup(t *testing.T) {
	var events []shared.Event
	sm, err := NewStateMachine(newTestConfig(&events))
	assert.NoError(t, err)

	setup := sm.Evaluate(longInputs(110.5, 110.0, 110.6, 109.5))
	if setup != nil {
		t.Fatal("expected no setup yet")
	}
	assert.True(t, sm.Armed())

	// Flip the higher timeframe bias while waiting on acceptance.
	flipped := longInputs(110.6, 110.2, 110.7, 110.5)
	flipped.BiasLong = false
	flipped.BiasShort = true

	setup = sm.Evaluate(flipped)
	if setup != nil {
		t.Fatal("expected no setup after a bias flip")
	}
	assert.False(t, sm.Armed())
	// The discarded direction must not linger past the reset.
	assert.Equal(t, sm.direction, shared.None)

	discarded := events[len(events)-1]
	assert.Equal(t, discarded.Kind, shared.EventSetupDiscarded)
}

func TestStopGuardrails(t *testing.T) {
	var events []shared.Event
	cfg := newTestConfig(&events)
	cfg.MaxStopPercent = 0.01
	sm, err := NewStateMachine(cfg)
	assert.NoError(t, err)

	// The anchored stop distance (about 5.2% of entry) breaches the 1% cap,
	// so the confirmed breakout is discarded instead of traded.
	setup := sm.Evaluate(longInputs(110.5, 110.0, 110.6, 109.5))
	if setup != nil {
		t.Fatal("expected no setup yet")
	}

	setup = sm.Evaluate(longInputs(110.8, 110.3, 110.9, 110.5))
	if setup != nil {
		t.Fatal("expected the setup to be discarded by the stop guardrails")
	}

	discarded := events[len(events)-1]
	assert.Equal(t, discarded.Kind, shared.EventSetupDiscarded)
	assert.False(t, sm.Armed())
}

func TestShortBreakout(t *testing.T) {
	var events []shared.Event
	sm, err := NewStateMachine(newTestConfig(&events))
	assert.NoError(t, err)

	shortInputs := func(close float64, low float64, high float64, prevClose float64) *Inputs {
		return &Inputs{
			Candle: &shared.Candlestick{
				Open:  prevClose,
				High:  high,
				Low:   low,
				Close: close,
				Date:  time.Unix(1700000100, 0).UTC(),
			},
			PrevClose:  prevClose,
			SwingHigh:  110,
			SwingLow:   105,
			ATR:        2,
			BiasShort:  true,
			TrendShort: true,
		}
	}

	// A close below the swing low arms a short, the high touching the level
	// plus buffer detects the retest.
	setup := sm.Evaluate(shortInputs(104.5, 104.4, 105.0, 105.5))
	if setup != nil {
		t.Fatal("expected no setup yet")
	}
	assert.True(t, sm.Armed())

	setup = sm.Evaluate(shortInputs(104.2, 104.1, 104.7, 104.5))
	if setup == nil {
		t.Fatal("expected a confirmed short setup")
	}

	assert.Equal(t, setup.Direction, shared.Short)
	assert.Equal(t, setup.Entry, 104.2)

	// The stop hangs above the swing high anchor: 110 * (1 + 0.001).
	wantStop := 110 * 1.001
	if math.Abs(setup.Stop-wantStop) > 1e-9 {
		t.Fatalf("expected stop %v, got %v", wantStop, setup.Stop)
	}
}
