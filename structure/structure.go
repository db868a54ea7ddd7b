package structure

import (
	"errors"
	"fmt"

	"github.com/dnldd/breakout/shared"
	"github.com/rs/zerolog"
)

// StopMethod represents the stop placement method applied to the swing anchor.
type StopMethod int

const (
	// StopPercentBuffer places the stop a fixed percentage beyond the anchor.
	StopPercentBuffer StopMethod = iota
	// StopATRPad places the stop an ATR-scaled pad beyond the anchor.
	StopATRPad
)

// String stringifies the provided stop method.
func (m StopMethod) String() string {
	switch m {
	case StopPercentBuffer:
		return "percent_buffer"
	case StopATRPad:
		return "atr_pad"
	default:
		return "unknown"
	}
}

// Config represents the structure state machine configuration.
type Config struct {
	// Market is the name of the tracked market.
	Market string
	// AcceptanceBars is the required number of consecutive confirming closes
	// after a retest.
	AcceptanceBars int
	// RetestBufferMult scales the ATR into the retest proximity buffer.
	RetestBufferMult float64
	// StopMethod selects how the stop is offset from the swing anchor.
	StopMethod StopMethod
	// StopBufferPercent is the anchor offset for the percent buffer method.
	StopBufferPercent float64
	// StopPadATRMult is the anchor offset multiplier for the ATR pad method.
	StopPadATRMult float64
	// TakeProfit1RMult is the first target expressed in risk multiples.
	TakeProfit1RMult float64
	// TakeProfit2RMult is the optional second target in risk multiples,
	// zero disables it.
	TakeProfit2RMult float64
	// MinStopPercent is the minimum allowed stop distance as a fraction of entry.
	MinStopPercent float64
	// MaxStopPercent is the maximum allowed stop distance as a fraction of entry.
	MaxStopPercent float64
	// EmitEvent relays the provided event for processing.
	EmitEvent func(event shared.Event)
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config has sane inputs.
func (cfg *Config) Validate() error {
	var errs error

	if cfg.Market == "" {
		errs = errors.Join(errs, fmt.Errorf("market cannot be an empty string"))
	}
	if cfg.AcceptanceBars < 1 {
		errs = errors.Join(errs, fmt.Errorf("acceptance bars must be at least 1"))
	}
	if cfg.RetestBufferMult <= 0 {
		errs = errors.Join(errs, fmt.Errorf("retest buffer multiplier must be positive"))
	}
	switch cfg.StopMethod {
	case StopPercentBuffer:
		if cfg.StopBufferPercent <= 0 {
			errs = errors.Join(errs, fmt.Errorf("stop buffer percent must be positive"))
		}
	case StopATRPad:
		if cfg.StopPadATRMult <= 0 {
			errs = errors.Join(errs, fmt.Errorf("stop pad atr multiplier must be positive"))
		}
	default:
		errs = errors.Join(errs, fmt.Errorf("unknown stop method: %d", cfg.StopMethod))
	}
	if cfg.TakeProfit1RMult <= 0 {
		errs = errors.Join(errs, fmt.Errorf("take profit 1 risk multiple must be positive"))
	}
	if cfg.MinStopPercent < 0 || cfg.MaxStopPercent <= 0 || cfg.MinStopPercent >= cfg.MaxStopPercent {
		errs = errors.Join(errs, fmt.Errorf("invalid stop distance guardrails: [%f, %f]",
			cfg.MinStopPercent, cfg.MaxStopPercent))
	}
	if cfg.EmitEvent == nil {
		errs = errors.Join(errs, fmt.Errorf("event emitter cannot be nil"))
	}

	return errs
}

// Inputs carries the per-close indicator snapshot the state machine is
// evaluated against.
type Inputs struct {
	// Candle is the newly closed execution timeframe candle.
	Candle *shared.Candlestick
	// PrevClose is the close of the candle before it.
	PrevClose float64
	// SwingHigh is the value of the last confirmed swing high.
	SwingHigh float64
	// SwingLow is the value of the last confirmed swing low.
	SwingLow float64
	// ATR is the current average true range on the execution timeframe.
	ATR float64
	// BiasLong and BiasShort describe the higher timeframe EMA bias.
	BiasLong  bool
	BiasShort bool
	// TrendLong and TrendShort describe the execution timeframe EMA trend.
	TrendLong  bool
	TrendShort bool
}

// StateMachine tracks break-of-structure detection, retest arming and
// acceptance counting for one market, emitting a trade setup when a breakout
// is confirmed. It is evaluated once per newly closed execution timeframe
// candle and must be suspended while a position is open for its market.
//
// The direction field is only meaningful while waitingRetest is set, and the
// machine maintains the invariant that a cleared waitingRetest implies no
// retest reference and a zero acceptance count.
type StateMachine struct {
	cfg *Config

	direction     shared.Direction
	bosLevel      float64
	waitingRetest bool
	retestRef     float64
	retestSet     bool
	acceptCount   int

	// Swing anchors captured at BOS time so the stop does not drift as new
	// pivots form later.
	bosSwingLow  float64
	bosSwingHigh float64
}

// NewStateMachine initializes a new structure state machine.
func NewStateMachine(cfg *Config) (*StateMachine, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating structure config: %w", err)
	}

	return &StateMachine{cfg: cfg}, nil
}

// Reset clears the state machine back to idle.
func (s *StateMachine) Reset() {
	s.direction = shared.None
	s.bosLevel = 0
	s.waitingRetest = false
	s.retestRef = 0
	s.retestSet = false
	s.acceptCount = 0
	s.bosSwingLow = 0
	s.bosSwingHigh = 0
}

// Armed reports whether the machine has a direction armed and is waiting on
// a retest.
func (s *StateMachine) Armed() bool {
	return s.waitingRetest
}

// Evaluate advances the state machine with the provided inputs and returns a
// trade setup when a breakout is confirmed, or nil otherwise.
func (s *StateMachine) Evaluate(in *Inputs) *shared.TradeSetup {
	candle := in.Candle

	// If bias or trend flips while waiting on a retest, kill the setup. This
	// takes priority over arming a new direction on the same candle.
	if s.waitingRetest {
		flipped := (s.direction == shared.Long && (!in.BiasLong || !in.TrendLong)) ||
			(s.direction == shared.Short && (!in.BiasShort || !in.TrendShort))
		if flipped {
			event := shared.NewEvent(shared.EventSetupDiscarded, s.cfg.Market, candle.Date)
			event.Direction = s.direction
			event.Price = s.bosLevel
			event.Note = "bias or trend flipped while waiting on retest"
			s.cfg.EmitEvent(event)
			s.Reset()
		}
	}

	// Arm on a break of structure when bias and trend agree with it.
	bosUp := in.PrevClose <= in.SwingHigh && candle.Close > in.SwingHigh
	bosDown := in.PrevClose >= in.SwingLow && candle.Close < in.SwingLow

	switch {
	case bosUp && in.BiasLong && in.TrendLong:
		s.arm(shared.Long, in, candle)
	case bosDown && in.BiasShort && in.TrendShort:
		s.arm(shared.Short, in, candle)
	}

	// Retest detection: price returning within an ATR-scaled buffer of the
	// breakout level sets the acceptance reference. Once set, acceptance
	// counting owns the setup, further touches of the level do not restart it.
	if s.waitingRetest && !s.retestSet {
		buf := in.ATR * s.cfg.RetestBufferMult

		var retest bool
		switch s.direction {
		case shared.Long:
			retest = candle.Low <= s.bosLevel+buf
		case shared.Short:
			retest = candle.High >= s.bosLevel-buf
		}

		if retest {
			s.retestRef = s.bosLevel
			s.retestSet = true
			s.acceptCount = 0

			event := shared.NewEvent(shared.EventRetestDetected, s.cfg.Market, candle.Date)
			event.Direction = s.direction
			event.Price = s.retestRef
			s.cfg.EmitEvent(event)
		}
	}

	// Acceptance counting is strictly consecutive: any non-confirming close
	// resets the counter to zero.
	if s.waitingRetest && s.retestSet {
		var confirming bool
		switch s.direction {
		case shared.Long:
			confirming = candle.Close > s.retestRef
		case shared.Short:
			confirming = candle.Close < s.retestRef
		}

		if confirming {
			s.acceptCount++
		} else {
			s.acceptCount = 0
		}

		event := shared.NewEvent(shared.EventAcceptanceProgress, s.cfg.Market, candle.Date)
		event.Direction = s.direction
		event.Price = candle.Close
		event.Count = s.acceptCount
		s.cfg.EmitEvent(event)
	}

	if !s.waitingRetest || !s.retestSet || s.acceptCount < s.cfg.AcceptanceBars {
		return nil
	}

	// Bias and trend must still agree at the confirming close.
	aligned := (s.direction == shared.Long && in.BiasLong && in.TrendLong) ||
		(s.direction == shared.Short && in.BiasShort && in.TrendShort)
	if !aligned {
		s.Reset()
		return nil
	}

	setup := s.buildSetup(in)
	s.Reset()

	return setup
}

// arm resets the machine and arms the provided direction, capturing the
// opposing swing extreme as the stop anchor.
func (s *StateMachine) arm(direction shared.Direction, in *Inputs, candle *shared.Candlestick) {
	s.Reset()
	s.direction = direction
	s.waitingRetest = true

	event := shared.NewEvent(shared.EventBOSArmed, s.cfg.Market, candle.Date)
	event.Direction = direction

	switch direction {
	case shared.Long:
		s.bosLevel = in.SwingHigh
		s.bosSwingLow = in.SwingLow
		event.Price = s.bosLevel
		event.Stop = s.bosSwingLow
	case shared.Short:
		s.bosLevel = in.SwingLow
		s.bosSwingHigh = in.SwingHigh
		event.Price = s.bosLevel
		event.Stop = s.bosSwingHigh
	}

	s.cfg.EmitEvent(event)
}

// buildSetup derives the entry, stop and targets for the confirmed breakout.
// Returns nil, after emitting a discard event, if the geometry is invalid.
func (s *StateMachine) buildSetup(in *Inputs) *shared.TradeSetup {
	candle := in.Candle
	entry := candle.Close

	var anchor float64
	switch s.direction {
	case shared.Long:
		anchor = s.bosSwingLow
	case shared.Short:
		anchor = s.bosSwingHigh
	}

	var stop float64
	switch s.cfg.StopMethod {
	case StopPercentBuffer:
		if s.direction == shared.Long {
			stop = anchor * (1 - s.cfg.StopBufferPercent)
		} else {
			stop = anchor * (1 + s.cfg.StopBufferPercent)
		}
	case StopATRPad:
		if s.direction == shared.Long {
			stop = anchor - in.ATR*s.cfg.StopPadATRMult
		} else {
			stop = anchor + in.ATR*s.cfg.StopPadATRMult
		}
	}

	var risk float64
	switch s.direction {
	case shared.Long:
		risk = entry - stop
	case shared.Short:
		risk = stop - entry
	}

	if risk <= 0 {
		s.discard(candle, entry, stop, "non-positive risk distance")
		return nil
	}

	stopPercent := risk / entry
	if stopPercent < s.cfg.MinStopPercent || stopPercent > s.cfg.MaxStopPercent {
		s.discard(candle, entry, stop,
			fmt.Sprintf("stop distance %.4f%% outside guardrails", stopPercent*100))
		return nil
	}

	var tp1, tp2 float64
	switch s.direction {
	case shared.Long:
		tp1 = entry + s.cfg.TakeProfit1RMult*risk
		if s.cfg.TakeProfit2RMult > 0 {
			tp2 = entry + s.cfg.TakeProfit2RMult*risk
		}
	case shared.Short:
		tp1 = entry - s.cfg.TakeProfit1RMult*risk
		if s.cfg.TakeProfit2RMult > 0 {
			tp2 = entry - s.cfg.TakeProfit2RMult*risk
		}
	}

	event := shared.NewEvent(shared.EventSetupConfirmed, s.cfg.Market, candle.Date)
	event.Direction = s.direction
	event.Price = entry
	event.Stop = stop
	event.TakeProfit1 = tp1
	event.TakeProfit2 = tp2
	s.cfg.EmitEvent(event)

	return shared.NewTradeSetup(s.cfg.Market, s.direction, entry, stop, risk, tp1, tp2, candle.Date)
}

func (s *StateMachine) discard(candle *shared.Candlestick, entry float64, stop float64, note string) {
	event := shared.NewEvent(shared.EventSetupDiscarded, s.cfg.Market, candle.Date)
	event.Direction = s.direction
	event.Price = entry
	event.Stop = stop
	event.Note = note
	s.cfg.EmitEvent(event)
}
