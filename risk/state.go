package risk

import (
	"errors"
	"fmt"
	"time"

	"github.com/dnldd/breakout/shared"
	"github.com/rs/zerolog"
)

const (
	// dayKeyLayout is the format layout for UTC day keys.
	dayKeyLayout = "2006-01-02"
)

// Config represents the session risk state configuration.
type Config struct {
	// Market is the name of the tracked market.
	Market string
	// DailyMaxLoss is the daily realized loss budget. New entries are blocked
	// once daily realized pnl reaches its negative.
	DailyMaxLoss float64
	// MaxConsecutiveLosses is the losing streak length that triggers a cooldown.
	MaxConsecutiveLosses int
	// Cooldown is the entry block duration applied when the streak triggers.
	Cooldown time.Duration
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
	if cfg.DailyMaxLoss <= 0 {
		errs = errors.Join(errs, fmt.Errorf("daily max loss must be positive"))
	}
	if cfg.MaxConsecutiveLosses < 1 {
		errs = errors.Join(errs, fmt.Errorf("max consecutive losses must be at least 1"))
	}
	if cfg.Cooldown <= 0 {
		errs = errors.Join(errs, fmt.Errorf("cooldown duration must be positive"))
	}
	if cfg.EmitEvent == nil {
		errs = errors.Join(errs, fmt.Errorf("event emitter cannot be nil"))
	}

	return errs
}

// State tracks session scoped risk constraints for one market.
//
// Daily realized pnl and the consecutive loss counter reset exactly once when
// the observed UTC calendar day changes. A cooldown is intentionally not
// cleared by the day rollover, a cooldown spanning midnight remains honored.
type State struct {
	cfg *Config

	dailyPNL          float64
	consecutiveLosses int
	cooldownUntil     time.Time
	dayKey            string
	breakerEngaged    bool
}

// NewState initializes a new risk state.
func NewState(cfg *Config) (*State, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating risk config: %w", err)
	}

	return &State{cfg: cfg}, nil
}

// resetIfNewDay resets the daily stats when the UTC day changes.
func (s *State) resetIfNewDay(now time.Time) {
	day := now.UTC().Format(dayKeyLayout)
	if s.dayKey == "" {
		s.dayKey = day
		return
	}

	if day != s.dayKey {
		s.dayKey = day
		s.dailyPNL = 0
		s.consecutiveLosses = 0
	}
}

// InCooldown reports whether entries are blocked by an active cooldown.
func (s *State) InCooldown(now time.Time) bool {
	s.resetIfNewDay(now)
	return now.Before(s.cooldownUntil)
}

// CanEnter reports whether a new entry is allowed at the provided time, with
// the engaged breaker described when it is not.
func (s *State) CanEnter(now time.Time) (bool, string) {
	s.resetIfNewDay(now)

	switch {
	case s.dailyPNL <= -s.cfg.DailyMaxLoss:
		s.engageBreaker(now, fmt.Sprintf("daily max loss reached: %.2f", s.dailyPNL))
		return false, "daily max loss reached"

	case now.Before(s.cooldownUntil):
		s.engageBreaker(now, fmt.Sprintf("cooldown until %s", s.cooldownUntil.UTC().Format(time.RFC3339)))
		return false, "cooldown active"

	default:
		if s.breakerEngaged {
			s.breakerEngaged = false
			event := shared.NewEvent(shared.EventRiskBreakerCleared, s.cfg.Market, now)
			event.Note = "risk breakers cleared"
			s.cfg.EmitEvent(event)
		}
		return true, ""
	}
}

// RegisterTradeResult updates the risk state with the net pnl of a fully
// closed trade and applies the circuit breakers. A non-negative pnl counts
// as a non-loss and resets the losing streak.
func (s *State) RegisterTradeResult(pnl float64, now time.Time) {
	s.resetIfNewDay(now)

	s.dailyPNL += pnl

	if pnl < 0 {
		s.consecutiveLosses++
	} else {
		s.consecutiveLosses = 0
	}

	if s.consecutiveLosses >= s.cfg.MaxConsecutiveLosses {
		s.cooldownUntil = now.Add(s.cfg.Cooldown)
		s.engageBreaker(now, fmt.Sprintf("%d consecutive losses, cooling down until %s",
			s.consecutiveLosses, s.cooldownUntil.UTC().Format(time.RFC3339)))
	}
}

// DailyPNL returns the current daily realized pnl.
func (s *State) DailyPNL() float64 {
	return s.dailyPNL
}

// engageBreaker emits an engaged event on the transition into a blocked state.
func (s *State) engageBreaker(now time.Time, note string) {
	if s.breakerEngaged {
		return
	}

	s.breakerEngaged = true
	event := shared.NewEvent(shared.EventRiskBreakerEngaged, s.cfg.Market, now)
	event.PNL = s.dailyPNL
	event.Count = s.consecutiveLosses
	event.Note = note
	s.cfg.EmitEvent(event)
}
