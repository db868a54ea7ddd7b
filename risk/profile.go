package risk

import (
	"errors"
	"fmt"
)

// Profile represents per-market stop distance guardrails, expressed as
// fractions of the entry price.
type Profile struct {
	// MinStopPercent is the minimum allowed stop distance.
	MinStopPercent float64
	// MaxStopPercent is the maximum allowed stop distance.
	MaxStopPercent float64
	// StopBufferPercent is the default stop offset beyond the swing anchor
	// for the percent buffer stop method.
	StopBufferPercent float64
}

// Validate asserts the profile has sane inputs.
func (p *Profile) Validate() error {
	var errs error

	if p.MinStopPercent < 0 {
		errs = errors.Join(errs, fmt.Errorf("minimum stop percent cannot be negative"))
	}
	if p.MaxStopPercent <= 0 {
		errs = errors.Join(errs, fmt.Errorf("maximum stop percent must be positive"))
	}
	if p.MinStopPercent >= p.MaxStopPercent {
		errs = errors.Join(errs, fmt.Errorf("inverted stop guardrails: [%f, %f]",
			p.MinStopPercent, p.MaxStopPercent))
	}

	return errs
}

// DefaultProfile is the fallback for markets without a dedicated profile.
var DefaultProfile = Profile{
	MinStopPercent:    0.30 / 100,
	MaxStopPercent:    2.00 / 100,
	StopBufferPercent: 0.05 / 100,
}

// profiles carries tuned guardrails per market. Wider bands for the more
// volatile instruments, tighter ones for metals.
var profiles = map[string]Profile{
	"BTC":    {MinStopPercent: 0.30 / 100, MaxStopPercent: 1.50 / 100, StopBufferPercent: 0.05 / 100},
	"ETH":    {MinStopPercent: 0.35 / 100, MaxStopPercent: 1.80 / 100, StopBufferPercent: 0.06 / 100},
	"SOL":    {MinStopPercent: 0.45 / 100, MaxStopPercent: 2.20 / 100, StopBufferPercent: 0.08 / 100},
	"JUP":    {MinStopPercent: 0.60 / 100, MaxStopPercent: 3.00 / 100, StopBufferPercent: 0.10 / 100},
	"COIN":   {MinStopPercent: 0.60 / 100, MaxStopPercent: 3.00 / 100, StopBufferPercent: 0.10 / 100},
	"GOLD":   {MinStopPercent: 0.20 / 100, MaxStopPercent: 1.00 / 100, StopBufferPercent: 0.03 / 100},
	"SILVER": {MinStopPercent: 0.30 / 100, MaxStopPercent: 1.40 / 100, StopBufferPercent: 0.04 / 100},
}

// FetchProfile returns the guardrail profile for the provided market,
// falling back to the default profile for unknown markets.
func FetchProfile(market string) Profile {
	profile, ok := profiles[market]
	if !ok {
		return DefaultProfile
	}

	return profile
}
