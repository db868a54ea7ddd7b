package indicator

// EMA computes the exponential moving average of the provided values,
// seeded with the first value, and returns the latest accumulated value.
// The ok flag is false if there are fewer values than the period.
func EMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}

	k := 2 / (float64(period) + 1)
	ema := values[0]
	for _, v := range values[1:] {
		ema = v*k + ema*(1-k)
	}

	return ema, true
}

// CrossedUp reports whether the fast series crossed above the slow series
// between the previous and current values.
func CrossedUp(prevFast float64, prevSlow float64, fast float64, slow float64) bool {
	return prevFast <= prevSlow && fast > slow
}

// CrossedDown reports whether the fast series crossed below the slow series
// between the previous and current values.
func CrossedDown(prevFast float64, prevSlow float64, fast float64, slow float64) bool {
	return prevFast >= prevSlow && fast < slow
}
