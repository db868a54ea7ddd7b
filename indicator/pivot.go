package indicator

// LastConfirmedSwingHigh returns the index of the most recent confirmed
// swing high in the provided highs. An index is a confirmed swing high if
// its value is strictly greater than the lookback values on both sides of
// it, which means confirmation lags the series by at least lookback bars.
// The ok flag is false if no index qualifies.
func LastConfirmedSwingHigh(highs []float64, lookback int) (int, bool) {
	if lookback <= 0 || len(highs) < 2*lookback+1 {
		return 0, false
	}

	for i := len(highs) - lookback - 1; i >= lookback; i-- {
		if isSwingHigh(highs, i, lookback) {
			return i, true
		}
	}

	return 0, false
}

// LastConfirmedSwingLow returns the index of the most recent confirmed
// swing low in the provided lows, symmetric to LastConfirmedSwingHigh.
func LastConfirmedSwingLow(lows []float64, lookback int) (int, bool) {
	if lookback <= 0 || len(lows) < 2*lookback+1 {
		return 0, false
	}

	for i := len(lows) - lookback - 1; i >= lookback; i-- {
		if isSwingLow(lows, i, lookback) {
			return i, true
		}
	}

	return 0, false
}

func isSwingHigh(highs []float64, idx int, lookback int) bool {
	for j := 1; j <= lookback; j++ {
		if highs[idx-j] >= highs[idx] || highs[idx+j] >= highs[idx] {
			return false
		}
	}
	return true
}

func isSwingLow(lows []float64, idx int, lookback int) bool {
	for j := 1; j <= lookback; j++ {
		if lows[idx-j] <= lows[idx] || lows[idx+j] <= lows[idx] {
			return false
		}
	}
	return true
}
