package indicator

// RSI computes the relative strength index over the trailing length
// differences of the provided closes. Returns 100 when losses sum to zero.
// The ok flag is false if fewer than length+1 closes are provided.
func RSI(closes []float64, length int) (float64, bool) {
	if length <= 0 || len(closes) < length+1 {
		return 0, false
	}

	var gains, losses float64
	for i := len(closes) - length; i < len(closes); i++ {
		diff := closes[i] - closes[i-1]
		if diff >= 0 {
			gains += diff
		} else {
			losses += -diff
		}
	}

	if losses == 0 {
		return 100, true
	}

	rs := gains / losses
	return 100 - (100 / (1 + rs)), true
}
