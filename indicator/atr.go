package indicator

import (
	"github.com/dnldd/breakout/shared"
)

// ATR computes the average true range over the last length candles as a
// simple mean of true ranges, not Wilder-smoothed. The ok flag is false if
// fewer than length+1 candles are provided.
func ATR(candles []*shared.Candlestick, length int) (float64, bool) {
	if length <= 0 || len(candles) < length+1 {
		return 0, false
	}

	var sum float64
	for i := len(candles) - length; i < len(candles); i++ {
		sum += candles[i].TrueRange(candles[i-1].Close)
	}

	return sum / float64(length), true
}
