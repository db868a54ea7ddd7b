package shared

import (
	"context"
	"time"
)

// CandleFetcher defines the requirements for fetching historical candle data.
type CandleFetcher interface {
	// FetchCandles fetches historical candle data for the provided market and
	// timeframe over the provided range.
	FetchCandles(ctx context.Context, market string, timeframe Timeframe,
		start time.Time, end time.Time) ([]Candlestick, error)
}
