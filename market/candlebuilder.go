package market

import (
	"fmt"

	"github.com/dnldd/breakout/shared"
)

// CandleBuilder aggregates a stream of ticks into bucket-aligned candlesticks
// for a single market and timeframe. Closed candles are appended to an
// append-only snapshot; the in-progress candle is mutable until a tick lands
// in a later bucket.
type CandleBuilder struct {
	market    string
	timeframe shared.Timeframe
	current   *shared.Candlestick
	snapshot  *shared.CandlestickSnapshot
}

// NewCandleBuilder initializes a new candle builder.
func NewCandleBuilder(market string, timeframe shared.Timeframe, snapshotSize int32) (*CandleBuilder, error) {
	if timeframe.Seconds() <= 0 {
		return nil, fmt.Errorf("timeframe %s has no positive width", timeframe.String())
	}

	snapshot, err := shared.NewCandlestickSnapshot(snapshotSize)
	if err != nil {
		return nil, fmt.Errorf("creating candlestick snapshot: %w", err)
	}

	return &CandleBuilder{
		market:    market,
		timeframe: timeframe,
		snapshot:  snapshot,
	}, nil
}

// Update processes the provided timestamped price. If the price opens a new
// bucket the in-progress candle is finalized, appended to the snapshot and
// returned. Ticks earlier than the in-progress bucket are dropped, the
// builder only supports non-decreasing timestamps.
func (b *CandleBuilder) Update(unixSeconds int64, price float64) *shared.Candlestick {
	bucket := b.timeframe.Bucket(unixSeconds)

	if b.current == nil {
		b.current = b.newCandle(bucket, price)
		return nil
	}

	currentBucket := b.current.Date.Unix()
	switch {
	case bucket == currentBucket:
		if price > b.current.High {
			b.current.High = price
		}
		if price < b.current.Low {
			b.current.Low = price
		}
		b.current.Close = price
		return nil

	case bucket < currentBucket:
		// Out-of-order tick, drop it.
		return nil

	default:
		closed := b.current
		b.snapshot.Update(closed)
		b.current = b.newCandle(bucket, price)
		return closed
	}
}

// Seed initializes the builder from bootstrapped history. All but the last
// candle are treated as closed, the last becomes the in-progress candle so
// live ticks continue it without a gap or duplicate at the seam.
func (b *CandleBuilder) Seed(history []shared.Candlestick) {
	if len(history) == 0 {
		return
	}

	for idx := range history[:len(history)-1] {
		candle := history[idx]
		b.snapshot.Update(&candle)
	}

	last := history[len(history)-1]
	b.current = &last
}

// LastClosed returns the most recently finalized candle, or nil if no candle
// has closed yet.
func (b *CandleBuilder) LastClosed() *shared.Candlestick {
	return b.snapshot.Last()
}

// Current returns the in-progress candle, or nil if none has started.
func (b *CandleBuilder) Current() *shared.Candlestick {
	return b.current
}

// Append finalizes the provided candle directly into the snapshot, bypassing
// tick aggregation. The caller is responsible for bucket ordering.
func (b *CandleBuilder) Append(candle *shared.Candlestick) {
	b.snapshot.Update(candle)
}

// Snapshot returns the closed candle history of the builder.
func (b *CandleBuilder) Snapshot() *shared.CandlestickSnapshot {
	return b.snapshot
}

func (b *CandleBuilder) newCandle(bucket int64, price float64) *shared.Candlestick {
	return &shared.Candlestick{
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
		Date:      timeFromBucket(bucket),
		Market:    b.market,
		Timeframe: b.timeframe,
	}
}
