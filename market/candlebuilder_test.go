package market

import (
	"testing"
	"time"

	"github.com/dnldd/breakout/shared"
	"github.com/peterldowns/testy/assert"
)

func TestCandleBuilderBucketing(t *testing.T) {
	builder, err := NewCandleBuilder("BTC", shared.FiveMinute, 10)
	assert.NoError(t, err)

	// Ensure the first tick opens a candle without closing one.
	closed := builder.Update(1700000000, 100)
	if closed != nil {
		t.Fatal("expected no closed candle from the first tick")
	}

	// Ensure in-bucket ticks extend the candle extremes.
	builder.Update(1700000040, 105)
	builder.Update(1700000070, 95)
	closed = builder.Update(1700000099, 102)
	if closed != nil {
		t.Fatal("expected no closed candle from in-bucket ticks")
	}

	// Ensure a boundary tick finalizes the candle and opens a new bucket.
	closed = builder.Update(1700000100, 103)
	if closed == nil {
		t.Fatal("expected a closed candle from the boundary tick")
	}

	assert.Equal(t, closed.Open, float64(100))
	assert.Equal(t, closed.High, float64(105))
	assert.Equal(t, closed.Low, float64(95))
	assert.Equal(t, closed.Close, float64(102))
	assert.Equal(t, closed.Date.Unix(), int64(1699999800))
	assert.Equal(t, closed.Market, "BTC")
	assert.Equal(t, closed.Timeframe, shared.FiveMinute)

	// Ensure out-of-order ticks are dropped without mutating state.
	closed = builder.Update(1700000000, 999)
	if closed != nil {
		t.Fatal("expected out-of-order tick to be dropped")
	}
	assert.Equal(t, builder.LastClosed().Close, float64(102))
	assert.Equal(t, builder.Snapshot().Count(), int32(1))
}

func TestCandleBuilderSeed(t *testing.T) {
	builder, err := NewCandleBuilder("BTC", shared.FiveMinute, 10)
	assert.NoError(t, err)

	base := time.Unix(1699999800, 0).UTC()
	history := []shared.Candlestick{
		{Open: 100, High: 101, Low: 99, Close: 100, Date: base, Timeframe: shared.FiveMinute},
		{Open: 100, High: 102, Low: 100, Close: 101, Date: base.Add(5 * time.Minute), Timeframe: shared.FiveMinute},
		{Open: 101, High: 103, Low: 101, Close: 102, Date: base.Add(10 * time.Minute), Timeframe: shared.FiveMinute},
	}

	builder.Seed(history)

	// Ensure all but the last candle are closed and the last is in progress.
	assert.Equal(t, builder.Snapshot().Count(), int32(2))
	assert.Equal(t, builder.LastClosed().Close, float64(101))

	// Ensure live ticks continue the in-progress candle without a seam.
	closed := builder.Update(base.Add(12*time.Minute).Unix(), 104)
	if closed != nil {
		t.Fatal("expected tick within the in-progress bucket to close nothing")
	}

	closed = builder.Update(base.Add(15*time.Minute).Unix(), 104.5)
	if closed == nil {
		t.Fatal("expected boundary tick to close the seeded in-progress candle")
	}
	assert.Equal(t, closed.Open, float64(101))
	assert.Equal(t, closed.High, float64(104))
	assert.Equal(t, closed.Close, float64(104))
}
