package fetch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dnldd/breakout/shared"
	"github.com/peterldowns/testy/assert"
	"github.com/rs/zerolog"
)

// fakeFetcher serves canned candles and records the requested ranges.
type fakeFetcher struct {
	candles []shared.Candlestick
	err     error
	market  string
	start   time.Time
	end     time.Time
}

var _ shared.CandleFetcher = (*fakeFetcher)(nil)

func (f *fakeFetcher) FetchCandles(_ context.Context, market string, _ shared.Timeframe,
	start time.Time, end time.Time) ([]shared.Candlestick, error) {
	f.market = market
	f.start = start
	f.end = end

	if f.err != nil {
		return nil, f.err
	}

	return f.candles, nil
}

func newTestFetchManager(t *testing.T, fetcher shared.CandleFetcher) *Manager {
	t.Helper()

	logger := zerolog.Nop()
	mgr, err := NewManager(&ManagerConfig{
		Markets:       []string{"BTC"},
		ExecTimeframe: shared.FiveMinute,
		SeedCandles:   12,
		Fetcher:       fetcher,
		SendTick:      func(shared.Tick) {},
		Logger:        &logger,
	})
	assert.NoError(t, err)

	return mgr
}

func TestFetchManagerConfigValidate(t *testing.T) {
	cfg := &ManagerConfig{}
	assert.Error(t, cfg.Validate())

	cfg = &ManagerConfig{
		Markets:       []string{"BTC"},
		ExecTimeframe: shared.FiveMinute,
		Fetcher:       &fakeFetcher{},
		SendTick:      func(shared.Tick) {},
	}
	assert.NoError(t, cfg.Validate())
}

func TestBootstrap(t *testing.T) {
	fetcher := &fakeFetcher{
		candles: []shared.Candlestick{{Close: 100, Timeframe: shared.FiveMinute}},
	}
	mgr := newTestFetchManager(t, fetcher)

	candles, err := mgr.Bootstrap(context.Background(), "BTC")
	assert.NoError(t, err)
	assert.Equal(t, len(candles), 1)
	assert.Equal(t, fetcher.market, "BTC")

	// The requested range covers the configured seed candle count.
	span := fetcher.end.Sub(fetcher.start)
	assert.Equal(t, span, 12*5*time.Minute)

	// Ensure fetch failures surface.
	fetcher.err = errors.New("rate limited")
	_, err = mgr.Bootstrap(context.Background(), "BTC")
	assert.Error(t, err)

	// Ensure an empty history is returned without error, the market starts
	// cold in that case.
	fetcher.err = nil
	fetcher.candles = nil
	candles, err = mgr.Bootstrap(context.Background(), "BTC")
	assert.NoError(t, err)
	assert.Equal(t, len(candles), 0)
}

func TestStreamReconnectBackfills(t *testing.T) {
	fetcher := &fakeFetcher{
		candles: []shared.Candlestick{{Close: 100, Timeframe: shared.FiveMinute}},
	}

	logger := zerolog.Nop()
	backfilled := make(chan string, 1)
	mgr, err := NewManager(&ManagerConfig{
		Markets:       []string{"BTC"},
		ExecTimeframe: shared.FiveMinute,
		Fetcher:       fetcher,
		SendTick:      func(shared.Tick) {},
		Backfill: func(market string, candles []shared.Candlestick) {
			if len(candles) == 1 {
				backfilled <- market
			}
		},
		Logger: &logger,
	})
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.Run(ctx)

	// Ensure a stream recovery routes catch up candles through the backfill
	// callback.
	mgr.handleStreamReconnect()

	select {
	case market := <-backfilled:
		assert.Equal(t, market, "BTC")
	case <-time.After(time.Second * 5):
		t.Fatal("timed out waiting for backfilled candles")
	}

	// The requested range reaches back over the full catch up window with an
	// open end.
	span := time.Now().UTC().Sub(fetcher.start)
	if span < catchUpCandles*5*time.Minute {
		t.Fatalf("expected a catch up window of at least %d candles, got %v",
			catchUpCandles, span)
	}
	assert.True(t, fetcher.end.IsZero())
}

func TestCatchUpSignal(t *testing.T) {
	fetcher := &fakeFetcher{
		candles: []shared.Candlestick{{Close: 100, Timeframe: shared.FiveMinute}},
	}
	mgr := newTestFetchManager(t, fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.Run(ctx)

	done := make(chan []shared.Candlestick, 1)
	mgr.SendCatchUpSignal(CatchUpSignal{
		Market:    "BTC",
		Timeframe: shared.FiveMinute,
		Start:     time.Unix(1700000100, 0).UTC(),
		Done:      done,
	})

	select {
	case candles := <-done:
		assert.Equal(t, len(candles), 1)
	case <-time.After(time.Second * 5):
		t.Fatal("timed out waiting for catch up candles")
	}

	// Ensure a failed fetch closes the done channel without a send.
	fetcher.err = errors.New("rate limited")
	done = make(chan []shared.Candlestick, 1)
	mgr.SendCatchUpSignal(CatchUpSignal{
		Market:    "BTC",
		Timeframe: shared.FiveMinute,
		Start:     time.Unix(1700000100, 0).UTC(),
		Done:      done,
	})

	select {
	case candles, ok := <-done:
		if ok && candles != nil {
			t.Fatal("expected no candles from a failed catch up")
		}
	case <-time.After(time.Second * 5):
		t.Fatal("timed out waiting for catch up failure")
	}
}
