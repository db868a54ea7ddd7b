package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dnldd/breakout/shared"
	"github.com/rs/zerolog"
)

const (
	// bufferSize is the default buffer size for channels.
	bufferSize = 64
	// maxWorkers is the maximum number of concurrent workers.
	maxWorkers = 4
	// defaultSeedCandles is the number of execution candles fetched when
	// bootstrapping a market.
	defaultSeedCandles = 360
	// catchUpCandles is the number of execution candles requested when
	// catching up after a stream reconnect, wide enough to cover any
	// realistic outage.
	catchUpCandles = 40
)

// CatchUpSignal requests a historical fetch for a market from the provided
// start time.
type CatchUpSignal struct {
	// Market is the market to catch up.
	Market string
	// Timeframe is the timeframe to fetch.
	Timeframe shared.Timeframe
	// Start is the beginning of the requested range.
	Start time.Time
	// Done receives the fetched candles when set, closed without a send on
	// failure. When nil the candles are relayed through the backfill callback.
	Done chan []shared.Candlestick
}

// ManagerConfig represents the configuration for the fetch manager.
type ManagerConfig struct {
	// Markets represents the collection of markets to fetch data for.
	Markets []string
	// ExecTimeframe is the execution timeframe candles are fetched on.
	ExecTimeframe shared.Timeframe
	// SeedCandles overrides the default bootstrap candle count when positive.
	SeedCandles int
	// Fetcher represents the exchange candle fetcher.
	Fetcher shared.CandleFetcher
	// SendTick relays the provided tick for processing.
	SendTick func(tick shared.Tick)
	// Backfill relays catch up candles fetched for a market, used by signals
	// carrying no done channel. Optional.
	Backfill func(market string, candles []shared.Candlestick)
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config has sane inputs.
func (cfg *ManagerConfig) Validate() error {
	var errs error

	if len(cfg.Markets) == 0 {
		errs = errors.Join(errs, fmt.Errorf("markets cannot be empty"))
	}
	if cfg.ExecTimeframe.Seconds() <= 0 {
		errs = errors.Join(errs, fmt.Errorf("execution timeframe has no positive width"))
	}
	if cfg.Fetcher == nil {
		errs = errors.Join(errs, fmt.Errorf("candle fetcher cannot be nil"))
	}
	if cfg.SendTick == nil {
		errs = errors.Join(errs, fmt.Errorf("tick relay cannot be nil"))
	}

	return errs
}

// Manager represents the market data fetch manager. It bootstraps markets
// from historical candle snapshots, relays live ticks from the exchange
// stream and catches up candles dropped across stream reconnects.
type Manager struct {
	cfg            *ManagerConfig
	stream         *Stream
	catchUpSignals chan CatchUpSignal
	workers        chan struct{}
}

// NewManager initializes the fetch manager.
func NewManager(cfg *ManagerConfig) (*Manager, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating fetch manager config: %w", err)
	}

	m := &Manager{
		cfg:            cfg,
		catchUpSignals: make(chan CatchUpSignal, bufferSize),
		workers:        make(chan struct{}, maxWorkers),
	}

	stream, err := NewStream(&StreamConfig{
		Markets:         cfg.Markets,
		SendTick:        cfg.SendTick,
		NotifyReconnect: m.handleStreamReconnect,
		Logger:          cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating tick stream: %w", err)
	}
	m.stream = stream

	return m, nil
}

// Bootstrap fetches the seed candle history for the provided market.
func (m *Manager) Bootstrap(ctx context.Context, market string) ([]shared.Candlestick, error) {
	seed := m.cfg.SeedCandles
	if seed <= 0 {
		seed = defaultSeedCandles
	}

	now := time.Now().UTC()
	start := now.Add(-time.Duration(int64(seed)*m.cfg.ExecTimeframe.Seconds()) * time.Second)

	candles, err := m.cfg.Fetcher.FetchCandles(ctx, market, m.cfg.ExecTimeframe, start, now)
	if err != nil {
		return nil, fmt.Errorf("bootstrapping %s: %w", market, err)
	}

	// An empty history is not an error, the caller starts cold and
	// accumulates candles live.
	return candles, nil
}

// SendCatchUpSignal relays the provided catch up signal for processing.
func (m *Manager) SendCatchUpSignal(signal CatchUpSignal) {
	select {
	case m.catchUpSignals <- signal:
		// do nothing.
	default:
		m.cfg.Logger.Error().Msgf("catchup signal channel at capacity: %d/%d",
			len(m.catchUpSignals), bufferSize)
	}
}

// handleCatchUpSignal processes the provided catch up signal.
func (m *Manager) handleCatchUpSignal(ctx context.Context, signal CatchUpSignal) {
	candles, err := m.cfg.Fetcher.FetchCandles(ctx, signal.Market, signal.Timeframe,
		signal.Start, time.Time{})
	if err != nil {
		m.cfg.Logger.Error().Msgf("catching up on %s: %v", signal.Market, err)
		if signal.Done != nil {
			close(signal.Done)
		}
		return
	}

	switch {
	case signal.Done != nil:
		signal.Done <- candles
		close(signal.Done)
	case m.cfg.Backfill != nil:
		m.cfg.Backfill(signal.Market, candles)
	}
}

// handleStreamReconnect requests catch up fetches covering the stream gap for
// every market once the tick stream recovers.
func (m *Manager) handleStreamReconnect() {
	window := time.Duration(catchUpCandles*m.cfg.ExecTimeframe.Seconds()) * time.Second
	start := time.Now().UTC().Add(-window)

	for _, market := range m.cfg.Markets {
		m.SendCatchUpSignal(CatchUpSignal{
			Market:    market,
			Timeframe: m.cfg.ExecTimeframe,
			Start:     start,
		})
	}
}

// Run manages the lifecycle processes of the fetch manager.
func (m *Manager) Run(ctx context.Context) {
	go m.stream.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case signal := <-m.catchUpSignals:
			m.workers <- struct{}{}
			go func(signal CatchUpSignal) {
				m.handleCatchUpSignal(ctx, signal)
				<-m.workers
			}(signal)
		}
	}
}
