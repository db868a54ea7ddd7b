package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/dnldd/breakout/shared"
	"github.com/rs/zerolog"
)

const (
	// eventBufferSize is the buffer size for the event channel, larger than
	// the tick buffers since every trader fans into it.
	eventBufferSize = 256
)

// ManagerConfig represents the trade engine manager configuration.
type ManagerConfig struct {
	// Subscribers receive every emitted event in order. Subscribers must be
	// best-effort and never block.
	Subscribers []func(event shared.Event)
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config has sane inputs.
func (cfg *ManagerConfig) Validate() error {
	var errs error

	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Manager owns the per market traders and fans their events out to the
// subscribed consumers. Each trader runs on its own goroutine, the manager
// never evaluates market state itself.
type Manager struct {
	cfg     *ManagerConfig
	traders map[string]*Trader
	events  chan shared.Event
}

// NewManager initializes a new engine manager.
func NewManager(cfg *ManagerConfig) (*Manager, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating engine manager config: %w", err)
	}

	return &Manager{
		cfg:     cfg,
		traders: make(map[string]*Trader),
		events:  make(chan shared.Event, eventBufferSize),
	}, nil
}

// AddTrader registers the provided trader with the manager.
func (m *Manager) AddTrader(trader *Trader) error {
	if _, ok := m.traders[trader.cfg.Market]; ok {
		return fmt.Errorf("trader already registered for %s", trader.cfg.Market)
	}

	m.traders[trader.cfg.Market] = trader
	return nil
}

// SeedTrader seeds the trader of the provided market with historical candle
// data.
func (m *Manager) SeedTrader(market string, history []shared.Candlestick) error {
	trader, ok := m.traders[market]
	if !ok {
		return fmt.Errorf("no trader registered for %s", market)
	}

	return trader.SeedHistory(history)
}

// BackfillTrader relays catch up candles to the trader of the provided
// market. Candles for markets without a trader are dropped.
func (m *Manager) BackfillTrader(market string, candles []shared.Candlestick) {
	trader, ok := m.traders[market]
	if !ok {
		return
	}

	trader.SendBackfill(candles)
}

// SendEvent relays the provided event for processing.
func (m *Manager) SendEvent(event shared.Event) {
	select {
	case m.events <- event:
		// do nothing.
	default:
		m.cfg.Logger.Error().Msgf("event channel at capacity: %d/%d",
			len(m.events), eventBufferSize)
	}
}

// SendTick routes the provided tick to the trader of its market. Ticks for
// markets without a trader are dropped.
func (m *Manager) SendTick(tick shared.Tick) {
	trader, ok := m.traders[tick.Market]
	if !ok {
		return
	}

	trader.SendTick(tick)
}

// handleEvent dispatches the provided event to every subscriber.
func (m *Manager) handleEvent(event shared.Event) {
	for idx := range m.cfg.Subscribers {
		m.cfg.Subscribers[idx](event)
	}
}

// Run manages the lifecycle processes of the engine manager and its traders.
func (m *Manager) Run(ctx context.Context) {
	for _, trader := range m.traders {
		go trader.Run(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-m.events:
			m.handleEvent(event)
		}
	}
}
