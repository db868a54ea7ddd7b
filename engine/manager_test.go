package engine

import (
	"context"
	"testing"
	"time"

	"github.com/dnldd/breakout/shared"
	"github.com/peterldowns/testy/assert"
	"github.com/rs/zerolog"
)

func TestManagerConfigValidate(t *testing.T) {
	cfg := &ManagerConfig{}
	assert.Error(t, cfg.Validate())

	logger := zerolog.Nop()
	cfg = &ManagerConfig{Logger: &logger}
	assert.NoError(t, cfg.Validate())
}

func TestAddTrader(t *testing.T) {
	var events []shared.Event
	logger := zerolog.Nop()
	mgr, err := NewManager(&ManagerConfig{Logger: &logger})
	assert.NoError(t, err)

	trader := newTestTrader(t, &events)
	assert.NoError(t, mgr.AddTrader(trader))

	// Ensure duplicate market registrations are rejected.
	assert.Error(t, mgr.AddTrader(trader))
}

func TestSeedTraderUnknownMarket(t *testing.T) {
	logger := zerolog.Nop()
	mgr, err := NewManager(&ManagerConfig{Logger: &logger})
	assert.NoError(t, err)

	err = mgr.SeedTrader("ETH", nil)
	assert.Error(t, err)
}

func TestSendTickRouting(t *testing.T) {
	var events []shared.Event
	logger := zerolog.Nop()
	mgr, err := NewManager(&ManagerConfig{Logger: &logger})
	assert.NoError(t, err)

	trader := newTestTrader(t, &events)
	assert.NoError(t, mgr.AddTrader(trader))

	// Ensure a tracked market's tick reaches its trader queue.
	mgr.SendTick(shared.Tick{Market: "BTC", Price: 100, Time: time.Now().UTC()})
	assert.Equal(t, len(trader.ticks), 1)

	// Ensure ticks for unknown markets are dropped.
	mgr.SendTick(shared.Tick{Market: "ETH", Price: 100, Time: time.Now().UTC()})
	assert.Equal(t, len(trader.ticks), 1)
}

func TestEventFanout(t *testing.T) {
	received := make(chan shared.Event, 4)
	logger := zerolog.Nop()
	mgr, err := NewManager(&ManagerConfig{
		Subscribers: []func(shared.Event){
			func(event shared.Event) { received <- event },
		},
		Logger: &logger,
	})
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.Run(ctx)

	event := shared.NewEvent(shared.EventHeartbeat, "BTC", time.Now().UTC())
	mgr.SendEvent(event)

	select {
	case got := <-received:
		assert.Equal(t, got.Kind, shared.EventHeartbeat)
		assert.Equal(t, got.Market, "BTC")
	case <-time.After(time.Second * 5):
		t.Fatal("timed out waiting for the subscribed event")
	}
}
