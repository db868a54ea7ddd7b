package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dnldd/breakout/shared"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const (
	// wsURL is the hyperliquid websocket endpoint.
	wsURL = "wss://api.hyperliquid.xyz/ws"
	// reconnectWait is the pause between reconnection attempts.
	reconnectWait = time.Second * 5
	// readWait is the read deadline applied to the connection, the exchange
	// publishes mid prices well within it.
	readWait = time.Second * 30
	// allMidsSubscription subscribes to mid price updates for all markets.
	allMidsSubscription = `{"method":"subscribe","subscription":{"type":"allMids"}}`
)

// StreamConfig represents the tick stream configuration.
type StreamConfig struct {
	// URL overrides the default websocket endpoint when set, used by tests.
	URL string
	// Markets is the set of markets ticks are relayed for.
	Markets []string
	// SendTick relays the provided tick for processing.
	SendTick func(tick shared.Tick)
	// NotifyReconnect is invoked after the stream recovers from a dropped
	// connection, optional.
	NotifyReconnect func()
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config has sane inputs.
func (cfg *StreamConfig) Validate() error {
	var errs error

	if len(cfg.Markets) == 0 {
		errs = errors.Join(errs, fmt.Errorf("markets cannot be empty"))
	}
	if cfg.SendTick == nil {
		errs = errors.Join(errs, fmt.Errorf("tick relay cannot be nil"))
	}

	return errs
}

// Stream consumes the exchange mid price websocket feed and relays ticks for
// the configured markets. Disconnections reconnect with a fixed backoff and
// report the recovery, so candles dropped across the gap can be caught up
// from a snapshot fetch.
type Stream struct {
	cfg     *StreamConfig
	markets map[string]struct{}
}

// NewStream initializes a new tick stream.
func NewStream(cfg *StreamConfig) (*Stream, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating stream config: %w", err)
	}

	markets := make(map[string]struct{}, len(cfg.Markets))
	for idx := range cfg.Markets {
		markets[cfg.Markets[idx]] = struct{}{}
	}

	return &Stream{
		cfg:     cfg,
		markets: markets,
	}, nil
}

// connect dials the websocket endpoint and subscribes to mid price updates.
func (s *Stream) connect(ctx context.Context) (*websocket.Conn, error) {
	endpoint := wsURL
	if s.cfg.URL != "" {
		endpoint = s.cfg.URL
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", endpoint, err)
	}

	err = conn.WriteMessage(websocket.TextMessage, []byte(allMidsSubscription))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribing to mid price updates: %w", err)
	}

	return conn, nil
}

// handleMessage parses the provided message and relays ticks for the tracked
// markets.
func (s *Stream) handleMessage(message []byte) {
	payload := gjson.ParseBytes(message)
	if payload.Get("channel").String() != "allMids" {
		return
	}

	now := time.Now().UTC()
	mids := payload.Get("data.mids")
	mids.ForEach(func(key gjson.Result, value gjson.Result) bool {
		market := key.String()
		if _, ok := s.markets[market]; !ok {
			return true
		}

		price := value.Float()
		if price <= 0 {
			return true
		}

		s.cfg.SendTick(shared.Tick{
			Market: market,
			Price:  price,
			Time:   now,
		})

		return true
	})
}

// readLoop consumes messages from the provided connection until it errors or
// the context terminates.
func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		err := conn.SetReadDeadline(time.Now().Add(readWait))
		if err != nil {
			return fmt.Errorf("setting read deadline: %w", err)
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("reading message: %w", err)
		}

		s.handleMessage(message)
	}
}

// Run manages the lifecycle processes of the tick stream.
func (s *Stream) Run(ctx context.Context) {
	var dropped bool

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := s.connect(ctx)
		if err != nil {
			s.cfg.Logger.Error().Msgf("connecting tick stream: %v", err)
		} else {
			if dropped {
				dropped = false
				if s.cfg.NotifyReconnect != nil {
					s.cfg.NotifyReconnect()
				}
			}

			err = s.readLoop(ctx, conn)
			if ctx.Err() == nil {
				s.cfg.Logger.Error().Msgf("tick stream disconnected: %v", err)
				dropped = true
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectWait):
			// retry.
		}
	}
}
