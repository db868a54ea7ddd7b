package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dnldd/breakout/shared"
	"github.com/tidwall/gjson"
)

const (
	// infoURL is the hyperliquid info endpoint, candle snapshots included.
	infoURL = "https://api.hyperliquid.xyz/info"
)

// HyperliquidConfig represents the configuration for the hyperliquid client.
type HyperliquidConfig struct {
	// BaseURL overrides the default info endpoint when set, used by tests.
	BaseURL string
}

// HyperliquidClient represents the hyperliquid exchange API client.
type HyperliquidClient struct {
	cfg   *HyperliquidConfig
	httpc http.Client
}

// Ensure the hyperliquid client implements the CandleFetcher interface.
var _ shared.CandleFetcher = (*HyperliquidClient)(nil)

// NewHyperliquidClient instantiates a new hyperliquid client.
func NewHyperliquidClient(cfg *HyperliquidConfig) *HyperliquidClient {
	return &HyperliquidClient{
		cfg:   cfg,
		httpc: http.Client{Timeout: time.Second * 10},
	}
}

// interval maps the provided timeframe to its hyperliquid interval token.
func interval(timeframe shared.Timeframe) (string, error) {
	switch timeframe {
	case shared.FiveMinute:
		return "5m", nil
	case shared.FifteenMinute:
		return "15m", nil
	case shared.OneHour:
		return "1h", nil
	case shared.FourHour:
		return "4h", nil
	default:
		return "", fmt.Errorf("unknown timeframe provided: %s", timeframe.String())
	}
}

// ParseCandlesticks parses candlesticks from the provided json data. Candle
// timestamps arrive in unix milliseconds and are truncated to seconds.
func (c *HyperliquidClient) ParseCandlesticks(data []gjson.Result, market string,
	timeframe shared.Timeframe) ([]shared.Candlestick, error) {
	candles := make([]shared.Candlestick, len(data))

	for idx := range data {
		var candle shared.Candlestick

		candle.Open = data[idx].Get("o").Float()
		candle.Low = data[idx].Get("l").Float()
		candle.High = data[idx].Get("h").Float()
		candle.Close = data[idx].Get("c").Float()

		openMs := data[idx].Get("t").Int()
		if openMs <= 0 {
			return nil, fmt.Errorf("candlestick %d for %s has no open time", idx, market)
		}

		candle.Date = time.Unix(openMs/1000, 0).UTC()
		candle.Market = market
		candle.Timeframe = timeframe

		candles[idx] = candle
	}

	return candles, nil
}

// FetchCandles fetches historical candle data for the provided market and
// timeframe over the provided range.
func (c *HyperliquidClient) FetchCandles(ctx context.Context, market string,
	timeframe shared.Timeframe, start time.Time, end time.Time) ([]shared.Candlestick, error) {
	token, err := interval(timeframe)
	if err != nil {
		return nil, err
	}

	if end.IsZero() {
		end = time.Now().UTC()
	}

	payload := fmt.Sprintf(`{"type":"candleSnapshot","req":{"coin":%q,"interval":%q,`+
		`"startTime":%d,"endTime":%d}}`, market, token, start.UnixMilli(), end.UnixMilli())

	endpoint := infoURL
	if c.cfg.BaseURL != "" {
		endpoint = c.cfg.BaseURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		bytes.NewReader([]byte(payload)))
	if err != nil {
		return nil, fmt.Errorf("creating candle snapshot request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s candles (%s): %w", market, timeframe.String(), err)
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("candle snapshot request for %s failed: %s", market, resp.Status)
	}

	data := gjson.ParseBytes(body).Array()

	return c.ParseCandlesticks(data, market, timeframe)
}
