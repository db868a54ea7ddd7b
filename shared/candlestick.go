package shared

import (
	"math"
	"time"
)

// Tick represents a single traded price observation for a market.
type Tick struct {
	Market string
	Price  float64
	Time   time.Time
}

// Candlestick represents a unit candlestick for a market.
type Candlestick struct {
	Open  float64
	Low   float64
	High  float64
	Close float64
	// Date is the bucket-aligned open time of the candle.
	Date time.Time

	// Metadata fields.
	Market    string
	Timeframe Timeframe
}

// Sentiment represents the candlestick sentiment.
type Sentiment int

const (
	Neutral Sentiment = iota
	Bullish
	Bearish
)

// String stringifies the provided sentiment.
func (s Sentiment) String() string {
	switch s {
	case Neutral:
		return "neutral"
	case Bullish:
		return "bullish"
	case Bearish:
		return "bearish"
	default:
		return "unknown"
	}
}

// FetchSentiment returns the provided candlestick's sentiment.
func (c *Candlestick) FetchSentiment() Sentiment {
	sentiment := c.Close - c.Open
	switch {
	case sentiment < 0:
		return Bearish
	case sentiment > 0:
		return Bullish
	default:
		return Neutral
	}
}

// TrueRange returns the true range of the candle relative to the previous close.
func (c *Candlestick) TrueRange(previousClose float64) float64 {
	return math.Max(c.High-c.Low,
		math.Max(math.Abs(c.High-previousClose), math.Abs(c.Low-previousClose)))
}
