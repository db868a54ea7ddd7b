package shared

import (
	"fmt"
	"time"
)

// Timeframe represents the market data time period.
type Timeframe int

const (
	FiveMinute Timeframe = iota
	FifteenMinute
	OneHour
	FourHour
)

// String stringifies the provided timeframe.
func (t Timeframe) String() string {
	switch t {
	case FiveMinute:
		return "5m"
	case FifteenMinute:
		return "15m"
	case OneHour:
		return "1h"
	case FourHour:
		return "4h"
	default:
		return "unknown"
	}
}

// Seconds returns the width of the timeframe in seconds.
func (t Timeframe) Seconds() int64 {
	switch t {
	case FiveMinute:
		return 300
	case FifteenMinute:
		return 900
	case OneHour:
		return 3600
	case FourHour:
		return 14400
	default:
		return 0
	}
}

// Duration returns the width of the timeframe as a duration.
func (t Timeframe) Duration() time.Duration {
	return time.Duration(t.Seconds()) * time.Second
}

// Bucket aligns the provided unix timestamp to the open of the bucket it
// falls in. A timestamp exactly on a bucket boundary belongs to the new bucket.
func (t Timeframe) Bucket(unixSeconds int64) int64 {
	width := t.Seconds()
	return (unixSeconds / width) * width
}

// ParseTimeframe parses the provided timeframe string.
func ParseTimeframe(timeframe string) (Timeframe, error) {
	switch timeframe {
	case "5m":
		return FiveMinute, nil
	case "15m":
		return FifteenMinute, nil
	case "1h":
		return OneHour, nil
	case "4h":
		return FourHour, nil
	default:
		return 0, fmt.Errorf("unknown timeframe: %s", timeframe)
	}
}
