package shared

import (
	"time"
)

// EventKind represents the kind of a structured engine event.
type EventKind int

const (
	EventCandleClosed EventKind = iota
	EventBOSArmed
	EventRetestDetected
	EventAcceptanceProgress
	EventSetupConfirmed
	EventSetupDiscarded
	EventPositionOpened
	EventTakeProfitOneTaken
	EventRunnerStopUpdated
	EventPositionClosed
	EventMarkToMarket
	EventRiskBreakerEngaged
	EventRiskBreakerCleared
	EventHeartbeat
)

// String stringifies the provided event kind.
func (k EventKind) String() string {
	switch k {
	case EventCandleClosed:
		return "candle_closed"
	case EventBOSArmed:
		return "bos_armed"
	case EventRetestDetected:
		return "retest_detected"
	case EventAcceptanceProgress:
		return "acceptance_progress"
	case EventSetupConfirmed:
		return "setup_confirmed"
	case EventSetupDiscarded:
		return "setup_discarded"
	case EventPositionOpened:
		return "position_opened"
	case EventTakeProfitOneTaken:
		return "tp1_taken"
	case EventRunnerStopUpdated:
		return "runner_stop_updated"
	case EventPositionClosed:
		return "position_closed"
	case EventMarkToMarket:
		return "position_mtm"
	case EventRiskBreakerEngaged:
		return "risk_breaker_engaged"
	case EventRiskBreakerCleared:
		return "risk_breaker_cleared"
	case EventHeartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// Event represents a structured engine event. Each kind fills a fixed subset
// of the fields:
//
//	EventCandleClosed:       Price (close)
//	EventBOSArmed:           Direction, Price (bos level), Stop (swing anchor)
//	EventRetestDetected:     Direction, Price (retest reference)
//	EventAcceptanceProgress: Direction, Price (close), Count
//	EventSetupConfirmed:     Direction, Price (entry), Stop, TakeProfit1/2
//	EventSetupDiscarded:     Direction, Price, Stop, Note
//	EventPositionOpened:     Direction, Price (fill), Stop, TakeProfit1/2, Size
//	EventTakeProfitOneTaken: Direction, Price (fill), Stop (promoted), Size, PNL
//	EventRunnerStopUpdated:  Direction, Stop (effective runner stop)
//	EventPositionClosed:     Direction, Price (fill), PNL, Reason
//	EventMarkToMarket:       Direction, Price (close), PNL (unrealized)
//	EventRiskBreakerEngaged: Note, PNL (daily), Count (consecutive losses)
//	EventRiskBreakerCleared: Note
//	EventHeartbeat:          PNL (daily realized)
type Event struct {
	Kind        EventKind
	Market      string
	Direction   Direction
	Price       float64
	Stop        float64
	TakeProfit1 float64
	TakeProfit2 float64
	Size        float64
	PNL         float64
	Count       int
	Reason      ExitReason
	Note        string
	CreatedOn   time.Time
}

// NewEvent initializes a new event of the provided kind.
func NewEvent(kind EventKind, market string, created time.Time) Event {
	return Event{
		Kind:      kind,
		Market:    market,
		CreatedOn: created,
	}
}
