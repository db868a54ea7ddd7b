package shared

// Direction represents market direction.
type Direction int

const (
	// None is the zero value, a direction that has not been set.
	None Direction = iota
	Long
	Short
)

// String stringifies the provided direction.
func (d Direction) String() string {
	switch d {
	case None:
		return "none"
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "unknown"
	}
}

// ExitReason represents the reason an exit was triggered.
type ExitReason int

const (
	StopLossHit ExitReason = iota
	TakeProfitOneHit
	TakeProfitTwoHit
	RunnerStopHit
	EMACrossExit
	TimeStopExit
)

// String stringifies the provided exit reason.
func (r ExitReason) String() string {
	switch r {
	case StopLossHit:
		return "stop"
	case TakeProfitOneHit:
		return "tp1"
	case TakeProfitTwoHit:
		return "tp2"
	case RunnerStopHit:
		return "runner_stop"
	case EMACrossExit:
		return "ema_cross"
	case TimeStopExit:
		return "time_stop"
	default:
		return "unknown"
	}
}
