package enum

import "time"

// Timeframe identifies the fixed bar interval of a channel.
type Timeframe uint8

const (
	_timeframe_beg Timeframe = iota
	Timeframe1m
	Timeframe5m
	Timeframe15m
	Timeframe1h
	Timeframe4h
	Timeframe1d
	_timeframe_end
)

func (tf Timeframe) IsAvailable() bool {
	return tf > _timeframe_beg && tf < _timeframe_end
}

// Duration returns the interval length of the timeframe.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	case Timeframe1d:
		return 24 * time.Hour
	default:
		return 0
	}
}

// DurationMs returns the interval length in milliseconds.
func (tf Timeframe) DurationMs() int64 {
	return tf.Duration().Milliseconds()
}

func (tf Timeframe) String() string {
	switch tf {
	case Timeframe1m:
		return "1m"
	case Timeframe5m:
		return "5m"
	case Timeframe15m:
		return "15m"
	case Timeframe1h:
		return "1h"
	case Timeframe4h:
		return "4h"
	case Timeframe1d:
		return "1d"
	default:
		return "unknown"
	}
}

// ParseTimeframe maps a timeframe name to its enum value.
func ParseTimeframe(s string) (Timeframe, bool) {
	for tf := _timeframe_beg + 1; tf < _timeframe_end; tf++ {
		if tf.String() == s {
			return tf, true
		}
	}
	return _timeframe_beg, false
}
