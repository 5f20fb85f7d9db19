package timegrid

import (
	"main/internal/model/enum"
)

// Calculator maps tick timestamps onto deterministic bar indexes and
// interval bounds for one timeframe and one calendar.
//
// BarIndex and IntervalBounds are pure functions of (timestamp, epoch,
// timeframe, calendar): identical inputs always produce identical
// outputs regardless of call order or concurrency. SetEpoch is a
// configuration-time operation and must not race with readers.
type Calculator struct {
	epochMs int64
	tf      enum.Timeframe
	cal     Calendar
}

// NewCalculator builds a calculator anchored at epoch 0.
// A nil calendar means always open.
func NewCalculator(tf enum.Timeframe, cal Calendar) *Calculator {
	if cal == nil {
		cal = AlwaysOpen{}
	}
	return &Calculator{tf: tf, cal: cal}
}

// SetEpoch anchors bar index 0 at epochMs.
func (c *Calculator) SetEpoch(epochMs int64) {
	c.epochMs = epochMs
}

// Epoch returns the anchor of bar index 0.
func (c *Calculator) Epoch() int64 { return c.epochMs }

// Timeframe returns the configured timeframe.
func (c *Calculator) Timeframe() enum.Timeframe { return c.tf }

// BarIndex returns the index of the interval containing tsMs.
// Under the always-open calendar this is floor((ts-epoch)/duration);
// under a session calendar it is the count of in-session interval
// starts elapsed since the epoch.
func (c *Calculator) BarIndex(tsMs int64) int64 {
	return c.cal.CountStarts(c.epochMs, tsMs, c.tf.DurationMs())
}

// IntervalBounds returns the half-open [start, end) of the interval
// containing tsMs, aligned to timeframe boundaries. Out-of-session
// timestamps map to the next session open's interval.
func (c *Calculator) IntervalBounds(tsMs int64) (startMs, endMs int64) {
	durMs := c.tf.DurationMs()
	ts := c.cal.NextOpen(tsMs)
	switch cal := c.cal.(type) {
	case *SessionCalendar:
		day := floorDiv(ts, dayMs) * dayMs
		open := day + cal.openMs()
		startMs = open + floorDiv(ts-open, durMs)*durMs
	default:
		startMs = floorDiv(ts, durMs) * durMs
	}
	return startMs, startMs + durMs
}
