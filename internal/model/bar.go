package model

import (
	"main/internal/model/enum"
)

// Bar is an OHLCV aggregate over one fixed interval of one (symbol, timeframe).
//
// A Bar is only ever created from its first tick, so OHLC are always
// populated and TickCount >= 1 holds for any bar observed outside the
// lifecycle manager. Empty intervals are never materialized.
type Bar struct {
	Symbol          string        `json:"symbol"`
	Timeframe       enum.Timeframe `json:"timeframe"`
	BarIndex        int64         `json:"bar_index"`
	IntervalStartMs int64         `json:"interval_start_ms"`
	IntervalEndMs   int64         `json:"interval_end_ms"`
	Open            float64       `json:"open"`
	High            float64       `json:"high"`
	Low             float64       `json:"low"`
	Close           float64       `json:"close"`
	Volume          float64       `json:"volume"`
	TickCount       int64         `json:"tick_count"`
	State           enum.BarState `json:"state"`
}

// NewBar opens a forming bar seeded by its first tick.
func NewBar(tick CanonicalTick, tf enum.Timeframe, barIndex, startMs, endMs int64) *Bar {
	return &Bar{
		Symbol:          tick.Symbol,
		Timeframe:       tf,
		BarIndex:        barIndex,
		IntervalStartMs: startMs,
		IntervalEndMs:   endMs,
		Open:            tick.Price,
		High:            tick.Price,
		Low:             tick.Price,
		Close:           tick.Price,
		Volume:          tick.Size,
		TickCount:       1,
		State:           enum.BarStateForming,
	}
}

// Apply folds one more tick of the same interval into the forming bar.
func (b *Bar) Apply(tick CanonicalTick) {
	if tick.Price > b.High {
		b.High = tick.Price
	}
	if tick.Price < b.Low {
		b.Low = tick.Price
	}
	b.Close = tick.Price
	b.Volume += tick.Size
	b.TickCount++
}

// Snapshot returns an immutable copy handed to downstream callbacks.
func (b *Bar) Snapshot() Bar {
	return *b
}
