package timegrid

import "time"

const dayMs = int64(24 * time.Hour / time.Millisecond)

// Calendar defines which instants belong to a trading session and how
// interval indexes are counted across sessions.
type Calendar interface {
	// Contains reports whether tsMs falls inside a trading session.
	Contains(tsMs int64) bool
	// NextOpen returns the first in-session instant >= tsMs.
	NextOpen(tsMs int64) int64
	// CountStarts returns the number of in-session interval starts b
	// with fromMs < b <= toMs for the given interval duration.
	CountStarts(fromMs, toMs, durMs int64) int64
}

// AlwaysOpen is the 24/7 calendar. Every instant is in session and
// interval starts are aligned to absolute UTC boundaries.
type AlwaysOpen struct{}

func (AlwaysOpen) Contains(int64) bool { return true }

func (AlwaysOpen) NextOpen(tsMs int64) int64 { return tsMs }

func (AlwaysOpen) CountStarts(fromMs, toMs, durMs int64) int64 {
	if durMs <= 0 || toMs <= fromMs {
		return 0
	}
	return floorDiv(toMs, durMs) - floorDiv(fromMs, durMs)
}

// SessionCalendar restricts trading to a daily UTC window on selected
// weekdays. The window is half-open: [OpenMinute, CloseMinute).
type SessionCalendar struct {
	OpenMinute  int
	CloseMinute int
	TradingDays [7]bool
}

// NewEquitySessionCalendar returns a Monday-Friday session calendar.
func NewEquitySessionCalendar(openMinute, closeMinute int) *SessionCalendar {
	cal := &SessionCalendar{OpenMinute: openMinute, CloseMinute: closeMinute}
	for d := time.Monday; d <= time.Friday; d++ {
		cal.TradingDays[d] = true
	}
	return cal
}

func (c *SessionCalendar) Contains(tsMs int64) bool {
	day := floorDiv(tsMs, dayMs) * dayMs
	if !c.tradesOn(day) {
		return false
	}
	offset := tsMs - day
	return offset >= c.openMs() && offset < c.closeMs()
}

func (c *SessionCalendar) NextOpen(tsMs int64) int64 {
	if c.Contains(tsMs) {
		return tsMs
	}
	day := floorDiv(tsMs, dayMs) * dayMs
	if c.tradesOn(day) && tsMs < day+c.openMs() {
		return day + c.openMs()
	}
	for {
		day += dayMs
		if c.tradesOn(day) {
			return day + c.openMs()
		}
	}
}

func (c *SessionCalendar) CountStarts(fromMs, toMs, durMs int64) int64 {
	if durMs <= 0 || toMs <= fromMs {
		return 0
	}
	perDay := (c.closeMs() - c.openMs()) / durMs
	if perDay <= 0 {
		return 0
	}
	var n int64
	for day := floorDiv(fromMs, dayMs) * dayMs; day < toMs; day += dayMs {
		if !c.tradesOn(day) {
			continue
		}
		open := day + c.openMs()
		// smallest k with open+k*dur > fromMs
		kmin := int64(0)
		if open <= fromMs {
			kmin = floorDiv(fromMs-open, durMs) + 1
		}
		// largest k with open+k*dur <= toMs
		kmax := perDay - 1
		if limit := floorDiv(toMs-open, durMs); limit < kmax {
			kmax = limit
		}
		if kmax >= kmin {
			n += kmax - kmin + 1
		}
	}
	return n
}

func (c *SessionCalendar) tradesOn(dayStartMs int64) bool {
	wd := time.UnixMilli(dayStartMs).UTC().Weekday()
	return c.TradingDays[wd]
}

func (c *SessionCalendar) openMs() int64  { return int64(c.OpenMinute) * 60_000 }
func (c *SessionCalendar) closeMs() int64 { return int64(c.CloseMinute) * 60_000 }

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
