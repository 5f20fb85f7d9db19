package timegrid

import (
	"sync"
	"testing"

	"main/internal/model/enum"
)

func TestBarIndexAlwaysOpen(t *testing.T) {
	calc := NewCalculator(enum.Timeframe1m, AlwaysOpen{})

	tests := []struct {
		name string
		tsMs int64
		want int64
	}{
		{"at epoch", 0, 0},
		{"inside first interval", 59_999, 0},
		{"first boundary", 60_000, 1},
		{"inside second interval", 60_001, 1},
		{"tenth interval", 600_000, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := calc.BarIndex(tt.tsMs); got != tt.want {
				t.Fatalf("BarIndex(%d) = %d, want %d", tt.tsMs, got, tt.want)
			}
		})
	}
}

func TestBarIndexNonZeroEpoch(t *testing.T) {
	calc := NewCalculator(enum.Timeframe1m, AlwaysOpen{})
	calc.SetEpoch(120_000)

	if got := calc.BarIndex(120_000); got != 0 {
		t.Fatalf("index at epoch = %d, want 0", got)
	}
	if got := calc.BarIndex(180_000); got != 1 {
		t.Fatalf("index one interval past epoch = %d, want 1", got)
	}
	if got := calc.BarIndex(179_999); got != 0 {
		t.Fatalf("index just before boundary = %d, want 0", got)
	}
}

func TestIntervalBoundsHalfOpen(t *testing.T) {
	calc := NewCalculator(enum.Timeframe1m, AlwaysOpen{})

	start, end := calc.IntervalBounds(60_000)
	if start != 60_000 || end != 120_000 {
		t.Fatalf("bounds(60000) = [%d, %d), want [60000, 120000)", start, end)
	}

	// a tick exactly at an interval end belongs to the next interval
	start, _ = calc.IntervalBounds(120_000)
	if start != 120_000 {
		t.Fatalf("tick at boundary mapped to start %d, want 120000", start)
	}

	start, end = calc.IntervalBounds(119_999)
	if start != 60_000 || end != 120_000 {
		t.Fatalf("bounds(119999) = [%d, %d), want [60000, 120000)", start, end)
	}
}

func TestIntervalBoundsAbsoluteAlignment(t *testing.T) {
	// bounds align to absolute UTC boundaries regardless of epoch
	calc := NewCalculator(enum.Timeframe5m, AlwaysOpen{})
	calc.SetEpoch(90_000)

	start, end := calc.IntervalBounds(301_000)
	if start != 300_000 || end != 600_000 {
		t.Fatalf("bounds(301000) = [%d, %d), want [300000, 600000)", start, end)
	}
}

func TestBarIndexPurity(t *testing.T) {
	calc := NewCalculator(enum.Timeframe1m, AlwaysOpen{})
	calc.SetEpoch(1_700_000_000_000)
	ts := int64(1_700_000_345_678)

	want := calc.BarIndex(ts)
	var wg sync.WaitGroup
	results := make([]int64, 64)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = calc.BarIndex(ts)
		}(i)
	}
	wg.Wait()
	for i, got := range results {
		if got != want {
			t.Fatalf("concurrent call %d returned %d, want %d", i, got, want)
		}
	}
}

func TestSessionCalendarContains(t *testing.T) {
	// Monday 2024-01-01 is UTC day start 1704067200000
	const monday = int64(1_704_067_200_000)
	cal := NewEquitySessionCalendar(570, 960) // 09:30-16:00

	if cal.Contains(monday) {
		t.Fatal("midnight should be out of session")
	}
	if !cal.Contains(monday + 570*60_000) {
		t.Fatal("session open should be in session")
	}
	if cal.Contains(monday + 960*60_000) {
		t.Fatal("session close is exclusive")
	}

	saturday := monday + 5*dayMs
	if cal.Contains(saturday + 600*60_000) {
		t.Fatal("saturday should be out of session")
	}
}

func TestSessionCalendarNextOpen(t *testing.T) {
	const monday = int64(1_704_067_200_000)
	cal := NewEquitySessionCalendar(570, 960)

	open := monday + 570*60_000
	if got := cal.NextOpen(monday); got != open {
		t.Fatalf("NextOpen(midnight) = %d, want %d", got, open)
	}
	// after close rolls to the next trading day
	if got := cal.NextOpen(monday + 961*60_000); got != open+dayMs {
		t.Fatalf("NextOpen(after close) = %d, want %d", got, open+dayMs)
	}
	// friday after close rolls over the weekend
	friday := monday + 4*dayMs
	if got := cal.NextOpen(friday + 961*60_000); got != open+7*dayMs {
		t.Fatalf("NextOpen(friday close) = %d, want monday open %d", got, open+7*dayMs)
	}
}

func TestSessionCalendarBarIndexSkipsClosedTime(t *testing.T) {
	const monday = int64(1_704_067_200_000)
	cal := NewEquitySessionCalendar(570, 960)
	calc := NewCalculator(enum.Timeframe1m, cal)
	calc.SetEpoch(monday + 570*60_000)

	open := monday + 570*60_000
	// 390 one-minute intervals per session day
	if got := calc.BarIndex(open + 60_000); got != 1 {
		t.Fatalf("index one minute into session = %d, want 1", got)
	}
	// first minute of tuesday continues the count without gaps
	tuesdayOpen := open + dayMs
	if got := calc.BarIndex(tuesdayOpen + 60_000); got != 391 {
		t.Fatalf("index one minute into tuesday = %d, want 391", got)
	}
	// saturday and sunday add nothing
	fridayClose := monday + 4*dayMs + 960*60_000
	justBeforeNextOpen := open + 7*dayMs - 1
	if calc.BarIndex(fridayClose) != calc.BarIndex(justBeforeNextOpen) {
		t.Fatalf("weekend advanced the bar index: %d vs %d",
			calc.BarIndex(fridayClose), calc.BarIndex(justBeforeNextOpen))
	}
}

func TestSessionCalendarBoundsAlignToOpen(t *testing.T) {
	const monday = int64(1_704_067_200_000)
	cal := NewEquitySessionCalendar(570, 960)
	calc := NewCalculator(enum.Timeframe5m, cal)

	open := monday + 570*60_000
	start, end := calc.IntervalBounds(open + 7*60_000)
	if start != open+5*60_000 || end != open+10*60_000 {
		t.Fatalf("bounds = [%d, %d), want [%d, %d)", start, end, open+5*60_000, open+10*60_000)
	}

	// out-of-session timestamp maps to the next open's interval
	start, _ = calc.IntervalBounds(monday)
	if start != open {
		t.Fatalf("pre-open tick start = %d, want session open %d", start, open)
	}
}

func TestFloorDivNegative(t *testing.T) {
	tests := []struct {
		a, b, want int64
	}{
		{7, 3, 2},
		{-7, 3, -3},
		{-6, 3, -2},
		{0, 3, 0},
	}
	for _, tt := range tests {
		if got := floorDiv(tt.a, tt.b); got != tt.want {
			t.Fatalf("floorDiv(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
