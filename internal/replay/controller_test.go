package replay

import (
	"errors"
	"sync"
	"testing"
	"time"

	"main/internal/clock"
	"main/internal/model"
)

func makeTicks(n int, startMs, stepMs int64) []model.CanonicalTick {
	ticks := make([]model.CanonicalTick, n)
	for i := range ticks {
		ticks[i] = model.CanonicalTick{
			Source:      "test",
			Symbol:      "BTCUSDT",
			TimestampMs: startMs + int64(i)*stepMs,
			Price:       100 + float64(i),
			Size:        1,
		}
	}
	return ticks
}

type tickCollector struct {
	mu    sync.Mutex
	ticks []model.CanonicalTick
}

func (c *tickCollector) sink(tick model.CanonicalTick) {
	c.mu.Lock()
	c.ticks = append(c.ticks, tick)
	c.mu.Unlock()
}

func (c *tickCollector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ticks)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before timeout")
}

func TestNewControllerRequiresVirtualClock(t *testing.T) {
	sink := func(model.CanonicalTick) {}
	if _, err := NewController(clock.NewLive(), sink, 1); !errors.Is(err, ErrNeedsVirtualClock) {
		t.Fatalf("err = %v, want ErrNeedsVirtualClock", err)
	}
	if _, err := NewController(nil, sink, 1); !errors.Is(err, ErrNeedsVirtualClock) {
		t.Fatalf("nil clock: err = %v, want ErrNeedsVirtualClock", err)
	}
	if _, err := NewController(clock.NewVirtual(0), nil, 1); !errors.Is(err, ErrNilSink) {
		t.Fatalf("nil sink: err = %v, want ErrNilSink", err)
	}
}

func TestPlayToCompletion(t *testing.T) {
	clk := clock.NewVirtual(0)
	var col tickCollector
	ctrl, err := NewController(clk, col.sink, 100)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	ticks := makeTicks(50, 60_000, 100)
	if err := ctrl.LoadTicks(ticks, 0, 0); err != nil {
		t.Fatalf("LoadTicks failed: %v", err)
	}
	if got := clk.Now(); got != 60_000 {
		t.Fatalf("clock after load = %d, want 60000", got)
	}

	done := make(chan struct{})
	ctrl.OnComplete(func() { close(done) })

	if err := ctrl.Play(); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("replay did not complete")
	}

	if got := ctrl.State(); got != StateCompleted {
		t.Fatalf("state = %v, want COMPLETED", got)
	}
	if col.len() != 50 {
		t.Fatalf("sink saw %d ticks, want 50", col.len())
	}
	p := ctrl.Progress()
	if p.ProgressPct != 100 || p.TicksProcessed != 50 {
		t.Fatalf("progress = %+v, want pct 100 and 50 ticks", p)
	}
	// ticks arrive in timestamp order
	col.mu.Lock()
	for i := 1; i < len(col.ticks); i++ {
		if col.ticks[i].TimestampMs < col.ticks[i-1].TimestampMs {
			t.Fatalf("out-of-order delivery at %d", i)
		}
	}
	col.mu.Unlock()
}

func TestLoadTicksSortsInput(t *testing.T) {
	clk := clock.NewVirtual(0)
	var col tickCollector
	ctrl, err := NewController(clk, col.sink, 1000)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	ticks := makeTicks(10, 60_000, 100)
	shuffled := []model.CanonicalTick{ticks[5], ticks[2], ticks[9], ticks[0], ticks[7],
		ticks[1], ticks[8], ticks[3], ticks[6], ticks[4]}
	if err := ctrl.LoadTicks(shuffled, 0, 0); err != nil {
		t.Fatalf("LoadTicks failed: %v", err)
	}

	n, err := ctrl.StepForward(10)
	if err != nil || n != 10 {
		t.Fatalf("StepForward = (%d, %v), want (10, nil)", n, err)
	}
	col.mu.Lock()
	defer col.mu.Unlock()
	for i, tk := range col.ticks {
		if tk.TimestampMs != ticks[i].TimestampMs {
			t.Fatalf("position %d got ts %d, want %d", i, tk.TimestampMs, ticks[i].TimestampMs)
		}
	}
}

func TestPauseAndResume(t *testing.T) {
	clk := clock.NewVirtual(0)
	var col tickCollector
	ctrl, err := NewController(clk, col.sink, 10)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	if err := ctrl.LoadTicks(makeTicks(200, 60_000, 50), 0, 0); err != nil {
		t.Fatalf("LoadTicks failed: %v", err)
	}

	if err := ctrl.Play(); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return col.len() >= 5 })

	ctrl.Pause()
	if got := ctrl.State(); got != StatePaused {
		t.Fatalf("state after pause = %v, want PAUSED", got)
	}
	paused := col.len()
	time.Sleep(50 * time.Millisecond)
	if col.len() != paused {
		t.Fatal("ticks kept flowing while paused")
	}

	done := make(chan struct{})
	ctrl.OnComplete(func() { close(done) })
	ctrl.SetSpeed(1000)
	if err := ctrl.Play(); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("replay did not complete after resume")
	}
	if col.len() != 200 {
		t.Fatalf("sink saw %d ticks, want 200 (no re-delivery)", col.len())
	}
}

func TestStopResetsPosition(t *testing.T) {
	clk := clock.NewVirtual(0)
	var col tickCollector
	ctrl, err := NewController(clk, col.sink, 1000)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	if err := ctrl.LoadTicks(makeTicks(20, 60_000, 100), 0, 0); err != nil {
		t.Fatalf("LoadTicks failed: %v", err)
	}

	if _, err := ctrl.StepForward(5); err != nil {
		t.Fatalf("StepForward failed: %v", err)
	}
	ctrl.Stop()
	if got := ctrl.State(); got != StateIdle {
		t.Fatalf("state after stop = %v, want IDLE", got)
	}
	if got := ctrl.Progress().TicksProcessed; got != 0 {
		t.Fatalf("processed after stop = %d, want 0", got)
	}
	if got := clk.Now(); got != 60_000 {
		t.Fatalf("clock after stop = %d, want 60000", got)
	}
}

func TestSeekToRelocatesCursor(t *testing.T) {
	clk := clock.NewVirtual(0)
	var col tickCollector
	ctrl, err := NewController(clk, col.sink, 1000)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	ticks := makeTicks(20, 60_000, 100)
	if err := ctrl.LoadTicks(ticks, 0, 0); err != nil {
		t.Fatalf("LoadTicks failed: %v", err)
	}

	if err := ctrl.SeekTo(61_000); err != nil {
		t.Fatalf("SeekTo failed: %v", err)
	}
	if got := clk.Now(); got != 61_000 {
		t.Fatalf("clock after seek = %d, want 61000", got)
	}
	n, err := ctrl.StepForward(1)
	if err != nil || n != 1 {
		t.Fatalf("StepForward = (%d, %v)", n, err)
	}
	col.mu.Lock()
	got := col.ticks[0].TimestampMs
	col.mu.Unlock()
	if got != 61_000 {
		t.Fatalf("first tick after seek = %d, want 61000", got)
	}
}

func TestStepForwardExhaustsTape(t *testing.T) {
	clk := clock.NewVirtual(0)
	var col tickCollector
	ctrl, err := NewController(clk, col.sink, 1)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	if err := ctrl.LoadTicks(makeTicks(3, 60_000, 100), 0, 0); err != nil {
		t.Fatalf("LoadTicks failed: %v", err)
	}

	completed := false
	ctrl.OnComplete(func() { completed = true })

	n, err := ctrl.StepForward(10)
	if err != nil || n != 3 {
		t.Fatalf("StepForward = (%d, %v), want (3, nil)", n, err)
	}
	if !completed {
		t.Fatal("completion hook did not fire")
	}
	if got := ctrl.State(); got != StateCompleted {
		t.Fatalf("state = %v, want COMPLETED", got)
	}
}

func TestPlayRestartsFromCompleted(t *testing.T) {
	clk := clock.NewVirtual(0)
	var col tickCollector
	ctrl, err := NewController(clk, col.sink, 1000)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	if err := ctrl.LoadTicks(makeTicks(5, 60_000, 100), 0, 0); err != nil {
		t.Fatalf("LoadTicks failed: %v", err)
	}

	var mu sync.Mutex
	completions := 0
	ctrl.OnComplete(func() {
		mu.Lock()
		completions++
		mu.Unlock()
	})

	if _, err := ctrl.StepForward(5); err != nil {
		t.Fatalf("StepForward failed: %v", err)
	}
	if err := ctrl.Play(); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return completions == 2
	})
	if col.len() != 10 {
		t.Fatalf("sink saw %d ticks across two runs, want 10", col.len())
	}
}

func TestProgressCallbackPanicIsolation(t *testing.T) {
	clk := clock.NewVirtual(0)
	var col tickCollector
	ctrl, err := NewController(clk, col.sink, 1000)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	if err := ctrl.LoadTicks(makeTicks(10, 60_000, 100), 0, 0); err != nil {
		t.Fatalf("LoadTicks failed: %v", err)
	}

	var mu sync.Mutex
	progressed := 0
	ctrl.OnProgress(func(Progress) { panic("boom") })
	ctrl.OnProgress(func(Progress) {
		mu.Lock()
		progressed++
		mu.Unlock()
	})
	done := make(chan struct{})
	ctrl.OnComplete(func() { close(done) })

	if err := ctrl.Play(); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("panicking progress callback stalled playback")
	}
	if col.len() != 10 {
		t.Fatalf("sink saw %d ticks, want 10", col.len())
	}
	mu.Lock()
	defer mu.Unlock()
	if progressed != 10 {
		t.Fatalf("second progress callback ran %d times, want 10", progressed)
	}
}

func TestStateChangeCallback(t *testing.T) {
	clk := clock.NewVirtual(0)
	ctrl, err := NewController(clk, func(model.CanonicalTick) {}, 1000)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	if err := ctrl.LoadTicks(makeTicks(2, 60_000, 100), 0, 0); err != nil {
		t.Fatalf("LoadTicks failed: %v", err)
	}

	var mu sync.Mutex
	var transitions []State
	ctrl.OnStateChange(func(_, next State) {
		mu.Lock()
		transitions = append(transitions, next)
		mu.Unlock()
	})

	if _, err := ctrl.StepForward(2); err != nil {
		t.Fatalf("StepForward failed: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 1 || transitions[0] != StateCompleted {
		t.Fatalf("transitions = %v, want [COMPLETED]", transitions)
	}
}
