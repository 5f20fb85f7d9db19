package replay

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/clock"
	"main/internal/model"
)

var (
	ErrNeedsVirtualClock = errors.New("replay: controller requires a virtual-mode clock")
	ErrNilSink           = errors.New("replay: tick sink is nil")
	ErrNoTicks           = errors.New("replay: no ticks loaded")
	ErrBusy              = errors.New("replay: playback is active")
)

// State is the playback state machine position.
type State uint8

const (
	StateIdle State = iota
	StatePlaying
	StatePaused
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StatePlaying:
		return "PLAYING"
	case StatePaused:
		return "PAUSED"
	case StateCompleted:
		return "COMPLETED"
	default:
		return "unknown"
	}
}

// Progress reports playback position. Percent is time-based, not
// tick-count-based.
type Progress struct {
	StartTimeMs    int64   `json:"start_time_ms"`
	EndTimeMs      int64   `json:"end_time_ms"`
	CurrentTimeMs  int64   `json:"current_time_ms"`
	TicksProcessed int64   `json:"ticks_processed"`
	ProgressPct    float64 `json:"progress_pct"`
}

// Controller replays a stored tick sequence through the same ingestion
// path as live data, driving a virtual clock at controlled speed.
type Controller struct {
	mu sync.Mutex

	clk   *clock.MarketClock
	sink  func(model.CanonicalTick)
	speed float64

	ticks     []model.CanonicalTick
	cursor    int
	startMs   int64
	endMs     int64
	processed int64
	state     State

	cancel context.CancelFunc
	done   chan struct{}

	onProgress []func(Progress)
	onState    []func(old, new State)
	onComplete []func()
}

// NewController fails fast unless the clock is virtual: replay needs
// full time control.
func NewController(clk *clock.MarketClock, sink func(model.CanonicalTick), speed float64) (*Controller, error) {
	if clk == nil || clk.Mode() != clock.ModeVirtual {
		return nil, ErrNeedsVirtualClock
	}
	if sink == nil {
		return nil, ErrNilSink
	}
	if speed <= 0 {
		speed = 1
	}
	clk.SetSpeed(speed)
	return &Controller{clk: clk, sink: sink, speed: speed, state: StateIdle}, nil
}

// LoadTicks stores ticks sorted ascending by timestamp regardless of
// input order. startMs/endMs bound the replay window; pass 0 to derive
// them from the first/last tick.
func (c *Controller) LoadTicks(ticks []model.CanonicalTick, startMs, endMs int64) error {
	if len(ticks) == 0 {
		return ErrNoTicks
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StatePlaying {
		return ErrBusy
	}
	sorted := make([]model.CanonicalTick, len(ticks))
	copy(sorted, ticks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TimestampMs < sorted[j].TimestampMs
	})
	c.ticks = sorted
	c.startMs = sorted[0].TimestampMs
	c.endMs = sorted[len(sorted)-1].TimestampMs
	if startMs > 0 {
		c.startMs = startMs
	}
	if endMs > 0 {
		c.endMs = endMs
	}
	c.cursor = 0
	c.processed = 0
	c.setStateLocked(StateIdle)
	if _, err := c.clk.SeekTo(c.startMs); err != nil {
		return err
	}
	return nil
}

// OnProgress registers a periodic progress callback.
func (c *Controller) OnProgress(fn func(Progress)) {
	c.mu.Lock()
	c.onProgress = append(c.onProgress, fn)
	c.mu.Unlock()
}

// OnStateChange registers a state-transition callback.
func (c *Controller) OnStateChange(fn func(old, new State)) {
	c.mu.Lock()
	c.onState = append(c.onState, fn)
	c.mu.Unlock()
}

// OnComplete registers a hook fired when the final tick has played.
// The engine wiring uses it to force-confirm all forming bars.
func (c *Controller) OnComplete(fn func()) {
	c.mu.Lock()
	c.onComplete = append(c.onComplete, fn)
	c.mu.Unlock()
}

// Play starts or resumes asynchronous playback. From COMPLETED it
// restarts from the beginning.
func (c *Controller) Play() error {
	c.mu.Lock()
	if len(c.ticks) == 0 {
		c.mu.Unlock()
		return ErrNoTicks
	}
	if c.state == StatePlaying {
		c.mu.Unlock()
		return nil
	}
	if c.state == StateCompleted {
		c.cursor = 0
		c.processed = 0
		if _, err := c.clk.SeekTo(c.startMs); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	done := make(chan struct{})
	c.done = done
	c.setStateLocked(StatePlaying)
	c.mu.Unlock()

	go c.run(ctx, done)
	return nil
}

func (c *Controller) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		c.mu.Lock()
		if c.state != StatePlaying || c.cursor >= len(c.ticks) {
			finished := c.cursor >= len(c.ticks) && c.state == StatePlaying
			var completeFns []func()
			if finished {
				c.setStateLocked(StateCompleted)
				completeFns = append([]func(){}, c.onComplete...)
			}
			c.mu.Unlock()
			for _, fn := range completeFns {
				safeCall(fn)
			}
			return
		}
		tick := c.ticks[c.cursor]
		speed := c.speed
		nowMs := c.clk.Now()
		c.mu.Unlock()

		// pace by wall-clock delay divided by the speed multiplier
		if delta := tick.TimestampMs - nowMs; delta > 0 {
			wait := time.Duration(float64(delta)/speed) * time.Millisecond
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		c.mu.Lock()
		if c.state != StatePlaying {
			c.mu.Unlock()
			return
		}
		if _, err := c.clk.SeekTo(tick.TimestampMs); err != nil {
			logs.Errorf("replay: clock seek failed: %v", err)
			c.setStateLocked(StatePaused)
			c.mu.Unlock()
			return
		}
		c.cursor++
		c.processed++
		progress := c.progressLocked()
		progressFns := append([]func(Progress){}, c.onProgress...)
		c.mu.Unlock()

		c.clk.NotifyTimeChange()
		c.sink(tick)
		for _, fn := range progressFns {
			func() {
				defer func() {
					if r := recover(); r != nil {
						logs.Errorf("replay: progress callback panicked: %v", r)
					}
				}()
				fn(progress)
			}()
		}
	}
}

// Pause suspends playback in place without resetting position.
func (c *Controller) Pause() {
	c.mu.Lock()
	if c.state != StatePlaying {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StatePaused)
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Stop cancels playback and returns to IDLE with position reset to 0.
func (c *Controller) Stop() {
	c.mu.Lock()
	wasPlaying := c.state == StatePlaying
	c.setStateLocked(StateIdle)
	cancel, done := c.cancel, c.done
	c.cursor = 0
	c.processed = 0
	c.mu.Unlock()

	if wasPlaying && cancel != nil {
		cancel()
		<-done
	}
	if _, err := c.clk.SeekTo(c.startMs); err != nil {
		logs.Errorf("replay: stop seek failed: %v", err)
	}
}

// SeekTo relocates the cursor to the first tick at or after targetMs and
// moves the clock there. Playback resumes automatically if it was
// active before the seek.
func (c *Controller) SeekTo(targetMs int64) error {
	c.mu.Lock()
	wasPlaying := c.state == StatePlaying
	c.mu.Unlock()
	if wasPlaying {
		c.Pause()
	}

	c.mu.Lock()
	c.cursor = sort.Search(len(c.ticks), func(i int) bool {
		return c.ticks[i].TimestampMs >= targetMs
	})
	if _, err := c.clk.SeekTo(targetMs); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()
	c.clk.NotifyTimeChange()

	if wasPlaying {
		return c.Play()
	}
	return nil
}

// StepForward synchronously plays exactly n ticks (fewer if the tape
// is exhausted) without starting continuous playback. Returns the
// number of ticks played.
func (c *Controller) StepForward(n int) (int, error) {
	c.mu.Lock()
	if c.state == StatePlaying {
		c.mu.Unlock()
		return 0, ErrBusy
	}
	stepped := 0
	var played []model.CanonicalTick
	for stepped < n && c.cursor < len(c.ticks) {
		tick := c.ticks[c.cursor]
		if _, err := c.clk.SeekTo(tick.TimestampMs); err != nil {
			c.mu.Unlock()
			return stepped, err
		}
		c.cursor++
		c.processed++
		played = append(played, tick)
		stepped++
	}
	var completeFns []func()
	if c.cursor >= len(c.ticks) && stepped > 0 {
		c.setStateLocked(StateCompleted)
		completeFns = append([]func(){}, c.onComplete...)
	} else if stepped > 0 && c.state == StateIdle {
		c.setStateLocked(StatePaused)
	}
	c.mu.Unlock()

	for _, tick := range played {
		c.clk.NotifyTimeChange()
		c.sink(tick)
	}
	for _, fn := range completeFns {
		safeCall(fn)
	}
	return stepped, nil
}

// SetSpeed updates both the controller and the clock speed live.
func (c *Controller) SetSpeed(multiplier float64) {
	if multiplier <= 0 {
		logs.Warnf("replay: ignoring non-positive speed %.2f", multiplier)
		return
	}
	c.mu.Lock()
	c.speed = multiplier
	c.mu.Unlock()
	c.clk.SetSpeed(multiplier)
}

// State returns the current playback state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Progress returns the current playback progress.
func (c *Controller) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progressLocked()
}

func (c *Controller) progressLocked() Progress {
	current := c.clk.Now()
	pct := 0.0
	if span := c.endMs - c.startMs; span > 0 {
		pct = float64(current-c.startMs) / float64(span) * 100
		if pct < 0 {
			pct = 0
		}
		if pct > 100 {
			pct = 100
		}
	} else if c.processed > 0 {
		pct = 100
	}
	if c.state == StateCompleted {
		pct = 100
	}
	return Progress{
		StartTimeMs:    c.startMs,
		EndTimeMs:      c.endMs,
		CurrentTimeMs:  current,
		TicksProcessed: c.processed,
		ProgressPct:    pct,
	}
}

func (c *Controller) setStateLocked(next State) {
	if c.state == next {
		return
	}
	old := c.state
	c.state = next
	fns := append([]func(old, new State){}, c.onState...)
	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logs.Errorf("replay: state callback panicked: %v", r)
				}
			}()
			fn(old, next)
		}()
	}
}

func safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logs.Errorf("replay: completion callback panicked: %v", r)
		}
	}()
	fn()
}
