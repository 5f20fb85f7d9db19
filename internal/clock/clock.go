package clock

import (
	"errors"
	"sync"
	"time"

	"github.com/yanun0323/logs"
)

var (
	ErrLiveNotControllable = errors.New("clock: live clock time is not controllable")
	ErrFrozen              = errors.New("clock: clock is frozen")
	ErrAlreadyRunning      = errors.New("clock: clock is already running")
	ErrNotVirtual          = errors.New("clock: operation requires a virtual clock")
)

// Mode selects the clock time source.
type Mode uint8

const (
	ModeLive Mode = iota
	ModeVirtual
)

func (m Mode) String() string {
	if m == ModeVirtual {
		return "VIRTUAL"
	}
	return "LIVE"
}

// State is a serializable snapshot of the clock.
type State struct {
	Mode            Mode    `json:"mode"`
	CurrentTimeMs   int64   `json:"current_time_ms"`
	Frozen          bool    `json:"frozen"`
	SpeedMultiplier float64 `json:"speed_multiplier"`
	Running         bool    `json:"running"`
}

// MarketClock is a dual-mode time source.
//
// LIVE reads wall time and rejects advance/seek. VIRTUAL starts at a
// given instant and is fully controllable: advance, seek, freeze, and
// speed-scaled auto-run. All mutable state sits behind one lock so
// concurrent advances never lose updates.
type MarketClock struct {
	mu sync.Mutex

	mode   Mode
	frozen bool
	speed  float64

	// virtual position when not auto-running; pinned live instant when frozen
	currentMs int64

	running      bool
	runBaseWall  time.Time
	runBaseVirtMs int64

	callbacks  map[int]func(nowMs int64)
	nextCbID   int
}

// NewLive creates a wall-clock backed clock.
func NewLive() *MarketClock {
	return &MarketClock{mode: ModeLive, speed: 1, callbacks: make(map[int]func(int64))}
}

// NewVirtual creates a controllable clock positioned at startMs.
func NewVirtual(startMs int64) *MarketClock {
	return &MarketClock{
		mode:      ModeVirtual,
		speed:     1,
		currentMs: startMs,
		callbacks: make(map[int]func(int64)),
	}
}

// Mode returns the clock mode.
func (c *MarketClock) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Now returns the current time in milliseconds.
func (c *MarketClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowLocked()
}

func (c *MarketClock) nowLocked() int64 {
	if c.mode == ModeLive {
		if c.frozen {
			return c.currentMs
		}
		return time.Now().UnixMilli()
	}
	if c.running {
		elapsed := float64(time.Since(c.runBaseWall).Milliseconds())
		return c.runBaseVirtMs + int64(elapsed*c.speed)
	}
	return c.currentMs
}

// Advance shifts virtual time by deltaMs (negative allowed) and returns
// the new time. Fails on a live clock and while frozen.
func (c *MarketClock) Advance(deltaMs int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == ModeLive {
		return 0, ErrLiveNotControllable
	}
	if c.frozen {
		return 0, ErrFrozen
	}
	c.materializeLocked()
	c.currentMs += deltaMs
	return c.currentMs, nil
}

// SeekTo moves virtual time to targetMs and returns it.
// Fails on a live clock and while frozen.
func (c *MarketClock) SeekTo(targetMs int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == ModeLive {
		return 0, ErrLiveNotControllable
	}
	if c.frozen {
		return 0, ErrFrozen
	}
	c.materializeLocked()
	c.currentMs = targetMs
	return c.currentMs, nil
}

// Freeze pins Now at the instant of the call.
func (c *MarketClock) Freeze() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return
	}
	c.currentMs = c.nowLocked()
	c.running = false
	c.frozen = true
}

// Resume un-pins the clock. In live mode wall time continues with no
// artificial jump; in virtual mode time stays at the pinned position.
func (c *MarketClock) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = false
}

// StartRunning begins advancing virtual time in proportion to wall
// time scaled by the speed multiplier. Fails while frozen.
func (c *MarketClock) StartRunning() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == ModeLive {
		return ErrLiveNotControllable
	}
	if c.frozen {
		return ErrFrozen
	}
	if c.running {
		return ErrAlreadyRunning
	}
	c.runBaseWall = time.Now()
	c.runBaseVirtMs = c.currentMs
	c.running = true
	return nil
}

// StopRunning stops auto-run, leaving time at the position reached.
func (c *MarketClock) StopRunning() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.materializeLocked()
}

func (c *MarketClock) materializeLocked() {
	if !c.running {
		return
	}
	c.currentMs = c.nowLocked()
	c.running = false
}

// SetSpeed updates the auto-run multiplier. A logged no-op in live mode.
func (c *MarketClock) SetSpeed(multiplier float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == ModeLive {
		logs.Warnf("clock: set speed %.2f ignored in live mode", multiplier)
		return
	}
	if multiplier <= 0 {
		logs.Warnf("clock: ignoring non-positive speed %.2f", multiplier)
		return
	}
	// rebase so the already-elapsed segment keeps the old scale
	if c.running {
		c.currentMs = c.nowLocked()
		c.runBaseWall = time.Now()
		c.runBaseVirtMs = c.currentMs
	}
	c.speed = multiplier
}

// Speed returns the current multiplier.
func (c *MarketClock) Speed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// RegisterCallback adds a time-change handler and returns its id.
func (c *MarketClock) RegisterCallback(fn func(nowMs int64)) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextCbID++
	c.callbacks[c.nextCbID] = fn
	return c.nextCbID
}

// UnregisterCallback removes a handler by id.
func (c *MarketClock) UnregisterCallback(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.callbacks, id)
}

// NotifyTimeChange invokes every registered handler with the current
// time. Handler panics are caught and logged, never propagated.
func (c *MarketClock) NotifyTimeChange() {
	c.mu.Lock()
	now := c.nowLocked()
	handlers := make([]func(int64), 0, len(c.callbacks))
	for _, fn := range c.callbacks {
		handlers = append(handlers, fn)
	}
	c.mu.Unlock()

	for _, fn := range handlers {
		invokeSafely(fn, now)
	}
}

func invokeSafely(fn func(int64), nowMs int64) {
	defer func() {
		if r := recover(); r != nil {
			logs.Errorf("clock: time-change callback panicked: %v", r)
		}
	}()
	fn(nowMs)
}

// GetState returns a serializable snapshot.
func (c *MarketClock) GetState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Mode:            c.mode,
		CurrentTimeMs:   c.nowLocked(),
		Frozen:          c.frozen,
		SpeedMultiplier: c.speed,
		Running:         c.running,
	}
}
