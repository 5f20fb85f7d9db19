package lifecycle

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/clock"
	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/obs"
	"main/internal/timegrid"
)

var (
	ErrNoTimeframes   = errors.New("lifecycle: at least one timeframe is required")
	ErrNilClock       = errors.New("lifecycle: clock is nil")
	ErrAlreadyStarted = errors.New("lifecycle: boundary loop already started")
)

const defaultCheckInterval = 50 * time.Millisecond

// Key identifies one forming-bar slot.
type Key struct {
	Symbol    string
	Timeframe enum.Timeframe
}

// BarCallback receives immutable bar snapshots.
type BarCallback func(bar model.Bar)

// Config wires a manager.
type Config struct {
	Timeframes    []enum.Timeframe
	Calendar      timegrid.Calendar
	EpochMs       int64
	Clock         *clock.MarketClock
	CheckInterval time.Duration
	Metrics       *obs.Metrics
}

// Manager folds ticks into per-(symbol, timeframe) forming bars and
// confirms them on boundary crossing.
//
// The forming-bar map is an arena of independently lockable entries:
// the outer lock only guards map shape, per-key mutation serializes on
// the entry lock, so concurrent ticks for distinct keys never contend.
type Manager struct {
	calcs   map[enum.Timeframe]*timegrid.Calculator
	order   []enum.Timeframe
	clk     *clock.MarketClock
	metrics *obs.Metrics
	check   time.Duration

	mu   sync.RWMutex
	bars map[Key]*entry

	cbMu        sync.RWMutex
	onUpdate    []BarCallback
	onConfirmed []BarCallback
	persist     BarCallback

	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type entry struct {
	mu  sync.Mutex
	bar *model.Bar
}

// NewManager validates the config and builds a manager.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Timeframes) == 0 {
		return nil, ErrNoTimeframes
	}
	if cfg.Clock == nil {
		return nil, ErrNilClock
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = defaultCheckInterval
	}
	calcs := make(map[enum.Timeframe]*timegrid.Calculator, len(cfg.Timeframes))
	order := make([]enum.Timeframe, 0, len(cfg.Timeframes))
	for _, tf := range cfg.Timeframes {
		if !tf.IsAvailable() {
			return nil, errors.New("lifecycle: unavailable timeframe " + tf.String())
		}
		if _, dup := calcs[tf]; dup {
			continue
		}
		calc := timegrid.NewCalculator(tf, cfg.Calendar)
		calc.SetEpoch(cfg.EpochMs)
		calcs[tf] = calc
		order = append(order, tf)
	}
	// fixed iteration order: ticks fold and bars confirm in the same
	// timeframe sequence on every run
	sort.Slice(order, func(i, j int) bool {
		return order[i].DurationMs() < order[j].DurationMs()
	})
	return &Manager{
		calcs:   calcs,
		order:   order,
		clk:     cfg.Clock,
		metrics: cfg.Metrics,
		check:   cfg.CheckInterval,
		bars:    make(map[Key]*entry),
	}, nil
}

// OnUpdate registers a callback fired after every in-interval tick.
func (m *Manager) OnUpdate(fn BarCallback) {
	m.cbMu.Lock()
	m.onUpdate = append(m.onUpdate, fn)
	m.cbMu.Unlock()
}

// OnConfirmed registers a callback fired for every confirmed bar.
func (m *Manager) OnConfirmed(fn BarCallback) {
	m.cbMu.Lock()
	m.onConfirmed = append(m.onConfirmed, fn)
	m.cbMu.Unlock()
}

// SetPersist installs the single persistence callback. It receives
// every confirmed bar exactly once.
func (m *Manager) SetPersist(fn BarCallback) {
	m.cbMu.Lock()
	m.persist = fn
	m.cbMu.Unlock()
}

// ProcessTick folds one tick into every configured timeframe.
// Malformed ticks are rejected before touching any forming bar.
func (m *Manager) ProcessTick(tick model.CanonicalTick) error {
	if err := tick.Validate(); err != nil {
		if m.metrics != nil {
			m.metrics.IncTickRejected()
		}
		return err
	}
	start := time.Now()
	for _, tf := range m.order {
		m.processKey(Key{Symbol: tick.Symbol, Timeframe: tf}, m.calcs[tf], tick)
	}
	if m.metrics != nil {
		m.metrics.ObserveTick(time.Since(start))
	}
	return nil
}

func (m *Manager) processKey(key Key, calc *timegrid.Calculator, tick model.CanonicalTick) {
	e := m.entryFor(key)

	e.mu.Lock()
	var confirmed, updated model.Bar
	var hasConfirmed, hasUpdated bool

	switch {
	case e.bar == nil:
		e.bar = m.openBar(calc, key.Timeframe, tick)
		updated, hasUpdated = e.bar.Snapshot(), true
	case tick.TimestampMs < e.bar.IntervalEndMs:
		e.bar.Apply(tick)
		updated, hasUpdated = e.bar.Snapshot(), true
	default:
		// boundary crossed: confirm the existing bar, then open a new
		// one for the interval containing the new tick. Intervals with
		// zero ticks in between are never materialized.
		e.bar.State = enum.BarStateConfirmed
		confirmed, hasConfirmed = e.bar.Snapshot(), true
		e.bar = m.openBar(calc, key.Timeframe, tick)
		updated, hasUpdated = e.bar.Snapshot(), true
	}
	e.mu.Unlock()

	if hasConfirmed {
		m.fireConfirmed(confirmed)
	}
	if hasUpdated {
		m.fireUpdate(updated)
	}
}

func (m *Manager) openBar(calc *timegrid.Calculator, tf enum.Timeframe, tick model.CanonicalTick) *model.Bar {
	startMs, endMs := calc.IntervalBounds(tick.TimestampMs)
	return model.NewBar(tick, tf, calc.BarIndex(tick.TimestampMs), startMs, endMs)
}

func (m *Manager) entryFor(key Key) *entry {
	m.mu.RLock()
	e, ok := m.bars[key]
	m.mu.RUnlock()
	if ok {
		return e
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok = m.bars[key]; ok {
		return e
	}
	e = &entry{}
	m.bars[key] = e
	return e
}

// Start launches the periodic boundary-check loop. The loop consults
// the clock and confirms any forming bar whose interval has elapsed
// even absent a new tick, which handles idle markets.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.check)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CheckBoundaries()
			}
		}
	}()
	return nil
}

// Stop cancels the boundary loop and force-confirms all forming bars.
func (m *Manager) Stop() []model.Bar {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.started = false
	m.mu.Unlock()
	m.wg.Wait()
	return m.ForceConfirmAll()
}

// CheckBoundaries confirms every forming bar whose interval end is at
// or before the clock's current time. Confirmation is identical to the
// tick-triggered path.
func (m *Manager) CheckBoundaries() []model.Bar {
	nowMs := m.clk.Now()
	return m.confirmWhere(func(b *model.Bar) bool {
		return b.IntervalEndMs <= nowMs
	})
}

// ForceConfirmAll immediately confirms every forming bar and returns
// the confirmed snapshots. Used on shutdown and as the terminal step
// of replay completion.
func (m *Manager) ForceConfirmAll() []model.Bar {
	return m.confirmWhere(func(*model.Bar) bool { return true })
}

func (m *Manager) confirmWhere(pred func(*model.Bar) bool) []model.Bar {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.bars))
	for _, e := range m.bars {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	var confirmed []model.Bar
	for _, e := range entries {
		e.mu.Lock()
		if e.bar != nil && pred(e.bar) {
			e.bar.State = enum.BarStateConfirmed
			confirmed = append(confirmed, e.bar.Snapshot())
			e.bar = nil
		}
		e.mu.Unlock()
	}
	// batch confirms always fire in (symbol, timeframe, interval) order,
	// never in map order
	sort.Slice(confirmed, func(i, j int) bool {
		a, b := confirmed[i], confirmed[j]
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		if a.Timeframe != b.Timeframe {
			return a.Timeframe.DurationMs() < b.Timeframe.DurationMs()
		}
		return a.IntervalStartMs < b.IntervalStartMs
	})
	for _, bar := range confirmed {
		m.fireConfirmed(bar)
	}
	return confirmed
}

// FormingBar returns a snapshot of the forming bar for key, if any.
func (m *Manager) FormingBar(key Key) (model.Bar, bool) {
	m.mu.RLock()
	e, ok := m.bars[key]
	m.mu.RUnlock()
	if !ok {
		return model.Bar{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.bar == nil {
		return model.Bar{}, false
	}
	return e.bar.Snapshot(), true
}

func (m *Manager) fireUpdate(bar model.Bar) {
	m.cbMu.RLock()
	callbacks := m.onUpdate
	m.cbMu.RUnlock()
	for _, fn := range callbacks {
		m.invoke("update", fn, bar)
	}
}

func (m *Manager) fireConfirmed(bar model.Bar) {
	m.cbMu.RLock()
	callbacks := m.onConfirmed
	persist := m.persist
	m.cbMu.RUnlock()
	if m.metrics != nil {
		m.metrics.IncBarConfirmed()
	}
	for _, fn := range callbacks {
		m.invoke("confirmed", fn, bar)
	}
	if persist != nil {
		m.invoke("persist", persist, bar)
	}
}

// invoke isolates callback failures from the state machine.
func (m *Manager) invoke(kind string, fn BarCallback, bar model.Bar) {
	defer func() {
		if r := recover(); r != nil {
			if m.metrics != nil {
				m.metrics.IncCallbackPanic()
			}
			logs.Errorf("lifecycle: %s callback panicked for %s/%s: %v",
				kind, bar.Symbol, bar.Timeframe, r)
		}
	}()
	fn(bar)
}
