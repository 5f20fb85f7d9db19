package obs

import (
	"math"
	"sync/atomic"
	"time"
)

// Metrics collects lightweight counters and latency stats for the
// data plane. All methods are safe for concurrent use.
type Metrics struct {
	ticks          uint64
	ticksRejected  uint64
	barsConfirmed  uint64
	callbackPanics uint64
	deliveryDrops  uint64
	retryFailures  uint64
	queueDrops     uint64

	tickLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metric values.
type Snapshot struct {
	Ticks          uint64
	TicksRejected  uint64
	BarsConfirmed  uint64
	CallbackPanics uint64
	DeliveryDrops  uint64
	RetryFailures  uint64
	QueueDrops     uint64
	TickLatency    LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveTick counts one processed tick and its fold latency.
func (m *Metrics) ObserveTick(d time.Duration) {
	atomic.AddUint64(&m.ticks, 1)
	m.tickLatency.observe(d)
}

func (m *Metrics) IncTickRejected()  { atomic.AddUint64(&m.ticksRejected, 1) }
func (m *Metrics) IncBarConfirmed()  { atomic.AddUint64(&m.barsConfirmed, 1) }
func (m *Metrics) IncCallbackPanic() { atomic.AddUint64(&m.callbackPanics, 1) }
func (m *Metrics) IncDeliveryDrop()  { atomic.AddUint64(&m.deliveryDrops, 1) }
func (m *Metrics) IncRetryFailure()  { atomic.AddUint64(&m.retryFailures, 1) }
func (m *Metrics) IncQueueDrop()     { atomic.AddUint64(&m.queueDrops, 1) }

// Snapshot returns a consistent-enough view for logging.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Ticks:          atomic.LoadUint64(&m.ticks),
		TicksRejected:  atomic.LoadUint64(&m.ticksRejected),
		BarsConfirmed:  atomic.LoadUint64(&m.barsConfirmed),
		CallbackPanics: atomic.LoadUint64(&m.callbackPanics),
		DeliveryDrops:  atomic.LoadUint64(&m.deliveryDrops),
		RetryFailures:  atomic.LoadUint64(&m.retryFailures),
		QueueDrops:     atomic.LoadUint64(&m.queueDrops),
		TickLatency:    m.tickLatency.snapshot(),
	}
}

func (s *LatencyStats) observe(d time.Duration) {
	ns := uint64(d.Nanoseconds())
	atomic.AddUint64(&s.count, 1)
	atomic.AddUint64(&s.sum, ns)
	for {
		cur := atomic.LoadUint64(&s.min)
		if cur != 0 && cur <= ns {
			break
		}
		if atomic.CompareAndSwapUint64(&s.min, cur, ns) {
			break
		}
	}
	for {
		cur := atomic.LoadUint64(&s.max)
		if cur >= ns {
			break
		}
		if atomic.CompareAndSwapUint64(&s.max, cur, ns) {
			break
		}
	}
}

func (s *LatencyStats) snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&s.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&s.sum)
	minNs := atomic.LoadUint64(&s.min)
	maxNs := atomic.LoadUint64(&s.max)
	avg := uint64(math.Round(float64(sum) / float64(count)))
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(minNs),
		Max:   time.Duration(maxNs),
		Avg:   time.Duration(avg),
	}
}
