package delivery

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/obs"
)

var ErrDeliveryFailed = errors.New("delivery: retries exhausted, message dropped")

// GuaranteeConfig bounds the at-least-once retry policy.
type GuaranteeConfig struct {
	MaxRetries     int
	AttemptTimeout time.Duration
	RetryDelay     time.Duration
}

func (c GuaranteeConfig) withDefaults() GuaranteeConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = time.Second
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	return c
}

// Guarantee delivers messages at-least-once with a bounded retry
// count, a per-attempt timeout, and a fixed inter-attempt delay.
// Success is the sink returning true within the timeout; exhausting
// retries counts the message as permanently failed and drops it.
type Guarantee struct {
	cfg     GuaranteeConfig
	metrics *obs.Metrics

	delivered uint64
	failed    uint64
}

// NewGuarantee builds a guaranteed-delivery wrapper.
func NewGuarantee(cfg GuaranteeConfig, metrics *obs.Metrics) *Guarantee {
	return &Guarantee{cfg: cfg.withDefaults(), metrics: metrics}
}

// Deliver pushes one message through sink under the retry policy.
func (g *Guarantee) Deliver(ctx context.Context, msg SequencedMessage, sink func(SequencedMessage) (bool, error)) error {
	for attempt := 1; attempt <= g.cfg.MaxRetries; attempt++ {
		ok, err := g.attempt(ctx, msg, sink)
		if ok {
			atomic.AddUint64(&g.delivered, 1)
			return nil
		}
		if err != nil {
			logs.Warnf("delivery: attempt %d/%d for %s seq %d failed: %v",
				attempt, g.cfg.MaxRetries, msg.Channel, msg.Sequence, err)
		}
		if ctx.Err() != nil {
			break
		}
		if attempt < g.cfg.MaxRetries && g.cfg.RetryDelay > 0 {
			timer := time.NewTimer(g.cfg.RetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
	}
	atomic.AddUint64(&g.failed, 1)
	if g.metrics != nil {
		g.metrics.IncRetryFailure()
	}
	return ErrDeliveryFailed
}

func (g *Guarantee) attempt(ctx context.Context, msg SequencedMessage, sink func(SequencedMessage) (bool, error)) (bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.AttemptTimeout)
	defer cancel()

	type outcome struct {
		ok  bool
		err error
	}
	result := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- outcome{err: errors.New("sink panicked")}
			}
		}()
		ok, err := sink(msg)
		result <- outcome{ok: ok, err: err}
	}()

	select {
	case <-attemptCtx.Done():
		return false, attemptCtx.Err()
	case out := <-result:
		return out.ok && out.err == nil, out.err
	}
}

// Stats returns delivered/failed counters.
func (g *Guarantee) Stats() (delivered, failed uint64) {
	return atomic.LoadUint64(&g.delivered), atomic.LoadUint64(&g.failed)
}
