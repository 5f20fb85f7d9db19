package bus

import (
	"context"
	"errors"
	"sync/atomic"

	"main/internal/model"
)

var (
	ErrQueueFull   = errors.New("tick queue full")
	ErrQueueClosed = errors.New("tick queue closed")
)

// TickQueue is a bounded, non-blocking queue decoupling tick feeds
// from the lifecycle manager.
type TickQueue struct {
	ch     chan model.CanonicalTick
	closed uint32
}

// NewTickQueue allocates a queue with the given capacity.
func NewTickQueue(capacity int) *TickQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &TickQueue{ch: make(chan model.CanonicalTick, capacity)}
}

// TryPublish enqueues a tick without blocking.
func (q *TickQueue) TryPublish(tick model.CanonicalTick) error {
	if atomic.LoadUint32(&q.closed) != 0 {
		return ErrQueueClosed
	}
	select {
	case q.ch <- tick:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the queue from accepting new ticks.
func (q *TickQueue) Close() {
	if atomic.CompareAndSwapUint32(&q.closed, 0, 1) {
		close(q.ch)
	}
}

// Run consumes ticks until the context is done or the queue is closed.
func (q *TickQueue) Run(ctx context.Context, handler func(model.CanonicalTick)) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-q.ch:
			if !ok {
				return
			}
			handler(tick)
		}
	}
}
