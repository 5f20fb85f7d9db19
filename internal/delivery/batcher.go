package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/logs"
)

// Batcher accumulates messages and flushes on whichever comes first:
// a maximum batch size or a maximum delay. Stopping performs one final
// flush.
type Batcher struct {
	maxSize  int
	maxDelay time.Duration
	flush    func([]SequencedMessage)

	mu  sync.Mutex
	buf []SequencedMessage

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewBatcher builds a batcher flushing through fn.
func NewBatcher(maxSize int, maxDelay time.Duration, fn func([]SequencedMessage)) *Batcher {
	if maxSize <= 0 {
		maxSize = 16
	}
	if maxDelay <= 0 {
		maxDelay = 100 * time.Millisecond
	}
	return &Batcher{maxSize: maxSize, maxDelay: maxDelay, flush: fn}
}

// Start launches the periodic background flush.
func (b *Batcher) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		ctx, b.cancel = context.WithCancel(ctx)
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			ticker := time.NewTicker(b.maxDelay)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					b.Flush()
				}
			}
		}()
	})
}

// Add appends one message, flushing immediately at the size limit.
func (b *Batcher) Add(msg SequencedMessage) {
	b.mu.Lock()
	b.buf = append(b.buf, msg)
	full := len(b.buf) >= b.maxSize
	var batch []SequencedMessage
	if full {
		batch = b.buf
		b.buf = nil
	}
	b.mu.Unlock()
	if full {
		b.emit(batch)
	}
}

// Flush pushes out whatever has accumulated.
func (b *Batcher) Flush() {
	b.mu.Lock()
	batch := b.buf
	b.buf = nil
	b.mu.Unlock()
	if len(batch) > 0 {
		b.emit(batch)
	}
}

// Stop cancels the background loop and performs one final flush.
func (b *Batcher) Stop() {
	b.stopOnce.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}
		b.wg.Wait()
		b.Flush()
	})
}

func (b *Batcher) emit(batch []SequencedMessage) {
	defer func() {
		if r := recover(); r != nil {
			logs.Errorf("delivery: batch flush panicked: %v", r)
		}
	}()
	b.flush(batch)
}
