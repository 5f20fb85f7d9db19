package delivery

import (
	"errors"
	"sync"
	"time"

	"main/internal/model"
	"main/internal/model/enum"
)

var (
	// ErrGapEvicted reports that the requested sequence range has
	// already been evicted from the ring: the gap cannot be satisfied
	// and is surfaced to the client instead of silently truncated.
	ErrGapEvicted = errors.New("delivery: requested range evicted from buffer")
)

const DefaultBufferSize = 256

// MessageBuffer keeps a bounded per-channel ring of recent messages
// and owns sequence assignment. Each channel's ring is mutated under
// its own lock so sequence assignment is race-free and cross-channel
// operations never block each other.
type MessageBuffer struct {
	maxSize int

	mu    sync.RWMutex
	rings map[Channel]*ring
}

type ring struct {
	mu      sync.Mutex
	entries []SequencedMessage
	seq     int64
}

// NewMessageBuffer builds a buffer holding up to maxSize messages per
// channel.
func NewMessageBuffer(maxSize int) *MessageBuffer {
	if maxSize <= 0 {
		maxSize = DefaultBufferSize
	}
	return &MessageBuffer{
		maxSize: maxSize,
		rings:   make(map[Channel]*ring),
	}
}

// Add assigns the next sequence number for the channel, stores the
// message, and returns it. The oldest entry is evicted when full.
func (b *MessageBuffer) Add(ch Channel, bar model.Bar, mode enum.DeliveryMode) SequencedMessage {
	r := b.ringFor(ch)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	msg := SequencedMessage{
		Channel:      ch,
		Sequence:     r.seq,
		Payload:      bar,
		Mode:         mode,
		EnqueuedAtMs: time.Now().UnixMilli(),
	}
	if len(r.entries) >= b.maxSize {
		r.entries = r.entries[1:]
	}
	r.entries = append(r.entries, msg)
	return msg
}

// GetSince returns all buffered messages with sequence > seq in order.
// It fails with ErrGapEvicted when messages after seq have already
// been evicted, so the caller can detect an unsatisfiable gap.
func (b *MessageBuffer) GetSince(ch Channel, seq int64) ([]SequencedMessage, error) {
	r := b.ringFor(ch)
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) > 0 && seq < r.entries[0].Sequence-1 {
		return nil, ErrGapEvicted
	}
	var out []SequencedMessage
	for _, msg := range r.entries {
		if msg.Sequence > seq {
			out = append(out, msg)
		}
	}
	return out, nil
}

// GetLatest returns up to n most recent messages in order.
func (b *MessageBuffer) GetLatest(ch Channel, n int) []SequencedMessage {
	r := b.ringFor(ch)
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || len(r.entries) == 0 {
		return nil
	}
	start := len(r.entries) - n
	if start < 0 {
		start = 0
	}
	out := make([]SequencedMessage, len(r.entries)-start)
	copy(out, r.entries[start:])
	return out
}

// CurrentSequence returns the last assigned sequence for the channel,
// or 0 when nothing has been published.
func (b *MessageBuffer) CurrentSequence(ch Channel) int64 {
	r := b.ringFor(ch)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

func (b *MessageBuffer) ringFor(ch Channel) *ring {
	b.mu.RLock()
	r, ok := b.rings[ch]
	b.mu.RUnlock()
	if ok {
		return r
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok = b.rings[ch]; ok {
		return r
	}
	r = &ring{}
	b.rings[ch] = r
	return r
}
