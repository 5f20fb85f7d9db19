package delivery

import (
	"container/heap"
	"sync"

	"github.com/yanun0323/logs"
)

const defaultMaxPending = 64

// OrderedDelivery is a generic reorder stage usable upstream of
// broadcast. Per channel it tracks the next expected sequence:
// in-order messages deliver immediately, stale or duplicate messages
// are dropped, and future messages wait in a bounded min-heap until
// the gap closes.
type OrderedDelivery struct {
	sink       func(SequencedMessage)
	maxPending int

	mu       sync.Mutex
	channels map[Channel]*orderedChannel
}

type orderedChannel struct {
	mu       sync.Mutex
	expected int64
	pending  seqHeap
}

// NewOrderedDelivery builds a reorder stage in front of sink.
func NewOrderedDelivery(sink func(SequencedMessage), maxPending int) *OrderedDelivery {
	if maxPending <= 0 {
		maxPending = defaultMaxPending
	}
	return &OrderedDelivery{
		sink:       sink,
		maxPending: maxPending,
		channels:   make(map[Channel]*orderedChannel),
	}
}

// Submit feeds one message through the reorder stage. Returns true if
// the message was delivered or buffered, false if dropped as stale.
func (o *OrderedDelivery) Submit(msg SequencedMessage) bool {
	oc := o.channelFor(msg.Channel)
	oc.mu.Lock()
	defer oc.mu.Unlock()

	if msg.Sequence < oc.expected {
		return false
	}
	if msg.Sequence == oc.expected {
		o.deliver(msg)
		oc.expected++
		o.drainLocked(oc)
		return true
	}
	// future message: buffer until the gap closes. When the heap is
	// full the smallest buffered message is force-delivered and the
	// expected counter fast-forwards past it.
	heap.Push(&oc.pending, msg)
	if oc.pending.Len() > o.maxPending {
		next := heap.Pop(&oc.pending).(SequencedMessage)
		o.deliver(next)
		oc.expected = next.Sequence + 1
		o.drainLocked(oc)
	}
	return true
}

// ForceFlush delivers everything buffered for a channel regardless of
// remaining gaps and fast-forwards the expected counter.
func (o *OrderedDelivery) ForceFlush(ch Channel) {
	oc := o.channelFor(ch)
	oc.mu.Lock()
	defer oc.mu.Unlock()
	for oc.pending.Len() > 0 {
		msg := heap.Pop(&oc.pending).(SequencedMessage)
		o.deliver(msg)
		if msg.Sequence >= oc.expected {
			oc.expected = msg.Sequence + 1
		}
	}
}

// Expected returns the next expected sequence for a channel.
func (o *OrderedDelivery) Expected(ch Channel) int64 {
	oc := o.channelFor(ch)
	oc.mu.Lock()
	defer oc.mu.Unlock()
	return oc.expected
}

// PendingCount returns the number of buffered future messages.
func (o *OrderedDelivery) PendingCount(ch Channel) int {
	oc := o.channelFor(ch)
	oc.mu.Lock()
	defer oc.mu.Unlock()
	return oc.pending.Len()
}

func (o *OrderedDelivery) drainLocked(oc *orderedChannel) {
	for oc.pending.Len() > 0 {
		next := oc.pending[0]
		if next.Sequence < oc.expected {
			heap.Pop(&oc.pending)
			continue
		}
		if next.Sequence != oc.expected {
			return
		}
		heap.Pop(&oc.pending)
		o.deliver(next)
		oc.expected++
	}
}

// deliver isolates sink failures so the tracker state stays intact.
func (o *OrderedDelivery) deliver(msg SequencedMessage) {
	defer func() {
		if r := recover(); r != nil {
			logs.Errorf("delivery: ordered sink panicked on %s seq %d: %v",
				msg.Channel, msg.Sequence, r)
		}
	}()
	o.sink(msg)
}

func (o *OrderedDelivery) channelFor(ch Channel) *orderedChannel {
	o.mu.Lock()
	defer o.mu.Unlock()
	oc, ok := o.channels[ch]
	if !ok {
		oc = &orderedChannel{expected: 1}
		o.channels[ch] = oc
	}
	return oc
}

type seqHeap []SequencedMessage

func (h seqHeap) Len() int           { return len(h) }
func (h seqHeap) Less(i, j int) bool { return h[i].Sequence < h[j].Sequence }
func (h seqHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *seqHeap) Push(x any)        { *h = append(*h, x.(SequencedMessage)) }
func (h *seqHeap) Pop() any {
	old := *h
	n := len(old)
	msg := old[n-1]
	*h = old[:n-1]
	return msg
}
