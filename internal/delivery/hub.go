package delivery

import (
	"errors"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/obs"
)

var (
	ErrClientExists  = errors.New("delivery: client id already connected")
	ErrClientUnknown = errors.New("delivery: client is not connected")
	ErrNotSubscribed = errors.New("delivery: client is not subscribed to channel")
)

const defaultClientQueue = 128

// Sink consumes deliveries for one client. A slow sink only stalls its
// own client's send loop, never the broadcaster or other clients.
type Sink func(Delivery)

type client struct {
	id   string
	ch   chan Delivery
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.ch) })
}

// enqueue is non-blocking; the hub never holds a lock across I/O.
func (c *client) enqueue(d Delivery) bool {
	select {
	case c.ch <- d:
		return true
	default:
		return false
	}
}

// Hub tracks connected clients and per-channel subscriptions and fans
// confirmed bars out with per-channel sequence numbers and catch-up.
type Hub struct {
	buffer  *MessageBuffer
	metrics *obs.Metrics

	mu      sync.RWMutex
	clients map[string]*client
	subs    map[Channel]map[string]*client
}

// NewHub builds a hub over the given buffer.
func NewHub(buffer *MessageBuffer, metrics *obs.Metrics) *Hub {
	if buffer == nil {
		buffer = NewMessageBuffer(0)
	}
	return &Hub{
		buffer:  buffer,
		metrics: metrics,
		clients: make(map[string]*client),
		subs:    make(map[Channel]map[string]*client),
	}
}

// Buffer exposes the underlying message buffer.
func (h *Hub) Buffer() *MessageBuffer { return h.buffer }

// Connect registers a client and starts its send loop feeding sink.
func (h *Hub) Connect(id string, sink Sink) error {
	c := &client{id: id, ch: make(chan Delivery, defaultClientQueue)}

	h.mu.Lock()
	if _, exists := h.clients[id]; exists {
		h.mu.Unlock()
		return ErrClientExists
	}
	h.clients[id] = c
	h.mu.Unlock()

	go func() {
		for d := range c.ch {
			sink(d)
		}
	}()
	return nil
}

// Disconnect removes a client from every channel and stops its loop.
// Safe to call from any goroutine, including while a broadcast runs.
func (h *Hub) Disconnect(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
		for _, members := range h.subs {
			delete(members, id)
		}
	}
	h.mu.Unlock()
	if ok {
		c.close()
	}
}

// Subscribe registers interest in a channel. With catchup enabled,
// every currently buffered message for the channel is replayed to the
// client, tagged as catch-up and carrying its original sequence,
// before live delivery resumes. A fresh subscriber has no position to
// protect, so history already evicted from the ring is simply absent
// rather than an error.
func (h *Hub) Subscribe(id, symbol string, tf enum.Timeframe, catchup bool) error {
	ch := Channel{Symbol: symbol, Timeframe: tf}

	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[id]
	if !ok {
		return ErrClientUnknown
	}
	if catchup {
		h.deliverLocked(c, h.buffer.GetLatest(ch, h.buffer.maxSize), true)
	}
	members, ok := h.subs[ch]
	if !ok {
		members = make(map[string]*client)
		h.subs[ch] = members
	}
	members[id] = c
	return nil
}

// Unsubscribe removes interest in a channel.
func (h *Hub) Unsubscribe(id, symbol string, tf enum.Timeframe) {
	ch := Channel{Symbol: symbol, Timeframe: tf}
	h.mu.Lock()
	if members, ok := h.subs[ch]; ok {
		delete(members, id)
	}
	h.mu.Unlock()
}

// BroadcastBar assigns the bar's channel its next sequence number,
// stores it, and fans it out to currently subscribed clients. Returns
// the number of clients reached.
//
// Sequence assignment and fan-out happen under the hub lock, so a
// catch-up replay and a live delivery can never hand the same sequence
// to one client twice.
func (h *Hub) BroadcastBar(bar model.Bar, mode enum.DeliveryMode) int {
	ch := Channel{Symbol: bar.Symbol, Timeframe: bar.Timeframe}

	h.mu.Lock()
	defer h.mu.Unlock()
	msg := h.buffer.Add(ch, bar, mode)
	reached := 0
	for _, c := range h.subs[ch] {
		d := Delivery{
			Channel:       msg.Channel,
			Sequence:      msg.Sequence,
			Payload:       msg.Payload,
			Mode:          msg.Mode,
			DeliveredAtMs: time.Now().UnixMilli(),
		}
		if c.enqueue(d) {
			reached++
		} else {
			h.dropped(c.id, msg.Sequence)
		}
	}
	return reached
}

// RequestCatchup replays everything buffered after fromSeq to one
// client, e.g. after it detected a local gap. An evicted range
// surfaces as ErrGapEvicted; the gap is recoverable, never fatal.
func (h *Hub) RequestCatchup(id, symbol string, tf enum.Timeframe, fromSeq int64) error {
	ch := Channel{Symbol: symbol, Timeframe: tf}

	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[id]
	if !ok {
		return ErrClientUnknown
	}
	if _, subscribed := h.subs[ch][id]; !subscribed {
		return ErrNotSubscribed
	}
	buffered, err := h.buffer.GetSince(ch, fromSeq)
	if err != nil {
		return err
	}
	h.deliverLocked(c, buffered, true)
	return nil
}

func (h *Hub) deliverLocked(c *client, msgs []SequencedMessage, catchup bool) {
	now := time.Now().UnixMilli()
	for _, msg := range msgs {
		d := Delivery{
			Channel:       msg.Channel,
			Sequence:      msg.Sequence,
			Payload:       msg.Payload,
			Mode:          msg.Mode,
			DeliveredAtMs: now,
			Catchup:       catchup,
		}
		if !c.enqueue(d) {
			h.dropped(c.id, msg.Sequence)
		}
	}
}

func (h *Hub) dropped(id string, seq int64) {
	if h.metrics != nil {
		h.metrics.IncDeliveryDrop()
	}
	logs.Warnf("delivery: client %s queue full, dropped seq %d", id, seq)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
