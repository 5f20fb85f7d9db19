package parity

import (
	"bytes"
	"fmt"
	"sync"
)

// Result is the outcome of comparing the live and replay streams.
// A mismatch is reported as data, never as an error.
type Result struct {
	Match           bool   `json:"match"`
	LiveHash        string `json:"live_hash"`
	ReplayHash      string `json:"replay_hash"`
	DivergencePoint *int   `json:"divergence_point"`
	Details         string `json:"details"`
}

// TrackerOptions configures a Tracker.
type TrackerOptions struct {
	Hasher HasherOptions
	// StoreMessages keeps normalized payloads so Verify can report the
	// first divergent index instead of just a digest mismatch.
	StoreMessages bool
}

// Tracker owns one StreamHasher per side and proves or disproves that
// two independently executed pipelines agree bit-for-bit.
type Tracker struct {
	mu     sync.Mutex
	live   *StreamHasher
	replay *StreamHasher

	storeMessages bool
	storedLive    [][]byte
	storedReplay  [][]byte
}

// NewTracker builds a tracker with twin hashers.
func NewTracker(opts TrackerOptions) (*Tracker, error) {
	live, err := NewStreamHasher(opts.Hasher)
	if err != nil {
		return nil, err
	}
	replay, err := NewStreamHasher(opts.Hasher)
	if err != nil {
		return nil, err
	}
	return &Tracker{
		live:          live,
		replay:        replay,
		storeMessages: opts.StoreMessages,
	}, nil
}

// AddLive feeds one message into the live-side hasher.
func (t *Tracker) AddLive(msg any, tsMs int64) error {
	payload, err := t.live.Add(msg, tsMs)
	if err != nil {
		return err
	}
	if t.storeMessages {
		t.mu.Lock()
		t.storedLive = append(t.storedLive, payload)
		t.mu.Unlock()
	}
	return nil
}

// AddReplay feeds one message into the replay-side hasher.
func (t *Tracker) AddReplay(msg any, tsMs int64) error {
	payload, err := t.replay.Add(msg, tsMs)
	if err != nil {
		return err
	}
	if t.storeMessages {
		t.mu.Lock()
		t.storedReplay = append(t.storedReplay, payload)
		t.mu.Unlock()
	}
	return nil
}

// Live returns the live-side hasher.
func (t *Tracker) Live() *StreamHasher { return t.live }

// Replay returns the replay-side hasher.
func (t *Tracker) Replay() *StreamHasher { return t.replay }

// Verify compares the two digests. When message storage is enabled it
// also locates the first divergent index; when only the stream lengths
// differ the divergence point stays nil.
func (t *Tracker) Verify() Result {
	liveHash := t.live.Digest()
	replayHash := t.replay.Digest()
	result := Result{
		Match:      liveHash == replayHash,
		LiveHash:   liveHash,
		ReplayHash: replayHash,
	}
	if result.Match {
		result.Details = fmt.Sprintf("streams match over %d messages", t.live.Count())
		return result
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.storeMessages {
		result.Details = "digest mismatch; enable message storage to locate divergence"
		return result
	}
	limit := len(t.storedLive)
	if len(t.storedReplay) < limit {
		limit = len(t.storedReplay)
	}
	for i := 0; i < limit; i++ {
		if !bytes.Equal(t.storedLive[i], t.storedReplay[i]) {
			idx := i
			result.DivergencePoint = &idx
			result.Details = fmt.Sprintf("first divergence at message %d", i)
			return result
		}
	}
	result.Details = fmt.Sprintf("stream length mismatch: live=%d replay=%d",
		len(t.storedLive), len(t.storedReplay))
	return result
}
