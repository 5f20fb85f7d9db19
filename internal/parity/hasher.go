package parity

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"hash"
	"sync"
)

const DefaultChunkSize = 100

var ErrUnknownAlgorithm = errors.New("parity: unknown hash algorithm")

// HashCheckpoint is an intermediate digest emitted every chunk of
// messages so long streams can be verified incrementally.
// Immutable once emitted.
type HashCheckpoint struct {
	Sequence     int64  `json:"sequence"`
	HashValue    string `json:"hash_value"`
	TimestampMs  int64  `json:"timestamp_ms"`
	MessageCount int64  `json:"message_count"`
}

// HasherOptions configures a StreamHasher.
type HasherOptions struct {
	// Algorithm selects the digest: "sha256" (default) or "sha512".
	Algorithm string
	// ChunkSize is the checkpoint emission interval in messages.
	ChunkSize int
	// Precision is the normalizer float precision.
	Precision int
	// FoldTimestamp folds the message timestamp ahead of the payload
	// so reordering becomes detectable.
	FoldTimestamp bool
}

// StreamHasher maintains an incremental rolling digest over normalized
// messages.
type StreamHasher struct {
	mu          sync.Mutex
	algo        string
	h           hash.Hash
	norm        *Normalizer
	chunkSize   int
	foldTS      bool
	count       int64
	checkpoints []HashCheckpoint
}

// NewStreamHasher validates the options and builds a hasher.
func NewStreamHasher(opts HasherOptions) (*StreamHasher, error) {
	h, err := newDigest(opts.Algorithm)
	if err != nil {
		return nil, err
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	return &StreamHasher{
		algo:      opts.Algorithm,
		h:         h,
		norm:      NewNormalizer(opts.Precision),
		chunkSize: opts.ChunkSize,
		foldTS:    opts.FoldTimestamp,
	}, nil
}

// Add folds one message into the digest and returns its normalized
// payload bytes.
func (s *StreamHasher) Add(msg any, tsMs int64) ([]byte, error) {
	payload, err := s.norm.Normalize(msg)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.foldTS {
		var tsBuf [8]byte
		binary.BigEndian.PutUint64(tsBuf[:], uint64(tsMs))
		s.h.Write(tsBuf[:])
	}
	s.h.Write(payload)
	s.count++
	if s.count%int64(s.chunkSize) == 0 {
		s.checkpoints = append(s.checkpoints, HashCheckpoint{
			Sequence:     int64(len(s.checkpoints) + 1),
			HashValue:    hexDigest(s.h),
			TimestampMs:  tsMs,
			MessageCount: s.count,
		})
	}
	return payload, nil
}

// Count returns the number of messages folded so far.
func (s *StreamHasher) Count() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Digest returns the current digest without disturbing the stream.
func (s *StreamHasher) Digest() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return hexDigest(s.h)
}

// Checkpoints returns a copy of the emitted checkpoints.
func (s *StreamHasher) Checkpoints() []HashCheckpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HashCheckpoint, len(s.checkpoints))
	copy(out, s.checkpoints)
	return out
}

// Normalizer exposes the hasher's normalizer for payload storage.
func (s *StreamHasher) Normalizer() *Normalizer { return s.norm }

func newDigest(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case "", "sha256":
		return sha256.New(), nil
	case "sha512":
		return sha512.New(), nil
	default:
		return nil, ErrUnknownAlgorithm
	}
}

// hexDigest reads the running digest. Sum operates on a copy of the
// internal state, so the stream keeps rolling afterwards.
func hexDigest(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}
