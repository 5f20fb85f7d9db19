package parity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// SignedProof is a tamper-evident parity verdict bundle suitable for
// transport or storage.
type SignedProof struct {
	LiveHash     string `json:"live_hash"`
	ReplayHash   string `json:"replay_hash"`
	TimestampMs  int64  `json:"timestamp_ms"`
	MessageCount int64  `json:"message_count"`
	Signature    string `json:"signature"`
}

// SignProof HMAC-signs a (live_hash, replay_hash, timestamp, count)
// bundle with the given key.
func SignProof(key []byte, liveHash, replayHash string, tsMs, messageCount int64) SignedProof {
	proof := SignedProof{
		LiveHash:     liveHash,
		ReplayHash:   replayHash,
		TimestampMs:  tsMs,
		MessageCount: messageCount,
	}
	proof.Signature = sign(key, proof)
	return proof
}

// Verify recomputes the signature and compares in constant time.
func (p SignedProof) Verify(key []byte) bool {
	expected := sign(key, p)
	return hmac.Equal([]byte(expected), []byte(p.Signature))
}

func sign(key []byte, p SignedProof) string {
	mac := hmac.New(sha256.New, key)
	fmt.Fprintf(mac, "%s|%s|%d|%d", p.LiveHash, p.ReplayHash, p.TimestampMs, p.MessageCount)
	return hex.EncodeToString(mac.Sum(nil))
}
