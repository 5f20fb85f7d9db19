package parity

import (
	"encoding/json"
	"os"

	"github.com/yanun0323/errors"
)

// Digest is the persisted proof artifact a live run leaves behind so
// an independent replay can verify against it.
type Digest struct {
	Algorithm    string           `json:"algorithm"`
	Precision    int              `json:"precision"`
	BatchHash    string           `json:"batch_hash"`
	StreamHash   string           `json:"stream_hash"`
	MessageCount int64            `json:"message_count"`
	Checkpoints  []HashCheckpoint `json:"checkpoints"`
}

// SaveDigest writes the digest file.
func SaveDigest(path string, d Digest) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal digest")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "write digest file")
	}
	return nil
}

// LoadDigest reads a digest file back.
func LoadDigest(path string) (Digest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Digest{}, errors.Wrap(err, "read digest file")
	}
	var d Digest
	if err := json.Unmarshal(data, &d); err != nil {
		return Digest{}, errors.Wrap(err, "unmarshal digest")
	}
	return d, nil
}
