package parity

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"main/internal/model"
)

// BarHasher hashes bars over a fixed canonical field order — symbol,
// timeframe, interval start, O/H/L/C, volume — so internal bookkeeping
// fields never influence the result.
type BarHasher struct {
	norm *Normalizer
}

// NewBarHasher builds a bar hasher with the given float precision.
func NewBarHasher(precision int) *BarHasher {
	return &BarHasher{norm: NewNormalizer(precision)}
}

// Encode renders the canonical byte form of a bar.
func (h *BarHasher) Encode(bar model.Bar) []byte {
	var sb strings.Builder
	sb.WriteString(bar.Symbol)
	sb.WriteByte('|')
	sb.WriteString(bar.Timeframe.String())
	sb.WriteByte('|')
	sb.WriteString(strconv.FormatInt(bar.IntervalStartMs, 10))
	sb.WriteByte('|')
	sb.WriteString(h.norm.FormatFloat(bar.Open))
	sb.WriteByte('|')
	sb.WriteString(h.norm.FormatFloat(bar.High))
	sb.WriteByte('|')
	sb.WriteString(h.norm.FormatFloat(bar.Low))
	sb.WriteByte('|')
	sb.WriteString(h.norm.FormatFloat(bar.Close))
	sb.WriteByte('|')
	sb.WriteString(h.norm.FormatFloat(bar.Volume))
	return []byte(sb.String())
}

// HashBar returns the canonical digest of a single bar.
func (h *BarHasher) HashBar(bar model.Bar) string {
	sum := sha256.Sum256(h.Encode(bar))
	return hex.EncodeToString(sum[:])
}

// HashBatch folds a whole bar stream into one digest.
func (h *BarHasher) HashBatch(bars []model.Bar) string {
	digest := sha256.New()
	for _, bar := range bars {
		digest.Write(h.Encode(bar))
		digest.Write([]byte{'\n'})
	}
	return hex.EncodeToString(digest.Sum(nil))
}

// Equal reports whether two bars hash identically.
func (h *BarHasher) Equal(a, b model.Bar) bool {
	return h.HashBar(a) == h.HashBar(b)
}
