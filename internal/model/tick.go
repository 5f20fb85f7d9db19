package model

import (
	"errors"
	"math"
)

var (
	ErrTickEmptySymbol  = errors.New("tick symbol is empty")
	ErrTickBadTimestamp = errors.New("tick timestamp must be > 0")
	ErrTickBadPrice     = errors.New("tick price must be finite and > 0")
	ErrTickBadSize      = errors.New("tick size must be finite and >= 0")
)

// CanonicalTick is a single normalized trade print.
// Immutable once created; replayed verbatim from stored history.
type CanonicalTick struct {
	Source      string  `json:"source"`
	Symbol      string  `json:"symbol"`
	TimestampMs int64   `json:"timestamp_ms"`
	Price       float64 `json:"price"`
	Size        float64 `json:"size"`
}

// Validate rejects malformed ticks before they can reach a forming bar.
func (t CanonicalTick) Validate() error {
	if t.Symbol == "" {
		return ErrTickEmptySymbol
	}
	if t.TimestampMs <= 0 {
		return ErrTickBadTimestamp
	}
	if math.IsNaN(t.Price) || math.IsInf(t.Price, 0) || t.Price <= 0 {
		return ErrTickBadPrice
	}
	if math.IsNaN(t.Size) || math.IsInf(t.Size, 0) || t.Size < 0 {
		return ErrTickBadSize
	}
	return nil
}
