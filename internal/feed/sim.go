package feed

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"main/internal/model"
)

var ErrNoSymbols = errors.New("simulator has no symbols")

// Simulator generates deterministic synthetic ticks: a seeded random
// walk per symbol at a fixed cadence. The same seed always produces
// the same tick stream, which makes recorded runs reproducible.
type Simulator struct {
	symbols   []string
	rng       *rand.Rand
	prices    []float64
	basePrice float64
	baseSize  float64
	step      float64
	cadence   time.Duration
	index     int
}

// NewSimulator creates a simulator over the given symbols.
func NewSimulator(symbols []string, seed int64, basePrice, baseSize, step float64, cadence time.Duration) (*Simulator, error) {
	if len(symbols) == 0 {
		return nil, ErrNoSymbols
	}
	if basePrice <= 0 {
		basePrice = 100
	}
	if baseSize <= 0 {
		baseSize = 1
	}
	if step <= 0 {
		step = 0.05
	}
	if cadence <= 0 {
		cadence = 100 * time.Millisecond
	}
	prices := make([]float64, len(symbols))
	for i := range prices {
		prices[i] = basePrice
	}
	return &Simulator{
		symbols:   symbols,
		rng:       rand.New(rand.NewSource(seed)),
		prices:    prices,
		basePrice: basePrice,
		baseSize:  baseSize,
		step:      step,
		cadence:   cadence,
	}, nil
}

// Next creates the next tick in sequence, rotating through symbols.
func (s *Simulator) Next(nowMs int64) model.CanonicalTick {
	i := s.index
	s.index = (s.index + 1) % len(s.symbols)

	walk := (s.rng.Float64()*2 - 1) * s.step
	price := s.prices[i] + walk
	if price < s.step {
		price = s.step
	}
	s.prices[i] = price

	size := s.baseSize * (0.5 + s.rng.Float64())
	return model.CanonicalTick{
		Source:      "sim",
		Symbol:      s.symbols[i],
		TimestampMs: nowMs,
		Price:       math.Round(price*100) / 100,
		Size:        math.Round(size*1000) / 1000,
	}
}

// Run emits ticks at the configured cadence until ctx is cancelled.
// Emit returning false stops the run early.
func (s *Simulator) Run(ctx context.Context, emit func(model.CanonicalTick) bool) {
	ticker := time.NewTicker(s.cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !emit(s.Next(now.UnixMilli())) {
				return
			}
		}
	}
}
