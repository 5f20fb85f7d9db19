package recorder

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"main/internal/model"
)

func testTick(tsMs int64, price float64) model.CanonicalTick {
	return model.CanonicalTick{
		Source:      "binance",
		Symbol:      "BTCUSDT",
		TimestampMs: tsMs,
		Price:       price,
		Size:        0.5,
	}
}

func TestWriterReaderRoundtrip(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(DefaultConfig(dir))
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ticks := make([]model.CanonicalTick, 100)
	for i := range ticks {
		ticks[i] = testTick(60_000+int64(i)*100, 100+float64(i)*0.25)
		if err := w.TryAppend(ticks[i]); err != nil {
			t.Fatalf("TryAppend %d failed: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	got, err := LoadTicks(dir, "")
	if err != nil {
		t.Fatalf("LoadTicks failed: %v", err)
	}
	if len(got) != len(ticks) {
		t.Fatalf("loaded %d ticks, want %d", len(got), len(ticks))
	}
	for i := range ticks {
		if got[i] != ticks[i] {
			t.Fatalf("tick %d = %+v, want %+v", i, got[i], ticks[i])
		}
	}
}

func TestWriterLifecycleErrors(t *testing.T) {
	w, err := NewWriter(DefaultConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if err := w.TryAppend(testTick(60_000, 100)); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("append before start: err = %v, want ErrNotStarted", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := w.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second start: err = %v, want ErrAlreadyStarted", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := w.TryAppend(testTick(60_000, 100)); !errors.Is(err, ErrClosed) {
		t.Fatalf("append after close: err = %v, want ErrClosed", err)
	}
}

func TestEncodeRejectsLongNames(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'A'
	}
	tick := testTick(60_000, 100)
	tick.Symbol = string(long)
	if _, err := encodeTick(nil, tick); !errors.Is(err, ErrNameTooLong) {
		t.Fatalf("err = %v, want ErrNameTooLong", err)
	}
}

func TestReaderDetectsCorruption(t *testing.T) {
	encoded, err := encodeTick(nil, testTick(60_000, 100))
	if err != nil {
		t.Fatalf("encodeTick failed: %v", err)
	}

	corrupted := make([]byte, len(encoded))
	copy(corrupted, encoded)
	corrupted[20] ^= 0xFF // flip a price byte

	r := NewReader(bytes.NewReader(corrupted), false)
	if _, err := r.Next(); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("err = %v, want ErrChecksumMismatch", err)
	}

	// checksum validation can be bypassed for salvage reads
	r = NewReader(bytes.NewReader(corrupted), true)
	if _, err := r.Next(); err != nil {
		t.Fatalf("salvage read failed: %v", err)
	}
}

func TestReaderInvalidMagic(t *testing.T) {
	encoded, err := encodeTick(nil, testTick(60_000, 100))
	if err != nil {
		t.Fatalf("encodeTick failed: %v", err)
	}
	encoded[0] = 'X'
	r := NewReader(bytes.NewReader(encoded), true)
	if _, err := r.Next(); !errors.Is(err, ErrInvalidMagic) {
		t.Fatalf("err = %v, want ErrInvalidMagic", err)
	}
}

func TestReaderCleanEOF(t *testing.T) {
	var buf bytes.Buffer
	encoded, err := encodeTick(nil, testTick(60_000, 100))
	if err != nil {
		t.Fatalf("encodeTick failed: %v", err)
	}
	buf.Write(encoded)

	r := NewReader(&buf, false)
	if _, err := r.Next(); err != nil {
		t.Fatalf("first read failed: %v", err)
	}
	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}
