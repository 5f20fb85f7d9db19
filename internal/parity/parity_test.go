package parity

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/model"
	"main/internal/model/enum"
)

func testBar(symbol string, start int64, o, h, l, c, v float64) model.Bar {
	return model.Bar{
		Symbol:          symbol,
		Timeframe:       enum.Timeframe1m,
		IntervalStartMs: start,
		IntervalEndMs:   start + 60_000,
		Open:            o,
		High:            h,
		Low:             l,
		Close:           c,
		Volume:          v,
		TickCount:       1,
		State:           enum.BarStateConfirmed,
	}
}

func TestNormalizerMapKeyOrderIndependence(t *testing.T) {
	n := NewNormalizer(0)

	a := map[string]any{"open": 1.5, "close": 2.5, "symbol": "BTC"}
	b := map[string]any{"symbol": "BTC", "close": 2.5, "open": 1.5}

	pa, err := n.Normalize(a)
	require.NoError(t, err)
	pb, err := n.Normalize(b)
	require.NoError(t, err)
	assert.Equal(t, pa, pb)
	assert.Equal(t, `{close=2.500000;open=1.500000;symbol="BTC"}`, string(pa))
}

func TestNormalizerFloatRounding(t *testing.T) {
	n := NewNormalizer(6)

	// values equal up to precision normalize identically
	pa, err := n.Normalize(0.1 + 0.2)
	require.NoError(t, err)
	pb, err := n.Normalize(0.3)
	require.NoError(t, err)
	assert.Equal(t, string(pb), string(pa))

	// values differing past precision diverge
	pc, err := n.Normalize(0.3000004)
	require.NoError(t, err)
	pd, err := n.Normalize(0.3000006)
	require.NoError(t, err)
	assert.NotEqual(t, string(pc), string(pd))
}

func TestNormalizerExcludesPrivateFields(t *testing.T) {
	n := NewNormalizer(0)

	payload, err := n.Normalize(map[string]any{
		"price":     10.0,
		"_internal": "skip me",
	})
	require.NoError(t, err)
	assert.Equal(t, `{price=10.000000}`, string(payload))

	type record struct {
		Price   float64 `json:"price"`
		Scratch int     `json:"_scratch"`
		Skipped string  `json:"-"`
		hidden  bool
	}
	_ = record{hidden: true}
	payload, err = n.Normalize(record{Price: 10})
	require.NoError(t, err)
	assert.Equal(t, `{price=10.000000}`, string(payload))
}

func TestNormalizerRejectsUnsupported(t *testing.T) {
	n := NewNormalizer(0)
	_, err := n.Normalize(map[string]any{"fn": func() {}})
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestStreamHasherDeterminism(t *testing.T) {
	mk := func() *StreamHasher {
		h, err := NewStreamHasher(HasherOptions{ChunkSize: 2, FoldTimestamp: true})
		require.NoError(t, err)
		return h
	}
	a, b := mk(), mk()

	bars := []model.Bar{
		testBar("BTCUSDT", 60_000, 100, 105, 95, 101, 10),
		testBar("BTCUSDT", 120_000, 101, 110, 100, 108, 12),
		testBar("BTCUSDT", 180_000, 108, 109, 104, 105, 7),
	}
	for _, bar := range bars {
		_, err := a.Add(bar, bar.IntervalEndMs)
		require.NoError(t, err)
		_, err = b.Add(bar, bar.IntervalEndMs)
		require.NoError(t, err)
	}

	assert.Equal(t, a.Digest(), b.Digest())
	assert.Equal(t, int64(3), a.Count())

	// digest reads do not disturb the stream
	mid := a.Digest()
	assert.Equal(t, mid, a.Digest())

	cps := a.Checkpoints()
	require.Len(t, cps, 1)
	assert.Equal(t, int64(1), cps[0].Sequence)
	assert.Equal(t, int64(2), cps[0].MessageCount)
}

func TestStreamHasherDetectsReorder(t *testing.T) {
	mk := func() *StreamHasher {
		h, err := NewStreamHasher(HasherOptions{FoldTimestamp: true})
		require.NoError(t, err)
		return h
	}
	a, b := mk(), mk()

	first := testBar("BTCUSDT", 60_000, 100, 105, 95, 101, 10)
	second := testBar("BTCUSDT", 120_000, 101, 110, 100, 108, 12)

	_, err := a.Add(first, first.IntervalEndMs)
	require.NoError(t, err)
	_, err = a.Add(second, second.IntervalEndMs)
	require.NoError(t, err)

	_, err = b.Add(second, second.IntervalEndMs)
	require.NoError(t, err)
	_, err = b.Add(first, first.IntervalEndMs)
	require.NoError(t, err)

	assert.NotEqual(t, a.Digest(), b.Digest())
}

func TestStreamHasherUnknownAlgorithm(t *testing.T) {
	_, err := NewStreamHasher(HasherOptions{Algorithm: "md5"})
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
}

func TestTrackerMatch(t *testing.T) {
	tracker, err := NewTracker(TrackerOptions{StoreMessages: true})
	require.NoError(t, err)

	bars := []model.Bar{
		testBar("BTCUSDT", 60_000, 100, 105, 95, 101, 10),
		testBar("BTCUSDT", 120_000, 101, 110, 100, 108, 12),
	}
	for _, bar := range bars {
		require.NoError(t, tracker.AddLive(bar, bar.IntervalEndMs))
		require.NoError(t, tracker.AddReplay(bar, bar.IntervalEndMs))
	}

	result := tracker.Verify()
	assert.True(t, result.Match)
	assert.Equal(t, result.LiveHash, result.ReplayHash)
	assert.Nil(t, result.DivergencePoint)
}

func TestTrackerLocatesDivergence(t *testing.T) {
	tracker, err := NewTracker(TrackerOptions{StoreMessages: true})
	require.NoError(t, err)

	bars := []model.Bar{
		testBar("BTCUSDT", 60_000, 100, 105, 95, 101, 10),
		testBar("BTCUSDT", 120_000, 101, 110, 100, 108, 12),
		testBar("BTCUSDT", 180_000, 108, 109, 104, 105, 7),
	}
	for i, bar := range bars {
		require.NoError(t, tracker.AddLive(bar, bar.IntervalEndMs))
		if i == 1 {
			bar.Close += 0.001 // replay disagrees on the second bar
		}
		require.NoError(t, tracker.AddReplay(bar, bar.IntervalEndMs))
	}

	result := tracker.Verify()
	assert.False(t, result.Match)
	require.NotNil(t, result.DivergencePoint)
	assert.Equal(t, 1, *result.DivergencePoint)
}

func TestTrackerLengthMismatch(t *testing.T) {
	tracker, err := NewTracker(TrackerOptions{StoreMessages: true})
	require.NoError(t, err)

	bar := testBar("BTCUSDT", 60_000, 100, 105, 95, 101, 10)
	require.NoError(t, tracker.AddLive(bar, bar.IntervalEndMs))
	require.NoError(t, tracker.AddReplay(bar, bar.IntervalEndMs))
	require.NoError(t, tracker.AddLive(testBar("BTCUSDT", 120_000, 101, 102, 100, 101, 3), 180_000))

	result := tracker.Verify()
	assert.False(t, result.Match)
	assert.Nil(t, result.DivergencePoint)
	assert.Contains(t, result.Details, "length mismatch")
}

func TestBarHasherCanonicalFields(t *testing.T) {
	h := NewBarHasher(6)

	a := testBar("BTCUSDT", 60_000, 100, 105, 95, 101, 10)
	b := a
	b.BarIndex = 99 // bookkeeping fields never influence the hash
	b.TickCount = 42
	assert.True(t, h.Equal(a, b))

	c := a
	c.Close += 0.001
	assert.False(t, h.Equal(a, c))
}

func TestBarHasherBatch(t *testing.T) {
	h := NewBarHasher(6)
	bars := []model.Bar{
		testBar("BTCUSDT", 60_000, 100, 105, 95, 101, 10),
		testBar("BTCUSDT", 120_000, 101, 110, 100, 108, 12),
	}
	assert.Equal(t, h.HashBatch(bars), h.HashBatch(bars))

	reversed := []model.Bar{bars[1], bars[0]}
	assert.NotEqual(t, h.HashBatch(bars), h.HashBatch(reversed))
}

func TestIncrementalCheckpointComparison(t *testing.T) {
	tracker, err := NewTracker(TrackerOptions{Hasher: HasherOptions{ChunkSize: 2}})
	require.NoError(t, err)
	inc := NewIncremental(tracker)

	var seen []CheckpointResult
	inc.OnCheckpoint(func(r CheckpointResult) { seen = append(seen, r) })

	bars := []model.Bar{
		testBar("BTCUSDT", 60_000, 100, 105, 95, 101, 10),
		testBar("BTCUSDT", 120_000, 101, 110, 100, 108, 12),
		testBar("BTCUSDT", 180_000, 108, 109, 104, 105, 7),
		testBar("BTCUSDT", 240_000, 105, 106, 103, 104, 9),
	}
	for _, bar := range bars {
		require.NoError(t, inc.AddLive(bar, bar.IntervalEndMs))
		require.NoError(t, inc.AddReplay(bar, bar.IntervalEndMs))
	}

	results := inc.Results()
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Match, "checkpoint %d", r.Index)
	}
	assert.Len(t, seen, 2)
	assert.True(t, inc.Verify().Match)
}

func TestSignedProofRoundtrip(t *testing.T) {
	key := []byte("parity-secret")
	proof := SignProof(key, "aaa", "aaa", 1_700_000_000_000, 42)

	assert.True(t, proof.Verify(key))
	assert.False(t, proof.Verify([]byte("wrong-key")))

	tampered := proof
	tampered.ReplayHash = "bbb"
	assert.False(t, tampered.Verify(key))
}

func TestDigestFileRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "digest.json")
	in := Digest{
		Algorithm:    "sha256",
		Precision:    6,
		BatchHash:    "batch",
		StreamHash:   "stream",
		MessageCount: 7,
		Checkpoints: []HashCheckpoint{
			{Sequence: 1, HashValue: "cp1", TimestampMs: 60_000, MessageCount: 2},
		},
	}
	require.NoError(t, SaveDigest(path, in))

	out, err := LoadDigest(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = LoadDigest(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
