package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"main/internal/clock"
	"main/internal/lifecycle"
	"main/internal/model"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/parity"
	"main/internal/recorder"
	"main/internal/replay"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON config")
	walDir := flag.String("wal-dir", "", "Tick WAL directory (default: config walDir)")
	prefix := flag.String("prefix", "", "WAL file prefix (default: ticks)")
	speed := flag.Float64("speed", 0, "Playback speed multiplier (default: config replaySpeed)")
	digestPath := flag.String("digest", "", "Live digest file to verify against")
	proofPath := flag.String("proof", "", "Signed proof output path (empty=stdout only)")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if *walDir == "" {
		*walDir = loaded.WALDir
	}
	if *speed <= 0 {
		*speed = loaded.ReplaySpeed
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, loaded, *walDir, *prefix, *speed, *digestPath, *proofPath); err != nil {
		log.Fatalf("replay failed: %v", err)
	}
}

func run(ctx context.Context, loaded ops.Loaded, walDir, prefix string, speed float64, digestPath, proofPath string) error {
	ticks, err := recorder.LoadTicks(walDir, prefix)
	if err != nil {
		return err
	}
	if len(ticks) == 0 {
		log.Printf("no ticks recorded under %s", walDir)
		return nil
	}
	log.Printf("loaded %d ticks from %s", len(ticks), walDir)

	metrics := obs.NewMetrics()
	clk := clock.NewVirtual(ticks[0].TimestampMs)

	manager, err := lifecycle.NewManager(lifecycle.Config{
		Timeframes:    loaded.Timeframes,
		Calendar:      loaded.Calendar,
		EpochMs:       loaded.EpochMs,
		Clock:         clk,
		CheckInterval: loaded.BoundaryCheck,
		Metrics:       metrics,
	})
	if err != nil {
		return err
	}

	hasher, err := parity.NewStreamHasher(parity.HasherOptions{
		Algorithm:     loaded.HashAlgorithm,
		ChunkSize:     loaded.HashChunkSize,
		Precision:     loaded.HashPrecision,
		FoldTimestamp: true,
	})
	if err != nil {
		return err
	}
	barHasher := parity.NewBarHasher(loaded.HashPrecision)

	var (
		confirmedMu sync.Mutex
		confirmed   []model.Bar
	)
	manager.OnConfirmed(func(bar model.Bar) {
		if _, err := hasher.Add(bar, bar.IntervalEndMs); err != nil {
			log.Printf("parity hash failed for %s/%s: %v", bar.Symbol, bar.Timeframe, err)
		}
		confirmedMu.Lock()
		confirmed = append(confirmed, bar)
		confirmedMu.Unlock()
	})

	ctrl, err := replay.NewController(clk, func(tick model.CanonicalTick) {
		if err := manager.ProcessTick(tick); err != nil {
			log.Printf("tick rejected: %v", err)
		}
	}, speed)
	if err != nil {
		return err
	}
	if err := ctrl.LoadTicks(ticks, 0, 0); err != nil {
		return err
	}

	done := make(chan struct{})
	ctrl.OnComplete(func() {
		manager.ForceConfirmAll()
		close(done)
	})
	ctrl.OnProgress(func(p replay.Progress) {
		if p.TicksProcessed%10000 == 0 {
			log.Printf("progress: %.1f%% (%d ticks)", p.ProgressPct, p.TicksProcessed)
		}
	})

	if err := ctrl.Play(); err != nil {
		return err
	}
	select {
	case <-done:
	case <-ctx.Done():
		ctrl.Pause()
		return ctx.Err()
	}

	confirmedMu.Lock()
	sortConfirmed(confirmed)
	replayDigest := parity.Digest{
		Algorithm:    loaded.HashAlgorithm,
		Precision:    loaded.HashPrecision,
		BatchHash:    barHasher.HashBatch(confirmed),
		StreamHash:   hasher.Digest(),
		MessageCount: hasher.Count(),
		Checkpoints:  hasher.Checkpoints(),
	}
	confirmedMu.Unlock()
	log.Printf("replay produced %d confirmed bars, stream=%s", replayDigest.MessageCount, replayDigest.StreamHash)

	if digestPath == "" {
		return nil
	}
	liveDigest, err := parity.LoadDigest(digestPath)
	if err != nil {
		return err
	}
	match := liveDigest.StreamHash == replayDigest.StreamHash &&
		liveDigest.MessageCount == replayDigest.MessageCount
	if match {
		log.Printf("PARITY OK: %d bars, hash %s", replayDigest.MessageCount, replayDigest.StreamHash)
	} else {
		log.Printf("PARITY MISMATCH: live=%s (%d bars) replay=%s (%d bars), first differing checkpoint %d",
			liveDigest.StreamHash, liveDigest.MessageCount,
			replayDigest.StreamHash, replayDigest.MessageCount,
			firstDivergentCheckpoint(liveDigest.Checkpoints, replayDigest.Checkpoints))
	}

	proof := parity.SignProof(loaded.ParitySecret,
		liveDigest.StreamHash, replayDigest.StreamHash,
		time.Now().UnixMilli(), replayDigest.MessageCount)
	data, err := json.MarshalIndent(proof, "", "  ")
	if err != nil {
		return err
	}
	log.Printf("signed proof: %s", data)
	if proofPath != "" {
		if err := os.WriteFile(proofPath, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// sortConfirmed puts bars in canonical (symbol, timeframe, interval)
// order so the batch hash does not depend on confirm timing.
func sortConfirmed(bars []model.Bar) {
	sort.Slice(bars, func(i, j int) bool {
		a, b := bars[i], bars[j]
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		if a.Timeframe != b.Timeframe {
			return a.Timeframe.DurationMs() < b.Timeframe.DurationMs()
		}
		return a.IntervalStartMs < b.IntervalStartMs
	})
}

// firstDivergentCheckpoint returns the sequence of the first checkpoint
// pair that disagrees, or -1 when only lengths differ.
func firstDivergentCheckpoint(live, replay []parity.HashCheckpoint) int64 {
	limit := len(live)
	if len(replay) < limit {
		limit = len(replay)
	}
	for i := 0; i < limit; i++ {
		if live[i].HashValue != replay[i].HashValue {
			return live[i].Sequence
		}
	}
	return -1
}
