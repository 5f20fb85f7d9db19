package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"

	"main/internal/bus"
	"main/internal/clock"
	"main/internal/delivery"
	"main/internal/feed"
	"main/internal/gateway"
	"main/internal/lifecycle"
	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/parity"
	"main/internal/recorder"
	"main/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON config")
	simFeed := flag.Bool("sim", false, "Use the synthetic tick simulator instead of Binance")
	simSeed := flag.Int64("sim-seed", 42, "Simulator random walk seed")
	simCadence := flag.Duration("sim-cadence", 100*time.Millisecond, "Simulator tick cadence")
	digestPath := flag.String("digest", "", "Parity digest output path (default: <wal-dir>/digest.json)")
	pyroscopeAddr := flag.String("pyroscope", "", "Pyroscope server address (empty=disabled)")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if len(loaded.Symbols) == 0 {
		loaded.Symbols = []string{"BTCUSDT"}
	}

	if *pyroscopeAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "bard.engine",
			ServerAddress:   *pyroscopeAddr,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() { _ = profiler.Stop() }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, loaded, *simFeed, *simSeed, *simCadence, resolveDigestPath(loaded.WALDir, *digestPath)); err != nil {
		log.Fatalf("engine failed: %v", err)
	}
}

func run(ctx context.Context, loaded ops.Loaded, simFeed bool, simSeed int64, simCadence time.Duration, digestPath string) error {
	metrics := obs.NewMetrics()
	clk := clock.NewLive()

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

	// Tick WAL: everything the engine consumes is recorded so a replay
	// run can reproduce it exactly.
	writer, err := recorder.NewWriter(recorder.DefaultConfig(loaded.WALDir))
	if err != nil {
		return err
	}
	if err := writer.Start(ctx); err != nil {
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

	buffer := delivery.NewMessageBuffer(loaded.BufferSize)
	hub := delivery.NewHub(buffer, metrics)

	manager.OnConfirmed(func(bar model.Bar) {
		if _, err := hasher.Add(bar, bar.IntervalEndMs); err != nil {
			log.Printf("parity hash failed for %s/%s: %v", bar.Symbol, bar.Timeframe, err)
		}
		confirmedMu.Lock()
		confirmed = append(confirmed, bar)
		confirmedMu.Unlock()
		hub.BroadcastBar(bar, enum.DeliveryModeLive)
	})

	var candles *store.CandleStore
	if loaded.PersistenceEnabled {
		candles, err = store.Open(loaded.Postgres)
		if err != nil {
			return err
		}
		defer candles.Close()
		manager.SetPersist(candles.PersistCallback())
	}

	if err := manager.Start(ctx); err != nil {
		return err
	}

	queue := bus.NewTickQueue(8192)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		queue.Run(ctx, func(tick model.CanonicalTick) {
			if err := writer.TryAppend(tick); err != nil {
				metrics.IncQueueDrop()
				log.Printf("wal append dropped tick: %v", err)
			}
			if err := manager.ProcessTick(tick); err != nil {
				log.Printf("tick rejected: %v", err)
			}
		})
	}()

	ingest := func(tick model.CanonicalTick) bool {
		if err := queue.TryPublish(tick); err != nil {
			metrics.IncQueueDrop()
		}
		return true
	}

	if simFeed {
		sim, err := feed.NewSimulator(loaded.Symbols, simSeed, 100, 1, 0.05, simCadence)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			sim.Run(ctx, ingest)
		}()
	} else {
		binance := feed.NewBinanceFeed(ctx)
		if err := binance.Start(ctx); err != nil {
			return err
		}
		defer binance.Close()
		for _, symbol := range loaded.Symbols {
			if err := binance.SubscribeTrades(ctx, symbol); err != nil {
				return err
			}
		}
		binance.ObserveTrades(ctx, func(tick model.CanonicalTick) { ingest(tick) })
	}

	server := gateway.NewServer(hub, metrics)
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Run(ctx, loaded.ListenAddr) }()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	// drain: stop accepting ticks, flush the pipeline, confirm what is
	// still forming, then write the proof artifact.
	queue.Close()
	wg.Wait()
	final := manager.Stop()
	for _, bar := range final {
		log.Printf("force-confirmed %s/%s bar %d on shutdown", bar.Symbol, bar.Timeframe, bar.BarIndex)
	}
	if err := writer.Close(); err != nil {
		log.Printf("wal close failed: %v", err)
	}

	confirmedMu.Lock()
	sortConfirmed(confirmed)
	digest := parity.Digest{
		Algorithm:    loaded.HashAlgorithm,
		Precision:    loaded.HashPrecision,
		BatchHash:    barHasher.HashBatch(confirmed),
		StreamHash:   hasher.Digest(),
		MessageCount: hasher.Count(),
		Checkpoints:  hasher.Checkpoints(),
	}
	confirmedMu.Unlock()
	if err := parity.SaveDigest(digestPath, digest); err != nil {
		return err
	}
	log.Printf("digest written: %s (bars=%d stream=%s)", digestPath, digest.MessageCount, digest.StreamHash)

	snapshot := metrics.Snapshot()
	log.Printf("metrics: ticks=%d rejected=%d bars=%d drops=%d latency=%+v",
		snapshot.Ticks, snapshot.TicksRejected, snapshot.BarsConfirmed, snapshot.QueueDrops, snapshot.TickLatency)
	return nil
}

func resolveDigestPath(dir, path string) string {
	if path != "" {
		return path
	}
	return filepath.Join(dir, "digest.json")
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
