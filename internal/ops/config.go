package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/yanun0323/logs"

	"main/internal/model/enum"
	"main/internal/store"
	"main/internal/timegrid"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Symbols            []string     `json:"symbols"`
	Timeframes         []string     `json:"timeframes"`
	Calendar           string       `json:"calendar"`
	SessionOpenMinute  int          `json:"sessionOpenMinute"`
	SessionCloseMinute int          `json:"sessionCloseMinute"`
	EpochMs            int64        `json:"epochMs"`
	BoundaryCheckMs    int64        `json:"boundaryCheckMs"`
	BufferSize         int          `json:"bufferSize"`
	HashAlgorithm      string       `json:"hashAlgorithm"`
	HashChunkSize      int          `json:"hashChunkSize"`
	HashPrecision      int          `json:"hashPrecision"`
	ReplaySpeed        float64      `json:"replaySpeed"`
	Retry              RetryConfig  `json:"retry"`
	ListenAddr         string       `json:"listenAddr"`
	WALDir             string       `json:"walDir"`
	Postgres           store.Option `json:"postgres"`
	PersistenceEnabled bool         `json:"persistenceEnabled"`
	ParitySecret       string       `json:"paritySecret"`
}

// RetryConfig bounds guaranteed delivery.
type RetryConfig struct {
	Count     int   `json:"count"`
	TimeoutMs int64 `json:"timeoutMs"`
	DelayMs   int64 `json:"delayMs"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Symbols            []string
	Timeframes         []enum.Timeframe
	Calendar           timegrid.Calendar
	EpochMs            int64
	BoundaryCheck      time.Duration
	BufferSize         int
	HashAlgorithm      string
	HashChunkSize      int
	HashPrecision      int
	ReplaySpeed        float64
	RetryCount         int
	RetryTimeout       time.Duration
	RetryDelay         time.Duration
	ListenAddr         string
	WALDir             string
	Postgres           store.Option
	PersistenceEnabled bool
	ParitySecret       []byte
}

// Load reads the JSON config file, applies .env / environment
// overrides, and resolves everything into a Loaded.
func Load(path string) (Loaded, error) {
	var cfg FileConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Loaded{}, err
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Loaded{}, err
		}
	}
	applyEnv(&cfg)
	return resolve(cfg)
}

// applyEnv layers .env and process environment on top of the file.
func applyEnv(cfg *FileConfig) {
	if err := godotenv.Load(); err == nil {
		logs.Info("loaded .env overrides")
	}
	if v := os.Getenv("BARD_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("BARD_WAL_DIR"); v != "" {
		cfg.WALDir = v
	}
	if v := os.Getenv("BARD_PARITY_SECRET"); v != "" {
		cfg.ParitySecret = v
	}
	if v := os.Getenv("BARD_REPLAY_SPEED"); v != "" {
		if speed, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.ReplaySpeed = speed
		}
	}
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		cfg.Postgres.Database = v
	}
}

func resolve(cfg FileConfig) (Loaded, error) {
	loaded := Loaded{
		Symbols:            cfg.Symbols,
		EpochMs:            cfg.EpochMs,
		BufferSize:         cfg.BufferSize,
		HashAlgorithm:      cfg.HashAlgorithm,
		HashChunkSize:      cfg.HashChunkSize,
		HashPrecision:      cfg.HashPrecision,
		ReplaySpeed:        cfg.ReplaySpeed,
		RetryCount:         cfg.Retry.Count,
		ListenAddr:         cfg.ListenAddr,
		WALDir:             cfg.WALDir,
		Postgres:           cfg.Postgres,
		PersistenceEnabled: cfg.PersistenceEnabled,
		ParitySecret:       []byte(cfg.ParitySecret),
	}

	if len(cfg.Timeframes) == 0 {
		cfg.Timeframes = []string{"1m"}
	}
	for _, name := range cfg.Timeframes {
		tf, ok := enum.ParseTimeframe(name)
		if !ok {
			return Loaded{}, fmt.Errorf("unknown timeframe: %s", name)
		}
		loaded.Timeframes = append(loaded.Timeframes, tf)
	}

	switch cfg.Calendar {
	case "", "always":
		loaded.Calendar = timegrid.AlwaysOpen{}
	case "session":
		if cfg.SessionCloseMinute <= cfg.SessionOpenMinute {
			return Loaded{}, fmt.Errorf("session close minute must be after open minute")
		}
		loaded.Calendar = timegrid.NewEquitySessionCalendar(cfg.SessionOpenMinute, cfg.SessionCloseMinute)
	default:
		return Loaded{}, fmt.Errorf("unknown calendar: %s", cfg.Calendar)
	}

	if cfg.BoundaryCheckMs <= 0 {
		cfg.BoundaryCheckMs = 50
	}
	loaded.BoundaryCheck = time.Duration(cfg.BoundaryCheckMs) * time.Millisecond

	if loaded.ReplaySpeed <= 0 {
		loaded.ReplaySpeed = 1
	}
	if loaded.ListenAddr == "" {
		loaded.ListenAddr = ":8080"
	}
	if loaded.WALDir == "" {
		loaded.WALDir = "testdata/wal"
	}
	loaded.RetryTimeout = time.Duration(cfg.Retry.TimeoutMs) * time.Millisecond
	loaded.RetryDelay = time.Duration(cfg.Retry.DelayMs) * time.Millisecond
	return loaded, nil
}
