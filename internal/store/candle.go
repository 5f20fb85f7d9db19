package store

import (
	"fmt"
	"net/url"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"main/internal/model"
)

const (
	defaultHost    = "localhost"
	defaultPort    = 5432
	defaultSSLMode = "disable"
)

// Option defines connection options for the candle store.
type Option struct {
	Host       string            `json:"host"`
	Port       int               `json:"port"`
	User       string            `json:"user"`
	Password   string            `json:"password"`
	Database   string            `json:"database"`
	SSLMode    string            `json:"sslMode"`
	Params     map[string]string `json:"params"`
	ConnString string            `json:"connString"`
}

// CandleRow is the persisted form of a confirmed bar.
type CandleRow struct {
	ID              uint64  `gorm:"primaryKey;autoIncrement"`
	Symbol          string  `gorm:"index:idx_candle_channel;size:32;not null"`
	Timeframe       string  `gorm:"index:idx_candle_channel;size:8;not null"`
	BarIndex        int64   `gorm:"not null"`
	IntervalStartMs int64   `gorm:"index;not null"`
	IntervalEndMs   int64   `gorm:"not null"`
	Open            float64 `gorm:"not null"`
	High            float64 `gorm:"not null"`
	Low             float64 `gorm:"not null"`
	Close           float64 `gorm:"not null"`
	Volume          float64 `gorm:"not null"`
	TickCount       int64   `gorm:"not null"`
}

func (CandleRow) TableName() string { return "candles" }

// CandleStore persists confirmed bars. It is the external persistence
// collaborator behind the lifecycle manager's persist callback.
type CandleStore struct {
	db *gorm.DB
}

// Open connects to PostgreSQL and migrates the candles table.
func Open(opt Option) (*CandleStore, error) {
	dsn, err := opt.dsn()
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "open candle store")
	}
	if err := db.AutoMigrate(&CandleRow{}); err != nil {
		return nil, errors.Wrap(err, "migrate candles table")
	}
	return &CandleStore{db: db}, nil
}

// Save writes one confirmed bar.
func (s *CandleStore) Save(bar model.Bar) error {
	row := CandleRow{
		Symbol:          bar.Symbol,
		Timeframe:       bar.Timeframe.String(),
		BarIndex:        bar.BarIndex,
		IntervalStartMs: bar.IntervalStartMs,
		IntervalEndMs:   bar.IntervalEndMs,
		Open:            bar.Open,
		High:            bar.High,
		Low:             bar.Low,
		Close:           bar.Close,
		Volume:          bar.Volume,
		TickCount:       bar.TickCount,
	}
	if err := s.db.Create(&row).Error; err != nil {
		return errors.Wrap(err, "save candle").With("symbol", bar.Symbol)
	}
	return nil
}

// PersistCallback adapts the store to the lifecycle persist hook.
// Storage failures are logged, never propagated into tick processing.
func (s *CandleStore) PersistCallback() func(model.Bar) {
	return func(bar model.Bar) {
		if err := s.Save(bar); err != nil {
			logs.Errorf("store: persist %s/%s bar %d failed: %v",
				bar.Symbol, bar.Timeframe, bar.BarIndex, err)
		}
	}
}

// Close closes the underlying connection pool.
func (s *CandleStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (opt Option) dsn() (string, error) {
	if opt.ConnString != "" {
		return opt.ConnString, nil
	}
	host := opt.Host
	if host == "" {
		host = defaultHost
	}
	port := opt.Port
	if port == 0 {
		port = defaultPort
	}
	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = defaultSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}
	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
	}
	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}
	query := url.Values{}
	query.Set("sslmode", sslMode)
	for key, value := range opt.Params {
		if key == "" {
			continue
		}
		query.Set(key, value)
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}
