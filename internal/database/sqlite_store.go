package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"spot-ladder-bot/internal/strategy"
)

type positionRow struct {
	Symbol       string    `gorm:"primaryKey;size:32"`
	EntryPrice   float64   `gorm:"column:entry_price;not null"`
	HighestPrice float64   `gorm:"column:highest_price;not null"`
	AmountUSDT   float64   `gorm:"column:amount_usdt;not null"`
	RSIAtEntry   float64   `gorm:"column:rsi_at_entry"`
	EntryTime    time.Time `gorm:"column:entry_time;not null"`
	Strategy     string    `gorm:"column:strategy;size:16"`
	StopPrice    float64   `gorm:"column:stop_price"`
	StatusLabel  string    `gorm:"column:status_label;size:16"`
}

func (positionRow) TableName() string { return "positions" }

type equityRow struct {
	ID             int64     `gorm:"primaryKey;autoIncrement"`
	Timestamp      time.Time `gorm:"index"`
	Equity         float64
	FreeBalance    float64
	ChangePercent  float64 `gorm:"column:change_pct"`
	PositionsCount int
}

func (equityRow) TableName() string { return "equity_history" }

type walletRow struct {
	ID            int `gorm:"primaryKey"`
	CurrentEquity float64
	UpdatedAt     time.Time
}

func (walletRow) TableName() string { return "wallet" }

type systemEventRow struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Timestamp time.Time `gorm:"index"`
	Level     string    `gorm:"size:8"`
	Category  string    `gorm:"size:16"`
	Message   string
}

func (systemEventRow) TableName() string { return "system_events" }

type candidateRow struct {
	Symbol      string `gorm:"primaryKey;size:32"`
	Price       float64
	RSI         float64 `gorm:"column:rsi"`
	EMA         float64 `gorm:"column:ema"`
	RVOL        float64 `gorm:"column:rvol"`
	Change24h   float64 `gorm:"column:change_24h"`
	QuoteVolume float64
	Status      string `gorm:"size:16"`
	UpdatedAt   time.Time
}

func (candidateRow) TableName() string { return "candidates" }

type marketDataRow struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Timestamp time.Time `gorm:"index"`
	Symbol    string    `gorm:"size:32;index"`
	Price     float64
	RSI       float64 `gorm:"column:rsi"`
	Volume24h float64 `gorm:"column:volume_24h"`
	RVOL      float64 `gorm:"column:rvol"`
}

func (marketDataRow) TableName() string { return "market_data_history" }

// SQLiteStore is the default Store, backed by a local SQLite file through gorm
type SQLiteStore struct {
	db        *gorm.DB
	retention Retention
}

// NewSQLiteStore opens (creating if needed) the database at path and migrates the schema
func NewSQLiteStore(path string, retention Retention) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("database path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.AutoMigrate(
		&positionRow{},
		&equityRow{},
		&walletRow{},
		&systemEventRow{},
		&candidateRow{},
		&marketDataRow{},
	); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}

	return &SQLiteStore{db: db, retention: retention.withDefaults()}, nil
}

func toPositionRow(p *Position) positionRow {
	return positionRow{
		Symbol:       p.Symbol,
		EntryPrice:   p.EntryPrice,
		HighestPrice: p.HighestPrice,
		AmountUSDT:   p.AmountUSDT,
		RSIAtEntry:   p.RSIAtEntry,
		EntryTime:    p.EntryTime.UTC(),
		Strategy:     string(p.Strategy),
		StopPrice:    p.StopPrice,
		StatusLabel:  p.StatusLabel,
	}
}

func (r positionRow) toPosition() (*Position, error) {
	s, err := strategy.ParseStrategy(r.Strategy)
	if err != nil {
		return nil, fmt.Errorf("position %s: %w", r.Symbol, err)
	}
	p := &Position{
		Symbol:       r.Symbol,
		EntryPrice:   r.EntryPrice,
		HighestPrice: r.HighestPrice,
		AmountUSDT:   r.AmountUSDT,
		RSIAtEntry:   r.RSIAtEntry,
		EntryTime:    r.EntryTime,
		Strategy:     s,
		StopPrice:    r.StopPrice,
		StatusLabel:  r.StatusLabel,
	}
	p.applyDefaults()
	return p, nil
}

func (s *SQLiteStore) UpsertPosition(ctx context.Context, p *Position) error {
	if err := p.Validate(); err != nil {
		return err
	}
	row := toPositionRow(p)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (s *SQLiteStore) DeletePosition(ctx context.Context, symbol string) error {
	return s.db.WithContext(ctx).Delete(&positionRow{}, "symbol = ?", symbol).Error
}

func (s *SQLiteStore) GetPosition(ctx context.Context, symbol string) (*Position, error) {
	var row positionRow
	err := s.db.WithContext(ctx).First(&row, "symbol = ?", symbol).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toPosition()
}

func (s *SQLiteStore) ListPositions(ctx context.Context) ([]*Position, error) {
	var rows []positionRow
	if err := s.db.WithContext(ctx).Order("entry_time ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*Position, 0, len(rows))
	for _, r := range rows {
		p, err := r.toPosition()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *SQLiteStore) AppendEquitySample(ctx context.Context, e EquitySample) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := equityRow{
			Timestamp:      e.Timestamp.UTC(),
			Equity:         e.Equity,
			FreeBalance:    e.FreeBalance,
			ChangePercent:  e.ChangePercent,
			PositionsCount: e.PositionsCount,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return tx.Exec("DELETE FROM equity_history WHERE id NOT IN (SELECT id FROM equity_history ORDER BY id DESC LIMIT ?)", s.retention.History).Error
	})
}

// ListEquitySamples returns up to limit most recent samples, oldest first
func (s *SQLiteStore) ListEquitySamples(ctx context.Context, limit int) ([]EquitySample, error) {
	if limit <= 0 {
		limit = s.retention.History
	}
	var rows []equityRow
	if err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]EquitySample, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = EquitySample{
			Timestamp:      r.Timestamp,
			Equity:         r.Equity,
			FreeBalance:    r.FreeBalance,
			ChangePercent:  r.ChangePercent,
			PositionsCount: r.PositionsCount,
		}
	}
	return out, nil
}

func (s *SQLiteStore) UpdateWallet(ctx context.Context, equity float64, at time.Time) error {
	row := walletRow{ID: 1, CurrentEquity: equity, UpdatedAt: at.UTC()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (s *SQLiteStore) GetWallet(ctx context.Context) (WalletSummary, error) {
	var row walletRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return WalletSummary{}, ErrNotFound
	}
	if err != nil {
		return WalletSummary{}, err
	}
	return WalletSummary{CurrentEquity: row.CurrentEquity, UpdatedAt: row.UpdatedAt}, nil
}

func (s *SQLiteStore) AppendSystemEvent(ctx context.Context, e SystemEvent) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := systemEventRow{
			Timestamp: e.Timestamp.UTC(),
			Level:     string(e.Level),
			Category:  e.Category,
			Message:   e.Message,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return tx.Exec("DELETE FROM system_events WHERE id NOT IN (SELECT id FROM system_events ORDER BY id DESC LIMIT ?)", s.retention.Logs).Error
	})
}

// ListSystemEvents returns up to limit events, newest first
func (s *SQLiteStore) ListSystemEvents(ctx context.Context, limit int) ([]SystemEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []systemEventRow
	if err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]SystemEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, SystemEvent{
			ID:        r.ID,
			Timestamp: r.Timestamp,
			Level:     EventLevel(r.Level),
			Category:  r.Category,
			Message:   r.Message,
		})
	}
	return out, nil
}

func (s *SQLiteStore) ReplaceCandidates(ctx context.Context, candidates []Candidate) error {
	rows := make([]candidateRow, 0, len(candidates))
	for _, c := range candidates {
		rows = append(rows, candidateRow{
			Symbol:      c.Symbol,
			Price:       c.Price,
			RSI:         c.RSI,
			EMA:         c.EMA,
			RVOL:        c.RVOL,
			Change24h:   c.Change24h,
			QuoteVolume: c.QuoteVolume,
			Status:      string(c.Status),
			UpdatedAt:   c.UpdatedAt.UTC(),
		})
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM candidates").Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
}

// ListCandidates returns the snapshot ordered by RSI ascending
func (s *SQLiteStore) ListCandidates(ctx context.Context) ([]Candidate, error) {
	var rows []candidateRow
	if err := s.db.WithContext(ctx).Order("rsi ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(rows))
	for _, r := range rows {
		out = append(out, Candidate{
			Symbol:      r.Symbol,
			Price:       r.Price,
			RSI:         r.RSI,
			EMA:         r.EMA,
			RVOL:        r.RVOL,
			Change24h:   r.Change24h,
			QuoteVolume: r.QuoteVolume,
			Status:      CandidateStatus(r.Status),
			UpdatedAt:   r.UpdatedAt,
		})
	}
	return out, nil
}

func (s *SQLiteStore) AppendMarketData(ctx context.Context, points []MarketDataPoint) error {
	if len(points) == 0 {
		return nil
	}
	rows := make([]marketDataRow, 0, len(points))
	for _, p := range points {
		rows = append(rows, marketDataRow{
			Timestamp: p.Timestamp.UTC(),
			Symbol:    p.Symbol,
			Price:     p.Price,
			RSI:       p.RSI,
			Volume24h: p.Volume24h,
			RVOL:      p.RVOL,
		})
	}
	return s.db.WithContext(ctx).Create(&rows).Error
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
