package database

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// Default retention for append-only tables
const (
	DefaultHistoryRetention = 2000
	DefaultLogRetention     = 2000
)

// Store is the system of record for engine state. Every call is atomic on its own.
type Store interface {
	UpsertPosition(ctx context.Context, p *Position) error
	DeletePosition(ctx context.Context, symbol string) error
	GetPosition(ctx context.Context, symbol string) (*Position, error)
	ListPositions(ctx context.Context) ([]*Position, error)

	AppendEquitySample(ctx context.Context, s EquitySample) error
	ListEquitySamples(ctx context.Context, limit int) ([]EquitySample, error)
	UpdateWallet(ctx context.Context, equity float64, at time.Time) error
	GetWallet(ctx context.Context) (WalletSummary, error)

	AppendSystemEvent(ctx context.Context, e SystemEvent) error
	ListSystemEvents(ctx context.Context, limit int) ([]SystemEvent, error)

	ReplaceCandidates(ctx context.Context, candidates []Candidate) error
	ListCandidates(ctx context.Context) ([]Candidate, error)

	AppendMarketData(ctx context.Context, points []MarketDataPoint) error

	Close() error
}

// Retention bounds the append-only tables
type Retention struct {
	History int
	Logs    int
}

func (r Retention) withDefaults() Retention {
	if r.History <= 0 {
		r.History = DefaultHistoryRetention
	}
	if r.Logs <= 0 {
		r.Logs = DefaultLogRetention
	}
	return r
}
