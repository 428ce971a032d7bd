package database

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spot-ladder-bot/internal/strategy"
)

func newTestStore(t *testing.T, retention Retention) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "bot.db"), retention)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStorePositions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Retention{})
	entry := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	p, err := NewPosition("SOLUSDT", 150, 5.4, 21.3, strategy.Conservative, entry)
	require.NoError(t, err)
	require.NoError(t, s.UpsertPosition(ctx, p))

	p.ObservePrice(162)
	p.StopPrice = 159.57
	p.StatusLabel = "TREND"
	require.NoError(t, s.UpsertPosition(ctx, p))

	got, err := s.GetPosition(ctx, "SOLUSDT")
	require.NoError(t, err)
	assert.Equal(t, 162.0, got.HighestPrice)
	assert.Equal(t, 159.57, got.StopPrice)
	assert.Equal(t, "TREND", got.StatusLabel)
	assert.Equal(t, strategy.Conservative, got.Strategy)
	assert.True(t, entry.Equal(got.EntryTime))

	scalp, err := NewPosition("DOGEUSDT", 0.2, 6.9, 28, strategy.Scalp, entry.Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, s.UpsertPosition(ctx, scalp))

	all, err := s.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "SOLUSDT", all[0].Symbol)
	assert.Equal(t, strategy.Scalp, all[1].Strategy)
	assert.Equal(t, DefaultStatusLabel, all[1].StatusLabel)

	require.NoError(t, s.DeletePosition(ctx, "SOLUSDT"))
	_, err = s.GetPosition(ctx, "SOLUSDT")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStoreRejectsInvalidPosition(t *testing.T) {
	s := newTestStore(t, Retention{})
	err := s.UpsertPosition(context.Background(), &Position{Symbol: "XUSDT", EntryPrice: 1, HighestPrice: 1, Strategy: strategy.Scalp})
	assert.Error(t, err, "zero allocation must not be persisted")
}

func TestSQLiteStoreEquityRetention(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Retention{History: 3, Logs: 2})
	start := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendEquitySample(ctx, EquitySample{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Equity:    100 + float64(i),
		}))
	}

	samples, err := s.ListEquitySamples(ctx, 0)
	require.NoError(t, err)
	require.Len(t, samples, 3)
	assert.Equal(t, []float64{102, 103, 104}, []float64{samples[0].Equity, samples[1].Equity, samples[2].Equity})

	for i := 0; i < 4; i++ {
		require.NoError(t, s.AppendSystemEvent(ctx, SystemEvent{
			Timestamp: start,
			Level:     LevelInfo,
			Category:  CategorySystem,
			Message:   fmt.Sprintf("event %d", i),
		}))
	}
	events, err := s.ListSystemEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "event 3", events[0].Message, "newest first")
	assert.Equal(t, "event 2", events[1].Message)
}

func TestSQLiteStoreWallet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Retention{})

	_, err := s.GetWallet(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	at := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateWallet(ctx, 20, at))
	require.NoError(t, s.UpdateWallet(ctx, 21.5, at.Add(time.Minute)))

	w, err := s.GetWallet(ctx)
	require.NoError(t, err)
	assert.Equal(t, 21.5, w.CurrentEquity)
	assert.True(t, at.Add(time.Minute).Equal(w.UpdatedAt))
}

func TestSQLiteStoreReplaceCandidates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Retention{})
	now := time.Now().UTC()

	require.NoError(t, s.ReplaceCandidates(ctx, []Candidate{
		{Symbol: "AUSDT", RSI: 30, Status: CandidateRSIHigh, UpdatedAt: now},
		{Symbol: "BUSDT", RSI: 18, Status: CandidateBuy, UpdatedAt: now},
	}))
	require.NoError(t, s.ReplaceCandidates(ctx, []Candidate{
		{Symbol: "CUSDT", RSI: 25, Status: CandidateScalp, UpdatedAt: now},
	}))

	got, err := s.ListCandidates(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "CUSDT", got[0].Symbol)
	assert.Equal(t, CandidateScalp, got[0].Status)

	require.NoError(t, s.ReplaceCandidates(ctx, nil))
	got, err = s.ListCandidates(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteStoreMarketData(t *testing.T) {
	s := newTestStore(t, Retention{})
	assert.NoError(t, s.AppendMarketData(context.Background(), nil))
	assert.NoError(t, s.AppendMarketData(context.Background(), []MarketDataPoint{
		{Timestamp: time.Now(), Symbol: "SOLUSDT", Price: 150, RSI: 22, Volume24h: 5e6, RVOL: 1.4},
	}))
}
