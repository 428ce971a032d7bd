package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spot-ladder-bot/internal/strategy"
)

func TestNewPositionValidation(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		symbol  string
		entry   float64
		amount  float64
		s       strategy.Strategy
		wantErr bool
	}{
		{"valid", "SOLUSDT", 150, 5.4, strategy.Conservative, false},
		{"empty symbol", "", 150, 5.4, strategy.Conservative, true},
		{"zero entry", "SOLUSDT", 0, 5.4, strategy.Conservative, true},
		{"zero capital", "SOLUSDT", 150, 0, strategy.Conservative, true},
		{"unknown strategy", "SOLUSDT", 150, 5.4, strategy.Strategy("grid"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPosition(tt.symbol, tt.entry, tt.amount, 20, tt.s, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.entry, p.HighestPrice)
			assert.Equal(t, DefaultStatusLabel, p.StatusLabel)
		})
	}
}

func TestPositionHighWaterIsMonotone(t *testing.T) {
	p, err := NewPosition("SOLUSDT", 100, 5.4, 20, strategy.Conservative, time.Now())
	require.NoError(t, err)

	prices := []float64{101, 99, 104, 103, 90, 104, 108, 50}
	prev := p.HighestPrice
	for _, price := range prices {
		p.ObservePrice(price)
		assert.GreaterOrEqual(t, p.HighestPrice, prev)
		prev = p.HighestPrice
	}
	assert.Equal(t, 108.0, p.HighestPrice)
	assert.InDelta(t, 8.0, p.MaxProfitPercent(), 1e-9)
	assert.InDelta(t, -50.0, p.PnLPercent(50), 1e-9)
}

func TestPositionValueAt(t *testing.T) {
	p, err := NewPosition("SOLUSDT", 100, 5.4, 20, strategy.Conservative, time.Now())
	require.NoError(t, err)
	assert.InDelta(t, 5.94, p.ValueAt(110), 1e-9)
	assert.Equal(t, 5.4, p.ValueAt(0), "unknown price falls back to cost")
}

func TestApplyDefaults(t *testing.T) {
	p := &Position{Symbol: "OLDUSDT", EntryPrice: 2, AmountUSDT: 5}
	p.applyDefaults()
	assert.Equal(t, DefaultStatusLabel, p.StatusLabel)
	assert.Equal(t, 2.0, p.HighestPrice)
	assert.Equal(t, strategy.Conservative, p.Strategy)
	assert.NoError(t, p.Validate())
}
