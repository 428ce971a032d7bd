package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spot-ladder-bot/internal/strategy"
)

func testSwap() SwapConfig {
	return SwapConfig{UrgentRSI: 15, MinHold: 2 * time.Hour, LossMargin: 0.5}
}

func TestSelectZombiePicksMostNegative(t *testing.T) {
	holdings := []Holding{
		{Symbol: "AUSDT", PnLPercent: -1.0, Held: 3 * time.Hour},
		{Symbol: "BUSDT", PnLPercent: -4.0, Held: 3 * time.Hour},
		{Symbol: "CUSDT", PnLPercent: 2.0, Held: 3 * time.Hour},
	}

	z, ok := testSwap().SelectZombie(holdings, 18)
	require.True(t, ok)
	assert.Equal(t, "BUSDT", z.Symbol)
}

func TestSelectZombieHoldingTime(t *testing.T) {
	holdings := []Holding{
		{Symbol: "NEWUSDT", PnLPercent: -6.0, Held: 10 * time.Minute},
		{Symbol: "OLDUSDT", PnLPercent: -1.0, Held: 5 * time.Hour},
	}

	z, ok := testSwap().SelectZombie(holdings, 18)
	require.True(t, ok)
	assert.Equal(t, "OLDUSDT", z.Symbol, "young positions are protected for ordinary candidates")

	z, ok = testSwap().SelectZombie(holdings, 12)
	require.True(t, ok)
	assert.Equal(t, "NEWUSDT", z.Symbol, "urgent candidates waive the holding time")
}

func TestSelectZombieLossMargin(t *testing.T) {
	holdings := []Holding{
		{Symbol: "FLATUSDT", PnLPercent: -0.4, Held: 5 * time.Hour},
		{Symbol: "EDGEUSDT", PnLPercent: -0.5, Held: 5 * time.Hour},
		{Symbol: "UPUSDT", PnLPercent: 3, Held: 5 * time.Hour},
	}

	_, ok := testSwap().SelectZombie(holdings, 5)
	assert.False(t, ok, "break-even noise is never swapped")
}

func TestSelectZombieTieBreak(t *testing.T) {
	holdings := []Holding{
		{Symbol: "ZUSDT", PnLPercent: -3, Held: 5 * time.Hour},
		{Symbol: "KUSDT", PnLPercent: -3, Held: 5 * time.Hour},
	}
	z, ok := testSwap().SelectZombie(holdings, 18)
	require.True(t, ok)
	assert.Equal(t, "KUSDT", z.Symbol)
}

func TestManagerSwapThresholds(t *testing.T) {
	m := NewManager(Config{Swap: testSwap(), ConservativeSwapRSI: 20, ScalpSwapRSI: 18})

	assert.True(t, m.ShouldSwap(strategy.Conservative, 19.9))
	assert.False(t, m.ShouldSwap(strategy.Conservative, 20))
	assert.False(t, m.ShouldSwap(strategy.Scalp, 19))
	assert.Equal(t, time.Duration(0), m.MinHoldFor(14.9))
	assert.Equal(t, 2*time.Hour, m.MinHoldFor(15))
}
