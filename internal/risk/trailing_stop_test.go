package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spot-ladder-bot/internal/strategy"
)

func testLadder() LadderConfig {
	return LadderConfig{
		Tier1Threshold:    3,
		Tier2Threshold:    7,
		Tier1Stop:         2.5,
		Tier2Stop:         4.5,
		Tier3Stop:         6,
		EmergencyStopLoss: 5,
		TakeProfit:        10,
	}
}

func TestLadderTierBoundaries(t *testing.T) {
	ladder := testLadder()
	tests := []struct {
		maxProfit float64
		want      Tier
		drawdown  float64
	}{
		{0, Tier1, 2.5},
		{2.9999, Tier1, 2.5},
		{3, Tier2, 4.5},
		{6.9999, Tier2, 4.5},
		{7, Tier3, 6},
		{25, Tier3, 6},
	}
	for _, tt := range tests {
		tier := ladder.TierFor(tt.maxProfit)
		assert.Equal(t, tt.want, tier, "max profit %.4f", tt.maxProfit)
		assert.Equal(t, tt.drawdown, ladder.DrawdownFor(tier), "max profit %.4f", tt.maxProfit)
	}
}

func TestLadderTier3Close(t *testing.T) {
	ladder := testLadder()

	hold := ladder.Evaluate(100, 108, 103)
	assert.False(t, hold.Close)
	assert.Equal(t, Tier3, hold.Tier)
	assert.Equal(t, StatusMoonshot, hold.StatusLabel)
	assert.InDelta(t, 101.52, hold.StopPrice, 1e-9)
	assert.InDelta(t, 8, hold.MaxProfitPercent, 1e-9)

	closed := ladder.Evaluate(100, 108, 101)
	require.True(t, closed.Close)
	assert.Equal(t, ExitLadderStop, closed.Reason)
	assert.Equal(t, "ladder stop, tier 3", closed.Describe())
}

func TestLadderPriority(t *testing.T) {
	ladder := testLadder()
	tests := []struct {
		name      string
		high      float64
		price     float64
		wantClose bool
		reason    ExitReason
	}{
		{"fresh position holds", 100, 99, false, ExitNone},
		{"tier 1 stop fires before emergency", 100, 97.4, true, ExitLadderStop},
		{"gap below both stops reports the ladder", 100, 90, true, ExitLadderStop},
		{"take profit while still above the ladder", 111, 110.5, true, ExitTakeProfit},
		{"tier 2 band", 105, 100.5, false, ExitNone},
		{"tier 2 stop", 105, 100.2, true, ExitLadderStop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ladder.Evaluate(100, tt.high, tt.price)
			assert.Equal(t, tt.wantClose, d.Close)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestLadderEmergencyStop(t *testing.T) {
	// loosen the ladder so only the raw loss rule can fire
	ladder := testLadder()
	ladder.Tier1Stop = 20

	d := ladder.Evaluate(100, 100, 94)
	require.True(t, d.Close)
	assert.Equal(t, ExitEmergencyStop, d.Reason)
	assert.Equal(t, "emergency stop-loss", d.Describe())
}

func TestScalpEvaluate(t *testing.T) {
	scalp := ScalpExitConfig{StopLoss: 2, TakeProfit: 3}
	tests := []struct {
		name   string
		high   float64
		price  float64
		reason ExitReason
	}{
		{"inside band", 102, 101, ExitNone},
		{"stop measured from entry not high", 110, 97.9, ExitScalpStop},
		{"target", 104, 103.5, ExitScalpTarget},
		{"pullback from high is ignored", 110, 99, ExitNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := scalp.Evaluate(100, tt.high, tt.price)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, tt.reason != ExitNone, d.Close)
			assert.Equal(t, StatusScalp, d.StatusLabel)
			assert.InDelta(t, 98, d.StopPrice, 1e-9)
		})
	}
}

func TestManagerEvaluateExitDispatch(t *testing.T) {
	m := NewManager(Config{Ladder: testLadder(), Scalp: ScalpExitConfig{StopLoss: 2, TakeProfit: 3}})

	cons := m.EvaluateExit(strategy.Conservative, 100, 100, 103.5)
	assert.False(t, cons.Close, "conservative rides past the scalp target")

	scalp := m.EvaluateExit(strategy.Scalp, 100, 100, 103.5)
	assert.True(t, scalp.Close)
	assert.Equal(t, ExitScalpTarget, scalp.Reason)
}

func TestPercentChange(t *testing.T) {
	assert.InDelta(t, 8.0, PercentChange(100, 108), 1e-12)
	assert.InDelta(t, -4.0, PercentChange(50, 48), 1e-12)
	assert.Equal(t, 0.0, PercentChange(0, 10))
}
