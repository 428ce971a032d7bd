package strategy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func series(n int, f func(i int) float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = f(i)
	}
	return out
}

func TestCalculateRSIInsufficientData(t *testing.T) {
	_, ok := CalculateRSI(series(14, func(i int) float64 { return float64(i) }), 14)
	assert.False(t, ok, "14 prices cannot produce 14 deltas")

	_, ok = CalculateRSI(series(15, func(i int) float64 { return float64(i) }), 14)
	assert.True(t, ok)
}

func TestCalculateRSINoLosses(t *testing.T) {
	tests := []struct {
		name   string
		prices []float64
	}{
		{"strictly rising", series(30, func(i int) float64 { return 100 + float64(i) })},
		{"flat", series(30, func(int) float64 { return 42 })},
		{"rising with plateaus", series(30, func(i int) float64 { return float64(i / 3) })},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rsi, ok := CalculateRSI(tt.prices, 14)
			require.True(t, ok)
			assert.Equal(t, 100.0, rsi)
		})
	}
}

func TestCalculateRSIBounds(t *testing.T) {
	inputs := [][]float64{
		series(40, func(i int) float64 { return 100 - float64(i) }),
		series(40, func(i int) float64 { return 100 + 10*math.Sin(float64(i)) }),
		series(110, func(i int) float64 { return 50 + float64(i%7) - float64(i%3) }),
	}
	for i, prices := range inputs {
		rsi, ok := CalculateRSI(prices, 14)
		require.True(t, ok)
		assert.GreaterOrEqual(t, rsi, 0.0, "input %d", i)
		assert.LessOrEqual(t, rsi, 100.0, "input %d", i)
	}

	falling, _ := CalculateRSI(inputs[0], 14)
	assert.Equal(t, 0.0, falling)
}

func TestCalculateRSIWilderSmoothing(t *testing.T) {
	// 14 deltas of +1 seed avgGain=1, avgLoss=0; one more delta of -2 gives
	// avgGain=13/14, avgLoss=2/14 so RS=6.5 and RSI=100-100/7.5
	prices := series(15, func(i int) float64 { return float64(i) })
	prices = append(prices, prices[len(prices)-1]-2)

	rsi, ok := CalculateRSI(prices, 14)
	require.True(t, ok)
	assert.InDelta(t, 100-100/7.5, rsi, 1e-9)
}

func TestCalculateEMA(t *testing.T) {
	_, ok := CalculateEMA(series(99, func(int) float64 { return 1 }), 100)
	assert.False(t, ok)

	ema, ok := CalculateEMA(series(150, func(int) float64 { return 7.25 }), 100)
	require.True(t, ok)
	assert.InDelta(t, 7.25, ema, 1e-12)

	// seed only: exactly period values gives the simple mean
	ema, ok = CalculateEMA([]float64{1, 2, 3, 4}, 4)
	require.True(t, ok)
	assert.InDelta(t, 2.5, ema, 1e-12)

	// one step after the seed: k = 2/5
	ema, ok = CalculateEMA([]float64{1, 2, 3, 4, 10}, 4)
	require.True(t, ok)
	assert.InDelta(t, 10*0.4+2.5*0.6, ema, 1e-12)
}

func TestCalculateEMAMonotone(t *testing.T) {
	base := series(120, func(i int) float64 { return 10 + math.Cos(float64(i)/5) })
	higher := make([]float64, len(base))
	for i, v := range base {
		higher[i] = v + 0.5
	}

	lo, _ := CalculateEMA(base, 100)
	hi, _ := CalculateEMA(higher, 100)
	assert.Greater(t, hi, lo)
	assert.InDelta(t, 0.5, hi-lo, 1e-9)
}

func TestCalculateRelativeVolume(t *testing.T) {
	tests := []struct {
		name    string
		volumes []float64
		want    float64
	}{
		{"empty", nil, 1.0},
		{"24 samples", series(24, func(int) float64 { return 5 }), 1.0},
		{"flat 25", series(25, func(int) float64 { return 5 }), 1.0},
		{"spike", append(series(24, func(int) float64 { return 2 }), 6), 3.0},
		{"zero history", append(series(24, func(int) float64 { return 0 }), 9), 0.0},
		{"only trailing window counts", append(append([]float64{1000}, series(24, func(int) float64 { return 4 })...), 2), 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CalculateRelativeVolume(tt.volumes), 1e-12)
		})
	}
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, Conservative, s)

	s, err = ParseStrategy("scalp")
	require.NoError(t, err)
	assert.Equal(t, Scalp, s)

	_, err = ParseStrategy("martingale")
	assert.Error(t, err)
}
