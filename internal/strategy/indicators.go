package strategy

// ============================================================================
// RSI (Relative Strength Index)
// ============================================================================

// DefaultRSIPeriod is the Wilder RSI lookback used by the scanner
const DefaultRSIPeriod = 14

// CalculateRSI returns Wilder's smoothed RSI of prices.
// ok is false when fewer than period+1 prices are supplied.
func CalculateRSI(prices []float64, period int) (rsi float64, ok bool) {
	if period <= 0 || len(prices) < period+1 {
		return 0, false
	}

	// Seed with the simple mean of the first period deltas
	var gains, losses float64
	for i := 1; i <= period; i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	p := float64(period)
	for i := period + 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
	}

	if avgLoss == 0 {
		return 100, true
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs)), true
}

// ============================================================================
// MOVING AVERAGES
// ============================================================================

// DefaultEMAPeriod is the trend filter length
const DefaultEMAPeriod = 100

// CalculateEMA returns the exponential moving average of prices, seeded with
// the simple mean of the first period values. ok is false when len(prices) < period.
func CalculateEMA(prices []float64, period int) (ema float64, ok bool) {
	if period <= 0 || len(prices) < period {
		return 0, false
	}

	sum := 0.0
	for _, p := range prices[:period] {
		sum += p
	}
	ema = sum / float64(period)

	multiplier := 2.0 / float64(period+1)
	for _, p := range prices[period:] {
		ema = (p * multiplier) + (ema * (1 - multiplier))
	}

	return ema, true
}

// ============================================================================
// VOLUME
// ============================================================================

// RelativeVolumeLookback is the number of bars averaged behind the latest one
const RelativeVolumeLookback = 24

// CalculateRelativeVolume divides the last volume by the mean of the
// RelativeVolumeLookback bars before it. With too little history it returns 1.0 (no signal).
func CalculateRelativeVolume(volumes []float64) float64 {
	if len(volumes) < RelativeVolumeLookback+1 {
		return 1.0
	}

	last := len(volumes) - 1
	sum := 0.0
	for _, v := range volumes[last-RelativeVolumeLookback : last] {
		sum += v
	}
	avg := sum / RelativeVolumeLookback
	if avg == 0 {
		return 0.0
	}

	return volumes[last] / avg
}
