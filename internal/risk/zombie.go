package risk

import (
	"sort"
	"time"
)

// SwapConfig controls zombie selection
type SwapConfig struct {
	UrgentRSI  float64       // candidate RSI below this waives the holding time
	MinHold    time.Duration // default holding time before a position can be swapped out
	LossMargin float64       // PnL must be below -LossMargin percent
}

// Holding is an open position as seen by the swap resolver
type Holding struct {
	Symbol     string
	PnLPercent float64
	Held       time.Duration
}

// MinHoldFor returns the holding time required for a candidate with this RSI
func (c SwapConfig) MinHoldFor(candidateRSI float64) time.Duration {
	if candidateRSI < c.UrgentRSI {
		return 0
	}
	return c.MinHold
}

// Eligible reports whether h may be liquidated given the required holding time
func (c SwapConfig) Eligible(h Holding, minHold time.Duration) bool {
	return h.Held >= minHold && h.PnLPercent < -c.LossMargin
}

// SelectZombie returns the eligible holding with the most negative PnL.
// Ties go to the lexically smaller symbol so the choice is stable.
func (c SwapConfig) SelectZombie(holdings []Holding, candidateRSI float64) (Holding, bool) {
	minHold := c.MinHoldFor(candidateRSI)

	eligible := make([]Holding, 0, len(holdings))
	for _, h := range holdings {
		if c.Eligible(h, minHold) {
			eligible = append(eligible, h)
		}
	}
	if len(eligible) == 0 {
		return Holding{}, false
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].PnLPercent != eligible[j].PnLPercent {
			return eligible[i].PnLPercent < eligible[j].PnLPercent
		}
		return eligible[i].Symbol < eligible[j].Symbol
	})
	return eligible[0], true
}
