package risk

import (
	"fmt"

	"spot-ladder-bot/internal/strategy"
)

// LadderConfig holds the conservative ladder trailing stop. All values are percents.
type LadderConfig struct {
	Tier1Threshold    float64 // max profit at which tier 2 starts
	Tier2Threshold    float64 // max profit at which tier 3 starts
	Tier1Stop         float64 // allowed drawdown from high-water in tier 1
	Tier2Stop         float64
	Tier3Stop         float64
	EmergencyStopLoss float64 // raw loss from entry that always closes
	TakeProfit        float64 // raw gain from entry that always closes
}

// ScalpExitConfig holds the fixed exits of the scalp variant. Values are percents from entry.
type ScalpExitConfig struct {
	StopLoss   float64
	TakeProfit float64
}

// Tier is the ladder band a conservative position is in
type Tier int

const (
	TierNone Tier = iota
	Tier1
	Tier2
	Tier3
)

// Status labels persisted on positions
const (
	StatusHold     = "HOLD"
	StatusProtect  = "PROTECT"
	StatusTrend    = "TREND"
	StatusMoonshot = "MOONSHOT"
	StatusScalp    = "SCALP"
)

// Label returns the status label shown for the tier
func (t Tier) Label() string {
	switch t {
	case Tier1:
		return StatusProtect
	case Tier2:
		return StatusTrend
	case Tier3:
		return StatusMoonshot
	default:
		return StatusHold
	}
}

// ExitReason says why a position was (or would be) closed
type ExitReason string

const (
	ExitNone          ExitReason = ""
	ExitLadderStop    ExitReason = "ladder_stop"
	ExitEmergencyStop ExitReason = "emergency_stop"
	ExitTakeProfit    ExitReason = "take_profit"
	ExitScalpStop     ExitReason = "scalp_stop"
	ExitScalpTarget   ExitReason = "scalp_target"
	ExitSwap          ExitReason = "swap"
	ExitManual        ExitReason = "manual"
)

// ExitDecision is the outcome of evaluating one position at one price
type ExitDecision struct {
	Close            bool
	Reason           ExitReason
	Tier             Tier
	StopPrice        float64
	StatusLabel      string
	PnLPercent       float64
	MaxProfitPercent float64
}

// Describe renders the close reason for logs and alerts
func (d ExitDecision) Describe() string {
	switch d.Reason {
	case ExitLadderStop:
		return fmt.Sprintf("ladder stop, tier %d", d.Tier)
	case ExitEmergencyStop:
		return "emergency stop-loss"
	case ExitTakeProfit:
		return "take-profit"
	case ExitScalpStop:
		return "scalp stop-loss"
	case ExitScalpTarget:
		return "scalp take-profit"
	case ExitSwap:
		return "zombie swap"
	case ExitManual:
		return "manual close"
	default:
		return "hold"
	}
}

// PercentChange returns (to-from)/from in percent; zero when from is not positive
func PercentChange(from, to float64) float64 {
	if from <= 0 {
		return 0
	}
	return (to - from) / from * 100
}

// TierFor picks the ladder band from the best profit ever seen (percent).
// The band changes exactly at each threshold.
func (c LadderConfig) TierFor(maxProfitPercent float64) Tier {
	switch {
	case maxProfitPercent < c.Tier1Threshold:
		return Tier1
	case maxProfitPercent < c.Tier2Threshold:
		return Tier2
	default:
		return Tier3
	}
}

// DrawdownFor returns the allowed drawdown percent for the tier
func (c LadderConfig) DrawdownFor(t Tier) float64 {
	switch t {
	case Tier2:
		return c.Tier2Stop
	case Tier3:
		return c.Tier3Stop
	default:
		return c.Tier1Stop
	}
}

// Evaluate applies the ladder, then the emergency stop, then the take-profit target.
func (c LadderConfig) Evaluate(entry, highWater, price float64) ExitDecision {
	maxProfit := PercentChange(entry, highWater)
	tier := c.TierFor(maxProfit)
	stop := highWater * (1 - c.DrawdownFor(tier)/100)

	d := ExitDecision{
		Tier:             tier,
		StopPrice:        stop,
		StatusLabel:      tier.Label(),
		PnLPercent:       PercentChange(entry, price),
		MaxProfitPercent: maxProfit,
	}

	switch {
	case price <= stop:
		d.Close, d.Reason = true, ExitLadderStop
	case d.PnLPercent <= -c.EmergencyStopLoss:
		d.Close, d.Reason = true, ExitEmergencyStop
	case d.PnLPercent >= c.TakeProfit:
		d.Close, d.Reason = true, ExitTakeProfit
	}
	return d
}

// Evaluate applies the fixed scalp stop and target, both measured from entry.
func (c ScalpExitConfig) Evaluate(entry, highWater, price float64) ExitDecision {
	d := ExitDecision{
		StopPrice:        entry * (1 - c.StopLoss/100),
		StatusLabel:      StatusScalp,
		PnLPercent:       PercentChange(entry, price),
		MaxProfitPercent: PercentChange(entry, highWater),
	}

	switch {
	case d.PnLPercent <= -c.StopLoss:
		d.Close, d.Reason = true, ExitScalpStop
	case d.PnLPercent >= c.TakeProfit:
		d.Close, d.Reason = true, ExitScalpTarget
	}
	return d
}

// EvaluateExit dispatches on the strategy variant
func (m *Manager) EvaluateExit(s strategy.Strategy, entry, highWater, price float64) ExitDecision {
	if s == strategy.Scalp {
		return m.config.Scalp.Evaluate(entry, highWater, price)
	}
	return m.config.Ladder.Evaluate(entry, highWater, price)
}
