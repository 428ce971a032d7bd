package risk

import (
	"time"

	"spot-ladder-bot/internal/strategy"
)

// Config bundles the entry sizing and exit rules
type Config struct {
	Ladder    LadderConfig
	Scalp     ScalpExitConfig
	Allocator AllocatorConfig
	Swap      SwapConfig

	ConservativeSwapRSI float64 // candidate RSI below which a conservative entry may force a swap
	ScalpSwapRSI        float64

	CooldownDuration time.Duration // re-entry suppression after a close
}

// Manager answers the risk questions the autopilot asks each cycle.
// It holds no mutable state.
type Manager struct {
	config Config
}

// NewManager creates a new risk manager
func NewManager(config Config) *Manager {
	return &Manager{config: config}
}

// Config returns the rules in effect
func (m *Manager) Config() Config {
	return m.config
}

// SizeEntry proposes a trade size for the given free balance
func (m *Manager) SizeEntry(freeBalance float64) (Allocation, error) {
	return m.config.Allocator.Allocate(freeBalance)
}

// SwapThreshold returns the candidate RSI under which a capital shortfall may trigger a swap
func (m *Manager) SwapThreshold(s strategy.Strategy) float64 {
	if s == strategy.Scalp {
		return m.config.ScalpSwapRSI
	}
	return m.config.ConservativeSwapRSI
}

// ShouldSwap reports whether a candidate is strong enough to sacrifice an open position for
func (m *Manager) ShouldSwap(s strategy.Strategy, candidateRSI float64) bool {
	return candidateRSI < m.SwapThreshold(s)
}

// MinHoldFor returns how long a position must be held before a swap for this candidate may close it
func (m *Manager) MinHoldFor(candidateRSI float64) time.Duration {
	return m.config.Swap.MinHoldFor(candidateRSI)
}

// SelectZombie picks the position to liquidate for a candidate with the given RSI
func (m *Manager) SelectZombie(holdings []Holding, candidateRSI float64) (Holding, bool) {
	return m.config.Swap.SelectZombie(holdings, candidateRSI)
}
