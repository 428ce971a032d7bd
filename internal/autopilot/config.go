package autopilot

import "time"

// Config holds the control loop settings
type Config struct {
	CycleInterval time.Duration
	ErrorBackoff  time.Duration
	CallTimeout   time.Duration // per external call
	SettleDelay   time.Duration // wait between a swap sell and the retried buy

	// Milestones are PnL percents that trigger a one-shot alert per position
	Milestones []float64

	QuoteAsset string
	// FallbackBalance is the estimated free balance used before any account read succeeds
	FallbackBalance float64

	ManualQueueSize int
}

// DefaultConfig returns the production loop settings
func DefaultConfig() Config {
	return Config{
		CycleInterval:   60 * time.Second,
		ErrorBackoff:    10 * time.Second,
		CallTimeout:     15 * time.Second,
		SettleDelay:     2 * time.Second,
		Milestones:      []float64{3, 5},
		QuoteAsset:      "USDT",
		FallbackBalance: 100,
		ManualQueueSize: 16,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CycleInterval <= 0 {
		c.CycleInterval = d.CycleInterval
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = d.ErrorBackoff
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.QuoteAsset == "" {
		c.QuoteAsset = d.QuoteAsset
	}
	if c.ManualQueueSize <= 0 {
		c.ManualQueueSize = d.ManualQueueSize
	}
	return c
}
