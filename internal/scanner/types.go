package scanner

import (
	"time"

	"spot-ladder-bot/internal/database"
	"spot-ladder-bot/internal/strategy"
)

// Config holds scanner filters and entry thresholds. RSI values are on the 0-100 scale.
type Config struct {
	QuoteAsset     string
	MinQuoteVolume float64
	TopN           int
	IgnoreSymbols  []string

	KlineInterval string
	KlineLimit    int
	RSIPeriod     int
	EMAPeriod     int

	ConservativeBuyRSI float64
	DowntrendRSI       float64 // stricter RSI required when price is below the EMA
	ScalpEnabled       bool
	ScalpBuyRSI        float64

	WorkerCount int
}

// DefaultConfig returns the production thresholds
func DefaultConfig() Config {
	return Config{
		QuoteAsset:         "USDT",
		MinQuoteVolume:     2_000_000,
		TopN:               15,
		KlineInterval:      "1h",
		KlineLimit:         110,
		RSIPeriod:          strategy.DefaultRSIPeriod,
		EMAPeriod:          strategy.DefaultEMAPeriod,
		ConservativeBuyRSI: 23,
		DowntrendRSI:       20,
		ScalpEnabled:       true,
		ScalpBuyRSI:        30,
		WorkerCount:        4,
	}
}

// Opportunity is a candidate eligible for entry on one track
type Opportunity struct {
	Candidate database.Candidate `json:"candidate"`
	Strategy  strategy.Strategy  `json:"strategy"`
}

// Symbol returns the candidate symbol
func (o Opportunity) Symbol() string { return o.Candidate.Symbol }

// RSI returns the candidate RSI
func (o Opportunity) RSI() float64 { return o.Candidate.RSI }

// Result aggregates one scan
type Result struct {
	ScanID    string        `json:"scan_id"`
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
	// Filtered counts tickers surviving the coarse filter
	Filtered      int                        `json:"filtered"`
	Candidates    []database.Candidate       `json:"candidates"`
	Opportunities []Opportunity              `json:"opportunities"`
	MarketData    []database.MarketDataPoint `json:"-"`
}
