package database

import (
	"errors"
	"fmt"
	"time"

	"spot-ladder-bot/internal/risk"
	"spot-ladder-bot/internal/strategy"
)

// DefaultStatusLabel is the label of a position that has not been evaluated yet
const DefaultStatusLabel = "HOLD"

// Position is an open allocation in one symbol
type Position struct {
	Symbol       string            `json:"symbol"`
	EntryPrice   float64           `json:"entry_price"`
	HighestPrice float64           `json:"highest_price"`
	AmountUSDT   float64           `json:"amount_usdt"`
	RSIAtEntry   float64           `json:"rsi_at_entry"`
	EntryTime    time.Time         `json:"entry_time"`
	Strategy     strategy.Strategy `json:"strategy"`
	StopPrice    float64           `json:"stop_price"`
	StatusLabel  string            `json:"status_label"`
}

// NewPosition builds a validated position with its high-water mark at entry
func NewPosition(symbol string, entryPrice, amountUSDT, rsi float64, s strategy.Strategy, at time.Time) (*Position, error) {
	p := &Position{
		Symbol:       symbol,
		EntryPrice:   entryPrice,
		HighestPrice: entryPrice,
		AmountUSDT:   amountUSDT,
		RSIAtEntry:   rsi,
		EntryTime:    at,
		Strategy:     s,
		StatusLabel:  DefaultStatusLabel,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the position invariants
func (p *Position) Validate() error {
	switch {
	case p.Symbol == "":
		return errors.New("position symbol is empty")
	case p.EntryPrice <= 0:
		return fmt.Errorf("%s: entry price must be positive, got %v", p.Symbol, p.EntryPrice)
	case p.AmountUSDT <= 0:
		return fmt.Errorf("%s: allocated capital must be positive, got %v", p.Symbol, p.AmountUSDT)
	case p.HighestPrice < p.EntryPrice:
		return fmt.Errorf("%s: high-water %v below entry %v", p.Symbol, p.HighestPrice, p.EntryPrice)
	case !p.Strategy.Valid():
		return fmt.Errorf("%s: unknown strategy %q", p.Symbol, p.Strategy)
	}
	return nil
}

// applyDefaults fills columns that older rows may lack
func (p *Position) applyDefaults() {
	if p.StatusLabel == "" {
		p.StatusLabel = DefaultStatusLabel
	}
	if p.HighestPrice < p.EntryPrice {
		p.HighestPrice = p.EntryPrice
	}
	if p.Strategy == "" {
		p.Strategy = strategy.Conservative
	}
}

// ObservePrice raises the high-water mark. It returns true when the mark moved.
func (p *Position) ObservePrice(price float64) bool {
	if price > p.HighestPrice {
		p.HighestPrice = price
		return true
	}
	return false
}

// PnLPercent returns unrealized PnL in percent at price
func (p *Position) PnLPercent(price float64) float64 {
	return risk.PercentChange(p.EntryPrice, price)
}

// MaxProfitPercent returns the best PnL ever seen, in percent
func (p *Position) MaxProfitPercent() float64 {
	return risk.PercentChange(p.EntryPrice, p.HighestPrice)
}

// ValueAt marks the allocation to market
func (p *Position) ValueAt(price float64) float64 {
	if p.EntryPrice <= 0 || price <= 0 {
		return p.AmountUSDT
	}
	return p.AmountUSDT * price / p.EntryPrice
}

// HeldFor returns how long the position has been open at now
func (p *Position) HeldFor(now time.Time) time.Duration {
	return now.Sub(p.EntryTime)
}

// CandidateStatus is the scanner classification of a symbol
type CandidateStatus string

const (
	CandidateBuy       CandidateStatus = "BUY"
	CandidateScalp     CandidateStatus = "SCALP"
	CandidateDowntrend CandidateStatus = "DOWNTREND"
	CandidateRSIHigh   CandidateStatus = "RSI_HIGH"
)

// Candidate is one row of the scanner snapshot
type Candidate struct {
	Symbol      string          `json:"symbol"`
	Price       float64         `json:"price"`
	RSI         float64         `json:"rsi"`
	EMA         float64         `json:"ema"` // zero when there was not enough history
	RVOL        float64         `json:"rvol"`
	Change24h   float64         `json:"change_24h"`
	QuoteVolume float64         `json:"quote_volume"`
	Status      CandidateStatus `json:"status"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// EquitySample is one point of the equity curve
type EquitySample struct {
	Timestamp      time.Time `json:"timestamp"`
	Equity         float64   `json:"equity"`
	FreeBalance    float64   `json:"free_balance"`
	ChangePercent  float64   `json:"change_pct"`
	PositionsCount int       `json:"positions_count"`
}

// WalletSummary is the latest equity figure
type WalletSummary struct {
	CurrentEquity float64   `json:"current_equity"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// EventLevel is the severity of a system event
type EventLevel string

const (
	LevelInfo  EventLevel = "INFO"
	LevelWarn  EventLevel = "WARN"
	LevelError EventLevel = "ERROR"
)

// System event categories
const (
	CategorySystem = "SYSTEM"
	CategoryTrade  = "TRADE"
	CategoryScan   = "SCAN"
	CategorySwap   = "SWAP"
	CategoryAlert  = "ALERT"
)

// SystemEvent is an audit record shown to users
type SystemEvent struct {
	ID        int64      `json:"id"`
	Timestamp time.Time  `json:"timestamp"`
	Level     EventLevel `json:"level"`
	Category  string     `json:"category"`
	Message   string     `json:"message"`
}

// MarketDataPoint records the indicators seen for a symbol during a scan
type MarketDataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	RSI       float64   `json:"rsi"`
	Volume24h float64   `json:"volume_24h"`
	RVOL      float64   `json:"rvol"`
}
