package binance

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrSymbolUnavailable means no price or candles could be obtained for the symbol
	ErrSymbolUnavailable = errors.New("symbol data unavailable")
	// ErrMarketClosed maps Binance -1013 (filter failure, e.g. below min notional or halted)
	ErrMarketClosed = errors.New("order rejected by symbol filters")
	// ErrNoBalance means there is nothing to sell
	ErrNoBalance = errors.New("no free balance to sell")
	// ErrInsufficientBalance means a buy exceeds the free quote balance (Binance -2010)
	ErrInsufficientBalance = errors.New("insufficient quote balance")
)

// Ticker is one row of the 24h ticker snapshot
type Ticker struct {
	Symbol             string  `json:"symbol"`
	LastPrice          float64 `json:"last_price"`
	QuoteVolume        float64 `json:"quote_volume"`
	PriceChangePercent float64 `json:"price_change_percent"`
}

// Candle is a closed bar reduced to what the indicators need
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Balance is a spot asset balance
type Balance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
}

// OrderSide is BUY or SELL
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderConfirmation is returned for an accepted market order
type OrderConfirmation struct {
	OrderID       int64     `json:"order_id"`
	ClientOrderID string    `json:"client_order_id"`
	Symbol        string    `json:"symbol"`
	Side          OrderSide `json:"side"`
	Status        string    `json:"status"`
	ExecutedQty   float64   `json:"executed_qty"`
	QuoteQty      float64   `json:"quote_qty"`
	TransactTime  time.Time `json:"transact_time"`
}

// AvgPrice returns the average fill price, or zero when the fill is unknown
func (o *OrderConfirmation) AvgPrice() float64 {
	if o == nil || o.ExecutedQty <= 0 {
		return 0
	}
	return o.QuoteQty / o.ExecutedQty
}

// MarketData is the read-only half of the exchange
type MarketData interface {
	GetTickerSnapshot(ctx context.Context) ([]Ticker, error)
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetRecentCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}

// Exchange is everything the engine needs from the venue
type Exchange interface {
	MarketData
	GetAccountBalances(ctx context.Context) ([]Balance, error)
	// PlaceMarketOrder spends quoteAmount on a BUY. A SELL liquidates the free base balance;
	// quoteAmount is the expected proceeds.
	PlaceMarketOrder(ctx context.Context, symbol string, side OrderSide, quoteAmount float64) (*OrderConfirmation, error)
}

// FreeBalance finds the free amount of asset
func FreeBalance(balances []Balance, asset string) (float64, bool) {
	for _, b := range balances {
		if strings.EqualFold(b.Asset, asset) {
			return b.Free, true
		}
	}
	return 0, false
}

// BaseAsset strips the quote asset suffix from a symbol
func BaseAsset(symbol, quote string) string {
	return strings.TrimSuffix(symbol, quote)
}

// Closes extracts close prices in order
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Volumes extracts volumes in order
func Volumes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}
