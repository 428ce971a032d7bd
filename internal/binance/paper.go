package binance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"spot-ladder-bot/internal/logging"
)

// paperMinNotional mirrors the spot MIN_NOTIONAL filter for USDT pairs
const paperMinNotional = 5.0

// defaultPaperPrices is the synthetic universe used when no live feed is reachable
var defaultPaperPrices = map[string]float64{
	"BTCUSDT":  104500.00,
	"ETHUSDT":  3900.00,
	"BNBUSDT":  710.00,
	"SOLUSDT":  220.00,
	"XRPUSDT":  2.35,
	"ADAUSDT":  1.05,
	"DOGEUSDT": 0.40,
	"AVAXUSDT": 50.00,
	"DOTUSDT":  9.50,
	"LINKUSDT": 28.00,
	"UNIUSDT":  17.50,
	"ATOMUSDT": 12.00,
	"LTCUSDT":  115.00,
	"NEARUSDT": 7.00,
	"APTUSDT":  13.50,
	"ARBUSDT":  1.10,
	"OPUSDT":   2.80,
}

// PaperConfig configures the simulated exchange
type PaperConfig struct {
	Balance    float64
	QuoteAsset string
	// Feed serves tickers, prices and candles from the live market. Orders and
	// balances stay simulated. Optional; the synthetic universe answers when
	// it is nil or unreachable.
	Feed MarketData
	// Volatility is the max fractional move per walk step. Zero freezes prices.
	Volatility float64
	// FeeRate is charged on both sides, as a fraction of notional
	FeeRate float64
	Seed    int64
	// Prices overrides the synthetic universe
	Prices map[string]float64
}

// PaperExchange fills market orders at the current simulated price and keeps
// balances in memory.
type PaperExchange struct {
	cfg    PaperConfig
	logger *logging.Logger

	mu       sync.Mutex
	rng      *rand.Rand
	offline  bool
	prices   map[string]float64
	open24h  map[string]float64
	volumes  map[string]float64
	quote    float64
	holdings map[string]float64
	orderSeq int64
	lastWalk time.Time
}

// NewPaperExchange creates a paper exchange holding cfg.Balance of the quote asset
func NewPaperExchange(cfg PaperConfig, logger *logging.Logger) *PaperExchange {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	p := &PaperExchange{
		cfg:      cfg,
		logger:   logger.WithComponent("paper_exchange"),
		rng:      rand.New(rand.NewSource(seed)),
		prices:   make(map[string]float64),
		open24h:  make(map[string]float64),
		volumes:  make(map[string]float64),
		quote:    cfg.Balance,
		holdings: make(map[string]float64),
	}

	universe := cfg.Prices
	if universe == nil {
		universe = defaultPaperPrices
	}
	for symbol, price := range universe {
		p.setPriceLocked(symbol, price)
	}
	return p
}

func (p *PaperExchange) setPriceLocked(symbol string, price float64) {
	p.prices[symbol] = price
	if _, ok := p.open24h[symbol]; !ok {
		p.open24h[symbol] = price
	}
	if _, ok := p.volumes[symbol]; !ok {
		p.volumes[symbol] = 5_000_000 + p.rng.Float64()*50_000_000
	}
}

// SetPrice pins a symbol's current price
func (p *PaperExchange) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setPriceLocked(symbol, price)
}

// SetQuoteVolume overrides the 24h quote volume reported for a symbol
func (p *PaperExchange) SetQuoteVolume(symbol string, volume float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volumes[symbol] = volume
}

// Deposit credits qty of asset to the paper wallet. It is used to back
// positions restored from the store, which the fresh wallet would not hold.
func (p *PaperExchange) Deposit(asset string, qty float64) {
	if qty <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if strings.EqualFold(asset, p.cfg.QuoteAsset) {
		p.quote += qty
		return
	}
	p.holdings[strings.ToUpper(asset)] += qty
}

// feed returns the live source for market data, or nil when prices are
// synthetic. Explicit prices win over the feed.
func (p *PaperExchange) feed() MarketData {
	if p.cfg.Prices != nil {
		return nil
	}
	return p.cfg.Feed
}

// feedFailed logs the first of a run of feed errors; the synthetic universe
// answers until the feed recovers
func (p *PaperExchange) feedFailed(op string, err error) {
	p.mu.Lock()
	first := !p.offline
	p.offline = true
	p.mu.Unlock()
	if first {
		p.logger.Warn("Live feed unreachable, using synthetic prices", "op", op, "error", err)
	}
}

func (p *PaperExchange) feedOK() {
	p.mu.Lock()
	recovered := p.offline
	p.offline = false
	p.mu.Unlock()
	if recovered {
		p.logger.Info("Live feed recovered")
	}
}

// recordTickers keeps the last live quotes so orders fill at market and the
// synthetic fallback starts from real levels
func (p *PaperExchange) recordTickers(tickers []Ticker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range tickers {
		if t.LastPrice <= 0 {
			continue
		}
		p.prices[t.Symbol] = t.LastPrice
		p.open24h[t.Symbol] = t.LastPrice / (1 + t.PriceChangePercent/100)
		p.volumes[t.Symbol] = t.QuoteVolume
	}
}

func (p *PaperExchange) recordPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setPriceLocked(symbol, price)
}

// walk applies a random step to every price, at most once per second
func (p *PaperExchange) walk() {
	if p.cfg.Volatility <= 0 {
		return
	}
	if time.Since(p.lastWalk) < time.Second {
		return
	}
	for symbol, price := range p.prices {
		change := (p.rng.Float64()*2 - 1) * p.cfg.Volatility
		p.prices[symbol] = price * (1 + change)
	}
	p.lastWalk = time.Now()
}

// GetTickerSnapshot returns the live 24h stats, or the simulated ones offline
func (p *PaperExchange) GetTickerSnapshot(ctx context.Context) ([]Ticker, error) {
	if feed := p.feed(); feed != nil {
		tickers, err := feed.GetTickerSnapshot(ctx)
		if err == nil {
			p.feedOK()
			p.recordTickers(tickers)
			return tickers, nil
		}
		p.feedFailed("ticker_snapshot", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.walk()

	tickers := make([]Ticker, 0, len(p.prices))
	for symbol, price := range p.prices {
		change := 0.0
		if open := p.open24h[symbol]; open > 0 {
			change = (price - open) / open * 100
		}
		tickers = append(tickers, Ticker{
			Symbol:             symbol,
			LastPrice:          price,
			QuoteVolume:        p.volumes[symbol],
			PriceChangePercent: change,
		})
	}
	sort.Slice(tickers, func(i, j int) bool { return tickers[i].Symbol < tickers[j].Symbol })
	return tickers, nil
}

// GetPrice returns the live price, or the simulated one offline
func (p *PaperExchange) GetPrice(ctx context.Context, symbol string) (float64, error) {
	if feed := p.feed(); feed != nil {
		price, err := feed.GetPrice(ctx, symbol)
		switch {
		case err == nil:
			p.feedOK()
			p.recordPrice(symbol, price)
			return price, nil
		case errors.Is(err, ErrSymbolUnavailable):
			return 0, err
		}
		p.feedFailed("price", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.walk()

	price, ok := p.prices[symbol]
	if !ok || price <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrSymbolUnavailable, symbol)
	}
	return price, nil
}

// GetRecentCandles returns live klines. Offline it builds a synthetic path
// that ends at the current price.
func (p *PaperExchange) GetRecentCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	if feed := p.feed(); feed != nil {
		candles, err := feed.GetRecentCandles(ctx, symbol, interval, limit)
		switch {
		case err == nil:
			p.feedOK()
			return candles, nil
		case errors.Is(err, ErrSymbolUnavailable):
			return nil, err
		}
		p.feedFailed("candles", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.prices[symbol]
	if !ok || price <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrSymbolUnavailable, symbol)
	}
	if limit <= 0 {
		return nil, nil
	}

	step := intervalDuration(interval)
	now := time.Now().Truncate(step)
	candles := make([]Candle, limit)
	closePrice := price
	for i := limit - 1; i >= 0; i-- {
		candles[i] = Candle{
			OpenTime: now.Add(-time.Duration(limit-1-i) * step),
			Close:    closePrice,
			Volume:   1000 + p.rng.Float64()*5000,
		}
		change := (p.rng.Float64() - 0.5) * 0.02
		closePrice = math.Max(closePrice/(1+change), price*0.01)
	}
	return candles, nil
}

func intervalDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// GetAccountBalances returns the quote balance and every non-zero holding
func (p *PaperExchange) GetAccountBalances(ctx context.Context) ([]Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	balances := []Balance{{Asset: p.cfg.QuoteAsset, Free: p.quote}}
	assets := make([]string, 0, len(p.holdings))
	for asset, qty := range p.holdings {
		if qty > 0 {
			assets = append(assets, asset)
		}
	}
	sort.Strings(assets)
	for _, asset := range assets {
		balances = append(balances, Balance{Asset: asset, Free: p.holdings[asset]})
	}
	return balances, nil
}

// PlaceMarketOrder fills immediately at the current price
func (p *PaperExchange) PlaceMarketOrder(ctx context.Context, symbol string, side OrderSide, quoteAmount float64) (*OrderConfirmation, error) {
	price, err := p.GetPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	base := BaseAsset(symbol, p.cfg.QuoteAsset)

	var qty, quoteQty float64
	switch side {
	case SideBuy:
		if quoteAmount < paperMinNotional {
			return nil, fmt.Errorf("%w: notional %.2f below %.2f", ErrMarketClosed, quoteAmount, paperMinNotional)
		}
		if quoteAmount > p.quote+1e-9 {
			return nil, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientBalance, quoteAmount, p.quote)
		}
		quoteQty = quoteAmount
		qty = quoteAmount * (1 - p.cfg.FeeRate) / price
		p.quote -= quoteAmount
		p.holdings[base] += qty
	case SideSell:
		qty = p.holdings[base]
		if qty <= 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoBalance, base)
		}
		quoteQty = qty * price
		p.quote += quoteQty * (1 - p.cfg.FeeRate)
		delete(p.holdings, base)
	default:
		return nil, fmt.Errorf("unknown order side %q", side)
	}

	p.orderSeq++
	conf := &OrderConfirmation{
		OrderID:       p.orderSeq,
		ClientOrderID: "slb-paper-" + uuid.NewString()[:8],
		Symbol:        symbol,
		Side:          side,
		Status:        "FILLED",
		ExecutedQty:   qty,
		QuoteQty:      quoteQty,
		TransactTime:  time.Now(),
	}
	p.logger.Info("Paper order filled",
		"symbol", symbol, "side", side, "qty", qty, "quote_qty", quoteQty, "price", price)
	return conf, nil
}

var _ Exchange = (*PaperExchange)(nil)
