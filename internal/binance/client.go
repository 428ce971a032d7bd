package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"spot-ladder-bot/internal/circuit"
	"spot-ladder-bot/internal/logging"
)

// Binance API error codes handled explicitly
const (
	codeTimestampOutOfWindow = -1021
	codeFilterFailure        = -1013
	codeOrderRejected        = -2010
)

// LiveConfig configures the live exchange
type LiveConfig struct {
	APIKey           string
	SecretKey        string
	BaseURL          string
	QuoteAsset       string
	WeightPerMinute  int
	TimeSyncInterval time.Duration
	RequestTimeout   time.Duration
}

// LiveExchange talks to Binance spot through go-binance, with a request-weight
// limiter, a circuit breaker and periodic server-time sync.
type LiveExchange struct {
	client  *gobinance.Client
	cfg     LiveConfig
	limiter *RateLimiter
	breaker *circuit.Breaker
	logger  *logging.Logger

	mu        sync.Mutex
	lastSync  time.Time
	lotSteps  map[string]decimal.Decimal
	baseAsset map[string]string
}

// BreakerConfig is the breaker setup for exchange calls. Order rejections
// (-1013, -2010) are answers from a healthy venue and do not count as failures.
func BreakerConfig() circuit.Config {
	bc := circuit.DefaultConfig("binance")
	bc.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, ErrMarketClosed) || errors.Is(err, ErrInsufficientBalance)
	}
	return bc
}

// NewLiveExchange creates the live client. A nil breaker gets the default settings.
func NewLiveExchange(cfg LiveConfig, breaker *circuit.Breaker, logger *logging.Logger) *LiveExchange {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if cfg.TimeSyncInterval <= 0 {
		cfg.TimeSyncInterval = 30 * time.Minute
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	client := gobinance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}
	client.HTTPClient = &http.Client{Timeout: cfg.RequestTimeout}

	if breaker == nil {
		breaker = circuit.New(BreakerConfig(), logger)
	}

	return &LiveExchange{
		client:    client,
		cfg:       cfg,
		limiter:   NewRateLimiter(cfg.WeightPerMinute),
		breaker:   breaker,
		logger:    logger.WithComponent("binance"),
		lotSteps:  make(map[string]decimal.Decimal),
		baseAsset: make(map[string]string),
	}
}

// SyncTime aligns request timestamps with the server clock
func (e *LiveExchange) SyncTime(ctx context.Context) error {
	if err := e.limiter.Wait(ctx, WeightServerTime); err != nil {
		return err
	}
	offset, err := e.client.NewSetServerTimeService().Do(ctx)
	if err != nil {
		return fmt.Errorf("sync server time: %w", err)
	}
	e.mu.Lock()
	e.lastSync = time.Now()
	e.mu.Unlock()
	e.logger.Debug("Server time synced", "offset_ms", offset)
	return nil
}

func (e *LiveExchange) syncDue() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return time.Since(e.lastSync) >= e.cfg.TimeSyncInterval
}

func apiErrorCode(err error) (int64, bool) {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	return 0, false
}

// call runs fn behind the limiter and breaker, resyncing the clock once on -1021
func (e *LiveExchange) call(ctx context.Context, op string, weight int, fn func(ctx context.Context) error) error {
	if e.syncDue() {
		if err := e.SyncTime(ctx); err != nil {
			e.logger.Warn("Periodic time sync failed", "error", err)
		}
	}

	attempt := func() error {
		if err := e.limiter.Wait(ctx, weight); err != nil {
			return err
		}
		return e.breaker.Execute(func() error {
			err := fn(ctx)
			return classifyAPIError(err)
		})
	}

	err := attempt()
	if code, ok := apiErrorCode(err); ok && code == codeTimestampOutOfWindow {
		e.logger.Warn("Timestamp outside recvWindow, resyncing", "op", op)
		if syncErr := e.SyncTime(ctx); syncErr == nil {
			err = attempt()
		}
	}
	if err != nil {
		if errors.Is(err, ErrMarketClosed) {
			e.logger.Debug("Order filter rejected request", "op", op, "error", err)
		}
		return fmt.Errorf("binance %s: %w", op, err)
	}
	return nil
}

// classifyAPIError maps order rejections onto the package sentinels
func classifyAPIError(err error) error {
	code, ok := apiErrorCode(err)
	if !ok {
		return err
	}
	switch {
	case code == codeFilterFailure:
		return fmt.Errorf("%w: %v", ErrMarketClosed, err)
	case code == codeOrderRejected && strings.Contains(strings.ToLower(err.Error()), "insufficient balance"):
		return fmt.Errorf("%w: %v", ErrInsufficientBalance, err)
	}
	return err
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// GetTickerSnapshot returns 24h stats for every symbol
func (e *LiveExchange) GetTickerSnapshot(ctx context.Context) ([]Ticker, error) {
	var stats []*gobinance.PriceChangeStats
	err := e.call(ctx, "ticker_24hr", WeightTicker24hAll, func(ctx context.Context) error {
		var err error
		stats, err = e.client.NewListPriceChangeStatsService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	tickers := make([]Ticker, 0, len(stats))
	for _, s := range stats {
		tickers = append(tickers, Ticker{
			Symbol:             s.Symbol,
			LastPrice:          parseFloat(s.LastPrice),
			QuoteVolume:        parseFloat(s.QuoteVolume),
			PriceChangePercent: parseFloat(s.PriceChangePercent),
		})
	}
	return tickers, nil
}

// GetPrice returns the latest trade price
func (e *LiveExchange) GetPrice(ctx context.Context, symbol string) (float64, error) {
	var prices []*gobinance.SymbolPrice
	err := e.call(ctx, "ticker_price", WeightTickerPrice, func(ctx context.Context) error {
		var err error
		prices, err = e.client.NewListPricesService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	for _, p := range prices {
		if p.Symbol == symbol {
			if v := parseFloat(p.Price); v > 0 {
				return v, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrSymbolUnavailable, symbol)
}

// GetRecentCandles returns up to limit bars, oldest first
func (e *LiveExchange) GetRecentCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	var klines []*gobinance.Kline
	err := e.call(ctx, "klines", WeightKlines, func(ctx context.Context) error {
		var err error
		klines, err = e.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(klines) == 0 {
		return nil, fmt.Errorf("%w: no candles for %s", ErrSymbolUnavailable, symbol)
	}

	candles := make([]Candle, 0, len(klines))
	for _, k := range klines {
		candles = append(candles, Candle{
			OpenTime: time.UnixMilli(k.OpenTime),
			Close:    parseFloat(k.Close),
			Volume:   parseFloat(k.Volume),
		})
	}
	return candles, nil
}

// GetAccountBalances returns non-empty spot balances
func (e *LiveExchange) GetAccountBalances(ctx context.Context) ([]Balance, error) {
	var account *gobinance.Account
	err := e.call(ctx, "account", WeightAccount, func(ctx context.Context) error {
		var err error
		account, err = e.client.NewGetAccountService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	balances := make([]Balance, 0, len(account.Balances))
	for _, b := range account.Balances {
		free, locked := parseFloat(b.Free), parseFloat(b.Locked)
		if free == 0 && locked == 0 {
			continue
		}
		balances = append(balances, Balance{Asset: b.Asset, Free: free, Locked: locked})
	}
	return balances, nil
}

// PlaceMarketOrder buys with quoteOrderQty or sells the whole free base balance
func (e *LiveExchange) PlaceMarketOrder(ctx context.Context, symbol string, side OrderSide, quoteAmount float64) (*OrderConfirmation, error) {
	clientID := "slb-" + uuid.NewString()[:18]
	svc := e.client.NewCreateOrderService().
		Symbol(symbol).
		Type(gobinance.OrderTypeMarket).
		NewClientOrderID(clientID).
		NewOrderRespType(gobinance.NewOrderRespTypeRESULT)

	switch side {
	case SideBuy:
		svc = svc.Side(gobinance.SideTypeBuy).QuoteOrderQty(decimal.NewFromFloat(quoteAmount).StringFixed(2))
	case SideSell:
		qty, err := e.sellQuantity(ctx, symbol)
		if err != nil {
			return nil, err
		}
		svc = svc.Side(gobinance.SideTypeSell).Quantity(qty.String())
	default:
		return nil, fmt.Errorf("unknown order side %q", side)
	}

	var resp *gobinance.CreateOrderResponse
	err := e.call(ctx, "order_"+string(side), WeightOrder, func(ctx context.Context) error {
		var err error
		resp, err = svc.Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	conf := &OrderConfirmation{
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		Symbol:        resp.Symbol,
		Side:          side,
		Status:        string(resp.Status),
		ExecutedQty:   parseFloat(resp.ExecutedQuantity),
		QuoteQty:      parseFloat(resp.CummulativeQuoteQuantity),
		TransactTime:  time.UnixMilli(resp.TransactTime),
	}
	e.logger.Info("Market order placed",
		"symbol", symbol, "side", side, "quote_amount", quoteAmount,
		"order_id", conf.OrderID, "executed_qty", conf.ExecutedQty, "status", conf.Status)
	return conf, nil
}

// sellQuantity floors the free base balance to the symbol LOT_SIZE step
func (e *LiveExchange) sellQuantity(ctx context.Context, symbol string) (decimal.Decimal, error) {
	step, base, err := e.symbolFilters(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	balances, err := e.GetAccountBalances(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	free, _ := FreeBalance(balances, base)

	qty := decimal.NewFromFloat(free)
	if step.IsPositive() {
		qty = qty.Div(step).Floor().Mul(step)
	}
	if !qty.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNoBalance, base)
	}
	return qty, nil
}

func (e *LiveExchange) symbolFilters(ctx context.Context, symbol string) (decimal.Decimal, string, error) {
	e.mu.Lock()
	step, okStep := e.lotSteps[symbol]
	base, okBase := e.baseAsset[symbol]
	e.mu.Unlock()
	if okStep && okBase {
		return step, base, nil
	}

	var info *gobinance.ExchangeInfo
	err := e.call(ctx, "exchange_info", WeightExchangeInfo, func(ctx context.Context) error {
		var err error
		info, err = e.client.NewExchangeInfoService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return decimal.Zero, "", err
	}

	base = BaseAsset(symbol, e.cfg.QuoteAsset)
	step = decimal.Zero
	for i := range info.Symbols {
		s := &info.Symbols[i]
		if s.Symbol != symbol {
			continue
		}
		base = s.BaseAsset
		if lot := s.LotSizeFilter(); lot != nil {
			if d, err := decimal.NewFromString(lot.StepSize); err == nil {
				step = d
			}
		}
	}

	e.mu.Lock()
	e.lotSteps[symbol] = step
	e.baseAsset[symbol] = base
	e.mu.Unlock()
	return step, base, nil
}

var _ Exchange = (*LiveExchange)(nil)
