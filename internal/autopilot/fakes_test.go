package autopilot

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"spot-ladder-bot/internal/binance"
	"spot-ladder-bot/internal/database"
	"spot-ladder-bot/internal/notification"
)

var errStoreDown = errors.New("store unavailable")

type placedOrder struct {
	Symbol string
	Side   binance.OrderSide
	Amount float64
}

// fakeExchange fills every order at the configured price
type fakeExchange struct {
	mu         sync.Mutex
	prices     map[string]float64
	candles    map[string][]binance.Candle
	tickers    []binance.Ticker
	free       float64
	accountErr error
	sellErr    map[string]error
	buyErr     error
	panicOnTop bool
	orders     []placedOrder
	seq        int64
}

func newFakeExchange(free float64) *fakeExchange {
	return &fakeExchange{
		prices:  make(map[string]float64),
		candles: make(map[string][]binance.Candle),
		free:    free,
		sellErr: make(map[string]error),
	}
}

// listOversold adds a ticker whose candles fall steadily into price
func (f *fakeExchange) listOversold(symbol string, price float64) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = price * (1 + float64(len(closes)-1-i)*0.01)
	}
	f.listWithCloses(symbol, closes)
}

// listScalpDip adds a ticker whose choppy decline lands RSI near 28: inside
// the scalp band, above the conservative threshold. It returns the last close.
func (f *fakeExchange) listScalpDip(symbol string) float64 {
	closes := []float64{60}
	for i := 0; i < 29; i++ {
		step := -1.0
		if i%2 == 0 {
			step = 0.35
		}
		closes = append(closes, closes[len(closes)-1]+step)
	}
	f.listWithCloses(symbol, closes)
	return closes[len(closes)-1]
}

func (f *fakeExchange) listWithCloses(symbol string, closes []float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	price := closes[len(closes)-1]
	f.tickers = append(f.tickers, binance.Ticker{
		Symbol:             symbol,
		LastPrice:          price,
		QuoteVolume:        10_000_000,
		PriceChangePercent: -8,
	})
	candles := make([]binance.Candle, len(closes))
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		candles[i] = binance.Candle{
			OpenTime: start.Add(time.Duration(i) * time.Hour),
			Close:    c,
			Volume:   1000,
		}
	}
	f.candles[symbol] = candles
	f.prices[symbol] = price
}

func (f *fakeExchange) setBuyErr(err error) {
	f.mu.Lock()
	f.buyErr = err
	f.mu.Unlock()
}

func (f *fakeExchange) setPrice(symbol string, price float64) {
	f.mu.Lock()
	f.prices[symbol] = price
	f.mu.Unlock()
}

func (f *fakeExchange) setSellErr(symbol string, err error) {
	f.mu.Lock()
	if err == nil {
		delete(f.sellErr, symbol)
	} else {
		f.sellErr[symbol] = err
	}
	f.mu.Unlock()
}

func (f *fakeExchange) placed() []placedOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]placedOrder(nil), f.orders...)
}

func (f *fakeExchange) freeBalance() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.free
}

func (f *fakeExchange) GetTickerSnapshot(context.Context) ([]binance.Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]binance.Ticker(nil), f.tickers...), nil
}

func (f *fakeExchange) GetPrice(_ context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[symbol]
	if !ok {
		return 0, binance.ErrSymbolUnavailable
	}
	return p, nil
}

func (f *fakeExchange) GetRecentCandles(_ context.Context, symbol, _ string, _ int) ([]binance.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.candles[symbol]
	if !ok {
		return nil, binance.ErrSymbolUnavailable
	}
	return c, nil
}

func (f *fakeExchange) GetAccountBalances(context.Context) ([]binance.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOnTop {
		panic("account endpoint exploded")
	}
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	return []binance.Balance{{Asset: "USDT", Free: f.free}}, nil
}

func (f *fakeExchange) PlaceMarketOrder(_ context.Context, symbol string, side binance.OrderSide, quoteAmount float64) (*binance.OrderConfirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	price, ok := f.prices[symbol]
	if !ok {
		return nil, binance.ErrSymbolUnavailable
	}
	if side == binance.SideBuy {
		if f.buyErr != nil {
			return nil, f.buyErr
		}
		if quoteAmount > f.free+1e-9 {
			return nil, binance.ErrInsufficientBalance
		}
		f.free -= quoteAmount
	} else {
		if err := f.sellErr[symbol]; err != nil {
			return nil, err
		}
		f.free += quoteAmount
	}

	f.seq++
	f.orders = append(f.orders, placedOrder{Symbol: symbol, Side: side, Amount: quoteAmount})
	return &binance.OrderConfirmation{
		OrderID:     f.seq,
		Symbol:      symbol,
		Side:        side,
		Status:      "FILLED",
		ExecutedQty: quoteAmount / price,
		QuoteQty:    quoteAmount,
	}, nil
}

// memStore is an in-memory database.Store with switchable write failures
type memStore struct {
	mu         sync.Mutex
	positions  map[string]database.Position
	equity     []database.EquitySample
	wallet     *database.WalletSummary
	events     []database.SystemEvent
	candidates []database.Candidate
	failWrites bool
}

func newMemStore() *memStore {
	return &memStore{positions: make(map[string]database.Position)}
}

func (s *memStore) setFailWrites(fail bool) {
	s.mu.Lock()
	s.failWrites = fail
	s.mu.Unlock()
}

func (s *memStore) UpsertPosition(_ context.Context, p *database.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errStoreDown
	}
	s.positions[p.Symbol] = *p
	return nil
}

func (s *memStore) DeletePosition(_ context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errStoreDown
	}
	delete(s.positions, symbol)
	return nil
}

func (s *memStore) GetPosition(_ context.Context, symbol string) (*database.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[symbol]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &p, nil
}

func (s *memStore) ListPositions(context.Context) ([]*database.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*database.Position, 0, len(s.positions))
	for _, p := range s.positions {
		p := p
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *memStore) AppendEquitySample(_ context.Context, e database.EquitySample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errStoreDown
	}
	s.equity = append(s.equity, e)
	return nil
}

func (s *memStore) ListEquitySamples(_ context.Context, limit int) ([]database.EquitySample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]database.EquitySample(nil), s.equity...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memStore) UpdateWallet(_ context.Context, equity float64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errStoreDown
	}
	s.wallet = &database.WalletSummary{CurrentEquity: equity, UpdatedAt: at}
	return nil
}

func (s *memStore) GetWallet(context.Context) (database.WalletSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wallet == nil {
		return database.WalletSummary{}, database.ErrNotFound
	}
	return *s.wallet, nil
}

func (s *memStore) AppendSystemEvent(_ context.Context, e database.SystemEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errStoreDown
	}
	e.ID = int64(len(s.events) + 1)
	s.events = append(s.events, e)
	return nil
}

func (s *memStore) ListSystemEvents(_ context.Context, limit int) ([]database.SystemEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]database.SystemEvent(nil), s.events...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memStore) ReplaceCandidates(_ context.Context, candidates []database.Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errStoreDown
	}
	s.candidates = append([]database.Candidate(nil), candidates...)
	return nil
}

func (s *memStore) ListCandidates(context.Context) ([]database.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]database.Candidate(nil), s.candidates...), nil
}

func (s *memStore) AppendMarketData(context.Context, []database.MarketDataPoint) error {
	return nil
}

func (s *memStore) Close() error { return nil }

// eventMessages returns the messages of events in category
func (s *memStore) eventMessages(category string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.events {
		if e.Category == category {
			out = append(out, e.Message)
		}
	}
	return out
}

// fakeClock fires every timer immediately, advancing time by the waited duration
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.waits = append(c.waits, d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) recordedWaits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

// recordingNotifier captures alerts instead of delivering them
type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification.Notification
}

func (r *recordingNotifier) Send(_ context.Context, n *notification.Notification) error {
	r.mu.Lock()
	r.sent = append(r.sent, *n)
	r.mu.Unlock()
	return nil
}

func (r *recordingNotifier) Name() string    { return "recorder" }
func (r *recordingNotifier) IsEnabled() bool { return true }

func (r *recordingNotifier) actions(action string) []notification.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notification.Notification
	for _, n := range r.sent {
		if n.Action == action {
			out = append(out, n)
		}
	}
	return out
}
