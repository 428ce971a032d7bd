package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"spot-ladder-bot/config"
	"spot-ladder-bot/internal/auth"
	"spot-ladder-bot/internal/autopilot"
	"spot-ladder-bot/internal/binance"
	"spot-ladder-bot/internal/dashboard"
	"spot-ladder-bot/internal/database"
	"spot-ladder-bot/internal/events"
	"spot-ladder-bot/internal/logging"
	"spot-ladder-bot/internal/metrics"
	"spot-ladder-bot/internal/strategy"
)

type stubMarket struct {
	prices map[string]float64
}

func (m *stubMarket) GetTickerSnapshot(ctx context.Context) ([]binance.Ticker, error) {
	return nil, nil
}

func (m *stubMarket) GetPrice(ctx context.Context, symbol string) (float64, error) {
	if p, ok := m.prices[symbol]; ok {
		return p, nil
	}
	return 0, binance.ErrSymbolUnavailable
}

func (m *stubMarket) GetRecentCandles(ctx context.Context, symbol, interval string, limit int) ([]binance.Candle, error) {
	return nil, binance.ErrSymbolUnavailable
}

type stubController struct {
	mu        sync.Mutex
	requested []string
	err       error
}

func (c *stubController) RequestClose(symbol string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.requested = append(c.requested, symbol)
	return nil
}

func (c *stubController) Status() autopilot.Status {
	return autopilot.Status{Running: true, Cycles: 7}
}

type testEnv struct {
	store  *database.SQLiteStore
	ctrl   *stubController
	server *Server
	router http.Handler
}

func newTestEnv(t *testing.T, withAuth bool) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := database.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"), database.Retention{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	market := &stubMarket{prices: map[string]float64{"AAAUSDT": 11}}
	ctrl := &stubController{}
	deps := Deps{
		Store:      store,
		Market:     market,
		Controller: ctrl,
		Metrics:    metrics.New(),
		Dashboard:  dashboard.NewRenderer(store, market, dashboard.DefaultConfig(), logging.Nop()),
		Logger:     logging.Nop(),
	}
	if withAuth {
		deps.Auth = newAuthService(t)
	}

	srv, err := NewServer(config.ServerConfig{Host: "127.0.0.1", AllowedOrigins: []string{"*"}}, deps)
	require.NoError(t, err)
	return &testEnv{store: store, ctrl: ctrl, server: srv, router: srv.Handler()}
}

const testPassword = "Correct-Horse-9"

func newAuthService(t *testing.T) *auth.Service {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)
	svc, err := auth.NewService(auth.Config{
		JWTSecret:         "test-secret",
		AdminUser:         "admin",
		AdminPasswordHash: string(hash),
		TokenTTL:          time.Hour,
	}, logging.Nop())
	require.NoError(t, err)
	return svc
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) seedPosition(t *testing.T, symbol string, entry float64) {
	t.Helper()
	p, err := database.NewPosition(symbol, entry, 5.4, 18, strategy.Conservative, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, e.store.UpsertPosition(context.Background(), p))
}

func TestNewServerRequiresDeps(t *testing.T) {
	_, err := NewServer(config.ServerConfig{}, Deps{})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, false)
	w := env.do(t, http.MethodGet, "/api/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["engine_running"])
	assert.Equal(t, float64(7), body["cycles"])
}

func TestSummary(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, http.MethodGet, "/api/summary", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var empty Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &empty))
	assert.Zero(t, empty.CurrentEquity)

	require.NoError(t, env.store.UpdateWallet(context.Background(), 21.5, time.Now()))
	env.seedPosition(t, "AAAUSDT", 10)

	w = env.do(t, http.MethodGet, "/api/summary", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 21.5, got.CurrentEquity)
	assert.Equal(t, 1, got.ActivePositions)
}

func TestPositionsMarkToMarket(t *testing.T) {
	env := newTestEnv(t, false)
	env.seedPosition(t, "AAAUSDT", 10)
	env.seedPosition(t, "BBBUSDT", 20)

	w := env.do(t, http.MethodGet, "/api/positions", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var views []PositionView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
	require.Len(t, views, 2)

	bySymbol := map[string]PositionView{}
	for _, v := range views {
		bySymbol[v.Symbol] = v
	}
	assert.Equal(t, 11.0, bySymbol["AAAUSDT"].CurrentPrice)
	assert.Equal(t, 10.0, bySymbol["AAAUSDT"].PnLPercent)
	assert.Equal(t, 0.54, bySymbol["AAAUSDT"].PnLUSDT)
	assert.Equal(t, "HOLD", bySymbol["AAAUSDT"].StatusLabel)

	// no live price: marked at entry
	assert.Equal(t, 20.0, bySymbol["BBBUSDT"].CurrentPrice)
	assert.Zero(t, bySymbol["BBBUSDT"].PnLUSDT)
}

func TestLogsNewestFirstAndClamped(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	base := time.Now().UTC()
	for i, msg := range []string{"first", "second", "third"} {
		require.NoError(t, env.store.AppendSystemEvent(ctx, database.SystemEvent{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Level:     database.LevelInfo,
			Category:  database.CategorySystem,
			Message:   msg,
		}))
	}

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"third", "second", "first"}},
		{"?limit=2", []string{"third", "second"}},
		{"?limit=0", []string{"third"}},
		{"?limit=abc", []string{"third", "second", "first"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := env.do(t, http.MethodGet, "/api/logs"+tt.query, nil, nil)
			require.Equal(t, http.StatusOK, w.Code)
			var logs []database.SystemEvent
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &logs))
			got := make([]string, len(logs))
			for i, l := range logs {
				got[i] = l.Message
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHistoryOldestFirst(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		require.NoError(t, env.store.AppendEquitySample(ctx, database.EquitySample{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Equity:    20 + float64(i),
		}))
	}

	w := env.do(t, http.MethodGet, "/api/history?limit=2", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history []database.EquitySample
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history, 2)
	assert.Equal(t, 21.0, history[0].Equity)
	assert.Equal(t, 22.0, history[1].Equity)
}

func TestCandidates(t *testing.T) {
	env := newTestEnv(t, false)
	require.NoError(t, env.store.ReplaceCandidates(context.Background(), []database.Candidate{
		{Symbol: "AAAUSDT", Price: 10, RSI: 18, Status: database.CandidateStatus("BUY"), UpdatedAt: time.Now().UTC()},
	}))

	w := env.do(t, http.MethodGet, "/api/candidates", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got []database.Candidate
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "AAAUSDT", got[0].Symbol)
}

func TestManualSell(t *testing.T) {
	env := newTestEnv(t, false)
	env.seedPosition(t, "AAAUSDT", 10)

	w := env.do(t, http.MethodPost, "/api/trade/sell/NOPEUSDT", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/api/trade/sell/aaausdt", nil, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), `"queued"`)
	assert.Equal(t, []string{"AAAUSDT"}, env.ctrl.requested)

	env.ctrl.err = autopilot.ErrQueueFull
	w = env.do(t, http.MethodPost, "/api/trade/sell/AAAUSDT", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestManualSellRequiresTokenWhenAuthEnabled(t *testing.T) {
	env := newTestEnv(t, true)
	env.seedPosition(t, "AAAUSDT", 10)

	w := env.do(t, http.MethodPost, "/api/trade/sell/AAAUSDT", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, env.ctrl.requested)

	body, _ := json.Marshal(auth.LoginRequest{Username: "admin", Password: testPassword})
	w = env.do(t, http.MethodPost, "/api/auth/login", body, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var login auth.LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))

	w = env.do(t, http.MethodPost, "/api/trade/sell/AAAUSDT", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"AAAUSDT"}, env.ctrl.requested)
}

func TestLoginRouteAbsentWithoutAuth(t *testing.T) {
	env := newTestEnv(t, false)
	w := env.do(t, http.MethodPost, "/api/auth/login", []byte(`{}`), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsAndDashboardRoutes(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "spotbot_cycle_duration_seconds")

	w = env.do(t, http.MethodGet, "/dashboard", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/html"))

	w = env.do(t, http.MethodGet, "/dashboard/symbol/AAAUSDT", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("k"))
	assert.True(t, rl.Allow("k"))
	assert.False(t, rl.Allow("k"))
	assert.True(t, rl.Allow("other"))

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow("k"))
}

func TestCORSConfig(t *testing.T) {
	wild := corsConfig([]string{"*"})
	assert.True(t, wild.AllowAllOrigins)
	assert.False(t, wild.AllowCredentials)

	strict := corsConfig([]string{"http://localhost:5173"})
	assert.False(t, strict.AllowAllOrigins)
	assert.True(t, strict.AllowCredentials)
	assert.Equal(t, []string{"http://localhost:5173"}, strict.AllowOrigins)
}

func TestWebSocketStreamsBusEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewWSHub(nil, logging.Nop())
	go func() { _ = hub.Run(ctx) }()
	bus := events.NewEventBus()
	hub.Subscribe(bus)

	r := gin.New()
	r.GET("/ws", hub.ServeWS())
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var welcome map[string]interface{}
	require.NoError(t, conn.ReadJSON(&welcome))
	assert.Equal(t, "CONNECTED", welcome["type"])

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	bus.Publish(events.Event{Type: events.EventPositionOpened, Data: map[string]interface{}{"symbol": "AAAUSDT"}})

	var got events.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, events.EventPositionOpened, got.Type)
	assert.Equal(t, "AAAUSDT", got.Data["symbol"])
}
