package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"spot-ladder-bot/internal/autopilot"
	"spot-ladder-bot/internal/binance"
	"spot-ladder-bot/internal/dashboard"
	"spot-ladder-bot/internal/database"
	"spot-ladder-bot/internal/strategy"
)

const (
	defaultLogLimit     = 50
	maxLogLimit         = 500
	defaultHistoryLimit = 500
	priceLookupTimeout  = 3 * time.Second
)

// PositionView is an open position marked to the live price
type PositionView struct {
	Symbol       string            `json:"symbol"`
	Strategy     strategy.Strategy `json:"strategy"`
	EntryPrice   float64           `json:"entry_price"`
	CurrentPrice float64           `json:"current_price"`
	HighestPrice float64           `json:"highest_price"`
	AmountUSDT   float64           `json:"amount_usdt"`
	PnLPercent   float64           `json:"pnl_pct"`
	PnLUSDT      float64           `json:"pnl_usdt"`
	StopPrice    float64           `json:"stop_price"`
	StatusLabel  string            `json:"status_label"`
	RSIAtEntry   float64           `json:"rsi_at_entry"`
	EntryTime    time.Time         `json:"entry_time"`
}

// Summary is the headline wallet figure
type Summary struct {
	CurrentEquity   float64   `json:"current_equity"`
	UpdatedAt       time.Time `json:"updated_at"`
	ActivePositions int       `json:"active_positions"`
}

func newPositionView(p *database.Position, price float64) PositionView {
	if price <= 0 {
		price = p.EntryPrice
	}
	pnlPct := p.PnLPercent(price)
	pnlUSDT := decimal.NewFromFloat(p.AmountUSDT).
		Mul(decimal.NewFromFloat(price).Sub(decimal.NewFromFloat(p.EntryPrice))).
		Div(decimal.NewFromFloat(p.EntryPrice)).
		Round(2)

	return PositionView{
		Symbol:       p.Symbol,
		Strategy:     p.Strategy,
		EntryPrice:   p.EntryPrice,
		CurrentPrice: price,
		HighestPrice: p.HighestPrice,
		AmountUSDT:   p.AmountUSDT,
		PnLPercent:   decimal.NewFromFloat(pnlPct).Round(2).InexactFloat64(),
		PnLUSDT:      pnlUSDT.InexactFloat64(),
		StopPrice:    p.StopPrice,
		StatusLabel:  p.StatusLabel,
		RSIAtEntry:   p.RSIAtEntry,
		EntryTime:    p.EntryTime,
	}
}

// queryLimit parses ?limit= and clamps it to [1, maxLimit]
func queryLimit(c *gin.Context, def, maxLimit int) int {
	raw := c.Query("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n < 1 {
		return 1
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}

// handleHealth reports store reachability and the loop status
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := s.controller.Status()
	body := gin.H{
		"status":         "healthy",
		"database":       "healthy",
		"engine_running": status.Running,
		"cycles":         status.Cycles,
		"last_cycle_at":  status.LastCycleAt,
		"last_error":     status.LastError,
		"uptime":         time.Since(s.startedAt).Round(time.Second).String(),
	}

	if _, err := s.store.GetWallet(ctx); err != nil && !errors.Is(err, database.ErrNotFound) {
		body["status"] = "unhealthy"
		body["database"] = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleSummary(c *gin.Context) {
	ctx := c.Request.Context()
	wallet, err := s.store.GetWallet(ctx)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		errorResponse(c, http.StatusInternalServerError, "failed to load wallet summary")
		return
	}
	positions, err := s.store.ListPositions(ctx)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to load positions")
		return
	}
	c.JSON(http.StatusOK, Summary{
		CurrentEquity:   wallet.CurrentEquity,
		UpdatedAt:       wallet.UpdatedAt,
		ActivePositions: len(positions),
	})
}

func (s *Server) handlePositions(c *gin.Context) {
	positions, err := s.store.ListPositions(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to load positions")
		return
	}

	out := make([]PositionView, 0, len(positions))
	for _, p := range positions {
		ctx, cancel := context.WithTimeout(c.Request.Context(), priceLookupTimeout)
		price, err := s.market.GetPrice(ctx, p.Symbol)
		cancel()
		if err != nil {
			s.logger.Debug("Live price unavailable, using entry", "symbol", p.Symbol, "error", err)
			price = 0
		}
		out = append(out, newPositionView(p, price))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleLogs(c *gin.Context) {
	limit := queryLimit(c, defaultLogLimit, maxLogLimit)
	logs, err := s.store.ListSystemEvents(c.Request.Context(), limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to load logs")
		return
	}
	c.JSON(http.StatusOK, logs)
}

func (s *Server) handleHistory(c *gin.Context) {
	limit := queryLimit(c, defaultHistoryLimit, database.DefaultHistoryRetention)
	history, err := s.store.ListEquitySamples(c.Request.Context(), limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to load history")
		return
	}
	c.JSON(http.StatusOK, history)
}

func (s *Server) handleCandidates(c *gin.Context) {
	candidates, err := s.store.ListCandidates(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to load candidates")
		return
	}
	c.JSON(http.StatusOK, candidates)
}

// handleManualSell queues a close; the control loop executes it
func (s *Server) handleManualSell(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))

	if _, err := s.store.GetPosition(c.Request.Context(), symbol); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			errorResponse(c, http.StatusNotFound, "no open position for "+symbol)
			return
		}
		errorResponse(c, http.StatusInternalServerError, "failed to load position")
		return
	}

	if err := s.controller.RequestClose(symbol); err != nil {
		if errors.Is(err, autopilot.ErrQueueFull) {
			errorResponse(c, http.StatusServiceUnavailable, "close queue is full, retry shortly")
			return
		}
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.Info("Manual close queued", "symbol", symbol)
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "symbol": symbol})
}

func (s *Server) handleDashboard(c *gin.Context) {
	var buf bytes.Buffer
	if err := s.dashboard.Overview(c.Request.Context(), &buf); err != nil {
		s.logger.Warn("Dashboard render failed", "error", err)
		errorResponse(c, http.StatusInternalServerError, "failed to render dashboard")
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func (s *Server) handleSymbolDashboard(c *gin.Context) {
	var buf bytes.Buffer
	err := s.dashboard.Symbol(c.Request.Context(), &buf, c.Param("symbol"))
	switch {
	case errors.Is(err, dashboard.ErrNoData), errors.Is(err, binance.ErrSymbolUnavailable):
		errorResponse(c, http.StatusNotFound, err.Error())
		return
	case err != nil:
		s.logger.Warn("Symbol chart render failed", "symbol", c.Param("symbol"), "error", err)
		errorResponse(c, http.StatusInternalServerError, "failed to render chart")
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}
