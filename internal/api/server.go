package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"spot-ladder-bot/config"
	"spot-ladder-bot/internal/auth"
	"spot-ladder-bot/internal/autopilot"
	"spot-ladder-bot/internal/binance"
	"spot-ladder-bot/internal/dashboard"
	"spot-ladder-bot/internal/database"
	"spot-ladder-bot/internal/logging"
	"spot-ladder-bot/internal/metrics"
)

// RateLimiter provides simple in-memory rate limiting per key
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int           // max requests
	window   time.Duration // time window
	now      func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// Controller is the part of the control loop the API drives
type Controller interface {
	RequestClose(symbol string) error
	Status() autopilot.Status
}

// Deps are the collaborators of the API server. Auth, Hub, Metrics and
// Dashboard are optional; their routes are left out when nil.
type Deps struct {
	Store      database.Store
	Market     binance.MarketData
	Controller Controller
	Hub        *WSHub
	Auth       *auth.Service
	Metrics    *metrics.Metrics
	Dashboard  *dashboard.Renderer
	Logger     *logging.Logger
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	config      config.ServerConfig
	store       database.Store
	market      binance.MarketData
	controller  Controller
	hub         *WSHub
	authService *auth.Service
	metrics     *metrics.Metrics
	dashboard   *dashboard.Renderer
	rateLimiter *RateLimiter
	logger      *logging.Logger
	startedAt   time.Time
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, deps Deps) (*Server, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("api: store is required")
	case deps.Market == nil:
		return nil, errors.New("api: market data is required")
	case deps.Controller == nil:
		return nil, errors.New("api: controller is required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(corsConfig(cfg.AllowedOrigins)))

	s := &Server{
		router:      router,
		config:      cfg,
		store:       deps.Store,
		market:      deps.Market,
		controller:  deps.Controller,
		hub:         deps.Hub,
		authService: deps.Auth,
		metrics:     deps.Metrics,
		dashboard:   deps.Dashboard,
		rateLimiter: NewRateLimiter(30, time.Minute),
		logger:      deps.Logger.WithComponent("api"),
		startedAt:   time.Now(),
	}
	router.Use(s.requestLogger())
	s.setupRoutes()
	return s, nil
}

func allowAll(origins []string) bool {
	if len(origins) == 0 {
		return true
	}
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	c.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	c.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	c.ExposeHeaders = []string{"Content-Length"}
	if allowAll(origins) {
		// browsers reject credentials with a wildcard origin
		c.AllowAllOrigins = true
		return c
	}
	c.AllowOrigins = origins
	c.AllowCredentials = true
	return c
}

// requestLogger logs each request at debug, failures at warn
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		args := []interface{}{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if status >= http.StatusInternalServerError {
			s.logger.Warn("Request failed", args...)
			return
		}
		s.logger.Debug("Request served", args...)
	}
}

// rateLimitMiddleware limits mutating endpoints per client IP
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if !s.rateLimiter.Allow(path + "|" + c.ClientIP()) {
			errorResponse(c, http.StatusTooManyRequests, "too many requests, slow down")
			c.Abort()
			return
		}
		c.Next()
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/summary", s.handleSummary)
	api.GET("/positions", s.handlePositions)
	api.GET("/logs", s.handleLogs)
	api.GET("/history", s.handleHistory)
	api.GET("/candidates", s.handleCandidates)

	trade := api.Group("/trade", s.rateLimitMiddleware())
	if s.authService != nil {
		api.POST("/auth/login", s.rateLimitMiddleware(), auth.NewHandlers(s.authService).Login)
		trade.Use(auth.Middleware(s.authService))
	}
	trade.POST("/sell/:symbol", s.handleManualSell)

	if s.hub != nil {
		s.router.GET("/ws", s.hub.ServeWS())
	}
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	if s.dashboard != nil {
		s.router.GET("/dashboard", s.handleDashboard)
		s.router.GET("/dashboard/symbol/:symbol", s.handleSymbolDashboard)
	}
}

// Handler exposes the router (tests, embedding)
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx ends, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("failed to start server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-errCh
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}
