package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"spot-ladder-bot/config"
	"spot-ladder-bot/internal/api"
	"spot-ladder-bot/internal/auth"
	"spot-ladder-bot/internal/autopilot"
	"spot-ladder-bot/internal/binance"
	"spot-ladder-bot/internal/circuit"
	"spot-ladder-bot/internal/dashboard"
	"spot-ladder-bot/internal/database"
	"spot-ladder-bot/internal/events"
	"spot-ladder-bot/internal/logging"
	"spot-ladder-bot/internal/metrics"
	"spot-ladder-bot/internal/notification"
	"spot-ladder-bot/internal/risk"
	"spot-ladder-bot/internal/scanner"
	"spot-ladder-bot/internal/vault"
)

const (
	paperVolatility = 0.002
	paperFeeRate    = 0.001
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "spot-ladder-bot",
	Short: "Autonomous spot trading engine with laddered trailing stops",
	Long: `spot-ladder-bot scans liquid USDT pairs for oversold momentum, buys with a
small balance-aware allocation and manages each position with a three-tier
trailing stop ladder or a fixed scalp exit.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the control loop and the HTTP API",
	RunE:  runEngine,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.json or config.yaml")
	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads and validates the configuration and sets up the default logger
func loadConfig() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)
	return cfg, logger, nil
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.VaultConfig.Enabled {
		if err := loadVaultCredentials(ctx, cfg); err != nil {
			return err
		}
		logger.Info("Exchange credentials loaded from Vault", "path", cfg.VaultConfig.Path)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	exchange, err := buildExchange(ctx, cfg, store, logger)
	if err != nil {
		return err
	}

	var redisClient *redis.Client
	if cfg.RedisConfig.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Addr,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
		})
		defer redisClient.Close()
	}
	alertState := database.NewAlertStateStore(ctx, redisClient, logger)

	eventBus := events.NewEventBus()
	m := metrics.New()
	riskManager := risk.NewManager(riskConfig(cfg))
	scan := scanner.NewScanner(exchange, scannerConfig(cfg), logger, nil)

	controller, err := autopilot.NewSpotController(autopilotConfig(cfg), autopilot.Deps{
		Exchange:   exchange,
		Store:      store,
		AlertState: alertState,
		Risk:       riskManager,
		Scanner:    scan,
		Notifier:   buildNotifier(cfg, logger),
		Events:     eventBus,
		Metrics:    m,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	if err := controller.Restore(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return controller.Run(gctx) })

	if cfg.ServerConfig.Enabled {
		server, hub, err := buildServer(cfg, store, exchange, controller, m, logger)
		if err != nil {
			return err
		}
		hub.Subscribe(eventBus)
		g.Go(func() error { return hub.Run(gctx) })
		g.Go(func() error { return server.Run(gctx) })
	}

	logger.Info("Spot ladder bot running",
		"simulation", cfg.BinanceConfig.SimulationMode,
		"database", cfg.DatabaseConfig.Driver,
		"api", cfg.ServerConfig.Enabled)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Shutdown complete")
	return nil
}

func loadVaultCredentials(ctx context.Context, cfg *config.Config) error {
	client, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		return err
	}
	creds, err := client.BinanceCredentials(ctx)
	if err != nil {
		return err
	}
	cfg.BinanceConfig.APIKey = creds.APIKey
	cfg.BinanceConfig.SecretKey = creds.SecretKey
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (database.Store, error) {
	retention := database.Retention{
		History: cfg.DatabaseConfig.HistoryRetention,
		Logs:    cfg.DatabaseConfig.LogRetention,
	}

	if cfg.DatabaseConfig.Driver == "postgres" {
		db, err := database.NewDB(ctx, cfg.DatabaseConfig.PostgresURL, logger)
		if err != nil {
			return nil, err
		}
		if err := db.RunMigrations(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return database.NewRepository(db, retention), nil
	}

	store, err := database.NewSQLiteStore(cfg.DatabaseConfig.SQLitePath, retention)
	if err != nil {
		return nil, err
	}
	logger.Info("SQLite store opened", "path", cfg.DatabaseConfig.SQLitePath)
	return store, nil
}

func liveConfig(cfg *config.Config) binance.LiveConfig {
	b := cfg.BinanceConfig
	return binance.LiveConfig{
		APIKey:           b.APIKey,
		SecretKey:        b.SecretKey,
		BaseURL:          b.BaseURL,
		QuoteAsset:       cfg.ScannerConfig.QuoteAsset,
		WeightPerMinute:  b.WeightPerMinute,
		TimeSyncInterval: b.TimeSyncInterval,
		RequestTimeout:   b.RequestTimeout,
	}
}

// buildExchange returns the live client, or a paper exchange fed by public
// market data in simulation mode
func buildExchange(ctx context.Context, cfg *config.Config, store database.Store, logger *logging.Logger) (binance.Exchange, error) {
	breaker := circuit.New(binance.BreakerConfig(), logger)
	live := binance.NewLiveExchange(liveConfig(cfg), breaker, logger)

	if !cfg.BinanceConfig.SimulationMode {
		if err := live.SyncTime(ctx); err != nil {
			logger.Warn("Initial server time sync failed", "error", err)
		}
		return live, nil
	}

	paper := binance.NewPaperExchange(binance.PaperConfig{
		Balance:    cfg.BinanceConfig.PaperBalance,
		QuoteAsset: cfg.ScannerConfig.QuoteAsset,
		Feed:       live,
		Volatility: paperVolatility,
		FeeRate:    paperFeeRate,
	}, logger)

	// restored positions need base balances to sell against
	positions, err := store.ListPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	for _, p := range positions {
		paper.Deposit(binance.BaseAsset(p.Symbol, cfg.ScannerConfig.QuoteAsset), p.AmountUSDT/p.EntryPrice)
	}
	logger.Info("Simulation mode: paper exchange active",
		"balance", cfg.BinanceConfig.PaperBalance, "restored_positions", len(positions))
	return paper, nil
}

func buildNotifier(cfg *config.Config, logger *logging.Logger) *notification.Manager {
	manager := notification.NewManager(logger)
	n := cfg.NotificationConfig
	if n.Telegram.Enabled {
		manager.AddNotifier(notification.NewTelegramNotifier(notification.TelegramConfig{
			BotToken: n.Telegram.BotToken,
			ChatID:   n.Telegram.ChatID,
			Enabled:  true,
		}))
		logger.Info("Telegram notifications enabled")
	}
	if n.Discord.Enabled {
		manager.AddNotifier(notification.NewDiscordNotifier(notification.DiscordConfig{
			WebhookURL: n.Discord.WebhookURL,
			Enabled:    true,
		}))
		logger.Info("Discord notifications enabled")
	}
	return manager
}

func buildServer(cfg *config.Config, store database.Store, market binance.MarketData, controller api.Controller,
	m *metrics.Metrics, logger *logging.Logger) (*api.Server, *api.WSHub, error) {
	var authService *auth.Service
	if cfg.AuthConfig.Enabled {
		svc, err := auth.NewService(auth.Config{
			JWTSecret:         cfg.AuthConfig.JWTSecret,
			AdminUser:         cfg.AuthConfig.AdminUser,
			AdminPasswordHash: cfg.AuthConfig.AdminPasswordHash,
			TokenTTL:          cfg.AuthConfig.TokenTTL,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		authService = svc
	}

	sc := cfg.ScannerConfig
	cons := cfg.StrategyConfig.Conservative
	renderer := dashboard.NewRenderer(store, market, dashboard.Config{
		KlineInterval: sc.KlineInterval,
		KlineLimit:    sc.KlineLimit,
		RSIPeriod:     sc.RSIPeriod,
		EMAPeriod:     sc.EMAPeriod,
		BuyRSI:        cons.BuyRSI,
		ScalpRSI:      cfg.StrategyConfig.Scalp.BuyRSI,
		QuoteAsset:    sc.QuoteAsset,
	}, logger)

	hub := api.NewWSHub(cfg.ServerConfig.AllowedOrigins, logger)
	server, err := api.NewServer(cfg.ServerConfig, api.Deps{
		Store:      store,
		Market:     market,
		Controller: controller,
		Hub:        hub,
		Auth:       authService,
		Metrics:    m,
		Dashboard:  renderer,
		Logger:     logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return server, hub, nil
}

func riskConfig(cfg *config.Config) risk.Config {
	s := cfg.StrategyConfig
	return risk.Config{
		Ladder: risk.LadderConfig{
			Tier1Threshold:    s.Conservative.Tier1Threshold,
			Tier2Threshold:    s.Conservative.Tier2Threshold,
			Tier1Stop:         s.Conservative.Tier1Stop,
			Tier2Stop:         s.Conservative.Tier2Stop,
			Tier3Stop:         s.Conservative.Tier3Stop,
			EmergencyStopLoss: s.Conservative.EmergencyStopLoss,
			TakeProfit:        s.Conservative.TakeProfit,
		},
		Scalp: risk.ScalpExitConfig{
			StopLoss:   s.Scalp.StopLoss,
			TakeProfit: s.Scalp.TakeProfit,
		},
		Allocator: risk.AllocatorConfig{
			MinViableTrade:        s.Allocator.MinViableTrade,
			FeeBuffer:             s.Allocator.FeeBuffer,
			FullBalanceMultiplier: s.Allocator.FullBalanceMultiplier,
		},
		Swap: risk.SwapConfig{
			UrgentRSI:  s.Swap.UrgentRSI,
			MinHold:    s.Swap.MinHold,
			LossMargin: s.Swap.LossMargin,
		},
		ConservativeSwapRSI: s.Conservative.SwapRSI,
		ScalpSwapRSI:        s.Scalp.SwapRSI,
		CooldownDuration:    s.Cooldown.Duration,
	}
}

func scannerConfig(cfg *config.Config) scanner.Config {
	sc := cfg.ScannerConfig
	c := scanner.DefaultConfig()
	c.QuoteAsset = sc.QuoteAsset
	c.MinQuoteVolume = sc.MinQuoteVolume
	c.TopN = sc.TopN
	c.IgnoreSymbols = sc.IgnoreSymbols
	c.KlineInterval = sc.KlineInterval
	c.KlineLimit = sc.KlineLimit
	c.RSIPeriod = sc.RSIPeriod
	c.EMAPeriod = sc.EMAPeriod
	c.ConservativeBuyRSI = cfg.StrategyConfig.Conservative.BuyRSI
	c.DowntrendRSI = cfg.StrategyConfig.Conservative.DowntrendRSI
	c.ScalpEnabled = cfg.StrategyConfig.Scalp.Enabled
	c.ScalpBuyRSI = cfg.StrategyConfig.Scalp.BuyRSI
	return c
}

func autopilotConfig(cfg *config.Config) autopilot.Config {
	c := autopilot.DefaultConfig()
	c.CycleInterval = cfg.AutopilotConfig.CycleInterval
	c.ErrorBackoff = cfg.AutopilotConfig.ErrorBackoff
	c.CallTimeout = cfg.AutopilotConfig.CallTimeout
	c.SettleDelay = cfg.StrategyConfig.Swap.SettleDelay
	c.Milestones = cfg.StrategyConfig.Milestones
	c.QuoteAsset = cfg.ScannerConfig.QuoteAsset
	c.FallbackBalance = cfg.BinanceConfig.PaperBalance
	return c
}
