package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	BinanceConfig      BinanceConfig      `json:"binance" mapstructure:"binance"`
	VaultConfig        VaultConfig        `json:"vault" mapstructure:"vault"`
	DatabaseConfig     DatabaseConfig     `json:"database" mapstructure:"database"`
	RedisConfig        RedisConfig        `json:"redis" mapstructure:"redis"`
	ScannerConfig      ScannerConfig      `json:"scanner" mapstructure:"scanner"`
	StrategyConfig     StrategyConfig     `json:"strategy" mapstructure:"strategy"`
	AutopilotConfig    AutopilotConfig    `json:"autopilot" mapstructure:"autopilot"`
	NotificationConfig NotificationConfig `json:"notification" mapstructure:"notification"`
	ServerConfig       ServerConfig       `json:"server" mapstructure:"server"`
	AuthConfig         AuthConfig         `json:"auth" mapstructure:"auth"`
	LoggingConfig      LoggingConfig      `json:"logging" mapstructure:"logging"`
}

type BinanceConfig struct {
	APIKey           string        `json:"api_key" mapstructure:"api_key"`
	SecretKey        string        `json:"secret_key" mapstructure:"secret_key"`
	BaseURL          string        `json:"base_url" mapstructure:"base_url"`
	SimulationMode   bool          `json:"simulation_mode" mapstructure:"simulation_mode"` // paper exchange, no real orders
	PaperBalance     float64       `json:"paper_balance" mapstructure:"paper_balance"`
	WeightPerMinute  int           `json:"weight_per_minute" mapstructure:"weight_per_minute"` // share of the 6000/min request weight budget
	TimeSyncInterval time.Duration `json:"time_sync_interval" mapstructure:"time_sync_interval"`
	RequestTimeout   time.Duration `json:"request_timeout" mapstructure:"request_timeout"`
}

// VaultConfig holds HashiCorp Vault settings for loading exchange credentials
type VaultConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Address string `json:"address" mapstructure:"address"`
	Token   string `json:"token" mapstructure:"token"`
	Mount   string `json:"mount" mapstructure:"mount"`
	Path    string `json:"path" mapstructure:"path"`
}

type DatabaseConfig struct {
	Driver           string `json:"driver" mapstructure:"driver"` // sqlite or postgres
	SQLitePath       string `json:"sqlite_path" mapstructure:"sqlite_path"`
	PostgresURL      string `json:"postgres_url" mapstructure:"postgres_url"`
	HistoryRetention int    `json:"history_retention" mapstructure:"history_retention"`
	LogRetention     int    `json:"log_retention" mapstructure:"log_retention"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Addr     string `json:"addr" mapstructure:"addr"`
	Password string `json:"password" mapstructure:"password"`
	DB       int    `json:"db" mapstructure:"db"`
}

type ScannerConfig struct {
	QuoteAsset     string   `json:"quote_asset" mapstructure:"quote_asset"`
	MinQuoteVolume float64  `json:"min_quote_volume" mapstructure:"min_quote_volume"`
	TopN           int      `json:"top_n" mapstructure:"top_n"`
	KlineInterval  string   `json:"kline_interval" mapstructure:"kline_interval"`
	KlineLimit     int      `json:"kline_limit" mapstructure:"kline_limit"`
	RSIPeriod      int      `json:"rsi_period" mapstructure:"rsi_period"`
	EMAPeriod      int      `json:"ema_period" mapstructure:"ema_period"`
	IgnoreSymbols  []string `json:"ignore_symbols" mapstructure:"ignore_symbols"`
}

// StrategyConfig groups the entry/exit parameters. All thresholds are percents.
type StrategyConfig struct {
	Conservative ConservativeConfig `json:"conservative" mapstructure:"conservative"`
	Scalp        ScalpConfig        `json:"scalp" mapstructure:"scalp"`
	Allocator    AllocatorConfig    `json:"allocator" mapstructure:"allocator"`
	Swap         SwapConfig         `json:"swap" mapstructure:"swap"`
	Cooldown     CooldownConfig     `json:"cooldown" mapstructure:"cooldown"`
	Milestones   []float64          `json:"milestones" mapstructure:"milestones"`
}

type ConservativeConfig struct {
	BuyRSI            float64 `json:"buy_rsi" mapstructure:"buy_rsi"`
	DowntrendRSI      float64 `json:"downtrend_rsi" mapstructure:"downtrend_rsi"`
	SwapRSI           float64 `json:"swap_rsi" mapstructure:"swap_rsi"`
	Tier1Threshold    float64 `json:"tier1_threshold" mapstructure:"tier1_threshold"`
	Tier2Threshold    float64 `json:"tier2_threshold" mapstructure:"tier2_threshold"`
	Tier1Stop         float64 `json:"tier1_stop" mapstructure:"tier1_stop"`
	Tier2Stop         float64 `json:"tier2_stop" mapstructure:"tier2_stop"`
	Tier3Stop         float64 `json:"tier3_stop" mapstructure:"tier3_stop"`
	EmergencyStopLoss float64 `json:"emergency_stop_loss" mapstructure:"emergency_stop_loss"`
	TakeProfit        float64 `json:"take_profit" mapstructure:"take_profit"`
}

type ScalpConfig struct {
	Enabled    bool    `json:"enabled" mapstructure:"enabled"`
	BuyRSI     float64 `json:"buy_rsi" mapstructure:"buy_rsi"`
	SwapRSI    float64 `json:"swap_rsi" mapstructure:"swap_rsi"`
	StopLoss   float64 `json:"stop_loss" mapstructure:"stop_loss"`
	TakeProfit float64 `json:"take_profit" mapstructure:"take_profit"`
}

type AllocatorConfig struct {
	MinViableTrade        float64 `json:"min_viable_trade" mapstructure:"min_viable_trade"`
	FeeBuffer             float64 `json:"fee_buffer" mapstructure:"fee_buffer"`
	FullBalanceMultiplier float64 `json:"full_balance_multiplier" mapstructure:"full_balance_multiplier"`
}

type SwapConfig struct {
	UrgentRSI   float64       `json:"urgent_rsi" mapstructure:"urgent_rsi"`
	MinHold     time.Duration `json:"min_hold" mapstructure:"min_hold"`
	LossMargin  float64       `json:"loss_margin" mapstructure:"loss_margin"`
	SettleDelay time.Duration `json:"settle_delay" mapstructure:"settle_delay"`
}

type CooldownConfig struct {
	Duration time.Duration `json:"duration" mapstructure:"duration"`
}

type AutopilotConfig struct {
	CycleInterval time.Duration `json:"cycle_interval" mapstructure:"cycle_interval"`
	ErrorBackoff  time.Duration `json:"error_backoff" mapstructure:"error_backoff"`
	CallTimeout   time.Duration `json:"call_timeout" mapstructure:"call_timeout"`
}

type NotificationConfig struct {
	Telegram TelegramConfig `json:"telegram" mapstructure:"telegram"`
	Discord  DiscordConfig  `json:"discord" mapstructure:"discord"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	BotToken string `json:"bot_token" mapstructure:"bot_token"`
	ChatID   string `json:"chat_id" mapstructure:"chat_id"`
}

type DiscordConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	WebhookURL string `json:"webhook_url" mapstructure:"webhook_url"`
}

type ServerConfig struct {
	Enabled        bool     `json:"enabled" mapstructure:"enabled"`
	Host           string   `json:"host" mapstructure:"host"`
	Port           int      `json:"port" mapstructure:"port"`
	AllowedOrigins []string `json:"allowed_origins" mapstructure:"allowed_origins"`
}

type AuthConfig struct {
	Enabled           bool          `json:"enabled" mapstructure:"enabled"`
	JWTSecret         string        `json:"jwt_secret" mapstructure:"jwt_secret"`
	AdminUser         string        `json:"admin_user" mapstructure:"admin_user"`
	AdminPasswordHash string        `json:"admin_password_hash" mapstructure:"admin_password_hash"`
	TokenTTL          time.Duration `json:"token_ttl" mapstructure:"token_ttl"`
}

type LoggingConfig struct {
	Level       string `json:"level" mapstructure:"level"`               // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output" mapstructure:"output"`             // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format" mapstructure:"json_format"`   // Output as JSON
	IncludeFile bool   `json:"include_file" mapstructure:"include_file"` // Include file and line number
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		BinanceConfig: BinanceConfig{
			BaseURL:          "https://api.binance.com",
			PaperBalance:     100,
			WeightPerMinute:  3000,
			TimeSyncInterval: 30 * time.Minute,
			RequestTimeout:   10 * time.Second,
		},
		VaultConfig: VaultConfig{
			Address: "http://127.0.0.1:8200",
			Mount:   "secret",
			Path:    "spot-ladder-bot/binance",
		},
		DatabaseConfig: DatabaseConfig{
			Driver:           "sqlite",
			SQLitePath:       "bot_data.db",
			HistoryRetention: 2000,
			LogRetention:     2000,
		},
		RedisConfig: RedisConfig{
			Addr: "localhost:6379",
		},
		ScannerConfig: ScannerConfig{
			QuoteAsset:     "USDT",
			MinQuoteVolume: 2_000_000,
			TopN:           15,
			KlineInterval:  "1h",
			KlineLimit:     110,
			RSIPeriod:      14,
			EMAPeriod:      100,
			IgnoreSymbols: []string{
				"USDCUSDT", "FDUSDUSDT", "TUSDUSDT", "USDPUSDT", "DAIUSDT", "EURUSDT",
				"BUSDUSDT", "AEURUSDT", "USTCUSDT", "PAXGUSDT", "WBTCUSDT",
			},
		},
		StrategyConfig: StrategyConfig{
			Conservative: ConservativeConfig{
				BuyRSI:            23,
				DowntrendRSI:      20,
				SwapRSI:           20,
				Tier1Threshold:    3,
				Tier2Threshold:    7,
				Tier1Stop:         2.5,
				Tier2Stop:         4.5,
				Tier3Stop:         6,
				EmergencyStopLoss: 5,
				TakeProfit:        10,
			},
			Scalp: ScalpConfig{
				Enabled:    true,
				BuyRSI:     30,
				SwapRSI:    20,
				StopLoss:   2,
				TakeProfit: 3,
			},
			Allocator: AllocatorConfig{
				MinViableTrade:        5.5,
				FeeBuffer:             0.1,
				FullBalanceMultiplier: 1.5,
			},
			Swap: SwapConfig{
				UrgentRSI:   15,
				MinHold:     2 * time.Hour,
				LossMargin:  0.5,
				SettleDelay: 2 * time.Second,
			},
			Cooldown:   CooldownConfig{Duration: 30 * time.Minute},
			Milestones: []float64{3, 5},
		},
		AutopilotConfig: AutopilotConfig{
			CycleInterval: 60 * time.Second,
			ErrorBackoff:  10 * time.Second,
			CallTimeout:   15 * time.Second,
		},
		ServerConfig: ServerConfig{
			Enabled:        true,
			Host:           "0.0.0.0",
			Port:           8000,
			AllowedOrigins: []string{"*"},
		},
		AuthConfig: AuthConfig{
			AdminUser: "admin",
			TokenTTL:  12 * time.Hour,
		},
		LoggingConfig: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
		},
	}
}

// envBindings maps config keys to the environment variables that override them
var envBindings = map[string]string{
	"binance.api_key":                     "BINANCE_API_KEY",
	"binance.secret_key":                  "BINANCE_SECRET_KEY",
	"binance.base_url":                    "BINANCE_BASE_URL",
	"binance.simulation_mode":             "SIMULATION_MODE",
	"binance.paper_balance":               "PAPER_BALANCE",
	"vault.enabled":                       "VAULT_ENABLED",
	"vault.address":                       "VAULT_ADDR",
	"vault.token":                         "VAULT_TOKEN",
	"database.driver":                     "DATABASE_DRIVER",
	"database.sqlite_path":                "SQLITE_PATH",
	"database.postgres_url":               "DATABASE_URL",
	"redis.enabled":                       "REDIS_ENABLED",
	"redis.addr":                          "REDIS_ADDR",
	"redis.password":                      "REDIS_PASSWORD",
	"scanner.min_quote_volume":            "MIN_VOLUME_USDT",
	"scanner.ignore_symbols":              "IGNORE_SYMBOLS",
	"strategy.conservative.buy_rsi":       "RSI_BUY_THRESHOLD",
	"strategy.scalp.enabled":              "SCALP_ENABLED",
	"strategy.allocator.min_viable_trade": "MIN_VIABLE_TRADE",
	"autopilot.cycle_interval":            "SCAN_INTERVAL",
	"notification.telegram.enabled":       "TELEGRAM_ENABLED",
	"notification.telegram.bot_token":     "TELEGRAM_BOT_TOKEN",
	"notification.telegram.chat_id":       "TELEGRAM_CHAT_ID",
	"notification.discord.enabled":        "DISCORD_ENABLED",
	"notification.discord.webhook_url":    "DISCORD_WEBHOOK_URL",
	"server.enabled":                      "SERVER_ENABLED",
	"server.host":                         "SERVER_HOST",
	"server.port":                         "SERVER_PORT",
	"auth.enabled":                        "AUTH_ENABLED",
	"auth.jwt_secret":                     "JWT_SECRET",
	"auth.admin_user":                     "ADMIN_USER",
	"auth.admin_password_hash":            "ADMIN_PASSWORD_HASH",
	"logging.level":                       "LOG_LEVEL",
	"logging.output":                      "LOG_OUTPUT",
	"logging.json_format":                 "LOG_JSON",
}

// Load reads defaults, then the config file (if any), then environment overrides.
// An empty path looks for config.{json,yaml} in the working directory and tolerates its absence.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v, Default())
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.ScannerConfig.QuoteAsset = strings.ToUpper(cfg.ScannerConfig.QuoteAsset)
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	b := d.BinanceConfig
	v.SetDefault("binance.base_url", b.BaseURL)
	v.SetDefault("binance.simulation_mode", b.SimulationMode)
	v.SetDefault("binance.paper_balance", b.PaperBalance)
	v.SetDefault("binance.weight_per_minute", b.WeightPerMinute)
	v.SetDefault("binance.time_sync_interval", b.TimeSyncInterval)
	v.SetDefault("binance.request_timeout", b.RequestTimeout)

	v.SetDefault("vault.address", d.VaultConfig.Address)
	v.SetDefault("vault.mount", d.VaultConfig.Mount)
	v.SetDefault("vault.path", d.VaultConfig.Path)

	db := d.DatabaseConfig
	v.SetDefault("database.driver", db.Driver)
	v.SetDefault("database.sqlite_path", db.SQLitePath)
	v.SetDefault("database.history_retention", db.HistoryRetention)
	v.SetDefault("database.log_retention", db.LogRetention)

	v.SetDefault("redis.addr", d.RedisConfig.Addr)

	s := d.ScannerConfig
	v.SetDefault("scanner.quote_asset", s.QuoteAsset)
	v.SetDefault("scanner.min_quote_volume", s.MinQuoteVolume)
	v.SetDefault("scanner.top_n", s.TopN)
	v.SetDefault("scanner.kline_interval", s.KlineInterval)
	v.SetDefault("scanner.kline_limit", s.KlineLimit)
	v.SetDefault("scanner.rsi_period", s.RSIPeriod)
	v.SetDefault("scanner.ema_period", s.EMAPeriod)
	v.SetDefault("scanner.ignore_symbols", s.IgnoreSymbols)

	c := d.StrategyConfig.Conservative
	v.SetDefault("strategy.conservative.buy_rsi", c.BuyRSI)
	v.SetDefault("strategy.conservative.downtrend_rsi", c.DowntrendRSI)
	v.SetDefault("strategy.conservative.swap_rsi", c.SwapRSI)
	v.SetDefault("strategy.conservative.tier1_threshold", c.Tier1Threshold)
	v.SetDefault("strategy.conservative.tier2_threshold", c.Tier2Threshold)
	v.SetDefault("strategy.conservative.tier1_stop", c.Tier1Stop)
	v.SetDefault("strategy.conservative.tier2_stop", c.Tier2Stop)
	v.SetDefault("strategy.conservative.tier3_stop", c.Tier3Stop)
	v.SetDefault("strategy.conservative.emergency_stop_loss", c.EmergencyStopLoss)
	v.SetDefault("strategy.conservative.take_profit", c.TakeProfit)

	sc := d.StrategyConfig.Scalp
	v.SetDefault("strategy.scalp.enabled", sc.Enabled)
	v.SetDefault("strategy.scalp.buy_rsi", sc.BuyRSI)
	v.SetDefault("strategy.scalp.swap_rsi", sc.SwapRSI)
	v.SetDefault("strategy.scalp.stop_loss", sc.StopLoss)
	v.SetDefault("strategy.scalp.take_profit", sc.TakeProfit)

	a := d.StrategyConfig.Allocator
	v.SetDefault("strategy.allocator.min_viable_trade", a.MinViableTrade)
	v.SetDefault("strategy.allocator.fee_buffer", a.FeeBuffer)
	v.SetDefault("strategy.allocator.full_balance_multiplier", a.FullBalanceMultiplier)

	sw := d.StrategyConfig.Swap
	v.SetDefault("strategy.swap.urgent_rsi", sw.UrgentRSI)
	v.SetDefault("strategy.swap.min_hold", sw.MinHold)
	v.SetDefault("strategy.swap.loss_margin", sw.LossMargin)
	v.SetDefault("strategy.swap.settle_delay", sw.SettleDelay)

	v.SetDefault("strategy.cooldown.duration", d.StrategyConfig.Cooldown.Duration)
	v.SetDefault("strategy.milestones", d.StrategyConfig.Milestones)

	ap := d.AutopilotConfig
	v.SetDefault("autopilot.cycle_interval", ap.CycleInterval)
	v.SetDefault("autopilot.error_backoff", ap.ErrorBackoff)
	v.SetDefault("autopilot.call_timeout", ap.CallTimeout)

	srv := d.ServerConfig
	v.SetDefault("server.enabled", srv.Enabled)
	v.SetDefault("server.host", srv.Host)
	v.SetDefault("server.port", srv.Port)
	v.SetDefault("server.allowed_origins", srv.AllowedOrigins)

	v.SetDefault("auth.admin_user", d.AuthConfig.AdminUser)
	v.SetDefault("auth.token_ttl", d.AuthConfig.TokenTTL)

	l := d.LoggingConfig
	v.SetDefault("logging.level", l.Level)
	v.SetDefault("logging.output", l.Output)
	v.SetDefault("logging.json_format", l.JSONFormat)
	v.SetDefault("logging.include_file", l.IncludeFile)
}

// Validate reports configuration that would make the bot unsafe or unable to start
func (c *Config) Validate() error {
	var errs []error

	b := c.BinanceConfig
	if !b.SimulationMode && !c.VaultConfig.Enabled && (b.APIKey == "" || b.SecretKey == "") {
		errs = append(errs, errors.New("binance credentials missing: set BINANCE_API_KEY/BINANCE_SECRET_KEY, enable vault, or enable simulation_mode"))
	}

	cons := c.StrategyConfig.Conservative
	if cons.Tier1Threshold >= cons.Tier2Threshold {
		errs = append(errs, fmt.Errorf("tier1_threshold (%.2f) must be below tier2_threshold (%.2f)", cons.Tier1Threshold, cons.Tier2Threshold))
	}
	if cons.Tier1Stop <= 0 || cons.Tier2Stop <= 0 || cons.Tier3Stop <= 0 {
		errs = append(errs, errors.New("ladder stops must be positive"))
	}
	if cons.EmergencyStopLoss <= 0 || cons.TakeProfit <= 0 {
		errs = append(errs, errors.New("emergency_stop_loss and take_profit must be positive"))
	}
	if sc := c.StrategyConfig.Scalp; sc.Enabled && (sc.StopLoss <= 0 || sc.TakeProfit <= 0) {
		errs = append(errs, errors.New("scalp stop_loss and take_profit must be positive"))
	}

	alloc := c.StrategyConfig.Allocator
	if alloc.MinViableTrade <= alloc.FeeBuffer {
		errs = append(errs, fmt.Errorf("min_viable_trade (%.2f) must exceed fee_buffer (%.2f)", alloc.MinViableTrade, alloc.FeeBuffer))
	}
	if alloc.FullBalanceMultiplier < 1 {
		errs = append(errs, errors.New("full_balance_multiplier must be at least 1"))
	}

	if c.AutopilotConfig.CycleInterval <= 0 {
		errs = append(errs, errors.New("cycle_interval must be positive"))
	}
	if c.ScannerConfig.TopN <= 0 || c.ScannerConfig.KlineLimit <= c.ScannerConfig.RSIPeriod {
		errs = append(errs, errors.New("scanner top_n must be positive and kline_limit must exceed rsi_period"))
	}
	if c.ScannerConfig.KlineLimit < c.ScannerConfig.EMAPeriod {
		errs = append(errs, fmt.Errorf("scanner kline_limit (%d) must be at least ema_period (%d)", c.ScannerConfig.KlineLimit, c.ScannerConfig.EMAPeriod))
	}

	switch c.DatabaseConfig.Driver {
	case "sqlite":
	case "postgres":
		if c.DatabaseConfig.PostgresURL == "" {
			errs = append(errs, errors.New("database.postgres_url is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.DatabaseConfig.Driver))
	}

	if c.AuthConfig.Enabled && (c.AuthConfig.JWTSecret == "" || c.AuthConfig.AdminPasswordHash == "") {
		errs = append(errs, errors.New("auth enabled but jwt_secret or admin_password_hash is empty"))
	}

	return errors.Join(errs...)
}

// GenerateSampleConfig writes the default configuration as JSON
func GenerateSampleConfig(filename string) error {
	data, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}
