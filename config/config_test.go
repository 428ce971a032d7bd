package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "USDT", cfg.ScannerConfig.QuoteAsset)
	assert.Equal(t, 15, cfg.ScannerConfig.TopN)
	assert.Equal(t, 5.5, cfg.StrategyConfig.Allocator.MinViableTrade)
	assert.Equal(t, 30*time.Minute, cfg.StrategyConfig.Cooldown.Duration)
	assert.Equal(t, []float64{3, 5}, cfg.StrategyConfig.Milestones)
	assert.Equal(t, 60*time.Second, cfg.AutopilotConfig.CycleInterval)
	assert.Contains(t, cfg.ScannerConfig.IgnoreSymbols, "USDCUSDT")
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "bot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scanner:
  top_n: 8
  quote_asset: usdt
strategy:
  conservative:
    tier3_stop: 7.5
  swap:
    min_hold: 45m
autopilot:
  cycle_interval: 30s
`), 0644))

	t.Setenv("SIMULATION_MODE", "true")
	t.Setenv("TELEGRAM_BOT_TOKEN", "token-123")
	t.Setenv("SERVER_PORT", "9100")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.ScannerConfig.TopN)
	assert.Equal(t, "USDT", cfg.ScannerConfig.QuoteAsset)
	assert.Equal(t, 7.5, cfg.StrategyConfig.Conservative.Tier3Stop)
	assert.Equal(t, 4.5, cfg.StrategyConfig.Conservative.Tier2Stop)
	assert.Equal(t, 45*time.Minute, cfg.StrategyConfig.Swap.MinHold)
	assert.Equal(t, 30*time.Second, cfg.AutopilotConfig.CycleInterval)
	assert.True(t, cfg.BinanceConfig.SimulationMode)
	assert.Equal(t, "token-123", cfg.NotificationConfig.Telegram.BotToken)
	assert.Equal(t, 9100, cfg.ServerConfig.Port)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "simulation without credentials",
			mutate:  func(c *Config) { c.BinanceConfig.SimulationMode = true },
			wantErr: false,
		},
		{
			name:    "live without credentials",
			mutate:  func(c *Config) {},
			wantErr: true,
		},
		{
			name: "live with credentials",
			mutate: func(c *Config) {
				c.BinanceConfig.APIKey = "k"
				c.BinanceConfig.SecretKey = "s"
			},
			wantErr: false,
		},
		{
			name: "tier thresholds inverted",
			mutate: func(c *Config) {
				c.BinanceConfig.SimulationMode = true
				c.StrategyConfig.Conservative.Tier1Threshold = 8
			},
			wantErr: true,
		},
		{
			name: "fee buffer swallows trade",
			mutate: func(c *Config) {
				c.BinanceConfig.SimulationMode = true
				c.StrategyConfig.Allocator.FeeBuffer = 6
			},
			wantErr: true,
		},
		{
			name: "kline limit below ema period",
			mutate: func(c *Config) {
				c.BinanceConfig.SimulationMode = true
				c.ScannerConfig.KlineLimit = 60
			},
			wantErr: true,
		},
		{
			name: "kline limit equal to ema period",
			mutate: func(c *Config) {
				c.BinanceConfig.SimulationMode = true
				c.ScannerConfig.KlineLimit = c.ScannerConfig.EMAPeriod
			},
			wantErr: false,
		},
		{
			name: "postgres without url",
			mutate: func(c *Config) {
				c.BinanceConfig.SimulationMode = true
				c.DatabaseConfig.Driver = "postgres"
			},
			wantErr: true,
		},
		{
			name: "auth without secret",
			mutate: func(c *Config) {
				c.BinanceConfig.SimulationMode = true
				c.AuthConfig.Enabled = true
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
