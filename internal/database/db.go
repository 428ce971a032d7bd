package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"spot-ladder-bot/internal/logging"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger *logging.Logger
}

// NewDB creates a new database connection from a postgres:// URL
func NewDB(ctx context.Context, url string, logger *logging.Logger) (*DB, error) {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithComponent("postgres")

	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	// The control loop is the only writer; a small pool is plenty
	poolConfig.MaxConns = 5
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger.Info("Connected to PostgreSQL", "database", poolConfig.ConnConfig.Database)
	return &DB{Pool: pool, logger: logger}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info("Database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info("Running database migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS positions (
			symbol VARCHAR(32) PRIMARY KEY,
			entry_price DOUBLE PRECISION NOT NULL,
			highest_price DOUBLE PRECISION NOT NULL,
			amount_usdt DOUBLE PRECISION NOT NULL,
			rsi_at_entry DOUBLE PRECISION NOT NULL DEFAULT 0,
			entry_time TIMESTAMPTZ NOT NULL,
			strategy VARCHAR(16) NOT NULL DEFAULT 'conservative'
		)`,
		`ALTER TABLE positions ADD COLUMN IF NOT EXISTS stop_price DOUBLE PRECISION NOT NULL DEFAULT 0`,
		`ALTER TABLE positions ADD COLUMN IF NOT EXISTS status_label VARCHAR(16) NOT NULL DEFAULT 'HOLD'`,

		`CREATE TABLE IF NOT EXISTS equity_history (
			id BIGSERIAL PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			equity DOUBLE PRECISION NOT NULL,
			free_balance DOUBLE PRECISION NOT NULL DEFAULT 0,
			change_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
			positions_count INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS wallet (
			id INTEGER PRIMARY KEY,
			current_equity DOUBLE PRECISION NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS system_events (
			id BIGSERIAL PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			level VARCHAR(8) NOT NULL,
			category VARCHAR(16) NOT NULL,
			message TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS candidates (
			symbol VARCHAR(32) PRIMARY KEY,
			price DOUBLE PRECISION NOT NULL,
			rsi DOUBLE PRECISION NOT NULL,
			ema DOUBLE PRECISION NOT NULL DEFAULT 0,
			rvol DOUBLE PRECISION NOT NULL DEFAULT 0,
			change_24h DOUBLE PRECISION NOT NULL DEFAULT 0,
			quote_volume DOUBLE PRECISION NOT NULL DEFAULT 0,
			status VARCHAR(16) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS market_data_history (
			id BIGSERIAL PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			symbol VARCHAR(32) NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			rsi DOUBLE PRECISION NOT NULL,
			volume_24h DOUBLE PRECISION NOT NULL,
			rvol DOUBLE PRECISION NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_market_data_symbol_ts ON market_data_history(symbol, timestamp)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info("Database migrations completed", "count", len(migrations))
	return nil
}

// HealthCheck performs a database health check
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
