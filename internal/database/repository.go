package database

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"spot-ladder-bot/internal/strategy"
)

// Repository is the PostgreSQL Store
type Repository struct {
	db        *DB
	retention Retention
}

// NewRepository creates a new repository
func NewRepository(db *DB, retention Retention) *Repository {
	return &Repository{db: db, retention: retention.withDefaults()}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// POSITIONS
// ============================================================================

func (r *Repository) UpsertPosition(ctx context.Context, p *Position) error {
	if err := p.Validate(); err != nil {
		return err
	}
	query := `
		INSERT INTO positions (symbol, entry_price, highest_price, amount_usdt, rsi_at_entry, entry_time, strategy, stop_price, status_label)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (symbol) DO UPDATE SET
			entry_price = EXCLUDED.entry_price,
			highest_price = EXCLUDED.highest_price,
			amount_usdt = EXCLUDED.amount_usdt,
			rsi_at_entry = EXCLUDED.rsi_at_entry,
			entry_time = EXCLUDED.entry_time,
			strategy = EXCLUDED.strategy,
			stop_price = EXCLUDED.stop_price,
			status_label = EXCLUDED.status_label
	`
	_, err := r.db.Pool.Exec(ctx, query,
		p.Symbol, p.EntryPrice, p.HighestPrice, p.AmountUSDT, p.RSIAtEntry, p.EntryTime,
		string(p.Strategy), p.StopPrice, p.StatusLabel,
	)
	return err
}

func (r *Repository) DeletePosition(ctx context.Context, symbol string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM positions WHERE symbol = $1`, symbol)
	return err
}

const positionColumns = `symbol, entry_price, highest_price, amount_usdt, rsi_at_entry, entry_time, strategy, stop_price, status_label`

func scanPosition(row pgx.Row) (*Position, error) {
	var p Position
	var s string
	if err := row.Scan(&p.Symbol, &p.EntryPrice, &p.HighestPrice, &p.AmountUSDT, &p.RSIAtEntry,
		&p.EntryTime, &s, &p.StopPrice, &p.StatusLabel); err != nil {
		return nil, err
	}
	parsed, err := strategy.ParseStrategy(s)
	if err != nil {
		return nil, err
	}
	p.Strategy = parsed
	p.applyDefaults()
	return &p, nil
}

func (r *Repository) GetPosition(ctx context.Context, symbol string) (*Position, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+positionColumns+` FROM positions WHERE symbol = $1`, symbol)
	p, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (r *Repository) ListPositions(ctx context.Context) ([]*Position, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+positionColumns+` FROM positions ORDER BY entry_time ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// ============================================================================
// EQUITY
// ============================================================================

func (r *Repository) AppendEquitySample(ctx context.Context, s EquitySample) error {
	return pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO equity_history (timestamp, equity, free_balance, change_pct, positions_count)
			VALUES ($1, $2, $3, $4, $5)`,
			s.Timestamp, s.Equity, s.FreeBalance, s.ChangePercent, s.PositionsCount,
		); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			DELETE FROM equity_history WHERE id NOT IN (
				SELECT id FROM equity_history ORDER BY id DESC LIMIT $1
			)`, r.retention.History)
		return err
	})
}

func (r *Repository) ListEquitySamples(ctx context.Context, limit int) ([]EquitySample, error) {
	if limit <= 0 {
		limit = r.retention.History
	}
	rows, err := r.db.Pool.Query(ctx, `
		SELECT timestamp, equity, free_balance, change_pct, positions_count FROM (
			SELECT id, timestamp, equity, free_balance, change_pct, positions_count
			FROM equity_history ORDER BY id DESC LIMIT $1
		) recent ORDER BY id ASC`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []EquitySample
	for rows.Next() {
		var s EquitySample
		if err := rows.Scan(&s.Timestamp, &s.Equity, &s.FreeBalance, &s.ChangePercent, &s.PositionsCount); err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

func (r *Repository) UpdateWallet(ctx context.Context, equity float64, at time.Time) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO wallet (id, current_equity, updated_at) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET current_equity = EXCLUDED.current_equity, updated_at = EXCLUDED.updated_at`,
		equity, at)
	return err
}

func (r *Repository) GetWallet(ctx context.Context) (WalletSummary, error) {
	var w WalletSummary
	err := r.db.Pool.QueryRow(ctx, `SELECT current_equity, updated_at FROM wallet WHERE id = 1`).Scan(&w.CurrentEquity, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return WalletSummary{}, ErrNotFound
	}
	return w, err
}

// ============================================================================
// SYSTEM EVENTS
// ============================================================================

func (r *Repository) AppendSystemEvent(ctx context.Context, e SystemEvent) error {
	return pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO system_events (timestamp, level, category, message) VALUES ($1, $2, $3, $4)`,
			e.Timestamp, string(e.Level), e.Category, e.Message,
		); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			DELETE FROM system_events WHERE id NOT IN (
				SELECT id FROM system_events ORDER BY id DESC LIMIT $1
			)`, r.retention.Logs)
		return err
	})
}

func (r *Repository) ListSystemEvents(ctx context.Context, limit int) ([]SystemEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, timestamp, level, category, message FROM system_events ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []SystemEvent
	for rows.Next() {
		var e SystemEvent
		var level string
		if err := rows.Scan(&e.ID, &e.Timestamp, &level, &e.Category, &e.Message); err != nil {
			return nil, err
		}
		e.Level = EventLevel(level)
		events = append(events, e)
	}
	return events, rows.Err()
}

// ============================================================================
// CANDIDATES & MARKET DATA
// ============================================================================

func (r *Repository) ReplaceCandidates(ctx context.Context, candidates []Candidate) error {
	return pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM candidates`); err != nil {
			return err
		}
		if len(candidates) == 0 {
			return nil
		}
		rows := make([][]interface{}, 0, len(candidates))
		for _, c := range candidates {
			rows = append(rows, []interface{}{
				c.Symbol, c.Price, c.RSI, c.EMA, c.RVOL, c.Change24h, c.QuoteVolume, string(c.Status), c.UpdatedAt,
			})
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"candidates"},
			[]string{"symbol", "price", "rsi", "ema", "rvol", "change_24h", "quote_volume", "status", "updated_at"},
			pgx.CopyFromRows(rows),
		)
		return err
	})
}

func (r *Repository) ListCandidates(ctx context.Context) ([]Candidate, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT symbol, price, rsi, ema, rvol, change_24h, quote_volume, status, updated_at
		FROM candidates ORDER BY rsi ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		var status string
		if err := rows.Scan(&c.Symbol, &c.Price, &c.RSI, &c.EMA, &c.RVOL, &c.Change24h, &c.QuoteVolume, &status, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.Status = CandidateStatus(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repository) AppendMarketData(ctx context.Context, points []MarketDataPoint) error {
	if len(points) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(`
			INSERT INTO market_data_history (timestamp, symbol, price, rsi, volume_24h, rvol)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			p.Timestamp, p.Symbol, p.Price, p.RSI, p.Volume24h, p.RVOL)
	}
	return r.db.Pool.SendBatch(ctx, batch).Close()
}

func (r *Repository) Close() error {
	r.db.Close()
	return nil
}

var (
	_ Store = (*Repository)(nil)
	_ Store = (*SQLiteStore)(nil)
)
