package autopilot

import (
	"context"

	"spot-ladder-bot/internal/binance"
	"spot-ladder-bot/internal/database"
	"spot-ladder-bot/internal/risk"
)

// freeBalance reads the free quote balance. When the account is unavailable it
// falls back to the last known balance adjusted by fills since, or the
// configured fallback if no read has ever succeeded.
func (sc *SpotController) freeBalance(ctx context.Context) float64 {
	callCtx, cancel := sc.callCtx(ctx)
	balances, err := sc.exchange.GetAccountBalances(callCtx)
	cancel()
	if err == nil {
		free, _ := binance.FreeBalance(balances, sc.config.QuoteAsset)
		sc.lastFree = free
		sc.freeKnown = true
		return free
	}

	sc.metrics.ExchangeError("account")
	estimate := sc.config.FallbackBalance
	if sc.freeKnown {
		estimate = sc.lastFree
	}
	sc.logger.Warn("Account balances unavailable, using estimate", "estimate", estimate, "error", err)
	return estimate
}

// adjustFree applies a fill to the estimated free balance
func (sc *SpotController) adjustFree(delta float64) {
	if !sc.freeKnown {
		sc.lastFree = sc.config.FallbackBalance
		sc.freeKnown = true
	}
	sc.lastFree += delta
	if sc.lastFree < 0 {
		sc.lastFree = 0
	}
}

// markPrice returns the live price for a held symbol, falling back to entry
func (sc *SpotController) markPrice(ctx context.Context, p *database.Position) (float64, bool) {
	callCtx, cancel := sc.callCtx(ctx)
	defer cancel()
	price, err := sc.exchange.GetPrice(callCtx, p.Symbol)
	if err != nil || price <= 0 {
		return p.EntryPrice, false
	}
	return price, true
}

// refreshEquity computes free balance plus mark-to-market position value,
// appends an equity sample and updates the wallet summary.
func (sc *SpotController) refreshEquity(ctx context.Context) database.EquitySample {
	free := sc.freeBalance(ctx)

	invested := 0.0
	for _, symbol := range sc.heldSymbols() {
		p := sc.positions[symbol]
		price, live := sc.markPrice(ctx, p)
		if !live {
			invested += p.AmountUSDT
			continue
		}
		invested += p.ValueAt(price)
	}

	now := sc.clock.Now()
	equity := free + invested
	sample := database.EquitySample{
		Timestamp:      now,
		Equity:         equity,
		FreeBalance:    free,
		PositionsCount: len(sc.positions),
	}
	if sc.lastEquity > 0 {
		sample.ChangePercent = risk.PercentChange(sc.lastEquity, equity)
	}

	if err := sc.store.AppendEquitySample(ctx, sample); err != nil {
		sc.logger.Error("Failed to append equity sample", "error", err)
		sc.recordStoreErr("append equity sample", err)
	}
	if err := sc.store.UpdateWallet(ctx, equity, now); err != nil {
		sc.logger.Error("Failed to update wallet", "error", err)
		sc.recordStoreErr("update wallet", err)
	}

	sc.lastEquity = equity
	sc.metrics.SetEquity(equity, len(sc.positions))
	sc.events.PublishEquityUpdate(equity, free, sample.ChangePercent, len(sc.positions))
	sc.logger.Debug("Equity refreshed",
		"equity", equity, "free", free, "invested", invested, "change_pct", sample.ChangePercent)
	return sample
}
