package autopilot

import (
	"context"
	"errors"
	"fmt"

	"spot-ladder-bot/internal/binance"
	"spot-ladder-bot/internal/database"
	"spot-ladder-bot/internal/notification"
	"spot-ladder-bot/internal/risk"
	"spot-ladder-bot/internal/scanner"
)

// scanAndEnter refreshes the candidate snapshot and attempts every opportunity in order
func (sc *SpotController) scanAndEnter(ctx context.Context) {
	if purged := sc.cooldowns.Purge(); purged > 0 {
		sc.logger.Debug("Expired cooldowns purged", "count", purged)
	}

	result, err := sc.scanner.Scan(ctx, sc.isHeld, sc.cooldowns.Active)
	if err != nil {
		sc.metrics.ExchangeError("ticker")
		sc.logEvent(ctx, database.LevelWarn, database.CategoryScan,
			fmt.Sprintf("Scan skipped: %v", err))
		return
	}

	if err := sc.store.ReplaceCandidates(ctx, result.Candidates); err != nil {
		sc.logger.Error("Failed to replace candidates", "error", err)
		sc.recordStoreErr("replace candidates", err)
	}
	if len(result.MarketData) > 0 {
		if err := sc.store.AppendMarketData(ctx, result.MarketData); err != nil {
			sc.logger.Warn("Failed to record market data", "error", err)
		}
	}
	sc.metrics.SetCandidates(len(result.Candidates))
	sc.events.PublishCandidatesUpdated(len(result.Candidates), len(result.Opportunities))

	for _, opp := range result.Opportunities {
		if ctx.Err() != nil {
			return
		}
		if sc.isHeld(opp.Symbol()) {
			continue
		}
		sc.attemptEntry(ctx, opp)
	}
}

// attemptEntry buys the opportunity, falling back to a zombie swap when the
// buy failed for lack of capital and the signal is strong enough.
func (sc *SpotController) attemptEntry(ctx context.Context, opp scanner.Opportunity) bool {
	err := sc.executeBuy(ctx, opp)
	if err == nil {
		return true
	}

	shortfall := errors.Is(err, risk.ErrInsufficientCapital) || errors.Is(err, binance.ErrInsufficientBalance)
	if !shortfall {
		return false
	}
	if !sc.risk.ShouldSwap(opp.Strategy, opp.RSI()) {
		sc.logger.Debug("Insufficient capital, signal not strong enough to swap",
			"symbol", opp.Symbol(), "rsi", opp.RSI(), "threshold", sc.risk.SwapThreshold(opp.Strategy))
		return false
	}
	return sc.trySwap(ctx, opp)
}

// executeBuy sizes and places one market buy against a fresh balance read
func (sc *SpotController) executeBuy(ctx context.Context, opp scanner.Opportunity) error {
	symbol := opp.Symbol()
	free := sc.freeBalance(ctx)

	alloc, err := sc.risk.SizeEntry(free)
	if err != nil {
		sc.logger.Debug("Entry not funded", "symbol", symbol, "free", free, "error", err)
		return err
	}

	callCtx, cancel := sc.callCtx(ctx)
	conf, err := sc.exchange.PlaceMarketOrder(callCtx, symbol, binance.SideBuy, alloc.Amount)
	cancel()
	if err != nil {
		sc.metrics.ExchangeError("buy")
		level := database.LevelError
		if errors.Is(err, binance.ErrInsufficientBalance) || errors.Is(err, binance.ErrMarketClosed) {
			level = database.LevelWarn
		}
		sc.logEvent(ctx, level, database.CategoryTrade,
			fmt.Sprintf("Buy failed for %s ($%.2f): %v", symbol, alloc.Amount, err))
		return fmt.Errorf("buy %s: %w", symbol, err)
	}

	entry := opp.Candidate.Price
	if avg := conf.AvgPrice(); avg > 0 {
		entry = avg
	}
	amount := alloc.Amount
	if conf.QuoteQty > 0 {
		amount = conf.QuoteQty
	}

	p, err := database.NewPosition(symbol, entry, amount, opp.RSI(), opp.Strategy, sc.clock.Now())
	if err != nil {
		// the order filled; without a valid record the holding is untracked
		sc.logEvent(ctx, database.LevelError, database.CategoryTrade,
			fmt.Sprintf("Bought %s but could not record the position: %v", symbol, err))
		return fmt.Errorf("record position %s: %w", symbol, err)
	}
	sc.positions[symbol] = p
	if err := sc.store.UpsertPosition(ctx, p); err != nil {
		sc.recordStoreErr("insert position "+symbol, err)
		sc.logEvent(ctx, database.LevelError, database.CategorySystem,
			fmt.Sprintf("Bought %s but could not persist the position: %v", symbol, err))
	}
	sc.adjustFree(-amount)

	sc.metrics.PositionOpened(string(opp.Strategy))
	sc.events.PublishPositionOpened(symbol, string(opp.Strategy), entry, amount, opp.RSI())
	sc.notifier.SendAlert(ctx, symbol, fmt.Sprintf("%s entry, RSI %.1f", opp.Strategy, opp.RSI()),
		notification.ActionBuy, entry, fmt.Sprintf("Amount: %.2f %s", amount, sc.config.QuoteAsset))
	sc.logEvent(ctx, database.LevelInfo, database.CategoryTrade,
		fmt.Sprintf("Bought %s: $%.2f at %.6g (%s, RSI %.1f)", symbol, amount, entry, opp.Strategy, opp.RSI()),
		"order_id", conf.OrderID, "full_balance", alloc.FullBalance)

	// later opportunities in this cycle must see the reduced balance
	sc.refreshEquity(ctx)
	return nil
}

// trySwap liquidates the worst eligible loser and retries the buy exactly once
func (sc *SpotController) trySwap(ctx context.Context, opp scanner.Opportunity) bool {
	now := sc.clock.Now()
	prices := make(map[string]float64, len(sc.positions))
	holdings := make([]risk.Holding, 0, len(sc.positions))
	for _, symbol := range sc.heldSymbols() {
		p := sc.positions[symbol]
		price, live := sc.markPrice(ctx, p)
		if !live {
			continue
		}
		prices[symbol] = price
		holdings = append(holdings, risk.Holding{
			Symbol:     symbol,
			PnLPercent: p.PnLPercent(price),
			Held:       p.HeldFor(now),
		})
	}

	zombie, ok := sc.risk.SelectZombie(holdings, opp.RSI())
	if !ok {
		sc.logger.Info("No zombie position to swap",
			"candidate", opp.Symbol(), "rsi", opp.RSI(), "min_hold", sc.risk.MinHoldFor(opp.RSI()).String())
		return false
	}

	sc.logEvent(ctx, database.LevelInfo, database.CategorySwap,
		fmt.Sprintf("Swapping %s (PnL %+.2f%%) for %s (RSI %.1f)", zombie.Symbol, zombie.PnLPercent, opp.Symbol(), opp.RSI()))

	price := prices[zombie.Symbol]
	p := sc.positions[zombie.Symbol]
	decision := risk.ExitDecision{
		Close:            true,
		Reason:           risk.ExitSwap,
		PnLPercent:       zombie.PnLPercent,
		MaxProfitPercent: p.MaxProfitPercent(),
		StopPrice:        p.StopPrice,
		StatusLabel:      p.StatusLabel,
	}
	if err := sc.closePosition(ctx, zombie.Symbol, price, decision); err != nil {
		return false
	}
	sc.metrics.SwapExecuted()
	sc.notifier.SendAlert(ctx, opp.Symbol(), fmt.Sprintf("freed capital from %s", zombie.Symbol),
		notification.ActionSwap, opp.Candidate.Price, fmt.Sprintf("Candidate RSI: %.1f", opp.RSI()))

	if sc.config.SettleDelay > 0 {
		select {
		case <-ctx.Done():
			return false
		case <-sc.clock.After(sc.config.SettleDelay):
		}
	}

	if err := sc.executeBuy(ctx, opp); err != nil {
		sc.logEvent(ctx, database.LevelWarn, database.CategorySwap,
			fmt.Sprintf("Swap sold %s but the buy of %s failed: %v", zombie.Symbol, opp.Symbol(), err))
		return false
	}
	return true
}
