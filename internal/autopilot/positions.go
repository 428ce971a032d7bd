package autopilot

import (
	"context"
	"errors"
	"fmt"

	"spot-ladder-bot/internal/binance"
	"spot-ladder-bot/internal/database"
	"spot-ladder-bot/internal/logging"
	"spot-ladder-bot/internal/notification"
	"spot-ladder-bot/internal/risk"
)

// managePositions evaluates every open position against a fresh price
func (sc *SpotController) managePositions(ctx context.Context) {
	for _, symbol := range sc.heldSymbols() {
		if ctx.Err() != nil {
			return
		}
		sc.managePosition(ctx, sc.positions[symbol])
	}
}

func (sc *SpotController) managePosition(ctx context.Context, p *database.Position) {
	log := logging.PositionContext(sc.logger, p.Symbol, string(p.Strategy), p.EntryPrice, p.AmountUSDT)

	callCtx, cancel := sc.callCtx(ctx)
	price, err := sc.exchange.GetPrice(callCtx, p.Symbol)
	cancel()
	if err != nil || price <= 0 {
		sc.metrics.ExchangeError("price")
		log.Warn("Price unavailable, skipping position this cycle", "error", err)
		return
	}

	moved := p.ObservePrice(price)
	decision := sc.risk.EvaluateExit(p.Strategy, p.EntryPrice, p.HighestPrice, price)
	changed := moved || decision.StopPrice != p.StopPrice || decision.StatusLabel != p.StatusLabel
	p.StopPrice = decision.StopPrice
	p.StatusLabel = decision.StatusLabel

	// the high-water mark is persisted before any sell is attempted
	if changed {
		if err := sc.store.UpsertPosition(ctx, p); err != nil {
			log.Error("Failed to persist position", "error", err)
			sc.recordStoreErr("upsert position "+p.Symbol, err)
		}
	}

	log.Debug("Position evaluated",
		"price", price,
		"high", p.HighestPrice,
		"pnl_pct", decision.PnLPercent,
		"stop", decision.StopPrice,
		"status", decision.StatusLabel)
	sc.events.PublishPositionUpdate(p.Symbol, p.StatusLabel, price, p.StopPrice, decision.PnLPercent)

	if decision.Close {
		if err := sc.closePosition(ctx, p.Symbol, price, decision); err != nil {
			log.Warn("Close failed, position kept for retry", "reason", decision.Describe(), "error", err)
		}
		return
	}

	sc.checkMilestones(ctx, p, price, decision.PnLPercent)
}

// closePosition sells the position and, only after the exchange confirms,
// removes it, clears its milestone markers and starts its cooldown.
func (sc *SpotController) closePosition(ctx context.Context, symbol string, price float64, decision risk.ExitDecision) error {
	p, ok := sc.positions[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, symbol)
	}
	reason := decision.Describe()

	callCtx, cancel := sc.callCtx(ctx)
	conf, err := sc.exchange.PlaceMarketOrder(callCtx, symbol, binance.SideSell, p.ValueAt(price))
	cancel()
	if err != nil {
		sc.metrics.ExchangeError("sell")
		sc.logEvent(ctx, database.LevelError, database.CategoryTrade,
			fmt.Sprintf("Sell failed for %s (%s): %v", symbol, reason, err))
		return fmt.Errorf("sell %s: %w", symbol, err)
	}

	exitPrice := price
	if avg := conf.AvgPrice(); avg > 0 {
		exitPrice = avg
	}
	proceeds := p.ValueAt(exitPrice)
	if conf.QuoteQty > 0 {
		proceeds = conf.QuoteQty
	}
	pnlPct := p.PnLPercent(exitPrice)
	pnlUSDT := proceeds - p.AmountUSDT

	if err := sc.store.DeletePosition(ctx, symbol); err != nil {
		sc.recordStoreErr("delete position "+symbol, err)
		sc.logEvent(ctx, database.LevelError, database.CategorySystem,
			fmt.Sprintf("Sold %s but could not delete its record: %v", symbol, err))
	}
	delete(sc.positions, symbol)
	sc.adjustFree(proceeds)
	sc.clearMilestones(ctx, symbol)

	expiry := sc.cooldowns.Start(symbol)
	if sc.alertState != nil {
		if err := sc.alertState.SaveCooldown(ctx, symbol, expiry); err != nil {
			sc.logger.Warn("Failed to persist cooldown", "symbol", symbol, "error", err)
		}
	}

	extra := fmt.Sprintf("PnL: %+.2f%% (%+.2f %s)\nEntry: %.6g", pnlPct, pnlUSDT, sc.config.QuoteAsset, p.EntryPrice)
	sc.notifier.SendAlert(ctx, symbol, reason, notification.ActionSell, exitPrice, extra)
	sc.events.PublishPositionClosed(symbol, string(decision.Reason), p.EntryPrice, exitPrice, pnlPct)
	sc.metrics.PositionClosed(string(decision.Reason))
	sc.metrics.SetEquity(sc.lastEquity, len(sc.positions))

	level := database.LevelInfo
	if pnlPct < 0 {
		level = database.LevelWarn
	}
	sc.logEvent(ctx, level, database.CategoryTrade,
		fmt.Sprintf("Sold %s at %.6g (%s), PnL %+.2f%%", symbol, exitPrice, reason, pnlPct),
		"order_id", conf.OrderID, "cooldown_until", expiry)
	return nil
}

// ClosePosition closes symbol immediately through the regular close path.
// Call it only from the loop goroutine or while Run is not active.
func (sc *SpotController) ClosePosition(ctx context.Context, symbol string) error {
	p, ok := sc.positions[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, symbol)
	}
	price, _ := sc.markPrice(ctx, p)
	decision := risk.ExitDecision{
		Close:            true,
		Reason:           risk.ExitManual,
		PnLPercent:       p.PnLPercent(price),
		MaxProfitPercent: p.MaxProfitPercent(),
		StopPrice:        p.StopPrice,
		StatusLabel:      p.StatusLabel,
	}
	return sc.closePosition(ctx, symbol, price, decision)
}

// handleManualClose runs between cycles, so persistence failures from the
// close path are reported here rather than left for the next cycle to reset.
func (sc *SpotController) handleManualClose(ctx context.Context, req closeRequest) error {
	ctx, log := logging.WithTraceContext(ctx, sc.logger)

	mark := len(sc.cycleErrs)
	err := sc.ClosePosition(ctx, req.symbol)
	storeErr := errors.Join(sc.cycleErrs[mark:]...)
	sc.cycleErrs = sc.cycleErrs[:mark]

	if err != nil {
		sc.logEvent(ctx, database.LevelWarn, database.CategoryTrade,
			fmt.Sprintf("Manual close of %s failed: %v", req.symbol, err))
		return err
	}
	if storeErr != nil {
		log.Error("Manual close not fully persisted", "symbol", req.symbol, "error", storeErr)
		sc.setStatus(func(s *Status) { s.LastError = storeErr.Error() })
		return storeErr
	}
	return nil
}

// checkMilestones alerts once per position for each PnL milestone reached
func (sc *SpotController) checkMilestones(ctx context.Context, p *database.Position, price, pnlPct float64) {
	for _, m := range sc.config.Milestones {
		if pnlPct < m || sc.milestones[p.Symbol][m] {
			continue
		}
		sc.markMilestone(p.Symbol, m)
		if sc.alertState != nil {
			if err := sc.alertState.AddMilestone(ctx, p.Symbol, m); err != nil {
				sc.logger.Warn("Failed to persist milestone", "symbol", p.Symbol, "milestone", m, "error", err)
			}
		}

		sc.notifier.SendAlert(ctx, p.Symbol, fmt.Sprintf("profit milestone +%.0f%%", m),
			notification.ActionMilestone, price, fmt.Sprintf("PnL: %+.2f%%", pnlPct))
		sc.logEvent(ctx, database.LevelInfo, database.CategoryAlert,
			fmt.Sprintf("%s reached +%.0f%% (PnL %+.2f%%)", p.Symbol, m, pnlPct))
	}
}

func (sc *SpotController) markMilestone(symbol string, m float64) {
	set, ok := sc.milestones[symbol]
	if !ok {
		set = make(map[float64]bool)
		sc.milestones[symbol] = set
	}
	set[m] = true
}

func (sc *SpotController) clearMilestones(ctx context.Context, symbol string) {
	delete(sc.milestones, symbol)
	if sc.alertState != nil {
		if err := sc.alertState.ClearMilestones(ctx, symbol); err != nil {
			sc.logger.Warn("Failed to clear milestones", "symbol", symbol, "error", err)
		}
	}
}
