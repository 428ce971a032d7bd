package scanner

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"spot-ladder-bot/internal/binance"
	"spot-ladder-bot/internal/database"
	"spot-ladder-bot/internal/logging"
	"spot-ladder-bot/internal/strategy"
)

// Scanner filters the ticker snapshot down to a ranked shortlist and
// classifies each symbol on the conservative and scalp tracks.
type Scanner struct {
	market binance.MarketData
	config Config
	ignore map[string]struct{}
	logger *logging.Logger
	now    func() time.Time
}

// NewScanner creates a scanner; now defaults to time.Now
func NewScanner(market binance.MarketData, config Config, logger *logging.Logger, now func() time.Time) *Scanner {
	if logger == nil {
		logger = logging.Default()
	}
	if now == nil {
		now = time.Now
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}
	config.QuoteAsset = strings.ToUpper(config.QuoteAsset)

	ignore := make(map[string]struct{}, len(config.IgnoreSymbols))
	for _, s := range config.IgnoreSymbols {
		ignore[strings.ToUpper(s)] = struct{}{}
	}
	return &Scanner{
		market: market,
		config: config,
		ignore: ignore,
		logger: logger.WithComponent("scanner"),
		now:    now,
	}
}

// Config returns the scanner configuration
func (sc *Scanner) Config() Config {
	return sc.config
}

// FilterTickers applies the coarse filter and returns survivors ranked by
// absolute 24h change, largest first, truncated to TopN.
func (sc *Scanner) FilterTickers(tickers []binance.Ticker, held func(string) bool, cooling func(string) bool) []binance.Ticker {
	survivors := make([]binance.Ticker, 0, len(tickers))
	for _, t := range tickers {
		if !strings.HasSuffix(t.Symbol, sc.config.QuoteAsset) || t.Symbol == sc.config.QuoteAsset {
			continue
		}
		if _, skip := sc.ignore[t.Symbol]; skip {
			continue
		}
		if held != nil && held(t.Symbol) {
			continue
		}
		if cooling != nil && cooling(t.Symbol) {
			continue
		}
		if t.QuoteVolume < sc.config.MinQuoteVolume {
			continue
		}
		survivors = append(survivors, t)
	}

	sort.SliceStable(survivors, func(i, j int) bool {
		ai, aj := math.Abs(survivors[i].PriceChangePercent), math.Abs(survivors[j].PriceChangePercent)
		if ai != aj {
			return ai > aj
		}
		return survivors[i].Symbol < survivors[j].Symbol
	})

	if sc.config.TopN > 0 && len(survivors) > sc.config.TopN {
		survivors = survivors[:sc.config.TopN]
	}
	return survivors
}

// Classification is the outcome of both eligibility tracks for one symbol
type Classification struct {
	Status       database.CandidateStatus
	Conservative bool
	Scalp        bool
}

// Classify applies the conservative and scalp rules. hasEMA false skips the trend filter.
func (sc *Scanner) Classify(price, rsi, ema float64, hasEMA bool) Classification {
	var c Classification

	downtrend := false
	if rsi <= sc.config.ConservativeBuyRSI {
		if hasEMA && price < ema && rsi > sc.config.DowntrendRSI {
			downtrend = true
		} else {
			c.Conservative = true
		}
	}
	c.Scalp = sc.config.ScalpEnabled && rsi <= sc.config.ScalpBuyRSI

	switch {
	case c.Conservative:
		c.Status = database.CandidateBuy
	case c.Scalp:
		c.Status = database.CandidateScalp
	case downtrend:
		c.Status = database.CandidateDowntrend
	default:
		c.Status = database.CandidateRSIHigh
	}
	return c
}

type evaluation struct {
	candidate database.Candidate
	class     Classification
	ok        bool
}

// Scan runs one full pass. A failed ticker snapshot is returned as an error;
// per-symbol failures only drop that symbol.
func (sc *Scanner) Scan(ctx context.Context, held func(string) bool, cooling func(string) bool) (*Result, error) {
	start := sc.now()
	result := &Result{
		ScanID:    "scan-" + uuid.NewString()[:8],
		StartTime: start,
	}

	tickers, err := sc.market.GetTickerSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("ticker snapshot: %w", err)
	}

	shortlist := sc.FilterTickers(tickers, held, cooling)
	result.Filtered = len(shortlist)

	evals := make([]evaluation, len(shortlist))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sc.config.WorkerCount)
	for i, t := range shortlist {
		g.Go(func() error {
			evals[i] = sc.evaluate(gctx, t)
			return nil
		})
	}
	_ = g.Wait()

	var conservative, scalp []Opportunity
	for _, ev := range evals {
		if !ev.ok {
			continue
		}
		result.Candidates = append(result.Candidates, ev.candidate)
		result.MarketData = append(result.MarketData, database.MarketDataPoint{
			Timestamp: ev.candidate.UpdatedAt,
			Symbol:    ev.candidate.Symbol,
			Price:     ev.candidate.Price,
			RSI:       ev.candidate.RSI,
			Volume24h: ev.candidate.QuoteVolume,
			RVOL:      ev.candidate.RVOL,
		})
		if ev.class.Conservative {
			conservative = append(conservative, Opportunity{Candidate: ev.candidate, Strategy: strategy.Conservative})
		} else if ev.class.Scalp {
			scalp = append(scalp, Opportunity{Candidate: ev.candidate, Strategy: strategy.Scalp})
		}
	}
	result.Opportunities = BuildOpportunities(conservative, scalp)
	result.Duration = sc.now().Sub(start)

	sc.logger.Info("Scan completed",
		"scan_id", result.ScanID,
		"tickers", len(tickers),
		"shortlist", len(shortlist),
		"evaluated", len(result.Candidates),
		"opportunities", len(result.Opportunities))
	return result, nil
}

// evaluate fetches candles and computes indicators for one ticker
func (sc *Scanner) evaluate(ctx context.Context, t binance.Ticker) evaluation {
	candles, err := sc.market.GetRecentCandles(ctx, t.Symbol, sc.config.KlineInterval, sc.config.KlineLimit)
	if err != nil || len(candles) == 0 {
		sc.logger.Warn("Skipping symbol, no candles", "symbol", t.Symbol, "error", err)
		return evaluation{}
	}
	closes := binance.Closes(candles)

	rsi, ok := strategy.CalculateRSI(closes, sc.config.RSIPeriod)
	if !ok {
		sc.logger.Debug("Skipping symbol, insufficient history for RSI", "symbol", t.Symbol, "bars", len(closes))
		return evaluation{}
	}
	ema, hasEMA := strategy.CalculateEMA(closes, sc.config.EMAPeriod)
	rvol := strategy.CalculateRelativeVolume(binance.Volumes(candles))
	price := closes[len(closes)-1]

	class := sc.Classify(price, rsi, ema, hasEMA)
	sc.logger.Debug("Candidate evaluated",
		"symbol", t.Symbol, "rsi", rsi, "ema", ema, "rvol", rvol, "status", class.Status)

	return evaluation{
		candidate: database.Candidate{
			Symbol:      t.Symbol,
			Price:       price,
			RSI:         rsi,
			EMA:         ema,
			RVOL:        rvol,
			Change24h:   t.PriceChangePercent,
			QuoteVolume: t.QuoteVolume,
			Status:      class.Status,
			UpdatedAt:   sc.now(),
		},
		class: class,
		ok:    true,
	}
}

// BuildOpportunities orders conservative picks by ascending RSI, then scalp
// picks by ascending RSI. A symbol appears at most once.
func BuildOpportunities(conservative, scalp []Opportunity) []Opportunity {
	byRSI := func(list []Opportunity) {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].RSI() != list[j].RSI() {
				return list[i].RSI() < list[j].RSI()
			}
			return list[i].Symbol() < list[j].Symbol()
		})
	}
	byRSI(conservative)
	byRSI(scalp)

	seen := make(map[string]struct{}, len(conservative)+len(scalp))
	out := make([]Opportunity, 0, len(conservative)+len(scalp))
	for _, list := range [][]Opportunity{conservative, scalp} {
		for _, o := range list {
			if _, dup := seen[o.Symbol()]; dup {
				continue
			}
			seen[o.Symbol()] = struct{}{}
			out = append(out, o)
		}
	}
	return out
}
