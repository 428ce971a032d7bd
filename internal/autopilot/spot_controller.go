package autopilot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"spot-ladder-bot/internal/binance"
	"spot-ladder-bot/internal/database"
	"spot-ladder-bot/internal/events"
	"spot-ladder-bot/internal/logging"
	"spot-ladder-bot/internal/metrics"
	"spot-ladder-bot/internal/notification"
	"spot-ladder-bot/internal/risk"
	"spot-ladder-bot/internal/scanner"
)

var (
	// ErrPositionNotFound is returned when closing a symbol that is not held
	ErrPositionNotFound = errors.New("position not found")
	// ErrQueueFull is returned when too many manual closes are pending
	ErrQueueFull = errors.New("manual close queue full")
)

// Deps are the collaborators of the controller. AlertState, Notifier,
// Events and Metrics are optional.
type Deps struct {
	Exchange   binance.Exchange
	Store      database.Store
	AlertState *database.AlertStateStore
	Risk       *risk.Manager
	Scanner    *scanner.Scanner
	Notifier   *notification.Manager
	Events     *events.EventBus
	Metrics    *metrics.Metrics
	Clock      Clock
	Logger     *logging.Logger
}

// Status is a point-in-time view of the loop for health endpoints
type Status struct {
	Running       bool      `json:"running"`
	Cycles        int64     `json:"cycles"`
	LastCycleAt   time.Time `json:"last_cycle_at"`
	LastError     string    `json:"last_error,omitempty"`
	OpenPositions int       `json:"open_positions"`
	Equity        float64   `json:"equity"`
}

type closeRequest struct {
	symbol string
}

// SpotController runs the decision cycle: refresh equity, manage open
// positions, then scan and enter. All trading state is owned by the single
// goroutine running Run; other goroutines only read Status and enqueue
// manual closes.
type SpotController struct {
	config Config

	exchange   binance.Exchange
	store      database.Store
	alertState *database.AlertStateStore
	risk       *risk.Manager
	scanner    *scanner.Scanner
	notifier   *notification.Manager
	events     *events.EventBus
	metrics    *metrics.Metrics
	clock      Clock
	logger     *logging.Logger

	// loop-owned state
	positions  map[string]*database.Position
	cooldowns  *risk.CooldownLedger
	milestones map[string]map[float64]bool
	lastEquity float64
	lastFree   float64
	freeKnown  bool
	cycleErrs  []error

	manual chan closeRequest

	statusMu sync.RWMutex
	status   Status
}

// NewSpotController wires a controller. Exchange, Store, Risk and Scanner are required.
func NewSpotController(config Config, deps Deps) (*SpotController, error) {
	switch {
	case deps.Exchange == nil:
		return nil, errors.New("spot controller: exchange is required")
	case deps.Store == nil:
		return nil, errors.New("spot controller: store is required")
	case deps.Risk == nil:
		return nil, errors.New("spot controller: risk manager is required")
	case deps.Scanner == nil:
		return nil, errors.New("spot controller: scanner is required")
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	config = config.withDefaults()

	milestones := append([]float64(nil), config.Milestones...)
	sort.Float64s(milestones)
	config.Milestones = milestones

	return &SpotController{
		config:     config,
		exchange:   deps.Exchange,
		store:      deps.Store,
		alertState: deps.AlertState,
		risk:       deps.Risk,
		scanner:    deps.Scanner,
		notifier:   deps.Notifier,
		events:     deps.Events,
		metrics:    deps.Metrics,
		clock:      deps.Clock,
		logger:     deps.Logger.WithComponent("spot_controller"),
		positions:  make(map[string]*database.Position),
		cooldowns:  risk.NewCooldownLedger(deps.Risk.Config().CooldownDuration, deps.Clock.Now),
		milestones: make(map[string]map[float64]bool),
		manual:     make(chan closeRequest, config.ManualQueueSize),
	}, nil
}

// Restore rebuilds in-memory state from the store. The store is authoritative:
// positions are never reconstructed from defaults.
func (sc *SpotController) Restore(ctx context.Context) error {
	positions, err := sc.store.ListPositions(ctx)
	if err != nil {
		return fmt.Errorf("restore positions: %w", err)
	}
	sc.positions = make(map[string]*database.Position, len(positions))
	for _, p := range positions {
		sc.positions[p.Symbol] = p
	}

	if sc.alertState != nil {
		markers, err := sc.alertState.LoadMilestones(ctx)
		if err != nil {
			sc.logger.Warn("Could not load milestone markers", "error", err)
		}
		for symbol, levels := range markers {
			if _, held := sc.positions[symbol]; !held {
				continue
			}
			for _, m := range levels {
				sc.markMilestone(symbol, m)
			}
		}

		expiries, err := sc.alertState.LoadCooldowns(ctx, sc.clock.Now())
		if err != nil {
			sc.logger.Warn("Could not load cooldowns", "error", err)
		}
		for symbol, expiry := range expiries {
			sc.cooldowns.Restore(symbol, expiry)
		}
	}

	wallet, err := sc.store.GetWallet(ctx)
	switch {
	case err == nil:
		sc.lastEquity = wallet.CurrentEquity
	case !errors.Is(err, database.ErrNotFound):
		sc.logger.Warn("Could not load wallet summary", "error", err)
	}

	sc.setStatus(func(s *Status) {
		s.OpenPositions = len(sc.positions)
		s.Equity = sc.lastEquity
	})
	sc.logEvent(ctx, database.LevelInfo, database.CategorySystem,
		fmt.Sprintf("Engine restored %d open positions", len(sc.positions)),
		"cooldowns", len(sc.cooldowns.Symbols()))
	return nil
}

// Positions returns copies of the open positions, ordered by symbol.
// Only safe from the loop goroutine or before Run starts.
func (sc *SpotController) Positions() []database.Position {
	out := make([]database.Position, 0, len(sc.positions))
	for _, symbol := range sc.heldSymbols() {
		out = append(out, *sc.positions[symbol])
	}
	return out
}

// Status returns the last published loop status
func (sc *SpotController) Status() Status {
	sc.statusMu.RLock()
	defer sc.statusMu.RUnlock()
	return sc.status
}

func (sc *SpotController) setStatus(update func(s *Status)) {
	sc.statusMu.Lock()
	update(&sc.status)
	sc.statusMu.Unlock()
}

// RequestClose queues a manual close for the loop goroutine
func (sc *SpotController) RequestClose(symbol string) error {
	select {
	case sc.manual <- closeRequest{symbol: symbol}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run executes cycles until ctx is cancelled. A failed or panicking cycle is
// followed by the error backoff; the loop itself never exits on a cycle error.
func (sc *SpotController) Run(ctx context.Context) error {
	sc.setStatus(func(s *Status) { s.Running = true })
	defer sc.setStatus(func(s *Status) { s.Running = false })

	sc.logger.Info("Spot autopilot started",
		"cycle_interval", sc.config.CycleInterval.String(),
		"positions", len(sc.positions))

	for {
		err := sc.runCycleSafe(ctx)
		if ctx.Err() != nil {
			sc.logger.Info("Spot autopilot stopped")
			return nil
		}

		wait := sc.config.CycleInterval
		if err != nil {
			wait = sc.config.ErrorBackoff
		}
		if !sc.sleep(ctx, wait) {
			sc.logger.Info("Spot autopilot stopped")
			return nil
		}
	}
}

// sleep waits for d while serving manual close requests. It returns false when ctx ends.
func (sc *SpotController) sleep(ctx context.Context, d time.Duration) bool {
	timer := sc.clock.After(d)
	for {
		select {
		case <-ctx.Done():
			return false
		case req := <-sc.manual:
			_ = sc.handleManualClose(ctx, req)
		case <-timer:
			return true
		}
	}
}

// runCycleSafe runs one cycle, converting panics into errors and recording the outcome
func (sc *SpotController) runCycleSafe(ctx context.Context) (err error) {
	start := sc.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
			sc.logger.Error("Cycle panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}

		sc.metrics.ObserveCycle(sc.clock.Now().Sub(start), err)
		if err != nil && ctx.Err() == nil {
			sc.logEvent(ctx, database.LevelError, database.CategorySystem,
				fmt.Sprintf("Cycle failed: %v", err), "backoff", sc.config.ErrorBackoff.String())
		}
		sc.setStatus(func(s *Status) {
			s.Cycles++
			s.LastCycleAt = start
			s.LastError = ""
			if err != nil {
				s.LastError = err.Error()
			}
			s.OpenPositions = len(sc.positions)
			s.Equity = sc.lastEquity
		})
	}()

	return sc.RunCycle(ctx)
}

// RunCycle executes one decision cycle. Persistence failures are collected
// and returned together so the loop backs off.
func (sc *SpotController) RunCycle(ctx context.Context) error {
	ctx, log := logging.WithTraceContext(ctx, sc.logger)
	sc.cycleErrs = sc.cycleErrs[:0]
	log.Debug("Cycle started", "positions", len(sc.positions))

	sc.refreshEquity(ctx)
	sc.managePositions(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	sc.scanAndEnter(ctx)

	return errors.Join(sc.cycleErrs...)
}

// recordStoreErr notes a persistence failure for this cycle's result
func (sc *SpotController) recordStoreErr(op string, err error) {
	if err == nil {
		return
	}
	sc.cycleErrs = append(sc.cycleErrs, fmt.Errorf("%s: %w", op, err))
}

// callCtx bounds one external call
func (sc *SpotController) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, sc.config.CallTimeout)
}

func (sc *SpotController) heldSymbols() []string {
	symbols := make([]string, 0, len(sc.positions))
	for s := range sc.positions {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

func (sc *SpotController) isHeld(symbol string) bool {
	_, ok := sc.positions[symbol]
	return ok
}
