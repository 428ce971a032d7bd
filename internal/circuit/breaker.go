package circuit

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"spot-ladder-bot/internal/logging"
)

// ErrOpen is returned while the breaker is rejecting calls
var ErrOpen = errors.New("circuit breaker open")

// BreakerState represents the circuit breaker state
type BreakerState string

const (
	StateClosed   BreakerState = "closed"    // Normal operation
	StateOpen     BreakerState = "open"      // Calls rejected
	StateHalfOpen BreakerState = "half_open" // Probing recovery
)

// Config holds circuit breaker configuration
type Config struct {
	Name                   string
	MaxConsecutiveFailures uint32
	OpenTimeout            time.Duration // how long to stay open before probing
	HalfOpenMaxRequests    uint32
	// IsSuccessful decides which errors count as healthy responses (e.g. a rejected order).
	// Nil counts every non-nil error as a failure.
	IsSuccessful func(err error) bool
}

// DefaultConfig returns the settings used for exchange calls
func DefaultConfig(name string) Config {
	return Config{
		Name:                   name,
		MaxConsecutiveFailures: 5,
		OpenTimeout:            30 * time.Second,
		HalfOpenMaxRequests:    1,
	}
}

// Breaker stops hammering a failing dependency
type Breaker struct {
	cb     *gobreaker.CircuitBreaker
	logger *logging.Logger
}

// New creates a breaker
func New(cfg Config, logger *logging.Logger) *Breaker {
	if logger == nil {
		logger = logging.Default()
	}
	b := &Breaker{logger: logger.WithComponent("circuit")}

	maxFailures := cfg.MaxConsecutiveFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	st := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenMaxRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: cfg.IsSuccessful,
	}
	b.cb = gobreaker.NewCircuitBreaker(st)
	return b
}

// Execute runs fn unless the breaker is open
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

// State returns the current breaker state
func (b *Breaker) State() BreakerState {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
