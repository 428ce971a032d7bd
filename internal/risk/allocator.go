package risk

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInsufficientCapital is returned when the free balance cannot fund a viable trade
var ErrInsufficientCapital = errors.New("insufficient capital")

// AllocatorConfig sizes entries. MinViableTrade must clear the exchange minimum notional
// with room for fees.
type AllocatorConfig struct {
	MinViableTrade        float64
	FeeBuffer             float64
	FullBalanceMultiplier float64 // below MinViableTrade*this, the whole balance is used
}

// Allocation is a proposed trade size in quote currency
type Allocation struct {
	Target          float64 // size before the fee buffer
	Amount          float64 // size to order, rounded to cents
	FullBalance     bool
	BalanceAtSizing float64
}

// Allocate sizes a trade from the free balance
func (c AllocatorConfig) Allocate(balance float64) (Allocation, error) {
	if balance < c.MinViableTrade {
		return Allocation{BalanceAtSizing: balance}, fmt.Errorf("%w: %.2f below floor %.2f", ErrInsufficientCapital, balance, c.MinViableTrade)
	}

	a := Allocation{Target: c.MinViableTrade, BalanceAtSizing: balance}
	multiplier := c.FullBalanceMultiplier
	if multiplier < 1 {
		multiplier = 1
	}
	if balance < c.MinViableTrade*multiplier {
		a.Target = balance
		a.FullBalance = true
	}

	amount := decimal.NewFromFloat(a.Target).Sub(decimal.NewFromFloat(c.FeeBuffer)).Round(2)
	if !amount.IsPositive() {
		return Allocation{BalanceAtSizing: balance}, fmt.Errorf("%w: fee buffer exceeds trade size", ErrInsufficientCapital)
	}
	a.Amount = amount.InexactFloat64()
	return a, nil
}
