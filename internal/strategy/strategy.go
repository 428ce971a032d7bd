package strategy

import "fmt"

// Strategy is the exit policy variant a position is managed under
type Strategy string

const (
	// Conservative positions ride the three-tier ladder trailing stop
	Conservative Strategy = "conservative"
	// Scalp positions use a fixed stop and target from entry
	Scalp Strategy = "scalp"
)

// Valid reports whether s is a known variant
func (s Strategy) Valid() bool {
	return s == Conservative || s == Scalp
}

// ParseStrategy converts a stored value into a Strategy. Empty input maps to Conservative,
// which is what rows written before scalp support contain.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", Conservative:
		return Conservative, nil
	case Scalp:
		return Scalp, nil
	default:
		return "", fmt.Errorf("unknown strategy %q", s)
	}
}
