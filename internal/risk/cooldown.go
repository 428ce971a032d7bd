package risk

import (
	"sort"
	"time"
)

// CooldownLedger suppresses re-entry into recently closed symbols.
// It is owned by the control loop and is not safe for concurrent use.
type CooldownLedger struct {
	duration time.Duration
	expiries map[string]time.Time
	now      func() time.Time
}

// NewCooldownLedger creates a ledger; now defaults to time.Now
func NewCooldownLedger(duration time.Duration, now func() time.Time) *CooldownLedger {
	if now == nil {
		now = time.Now
	}
	return &CooldownLedger{
		duration: duration,
		expiries: make(map[string]time.Time),
		now:      now,
	}
}

// Duration returns the configured cooldown length
func (l *CooldownLedger) Duration() time.Duration {
	return l.duration
}

// Start begins (or restarts) the cooldown for symbol and returns its expiry
func (l *CooldownLedger) Start(symbol string) time.Time {
	expiry := l.now().Add(l.duration)
	l.expiries[symbol] = expiry
	return expiry
}

// Restore loads a previously persisted expiry. Expired entries are ignored.
func (l *CooldownLedger) Restore(symbol string, expiry time.Time) {
	if expiry.After(l.now()) {
		l.expiries[symbol] = expiry
	}
}

// Active reports whether symbol is cooling down, dropping the entry if it has expired
func (l *CooldownLedger) Active(symbol string) bool {
	expiry, ok := l.expiries[symbol]
	if !ok {
		return false
	}
	if !l.now().Before(expiry) {
		delete(l.expiries, symbol)
		return false
	}
	return true
}

// Remaining returns the time left on symbol's cooldown, or zero
func (l *CooldownLedger) Remaining(symbol string) time.Duration {
	if !l.Active(symbol) {
		return 0
	}
	return l.expiries[symbol].Sub(l.now())
}

// Purge drops every expired entry and returns how many were removed
func (l *CooldownLedger) Purge() int {
	now := l.now()
	removed := 0
	for symbol, expiry := range l.expiries {
		if !now.Before(expiry) {
			delete(l.expiries, symbol)
			removed++
		}
	}
	return removed
}

// Symbols lists the symbols currently cooling down, sorted
func (l *CooldownLedger) Symbols() []string {
	l.Purge()
	out := make([]string, 0, len(l.expiries))
	for symbol := range l.expiries {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}
