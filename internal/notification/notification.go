package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"spot-ladder-bot/internal/logging"
)

// NotificationType represents the type of notification
type NotificationType string

const (
	NotifyTradeOpen  NotificationType = "trade_open"
	NotifyTradeClose NotificationType = "trade_close"
	NotifySwap       NotificationType = "swap"
	NotifyMilestone  NotificationType = "milestone"
	NotifyError      NotificationType = "error"
	NotifyInfo       NotificationType = "info"
)

// Alert actions used by the engine
const (
	ActionBuy       = "BUY"
	ActionSell      = "SELL"
	ActionSwap      = "SWAP"
	ActionMilestone = "MILESTONE"
)

// Notification represents a notification message
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Symbol    string
	Action    string
	Reason    string
	Price     float64
	Negative  bool // loss or failure, rendered in red where supported
	Timestamp time.Time
}

// Notifier interface for different notification providers
type Notifier interface {
	Send(ctx context.Context, notification *Notification) error
	Name() string
	IsEnabled() bool
}

// Manager fans alerts out to every enabled provider. Delivery failures are
// logged and never returned to the trading loop.
type Manager struct {
	notifiers []Notifier
	logger    *logging.Logger
	timeout   time.Duration
}

// NewManager creates a new notification manager
func NewManager(logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		notifiers: make([]Notifier, 0),
		logger:    logger.WithComponent("notification"),
		timeout:   10 * time.Second,
	}
}

// AddNotifier adds a notification provider. Disabled providers are ignored.
func (m *Manager) AddNotifier(n Notifier) {
	if n == nil || !n.IsEnabled() {
		return
	}
	m.notifiers = append(m.notifiers, n)
	m.logger.Info("Notifier enabled", "provider", n.Name())
}

// Enabled reports whether any provider will receive alerts
func (m *Manager) Enabled() bool {
	return m != nil && len(m.notifiers) > 0
}

// Send delivers to all providers and returns the number of failures
func (m *Manager) Send(ctx context.Context, n *Notification) int {
	if m == nil {
		return 0
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	failures := 0
	for _, p := range m.notifiers {
		sendCtx, cancel := context.WithTimeout(ctx, m.timeout)
		err := p.Send(sendCtx, n)
		cancel()
		if err != nil {
			failures++
			m.logger.Warn("Notification delivery failed",
				"provider", p.Name(), "symbol", n.Symbol, "type", string(n.Type), "error", err)
		}
	}
	return failures
}

// SendAlert is the engine's fire-and-forget alert: symbol, why, what was done,
// at what price, plus optional free text.
func (m *Manager) SendAlert(ctx context.Context, symbol, reason, action string, price float64, extra string) {
	if !m.Enabled() {
		return
	}

	n := &Notification{
		Type:     typeForAction(action),
		Symbol:   symbol,
		Action:   action,
		Reason:   reason,
		Price:    price,
		Negative: isNegative(reason, extra),
	}
	n.Title = fmt.Sprintf("%s %s %s", actionIcon(action, n.Negative), action, symbol)

	var b strings.Builder
	fmt.Fprintf(&b, "Reason: %s\nPrice: %s", reason, formatPrice(price))
	if extra != "" {
		fmt.Fprintf(&b, "\n%s", extra)
	}
	n.Message = b.String()

	m.Send(ctx, n)
}

// SendError sends an error notification
func (m *Manager) SendError(ctx context.Context, title, message string) {
	if !m.Enabled() {
		return
	}
	m.Send(ctx, &Notification{
		Type:     NotifyError,
		Title:    "⚠️ " + title,
		Message:  message,
		Negative: true,
	})
}

func typeForAction(action string) NotificationType {
	switch action {
	case ActionBuy:
		return NotifyTradeOpen
	case ActionSell:
		return NotifyTradeClose
	case ActionSwap:
		return NotifySwap
	case ActionMilestone:
		return NotifyMilestone
	default:
		return NotifyInfo
	}
}

func actionIcon(action string, negative bool) string {
	switch {
	case action == ActionBuy:
		return "🟢"
	case action == ActionMilestone:
		return "🚀"
	case action == ActionSwap:
		return "🔄"
	case negative:
		return "🔴"
	default:
		return "✅"
	}
}

// isNegative spots losing exits from the PnL text ("PnL: -3.20%") or the reason
func isNegative(reason, extra string) bool {
	if strings.Contains(extra, "PnL: -") {
		return true
	}
	r := strings.ToLower(reason)
	return strings.Contains(r, "stop-loss") || strings.Contains(r, "failed")
}

// formatPrice keeps significant digits for sub-dollar assets
func formatPrice(price float64) string {
	switch {
	case price <= 0:
		return "n/a"
	case price < 1:
		return fmt.Sprintf("%.6f", price)
	default:
		return fmt.Sprintf("%.4f", price)
	}
}
