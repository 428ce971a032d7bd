package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventPositionOpened    EventType = "POSITION_OPENED"
	EventPositionClosed    EventType = "POSITION_CLOSED"
	EventPositionUpdate    EventType = "POSITION_UPDATE"
	EventCandidatesUpdated EventType = "CANDIDATES_UPDATED"
	EventEquityUpdate      EventType = "EQUITY_UPDATE"
	EventSystem            EventType = "SYSTEM_EVENT"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions.
// A nil *EventBus accepts and drops every event.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish hands the event to every matching subscriber. Subscribers run on
// their own goroutines so a slow consumer never stalls the control loop.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, sub := range eb.subscribers[event.Type] {
		go sub(event)
	}
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishPositionOpened announces a filled buy
func (eb *EventBus) PublishPositionOpened(symbol, strategy string, entryPrice, amount, rsi float64) {
	eb.Publish(Event{
		Type: EventPositionOpened,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"strategy":    strategy,
			"entry_price": entryPrice,
			"amount_usdt": amount,
			"rsi":         rsi,
		},
	})
}

// PublishPositionClosed announces a confirmed sell
func (eb *EventBus) PublishPositionClosed(symbol, reason string, entryPrice, exitPrice, pnlPercent float64) {
	eb.Publish(Event{
		Type: EventPositionClosed,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"reason":      reason,
			"entry_price": entryPrice,
			"exit_price":  exitPrice,
			"pnl_percent": pnlPercent,
		},
	})
}

// PublishPositionUpdate carries the per-cycle evaluation of one position
func (eb *EventBus) PublishPositionUpdate(symbol, status string, price, stopPrice, pnlPercent float64) {
	eb.Publish(Event{
		Type: EventPositionUpdate,
		Data: map[string]interface{}{
			"symbol":       symbol,
			"status_label": status,
			"price":        price,
			"stop_price":   stopPrice,
			"pnl_percent":  pnlPercent,
		},
	})
}

// PublishCandidatesUpdated signals a new scanner snapshot
func (eb *EventBus) PublishCandidatesUpdated(count, opportunities int) {
	eb.Publish(Event{
		Type: EventCandidatesUpdated,
		Data: map[string]interface{}{
			"count":         count,
			"opportunities": opportunities,
		},
	})
}

// PublishEquityUpdate carries the latest equity sample
func (eb *EventBus) PublishEquityUpdate(equity, freeBalance, changePercent float64, positions int) {
	eb.Publish(Event{
		Type: EventEquityUpdate,
		Data: map[string]interface{}{
			"equity":          equity,
			"free_balance":    freeBalance,
			"change_pct":      changePercent,
			"positions_count": positions,
		},
	})
}

// PublishSystemEvent mirrors an audit log entry
func (eb *EventBus) PublishSystemEvent(level, category, message string) {
	eb.Publish(Event{
		Type: EventSystem,
		Data: map[string]interface{}{
			"level":    level,
			"category": category,
			"message":  message,
		},
	})
}
