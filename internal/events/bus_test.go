package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusDelivers(t *testing.T) {
	bus := NewEventBus()
	typed := make(chan Event, 1)
	all := make(chan Event, 4)
	bus.Subscribe(EventPositionClosed, func(e Event) { typed <- e })
	bus.SubscribeAll(func(e Event) { all <- e })

	bus.PublishPositionClosed("SOLUSDT", "take-profit", 100, 110, 10)
	bus.PublishEquityUpdate(120, 20, 1.5, 3)

	select {
	case e := <-typed:
		assert.Equal(t, "SOLUSDT", e.Data["symbol"])
		assert.False(t, e.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("typed subscriber not called")
	}

	seen := map[EventType]bool{}
	for i := 0; i < 2; i++ {
		select {
		case e := <-all:
			seen[e.Type] = true
		case <-time.After(time.Second):
			t.Fatal("catch-all subscriber not called")
		}
	}
	require.True(t, seen[EventPositionClosed])
	require.True(t, seen[EventEquityUpdate])
}

func TestNilEventBus(t *testing.T) {
	var bus *EventBus
	assert.NotPanics(t, func() {
		bus.PublishSystemEvent("INFO", "SYSTEM", "started")
	})
}
