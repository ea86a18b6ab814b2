package eventbus

import (
	"sync"

	"github.com/krobus00/order-executor/internal/entity"
	"github.com/sirupsen/logrus"
)

// OrderEventBus fans order lifecycle events out to registered sinks.
// Delivery is synchronous and in registration order so sinks observe
// events in the order the executor emitted them.
type OrderEventBus struct {
	mu    sync.RWMutex
	sinks []entity.EventSink
}

func NewOrderEventBus() *OrderEventBus {
	return &OrderEventBus{}
}

// RegisterSink adds a sink. Sinks registered mid-batch only see events
// emitted after registration.
func (b *OrderEventBus) RegisterSink(sink entity.EventSink) {
	if sink == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, sink)
}

// Emit delivers the event to every sink. A panicking sink is logged
// and skipped so one broken sink cannot take down order execution.
func (b *OrderEventBus) Emit(event entity.OrderEvent) {
	b.mu.RLock()
	sinks := b.sinks
	b.mu.RUnlock()

	for _, sink := range sinks {
		b.emitOne(sink, event)
	}
}

func (b *OrderEventBus) emitOne(sink entity.EventSink, event entity.OrderEvent) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"event":    event.EventName,
				"orderID":  event.OrderID,
				"venueID":  event.VenueID,
				"recovery": r,
			}).Warn("event sink panicked")
		}
	}()
	sink.OnEvent(event)
}
