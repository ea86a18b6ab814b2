package entity

import (
	"context"

	"github.com/shopspring/decimal"
)

type Publisher interface {
	JetstreamEventInit(ctx context.Context) error
}

// OrderState covers the public order lifecycle and the internal executor
// state-machine states. Internal states only appear on telemetry events
// emitted while an executor is mid-flight.
type OrderState string

const (
	OrderStatePending         OrderState = "PENDING"
	OrderStateSubmitted       OrderState = "SUBMITTED"
	OrderStatePartiallyFilled OrderState = "PARTIALLY_FILLED"
	OrderStateFilled          OrderState = "FILLED"
	OrderStateCancelled       OrderState = "CANCELLED"
	OrderStateTimedOut        OrderState = "TIMED_OUT"
	OrderStateFailed          OrderState = "FAILED"

	OrderStateInitializing            OrderState = "INITIALIZING"
	OrderStateCreatingOrder           OrderState = "CREATING_ORDER"
	OrderStateMonitoringOrder         OrderState = "MONITORING_ORDER"
	OrderStateUpdatingOrder           OrderState = "UPDATING_ORDER"
	OrderStateWaitUntilOrderCancelled OrderState = "WAIT_UNTIL_ORDER_CANCELLED"
)

// Event names emitted by the executors. Sinks key off these rather than
// parsing states so new states never break downstream consumers.
const (
	EventOrderSubmitted       = "order_submitted"
	EventOrderFillPartial     = "order_fill_partial"
	EventOrderFillComplete    = "order_fill_complete"
	EventOrderFailed          = "order_failed"
	EventOrderRepriced        = "order_repriced"
	EventOrderRepriceSuppress = "order_reprice_suppressed"
	EventOrderTimeoutFallback = "order_timeout_fallback"
	EventWSReconnectAttempt   = "ws_reconnect_attempt"
	EventWSCircuitOpen        = "ws_circuit_open"
	EventWSStalenessFallback  = "ws_staleness_fallback"
)

// OrderEvent is an immutable telemetry record emitted at every significant
// order state transition. Events are append-only; they are never mutated
// or retracted.
type OrderEvent struct {
	OrderID     string           `json:"order_id"`
	VenueID     string           `json:"venue_id"`
	Symbol      string           `json:"symbol"`
	Side        string           `json:"side"`
	State       OrderState       `json:"state"`
	TimestampMs int64            `json:"timestamp_ms"`
	EventName   string           `json:"event_name"`
	LatencyMs   *int64           `json:"latency_ms,omitempty"`
	FillPrice   *decimal.Decimal `json:"fill_price,omitempty"`
	FillQty     *decimal.Decimal `json:"fill_qty,omitempty"`
}

// EventSink receives order events synchronously. Implementations must be
// safe for concurrent use; the bus fans out from many order goroutines.
type EventSink interface {
	OnEvent(event OrderEvent)
}
