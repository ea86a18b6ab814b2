package executor

import (
	"fmt"
	"time"
)

// CreationError is returned when an order could not be created on the
// venue after the allowed attempts, or was terminally rejected.
type CreationError struct {
	Symbol string
	Kind   string
	Reason string
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("failed to create %s order for %s: %s", e.Kind, e.Symbol, e.Reason)
}

// FetchError is returned when fetching order status failed too many
// consecutive times.
type FetchError struct {
	Symbol   string
	OrderID  string
	Failures int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch order %s for %s failed %d consecutive times: %v", e.OrderID, e.Symbol, e.Failures, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// TimeoutError is returned when order execution exceeded the configured
// per-order deadline and the taker fallback also failed.
type TimeoutError struct {
	Symbol  string
	Kind    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s order for %s timed out after %s", e.Kind, e.Symbol, e.Timeout)
}

// CircuitOpenError is raised when the streaming circuit breaker trips
// after too many consecutive reconnect failures. Callers fall back to
// REST for the venue for the remainder of the batch.
type CircuitOpenError struct {
	VenueID  string
	Attempts int
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("stream circuit breaker opened for %s after %d consecutive failures", e.VenueID, e.Attempts)
}

// StreamingUnsupportedError is returned when streaming execution is
// requested for a venue without streaming support.
type StreamingUnsupportedError struct {
	VenueID string
}

func (e *StreamingUnsupportedError) Error() string {
	return fmt.Sprintf("streaming is not supported for venue %s", e.VenueID)
}
