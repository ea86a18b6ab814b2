package entity

import (
	"errors"
	"fmt"
)

// Fatal business rejections. Venue adapters map their error codes onto
// these sentinels so the rejection classifier can recognize them.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnknownSymbol     = errors.New("unknown symbol")
)

// ErrRateLimited is transient: callers back off and retry.
var ErrRateLimited = errors.New("rate limited")

// NetworkError wraps a transport-level failure (dial, read, HTTP) from a
// venue. It is always classified as transient.
type NetworkError struct {
	VenueID string
	Op      string
	Err     error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error during %s: %v", e.VenueID, e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// ValidationError rejects a malformed order request before any network
// call is made.
type ValidationError struct {
	Symbol string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid order request for %s: %s", e.Symbol, e.Reason)
}
