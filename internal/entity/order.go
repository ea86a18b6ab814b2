package entity

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type OrderType string
type OrderSide string
type ExecutionType string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"

	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"

	ExecutionTypeMaker ExecutionType = "MAKER"
	ExecutionTypeTaker ExecutionType = "TAKER"
)

// OrderRequest describes one order to be executed against a venue. It is
// built upstream and treated as read-only by the executors; only the
// attached Pairing is mutated to signal the outcome.
type OrderRequest struct {
	Symbol    string
	Side      OrderSide
	Type      OrderType
	Amount    decimal.Decimal
	Price     *decimal.Decimal
	Execution ExecutionType
	Params    map[string]string
	VenueID   string
	PairKey   string
	Pairing   *Pairing
	Notes     string
}

// Validate rejects requests before any network call is made.
func (r OrderRequest) Validate() error {
	if !r.Amount.GreaterThan(decimal.Zero) {
		return &ValidationError{Symbol: r.Symbol, Reason: fmt.Sprintf("invalid order amount: %s", r.Amount)}
	}

	if r.Type == OrderTypeLimit && r.Price != nil && !r.Price.GreaterThan(decimal.Zero) {
		return &ValidationError{Symbol: r.Symbol, Reason: fmt.Sprintf("invalid limit price: %s", r.Price)}
	}

	return nil
}

// OrdersToExecute groups a batch of order requests. Updates are executed
// alongside new orders; the router flattens both.
type OrdersToExecute struct {
	New     map[string][]*OrderRequest
	Updates map[string][]*OrderRequest
}

func (o OrdersToExecute) All() []*OrderRequest {
	requests := make([]*OrderRequest, 0, o.Count())
	for _, reqs := range o.Updates {
		requests = append(requests, reqs...)
	}
	for _, reqs := range o.New {
		requests = append(requests, reqs...)
	}

	return requests
}

func (o OrdersToExecute) Count() int {
	total := 0
	for _, reqs := range o.Updates {
		total += len(reqs)
	}
	for _, reqs := range o.New {
		total += len(reqs)
	}

	return total
}

func (o OrdersToExecute) IsEmpty() bool {
	return o.Count() == 0
}
