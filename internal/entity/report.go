package entity

import (
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusOpen     OrderStatus = "open"
	OrderStatusClosed   OrderStatus = "closed"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusRejected OrderStatus = "rejected"
	OrderStatusExpired  OrderStatus = "expired"
)

// ExecutionReport is the terminal outcome of one executed order. Executors
// only return reports for terminal statuses; partial fills surface through
// OrderEvents instead.
type ExecutionReport struct {
	ID            string           `json:"id"`
	Symbol        string           `json:"symbol"`
	Status        OrderStatus      `json:"status"`
	Amount        decimal.Decimal  `json:"amount"`
	Filled        decimal.Decimal  `json:"filled"`
	Remaining     decimal.Decimal  `json:"remaining"`
	AveragePrice  *decimal.Decimal `json:"average_price,omitempty"`
	LastPrice     *decimal.Decimal `json:"last_price,omitempty"`
	VenueID       string           `json:"venue_id"`
	FillLatencyMs int64            `json:"fill_latency_ms"`
	Timestamp     int64            `json:"timestamp"`
}
