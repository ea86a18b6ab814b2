package entity

import (
	"context"

	"github.com/shopspring/decimal"
)

type VenueName string

const (
	VenueBinance VenueName = "binance"
)

// BookLevel is one price level of an order book side.
type BookLevel struct {
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// OrderBook is a snapshot of the top of book for one symbol. Bids are
// sorted best-first descending, asks best-first ascending.
type OrderBook struct {
	Symbol      string
	Bids        []BookLevel
	Asks        []BookLevel
	TimestampMs int64
}

// VenueOrder is the venue-side view of an order, returned by order
// placement, status fetches and streaming order updates.
type VenueOrder struct {
	ID           string
	Symbol       string
	Status       OrderStatus
	Side         OrderSide
	Type         OrderType
	Amount       decimal.Decimal
	Filled       decimal.Decimal
	Remaining    decimal.Decimal
	AveragePrice *decimal.Decimal
	LastPrice    *decimal.Decimal
	TimestampMs  int64
}

// Venue is the boundary to one trading venue's connectivity layer. The
// Watch calls block until the next push arrives; they return a
// NetworkError on transport failures so callers can apply reconnect
// backoff before calling again.
type Venue interface {
	ID() string
	SupportsStreaming() bool
	Leverage() int

	CreateLimitOrder(ctx context.Context, symbol string, side OrderSide, amount, price decimal.Decimal, params map[string]string) (*VenueOrder, error)
	CreateMarketOrder(ctx context.Context, symbol string, side OrderSide, amount decimal.Decimal, params map[string]string) (*VenueOrder, error)
	CancelOrder(ctx context.Context, orderID, symbol string) error
	FetchOpenOrders(ctx context.Context, symbol string) ([]VenueOrder, error)
	FetchOrder(ctx context.Context, orderID, symbol string) (*VenueOrder, error)
	FetchOrderBook(ctx context.Context, symbol string) (*OrderBook, error)
	SetMarginMode(ctx context.Context, mode, symbol string) error
	SetLeverage(ctx context.Context, leverage int, symbol string) error

	WatchOrderBook(ctx context.Context, symbol string) (*OrderBook, error)
	WatchOrders(ctx context.Context, symbol string) ([]VenueOrder, error)
}
