package executor

import (
	"context"
	"sync"

	"github.com/krobus00/order-executor/internal/entity"
	"github.com/shopspring/decimal"
)

func d(value string) decimal.Decimal {
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		panic(err)
	}
	return parsed
}

func testBook(bid, ask string) *entity.OrderBook {
	return &entity.OrderBook{
		Symbol: "BTCUSDT",
		Bids: []entity.BookLevel{
			{Price: d(bid), Amount: d("1")},
			{Price: d(bid).Sub(d("1")), Amount: d("1")},
			{Price: d(bid).Sub(d("2")), Amount: d("1")},
			{Price: d(bid).Sub(d("3")), Amount: d("1")},
			{Price: d(bid).Sub(d("4")), Amount: d("1")},
			{Price: d(bid).Sub(d("5")), Amount: d("1")},
		},
		Asks: []entity.BookLevel{
			{Price: d(ask), Amount: d("1")},
			{Price: d(ask).Add(d("1")), Amount: d("1")},
			{Price: d(ask).Add(d("2")), Amount: d("1")},
			{Price: d(ask).Add(d("3")), Amount: d("1")},
			{Price: d(ask).Add(d("4")), Amount: d("1")},
			{Price: d(ask).Add(d("5")), Amount: d("1")},
		},
	}
}

type fakeVenue struct {
	id        string
	streaming bool
	leverage  int

	mu               sync.Mutex
	marginModeCalls  int
	setLeverageCalls int
	cancelledOrders  []string

	createLimitFn  func(symbol string, side entity.OrderSide, amount, price decimal.Decimal) (*entity.VenueOrder, error)
	createMarketFn func(symbol string, side entity.OrderSide, amount decimal.Decimal) (*entity.VenueOrder, error)
	cancelFn       func(orderID, symbol string) error
	fetchOrderFn   func(orderID, symbol string) (*entity.VenueOrder, error)
	fetchBookFn    func(symbol string) (*entity.OrderBook, error)
	openOrdersFn   func(symbol string) ([]entity.VenueOrder, error)
	watchBookFn    func(ctx context.Context, symbol string) (*entity.OrderBook, error)
	watchOrdersFn  func(ctx context.Context, symbol string) ([]entity.VenueOrder, error)
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{
		id:        "fake",
		streaming: true,
		leverage:  5,
	}
}

func (v *fakeVenue) ID() string {
	return v.id
}

func (v *fakeVenue) SupportsStreaming() bool {
	return v.streaming
}

func (v *fakeVenue) Leverage() int {
	return v.leverage
}

func (v *fakeVenue) CreateLimitOrder(_ context.Context, symbol string, side entity.OrderSide, amount, price decimal.Decimal, _ map[string]string) (*entity.VenueOrder, error) {
	if v.createLimitFn != nil {
		return v.createLimitFn(symbol, side, amount, price)
	}
	return &entity.VenueOrder{
		ID:        "limit-1",
		Symbol:    symbol,
		Status:    entity.OrderStatusOpen,
		Side:      side,
		Amount:    amount,
		Remaining: amount,
	}, nil
}

func (v *fakeVenue) CreateMarketOrder(_ context.Context, symbol string, side entity.OrderSide, amount decimal.Decimal, _ map[string]string) (*entity.VenueOrder, error) {
	if v.createMarketFn != nil {
		return v.createMarketFn(symbol, side, amount)
	}
	return &entity.VenueOrder{
		ID:     "market-1",
		Symbol: symbol,
		Status: entity.OrderStatusClosed,
		Side:   side,
		Amount: amount,
		Filled: amount,
	}, nil
}

func (v *fakeVenue) CancelOrder(_ context.Context, orderID, symbol string) error {
	v.mu.Lock()
	v.cancelledOrders = append(v.cancelledOrders, orderID)
	v.mu.Unlock()
	if v.cancelFn != nil {
		return v.cancelFn(orderID, symbol)
	}
	return nil
}

func (v *fakeVenue) FetchOpenOrders(_ context.Context, symbol string) ([]entity.VenueOrder, error) {
	if v.openOrdersFn != nil {
		return v.openOrdersFn(symbol)
	}
	return nil, nil
}

func (v *fakeVenue) FetchOrder(_ context.Context, orderID, symbol string) (*entity.VenueOrder, error) {
	if v.fetchOrderFn != nil {
		return v.fetchOrderFn(orderID, symbol)
	}
	return &entity.VenueOrder{
		ID:     orderID,
		Symbol: symbol,
		Status: entity.OrderStatusOpen,
	}, nil
}

func (v *fakeVenue) FetchOrderBook(_ context.Context, symbol string) (*entity.OrderBook, error) {
	if v.fetchBookFn != nil {
		return v.fetchBookFn(symbol)
	}
	return testBook("100", "100.1"), nil
}

func (v *fakeVenue) SetMarginMode(_ context.Context, _, _ string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.marginModeCalls++
	return nil
}

func (v *fakeVenue) SetLeverage(_ context.Context, _ int, _ string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.setLeverageCalls++
	return nil
}

func (v *fakeVenue) WatchOrderBook(ctx context.Context, symbol string) (*entity.OrderBook, error) {
	if v.watchBookFn != nil {
		return v.watchBookFn(ctx, symbol)
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (v *fakeVenue) WatchOrders(ctx context.Context, symbol string) ([]entity.VenueOrder, error) {
	if v.watchOrdersFn != nil {
		return v.watchOrdersFn(ctx, symbol)
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (v *fakeVenue) cancelled() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, len(v.cancelledOrders))
	copy(out, v.cancelledOrders)
	return out
}

// captureSink records every event for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []entity.OrderEvent
}

func (s *captureSink) OnEvent(event entity.OrderEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *captureSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.events))
	for _, event := range s.events {
		names = append(names, event.EventName)
	}
	return names
}

func (s *captureSink) count(name string) int {
	total := 0
	for _, n := range s.names() {
		if n == name {
			total++
		}
	}
	return total
}
