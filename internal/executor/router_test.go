package executor

import (
	"context"
	"testing"
	"time"

	"github.com/krobus00/order-executor/internal/entity"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func routerConfig() Config {
	return Config{
		Execution: StrategyFast,
		Timeout:   5 * time.Second,
	}
}

// fillingVenue closes every market order on the first status fetch. It
// reports no streaming support so session pre-warm stays off the wire.
func fillingVenue() *fakeVenue {
	venue := newFakeVenue()
	venue.streaming = false
	venue.fetchOrderFn = func(orderID, symbol string) (*entity.VenueOrder, error) {
		return &entity.VenueOrder{ID: orderID, Symbol: symbol, Status: entity.OrderStatusClosed, Amount: d("1"), Filled: d("1")}, nil
	}
	return venue
}

func batchOf(reqs ...*entity.OrderRequest) entity.OrdersToExecute {
	orders := entity.OrdersToExecute{New: make(map[string][]*entity.OrderRequest)}
	for _, req := range reqs {
		orders.New[req.VenueID] = append(orders.New[req.VenueID], req)
	}
	return orders
}

func TestOrderRouterExecutesBatch(t *testing.T) {
	bus, _ := newTestBus()
	router := NewOrderRouter(routerConfig(), bus)

	venue := fillingVenue()
	venues := map[string]entity.Venue{"fake": venue}

	first := takerRequest()
	first.Pairing = entity.NewPairing()
	second := takerRequest()
	second.Symbol = "ETHUSDT"
	second.Pairing = entity.NewPairing()

	reports, err := router.Execute(context.Background(), venues, batchOf(first, second))

	require.NoError(t, err)
	assert.Len(t, reports, 2)
	assert.True(t, first.Pairing.IsPairFilled())
	assert.True(t, second.Pairing.IsPairFilled())

	// Margin setup runs once per symbol.
	venue.mu.Lock()
	defer venue.mu.Unlock()
	assert.Equal(t, 2, venue.marginModeCalls)
}

func TestOrderRouterEmptyBatch(t *testing.T) {
	router := NewOrderRouter(routerConfig(), nil)

	reports, err := router.Execute(context.Background(), nil, entity.OrdersToExecute{})

	require.NoError(t, err)
	assert.Nil(t, reports)
}

func TestOrderRouterVenueNotFound(t *testing.T) {
	router := NewOrderRouter(routerConfig(), nil)

	req := takerRequest()
	req.VenueID = "ghost"
	req.Pairing = entity.NewPairing()

	reports, err := router.Execute(context.Background(), map[string]entity.Venue{}, batchOf(req))

	require.NoError(t, err)
	assert.Empty(t, reports)
	assert.True(t, req.Pairing.IsPairFailed())
	assert.False(t, req.Pairing.IsPairFilled())
}

func TestOrderRouterIsolatesFailures(t *testing.T) {
	bus, _ := newTestBus()
	router := NewOrderRouter(routerConfig(), bus)

	venue := fillingVenue()
	venue.createMarketFn = func(symbol string, side entity.OrderSide, amount decimal.Decimal) (*entity.VenueOrder, error) {
		if symbol == "DOOMED" {
			return nil, entity.ErrInsufficientFunds
		}
		return &entity.VenueOrder{ID: "m-" + symbol, Symbol: symbol, Status: entity.OrderStatusOpen, Amount: amount, Remaining: amount}, nil
	}
	venues := map[string]entity.Venue{"fake": venue}

	good := takerRequest()
	good.Pairing = entity.NewPairing()
	bad := takerRequest()
	bad.Symbol = "DOOMED"
	bad.Pairing = entity.NewPairing()

	reports, err := router.Execute(context.Background(), venues, batchOf(good, bad))

	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "BTCUSDT", reports[0].Symbol)
	assert.True(t, good.Pairing.IsPairFilled())
	assert.True(t, bad.Pairing.IsPairFailed())
}

func TestOrderRouterEmitsOrphanedFill(t *testing.T) {
	bus, sink := newTestBus()
	router := NewOrderRouter(routerConfig(), bus)

	venue := newFakeVenue()
	venue.streaming = false
	venue.fetchOrderFn = func(orderID, symbol string) (*entity.VenueOrder, error) {
		// Keep the surviving leg in flight until the doomed leg has
		// already resolved as failed.
		time.Sleep(50 * time.Millisecond)
		return &entity.VenueOrder{ID: orderID, Symbol: symbol, Status: entity.OrderStatusClosed, Amount: d("1"), Filled: d("1")}, nil
	}
	venues := map[string]entity.Venue{"fake": venue}

	pairing := entity.NewPairing()
	filledLeg := takerRequest()
	filledLeg.Pairing = pairing
	failedLeg := takerRequest()
	failedLeg.Side = entity.OrderSideSell
	failedLeg.VenueID = "ghost"
	failedLeg.Pairing = pairing

	reports, err := router.Execute(context.Background(), venues, batchOf(filledLeg, failedLeg))

	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.True(t, pairing.IsPairFilled())
	assert.True(t, pairing.IsPairFailed())

	var orphaned bool
	sink.mu.Lock()
	for _, event := range sink.events {
		if event.EventName == entity.EventOrderFailed && event.State == entity.OrderStateCancelled {
			orphaned = true
		}
	}
	sink.mu.Unlock()
	assert.True(t, orphaned)
}

func TestOrderRouterCreatesFreshSessionsPerBatch(t *testing.T) {
	bus, _ := newTestBus()
	router := NewOrderRouter(routerConfig(), bus)

	venue := fillingVenue()
	venues := map[string]entity.Venue{"fake": venue}

	for i := 0; i < 2; i++ {
		req := takerRequest()
		req.Pairing = entity.NewPairing()
		reports, err := router.Execute(context.Background(), venues, batchOf(req))
		require.NoError(t, err)
		require.Len(t, reports, 1)
	}

	// Each batch gets its own session, so margin setup for the same
	// symbol runs again in the second batch.
	venue.mu.Lock()
	defer venue.mu.Unlock()
	assert.Equal(t, 2, venue.marginModeCalls)
}

func TestOrderRouterExecuteFuncOverride(t *testing.T) {
	bus, _ := newTestBus()

	var overrideCalls int
	router := NewOrderRouter(routerConfig(), bus).WithExecuteFunc(
		func(ctx context.Context, venue entity.Venue, session *VenueSession, req *entity.OrderRequest) (*entity.ExecutionReport, error) {
			overrideCalls++
			return &entity.ExecutionReport{
				ID:      "override-1",
				Symbol:  req.Symbol,
				Status:  entity.OrderStatusClosed,
				Amount:  req.Amount,
				Filled:  req.Amount,
				VenueID: venue.ID(),
			}, nil
		})

	venue := newFakeVenue()
	venue.streaming = false
	venue.createMarketFn = func(string, entity.OrderSide, decimal.Decimal) (*entity.VenueOrder, error) {
		t.Error("override must bypass the built-in executors")
		return nil, nil
	}
	venues := map[string]entity.Venue{"fake": venue}

	req := takerRequest()
	req.Pairing = entity.NewPairing()

	reports, err := router.Execute(context.Background(), venues, batchOf(req))

	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "override-1", reports[0].ID)
	assert.Equal(t, 1, overrideCalls)
	assert.True(t, req.Pairing.IsPairFilled())
}

func TestOrderRouterFallsBackToRestOnCircuitOpen(t *testing.T) {
	cfg := routerConfig()
	cfg.PreferStreaming = true
	cfg.MaxReconnectAttempts = 1

	bus, sink := newTestBus()
	router := NewOrderRouter(cfg, bus)

	venue := fillingVenue()
	venue.streaming = true
	// Book pushes keep flowing; the order stream is permanently broken.
	venue.watchBookFn = func(ctx context.Context, _ string) (*entity.OrderBook, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
			return testBook("100", "100.1"), nil
		}
	}
	venue.watchOrdersFn = func(ctx context.Context, _ string) ([]entity.VenueOrder, error) {
		return nil, &entity.NetworkError{VenueID: "fake", Op: "watch orders", Err: context.DeadlineExceeded}
	}
	venues := map[string]entity.Venue{"fake": venue}

	req := makerRequest()
	req.Pairing = entity.NewPairing()

	reports, err := router.Execute(context.Background(), venues, batchOf(req))

	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, entity.OrderStatusClosed, reports[0].Status)
	assert.True(t, req.Pairing.IsPairFilled())
	assert.Equal(t, 1, sink.count(entity.EventWSCircuitOpen))
}
