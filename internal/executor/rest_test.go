package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/krobus00/order-executor/internal/entity"
	"github.com/krobus00/order-executor/internal/eventbus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makerRequest() *entity.OrderRequest {
	return &entity.OrderRequest{
		Symbol:    "BTCUSDT",
		Side:      entity.OrderSideBuy,
		Type:      entity.OrderTypeLimit,
		Amount:    d("1"),
		Execution: entity.ExecutionTypeMaker,
		VenueID:   "fake",
	}
}

func takerRequest() *entity.OrderRequest {
	return &entity.OrderRequest{
		Symbol:    "BTCUSDT",
		Side:      entity.OrderSideBuy,
		Type:      entity.OrderTypeMarket,
		Amount:    d("1"),
		Execution: entity.ExecutionTypeTaker,
		VenueID:   "fake",
	}
}

func newTestBus() (*eventbus.OrderEventBus, *captureSink) {
	sink := &captureSink{}
	bus := eventbus.NewOrderEventBus()
	bus.RegisterSink(sink)
	return bus, sink
}

func TestRestMakerOrderFills(t *testing.T) {
	bus, sink := newTestBus()
	exec := NewRestOrderExecutor(Config{Execution: StrategyFast, Timeout: 10 * time.Second}, bus)

	venue := newFakeVenue()
	venue.fetchOrderFn = func(orderID, symbol string) (*entity.VenueOrder, error) {
		avg := d("100")
		return &entity.VenueOrder{
			ID:           orderID,
			Symbol:       symbol,
			Status:       entity.OrderStatusClosed,
			Amount:       d("1"),
			Filled:       d("1"),
			AveragePrice: &avg,
		}, nil
	}

	report, err := exec.ExecuteMakerOrder(context.Background(), venue, makerRequest())

	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusClosed, report.Status)
	assert.True(t, report.Filled.Equal(d("1")))
	assert.Equal(t, "fake", report.VenueID)
	assert.Equal(t, 1, sink.count(entity.EventOrderSubmitted))
	assert.Equal(t, 1, sink.count(entity.EventOrderFillComplete))
}

func TestRestMakerOrderInvalidRequest(t *testing.T) {
	exec := NewRestOrderExecutor(Config{Execution: StrategyFast}, nil)

	req := makerRequest()
	req.Amount = decimal.Zero
	_, err := exec.ExecuteMakerOrder(context.Background(), newFakeVenue(), req)

	var verr *entity.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestRestMakerOrderFatalRejection(t *testing.T) {
	bus, sink := newTestBus()
	exec := NewRestOrderExecutor(Config{Execution: StrategyFast, Timeout: 10 * time.Second}, bus)

	venue := newFakeVenue()
	venue.createLimitFn = func(string, entity.OrderSide, decimal.Decimal, decimal.Decimal) (*entity.VenueOrder, error) {
		return nil, entity.ErrInsufficientFunds
	}

	_, err := exec.ExecuteMakerOrder(context.Background(), venue, makerRequest())

	var creationErr *CreationError
	require.ErrorAs(t, err, &creationErr)
	assert.Equal(t, "maker", creationErr.Kind)
	assert.Equal(t, 1, sink.count(entity.EventOrderFailed))
}

func TestRestMakerOrderRetriesTransientCreate(t *testing.T) {
	bus, _ := newTestBus()
	exec := NewRestOrderExecutor(Config{Execution: StrategyFast, Timeout: 10 * time.Second}, bus)

	venue := newFakeVenue()
	attempts := 0
	venue.createLimitFn = func(symbol string, side entity.OrderSide, amount, price decimal.Decimal) (*entity.VenueOrder, error) {
		attempts++
		if attempts == 1 {
			return nil, entity.ErrRateLimited
		}
		return &entity.VenueOrder{ID: "limit-1", Symbol: symbol, Status: entity.OrderStatusOpen, Amount: amount, Remaining: amount}, nil
	}
	venue.fetchOrderFn = func(orderID, symbol string) (*entity.VenueOrder, error) {
		return &entity.VenueOrder{ID: orderID, Symbol: symbol, Status: entity.OrderStatusClosed, Amount: d("1"), Filled: d("1")}, nil
	}

	report, err := exec.ExecuteMakerOrder(context.Background(), venue, makerRequest())

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, entity.OrderStatusClosed, report.Status)
}

func TestRestMakerOrderWaitsOutWideSpread(t *testing.T) {
	bus, _ := newTestBus()
	exec := NewRestOrderExecutor(Config{
		Execution:    StrategyFast,
		MaxSpreadPct: d("0.002"),
		Timeout:      10 * time.Second,
	}, bus)

	venue := newFakeVenue()
	books := 0
	venue.fetchBookFn = func(string) (*entity.OrderBook, error) {
		books++
		if books == 1 {
			return testBook("100", "101"), nil
		}
		return testBook("100", "100.1"), nil
	}
	created := 0
	venue.createLimitFn = func(symbol string, side entity.OrderSide, amount, price decimal.Decimal) (*entity.VenueOrder, error) {
		created++
		return &entity.VenueOrder{ID: "limit-1", Symbol: symbol, Status: entity.OrderStatusOpen, Amount: amount, Remaining: amount}, nil
	}
	venue.fetchOrderFn = func(orderID, symbol string) (*entity.VenueOrder, error) {
		return &entity.VenueOrder{ID: orderID, Symbol: symbol, Status: entity.OrderStatusClosed, Amount: d("1"), Filled: d("1")}, nil
	}

	report, err := exec.ExecuteMakerOrder(context.Background(), venue, makerRequest())

	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.GreaterOrEqual(t, books, 2)
	assert.Equal(t, entity.OrderStatusClosed, report.Status)
}

func TestRestMakerOrderReprices(t *testing.T) {
	bus, sink := newTestBus()
	exec := NewRestOrderExecutor(Config{Execution: StrategyFast, Timeout: 10 * time.Second}, bus)

	venue := newFakeVenue()
	books := 0
	venue.fetchBookFn = func(string) (*entity.OrderBook, error) {
		books++
		if books <= 1 {
			return testBook("100", "100.1"), nil
		}
		return testBook("101", "101.1"), nil
	}
	created := 0
	venue.createLimitFn = func(symbol string, side entity.OrderSide, amount, price decimal.Decimal) (*entity.VenueOrder, error) {
		created++
		return &entity.VenueOrder{ID: "limit-" + string(rune('0'+created)), Symbol: symbol, Status: entity.OrderStatusOpen, Amount: amount, Remaining: amount}, nil
	}
	venue.fetchOrderFn = func(orderID, symbol string) (*entity.VenueOrder, error) {
		if orderID == "limit-1" {
			status := entity.OrderStatusOpen
			// After the reprice cancel, report canceled so the
			// executor recreates at the new level.
			if len(venue.cancelled()) > 0 {
				status = entity.OrderStatusCanceled
			}
			return &entity.VenueOrder{ID: orderID, Symbol: symbol, Status: status, Amount: d("1"), Remaining: d("1")}, nil
		}
		return &entity.VenueOrder{ID: orderID, Symbol: symbol, Status: entity.OrderStatusClosed, Amount: d("1"), Filled: d("1")}, nil
	}

	report, err := exec.ExecuteMakerOrder(context.Background(), venue, makerRequest())

	require.NoError(t, err)
	assert.Equal(t, 2, created)
	assert.Equal(t, entity.OrderStatusClosed, report.Status)
	assert.Equal(t, 1, sink.count(entity.EventOrderRepriced))
	assert.Contains(t, venue.cancelled(), "limit-1")
}

func TestRestMakerOrderFetchStreakRaises(t *testing.T) {
	restore := restFetchBackoff
	restFetchBackoff = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond, time.Millisecond}
	defer func() { restFetchBackoff = restore }()

	bus, _ := newTestBus()
	exec := NewRestOrderExecutor(Config{Execution: StrategyFast, Timeout: 10 * time.Second}, bus)

	venue := newFakeVenue()
	venue.fetchOrderFn = func(orderID, symbol string) (*entity.VenueOrder, error) {
		return nil, &entity.NetworkError{VenueID: "fake", Op: "fetch order", Err: errors.New("boom")}
	}

	_, err := exec.ExecuteMakerOrder(context.Background(), venue, makerRequest())

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, maxFetchFailures, fetchErr.Failures)
	assert.Contains(t, venue.cancelled(), "limit-1")
}

func TestRestMakerOrderTimeoutFallsBackToTaker(t *testing.T) {
	bus, sink := newTestBus()
	exec := NewRestOrderExecutor(Config{Execution: StrategyFast, Timeout: 50 * time.Millisecond}, bus)

	venue := newFakeVenue()
	venue.fetchOrderFn = func(orderID, symbol string) (*entity.VenueOrder, error) {
		if orderID == "market-1" {
			return &entity.VenueOrder{ID: orderID, Symbol: symbol, Status: entity.OrderStatusClosed, Amount: d("1"), Filled: d("1")}, nil
		}
		return &entity.VenueOrder{ID: orderID, Symbol: symbol, Status: entity.OrderStatusOpen, Amount: d("1"), Remaining: d("1")}, nil
	}

	report, err := exec.ExecuteMakerOrder(context.Background(), venue, makerRequest())

	require.NoError(t, err)
	assert.Equal(t, "market-1", report.ID)
	assert.Equal(t, 1, sink.count(entity.EventOrderTimeoutFallback))
	assert.Contains(t, venue.cancelled(), "limit-1")
}

func TestRestMakerOrderRecreatesAfterExternalCancel(t *testing.T) {
	bus, sink := newTestBus()
	exec := NewRestOrderExecutor(Config{Execution: StrategyFast, Timeout: 10 * time.Second}, bus)

	venue := newFakeVenue()
	created := 0
	venue.createLimitFn = func(symbol string, side entity.OrderSide, amount, price decimal.Decimal) (*entity.VenueOrder, error) {
		created++
		return &entity.VenueOrder{ID: "limit-" + string(rune('0'+created)), Symbol: symbol, Status: entity.OrderStatusOpen, Amount: amount, Remaining: amount}, nil
	}
	venue.fetchOrderFn = func(orderID, symbol string) (*entity.VenueOrder, error) {
		if orderID == "limit-1" {
			return &entity.VenueOrder{ID: orderID, Symbol: symbol, Status: entity.OrderStatusCanceled, Amount: d("1"), Remaining: d("1")}, nil
		}
		return &entity.VenueOrder{ID: orderID, Symbol: symbol, Status: entity.OrderStatusClosed, Amount: d("1"), Filled: d("1")}, nil
	}

	report, err := exec.ExecuteMakerOrder(context.Background(), venue, makerRequest())

	require.NoError(t, err)
	assert.Equal(t, 2, created)
	assert.Equal(t, "limit-2", report.ID)
	assert.Equal(t, 1, sink.count(entity.EventOrderFailed))
}

func TestRestTakerOrder(t *testing.T) {
	t.Run("fills", func(t *testing.T) {
		bus, sink := newTestBus()
		exec := NewRestOrderExecutor(Config{Execution: StrategyFast, Timeout: 10 * time.Second}, bus)

		venue := newFakeVenue()
		venue.createMarketFn = func(symbol string, side entity.OrderSide, amount decimal.Decimal) (*entity.VenueOrder, error) {
			return &entity.VenueOrder{ID: "m1", Symbol: symbol, Status: entity.OrderStatusOpen, Amount: amount, Remaining: amount}, nil
		}
		venue.fetchOrderFn = func(orderID, symbol string) (*entity.VenueOrder, error) {
			return &entity.VenueOrder{ID: orderID, Symbol: symbol, Status: entity.OrderStatusClosed, Amount: d("1"), Filled: d("1")}, nil
		}

		report, err := exec.ExecuteTakerOrder(context.Background(), venue, takerRequest())

		require.NoError(t, err)
		assert.Equal(t, entity.OrderStatusClosed, report.Status)
		assert.Equal(t, 1, sink.count(entity.EventOrderSubmitted))
	})

	t.Run("retries transient then fills", func(t *testing.T) {
		bus, _ := newTestBus()
		exec := NewRestOrderExecutor(Config{Execution: StrategyFast, Timeout: 10 * time.Second}, bus)

		venue := newFakeVenue()
		attempts := 0
		venue.createMarketFn = func(symbol string, side entity.OrderSide, amount decimal.Decimal) (*entity.VenueOrder, error) {
			attempts++
			if attempts < 2 {
				return nil, entity.ErrRateLimited
			}
			return &entity.VenueOrder{ID: "m1", Symbol: symbol, Status: entity.OrderStatusOpen, Amount: amount, Remaining: amount}, nil
		}
		venue.fetchOrderFn = func(orderID, symbol string) (*entity.VenueOrder, error) {
			return &entity.VenueOrder{ID: orderID, Symbol: symbol, Status: entity.OrderStatusClosed, Amount: d("1"), Filled: d("1")}, nil
		}

		_, err := exec.ExecuteTakerOrder(context.Background(), venue, takerRequest())

		require.NoError(t, err)
		assert.Equal(t, 2, attempts)
	})

	t.Run("fatal rejection fails immediately", func(t *testing.T) {
		bus, sink := newTestBus()
		exec := NewRestOrderExecutor(Config{Execution: StrategyFast, Timeout: 10 * time.Second}, bus)

		venue := newFakeVenue()
		attempts := 0
		venue.createMarketFn = func(string, entity.OrderSide, decimal.Decimal) (*entity.VenueOrder, error) {
			attempts++
			return nil, entity.ErrUnknownSymbol
		}

		_, err := exec.ExecuteTakerOrder(context.Background(), venue, takerRequest())

		var creationErr *CreationError
		require.ErrorAs(t, err, &creationErr)
		assert.Equal(t, 1, attempts)
		assert.Equal(t, 1, sink.count(entity.EventOrderFailed))
	})

	t.Run("gives up after three transient attempts", func(t *testing.T) {
		bus, sink := newTestBus()
		exec := NewRestOrderExecutor(Config{Execution: StrategyFast, Timeout: 10 * time.Second}, bus)

		venue := newFakeVenue()
		attempts := 0
		venue.createMarketFn = func(string, entity.OrderSide, decimal.Decimal) (*entity.VenueOrder, error) {
			attempts++
			return nil, entity.ErrRateLimited
		}

		_, err := exec.ExecuteTakerOrder(context.Background(), venue, takerRequest())

		var creationErr *CreationError
		require.ErrorAs(t, err, &creationErr)
		assert.Equal(t, takerCreateRetries, attempts)
		assert.Equal(t, 1, sink.count(entity.EventOrderFailed))
	})
}
