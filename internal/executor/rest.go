package executor

import (
	"context"
	"time"

	"github.com/krobus00/order-executor/internal/entity"
	"github.com/krobus00/order-executor/internal/eventbus"
	"github.com/shopspring/decimal"
)

// RestOrderExecutor executes orders by polling the venue REST API. It
// works against any venue, streaming-capable or not, and serves as the
// fallback path when the streaming circuit breaker is open.
type RestOrderExecutor struct {
	baseExecutor
}

func NewRestOrderExecutor(cfg Config, bus *eventbus.OrderEventBus) *RestOrderExecutor {
	return &RestOrderExecutor{baseExecutor: newBaseExecutor(cfg, bus)}
}

type restMakerState int

const (
	stateCreatingOrder restMakerState = iota
	stateMonitoringOrder
	stateUpdatingOrder
	stateWaitUntilCancelled
)

// ExecuteMakerOrder places a limit order at a strategy-chosen book level
// and chases the market by cancel/replace until filled. When the order
// deadline passes, any resting remainder converts to a market order.
func (e *RestOrderExecutor) ExecuteMakerOrder(ctx context.Context, venue entity.Venue, req *entity.OrderRequest) (*entity.ExecutionReport, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	logger := e.logger(venue, req)

	start := time.Now()
	deadline := start.Add(e.cfg.Timeout)

	// Resting orders from a previous run would double the exposure.
	e.cancelPendingOrders(ctx, venue, req.Symbol, "")

	state := stateCreatingOrder
	var orderID string
	var currentPrice decimal.Decimal
	var targetPrice decimal.Decimal
	var lastFilled decimal.Decimal
	fetchFailures := 0
	var lastFetchErr error

	cancelResting := func() {
		if orderID == "" {
			return
		}
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := venue.CancelOrder(cctx, orderID, req.Symbol); err != nil {
			logger.Warnf("failed to cancel resting order %s: %v", orderID, err)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			cancelResting()
			return nil, err
		}
		elapsed := time.Since(start)

		if time.Now().After(deadline) {
			cancelResting()
			return e.takerFallback(ctx, venue, req, req.Amount.Sub(lastFilled), orderID)
		}

		switch state {
		case stateCreatingOrder:
			book, err := venue.FetchOrderBook(ctx, req.Symbol)
			if err != nil {
				logger.Warnf("failed to fetch order book: %v", err)
				break
			}
			bs := e.analyzeBook(book, req.Side, elapsed)
			if bs == nil {
				break
			}
			if !bs.spreadOK {
				logger.Warnf("spread %s above limit, waiting", bs.spreadPct.String())
				break
			}

			remaining := req.Amount.Sub(lastFilled)
			order, err := venue.CreateLimitOrder(ctx, req.Symbol, req.Side, remaining, bs.price, req.Params)
			if err != nil {
				if ClassifyRejection(err) == SeverityFatal {
					e.emitFailed(venue, req, "", entity.OrderStateFailed)
					return nil, &CreationError{Symbol: req.Symbol, Kind: "maker", Reason: err.Error()}
				}
				logger.Warnf("failed to create limit order: %v", err)
				break
			}

			orderID = order.ID
			currentPrice = bs.price
			e.emit(e.makeEvent(venue, req, orderID, entity.OrderStateSubmitted, entity.EventOrderSubmitted))
			state = stateMonitoringOrder

		case stateMonitoringOrder:
			order, err := venue.FetchOrder(ctx, orderID, req.Symbol)
			if err != nil {
				fetchFailures++
				lastFetchErr = err
				if fetchFailures >= maxFetchFailures {
					cancelResting()
					return nil, &FetchError{Symbol: req.Symbol, OrderID: orderID, Failures: fetchFailures, Err: lastFetchErr}
				}
				logger.Warnf("failed to fetch order %s (attempt %d): %v", orderID, fetchFailures, err)
				if err := sleepCtx(ctx, restFetchBackoff[fetchFailures-1]); err != nil {
					cancelResting()
					return nil, err
				}
				continue
			}
			fetchFailures = 0

			if order.Filled.GreaterThan(lastFilled) {
				lastFilled = order.Filled
				e.emitFill(venue, req, order, start)
			}

			switch order.Status {
			case entity.OrderStatusClosed:
				return buildReport(order, venue.ID(), start), nil
			case entity.OrderStatusCanceled, entity.OrderStatusRejected, entity.OrderStatusExpired:
				// Cancelled externally; start over with the remainder.
				logger.Warnf("order %s reached status %s, recreating", orderID, order.Status)
				e.emitFailed(venue, req, orderID, entity.OrderStateFailed)
				orderID = ""
				state = stateCreatingOrder
				continue
			}

			book, err := venue.FetchOrderBook(ctx, req.Symbol)
			if err == nil {
				bs := e.analyzeBook(book, req.Side, elapsed)
				if bs != nil && bs.spreadOK && e.checkShouldReprice(venue, req, orderID, currentPrice, bs.price, elapsed) {
					targetPrice = bs.price
					state = stateUpdatingOrder
					continue
				}
			}

		case stateUpdatingOrder:
			if err := venue.CancelOrder(ctx, orderID, req.Symbol); err != nil {
				// The order may have just filled; go back and look.
				logger.Warnf("failed to cancel order %s for reprice: %v", orderID, err)
				state = stateMonitoringOrder
				continue
			}
			event := e.makeEvent(venue, req, orderID, entity.OrderStateUpdatingOrder, entity.EventOrderRepriced)
			event.FillPrice = &targetPrice
			e.emit(event)
			state = stateWaitUntilCancelled
			continue

		case stateWaitUntilCancelled:
			order, err := venue.FetchOrder(ctx, orderID, req.Symbol)
			if err != nil || order.Status == entity.OrderStatusCanceled || order.Status == entity.OrderStatusExpired {
				if order != nil && order.Filled.GreaterThan(lastFilled) {
					lastFilled = order.Filled
					e.emitFill(venue, req, order, start)
				}
				orderID = ""
				state = stateCreatingOrder
				continue
			}
			if order.Status == entity.OrderStatusClosed {
				return buildReport(order, venue.ID(), start), nil
			}
		}

		if err := sleepCtx(ctx, adaptivePollInterval(elapsed)); err != nil {
			cancelResting()
			return nil, err
		}
	}
}

// ExecuteTakerOrder places a market order, retrying creation up to three
// times on transient rejections, then polls until it closes.
func (e *RestOrderExecutor) ExecuteTakerOrder(ctx context.Context, venue entity.Venue, req *entity.OrderRequest) (*entity.ExecutionReport, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	logger := e.logger(venue, req)

	start := time.Now()
	deadline := start.Add(e.cfg.Timeout)

	var order *entity.VenueOrder
	var lastErr error
	for attempt := 1; attempt <= takerCreateRetries; attempt++ {
		var err error
		order, err = venue.CreateMarketOrder(ctx, req.Symbol, req.Side, req.Amount, req.Params)
		if err == nil {
			break
		}
		lastErr = err
		if ClassifyRejection(err) == SeverityFatal {
			e.emitFailed(venue, req, "", entity.OrderStateFailed)
			return nil, &CreationError{Symbol: req.Symbol, Kind: "taker", Reason: err.Error()}
		}
		logger.Warnf("failed to create market order (attempt %d): %v", attempt, err)
		order = nil
		if attempt < takerCreateRetries {
			if err := sleepCtx(ctx, adaptivePollInterval(time.Since(start))); err != nil {
				return nil, err
			}
		}
	}
	if order == nil {
		e.emitFailed(venue, req, "", entity.OrderStateFailed)
		return nil, &CreationError{Symbol: req.Symbol, Kind: "taker", Reason: lastErr.Error()}
	}

	e.emit(e.makeEvent(venue, req, order.ID, entity.OrderStateSubmitted, entity.EventOrderSubmitted))
	return e.pollUntilClosed(ctx, venue, req, order.ID, start, deadline)
}
