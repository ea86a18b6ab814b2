package executor

import (
	"context"
	"time"

	"github.com/krobus00/order-executor/internal/entity"
	"github.com/krobus00/order-executor/internal/eventbus"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	fastPollInterval   = 200 * time.Millisecond
	slowPollInterval   = 1 * time.Second
	fastPollWindow     = 10 * time.Second
	maxFetchFailures   = 4
	takerCreateRetries = 3

	streamBackoffBase = 100 * time.Millisecond
	streamBackoffCap  = 30 * time.Second
)

// restFetchBackoff is indexed by consecutive fetch failures - 1.
var restFetchBackoff = []time.Duration{
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
}

// adaptivePollInterval polls aggressively while a fill is most likely,
// then backs off to spare the venue rate limits.
func adaptivePollInterval(elapsed time.Duration) time.Duration {
	if elapsed < fastPollWindow {
		return fastPollInterval
	}
	return slowPollInterval
}

// streamBackoffDelay doubles from 100ms per consecutive reconnect
// failure, capped at 30s.
func streamBackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := streamBackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= streamBackoffCap {
			return streamBackoffCap
		}
	}
	return delay
}

// bestPriceIndex picks how deep in the book to rest a maker order. The
// best-price strategy starts five levels deep and walks toward the top
// of book as the order ages; fast always pegs the top of book.
func bestPriceIndex(strategy Strategy, elapsed time.Duration) int {
	if strategy == StrategyFast {
		return 0
	}
	switch {
	case elapsed < 10*time.Second:
		return 5
	case elapsed < 30*time.Second:
		return 4
	case elapsed < 60*time.Second:
		return 3
	case elapsed < 120*time.Second:
		return 2
	case elapsed < 180*time.Second:
		return 1
	default:
		return 0
	}
}

// bookState is the outcome of analyzing one order book snapshot.
type bookState struct {
	price     decimal.Decimal
	spreadPct decimal.Decimal
	spreadOK  bool
}

type baseExecutor struct {
	cfg     Config
	bus     *eventbus.OrderEventBus
	reprice RepricePolicy
}

func newBaseExecutor(cfg Config, bus *eventbus.OrderEventBus) baseExecutor {
	cfg.ApplyDefaults()
	return baseExecutor{
		cfg:     cfg,
		bus:     bus,
		reprice: NewRepricePolicy(cfg),
	}
}

func (e *baseExecutor) logger(venue entity.Venue, req *entity.OrderRequest) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"venueID": venue.ID(),
		"symbol":  req.Symbol,
		"side":    req.Side,
	})
}

// analyzeBook resolves the maker target price for the request side and
// checks whether the spread is tight enough to trade into. Buys rest on
// the bid side, sells on the ask side.
func (e *baseExecutor) analyzeBook(book *entity.OrderBook, side entity.OrderSide, elapsed time.Duration) *bookState {
	levels := book.Bids
	if side == entity.OrderSideSell {
		levels = book.Asks
	}
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return nil
	}

	idx := bestPriceIndex(e.cfg.Execution, elapsed)
	if idx > len(levels)-1 {
		idx = len(levels) - 1
	}

	bestBid := book.Bids[0].Price
	bestAsk := book.Asks[0].Price
	if !bestBid.IsPositive() {
		return nil
	}
	spreadPct := bestAsk.Sub(bestBid).Div(bestBid)

	return &bookState{
		price:     levels[idx].Price,
		spreadPct: spreadPct,
		spreadOK:  !e.cfg.MaxSpreadPct.IsPositive() || spreadPct.LessThanOrEqual(e.cfg.MaxSpreadPct),
	}
}

// checkShouldReprice consults the policy and emits a suppression event
// when a price move is deliberately ignored.
func (e *baseExecutor) checkShouldReprice(venue entity.Venue, req *entity.OrderRequest, orderID string, currentPrice, targetPrice decimal.Decimal, elapsed time.Duration) bool {
	if currentPrice.Equal(targetPrice) {
		return false
	}
	if e.reprice.ShouldReprice(currentPrice, targetPrice, elapsed) {
		return true
	}
	event := e.makeEvent(venue, req, orderID, entity.OrderStateMonitoringOrder, entity.EventOrderRepriceSuppress)
	event.FillPrice = &targetPrice
	e.emit(event)
	return false
}

func (e *baseExecutor) makeEvent(venue entity.Venue, req *entity.OrderRequest, orderID string, state entity.OrderState, name string) entity.OrderEvent {
	return entity.OrderEvent{
		OrderID:     orderID,
		VenueID:     venue.ID(),
		Symbol:      req.Symbol,
		Side:        string(req.Side),
		State:       state,
		TimestampMs: time.Now().UnixMilli(),
		EventName:   name,
	}
}

func (e *baseExecutor) emit(event entity.OrderEvent) {
	if e.bus == nil {
		return
	}
	e.bus.Emit(event)
}

func (e *baseExecutor) emitFill(venue entity.Venue, req *entity.OrderRequest, order *entity.VenueOrder, start time.Time) {
	state := entity.OrderStatePartiallyFilled
	name := entity.EventOrderFillPartial
	if order.Status == entity.OrderStatusClosed {
		state = entity.OrderStateFilled
		name = entity.EventOrderFillComplete
	}
	event := e.makeEvent(venue, req, order.ID, state, name)
	latency := time.Since(start).Milliseconds()
	event.LatencyMs = &latency
	if order.AveragePrice != nil {
		event.FillPrice = order.AveragePrice
	} else if order.LastPrice != nil {
		event.FillPrice = order.LastPrice
	}
	filled := order.Filled
	event.FillQty = &filled
	e.emit(event)
}

func (e *baseExecutor) emitFailed(venue entity.Venue, req *entity.OrderRequest, orderID string, state entity.OrderState) {
	e.emit(e.makeEvent(venue, req, orderID, state, entity.EventOrderFailed))
}

func buildReport(order *entity.VenueOrder, venueID string, start time.Time) *entity.ExecutionReport {
	return &entity.ExecutionReport{
		ID:            order.ID,
		Symbol:        order.Symbol,
		Status:        order.Status,
		Amount:        order.Amount,
		Filled:        order.Filled,
		Remaining:     order.Remaining,
		AveragePrice:  order.AveragePrice,
		LastPrice:     order.LastPrice,
		VenueID:       venueID,
		FillLatencyMs: time.Since(start).Milliseconds(),
		Timestamp:     time.Now().UnixMilli(),
	}
}

// cancelPendingOrders cancels every resting order on the symbol except
// excludeID. Failures are logged and swallowed; a stuck cancel must not
// block new execution.
func (e *baseExecutor) cancelPendingOrders(ctx context.Context, venue entity.Venue, symbol, excludeID string) {
	logger := logrus.WithFields(logrus.Fields{
		"venueID": venue.ID(),
		"symbol":  symbol,
	})

	orders, err := venue.FetchOpenOrders(ctx, symbol)
	if err != nil {
		logger.Warnf("failed to fetch open orders: %v", err)
		return
	}
	for _, order := range orders {
		if order.ID == excludeID {
			continue
		}
		if err := venue.CancelOrder(ctx, order.ID, symbol); err != nil {
			logger.Warnf("failed to cancel order %s: %v", order.ID, err)
		}
	}
}

// pollUntilClosed polls order status over REST until the order reaches
// a terminal state or the deadline passes. Transient fetch failures back
// off; the fourth consecutive failure gives up.
func (e *baseExecutor) pollUntilClosed(ctx context.Context, venue entity.Venue, req *entity.OrderRequest, orderID string, start time.Time, deadline time.Time) (*entity.ExecutionReport, error) {
	logger := e.logger(venue, req)

	fetchFailures := 0
	var lastFilled decimal.Decimal
	var lastErr error
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, &TimeoutError{Symbol: req.Symbol, Kind: string(req.Execution), Timeout: e.cfg.Timeout}
		}

		order, err := venue.FetchOrder(ctx, orderID, req.Symbol)
		if err != nil {
			fetchFailures++
			lastErr = err
			if fetchFailures >= maxFetchFailures {
				return nil, &FetchError{Symbol: req.Symbol, OrderID: orderID, Failures: fetchFailures, Err: lastErr}
			}
			logger.Warnf("failed to fetch order %s (attempt %d): %v", orderID, fetchFailures, err)
			if err := sleepCtx(ctx, restFetchBackoff[fetchFailures-1]); err != nil {
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
			e.emitFailed(venue, req, orderID, entity.OrderStateFailed)
			return nil, &CreationError{Symbol: req.Symbol, Kind: string(req.Execution), Reason: "order reached status " + string(order.Status)}
		}

		if err := sleepCtx(ctx, adaptivePollInterval(time.Since(start))); err != nil {
			return nil, err
		}
	}
}

// takerFallback converts a stuck maker order into an immediate market
// order for the remaining amount and waits for it to close.
func (e *baseExecutor) takerFallback(ctx context.Context, venue entity.Venue, req *entity.OrderRequest, remaining decimal.Decimal, prevOrderID string) (*entity.ExecutionReport, error) {
	logger := e.logger(venue, req)

	event := e.makeEvent(venue, req, prevOrderID, entity.OrderStateTimedOut, entity.EventOrderTimeoutFallback)
	e.emit(event)

	if remaining.LessThanOrEqual(decimal.Zero) {
		remaining = req.Amount
	}
	logger.Warnf("falling back to market order for remaining %s", remaining.String())

	order, err := venue.CreateMarketOrder(ctx, req.Symbol, req.Side, remaining, req.Params)
	if err != nil {
		e.emitFailed(venue, req, prevOrderID, entity.OrderStateFailed)
		return nil, &CreationError{Symbol: req.Symbol, Kind: "taker-fallback", Reason: err.Error()}
	}

	start := time.Now()
	return e.pollUntilClosed(ctx, venue, req, order.ID, start, start.Add(e.cfg.Timeout))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
