package executor

import (
	"context"
	"time"

	"github.com/krobus00/order-executor/internal/entity"
	"github.com/krobus00/order-executor/internal/eventbus"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// StreamOrderExecutor executes orders off websocket pushes instead of
// REST polling: order book updates drive placement and repricing, order
// status updates drive fill detection. REST is only used to place and
// cancel orders, and as a staleness fallback when the stream goes quiet.
type StreamOrderExecutor struct {
	baseExecutor
	session *VenueSession
}

func NewStreamOrderExecutor(cfg Config, bus *eventbus.OrderEventBus, session *VenueSession) *StreamOrderExecutor {
	return &StreamOrderExecutor{
		baseExecutor: newBaseExecutor(cfg, bus),
		session:      session,
	}
}

type bookUpdate struct {
	book *entity.OrderBook
	err  error
}

type ordersUpdate struct {
	orders []entity.VenueOrder
	err    error
}

// watchBookLoop feeds order book pushes into ch, reconnecting with
// exponential backoff on transport errors.
func (e *StreamOrderExecutor) watchBookLoop(ctx context.Context, venue entity.Venue, symbol string, ch chan<- bookUpdate) {
	attempt := 0
	for {
		book, err := venue.WatchOrderBook(ctx, symbol)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			attempt++
			logrus.WithFields(logrus.Fields{
				"venueID": venue.ID(),
				"symbol":  symbol,
			}).Warnf("order book stream error (attempt %d): %v", attempt, err)
			if sleepCtx(ctx, streamBackoffDelay(attempt)) != nil {
				return
			}
			continue
		}
		attempt = 0
		select {
		case ch <- bookUpdate{book: book}:
		case <-ctx.Done():
			return
		}
	}
}

// watchOrdersLoop feeds order status pushes into ch. Consecutive
// transport failures back off from 100ms doubling up to 30s; hitting
// the attempt limit latches the session circuit breaker open and sends
// a CircuitOpenError before returning.
func (e *StreamOrderExecutor) watchOrdersLoop(ctx context.Context, venue entity.Venue, req *entity.OrderRequest, ch chan<- ordersUpdate) {
	attempt := 0
	for {
		if e.session != nil && e.session.IsCircuitOpen() {
			e.send(ctx, ch, ordersUpdate{err: &CircuitOpenError{VenueID: venue.ID(), Attempts: attempt}})
			return
		}

		orders, err := venue.WatchOrders(ctx, req.Symbol)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			attempt = 0
			if !e.send(ctx, ch, ordersUpdate{orders: orders}) {
				return
			}
			continue
		}

		if !entity.IsNetworkError(err) {
			e.logger(venue, req).Warnf("order stream returned error: %v", err)
			// Not counted against the reconnect budget, but still
			// paced so a persistently erroring venue cannot spin hot.
			if sleepCtx(ctx, streamBackoffDelay(1)) != nil {
				return
			}
			continue
		}

		attempt++
		event := e.makeEvent(venue, req, "", entity.OrderStateMonitoringOrder, entity.EventWSReconnectAttempt)
		attemptCount := int64(attempt)
		event.LatencyMs = &attemptCount
		e.emit(event)

		if e.cfg.MaxReconnectAttempts > 0 && attempt >= e.cfg.MaxReconnectAttempts {
			if e.session != nil {
				e.session.MarkCircuitOpen()
			}
			e.emit(e.makeEvent(venue, req, "", entity.OrderStateMonitoringOrder, entity.EventWSCircuitOpen))
			e.send(ctx, ch, ordersUpdate{err: &CircuitOpenError{VenueID: venue.ID(), Attempts: attempt}})
			return
		}

		if sleepCtx(ctx, streamBackoffDelay(attempt)) != nil {
			return
		}
	}
}

func (e *StreamOrderExecutor) send(ctx context.Context, ch chan<- ordersUpdate, u ordersUpdate) bool {
	select {
	case ch <- u:
		return true
	case <-ctx.Done():
		return false
	}
}

// ExecuteMakerOrder drives the maker state machine off stream pushes.
// Placement waits for an acceptable book; fills arrive over the order
// stream; a quiet stream falls back to one REST status check per
// staleness window; the deadline converts the remainder to a market
// order.
func (e *StreamOrderExecutor) ExecuteMakerOrder(ctx context.Context, venue entity.Venue, req *entity.OrderRequest) (*entity.ExecutionReport, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !venue.SupportsStreaming() {
		return nil, &StreamingUnsupportedError{VenueID: venue.ID()}
	}
	if e.session != nil && e.session.IsCircuitOpen() {
		return nil, &CircuitOpenError{VenueID: venue.ID()}
	}
	logger := e.logger(venue, req)

	start := time.Now()

	e.cancelPendingOrders(ctx, venue, req.Symbol, "")

	wctx, cancelWatchers := context.WithCancel(ctx)
	defer cancelWatchers()

	bookCh := make(chan bookUpdate, 1)
	go e.watchBookLoop(wctx, venue, req.Symbol, bookCh)

	var ordersCh chan ordersUpdate
	var cancelOrders context.CancelFunc
	stopOrdersWatch := func() {
		if cancelOrders != nil {
			cancelOrders()
			cancelOrders = nil
		}
		ordersCh = nil
	}
	defer stopOrdersWatch()

	deadline := time.NewTimer(e.cfg.Timeout)
	defer deadline.Stop()

	staleness := time.NewTimer(e.cfg.StalenessWindow)
	defer staleness.Stop()
	staleness.Stop()
	resetStaleness := func() {
		if !staleness.Stop() {
			select {
			case <-staleness.C:
			default:
			}
		}
		staleness.Reset(e.cfg.StalenessWindow)
	}

	var orderID string
	var currentPrice decimal.Decimal
	var lastFilled decimal.Decimal
	var latestBook *bookState

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

	clearResting := func() {
		orderID = ""
		stopOrdersWatch()
		staleness.Stop()
	}

	handleTerminal := func(order *entity.VenueOrder) (*entity.ExecutionReport, error, bool) {
		if order.Filled.GreaterThan(lastFilled) {
			lastFilled = order.Filled
			e.emitFill(venue, req, order, start)
		}
		switch order.Status {
		case entity.OrderStatusClosed:
			return buildReport(order, venue.ID(), start), nil, true
		case entity.OrderStatusCanceled, entity.OrderStatusRejected, entity.OrderStatusExpired:
			logger.Warnf("order %s reached status %s, recreating", order.ID, order.Status)
			clearResting()
			return nil, nil, false
		}
		return nil, nil, false
	}

	for {
		// Place when the book is acceptable and nothing is resting.
		if orderID == "" && latestBook != nil && latestBook.spreadOK {
			remaining := req.Amount.Sub(lastFilled)
			order, err := venue.CreateLimitOrder(ctx, req.Symbol, req.Side, remaining, latestBook.price, req.Params)
			if err != nil {
				if ClassifyRejection(err) == SeverityFatal {
					e.emitFailed(venue, req, "", entity.OrderStateFailed)
					return nil, &CreationError{Symbol: req.Symbol, Kind: "maker", Reason: err.Error()}
				}
				logger.Warnf("failed to create limit order: %v", err)
				latestBook = nil
			} else {
				orderID = order.ID
				currentPrice = latestBook.price
				e.emit(e.makeEvent(venue, req, orderID, entity.OrderStateSubmitted, entity.EventOrderSubmitted))

				var octx context.Context
				octx, cancelOrders = context.WithCancel(wctx)
				ordersCh = make(chan ordersUpdate, 1)
				go e.watchOrdersLoop(octx, venue, req, ordersCh)
				resetStaleness()
			}
		}

		select {
		case <-ctx.Done():
			cancelResting()
			return nil, ctx.Err()

		case <-deadline.C:
			cancelResting()
			return e.takerFallback(ctx, venue, req, req.Amount.Sub(lastFilled), orderID)

		case bu := <-bookCh:
			bs := e.analyzeBook(bu.book, req.Side, time.Since(start))
			if bs == nil {
				continue
			}
			latestBook = bs
			if orderID == "" || !bs.spreadOK {
				continue
			}
			if e.checkShouldReprice(venue, req, orderID, currentPrice, bs.price, time.Since(start)) {
				if err := venue.CancelOrder(ctx, orderID, req.Symbol); err != nil {
					logger.Warnf("failed to cancel order %s for reprice: %v", orderID, err)
					continue
				}
				event := e.makeEvent(venue, req, orderID, entity.OrderStateUpdatingOrder, entity.EventOrderRepriced)
				price := bs.price
				event.FillPrice = &price
				e.emit(event)
				clearResting()
			}

		case ou := <-ordersCh:
			if ou.err != nil {
				cancelResting()
				return nil, ou.err
			}
			resetStaleness()
			for i := range ou.orders {
				order := &ou.orders[i]
				if order.ID != orderID {
					continue
				}
				if report, err, done := handleTerminal(order); done || err != nil {
					return report, err
				}
				if orderID == "" {
					break
				}
			}

		case <-staleness.C:
			if orderID == "" {
				continue
			}
			event := e.makeEvent(venue, req, orderID, entity.OrderStateMonitoringOrder, entity.EventWSStalenessFallback)
			e.emit(event)
			order, err := venue.FetchOrder(ctx, orderID, req.Symbol)
			if err != nil {
				logger.Warnf("staleness check failed for order %s: %v", orderID, err)
				resetStaleness()
				continue
			}
			if report, err, done := handleTerminal(order); done || err != nil {
				return report, err
			}
			if orderID != "" {
				resetStaleness()
			}
		}
	}
}

// ExecuteTakerOrder places a market order and waits for the fill over
// the order stream, with the same staleness and deadline guards as the
// maker path.
func (e *StreamOrderExecutor) ExecuteTakerOrder(ctx context.Context, venue entity.Venue, req *entity.OrderRequest) (*entity.ExecutionReport, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !venue.SupportsStreaming() {
		return nil, &StreamingUnsupportedError{VenueID: venue.ID()}
	}
	if e.session != nil && e.session.IsCircuitOpen() {
		return nil, &CircuitOpenError{VenueID: venue.ID()}
	}
	logger := e.logger(venue, req)

	start := time.Now()

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

	orderID := order.ID
	e.emit(e.makeEvent(venue, req, orderID, entity.OrderStateSubmitted, entity.EventOrderSubmitted))

	if order.Status == entity.OrderStatusClosed {
		e.emitFill(venue, req, order, start)
		return buildReport(order, venue.ID(), start), nil
	}

	wctx, cancelWatchers := context.WithCancel(ctx)
	defer cancelWatchers()

	ordersCh := make(chan ordersUpdate, 1)
	go e.watchOrdersLoop(wctx, venue, req, ordersCh)

	deadline := time.NewTimer(e.cfg.Timeout)
	defer deadline.Stop()
	staleness := time.NewTimer(e.cfg.StalenessWindow)
	defer staleness.Stop()

	var lastFilled decimal.Decimal
	handle := func(order *entity.VenueOrder) (*entity.ExecutionReport, error, bool) {
		if order.Filled.GreaterThan(lastFilled) {
			lastFilled = order.Filled
			e.emitFill(venue, req, order, start)
		}
		switch order.Status {
		case entity.OrderStatusClosed:
			return buildReport(order, venue.ID(), start), nil, true
		case entity.OrderStatusCanceled, entity.OrderStatusRejected, entity.OrderStatusExpired:
			e.emitFailed(venue, req, order.ID, entity.OrderStateFailed)
			return nil, &CreationError{Symbol: req.Symbol, Kind: "taker", Reason: "order reached status " + string(order.Status)}, true
		}
		return nil, nil, false
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-deadline.C:
			return nil, &TimeoutError{Symbol: req.Symbol, Kind: "taker", Timeout: e.cfg.Timeout}

		case ou := <-ordersCh:
			if ou.err != nil {
				return nil, ou.err
			}
			if !staleness.Stop() {
				select {
				case <-staleness.C:
				default:
				}
			}
			staleness.Reset(e.cfg.StalenessWindow)
			for i := range ou.orders {
				if ou.orders[i].ID != orderID {
					continue
				}
				if report, err, done := handle(&ou.orders[i]); done {
					return report, err
				}
			}

		case <-staleness.C:
			e.emit(e.makeEvent(venue, req, orderID, entity.OrderStateMonitoringOrder, entity.EventWSStalenessFallback))
			fetched, err := venue.FetchOrder(ctx, orderID, req.Symbol)
			if err != nil {
				logger.Warnf("staleness check failed for order %s: %v", orderID, err)
			} else if report, err, done := handle(fetched); done {
				return report, err
			}
			staleness.Reset(e.cfg.StalenessWindow)
		}
	}
}
