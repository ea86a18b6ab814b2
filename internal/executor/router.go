package executor

import (
	"context"
	"errors"

	"github.com/krobus00/order-executor/internal/entity"
	"github.com/krobus00/order-executor/internal/eventbus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var ErrVenueNotFound = errors.New("venue not found")

// OrderRouter fans a batch of order requests out across venues. Every
// order resolves: terminal fills flip the pairing to filled, everything
// else flips it to failed, so no peer order ever waits forever.
type OrderRouter struct {
	cfg       Config
	bus       *eventbus.OrderEventBus
	executeFn ExecuteFunc
}

// ExecuteFunc overrides executor selection: when set on the router it
// runs every order instead of the built-in REST/stream executors.
type ExecuteFunc func(ctx context.Context, venue entity.Venue, session *VenueSession, req *entity.OrderRequest) (*entity.ExecutionReport, error)

func NewOrderRouter(cfg Config, bus *eventbus.OrderEventBus) *OrderRouter {
	cfg.ApplyDefaults()
	return &OrderRouter{
		cfg: cfg,
		bus: bus,
	}
}

func (r *OrderRouter) WithExecuteFunc(fn ExecuteFunc) *OrderRouter {
	r.executeFn = fn
	return r
}

// newSessions creates one fresh session per venue touched by the batch.
// Sessions never outlive a single Execute call, so a circuit breaker
// tripped in one batch cannot latch into the next.
func (r *OrderRouter) newSessions(venues map[string]entity.Venue, requests []*entity.OrderRequest) map[string]*VenueSession {
	sessions := make(map[string]*VenueSession)
	for _, req := range requests {
		if _, ok := sessions[req.VenueID]; ok {
			continue
		}
		if venue, ok := venues[req.VenueID]; ok {
			sessions[req.VenueID] = NewVenueSession(venue, r.cfg)
		}
	}
	return sessions
}

// Execute initializes the touched venue sessions in parallel, then runs
// every order concurrently under the per-venue concurrency limit and
// collects the terminal reports. Orders that fail or end non-terminal
// are dropped after their pairing is notified.
func (r *OrderRouter) Execute(ctx context.Context, venues map[string]entity.Venue, orders entity.OrdersToExecute) ([]*entity.ExecutionReport, error) {
	requests := orders.All()
	if len(requests) == 0 {
		return nil, nil
	}

	sessions := r.newSessions(venues, requests)
	r.initSessions(ctx, sessions, requests)

	reports := make([]*entity.ExecutionReport, len(requests))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range requests {
		i, req := i, req
		g.Go(func() error {
			reports[i] = r.executeOne(gctx, venues, sessions, req)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make([]*entity.ExecutionReport, 0, len(requests))
	for _, report := range reports {
		if report != nil {
			results = append(results, report)
		}
	}
	return results, nil
}

// initSessions pre-warms streaming connectivity for each venue/symbol
// pair in the batch before any order runs.
func (r *OrderRouter) initSessions(ctx context.Context, sessions map[string]*VenueSession, requests []*entity.OrderRequest) {
	type venueSymbol struct {
		venueID string
		symbol  string
	}
	seen := make(map[venueSymbol]struct{})

	g, gctx := errgroup.WithContext(ctx)
	for _, req := range requests {
		key := venueSymbol{venueID: req.VenueID, symbol: req.Symbol}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		session, ok := sessions[req.VenueID]
		if !ok {
			continue
		}
		symbol := req.Symbol
		g.Go(func() error {
			session.Initialize(gctx, symbol)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *OrderRouter) executeOne(ctx context.Context, venues map[string]entity.Venue, sessions map[string]*VenueSession, req *entity.OrderRequest) *entity.ExecutionReport {
	logger := logrus.WithFields(logrus.Fields{
		"venueID": req.VenueID,
		"symbol":  req.Symbol,
		"side":    req.Side,
	})

	fail := func(reason string) *entity.ExecutionReport {
		logger.Warnf("order failed: %s", reason)
		if req.Pairing != nil {
			req.Pairing.NotifyFailed()
		}
		return nil
	}

	venue, ok := venues[req.VenueID]
	if !ok {
		return fail(ErrVenueNotFound.Error())
	}

	session := sessions[req.VenueID]
	if err := session.Acquire(ctx); err != nil {
		return fail(err.Error())
	}
	defer session.Release()

	// Margin setup must land before the first order touches the venue.
	session.EnsureMarginInitialized(ctx, req.Symbol)

	var report *entity.ExecutionReport
	var err error
	if r.executeFn != nil {
		report, err = r.executeFn(ctx, venue, session, req)
	} else {
		report, err = r.run(ctx, venue, session, req)
		if err != nil {
			var circuitErr *CircuitOpenError
			if errors.As(err, &circuitErr) {
				logger.Warn("stream circuit open, retrying over REST")
				report, err = r.runExecutor(ctx, NewRestOrderExecutor(r.cfg, r.bus), venue, req)
			}
		}
	}
	if err != nil {
		return fail(err.Error())
	}
	if report == nil || report.Status != entity.OrderStatusClosed {
		return fail("order ended without a closed status")
	}

	if req.Pairing != nil {
		req.Pairing.NotifyFilled()
		if req.Pairing.IsPairFailed() {
			// Peer leg failed; this fill now has no hedge.
			r.emitOrphaned(req, report)
		}
	}
	return report
}

func (r *OrderRouter) run(ctx context.Context, venue entity.Venue, session *VenueSession, req *entity.OrderRequest) (*entity.ExecutionReport, error) {
	var exec OrderExecutor
	if r.cfg.PreferStreaming && venue.SupportsStreaming() && !session.IsCircuitOpen() {
		exec = NewStreamOrderExecutor(r.cfg, r.bus, session)
	} else {
		exec = NewRestOrderExecutor(r.cfg, r.bus)
	}
	return r.runExecutor(ctx, exec, venue, req)
}

func (r *OrderRouter) runExecutor(ctx context.Context, exec OrderExecutor, venue entity.Venue, req *entity.OrderRequest) (*entity.ExecutionReport, error) {
	if req.Execution == entity.ExecutionTypeMaker {
		return exec.ExecuteMakerOrder(ctx, venue, req)
	}
	return exec.ExecuteTakerOrder(ctx, venue, req)
}

func (r *OrderRouter) emitOrphaned(req *entity.OrderRequest, report *entity.ExecutionReport) {
	if r.bus == nil {
		return
	}
	r.bus.Emit(entity.OrderEvent{
		OrderID:     report.ID,
		VenueID:     report.VenueID,
		Symbol:      report.Symbol,
		Side:        string(req.Side),
		State:       entity.OrderStateCancelled,
		TimestampMs: report.Timestamp,
		EventName:   entity.EventOrderFailed,
	})
}
