package executor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/krobus00/order-executor/internal/entity"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// VenueSession holds the per-venue state shared by every order routed
// to that venue during a batch: the concurrency limit, the one-shot
// margin setup per symbol, and the streaming circuit breaker latch.
type VenueSession struct {
	venue entity.Venue
	cfg   Config
	sem   *semaphore.Weighted

	mu                sync.Mutex
	marginInitialized map[string]struct{}

	circuitOpen atomic.Bool
}

func NewVenueSession(venue entity.Venue, cfg Config) *VenueSession {
	cfg.ApplyDefaults()
	return &VenueSession{
		venue:             venue,
		cfg:               cfg,
		sem:               semaphore.NewWeighted(int64(cfg.MaxConcurrentOrders)),
		marginInitialized: make(map[string]struct{}),
	}
}

func (s *VenueSession) Venue() entity.Venue {
	return s.venue
}

// Acquire blocks until a concurrency slot is free for this venue.
func (s *VenueSession) Acquire(ctx context.Context) error {
	return s.sem.Acquire(ctx, 1)
}

func (s *VenueSession) Release() {
	s.sem.Release(1)
}

// Initialize pre-warms streaming connectivity for a symbol so the first
// order does not pay the connection handshake. Failures are logged and
// swallowed; execution falls back to REST naturally.
func (s *VenueSession) Initialize(ctx context.Context, symbol string) {
	if !s.venue.SupportsStreaming() {
		return
	}
	if _, err := s.venue.WatchOrderBook(ctx, symbol); err != nil {
		logrus.WithFields(logrus.Fields{
			"venueID": s.venue.ID(),
			"symbol":  symbol,
		}).Warnf("failed to pre-warm order book stream: %v", err)
	}
}

// EnsureMarginInitialized sets cross margin and leverage for the symbol
// at most once per session. The lock spans both venue calls so two
// orders on the same symbol never interleave the setup.
func (s *VenueSession) EnsureMarginInitialized(ctx context.Context, symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.marginInitialized[symbol]; ok {
		return
	}

	logger := logrus.WithFields(logrus.Fields{
		"venueID": s.venue.ID(),
		"symbol":  symbol,
	})
	if err := s.venue.SetMarginMode(ctx, "cross", symbol); err != nil {
		// Venues reject the call when the mode is already set.
		logger.Warnf("failed to set margin mode: %v", err)
	}
	if leverage := s.venue.Leverage(); leverage > 0 {
		if err := s.venue.SetLeverage(ctx, leverage, symbol); err != nil {
			logger.Warnf("failed to set leverage: %v", err)
		}
	}

	s.marginInitialized[symbol] = struct{}{}
}

// MarkCircuitOpen latches the streaming circuit breaker. Once open it
// stays open for the lifetime of the session.
func (s *VenueSession) MarkCircuitOpen() {
	s.circuitOpen.Store(true)
}

func (s *VenueSession) IsCircuitOpen() bool {
	return s.circuitOpen.Load()
}
