package batch

import (
	"context"
	"errors"

	"github.com/krobus00/order-executor/internal/entity"
	"github.com/krobus00/order-executor/internal/eventbus"
	"github.com/krobus00/order-executor/internal/executor"
	"github.com/krobus00/order-executor/internal/repository"
	"github.com/sirupsen/logrus"
)

var (
	ErrEmptyBatch     = errors.New("batch has no orders")
	ErrDuplicateBatch = errors.New("duplicate batch")
)

// Service is the execution entrypoint: it dedupes batches, wires pair
// legs together, fans the orders out through the router, persists the
// terminal reports and pushes the operator summary.
type Service struct {
	router          *executor.OrderRouter
	venues          map[string]entity.Venue
	reportRepo      *repository.ExecutionReportRepository
	idempotencyRepo *repository.IdempotencyRepository
	telegramSink    *eventbus.TelegramSink
}

func NewService(router *executor.OrderRouter, venues map[string]entity.Venue) *Service {
	return &Service{
		router: router,
		venues: venues,
	}
}

func (s *Service) WithReportRepository(repo *repository.ExecutionReportRepository) *Service {
	s.reportRepo = repo
	return s
}

func (s *Service) WithIdempotencyRepository(repo *repository.IdempotencyRepository) *Service {
	s.idempotencyRepo = repo
	return s
}

func (s *Service) WithTelegramSink(sink *eventbus.TelegramSink) *Service {
	s.telegramSink = sink
	return s
}

func (s *Service) ExecuteBatch(ctx context.Context, batch *entity.BatchRequest) (*entity.BatchResult, error) {
	if batch == nil || len(batch.Orders) == 0 {
		return nil, ErrEmptyBatch
	}

	logger := logrus.WithFields(logrus.Fields{
		"batchID": batch.BatchID,
		"orders":  len(batch.Orders),
	})

	if s.idempotencyRepo != nil && batch.BatchID != "" {
		claimed, err := s.idempotencyRepo.Claim(ctx, batch.BatchID)
		if err != nil {
			logger.Errorf("failed to claim batch: %v", err)
			return nil, err
		}
		if !claimed {
			logger.Warn("batch already submitted, skipping")
			return nil, ErrDuplicateBatch
		}
	}

	linkPairings(batch.Orders)

	orders := entity.OrdersToExecute{New: make(map[string][]*entity.OrderRequest)}
	for _, req := range batch.Orders {
		orders.New[req.VenueID] = append(orders.New[req.VenueID], req)
	}

	reports, err := s.router.Execute(ctx, s.venues, orders)
	if err != nil {
		if s.idempotencyRepo != nil && batch.BatchID != "" {
			// The batch never completed; free the key so it can be
			// resubmitted.
			if releaseErr := s.idempotencyRepo.Release(context.WithoutCancel(ctx), batch.BatchID); releaseErr != nil {
				logger.Errorf("failed to release batch claim: %v", releaseErr)
			}
		}
		return nil, err
	}

	s.persistReports(ctx, batch.Orders, reports)

	result := &entity.BatchResult{
		BatchID: batch.BatchID,
		Reports: reports,
	}
	if s.telegramSink != nil {
		result.Summary = s.telegramSink.FlushSummary()
		if result.Summary != "" {
			logger.Info(result.Summary)
		}
	}

	logger.Infof("batch finished with %d terminal reports", len(reports))
	return result, nil
}

// linkPairings attaches a shared pairing to every group of orders with
// the same pair key so each leg can observe its peers' outcome.
func linkPairings(orders []*entity.OrderRequest) {
	pairings := make(map[string]*entity.Pairing)
	for _, req := range orders {
		if req.PairKey == "" || req.Pairing != nil {
			continue
		}
		pairing, ok := pairings[req.PairKey]
		if !ok {
			pairing = entity.NewPairing()
			pairings[req.PairKey] = pairing
		}
		req.Pairing = pairing
	}
}

func (s *Service) persistReports(ctx context.Context, orders []*entity.OrderRequest, reports []*entity.ExecutionReport) {
	if s.reportRepo == nil {
		return
	}

	notes := make(map[string]string, len(orders))
	for _, req := range orders {
		if req.Notes != "" {
			notes[req.VenueID+"/"+req.Symbol] = req.Notes
		}
	}

	for _, report := range reports {
		record := entity.NewExecutionReportRecord(report, notes[report.VenueID+"/"+report.Symbol])
		if err := s.reportRepo.Create(ctx, record); err != nil {
			logrus.WithFields(logrus.Fields{
				"orderID": report.ID,
				"venueID": report.VenueID,
			}).Errorf("failed to persist execution report: %v", err)
		}
	}
}
