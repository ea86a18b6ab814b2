package executor

import (
	"context"

	"github.com/krobus00/order-executor/internal/entity"
)

// OrderExecutor runs one order to a terminal outcome. Implementations
// return an ExecutionReport only for terminal statuses; everything else
// surfaces as an error.
type OrderExecutor interface {
	ExecuteMakerOrder(ctx context.Context, venue entity.Venue, req *entity.OrderRequest) (*entity.ExecutionReport, error)
	ExecuteTakerOrder(ctx context.Context, venue entity.Venue, req *entity.OrderRequest) (*entity.ExecutionReport, error)
}
