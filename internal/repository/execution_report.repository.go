package repository

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/krobus00/order-executor/internal/entity"
)

type ExecutionReportRepository struct {
	db *sqlx.DB
}

func NewExecutionReportRepository(db *sqlx.DB) *ExecutionReportRepository {
	return &ExecutionReportRepository{db: db}
}

func (r *ExecutionReportRepository) Create(ctx context.Context, record *entity.ExecutionReportRecord) error {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert(record.TableName()).
		Columns(
			"id",
			"order_id",
			"venue_id",
			"symbol",
			"status",
			"amount",
			"filled",
			"remaining",
			"average_price",
			"last_price",
			"fill_latency_ms",
			"notes",
			"executed_at",
			"created_at",
		).
		Values(
			record.ID,
			record.OrderID,
			record.VenueID,
			record.Symbol,
			record.Status,
			record.Amount,
			record.Filled,
			record.Remaining,
			record.AveragePrice,
			record.LastPrice,
			record.FillLatencyMs,
			record.Notes,
			record.ExecutedAt,
			record.CreatedAt,
		)

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *ExecutionReportRepository) GetByOrderID(ctx context.Context, venueID, orderID string) (*entity.ExecutionReportRecord, error) {
	var record entity.ExecutionReportRecord
	err := r.db.GetContext(ctx, &record, "SELECT * FROM execution_reports WHERE venue_id = $1 AND order_id = $2", venueID, orderID)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *ExecutionReportRepository) ListRecent(ctx context.Context, venueID string, limit uint64) ([]entity.ExecutionReportRecord, error) {
	if limit == 0 {
		limit = 50
	}

	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select("*").
		From("execution_reports").
		OrderBy("executed_at desc").
		Limit(limit)
	if venueID != "" {
		queryBuilder = queryBuilder.Where(sq.Eq{"venue_id": venueID})
	}

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, err
	}

	var records []entity.ExecutionReportRecord
	err = r.db.SelectContext(ctx, &records, query, args...)
	if err != nil {
		return nil, err
	}

	return records, nil
}
