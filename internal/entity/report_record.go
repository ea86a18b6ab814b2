package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
)

// ExecutionReportRecord is the persisted form of an ExecutionReport.
type ExecutionReportRecord struct {
	ID            string           `db:"id"`
	OrderID       string           `db:"order_id"`
	VenueID       string           `db:"venue_id"`
	Symbol        string           `db:"symbol"`
	Status        string           `db:"status"`
	Amount        decimal.Decimal  `db:"amount"`
	Filled        decimal.Decimal  `db:"filled"`
	Remaining     decimal.Decimal  `db:"remaining"`
	AveragePrice  *decimal.Decimal `db:"average_price"`
	LastPrice     *decimal.Decimal `db:"last_price"`
	FillLatencyMs int64            `db:"fill_latency_ms"`
	Notes         null.String      `db:"notes"`
	ExecutedAt    time.Time        `db:"executed_at"`
	CreatedAt     time.Time        `db:"created_at"`
}

func (ExecutionReportRecord) TableName() string {
	return "execution_reports"
}

func NewExecutionReportRecord(report *ExecutionReport, notes string) *ExecutionReportRecord {
	now := time.Now().UTC()
	return &ExecutionReportRecord{
		ID:            uuid.NewString(),
		OrderID:       report.ID,
		VenueID:       report.VenueID,
		Symbol:        report.Symbol,
		Status:        string(report.Status),
		Amount:        report.Amount,
		Filled:        report.Filled,
		Remaining:     report.Remaining,
		AveragePrice:  report.AveragePrice,
		LastPrice:     report.LastPrice,
		FillLatencyMs: report.FillLatencyMs,
		Notes:         null.NewString(notes, notes != ""),
		ExecutedAt:    time.UnixMilli(report.Timestamp).UTC(),
		CreatedAt:     now,
	}
}
