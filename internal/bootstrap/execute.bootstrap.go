package bootstrap

import (
	"context"
	"errors"
	"os"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/krobus00/order-executor/internal/config"
	"github.com/krobus00/order-executor/internal/entity"
	"github.com/krobus00/order-executor/internal/eventbus"
	"github.com/krobus00/order-executor/internal/executor"
	"github.com/krobus00/order-executor/internal/service/batch"
	"github.com/krobus00/order-executor/internal/service/notifier"
	"github.com/krobus00/order-executor/internal/service/venue"
	"github.com/krobus00/order-executor/internal/util"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type batchFileOrder struct {
	VenueID   string            `json:"venue_id"`
	Symbol    string            `json:"symbol"`
	Side      string            `json:"side"`
	Type      string            `json:"type"`
	Execution string            `json:"execution"`
	Amount    string            `json:"amount"`
	Price     string            `json:"price"`
	PairKey   string            `json:"pair_key"`
	Params    map[string]string `json:"params"`
	Notes     string            `json:"notes"`
}

type batchFile struct {
	BatchID string           `json:"batch_id"`
	Orders  []batchFileOrder `json:"orders"`
}

// StartExecuteBatch runs one batch from a JSON file and exits. Useful
// for manual execution and smoke testing venue credentials without the
// gateway.
func StartExecuteBatch(cmd *cobra.Command, args []string) {
	filePath, _ := cmd.Flags().GetString("file")

	batchReq, err := loadBatchFile(filePath)
	util.ContinueOrFatal(err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	venue.InitBinanceVenue(config.Env.Venues[string(entity.VenueBinance)])

	telegramSink := eventbus.NewTelegramSink(notifier.NewTelegramNotifier(config.Env.Telegram))

	bus := eventbus.NewOrderEventBus()
	bus.RegisterSink(eventbus.NewLogrusSink(nil))
	bus.RegisterSink(telegramSink)

	router := executor.NewOrderRouter(config.Env.Executor, bus)
	batchService := batch.NewService(router, venue.ByID()).WithTelegramSink(telegramSink)

	result, err := batchService.ExecuteBatch(ctx, batchReq)
	util.ContinueOrFatal(err)

	for _, report := range result.Reports {
		logrus.WithFields(logrus.Fields{
			"orderID":       report.ID,
			"venueID":       report.VenueID,
			"symbol":        report.Symbol,
			"status":        report.Status,
			"filled":        report.Filled.String(),
			"fillLatencyMs": report.FillLatencyMs,
		}).Info("terminal report")
	}

	if err := telegramSink.NotifySummary(ctx); err != nil {
		logrus.Warnf("failed to send batch summary: %v", err)
	}
}

func loadBatchFile(filePath string) (*entity.BatchRequest, error) {
	if strings.TrimSpace(filePath) == "" {
		return nil, errors.New("batch file path is required")
	}

	raw, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var file batchFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, err
	}

	orders := make([]*entity.OrderRequest, 0, len(file.Orders))
	for _, item := range file.Orders {
		amount, err := decimal.NewFromString(item.Amount)
		if err != nil {
			return nil, errors.New("invalid amount in batch file")
		}

		var price *decimal.Decimal
		if strings.TrimSpace(item.Price) != "" {
			parsed, err := decimal.NewFromString(item.Price)
			if err != nil {
				return nil, errors.New("invalid price in batch file")
			}
			price = &parsed
		}

		execution := entity.ExecutionType(strings.ToUpper(item.Execution))
		if execution == "" {
			execution = entity.ExecutionTypeMaker
		}
		orderType := entity.OrderType(strings.ToUpper(item.Type))
		if orderType == "" {
			orderType = entity.OrderTypeLimit
			if execution == entity.ExecutionTypeTaker {
				orderType = entity.OrderTypeMarket
			}
		}

		orders = append(orders, &entity.OrderRequest{
			Symbol:    item.Symbol,
			Side:      entity.OrderSide(strings.ToUpper(item.Side)),
			Type:      orderType,
			Amount:    amount,
			Price:     price,
			Execution: execution,
			Params:    item.Params,
			VenueID:   item.VenueID,
			PairKey:   item.PairKey,
			Notes:     item.Notes,
		})
	}

	return &entity.BatchRequest{
		BatchID: file.BatchID,
		Orders:  orders,
	}, nil
}
