package http

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/krobus00/order-executor/internal/config"
	"github.com/krobus00/order-executor/internal/entity"
	"github.com/krobus00/order-executor/internal/service/batch"
	"github.com/shopspring/decimal"
)

var (
	errAPIKeyMissing  = errors.New("api key is required")
	errAPIKeyInvalid  = errors.New("invalid api key")
	errAPIKeyInactive = errors.New("api key is inactive")
	errAPIKeyExpired  = errors.New("api key is expired")
)

type ExecuteBatchRequest struct {
	ApiKey  string              `json:"api_key"`
	BatchID string              `json:"batch_id"`
	Orders  []BatchOrderRequest `json:"orders"`
}

type BatchOrderRequest struct {
	VenueID   string            `json:"venue_id"`
	Symbol    string            `json:"symbol"`
	Side      string            `json:"side"`
	Type      string            `json:"type"`
	Execution string            `json:"execution"`
	Amount    string            `json:"amount"`
	Price     *string           `json:"price,omitempty"`
	PairKey   string            `json:"pair_key,omitempty"`
	Params    map[string]string `json:"params,omitempty"`
	Notes     string            `json:"notes,omitempty"`
}

type ExecuteBatchResponse struct {
	BatchID string                    `json:"batch_id"`
	Summary string                    `json:"summary,omitempty"`
	Reports []ExecutionReportResponse `json:"reports"`
}

type ExecutionReportResponse struct {
	OrderID       string  `json:"order_id"`
	VenueID       string  `json:"venue_id"`
	Symbol        string  `json:"symbol"`
	Status        string  `json:"status"`
	Amount        string  `json:"amount"`
	Filled        string  `json:"filled"`
	Remaining     string  `json:"remaining"`
	AveragePrice  *string `json:"average_price,omitempty"`
	LastPrice     *string `json:"last_price,omitempty"`
	FillLatencyMs int64   `json:"fill_latency_ms"`
	Timestamp     int64   `json:"timestamp"`
}

type Handler struct {
	batchService *batch.Service
}

func NewExecutorHTTPHandler(batchService *batch.Service) *Handler {
	return &Handler{batchService: batchService}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/executor/v1/batches", h.ExecuteBatch)
}

func (h *Handler) ExecuteBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	defer r.Body.Close()

	var req ExecuteBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json body"})
		return
	}

	if err := validateAPIKey(resolveAPIKey(r, &req)); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": err.Error()})
		return
	}

	if len(req.Orders) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "orders are required"})
		return
	}

	batchReq, err := mapHTTPRequestToBatch(&req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	result, err := h.batchService.ExecuteBatch(r.Context(), batchReq)
	if err != nil {
		switch {
		case errors.Is(err, batch.ErrDuplicateBatch):
			writeJSON(w, http.StatusConflict, map[string]any{"error": "duplicate batch"})
		case errors.Is(err, batch.ErrEmptyBatch):
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "batch has no orders"})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
		}
		return
	}

	writeJSON(w, http.StatusOK, mapBatchResultToHTTPResponse(result))
}

func mapHTTPRequestToBatch(req *ExecuteBatchRequest) (*entity.BatchRequest, error) {
	orders := make([]*entity.OrderRequest, 0, len(req.Orders))
	for _, item := range req.Orders {
		if strings.TrimSpace(item.VenueID) == "" || strings.TrimSpace(item.Symbol) == "" || strings.TrimSpace(item.Side) == "" || strings.TrimSpace(item.Amount) == "" {
			return nil, errors.New("missing required order fields")
		}

		amount, err := decimal.NewFromString(item.Amount)
		if err != nil {
			return nil, errors.New("invalid amount")
		}

		var price *decimal.Decimal
		if item.Price != nil && strings.TrimSpace(*item.Price) != "" {
			parsed, err := decimal.NewFromString(*item.Price)
			if err != nil {
				return nil, errors.New("invalid price")
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
		BatchID: strings.TrimSpace(req.BatchID),
		Orders:  orders,
	}, nil
}

func mapBatchResultToHTTPResponse(result *entity.BatchResult) *ExecuteBatchResponse {
	reports := make([]ExecutionReportResponse, 0, len(result.Reports))
	for _, report := range result.Reports {
		var averagePrice *string
		if report.AveragePrice != nil {
			v := report.AveragePrice.String()
			averagePrice = &v
		}

		var lastPrice *string
		if report.LastPrice != nil {
			v := report.LastPrice.String()
			lastPrice = &v
		}

		reports = append(reports, ExecutionReportResponse{
			OrderID:       report.ID,
			VenueID:       report.VenueID,
			Symbol:        report.Symbol,
			Status:        string(report.Status),
			Amount:        report.Amount.String(),
			Filled:        report.Filled.String(),
			Remaining:     report.Remaining.String(),
			AveragePrice:  averagePrice,
			LastPrice:     lastPrice,
			FillLatencyMs: report.FillLatencyMs,
			Timestamp:     report.Timestamp,
		})
	}

	return &ExecuteBatchResponse{
		BatchID: result.BatchID,
		Summary: result.Summary,
		Reports: reports,
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func resolveAPIKey(r *http.Request, req *ExecuteBatchRequest) string {
	if headerKey := strings.TrimSpace(r.Header.Get("X-API-Key")); headerKey != "" {
		return headerKey
	}

	return strings.TrimSpace(req.ApiKey)
}

func validateAPIKey(rawAPIKey string) error {
	apiKey := strings.TrimSpace(rawAPIKey)
	if apiKey == "" {
		return errAPIKeyMissing
	}

	if config.Env == nil || len(config.Env.APIKeys) == 0 {
		return errAPIKeyInvalid
	}

	now := time.Now().UTC()
	for _, candidate := range config.Env.APIKeys {
		storedKey := strings.TrimSpace(candidate.Key)
		if storedKey == "" {
			continue
		}

		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(storedKey)) != 1 {
			continue
		}

		if !candidate.Active {
			return errAPIKeyInactive
		}

		expiredAt, hasExpiry, err := parseExpiry(candidate.ExpiredAt)
		if err != nil {
			return errAPIKeyInvalid
		}
		if !hasExpiry {
			return nil
		}

		if !now.Before(expiredAt) {
			return errAPIKeyExpired
		}

		return nil
	}

	return errAPIKeyInvalid
}

func parseExpiry(value any) (time.Time, bool, error) {
	if value == nil {
		return time.Time{}, false, nil
	}

	switch v := value.(type) {
	case time.Time:
		if v.IsZero() {
			return time.Time{}, false, nil
		}
		return v.UTC(), true, nil
	case string:
		raw := strings.TrimSpace(v)
		if raw == "" {
			return time.Time{}, false, nil
		}

		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			return parsed.UTC(), true, nil
		}

		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, false, err
		}

		return parsed.UTC().Add(24 * time.Hour), true, nil
	default:
		return time.Time{}, false, errors.New("unsupported expiry type")
	}
}
