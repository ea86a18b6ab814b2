package http

import (
	"testing"
	"time"

	"github.com/krobus00/order-executor/internal/config"
	"github.com/krobus00/order-executor/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withAPIKeys(t *testing.T, keys []config.APIKeyConfig) {
	t.Helper()
	previous := config.Env
	config.Env = &config.EnvConfig{APIKeys: keys}
	t.Cleanup(func() { config.Env = previous })
}

func TestValidateAPIKey(t *testing.T) {
	withAPIKeys(t, []config.APIKeyConfig{
		{Name: "ops", Key: "valid-key", Active: true},
		{Name: "retired", Key: "inactive-key", Active: false},
		{Name: "short-lived", Key: "expired-key", Active: true, ExpiredAt: "2020-01-01"},
		{Name: "dated", Key: "dated-key", Active: true, ExpiredAt: time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339)},
	})

	t.Run("missing", func(t *testing.T) {
		assert.ErrorIs(t, validateAPIKey(""), errAPIKeyMissing)
		assert.ErrorIs(t, validateAPIKey("   "), errAPIKeyMissing)
	})

	t.Run("unknown", func(t *testing.T) {
		assert.ErrorIs(t, validateAPIKey("nope"), errAPIKeyInvalid)
	})

	t.Run("valid without expiry", func(t *testing.T) {
		assert.NoError(t, validateAPIKey("valid-key"))
	})

	t.Run("inactive", func(t *testing.T) {
		assert.ErrorIs(t, validateAPIKey("inactive-key"), errAPIKeyInactive)
	})

	t.Run("expired", func(t *testing.T) {
		assert.ErrorIs(t, validateAPIKey("expired-key"), errAPIKeyExpired)
	})

	t.Run("valid with future expiry", func(t *testing.T) {
		assert.NoError(t, validateAPIKey("dated-key"))
	})
}

func TestValidateAPIKeyNoConfig(t *testing.T) {
	withAPIKeys(t, nil)
	assert.ErrorIs(t, validateAPIKey("anything"), errAPIKeyInvalid)
}

func TestMapHTTPRequestToBatch(t *testing.T) {
	t.Run("defaults to maker limit", func(t *testing.T) {
		req := &ExecuteBatchRequest{
			BatchID: " b1 ",
			Orders: []BatchOrderRequest{
				{VenueID: "binance", Symbol: "BTCUSDT", Side: "buy", Amount: "0.5"},
			},
		}

		batchReq, err := mapHTTPRequestToBatch(req)

		require.NoError(t, err)
		assert.Equal(t, "b1", batchReq.BatchID)
		require.Len(t, batchReq.Orders, 1)
		order := batchReq.Orders[0]
		assert.Equal(t, entity.OrderSideBuy, order.Side)
		assert.Equal(t, entity.OrderTypeLimit, order.Type)
		assert.Equal(t, entity.ExecutionTypeMaker, order.Execution)
		assert.Equal(t, "0.5", order.Amount.String())
	})

	t.Run("taker defaults to market", func(t *testing.T) {
		req := &ExecuteBatchRequest{
			Orders: []BatchOrderRequest{
				{VenueID: "binance", Symbol: "BTCUSDT", Side: "sell", Execution: "taker", Amount: "1"},
			},
		}

		batchReq, err := mapHTTPRequestToBatch(req)

		require.NoError(t, err)
		assert.Equal(t, entity.OrderTypeMarket, batchReq.Orders[0].Type)
		assert.Equal(t, entity.ExecutionTypeTaker, batchReq.Orders[0].Execution)
	})

	t.Run("parses optional price", func(t *testing.T) {
		price := "42000.5"
		req := &ExecuteBatchRequest{
			Orders: []BatchOrderRequest{
				{VenueID: "binance", Symbol: "BTCUSDT", Side: "buy", Amount: "1", Price: &price, PairKey: "hedge-1"},
			},
		}

		batchReq, err := mapHTTPRequestToBatch(req)

		require.NoError(t, err)
		require.NotNil(t, batchReq.Orders[0].Price)
		assert.Equal(t, "42000.5", batchReq.Orders[0].Price.String())
		assert.Equal(t, "hedge-1", batchReq.Orders[0].PairKey)
	})

	t.Run("missing fields", func(t *testing.T) {
		req := &ExecuteBatchRequest{
			Orders: []BatchOrderRequest{{VenueID: "binance", Symbol: "BTCUSDT", Side: "buy"}},
		}

		_, err := mapHTTPRequestToBatch(req)
		assert.Error(t, err)
	})

	t.Run("invalid amount", func(t *testing.T) {
		req := &ExecuteBatchRequest{
			Orders: []BatchOrderRequest{{VenueID: "binance", Symbol: "BTCUSDT", Side: "buy", Amount: "lots"}},
		}

		_, err := mapHTTPRequestToBatch(req)
		assert.Error(t, err)
	})
}

func TestParseExpiry(t *testing.T) {
	t.Run("nil has no expiry", func(t *testing.T) {
		_, hasExpiry, err := parseExpiry(nil)
		require.NoError(t, err)
		assert.False(t, hasExpiry)
	})

	t.Run("rfc3339", func(t *testing.T) {
		at, hasExpiry, err := parseExpiry("2026-01-02T15:04:05Z")
		require.NoError(t, err)
		assert.True(t, hasExpiry)
		assert.Equal(t, 2026, at.Year())
	})

	t.Run("date only expires end of day", func(t *testing.T) {
		at, hasExpiry, err := parseExpiry("2026-01-02")
		require.NoError(t, err)
		assert.True(t, hasExpiry)
		assert.Equal(t, 3, at.Day())
	})

	t.Run("garbage", func(t *testing.T) {
		_, _, err := parseExpiry("not a date")
		assert.Error(t, err)
	})

	t.Run("unsupported type", func(t *testing.T) {
		_, _, err := parseExpiry(42)
		assert.Error(t, err)
	})
}
