package executor

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Strategy controls how aggressively maker orders chase the book.
type Strategy string

const (
	// StrategyFast pegs orders at the top of book for quick fills.
	StrategyFast Strategy = "fast"
	// StrategyBestPrice starts deep in the book and walks toward the
	// top as the order ages.
	StrategyBestPrice Strategy = "best-price"
)

const (
	DefaultOrderTimeout         = 5 * time.Minute
	DefaultStalenessWindow      = 30 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultMaxConcurrentOrders  = 10
)

// Config holds the per-batch execution tuning knobs.
type Config struct {
	Execution              Strategy        `mapstructure:"execution"`
	MaxSpreadPct           decimal.Decimal `mapstructure:"max_spread_pct"`
	MinRepriceThresholdPct decimal.Decimal `mapstructure:"min_reprice_threshold_pct"`
	RepriceOverrideAfter   time.Duration   `mapstructure:"reprice_override_after"`
	Timeout                time.Duration   `mapstructure:"timeout"`
	StalenessWindow        time.Duration   `mapstructure:"staleness_window"`
	MaxReconnectAttempts   int             `mapstructure:"max_reconnect_attempts"`
	MaxConcurrentOrders    int             `mapstructure:"max_concurrent_orders"`
	PreferStreaming        bool            `mapstructure:"prefer_streaming"`
	Leverage               int             `mapstructure:"leverage"`
}

// ApplyDefaults fills the zero values with the documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Execution == "" {
		c.Execution = StrategyBestPrice
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultOrderTimeout
	}
	if c.StalenessWindow <= 0 {
		c.StalenessWindow = DefaultStalenessWindow
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.MaxConcurrentOrders <= 0 {
		c.MaxConcurrentOrders = DefaultMaxConcurrentOrders
	}
}

// Validate rejects configurations that would make execution undefined.
func (c *Config) Validate() error {
	switch c.Execution {
	case StrategyFast, StrategyBestPrice:
	default:
		return fmt.Errorf("unknown execution strategy %q", c.Execution)
	}
	if c.MaxSpreadPct.IsNegative() {
		return fmt.Errorf("max_spread_pct must not be negative")
	}
	if c.MinRepriceThresholdPct.IsNegative() {
		return fmt.Errorf("min_reprice_threshold_pct must not be negative")
	}
	return nil
}
