package executor

import (
	"time"

	"github.com/shopspring/decimal"
)

// RepricePolicy decides whether a resting maker order should be moved
// to a fresher price.
type RepricePolicy interface {
	// ShouldReprice reports whether moving from currentPrice to
	// targetPrice is worth a cancel/replace after the order has been
	// resting for elapsed.
	ShouldReprice(currentPrice, targetPrice decimal.Decimal, elapsed time.Duration) bool
}

// AlwaysRepricePolicy reprices on every price change.
type AlwaysRepricePolicy struct{}

func (AlwaysRepricePolicy) ShouldReprice(currentPrice, targetPrice decimal.Decimal, _ time.Duration) bool {
	return !currentPrice.Equal(targetPrice)
}

// MinChangeRepricePolicy reprices only when the relative price change
// exceeds a threshold, to avoid churning fees on noise.
type MinChangeRepricePolicy struct {
	ThresholdPct decimal.Decimal
}

func (p MinChangeRepricePolicy) ShouldReprice(currentPrice, targetPrice decimal.Decimal, _ time.Duration) bool {
	if currentPrice.IsZero() {
		return !targetPrice.Equal(currentPrice)
	}
	change := targetPrice.Sub(currentPrice).Abs().Div(currentPrice)
	return change.GreaterThanOrEqual(p.ThresholdPct)
}

// ElapsedOverrideRepricePolicy wraps another policy and forces a
// reprice once the order has been resting longer than After,
// regardless of what the inner policy says.
type ElapsedOverrideRepricePolicy struct {
	After time.Duration
	Inner RepricePolicy
}

func (p ElapsedOverrideRepricePolicy) ShouldReprice(currentPrice, targetPrice decimal.Decimal, elapsed time.Duration) bool {
	if elapsed >= p.After && !currentPrice.Equal(targetPrice) {
		return true
	}
	return p.Inner.ShouldReprice(currentPrice, targetPrice, elapsed)
}

// CompositeRepricePolicy AND-combines several policies: a reprice goes
// through only when every constituent agrees.
type CompositeRepricePolicy struct {
	Policies []RepricePolicy
}

func NewCompositeRepricePolicy(policies ...RepricePolicy) CompositeRepricePolicy {
	return CompositeRepricePolicy{Policies: policies}
}

func (p CompositeRepricePolicy) ShouldReprice(currentPrice, targetPrice decimal.Decimal, elapsed time.Duration) bool {
	for _, policy := range p.Policies {
		if !policy.ShouldReprice(currentPrice, targetPrice, elapsed) {
			return false
		}
	}
	return true
}

// NewRepricePolicy builds the policy for a config: a minimum-change
// filter when a threshold is set, optionally wrapped with an elapsed
// override, and a plain always-reprice policy otherwise.
func NewRepricePolicy(cfg Config) RepricePolicy {
	var policy RepricePolicy = AlwaysRepricePolicy{}
	if cfg.MinRepriceThresholdPct.IsPositive() {
		policy = MinChangeRepricePolicy{ThresholdPct: cfg.MinRepriceThresholdPct}
	}
	if cfg.RepriceOverrideAfter > 0 {
		policy = ElapsedOverrideRepricePolicy{After: cfg.RepriceOverrideAfter, Inner: policy}
	}
	return policy
}
