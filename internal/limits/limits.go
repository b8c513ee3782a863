// Package limits enforces per-user exposure caps on new stakes and trades.
//
// A zero limit disables that check. A nil *Limiter allows everything.
package limits

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrStakeLimitExceeded is returned when a single stake is larger than
	// the per-stake maximum.
	ErrStakeLimitExceeded = errors.New("limits: per-stake limit exceeded")

	// ErrPrincipalLimitExceeded is returned when a stake would push the
	// user's total active principal beyond the per-user maximum.
	ErrPrincipalLimitExceeded = errors.New("limits: user principal limit exceeded")

	// ErrTradeLimitExceeded is returned when a trade's input amount is
	// larger than the per-trade maximum.
	ErrTradeLimitExceeded = errors.New("limits: per-trade limit exceeded")
)

// Limiter holds the configured caps.
type Limiter struct {
	// MaxPerStake is the largest principal a single stake may lock.
	MaxPerStake decimal.Decimal

	// MaxPrincipal is the largest total active principal one user may hold
	// across all of their stakes.
	MaxPrincipal decimal.Decimal

	// MaxPerTrade is the largest input amount of a single trade.
	MaxPerTrade decimal.Decimal
}

// New creates a limiter with the given caps.
func New(maxPerStake, maxPrincipal, maxPerTrade decimal.Decimal) *Limiter {
	return &Limiter{
		MaxPerStake:  maxPerStake,
		MaxPrincipal: maxPrincipal,
		MaxPerTrade:  maxPerTrade,
	}
}

// CheckStake validates a new stake of amount against the user's current
// active principal.
func (l *Limiter) CheckStake(amount, activePrincipal decimal.Decimal) error {
	if l == nil {
		return nil
	}

	// 1. Per-stake limit.
	if l.MaxPerStake.IsPositive() && amount.GreaterThan(l.MaxPerStake) {
		return ErrStakeLimitExceeded
	}

	// 2. Aggregate principal: existing active stakes plus this one.
	if l.MaxPrincipal.IsPositive() && activePrincipal.Add(amount).GreaterThan(l.MaxPrincipal) {
		return ErrPrincipalLimitExceeded
	}

	return nil
}

// CheckTrade validates a trade's input amount.
func (l *Limiter) CheckTrade(amountIn decimal.Decimal) error {
	if l == nil {
		return nil
	}
	if l.MaxPerTrade.IsPositive() && amountIn.GreaterThan(l.MaxPerTrade) {
		return ErrTradeLimitExceeded
	}
	return nil
}
