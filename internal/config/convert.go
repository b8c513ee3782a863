package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/solstake/ledger-engine/internal/ledger"
)

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// StakingTiers parses the tier table.
func (c *Config) StakingTiers() (ledger.Tiers, error) {
	tiers := make(ledger.Tiers, len(c.Staking.Tiers))
	for _, t := range c.Staking.Tiers {
		if t.DurationDays <= 0 {
			return nil, fmt.Errorf("config: tier duration %d must be positive", t.DurationDays)
		}
		apy, err := decimal.NewFromString(t.APY)
		if err != nil {
			return nil, fmt.Errorf("config: tier %d apy %q: %w", t.DurationDays, t.APY, err)
		}
		if apy.IsNegative() || apy.GreaterThan(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("config: tier %d apy %s must be a fraction in [0, 1]", t.DurationDays, apy)
		}
		if _, dup := tiers[t.DurationDays]; dup {
			return nil, fmt.Errorf("config: duplicate tier %d days", t.DurationDays)
		}
		tiers[t.DurationDays] = apy
	}
	return tiers, nil
}

// Limits holds parsed exposure caps.
type Limits struct {
	MaxPerStake  decimal.Decimal
	MaxPrincipal decimal.Decimal
	MaxPerTrade  decimal.Decimal
}

// LimitAmounts parses the exposure caps.
func (c *Config) LimitAmounts() (Limits, error) {
	var out Limits
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"limits.max_per_stake", c.Limits.MaxPerStake, &out.MaxPerStake},
		{"limits.max_principal", c.Limits.MaxPrincipal, &out.MaxPrincipal},
		{"limits.max_per_trade", c.Limits.MaxPerTrade, &out.MaxPerTrade},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return Limits{}, fmt.Errorf("config: %s %q: %w", f.name, f.raw, err)
		}
		if v.IsNegative() {
			return Limits{}, fmt.Errorf("config: %s must not be negative", f.name)
		}
		*f.dst = v
	}
	return out, nil
}
