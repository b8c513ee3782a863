package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Tier is one staking term and its annual rate (fraction, 0.10 = 10%).
type Tier struct {
	DurationDays int             `json:"duration_days"`
	APY          decimal.Decimal `json:"apy"`
}

// Tiers maps duration in days to APY.
type Tiers map[int]decimal.Decimal

// DefaultTiers returns the standard table: 30 days 10%, 90 days 15%,
// 180 days 20%.
func DefaultTiers() Tiers {
	return Tiers{
		30:  decimal.RequireFromString("0.10"),
		90:  decimal.RequireFromString("0.15"),
		180: decimal.RequireFromString("0.20"),
	}
}

// APY returns the rate for a duration.
func (t Tiers) APY(durationDays int) (decimal.Decimal, bool) {
	apy, ok := t[durationDays]
	return apy, ok
}

// List returns the tiers ordered by duration.
func (t Tiers) List() []Tier {
	out := make([]Tier, 0, len(t))
	for days, apy := range t {
		out = append(out, Tier{DurationDays: days, APY: apy})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DurationDays < out[j].DurationDays })
	return out
}

// Tiers returns the staking tier table, shortest term first.
func (l *Ledger) Tiers() []Tier {
	return l.tiers.List()
}
