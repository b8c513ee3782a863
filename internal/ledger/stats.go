package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/solstake/ledger-engine/internal/model"
)

const defaultLeaderboardLimit = 10

var hundred = decimal.NewFromInt(100)

// UserStats is the read-only stats projection of one user.
type UserStats struct {
	Volume       decimal.Decimal `json:"volume"`
	TotalTrades  int64           `json:"total_trades"`
	SuccessRate  decimal.Decimal `json:"success_rate"`
	ProfitLoss   decimal.Decimal `json:"profit_loss"`
	TotalStaked  decimal.Decimal `json:"total_staked"`
	TotalRewards decimal.Decimal `json:"total_rewards"`
}

// LeaderboardEntry is one ranked user.
type LeaderboardEntry struct {
	Rank        int             `json:"rank"`
	UserID      string          `json:"user_id"`
	Username    string          `json:"username"`
	Volume      decimal.Decimal `json:"volume"`
	Trades      int64           `json:"trades"`
	SuccessRate decimal.Decimal `json:"success_rate"`
}

// GetUserStats returns the user's aggregates. SuccessRate is a percentage
// and zero when the user has no trades.
func (l *Ledger) GetUserStats(ctx context.Context, userID string) (*UserStats, error) {
	u, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return nil, storeErr(err, "load user")
	}
	return &UserStats{
		Volume:       u.TotalTradeVolume,
		TotalTrades:  u.Stats.TotalTrades,
		SuccessRate:  successRate(u.Stats.SuccessfulTrades, u.Stats.TotalTrades),
		ProfitLoss:   u.Stats.ProfitLoss,
		TotalStaked:  u.Stats.TotalStaked,
		TotalRewards: u.Stats.TotalRewards,
	}, nil
}

// GetLeaderboard ranks users by trade volume, highest first. limit <= 0
// means the default of 10.
func (l *Ledger) GetLeaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = defaultLeaderboardLimit
	}
	users, err := l.store.TopUsersByVolume(ctx, limit)
	if err != nil {
		return nil, storeErr(err, "leaderboard")
	}

	entries := make([]LeaderboardEntry, 0, len(users))
	for i, u := range users {
		entries = append(entries, LeaderboardEntry{
			Rank:        i + 1,
			UserID:      u.ID,
			Username:    u.Username,
			Volume:      u.TotalTradeVolume,
			Trades:      u.Stats.TotalTrades,
			SuccessRate: successRate(u.Stats.SuccessfulTrades, u.Stats.TotalTrades),
		})
	}
	return entries, nil
}

func successRate(successful, total int64) decimal.Decimal {
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(successful).Mul(hundred).Div(decimal.NewFromInt(total)).Round(2)
}

// The deltas below are the only way user aggregates change. Each terminal
// transition maps to exactly one delta, applied by the store together with
// the transition.

// tradeSettledDelta counts the trade, adds its input to volume whatever the
// outcome, and books out-in as profit on success.
func tradeSettledDelta(amountIn decimal.Decimal, s model.TradeSettlement) model.StatsDelta {
	d := model.StatsDelta{TotalTrades: 1, Volume: amountIn}
	if s.Status == model.TradeCompleted {
		d.SuccessfulTrades = 1
		d.ProfitLoss = s.AmountOut.Sub(amountIn)
	} else {
		d.FailedTrades = 1
	}
	return d
}

func stakeOpenedDelta(amount decimal.Decimal) model.StatsDelta {
	return model.StatsDelta{Staked: amount}
}

func stakeEndedDelta(amount, rewards decimal.Decimal) model.StatsDelta {
	return model.StatsDelta{Staked: amount.Neg(), Rewards: rewards}
}

// FoldAggregates recomputes a user's aggregates from their trades and
// stakes. Pending trades contribute nothing.
func FoldAggregates(trades []model.Trade, stakes []model.Stake) model.Aggregates {
	var agg model.Aggregates
	for _, t := range trades {
		if t.Status == model.TradePending {
			continue
		}
		d := tradeSettledDelta(t.AmountIn, model.TradeSettlement{Status: t.Status, AmountOut: t.AmountOut})
		agg.TotalTradeVolume = agg.TotalTradeVolume.Add(d.Volume)
		agg.Stats.TotalTrades += d.TotalTrades
		agg.Stats.SuccessfulTrades += d.SuccessfulTrades
		agg.Stats.FailedTrades += d.FailedTrades
		agg.Stats.ProfitLoss = agg.Stats.ProfitLoss.Add(d.ProfitLoss)
	}
	for _, s := range stakes {
		switch s.Status {
		case model.StakeActive:
			agg.Stats.TotalStaked = agg.Stats.TotalStaked.Add(s.Amount)
		default:
			if s.Rewards != nil {
				agg.Stats.TotalRewards = agg.Stats.TotalRewards.Add(*s.Rewards)
			}
		}
	}
	return agg
}
