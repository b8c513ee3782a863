package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/solstake/ledger-engine/internal/ledger"
	"github.com/solstake/ledger-engine/internal/model"
)

func TestGetUserStats_NoTrades(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1")

	stats, err := env.ledger.GetUserStats(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetUserStats: %v", err)
	}
	if stats.TotalTrades != 0 || !stats.SuccessRate.IsZero() || !stats.Volume.IsZero() {
		t.Errorf("expected empty stats, got %+v", stats)
	}
}

func TestGetUserStats_SuccessRate(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		q := env.quote(t, 1)
		env.quoter.execErr = nil
		if i == 0 {
			env.quoter.execErr = errors.New("failed")
		}
		if _, err := env.ledger.ExecuteTrade(ctx, "u1", q); err != nil {
			t.Fatalf("ExecuteTrade: %v", err)
		}
	}

	stats, err := env.ledger.GetUserStats(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUserStats: %v", err)
	}
	if !stats.SuccessRate.Equal(d(66.67)) {
		t.Errorf("expected success rate 66.67, got %s", stats.SuccessRate)
	}
	if !stats.Volume.Equal(d(3)) {
		t.Errorf("expected volume 3, got %s", stats.Volume)
	}
}

func TestGetUserStats_UnknownUser(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.ledger.GetUserStats(context.Background(), "ghost")
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetLeaderboard_TopThree(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	volumes := []int64{50, 10, 90, 30, 70}
	for i, v := range volumes {
		id := fmt.Sprintf("u%d", i)
		env.seedUser(t, id)
		err := env.store.IncrementUserStats(ctx, id, model.StatsDelta{
			TotalTrades:      2,
			SuccessfulTrades: 1,
			FailedTrades:     1,
			Volume:           decimal.NewFromInt(v),
		})
		if err != nil {
			t.Fatalf("IncrementUserStats: %v", err)
		}
	}

	board, err := env.ledger.GetLeaderboard(ctx, 3)
	if err != nil {
		t.Fatalf("GetLeaderboard: %v", err)
	}
	if len(board) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(board))
	}
	want := []int64{90, 70, 50}
	for i, w := range want {
		if !board[i].Volume.Equal(decimal.NewFromInt(w)) {
			t.Errorf("rank %d: expected volume %d, got %s", i+1, w, board[i].Volume)
		}
		if board[i].Rank != i+1 {
			t.Errorf("expected rank %d, got %d", i+1, board[i].Rank)
		}
		if !board[i].SuccessRate.Equal(d(50)) {
			t.Errorf("expected success rate 50, got %s", board[i].SuccessRate)
		}
	}
	if board[0].UserID != "u2" || board[0].Username != "name-u2" {
		t.Errorf("unexpected leader %+v", board[0])
	}

	all, _ := env.ledger.GetLeaderboard(ctx, 0)
	if len(all) != 5 {
		t.Errorf("default limit should include all 5 users, got %d", len(all))
	}
}

func TestFoldAggregates(t *testing.T) {
	rewards := d(1.5)
	trades := []model.Trade{
		{AmountIn: d(10), AmountOut: d(12), Status: model.TradeCompleted},
		{AmountIn: d(4), Status: model.TradeFailed},
		{AmountIn: d(99), Status: model.TradePending},
	}
	stakes := []model.Stake{
		{Amount: d(100), Status: model.StakeActive},
		{Amount: d(40), Status: model.StakeEnded, Rewards: &rewards},
	}

	agg := ledger.FoldAggregates(trades, stakes)

	if !agg.TotalTradeVolume.Equal(d(14)) {
		t.Errorf("expected volume 14, got %s", agg.TotalTradeVolume)
	}
	if agg.Stats.TotalTrades != 2 || agg.Stats.SuccessfulTrades != 1 || agg.Stats.FailedTrades != 1 {
		t.Errorf("unexpected counts %+v", agg.Stats)
	}
	if !agg.Stats.ProfitLoss.Equal(d(2)) {
		t.Errorf("expected P&L 2, got %s", agg.Stats.ProfitLoss)
	}
	if !agg.Stats.TotalStaked.Equal(d(100)) {
		t.Errorf("expected staked 100, got %s", agg.Stats.TotalStaked)
	}
	if !agg.Stats.TotalRewards.Equal(d(1.5)) {
		t.Errorf("expected rewards 1.5, got %s", agg.Stats.TotalRewards)
	}
}
