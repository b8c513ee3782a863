package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solstake/ledger-engine/internal/model"
	"github.com/solstake/ledger-engine/internal/store"
)

func seed(t *testing.T, ms *store.MemoryStore) {
	t.Helper()
	ctx := context.Background()

	for _, id := range []string{"u1", "u2"} {
		require.NoError(t, ms.CreateUser(ctx, &model.User{ID: id, TelegramID: "tg-" + id}))
	}

	// u1: one completed trade and one active stake, recorded with their deltas.
	require.NoError(t, ms.CreateTrade(ctx, &model.Trade{ID: "t1", UserID: "u1", AmountIn: decimal.NewFromInt(10), Status: model.TradePending}))
	_, err := ms.SettleTrade(ctx, "t1", model.TradeSettlement{Status: model.TradeCompleted, AmountOut: decimal.NewFromInt(12)},
		model.StatsDelta{TotalTrades: 1, SuccessfulTrades: 1, Volume: decimal.NewFromInt(10), ProfitLoss: decimal.NewFromInt(2)})
	require.NoError(t, err)
	require.NoError(t, ms.CreateStake(ctx, &model.Stake{ID: "s1", UserID: "u1", Amount: decimal.NewFromInt(50), Status: model.StakeActive},
		model.StatsDelta{Staked: decimal.NewFromInt(50)}))
}

func TestRun_NoDrift(t *testing.T) {
	ms := store.NewMemoryStore()
	seed(t, ms)

	rep, err := New(ms, true).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Report{Users: 2}, rep)
}

func TestRun_DetectsWithoutRepair(t *testing.T) {
	ms := store.NewMemoryStore()
	seed(t, ms)
	ctx := context.Background()

	// A lost increment: the stake exists but TotalStaked does not show it.
	require.NoError(t, ms.IncrementUserStats(ctx, "u1", model.StatsDelta{Staked: decimal.NewFromInt(-50)}))

	rep, err := New(ms, false).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Drifted)
	assert.Equal(t, 0, rep.Repaired)

	u, err := ms.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, u.Stats.TotalStaked.IsZero(), "detect-only pass must not write")
}

func TestRun_Repairs(t *testing.T) {
	ms := store.NewMemoryStore()
	seed(t, ms)
	ctx := context.Background()

	require.NoError(t, ms.IncrementUserStats(ctx, "u1", model.StatsDelta{TotalTrades: 3, Volume: decimal.NewFromInt(7)}))

	rep, err := New(ms, true).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Drifted)
	assert.Equal(t, 1, rep.Repaired)

	u, err := ms.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, u.TotalTradeVolume.Equal(decimal.NewFromInt(10)), "volume %s", u.TotalTradeVolume)
	assert.Equal(t, int64(1), u.Stats.TotalTrades)
	assert.True(t, u.Stats.TotalStaked.Equal(decimal.NewFromInt(50)))
	assert.True(t, u.Stats.ProfitLoss.Equal(decimal.NewFromInt(2)))

	again, err := New(ms, true).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Drifted)
}

// settleDuringReset lands a trade settlement between the reconciler's
// reads and its reset.
type settleDuringReset struct {
	*store.MemoryStore
	t *testing.T
}

func (s settleDuringReset) ResetUserAggregates(ctx context.Context, id string, expected, agg model.Aggregates) error {
	_, err := s.SettleTrade(ctx, "t2", model.TradeSettlement{Status: model.TradeCompleted, AmountOut: decimal.NewFromInt(6)},
		model.StatsDelta{TotalTrades: 1, SuccessfulTrades: 1, Volume: decimal.NewFromInt(5), ProfitLoss: decimal.NewFromInt(1)})
	require.NoError(s.t, err)
	return s.MemoryStore.ResetUserAggregates(ctx, id, expected, agg)
}

func TestRun_RepairYieldsToConcurrentSettlement(t *testing.T) {
	ms := store.NewMemoryStore()
	seed(t, ms)
	ctx := context.Background()

	require.NoError(t, ms.CreateTrade(ctx, &model.Trade{ID: "t2", UserID: "u1", AmountIn: decimal.NewFromInt(5), Status: model.TradePending}))
	require.NoError(t, ms.IncrementUserStats(ctx, "u1", model.StatsDelta{Staked: decimal.NewFromInt(-50)}))

	rep, err := New(settleDuringReset{MemoryStore: ms, t: t}, true).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Drifted)
	assert.Equal(t, 0, rep.Repaired)
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, 0, rep.Failed)

	u, err := ms.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), u.Stats.TotalTrades, "settlement increment must survive")
	assert.True(t, u.TotalTradeVolume.Equal(decimal.NewFromInt(15)), "volume %s", u.TotalTradeVolume)

	// The next pass sees a stable snapshot and repairs the stake drift.
	again, err := New(ms, true).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Repaired)

	u, err = ms.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), u.Stats.TotalTrades)
	assert.True(t, u.TotalTradeVolume.Equal(decimal.NewFromInt(15)))
	assert.True(t, u.Stats.TotalStaked.Equal(decimal.NewFromInt(50)))
	assert.True(t, u.Stats.ProfitLoss.Equal(decimal.NewFromInt(3)))
}

func TestRun_GraceWindowDefersRepair(t *testing.T) {
	ms := store.NewMemoryStore()
	seed(t, ms)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	// A settled trade whose paired increment has not landed yet.
	require.NoError(t, ms.CreateTrade(ctx, &model.Trade{ID: "t2", UserID: "u1", AmountIn: decimal.NewFromInt(5), Status: model.TradePending}))
	_, err := ms.SettleTrade(ctx, "t2", model.TradeSettlement{Status: model.TradeCompleted, AmountOut: decimal.NewFromInt(6), SettledAt: now.Add(-10 * time.Second)},
		model.StatsDelta{})
	require.NoError(t, err)

	clock := func() time.Time { return now }
	rep, err := New(ms, true, WithGrace(time.Minute), WithClock(clock)).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Drifted)
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, 0, rep.Repaired)

	u, err := ms.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), u.Stats.TotalTrades, "no write inside the grace window")

	later := func() time.Time { return now.Add(2 * time.Minute) }
	rep, err = New(ms, true, WithGrace(time.Minute), WithClock(later)).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Repaired)

	u, err = ms.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), u.Stats.TotalTrades)
}

func TestRun_CancelledContext(t *testing.T) {
	ms := store.NewMemoryStore()
	seed(t, ms)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(ms, false).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunner_Schedule(t *testing.T) {
	r := NewRunner(context.Background())
	rec := New(store.NewMemoryStore(), false)

	_, err := r.Schedule("not a cron expression", rec)
	assert.Error(t, err)

	_, err = r.Schedule("0 */15 * * * *", rec)
	require.NoError(t, err)

	r.Start()
	r.Stop()
}
