package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/solstake/ledger-engine/internal/events"
	"github.com/solstake/ledger-engine/internal/metrics"
	"github.com/solstake/ledger-engine/internal/model"
	"github.com/solstake/ledger-engine/internal/store"
)

// StakeToken is the only asset that can be staked.
const StakeToken = "SOL"

var (
	daysPerYear = decimal.NewFromInt(365)
	dayNanos    = decimal.NewFromInt(int64(24 * time.Hour))
)

// CreateStake locks amount for durationDays at the tier's APY. The stake and
// the owner's TotalStaked increment are persisted together.
func (l *Ledger) CreateStake(ctx context.Context, userID string, amount decimal.Decimal, durationDays int) (*model.Stake, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: stake amount %s must be positive", ErrInvalidAmount, amount)
	}
	apy, ok := l.tiers.APY(durationDays)
	if !ok {
		return nil, fmt.Errorf("%w: %d days", ErrUnknownTier, durationDays)
	}

	user, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return nil, storeErr(err, "load user")
	}
	if err := l.limiter.CheckStake(amount, user.Stats.TotalStaked); err != nil {
		metrics.LimitRejections.WithLabelValues("stake").Inc()
		return nil, fmt.Errorf("%w: %w", ErrLimitExceeded, err)
	}

	now := l.now().UTC()
	st := &model.Stake{
		ID:           uuid.New().String(),
		UserID:       userID,
		Amount:       amount,
		Token:        StakeToken,
		DurationDays: durationDays,
		APY:          apy,
		StartDate:    now,
		EndDate:      now.AddDate(0, 0, durationDays),
		Status:       model.StakeActive,
	}

	created := events.Event{
		Type:         events.StakeCreated,
		UserID:       userID,
		EntityID:     st.ID,
		Status:       st.Status,
		Amount:       amount,
		DurationDays: durationDays,
		At:           now,
	}
	err = l.store.CreateStake(ctx, st, stakeOpenedDelta(amount))
	switch {
	case errors.Is(err, store.ErrAggregateUpdate):
		metrics.AggregateFailures.WithLabelValues("create_stake").Inc()
		slog.Error("stake created without aggregate update", "stake_id", st.ID, "user", userID, "err", err)
		l.emit(ctx, created)
		return st, fmt.Errorf("%w: stake %s: %w", ErrAggregateUpdateFailed, st.ID, err)
	case err != nil:
		return nil, storeErr(err, "create stake")
	}

	days := strconv.Itoa(durationDays)
	metrics.StakesTotal.WithLabelValues("created", days).Inc()
	metrics.ActivePrincipal.Add(amount.InexactFloat64())
	slog.Info("stake created",
		"stake_id", st.ID,
		"user", userID,
		"amount", amount.String(),
		"duration_days", durationDays,
		"apy", apy.String(),
	)

	l.emit(ctx, created)
	return st, nil
}

// CalculateRewards returns the rewards accrued so far by an active stake.
// It reads one stake and writes nothing.
func (l *Ledger) CalculateRewards(ctx context.Context, stakeID string) (decimal.Decimal, error) {
	st, err := l.activeStake(ctx, stakeID)
	if err != nil {
		return decimal.Zero, err
	}
	return AccruedRewards(st, l.now()), nil
}

// Unstake ends an active stake, fixing its rewards at the current accrual.
// Of two concurrent calls on the same stake exactly one succeeds; the other
// gets ErrInvalidStakeState.
func (l *Ledger) Unstake(ctx context.Context, stakeID string) (*model.Stake, decimal.Decimal, error) {
	st, err := l.activeStake(ctx, stakeID)
	if err != nil {
		return nil, decimal.Zero, err
	}

	now := l.now().UTC()
	rewards := AccruedRewards(st, now)
	settle := model.StakeSettlement{Rewards: rewards, EndedAt: now}

	endedEv := events.Event{
		Type:         events.StakeEnded,
		UserID:       st.UserID,
		EntityID:     stakeID,
		Status:       model.StakeEnded,
		Amount:       st.Amount,
		Rewards:      rewards,
		DurationDays: st.DurationDays,
		At:           now,
	}
	ended, err := l.store.EndStake(ctx, stakeID, settle, stakeEndedDelta(st.Amount, rewards))
	switch {
	case errors.Is(err, store.ErrAggregateUpdate):
		metrics.AggregateFailures.WithLabelValues("unstake").Inc()
		slog.Error("stake ended without aggregate update", "stake_id", stakeID, "user", st.UserID, "err", err)
		l.emit(ctx, endedEv)
		return ended, rewards, fmt.Errorf("%w: stake %s: %w", ErrAggregateUpdateFailed, stakeID, err)
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrNotFound):
		return nil, decimal.Zero, fmt.Errorf("%w: stake %s: %w", ErrInvalidStakeState, stakeID, err)
	case err != nil:
		return nil, decimal.Zero, fmt.Errorf("%w: end stake %s: %w", ErrPersistence, stakeID, err)
	}

	metrics.StakesTotal.WithLabelValues("ended", strconv.Itoa(st.DurationDays)).Inc()
	metrics.ActivePrincipal.Sub(st.Amount.InexactFloat64())
	metrics.RewardsPaid.Add(rewards.InexactFloat64())
	slog.Info("stake ended",
		"stake_id", stakeID,
		"user", st.UserID,
		"amount", st.Amount.String(),
		"rewards", rewards.String(),
	)

	l.emit(ctx, endedEv)
	return ended, rewards, nil
}

// GetActiveStakes returns the user's active stakes, newest first.
func (l *Ledger) GetActiveStakes(ctx context.Context, userID string) ([]model.Stake, error) {
	stakes, err := l.store.ListStakesByUser(ctx, userID, model.StakeActive)
	if err != nil {
		return nil, storeErr(err, "list stakes")
	}
	return stakes, nil
}

func (l *Ledger) activeStake(ctx context.Context, stakeID string) (*model.Stake, error) {
	st, err := l.store.GetStake(ctx, stakeID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: stake %s not found", ErrInvalidStakeState, stakeID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load stake %s: %w", ErrPersistence, stakeID, err)
	}
	if st.Status != model.StakeActive {
		return nil, fmt.Errorf("%w: stake %s is %s", ErrInvalidStakeState, stakeID, st.Status)
	}
	return st, nil
}

// AccruedRewards is amount × APY × elapsedDays / 365, with elapsed measured
// from the stake's start to now and clamped at zero.
func AccruedRewards(st *model.Stake, now time.Time) decimal.Decimal {
	elapsed := now.Sub(st.StartDate)
	if elapsed < 0 {
		elapsed = 0
	}
	days := decimal.NewFromInt(int64(elapsed)).Div(dayNanos)
	return st.Amount.Mul(st.APY).Mul(days).Div(daysPerYear)
}
