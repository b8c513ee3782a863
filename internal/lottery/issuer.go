// Package lottery keeps ticket bookkeeping for lottery rounds. Tickets are
// earned from ledger events; drawing winners is handled elsewhere.
package lottery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/solstake/ledger-engine/internal/events"
	"github.com/solstake/ledger-engine/internal/metrics"
	"github.com/solstake/ledger-engine/internal/model"
	"github.com/solstake/ledger-engine/internal/store"
)

// Config sets ticket rates.
type Config struct {
	PerTrade      int64
	PerStakeMonth int64
	RoundLength   time.Duration
}

// Issuer grants tickets in the active round. It implements events.Handler.
type Issuer struct {
	store store.Store
	cfg   Config
	now   func() time.Time
}

// UserTickets summarizes a user's tickets in one round.
type UserTickets struct {
	LotteryID string                `json:"lottery_id"`
	Round     int64                 `json:"round"`
	EndDate   time.Time             `json:"end_date"`
	Total     int64                 `json:"total"`
	Entries   []model.LotteryTicket `json:"entries"`
}

// NewIssuer creates an issuer.
func NewIssuer(st store.Store, cfg Config) *Issuer {
	if cfg.RoundLength <= 0 {
		cfg.RoundLength = 7 * 24 * time.Hour
	}
	return &Issuer{store: st, cfg: cfg, now: time.Now}
}

// Handle grants tickets for completed trades and new stakes.
func (i *Issuer) Handle(ctx context.Context, ev events.Event) error {
	var count int64
	var source string
	switch {
	case ev.Type == events.TradeSettled && ev.Status == model.TradeCompleted:
		count, source = i.cfg.PerTrade, model.TicketSourceTrade
	case ev.Type == events.StakeCreated:
		count, source = int64(ev.DurationDays/30)*i.cfg.PerStakeMonth, model.TicketSourceStake
	default:
		return nil
	}
	if count <= 0 {
		return nil
	}

	round, err := i.store.GetActiveLottery(ctx)
	if errors.Is(err, store.ErrNotFound) {
		slog.Debug("no active lottery round, tickets not issued", "user", ev.UserID, "source", source)
		return nil
	}
	if err != nil {
		return fmt.Errorf("lottery: active round: %w", err)
	}

	t := &model.LotteryTicket{
		ID:        uuid.New().String(),
		UserID:    ev.UserID,
		LotteryID: round.ID,
		Count:     count,
		Source:    source,
		CreatedAt: i.now().UTC(),
	}
	if err := i.store.AddTickets(ctx, t); err != nil {
		return fmt.Errorf("lottery: add tickets: %w", err)
	}

	metrics.TicketsIssued.WithLabelValues(source).Add(float64(count))
	slog.Info("lottery tickets issued",
		"user", ev.UserID,
		"round", round.Round,
		"count", count,
		"source", source,
		"entity_id", ev.EntityID,
	)
	return nil
}

// EnsureRound returns the active round, opening one when none exists.
func (i *Issuer) EnsureRound(ctx context.Context) (*model.Lottery, error) {
	round, err := i.store.GetActiveLottery(ctx)
	if err == nil {
		return round, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("lottery: active round: %w", err)
	}

	now := i.now().UTC()
	start := now.Truncate(i.cfg.RoundLength)
	round = &model.Lottery{
		ID:        uuid.New().String(),
		Round:     start.Unix() / int64(i.cfg.RoundLength/time.Second),
		StartDate: start,
		EndDate:   start.Add(i.cfg.RoundLength),
		PrizePool: decimal.Zero,
		Status:    model.LotteryActive,
		Winners:   []model.LotteryWinner{},
	}
	if err := i.store.CreateLottery(ctx, round); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return i.store.GetActiveLottery(ctx)
		}
		return nil, fmt.Errorf("lottery: create round: %w", err)
	}

	slog.Info("lottery round opened", "round", round.Round, "ends", round.EndDate)
	return round, nil
}

// Tickets returns the user's tickets in the active round.
func (i *Issuer) Tickets(ctx context.Context, userID string) (*UserTickets, error) {
	round, err := i.store.GetActiveLottery(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := i.store.ListTickets(ctx, round.ID, userID)
	if err != nil {
		return nil, fmt.Errorf("lottery: list tickets: %w", err)
	}

	out := &UserTickets{
		LotteryID: round.ID,
		Round:     round.Round,
		EndDate:   round.EndDate,
		Entries:   entries,
	}
	for _, e := range entries {
		out.Total += e.Count
	}
	return out, nil
}
