// Package store defines the persistence interface for the ledger engine.
// Implementations include PostgreSQL and MongoDB (sources of truth), Redis
// (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/solstake/ledger-engine/internal/model"
)

var (
	// ErrNotFound is returned when a lookup by ID misses.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when a unique key (telegram id, lottery
	// round) already exists.
	ErrDuplicate = errors.New("store: duplicate key")

	// ErrConflict is returned when a conditional status transition finds
	// the entity in a different status than required.
	ErrConflict = errors.New("store: status conflict")

	// ErrAggregateUpdate is returned when an entity write succeeded but the
	// paired user aggregate increment did not. Only backends that cannot
	// apply both in one transaction return it.
	ErrAggregateUpdate = errors.New("store: aggregate update failed after entity write")
)

// Store is the persistence interface. Methods that take a StatsDelta apply
// the entity write and the user increment as a pair. When a backend returns
// ErrAggregateUpdate from such a method, the entity write stands and the
// updated entity is returned alongside the error.
type Store interface {
	// --- Users ---

	// CreateUser persists a new user. ErrDuplicate if the telegram id exists.
	CreateUser(ctx context.Context, u *model.User) error

	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// GetUserByTelegramID retrieves a user by external chat identifier.
	GetUserByTelegramID(ctx context.Context, telegramID string) (*model.User, error)

	// SetUserWallet links a wallet address.
	SetUserWallet(ctx context.Context, id, address string) error

	// UpdateUserSettings replaces the user's settings.
	UpdateUserSettings(ctx context.Context, id string, settings model.UserSettings) error

	// IncrementUserStats applies delta as atomic increments.
	IncrementUserStats(ctx context.Context, id string, delta model.StatsDelta) error

	// ResetUserAggregates overwrites the aggregates with agg, but only
	// while the stored values still equal expected. A mismatch returns
	// ErrConflict. Used only by the reconciler repair pass.
	ResetUserAggregates(ctx context.Context, id string, expected, agg model.Aggregates) error

	// TopUsersByVolume returns up to limit users by trade volume descending.
	TopUsersByVolume(ctx context.Context, limit int) ([]model.User, error)

	// ListUserIDs returns every user ID.
	ListUserIDs(ctx context.Context) ([]string, error)

	// --- Trades ---

	// CreateTrade persists a pending trade.
	CreateTrade(ctx context.Context, t *model.Trade) error

	// GetTrade retrieves a trade by ID.
	GetTrade(ctx context.Context, id string) (*model.Trade, error)

	// SettleTrade moves a pending trade to its terminal status and applies
	// delta to the owner's aggregates. ErrConflict if not pending.
	SettleTrade(ctx context.Context, id string, s model.TradeSettlement, delta model.StatsDelta) (*model.Trade, error)

	// ListTradesByUser returns trades newest first. limit <= 0 means all.
	ListTradesByUser(ctx context.Context, userID string, limit int) ([]model.Trade, error)

	// --- Stakes ---

	// CreateStake persists an active stake and applies delta to the owner.
	CreateStake(ctx context.Context, s *model.Stake, delta model.StatsDelta) error

	// GetStake retrieves a stake by ID.
	GetStake(ctx context.Context, id string) (*model.Stake, error)

	// EndStake moves an active stake to ended with its final rewards and
	// applies delta to the owner. ErrConflict if not active.
	EndStake(ctx context.Context, id string, s model.StakeSettlement, delta model.StatsDelta) (*model.Stake, error)

	// ListStakesByUser returns the user's stakes by start date descending,
	// filtered by status unless status is empty.
	ListStakesByUser(ctx context.Context, userID, status string) ([]model.Stake, error)

	// --- Lottery ---

	// CreateLottery persists a round. ErrDuplicate if the round number exists.
	CreateLottery(ctx context.Context, l *model.Lottery) error

	// GetActiveLottery returns the most recent active round.
	GetActiveLottery(ctx context.Context) (*model.Lottery, error)

	// AddTickets appends a ticket row and increments the round's total.
	AddTickets(ctx context.Context, t *model.LotteryTicket) error

	// ListTickets returns a user's tickets in a round.
	ListTickets(ctx context.Context, lotteryID, userID string) ([]model.LotteryTicket, error)

	// --- Prices ---

	// UpsertTokenPrice stores the latest snapshot for a symbol.
	UpsertTokenPrice(ctx context.Context, p *model.TokenPrice) error

	// GetTokenPrice retrieves the latest snapshot for a symbol.
	GetTokenPrice(ctx context.Context, symbol string) (*model.TokenPrice, error)
}
