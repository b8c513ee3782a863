package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/solstake/ledger-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL or MongoDB) with a Redis
// read-through cache for users, the leaderboard and token prices. Writes go
// to the primary store and invalidate the cache; reads check Redis first
// then fall back to the primary.
//
// Ledger transitions never read through the cache: trades and stakes are
// always loaded from the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateUser(ctx context.Context, u *model.User) error {
	if err := s.primary.CreateUser(ctx, u); err != nil {
		return err
	}
	s.rdb.Del(ctx, leaderboardKey)
	return nil
}

func (s *CachedStore) SetUserWallet(ctx context.Context, id, address string) error {
	if err := s.primary.SetUserWallet(ctx, id, address); err != nil {
		return err
	}
	s.invalidateUser(ctx, id, false)
	return nil
}

func (s *CachedStore) UpdateUserSettings(ctx context.Context, id string, settings model.UserSettings) error {
	if err := s.primary.UpdateUserSettings(ctx, id, settings); err != nil {
		return err
	}
	s.invalidateUser(ctx, id, false)
	return nil
}

func (s *CachedStore) IncrementUserStats(ctx context.Context, id string, delta model.StatsDelta) error {
	if err := s.primary.IncrementUserStats(ctx, id, delta); err != nil {
		return err
	}
	s.invalidateUser(ctx, id, true)
	return nil
}

func (s *CachedStore) ResetUserAggregates(ctx context.Context, id string, expected, agg model.Aggregates) error {
	if err := s.primary.ResetUserAggregates(ctx, id, expected, agg); err != nil {
		return err
	}
	s.invalidateUser(ctx, id, true)
	return nil
}

func (s *CachedStore) SettleTrade(ctx context.Context, id string, st model.TradeSettlement, delta model.StatsDelta) (*model.Trade, error) {
	t, err := s.primary.SettleTrade(ctx, id, st, delta)
	if t != nil {
		// Also on ErrAggregateUpdate: the trade moved even if the user did not.
		s.invalidateUser(ctx, t.UserID, true)
	}
	return t, err
}

func (s *CachedStore) CreateStake(ctx context.Context, st *model.Stake, delta model.StatsDelta) error {
	err := s.primary.CreateStake(ctx, st, delta)
	if err == nil || errors.Is(err, ErrAggregateUpdate) {
		s.invalidateUser(ctx, st.UserID, false)
	}
	return err
}

func (s *CachedStore) EndStake(ctx context.Context, id string, settle model.StakeSettlement, delta model.StatsDelta) (*model.Stake, error) {
	st, err := s.primary.EndStake(ctx, id, settle, delta)
	if st != nil {
		s.invalidateUser(ctx, st.UserID, false)
	}
	return st, err
}

func (s *CachedStore) UpsertTokenPrice(ctx context.Context, p *model.TokenPrice) error {
	if err := s.primary.UpsertTokenPrice(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, priceKey(p.Symbol))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, userKey(id)).Bytes()
	if err == nil {
		var u model.User
		if json.Unmarshal(data, &u) == nil {
			return &u, nil
		}
	}

	// Cache miss: read from primary.
	u, err := s.primary.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, userKey(id), u)
	return u, nil
}

func (s *CachedStore) TopUsersByVolume(ctx context.Context, limit int) ([]model.User, error) {
	field := strconv.Itoa(limit)

	data, err := s.rdb.HGet(ctx, leaderboardKey, field).Bytes()
	if err == nil {
		var users []model.User
		if json.Unmarshal(data, &users) == nil {
			return users, nil
		}
	}

	users, err := s.primary.TopUsersByVolume(ctx, limit)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(users); err == nil {
		pipe := s.rdb.TxPipeline()
		pipe.HSet(ctx, leaderboardKey, field, data)
		pipe.Expire(ctx, leaderboardKey, s.ttl)
		pipe.Exec(ctx)
	}
	return users, nil
}

func (s *CachedStore) GetTokenPrice(ctx context.Context, symbol string) (*model.TokenPrice, error) {
	data, err := s.rdb.Get(ctx, priceKey(symbol)).Bytes()
	if err == nil {
		var p model.TokenPrice
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetTokenPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, priceKey(symbol), p)
	return p, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetUserByTelegramID(ctx context.Context, telegramID string) (*model.User, error) {
	return s.primary.GetUserByTelegramID(ctx, telegramID)
}

func (s *CachedStore) ListUserIDs(ctx context.Context) ([]string, error) {
	return s.primary.ListUserIDs(ctx)
}

func (s *CachedStore) CreateTrade(ctx context.Context, t *model.Trade) error {
	return s.primary.CreateTrade(ctx, t)
}

func (s *CachedStore) GetTrade(ctx context.Context, id string) (*model.Trade, error) {
	return s.primary.GetTrade(ctx, id)
}

func (s *CachedStore) ListTradesByUser(ctx context.Context, userID string, limit int) ([]model.Trade, error) {
	return s.primary.ListTradesByUser(ctx, userID, limit)
}

func (s *CachedStore) GetStake(ctx context.Context, id string) (*model.Stake, error) {
	return s.primary.GetStake(ctx, id)
}

func (s *CachedStore) ListStakesByUser(ctx context.Context, userID, status string) ([]model.Stake, error) {
	return s.primary.ListStakesByUser(ctx, userID, status)
}

func (s *CachedStore) CreateLottery(ctx context.Context, l *model.Lottery) error {
	return s.primary.CreateLottery(ctx, l)
}

func (s *CachedStore) GetActiveLottery(ctx context.Context) (*model.Lottery, error) {
	return s.primary.GetActiveLottery(ctx)
}

func (s *CachedStore) AddTickets(ctx context.Context, t *model.LotteryTicket) error {
	return s.primary.AddTickets(ctx, t)
}

func (s *CachedStore) ListTickets(ctx context.Context, lotteryID, userID string) ([]model.LotteryTicket, error) {
	return s.primary.ListTickets(ctx, lotteryID, userID)
}

// --- Cache helpers ---

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

// invalidateUser drops the cached user and, when its volume may have
// changed, the leaderboard.
func (s *CachedStore) invalidateUser(ctx context.Context, id string, leaderboard bool) {
	keys := []string{userKey(id)}
	if leaderboard {
		keys = append(keys, leaderboardKey)
	}
	s.rdb.Del(ctx, keys...)
}

const leaderboardKey = "leaderboard"

func userKey(id string) string { return fmt.Sprintf("user:%s", id) }
func priceKey(symbol string) string { return fmt.Sprintf("price:%s", symbol) }
