package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/solstake/ledger-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// A single mutex covers every collection, so an entity transition and its
// paired user increment are applied atomically.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]*model.User
	trades    map[string]*model.Trade
	stakes    map[string]*model.Stake
	lotteries map[string]*model.Lottery
	tickets   []model.LotteryTicket
	prices    map[string]*model.TokenPrice
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]*model.User),
		trades:    make(map[string]*model.Trade),
		stakes:    make(map[string]*model.Stake),
		lotteries: make(map[string]*model.Lottery),
		prices:    make(map[string]*model.TokenPrice),
	}
}

// --- Users ---

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; ok {
		return fmt.Errorf("%w: user %s", ErrDuplicate, u.ID)
	}
	for _, existing := range s.users {
		if existing.TelegramID == u.TelegramID {
			return fmt.Errorf("%w: telegram id %s", ErrDuplicate, u.TelegramID)
		}
	}

	// Store a copy to avoid external mutation.
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) GetUserByTelegramID(_ context.Context, telegramID string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.TelegramID == telegramID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: telegram id %s", ErrNotFound, telegramID)
}

func (s *MemoryStore) SetUserWallet(_ context.Context, id, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	u.WalletAddress = address
	return nil
}

func (s *MemoryStore) UpdateUserSettings(_ context.Context, id string, settings model.UserSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	u.Settings = settings
	return nil
}

func (s *MemoryStore) IncrementUserStats(_ context.Context, id string, delta model.StatsDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.applyDeltaLocked(id, delta)
}

func (s *MemoryStore) ResetUserAggregates(_ context.Context, id string, expected, agg model.Aggregates) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	current := model.Aggregates{TotalTradeVolume: u.TotalTradeVolume, Stats: u.Stats}
	if !current.Equal(expected) {
		return fmt.Errorf("%w: user %s aggregates changed", ErrConflict, id)
	}
	u.TotalTradeVolume = agg.TotalTradeVolume
	u.Stats = agg.Stats
	return nil
}

func (s *MemoryStore) TopUsersByVolume(_ context.Context, limit int) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, *u)
	}
	sort.SliceStable(users, func(i, j int) bool {
		return users[i].TotalTradeVolume.GreaterThan(users[j].TotalTradeVolume)
	})
	if limit > 0 && len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

func (s *MemoryStore) ListUserIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// --- Trades ---

func (s *MemoryStore) CreateTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trades[t.ID]; ok {
		return fmt.Errorf("%w: trade %s", ErrDuplicate, t.ID)
	}
	cp := *t
	s.trades[t.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTrade(_ context.Context, id string) (*model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trades[id]
	if !ok {
		return nil, fmt.Errorf("%w: trade %s", ErrNotFound, id)
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) SettleTrade(_ context.Context, id string, st model.TradeSettlement, delta model.StatsDelta) (*model.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trades[id]
	if !ok {
		return nil, fmt.Errorf("%w: trade %s", ErrNotFound, id)
	}
	if t.Status != model.TradePending {
		return nil, fmt.Errorf("%w: trade %s is %s", ErrConflict, id, t.Status)
	}
	if _, ok := s.users[t.UserID]; !ok {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, t.UserID)
	}

	settledAt := st.SettledAt
	t.Status = st.Status
	t.AmountOut = st.AmountOut
	t.TxHash = st.TxHash
	t.Price = st.Price
	t.Fee = st.Fee
	t.FailureReason = st.FailureReason
	t.SettledAt = &settledAt

	if err := s.applyDeltaLocked(t.UserID, delta); err != nil {
		return nil, err
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListTradesByUser(_ context.Context, userID string, limit int) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.trades {
		if t.UserID == userID {
			result = append(result, *t)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// --- Stakes ---

func (s *MemoryStore) CreateStake(_ context.Context, st *model.Stake, delta model.StatsDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.stakes[st.ID]; ok {
		return fmt.Errorf("%w: stake %s", ErrDuplicate, st.ID)
	}
	if _, ok := s.users[st.UserID]; !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, st.UserID)
	}
	cp := *st
	s.stakes[st.ID] = &cp
	return s.applyDeltaLocked(st.UserID, delta)
}

func (s *MemoryStore) GetStake(_ context.Context, id string) (*model.Stake, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stakes[id]
	if !ok {
		return nil, fmt.Errorf("%w: stake %s", ErrNotFound, id)
	}
	cp := *st
	return &cp, nil
}

func (s *MemoryStore) EndStake(_ context.Context, id string, settle model.StakeSettlement, delta model.StatsDelta) (*model.Stake, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stakes[id]
	if !ok {
		return nil, fmt.Errorf("%w: stake %s", ErrNotFound, id)
	}
	if st.Status != model.StakeActive {
		return nil, fmt.Errorf("%w: stake %s is %s", ErrConflict, id, st.Status)
	}
	if _, ok := s.users[st.UserID]; !ok {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, st.UserID)
	}

	rewards := settle.Rewards
	endedAt := settle.EndedAt
	st.Status = model.StakeEnded
	st.Rewards = &rewards
	st.LastClaimDate = &endedAt

	if err := s.applyDeltaLocked(st.UserID, delta); err != nil {
		return nil, err
	}
	cp := *st
	return &cp, nil
}

func (s *MemoryStore) ListStakesByUser(_ context.Context, userID, status string) ([]model.Stake, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Stake
	for _, st := range s.stakes {
		if st.UserID != userID {
			continue
		}
		if status != "" && st.Status != status {
			continue
		}
		result = append(result, *st)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].StartDate.After(result[j].StartDate)
	})
	return result, nil
}

// --- Lottery ---

func (s *MemoryStore) CreateLottery(_ context.Context, l *model.Lottery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.lotteries {
		if existing.Round == l.Round {
			return fmt.Errorf("%w: lottery round %d", ErrDuplicate, l.Round)
		}
	}
	cp := *l
	cp.Winners = append([]model.LotteryWinner(nil), l.Winners...)
	s.lotteries[l.ID] = &cp
	return nil
}

func (s *MemoryStore) GetActiveLottery(_ context.Context) (*model.Lottery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *model.Lottery
	for _, l := range s.lotteries {
		if l.Status != model.LotteryActive {
			continue
		}
		if latest == nil || l.Round > latest.Round {
			latest = l
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: active lottery", ErrNotFound)
	}
	cp := *latest
	cp.Winners = append([]model.LotteryWinner(nil), latest.Winners...)
	return &cp, nil
}

func (s *MemoryStore) AddTickets(_ context.Context, t *model.LotteryTicket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lotteries[t.LotteryID]
	if !ok {
		return fmt.Errorf("%w: lottery %s", ErrNotFound, t.LotteryID)
	}
	s.tickets = append(s.tickets, *t)
	l.TotalTickets += t.Count
	return nil
}

func (s *MemoryStore) ListTickets(_ context.Context, lotteryID, userID string) ([]model.LotteryTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LotteryTicket
	for _, t := range s.tickets {
		if t.LotteryID == lotteryID && t.UserID == userID {
			result = append(result, t)
		}
	}
	return result, nil
}

// --- Prices ---

func (s *MemoryStore) UpsertTokenPrice(_ context.Context, p *model.TokenPrice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	s.prices[p.Symbol] = &cp
	return nil
}

func (s *MemoryStore) GetTokenPrice(_ context.Context, symbol string) (*model.TokenPrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: price %s", ErrNotFound, symbol)
	}
	cp := *p
	return &cp, nil
}

// applyDeltaLocked increments a user's aggregates. Caller holds s.mu.
func (s *MemoryStore) applyDeltaLocked(userID string, d model.StatsDelta) error {
	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	u.TotalTradeVolume = u.TotalTradeVolume.Add(d.Volume)
	u.Stats.TotalTrades += d.TotalTrades
	u.Stats.SuccessfulTrades += d.SuccessfulTrades
	u.Stats.FailedTrades += d.FailedTrades
	u.Stats.ProfitLoss = u.Stats.ProfitLoss.Add(d.ProfitLoss)
	u.Stats.TotalStaked = u.Stats.TotalStaked.Add(d.Staked)
	u.Stats.TotalRewards = u.Stats.TotalRewards.Add(d.Rewards)
	return nil
}
