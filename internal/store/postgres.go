package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/solstake/ledger-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Entity transitions and their user increments share one transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id                 TEXT PRIMARY KEY,
	telegram_id        TEXT NOT NULL UNIQUE,
	username           TEXT NOT NULL DEFAULT '',
	wallet_address     TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL,
	total_trade_volume NUMERIC NOT NULL DEFAULT 0,
	total_trades       BIGINT NOT NULL DEFAULT 0,
	successful_trades  BIGINT NOT NULL DEFAULT 0,
	failed_trades      BIGINT NOT NULL DEFAULT 0,
	profit_loss        NUMERIC NOT NULL DEFAULT 0,
	total_staked       NUMERIC NOT NULL DEFAULT 0,
	total_rewards      NUMERIC NOT NULL DEFAULT 0,
	notifications      BOOLEAN NOT NULL DEFAULT TRUE,
	slippage_tolerance NUMERIC NOT NULL DEFAULT 1,
	dark_mode          BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS users_volume_idx ON users (total_trade_volume DESC);

CREATE TABLE IF NOT EXISTS trades (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL REFERENCES users(id),
	token_in       TEXT NOT NULL,
	token_out      TEXT NOT NULL,
	amount_in      NUMERIC NOT NULL,
	amount_out     NUMERIC NOT NULL DEFAULT 0,
	status         TEXT NOT NULL,
	timestamp      TIMESTAMPTZ NOT NULL,
	settled_at     TIMESTAMPTZ,
	tx_hash        TEXT NOT NULL DEFAULT '',
	price          NUMERIC NOT NULL DEFAULT 0,
	fee            NUMERIC NOT NULL DEFAULT 0,
	failure_reason TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS trades_user_ts_idx ON trades (user_id, timestamp DESC);

CREATE TABLE IF NOT EXISTS stakes (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL REFERENCES users(id),
	amount          NUMERIC NOT NULL,
	token           TEXT NOT NULL,
	duration_days   INTEGER NOT NULL,
	apy             NUMERIC NOT NULL,
	start_date      TIMESTAMPTZ NOT NULL,
	end_date        TIMESTAMPTZ NOT NULL,
	rewards         NUMERIC,
	status          TEXT NOT NULL,
	last_claim_date TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS stakes_user_start_idx ON stakes (user_id, start_date DESC);

CREATE TABLE IF NOT EXISTS lotteries (
	id            TEXT PRIMARY KEY,
	round         BIGINT NOT NULL UNIQUE,
	start_date    TIMESTAMPTZ NOT NULL,
	end_date      TIMESTAMPTZ NOT NULL,
	prize_pool    NUMERIC NOT NULL DEFAULT 0,
	status        TEXT NOT NULL,
	winners       JSONB NOT NULL DEFAULT '[]',
	total_tickets BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS lottery_tickets (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES users(id),
	lottery_id TEXT NOT NULL REFERENCES lotteries(id),
	count      BIGINT NOT NULL,
	source     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS lottery_tickets_lookup_idx ON lottery_tickets (lottery_id, user_id);

CREATE TABLE IF NOT EXISTS token_prices (
	symbol       TEXT PRIMARY KEY,
	price        NUMERIC NOT NULL,
	change_24h   NUMERIC NOT NULL DEFAULT 0,
	volume_24h   NUMERIC NOT NULL DEFAULT 0,
	last_updated TIMESTAMPTZ NOT NULL
);`

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// --- Users ---

const userColumns = `id, telegram_id, username, wallet_address, created_at,
	total_trade_volume::TEXT, total_trades, successful_trades, failed_trades,
	profit_loss::TEXT, total_staked::TEXT, total_rewards::TEXT,
	notifications, slippage_tolerance::TEXT, dark_mode`

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, telegram_id, username, wallet_address, created_at,
		                    total_trade_volume, total_trades, successful_trades, failed_trades,
		                    profit_loss, total_staked, total_rewards,
		                    notifications, slippage_tolerance, dark_mode)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8, $9, $10::NUMERIC, $11::NUMERIC, $12::NUMERIC, $13, $14::NUMERIC, $15)`,
		u.ID, u.TelegramID, u.Username, u.WalletAddress, u.CreatedAt,
		u.TotalTradeVolume.String(), u.Stats.TotalTrades, u.Stats.SuccessfulTrades, u.Stats.FailedTrades,
		u.Stats.ProfitLoss.String(), u.Stats.TotalStaked.String(), u.Stats.TotalRewards.String(),
		u.Settings.Notifications, u.Settings.SlippageTolerance.String(), u.Settings.DarkMode,
	)
	return pgError(err, "create user "+u.ID)
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		return nil, pgError(err, "get user "+id)
	}
	return u, nil
}

func (s *PostgresStore) GetUserByTelegramID(ctx context.Context, telegramID string) (*model.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE telegram_id = $1`, telegramID)
	u, err := scanUser(row)
	if err != nil {
		return nil, pgError(err, "get user by telegram id "+telegramID)
	}
	return u, nil
}

func (s *PostgresStore) SetUserWallet(ctx context.Context, id, address string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET wallet_address = $2 WHERE id = $1`, id, address)
	if err != nil {
		return pgError(err, "set wallet "+id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return nil
}

func (s *PostgresStore) UpdateUserSettings(ctx context.Context, id string, st model.UserSettings) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET notifications = $2, slippage_tolerance = $3::NUMERIC, dark_mode = $4 WHERE id = $1`,
		id, st.Notifications, st.SlippageTolerance.String(), st.DarkMode)
	if err != nil {
		return pgError(err, "update settings "+id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return nil
}

func (s *PostgresStore) IncrementUserStats(ctx context.Context, id string, delta model.StatsDelta) error {
	return applyDelta(ctx, s.pool, id, delta)
}

func (s *PostgresStore) ResetUserAggregates(ctx context.Context, id string, expected, agg model.Aggregates) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users
		 SET total_trade_volume = $2::NUMERIC, total_trades = $3, successful_trades = $4,
		     failed_trades = $5, profit_loss = $6::NUMERIC, total_staked = $7::NUMERIC,
		     total_rewards = $8::NUMERIC
		 WHERE id = $1
		   AND total_trade_volume = $9::NUMERIC AND total_trades = $10 AND successful_trades = $11
		   AND failed_trades = $12 AND profit_loss = $13::NUMERIC AND total_staked = $14::NUMERIC
		   AND total_rewards = $15::NUMERIC`,
		id, agg.TotalTradeVolume.String(), agg.Stats.TotalTrades, agg.Stats.SuccessfulTrades,
		agg.Stats.FailedTrades, agg.Stats.ProfitLoss.String(), agg.Stats.TotalStaked.String(),
		agg.Stats.TotalRewards.String(),
		expected.TotalTradeVolume.String(), expected.Stats.TotalTrades, expected.Stats.SuccessfulTrades,
		expected.Stats.FailedTrades, expected.Stats.ProfitLoss.String(), expected.Stats.TotalStaked.String(),
		expected.Stats.TotalRewards.String())
	if err != nil {
		return pgError(err, "reset aggregates "+id)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists); err != nil {
		return pgError(err, "reset aggregates "+id)
	}
	if !exists {
		return fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return fmt.Errorf("%w: user %s aggregates changed", ErrConflict, id)
}

func (s *PostgresStore) TopUsersByVolume(ctx context.Context, limit int) ([]model.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY total_trade_volume DESC, id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *PostgresStore) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Trades ---

const tradeColumns = `id, user_id, token_in, token_out, amount_in::TEXT, amount_out::TEXT,
	status, timestamp, settled_at, tx_hash, price::TEXT, fee::TEXT, failure_reason`

func (s *PostgresStore) CreateTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trades (id, user_id, token_in, token_out, amount_in, amount_out, status, timestamp, tx_hash, price, fee)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8, $9, $10::NUMERIC, $11::NUMERIC)`,
		t.ID, t.UserID, t.TokenIn, t.TokenOut,
		t.AmountIn.String(), t.AmountOut.String(),
		t.Status, t.Timestamp, t.TxHash, t.Price.String(), t.Fee.String(),
	)
	return pgError(err, "create trade "+t.ID)
}

func (s *PostgresStore) GetTrade(ctx context.Context, id string) (*model.Trade, error) {
	t, err := scanTrade(s.pool.QueryRow(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = $1`, id))
	if err != nil {
		return nil, pgError(err, "get trade "+id)
	}
	return t, nil
}

func (s *PostgresStore) SettleTrade(ctx context.Context, id string, st model.TradeSettlement, delta model.StatsDelta) (*model.Trade, error) {
	var settled *model.Trade
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`UPDATE trades
			 SET status = $2, amount_out = $3::NUMERIC, tx_hash = $4, price = $5::NUMERIC,
			     fee = $6::NUMERIC, failure_reason = $7, settled_at = $8
			 WHERE id = $1 AND status = 'pending'
			 RETURNING `+tradeColumns,
			id, st.Status, st.AmountOut.String(), st.TxHash, st.Price.String(),
			st.Fee.String(), st.FailureReason, st.SettledAt)
		t, err := scanTrade(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return conflictOrMissing(ctx, tx, "trades", id)
		}
		if err != nil {
			return err
		}
		if err := applyDelta(ctx, tx, t.UserID, delta); err != nil {
			return err
		}
		settled = t
		return nil
	})
	if err != nil {
		return nil, pgError(err, "settle trade "+id)
	}
	return settled, nil
}

func (s *PostgresStore) ListTradesByUser(ctx context.Context, userID string, limit int) ([]model.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE user_id = $1 ORDER BY timestamp DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, *t)
	}
	return trades, rows.Err()
}

// --- Stakes ---

const stakeColumns = `id, user_id, amount::TEXT, token, duration_days, apy::TEXT,
	start_date, end_date, rewards::TEXT, status, last_claim_date`

func (s *PostgresStore) CreateStake(ctx context.Context, st *model.Stake, delta model.StatsDelta) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO stakes (id, user_id, amount, token, duration_days, apy, start_date, end_date, status)
			 VALUES ($1, $2, $3::NUMERIC, $4, $5, $6::NUMERIC, $7, $8, $9)`,
			st.ID, st.UserID, st.Amount.String(), st.Token, st.DurationDays,
			st.APY.String(), st.StartDate, st.EndDate, st.Status)
		if err != nil {
			return err
		}
		return applyDelta(ctx, tx, st.UserID, delta)
	})
	return pgError(err, "create stake "+st.ID)
}

func (s *PostgresStore) GetStake(ctx context.Context, id string) (*model.Stake, error) {
	st, err := scanStake(s.pool.QueryRow(ctx, `SELECT `+stakeColumns+` FROM stakes WHERE id = $1`, id))
	if err != nil {
		return nil, pgError(err, "get stake "+id)
	}
	return st, nil
}

func (s *PostgresStore) EndStake(ctx context.Context, id string, settle model.StakeSettlement, delta model.StatsDelta) (*model.Stake, error) {
	var ended *model.Stake
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`UPDATE stakes
			 SET status = 'ended', rewards = $2::NUMERIC, last_claim_date = $3
			 WHERE id = $1 AND status = 'active'
			 RETURNING `+stakeColumns,
			id, settle.Rewards.String(), settle.EndedAt)
		st, err := scanStake(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return conflictOrMissing(ctx, tx, "stakes", id)
		}
		if err != nil {
			return err
		}
		if err := applyDelta(ctx, tx, st.UserID, delta); err != nil {
			return err
		}
		ended = st
		return nil
	})
	if err != nil {
		return nil, pgError(err, "end stake "+id)
	}
	return ended, nil
}

func (s *PostgresStore) ListStakesByUser(ctx context.Context, userID, status string) ([]model.Stake, error) {
	query := `SELECT ` + stakeColumns + ` FROM stakes WHERE user_id = $1`
	args := []any{userID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY start_date DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stakes []model.Stake
	for rows.Next() {
		st, err := scanStake(rows)
		if err != nil {
			return nil, err
		}
		stakes = append(stakes, *st)
	}
	return stakes, rows.Err()
}

// --- Lottery ---

func (s *PostgresStore) CreateLottery(ctx context.Context, l *model.Lottery) error {
	winners := l.Winners
	if winners == nil {
		winners = []model.LotteryWinner{}
	}
	w, err := json.Marshal(winners)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO lotteries (id, round, start_date, end_date, prize_pool, status, winners, total_tickets)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7, $8)`,
		l.ID, l.Round, l.StartDate, l.EndDate, l.PrizePool.String(), l.Status, w, l.TotalTickets)
	return pgError(err, fmt.Sprintf("create lottery round %d", l.Round))
}

func (s *PostgresStore) GetActiveLottery(ctx context.Context) (*model.Lottery, error) {
	var l model.Lottery
	var prize string
	var winners []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, round, start_date, end_date, prize_pool::TEXT, status, winners, total_tickets
		 FROM lotteries WHERE status = 'active' ORDER BY round DESC LIMIT 1`).
		Scan(&l.ID, &l.Round, &l.StartDate, &l.EndDate, &prize, &l.Status, &winners, &l.TotalTickets)
	if err != nil {
		return nil, pgError(err, "get active lottery")
	}
	l.PrizePool, _ = decimal.NewFromString(prize)
	if err := json.Unmarshal(winners, &l.Winners); err != nil {
		return nil, fmt.Errorf("decode winners of lottery %s: %w", l.ID, err)
	}
	return &l, nil
}

func (s *PostgresStore) AddTickets(ctx context.Context, t *model.LotteryTicket) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE lotteries SET total_tickets = total_tickets + $2 WHERE id = $1`,
			t.LotteryID, t.Count)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: lottery %s", ErrNotFound, t.LotteryID)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO lottery_tickets (id, user_id, lottery_id, count, source, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			t.ID, t.UserID, t.LotteryID, t.Count, t.Source, t.CreatedAt)
		return err
	})
	return pgError(err, "add tickets "+t.ID)
}

func (s *PostgresStore) ListTickets(ctx context.Context, lotteryID, userID string) ([]model.LotteryTicket, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, lottery_id, count, source, created_at
		 FROM lottery_tickets WHERE lottery_id = $1 AND user_id = $2 ORDER BY created_at`,
		lotteryID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []model.LotteryTicket
	for rows.Next() {
		var t model.LotteryTicket
		if err := rows.Scan(&t.ID, &t.UserID, &t.LotteryID, &t.Count, &t.Source, &t.CreatedAt); err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// --- Prices ---

func (s *PostgresStore) UpsertTokenPrice(ctx context.Context, p *model.TokenPrice) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO token_prices (symbol, price, change_24h, volume_24h, last_updated)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5)
		 ON CONFLICT (symbol) DO UPDATE
		 SET price = EXCLUDED.price, change_24h = EXCLUDED.change_24h,
		     volume_24h = EXCLUDED.volume_24h, last_updated = EXCLUDED.last_updated`,
		p.Symbol, p.Price.String(), p.Change24h.String(), p.Volume24h.String(), p.LastUpdated)
	return pgError(err, "upsert price "+p.Symbol)
}

func (s *PostgresStore) GetTokenPrice(ctx context.Context, symbol string) (*model.TokenPrice, error) {
	var p model.TokenPrice
	var price, change, volume string
	err := s.pool.QueryRow(ctx,
		`SELECT symbol, price::TEXT, change_24h::TEXT, volume_24h::TEXT, last_updated
		 FROM token_prices WHERE symbol = $1`, symbol).
		Scan(&p.Symbol, &price, &change, &volume, &p.LastUpdated)
	if err != nil {
		return nil, pgError(err, "get price "+symbol)
	}
	p.Price, _ = decimal.NewFromString(price)
	p.Change24h, _ = decimal.NewFromString(change)
	p.Volume24h, _ = decimal.NewFromString(volume)
	return &p, nil
}

// --- Helpers ---

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// applyDelta increments a user's aggregate columns in place.
func applyDelta(ctx context.Context, db execer, userID string, d model.StatsDelta) error {
	tag, err := db.Exec(ctx,
		`UPDATE users
		 SET total_trade_volume = total_trade_volume + $2::NUMERIC,
		     total_trades       = total_trades + $3,
		     successful_trades  = successful_trades + $4,
		     failed_trades      = failed_trades + $5,
		     profit_loss        = profit_loss + $6::NUMERIC,
		     total_staked       = total_staked + $7::NUMERIC,
		     total_rewards      = total_rewards + $8::NUMERIC
		 WHERE id = $1`,
		userID, d.Volume.String(), d.TotalTrades, d.SuccessfulTrades, d.FailedTrades,
		d.ProfitLoss.String(), d.Staked.String(), d.Rewards.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	return nil
}

// conflictOrMissing tells a failed conditional update apart: the row either
// does not exist or is in another status.
func conflictOrMissing(ctx context.Context, tx pgx.Tx, table, id string) error {
	var status string
	err := tx.QueryRow(ctx, `SELECT status FROM `+table+` WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, table, id)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s %s is %s", ErrConflict, table, id, status)
}

// pgError maps driver errors onto the store sentinels.
func pgError(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, op)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicate, op)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// pgxRow is satisfied by pgx.Row and pgx.Rows.
type pgxRow interface {
	Scan(dest ...any) error
}

func scanUser(row pgxRow) (*model.User, error) {
	var u model.User
	var volume, pnl, staked, rewards, slippage string
	if err := row.Scan(&u.ID, &u.TelegramID, &u.Username, &u.WalletAddress, &u.CreatedAt,
		&volume, &u.Stats.TotalTrades, &u.Stats.SuccessfulTrades, &u.Stats.FailedTrades,
		&pnl, &staked, &rewards,
		&u.Settings.Notifications, &slippage, &u.Settings.DarkMode); err != nil {
		return nil, err
	}
	u.TotalTradeVolume, _ = decimal.NewFromString(volume)
	u.Stats.ProfitLoss, _ = decimal.NewFromString(pnl)
	u.Stats.TotalStaked, _ = decimal.NewFromString(staked)
	u.Stats.TotalRewards, _ = decimal.NewFromString(rewards)
	u.Settings.SlippageTolerance, _ = decimal.NewFromString(slippage)
	return &u, nil
}

func scanTrade(row pgxRow) (*model.Trade, error) {
	var t model.Trade
	var amountIn, amountOut, price, fee string
	var settledAt *time.Time
	if err := row.Scan(&t.ID, &t.UserID, &t.TokenIn, &t.TokenOut, &amountIn, &amountOut,
		&t.Status, &t.Timestamp, &settledAt, &t.TxHash, &price, &fee, &t.FailureReason); err != nil {
		return nil, err
	}
	t.AmountIn, _ = decimal.NewFromString(amountIn)
	t.AmountOut, _ = decimal.NewFromString(amountOut)
	t.Price, _ = decimal.NewFromString(price)
	t.Fee, _ = decimal.NewFromString(fee)
	t.SettledAt = settledAt
	return &t, nil
}

func scanStake(row pgxRow) (*model.Stake, error) {
	var st model.Stake
	var amount, apy string
	var rewards *string
	if err := row.Scan(&st.ID, &st.UserID, &amount, &st.Token, &st.DurationDays, &apy,
		&st.StartDate, &st.EndDate, &rewards, &st.Status, &st.LastClaimDate); err != nil {
		return nil, err
	}
	st.Amount, _ = decimal.NewFromString(amount)
	st.APY, _ = decimal.NewFromString(apy)
	if rewards != nil {
		r, _ := decimal.NewFromString(*rewards)
		st.Rewards = &r
	}
	return &st, nil
}
