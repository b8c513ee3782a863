// Package model defines the core domain types shared across the ledger engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Trade statuses. A trade leaves TradePending exactly once.
const (
	TradePending   = "pending"
	TradeCompleted = "completed"
	TradeFailed    = "failed"
)

// Stake statuses.
const (
	StakeActive  = "active"
	StakeEnded   = "ended"
	StakeClaimed = "claimed"
)

// Lottery round statuses.
const (
	LotteryActive    = "active"
	LotteryCompleted = "completed"
	LotteryCancelled = "cancelled"
)

// Ticket sources.
const (
	TicketSourceTrade = "trade"
	TicketSourceStake = "stake"
	TicketSourceBonus = "bonus"
)

// User is one Telegram identity. Created once, mutated by every trade and
// stake event, never deleted.
type User struct {
	ID               string          `json:"id" db:"id" bson:"_id"`
	TelegramID       string          `json:"telegram_id" db:"telegram_id" bson:"telegramId"`
	Username         string          `json:"username" db:"username" bson:"username"`
	WalletAddress    string          `json:"wallet_address,omitempty" db:"wallet_address" bson:"walletAddress,omitempty"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at" bson:"createdAt"`
	TotalTradeVolume decimal.Decimal `json:"total_trade_volume" db:"total_trade_volume" bson:"totalTradeVolume"`
	Stats            UserStats       `json:"stats" bson:"stats"`
	Settings         UserSettings    `json:"settings" bson:"settings"`
}

// UserStats is the per-user aggregate maintained alongside trade and stake
// records. TotalStaked is the principal of all active stakes.
type UserStats struct {
	TotalTrades      int64           `json:"total_trades" db:"total_trades" bson:"totalTrades"`
	SuccessfulTrades int64           `json:"successful_trades" db:"successful_trades" bson:"successfulTrades"`
	FailedTrades     int64           `json:"failed_trades" db:"failed_trades" bson:"failedTrades"`
	ProfitLoss       decimal.Decimal `json:"profit_loss" db:"profit_loss" bson:"profitLoss"`
	TotalStaked      decimal.Decimal `json:"total_staked" db:"total_staked" bson:"totalStaked"`
	TotalRewards     decimal.Decimal `json:"total_rewards" db:"total_rewards" bson:"totalRewards"`
}

// UserSettings holds client preferences.
type UserSettings struct {
	Notifications     bool            `json:"notifications" db:"notifications" bson:"notifications"`
	SlippageTolerance decimal.Decimal `json:"slippage_tolerance" db:"slippage_tolerance" bson:"slippageTolerance"` // percent
	DarkMode          bool            `json:"dark_mode" db:"dark_mode" bson:"darkMode"`
}

// DefaultSettings returns the settings a new user starts with.
func DefaultSettings() UserSettings {
	return UserSettings{
		Notifications:     true,
		SlippageTolerance: decimal.NewFromInt(1),
	}
}

// StatsDelta is a set of increments applied atomically to a user's
// aggregates. Zero fields are no-ops.
type StatsDelta struct {
	TotalTrades      int64
	SuccessfulTrades int64
	FailedTrades     int64
	Volume           decimal.Decimal
	ProfitLoss       decimal.Decimal
	Staked           decimal.Decimal
	Rewards          decimal.Decimal
}

// Aggregates is the full set of derived per-user totals.
type Aggregates struct {
	TotalTradeVolume decimal.Decimal
	Stats            UserStats
}

// Equal compares every field numerically, so 1.0 equals 1.
func (a Aggregates) Equal(b Aggregates) bool {
	return a.TotalTradeVolume.Equal(b.TotalTradeVolume) &&
		a.Stats.TotalTrades == b.Stats.TotalTrades &&
		a.Stats.SuccessfulTrades == b.Stats.SuccessfulTrades &&
		a.Stats.FailedTrades == b.Stats.FailedTrades &&
		a.Stats.ProfitLoss.Equal(b.Stats.ProfitLoss) &&
		a.Stats.TotalStaked.Equal(b.Stats.TotalStaked) &&
		a.Stats.TotalRewards.Equal(b.Stats.TotalRewards)
}

// Trade is one swap attempt. Created pending, settled once.
type Trade struct {
	ID            string          `json:"id" db:"id" bson:"_id"`
	UserID        string          `json:"user_id" db:"user_id" bson:"userId"`
	TokenIn       string          `json:"token_in" db:"token_in" bson:"tokenIn"`
	TokenOut      string          `json:"token_out" db:"token_out" bson:"tokenOut"`
	AmountIn      decimal.Decimal `json:"amount_in" db:"amount_in" bson:"amountIn"`
	AmountOut     decimal.Decimal `json:"amount_out" db:"amount_out" bson:"amountOut"`
	Status        string          `json:"status" db:"status" bson:"status"`
	Timestamp     time.Time       `json:"timestamp" db:"timestamp" bson:"timestamp"`
	SettledAt     *time.Time      `json:"settled_at,omitempty" db:"settled_at" bson:"settledAt,omitempty"`
	TxHash        string          `json:"tx_hash,omitempty" db:"tx_hash" bson:"txHash,omitempty"`
	Price         decimal.Decimal `json:"price" db:"price" bson:"price"`
	Fee           decimal.Decimal `json:"fee" db:"fee" bson:"fee"`
	FailureReason string          `json:"failure_reason,omitempty" db:"failure_reason" bson:"failureReason,omitempty"`
}

// TradeSettlement carries the fields written by the single terminal
// transition of a trade.
type TradeSettlement struct {
	Status        string
	AmountOut     decimal.Decimal
	TxHash        string
	Price         decimal.Decimal
	Fee           decimal.Decimal
	FailureReason string
	SettledAt     time.Time
}

// Stake is one fixed-term staking position. APY is frozen at creation.
type Stake struct {
	ID            string           `json:"id" db:"id" bson:"_id"`
	UserID        string           `json:"user_id" db:"user_id" bson:"userId"`
	Amount        decimal.Decimal  `json:"amount" db:"amount" bson:"amount"`
	Token         string           `json:"token" db:"token" bson:"token"`
	DurationDays  int              `json:"duration_days" db:"duration_days" bson:"durationDays"`
	APY           decimal.Decimal  `json:"apy" db:"apy" bson:"apy"`
	StartDate     time.Time        `json:"start_date" db:"start_date" bson:"startDate"`
	EndDate       time.Time        `json:"end_date" db:"end_date" bson:"endDate"`
	Rewards       *decimal.Decimal `json:"rewards,omitempty" db:"rewards" bson:"rewards,omitempty"`
	Status        string           `json:"status" db:"status" bson:"status"`
	LastClaimDate *time.Time       `json:"last_claim_date,omitempty" db:"last_claim_date" bson:"lastClaimDate,omitempty"`
}

// StakeSettlement carries the fields written when a stake ends.
type StakeSettlement struct {
	Rewards decimal.Decimal
	EndedAt time.Time
}

// Lottery is one ticket round.
type Lottery struct {
	ID           string          `json:"id" db:"id" bson:"_id"`
	Round        int64           `json:"round" db:"round" bson:"round"`
	StartDate    time.Time       `json:"start_date" db:"start_date" bson:"startDate"`
	EndDate      time.Time       `json:"end_date" db:"end_date" bson:"endDate"`
	PrizePool    decimal.Decimal `json:"prize_pool" db:"prize_pool" bson:"prizePool"`
	Status       string          `json:"status" db:"status" bson:"status"`
	Winners      []LotteryWinner `json:"winners" bson:"winners"`
	TotalTickets int64           `json:"total_tickets" db:"total_tickets" bson:"totalTickets"`
}

// LotteryWinner is one paid-out prize of a round.
type LotteryWinner struct {
	UserID  string          `json:"user_id" bson:"userId"`
	Prize   decimal.Decimal `json:"prize" bson:"prize"`
	Claimed bool            `json:"claimed" bson:"claimed"`
}

// LotteryTicket records tickets earned by a user in a round.
type LotteryTicket struct {
	ID        string    `json:"id" db:"id" bson:"_id"`
	UserID    string    `json:"user_id" db:"user_id" bson:"userId"`
	LotteryID string    `json:"lottery_id" db:"lottery_id" bson:"lotteryId"`
	Count     int64     `json:"count" db:"count" bson:"count"`
	Source    string    `json:"source" db:"source" bson:"source"`
	CreatedAt time.Time `json:"created_at" db:"created_at" bson:"createdAt"`
}

// TokenPrice is the latest price snapshot for a symbol.
type TokenPrice struct {
	Symbol      string          `json:"symbol" db:"symbol" bson:"_id"`
	Price       decimal.Decimal `json:"price" db:"price" bson:"price"`
	Change24h   decimal.Decimal `json:"change_24h" db:"change_24h" bson:"change24h"`
	Volume24h   decimal.Decimal `json:"volume_24h" db:"volume_24h" bson:"volume24h"`
	LastUpdated time.Time       `json:"last_updated" db:"last_updated" bson:"lastUpdated"`
}

// Route is a provider-computed swap path. Amounts are in base units
// (lamports for SOL). Raw is the provider's opaque quote payload; SignedTx
// is the wallet-signed transaction (base64) that executes it.
type Route struct {
	InputMint   string          `json:"input_mint"`
	OutputMint  string          `json:"output_mint"`
	InAmount    decimal.Decimal `json:"in_amount"`
	OutAmount   decimal.Decimal `json:"out_amount"`
	SlippageBps int             `json:"slippage_bps"`
	Raw         json.RawMessage `json:"raw,omitempty"`
	SignedTx    string          `json:"signed_tx,omitempty"`
}

// Quote is the advisory result of a route lookup. Amounts are in UI units
// of the respective tokens.
type Quote struct {
	InputAsset     string          `json:"input_asset"`
	OutputAsset    string          `json:"output_asset"`
	InputAmount    decimal.Decimal `json:"input_amount"`
	OutputAmount   decimal.Decimal `json:"output_amount"`
	PriceImpactPct decimal.Decimal `json:"price_impact_pct"`
	Fees           decimal.Decimal `json:"fees"`
	Route          Route           `json:"route"`
}
