// Package api exposes the ledger over HTTP and pushes ledger events to
// websocket clients.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/solstake/ledger-engine/internal/ledger"
	"github.com/solstake/ledger-engine/internal/lottery"
	"github.com/solstake/ledger-engine/internal/model"
	"github.com/solstake/ledger-engine/internal/store"
)

// TicketSource reports a user's lottery tickets.
type TicketSource interface {
	Tickets(ctx context.Context, userID string) (*lottery.UserTickets, error)
}

// PriceStore reads and writes token price snapshots.
type PriceStore interface {
	GetTokenPrice(ctx context.Context, symbol string) (*model.TokenPrice, error)
	UpsertTokenPrice(ctx context.Context, p *model.TokenPrice) error
}

// Handler serves the /api/v1 routes.
type Handler struct {
	ledger  *ledger.Ledger
	tickets TicketSource
	prices  PriceStore
}

// NewHandler creates a handler. tickets and prices may be nil; their routes
// then answer 503.
func NewHandler(l *ledger.Ledger, tickets TicketSource, prices PriceStore) *Handler {
	return &Handler{ledger: l, tickets: tickets, prices: prices}
}

// --- Request/Response types ---

// RegisterRequest is the JSON body for POST /users.
type RegisterRequest struct {
	TelegramID string `json:"telegram_id"`
	Username   string `json:"username"`
}

// LinkWalletRequest is the JSON body for PUT /users/{userID}/wallet.
type LinkWalletRequest struct {
	Address string `json:"address"`
}

// QuoteRequest is the JSON body for POST /quote. When slippage_pct is
// omitted and user_id is set, the user's slippage setting applies.
type QuoteRequest struct {
	UserID      string          `json:"user_id,omitempty"`
	InputAsset  string          `json:"input_asset"`
	OutputAsset string          `json:"output_asset"`
	Amount      decimal.Decimal `json:"amount"`
	SlippagePct decimal.Decimal `json:"slippage_pct"`
}

// QuotedRequest carries a previously returned quote back for signing or
// execution. For execution, quote.route.signed_tx holds the wallet-signed
// transaction.
type QuotedRequest struct {
	UserID string      `json:"user_id"`
	Quote  model.Quote `json:"quote"`
}

// SwapTransactionResponse is returned from POST /swap-transaction.
type SwapTransactionResponse struct {
	SwapTransaction string `json:"swap_transaction"`
}

// CreateStakeRequest is the JSON body for POST /stakes.
type CreateStakeRequest struct {
	UserID       string          `json:"user_id"`
	Amount       decimal.Decimal `json:"amount"`
	DurationDays int             `json:"duration_days"`
}

// RewardsResponse is returned from GET /stakes/{stakeID}/rewards.
type RewardsResponse struct {
	StakeID string          `json:"stake_id"`
	Rewards decimal.Decimal `json:"rewards"`
	AsOf    time.Time       `json:"as_of"`
}

// UnstakeResponse is returned from POST /stakes/{stakeID}/unstake.
type UnstakeResponse struct {
	Stake   *model.Stake    `json:"stake"`
	Rewards decimal.Decimal `json:"rewards"`
}

// BalanceResponse is returned from GET /users/{userID}/balance.
type BalanceResponse struct {
	UserID  string          `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
	Token   string          `json:"token"`
}

// PriceRequest is the JSON body for PUT /prices/{symbol}.
type PriceRequest struct {
	Price     decimal.Decimal `json:"price"`
	Change24h decimal.Decimal `json:"change_24h"`
	Volume24h decimal.Decimal `json:"volume_24h"`
}

// --- Users ---

// RegisterUser handles POST /api/v1/users. Answers 201 on creation and 200
// when the telegram id is already registered.
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	u, created, err := h.ledger.RegisterUser(r.Context(), req.TelegramID, req.Username)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, u)
}

// GetUser handles GET /api/v1/users/{userID}
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.ledger.GetUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// LinkWallet handles PUT /api/v1/users/{userID}/wallet
func (h *Handler) LinkWallet(w http.ResponseWriter, r *http.Request) {
	var req LinkWalletRequest
	if !decode(w, r, &req) {
		return
	}
	u, err := h.ledger.LinkWallet(r.Context(), chi.URLParam(r, "userID"), req.Address)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// UpdateSettings handles PUT /api/v1/users/{userID}/settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req model.UserSettings
	if !decode(w, r, &req) {
		return
	}
	u, err := h.ledger.UpdateSettings(r.Context(), chi.URLParam(r, "userID"), req)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// GetUserStats handles GET /api/v1/users/{userID}/stats
func (h *Handler) GetUserStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.ledger.GetUserStats(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetBalance handles GET /api/v1/users/{userID}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	bal, err := h.ledger.WalletBalance(r.Context(), userID)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{UserID: userID, Balance: bal, Token: ledger.StakeToken})
}

// GetTradeHistory handles GET /api/v1/users/{userID}/trades?limit=N
func (h *Handler) GetTradeHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	trades, err := h.ledger.GetTradeHistory(r.Context(), chi.URLParam(r, "userID"), limit)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// GetActiveStakes handles GET /api/v1/users/{userID}/stakes
func (h *Handler) GetActiveStakes(w http.ResponseWriter, r *http.Request) {
	stakes, err := h.ledger.GetActiveStakes(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	if stakes == nil {
		stakes = []model.Stake{}
	}
	writeJSON(w, http.StatusOK, stakes)
}

// GetTickets handles GET /api/v1/users/{userID}/tickets
func (h *Handler) GetTickets(w http.ResponseWriter, r *http.Request) {
	if h.tickets == nil {
		writeError(w, "lottery unavailable", http.StatusServiceUnavailable)
		return
	}
	t, err := h.tickets.Tickets(r.Context(), chi.URLParam(r, "userID"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "no active lottery round", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("load tickets failed", "err", err, "request_id", requestID(r))
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if t.Entries == nil {
		t.Entries = []model.LotteryTicket{}
	}
	writeJSON(w, http.StatusOK, t)
}

// --- Trades ---

// GetQuote handles POST /api/v1/quote
func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if !decode(w, r, &req) {
		return
	}

	slippage := req.SlippagePct
	if !slippage.IsPositive() && req.UserID != "" {
		u, err := h.ledger.GetUser(r.Context(), req.UserID)
		if err != nil {
			writeLedgerError(w, r, err)
			return
		}
		slippage = u.Settings.SlippageTolerance
	}

	q, err := h.ledger.GetQuote(r.Context(), req.InputAsset, req.OutputAsset, req.Amount, slippage)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// BuildSwap handles POST /api/v1/swap-transaction
func (h *Handler) BuildSwap(w http.ResponseWriter, r *http.Request) {
	var req QuotedRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	tx, err := h.ledger.BuildSwap(r.Context(), req.UserID, req.Quote)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SwapTransactionResponse{SwapTransaction: tx})
}

// ExecuteTrade handles POST /api/v1/trades. A trade the provider rejected
// is still a 200 with success=false.
func (h *Handler) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req QuotedRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	res, err := h.ledger.ExecuteTrade(r.Context(), req.UserID, req.Quote)
	if err != nil && !(errors.Is(err, ledger.ErrAggregateUpdateFailed) && res != nil) {
		writeLedgerError(w, r, err)
		return
	}
	// On ErrAggregateUpdateFailed the trade itself settled; the reconciler
	// fixes the user's stats.
	writeJSON(w, http.StatusOK, res)
}

// --- Stakes ---

// GetTiers handles GET /api/v1/stake/tiers
func (h *Handler) GetTiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ledger.Tiers())
}

// CreateStake handles POST /api/v1/stakes
func (h *Handler) CreateStake(w http.ResponseWriter, r *http.Request) {
	var req CreateStakeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	st, err := h.ledger.CreateStake(r.Context(), req.UserID, req.Amount, req.DurationDays)
	if err != nil && !(errors.Is(err, ledger.ErrAggregateUpdateFailed) && st != nil) {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

// GetRewards handles GET /api/v1/stakes/{stakeID}/rewards
func (h *Handler) GetRewards(w http.ResponseWriter, r *http.Request) {
	stakeID := chi.URLParam(r, "stakeID")
	rewards, err := h.ledger.CalculateRewards(r.Context(), stakeID)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RewardsResponse{StakeID: stakeID, Rewards: rewards, AsOf: time.Now().UTC()})
}

// Unstake handles POST /api/v1/stakes/{stakeID}/unstake
func (h *Handler) Unstake(w http.ResponseWriter, r *http.Request) {
	st, rewards, err := h.ledger.Unstake(r.Context(), chi.URLParam(r, "stakeID"))
	if err != nil && !(errors.Is(err, ledger.ErrAggregateUpdateFailed) && st != nil) {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, UnstakeResponse{Stake: st, Rewards: rewards})
}

// --- Stats ---

// GetLeaderboard handles GET /api/v1/leaderboard?limit=N
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	board, err := h.ledger.GetLeaderboard(r.Context(), limit)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	if board == nil {
		board = []ledger.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, board)
}

// --- Prices ---

// GetPrice handles GET /api/v1/prices/{symbol}
func (h *Handler) GetPrice(w http.ResponseWriter, r *http.Request) {
	if h.prices == nil {
		writeError(w, "prices unavailable", http.StatusServiceUnavailable)
		return
	}
	p, err := h.prices.GetTokenPrice(r.Context(), strings.ToUpper(chi.URLParam(r, "symbol")))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "price not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("load price failed", "err", err, "request_id", requestID(r))
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// PutPrice handles PUT /api/v1/prices/{symbol}. Used by the price feeder.
func (h *Handler) PutPrice(w http.ResponseWriter, r *http.Request) {
	if h.prices == nil {
		writeError(w, "prices unavailable", http.StatusServiceUnavailable)
		return
	}
	var req PriceRequest
	if !decode(w, r, &req) {
		return
	}
	if !req.Price.IsPositive() {
		writeError(w, "price must be positive", http.StatusBadRequest)
		return
	}
	p := &model.TokenPrice{
		Symbol:      strings.ToUpper(chi.URLParam(r, "symbol")),
		Price:       req.Price,
		Change24h:   req.Change24h,
		Volume24h:   req.Volume24h,
		LastUpdated: time.Now().UTC(),
	}
	if err := h.prices.UpsertTokenPrice(r.Context(), p); err != nil {
		slog.Error("store price failed", "err", err, "request_id", requestID(r))
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- Helpers ---

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func queryInt(w http.ResponseWriter, r *http.Request, key string) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, key+" must be an integer", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
