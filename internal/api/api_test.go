package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/solstake/ledger-engine/internal/api"
	"github.com/solstake/ledger-engine/internal/events"
	"github.com/solstake/ledger-engine/internal/ledger"
	"github.com/solstake/ledger-engine/internal/lottery"
	"github.com/solstake/ledger-engine/internal/model"
	"github.com/solstake/ledger-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// fakeQuoter quotes at 2x and executes every route unless reject is set.
type fakeQuoter struct {
	mu     sync.Mutex
	reject string
}

func (q *fakeQuoter) Quote(_ context.Context, req ledger.QuoteRequest) (*model.Quote, error) {
	out := req.Amount.Mul(d(2))
	return &model.Quote{
		InputAsset:   req.InputAsset,
		OutputAsset:  req.OutputAsset,
		InputAmount:  req.Amount,
		OutputAmount: out,
		Route:        model.Route{InAmount: req.Amount, OutAmount: out, SlippageBps: int(req.SlippagePct.Mul(d(100)).IntPart())},
	}, nil
}

func (q *fakeQuoter) Execute(_ context.Context, route model.Route) (*ledger.ExecResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.reject != "" {
		return &ledger.ExecResult{Success: false, Error: q.reject}, nil
	}
	return &ledger.ExecResult{Success: true, TxHash: "sig-1", OutAmount: route.OutAmount}, nil
}

func (q *fakeQuoter) BuildSwap(_ context.Context, _ model.Route, wallet string) (string, error) {
	return "unsigned-for-" + wallet, nil
}

func (q *fakeQuoter) InputAmount(route model.Route) (decimal.Decimal, error) {
	return route.InAmount, nil
}

type fakeWallet struct{}

func (fakeWallet) Balance(_ context.Context, _ string) (uint64, error) { return 1_500_000_000, nil }

func (fakeWallet) ValidateAddress(address string) error {
	if len(address) < 32 {
		return errors.New("too short")
	}
	return nil
}

type testEnv struct {
	store  *store.MemoryStore
	quoter *fakeQuoter
	router chi.Router
	hub    *api.WSHub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	issuer := lottery.NewIssuer(ms, lottery.Config{PerTrade: 1, PerStakeMonth: 2})
	if _, err := issuer.EnsureRound(context.Background()); err != nil {
		t.Fatalf("EnsureRound: %v", err)
	}

	hub := api.NewWSHub()
	fan := events.NewFanout()
	fan.Add("lottery", issuer)
	fan.Add("ws", hub)

	q := &fakeQuoter{}
	l := ledger.New(ms,
		ledger.WithQuoter(q),
		ledger.WithBalanceProvider(fakeWallet{}),
		ledger.WithEvents(fan),
	)
	h := api.NewHandler(l, issuer, ms)
	return &testEnv{store: ms, quoter: q, router: api.NewRouter(h, hub, 5*time.Second), hub: hub}
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func (env *testEnv) register(t *testing.T, telegramID string) model.User {
	t.Helper()
	w := env.do(t, "POST", "/api/v1/users", api.RegisterRequest{TelegramID: telegramID, Username: "u" + telegramID})
	if w.Code != http.StatusCreated && w.Code != http.StatusOK {
		t.Fatalf("register: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var u model.User
	decodeBody(t, w, &u)
	return u
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	decodeBody(t, w, &body)
	return body["error"]
}

// --- Health ---

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, "GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "ledger-engine") {
		t.Errorf("unexpected body %s", w.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, "OPTIONS", "/api/v1/trades", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}

// --- Users ---

func TestRegisterUser_CreatedThenExisting(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/users", api.RegisterRequest{TelegramID: "42", Username: "alice"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var first model.User
	decodeBody(t, w, &first)

	w = env.do(t, "POST", "/api/v1/users", api.RegisterRequest{TelegramID: "42", Username: "alice"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on repeat, got %d", w.Code)
	}
	var second model.User
	decodeBody(t, w, &second)
	if first.ID != second.ID {
		t.Errorf("expected same user, got %s and %s", first.ID, second.ID)
	}
}

func TestRegisterUser_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("POST", "/api/v1/users", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed body: expected 400, got %d", w.Code)
	}

	w = env.do(t, "POST", "/api/v1/users", api.RegisterRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing telegram id: expected 400, got %d", w.Code)
	}
	if msg := errorMessage(t, w); msg != "invalid input" {
		t.Errorf("expected kind message, got %q", msg)
	}
}

func TestGetUser_NotFound(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, "GET", "/api/v1/users/nobody", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if msg := errorMessage(t, w); msg != "not found" {
		t.Errorf("expected generic message, got %q", msg)
	}
}

func TestLinkWalletAndBalance(t *testing.T) {
	env := newTestEnv(t)
	u := env.register(t, "7")

	w := env.do(t, "PUT", "/api/v1/users/"+u.ID+"/wallet", api.LinkWalletRequest{Address: "short"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid address: expected 400, got %d", w.Code)
	}

	addr := "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	w = env.do(t, "PUT", "/api/v1/users/"+u.ID+"/wallet", api.LinkWalletRequest{Address: addr})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, "GET", "/api/v1/users/"+u.ID+"/balance", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var bal api.BalanceResponse
	decodeBody(t, w, &bal)
	if !bal.Balance.Equal(d(1.5)) {
		t.Errorf("expected balance 1.5, got %s", bal.Balance)
	}
}

func TestUpdateSettings(t *testing.T) {
	env := newTestEnv(t)
	u := env.register(t, "8")

	w := env.do(t, "PUT", "/api/v1/users/"+u.ID+"/settings", model.UserSettings{SlippageTolerance: d(80)})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for slippage 80, got %d", w.Code)
	}

	w = env.do(t, "PUT", "/api/v1/users/"+u.ID+"/settings", model.UserSettings{SlippageTolerance: d(0.5), DarkMode: true})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var got model.User
	decodeBody(t, w, &got)
	if !got.Settings.DarkMode || !got.Settings.SlippageTolerance.Equal(d(0.5)) {
		t.Errorf("settings not applied: %+v", got.Settings)
	}
}

// --- Trades ---

func (env *testEnv) quote(t *testing.T, req api.QuoteRequest) model.Quote {
	t.Helper()
	w := env.do(t, "POST", "/api/v1/quote", req)
	if w.Code != http.StatusOK {
		t.Fatalf("quote: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var q model.Quote
	decodeBody(t, w, &q)
	return q
}

func TestQuote_UsesUserSlippage(t *testing.T) {
	env := newTestEnv(t)
	u := env.register(t, "9")
	env.do(t, "PUT", "/api/v1/users/"+u.ID+"/settings", model.UserSettings{SlippageTolerance: d(3)})

	q := env.quote(t, api.QuoteRequest{UserID: u.ID, InputAsset: "SOL", OutputAsset: "USDC", Amount: d(1)})
	if q.Route.SlippageBps != 300 {
		t.Errorf("expected 300 bps from user settings, got %d", q.Route.SlippageBps)
	}
	if !q.OutputAmount.Equal(d(2)) {
		t.Errorf("expected output 2, got %s", q.OutputAmount)
	}
}

func TestQuote_Errors(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/quote", api.QuoteRequest{InputAsset: "SOL", OutputAsset: "SOL", Amount: d(1)})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("same asset: expected 422, got %d", w.Code)
	}

	w = env.do(t, "POST", "/api/v1/quote", api.QuoteRequest{InputAsset: "SOL", OutputAsset: "USDC", Amount: d(-1)})
	if w.Code != http.StatusBadRequest {
		t.Errorf("negative amount: expected 400, got %d", w.Code)
	}
}

func TestExecuteTrade_SuccessUpdatesStatsAndTickets(t *testing.T) {
	env := newTestEnv(t)
	u := env.register(t, "10")
	q := env.quote(t, api.QuoteRequest{InputAsset: "SOL", OutputAsset: "USDC", Amount: d(1.5), SlippagePct: d(1)})

	w := env.do(t, "POST", "/api/v1/trades", api.QuotedRequest{UserID: u.ID, Quote: q})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res ledger.TradeResult
	decodeBody(t, w, &res)
	if !res.Success || res.TxHash != "sig-1" {
		t.Errorf("unexpected result %+v", res)
	}

	w = env.do(t, "GET", "/api/v1/users/"+u.ID+"/stats", nil)
	var stats ledger.UserStats
	decodeBody(t, w, &stats)
	if stats.TotalTrades != 1 || !stats.Volume.Equal(d(1.5)) {
		t.Errorf("unexpected stats %+v", stats)
	}

	w = env.do(t, "GET", "/api/v1/users/"+u.ID+"/trades", nil)
	var trades []model.Trade
	decodeBody(t, w, &trades)
	if len(trades) != 1 || trades[0].Status != model.TradeCompleted {
		t.Fatalf("expected one completed trade, got %+v", trades)
	}

	w = env.do(t, "GET", "/api/v1/users/"+u.ID+"/tickets", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("tickets: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var tickets lottery.UserTickets
	decodeBody(t, w, &tickets)
	if tickets.Total != 1 {
		t.Errorf("expected 1 ticket for the trade, got %d", tickets.Total)
	}
}

func TestExecuteTrade_RejectedIsFailedTrade(t *testing.T) {
	env := newTestEnv(t)
	u := env.register(t, "11")
	q := env.quote(t, api.QuoteRequest{InputAsset: "SOL", OutputAsset: "USDC", Amount: d(1), SlippagePct: d(1)})
	env.quoter.reject = "slippage exceeded"

	w := env.do(t, "POST", "/api/v1/trades", api.QuotedRequest{UserID: u.ID, Quote: q})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res ledger.TradeResult
	decodeBody(t, w, &res)
	if res.Success {
		t.Error("expected success=false")
	}
	if res.FailureReason != "slippage exceeded" {
		t.Errorf("unexpected failure reason %q", res.FailureReason)
	}

	w = env.do(t, "GET", "/api/v1/users/"+u.ID+"/tickets", nil)
	var tickets lottery.UserTickets
	decodeBody(t, w, &tickets)
	if tickets.Total != 0 {
		t.Errorf("failed trades earn no tickets, got %d", tickets.Total)
	}
}

func TestExecuteTrade_Validation(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/trades", api.QuotedRequest{Quote: model.Quote{InputAmount: d(1)}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing user: expected 400, got %d", w.Code)
	}

	quote := model.Quote{InputAmount: d(1), Route: model.Route{InAmount: d(1), OutAmount: d(2)}}
	w = env.do(t, "POST", "/api/v1/trades", api.QuotedRequest{UserID: "ghost", Quote: quote})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown user: expected 404, got %d", w.Code)
	}

	u := env.register(t, "77")
	inflated := quote
	inflated.InputAmount = d(1000)
	w = env.do(t, "POST", "/api/v1/trades", api.QuotedRequest{UserID: u.ID, Quote: inflated})
	if w.Code != http.StatusBadRequest {
		t.Errorf("input not matching route: expected 400, got %d", w.Code)
	}
}

func TestBuildSwap_RequiresWallet(t *testing.T) {
	env := newTestEnv(t)
	u := env.register(t, "12")
	q := env.quote(t, api.QuoteRequest{InputAsset: "SOL", OutputAsset: "USDC", Amount: d(1), SlippagePct: d(1)})

	w := env.do(t, "POST", "/api/v1/swap-transaction", api.QuotedRequest{UserID: u.ID, Quote: q})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 without wallet, got %d", w.Code)
	}

	addr := "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	env.do(t, "PUT", "/api/v1/users/"+u.ID+"/wallet", api.LinkWalletRequest{Address: addr})
	w = env.do(t, "POST", "/api/v1/swap-transaction", api.QuotedRequest{UserID: u.ID, Quote: q})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp api.SwapTransactionResponse
	decodeBody(t, w, &resp)
	if resp.SwapTransaction != "unsigned-for-"+addr {
		t.Errorf("unexpected transaction %q", resp.SwapTransaction)
	}
}

// --- Stakes ---

func TestStakeLifecycle(t *testing.T) {
	env := newTestEnv(t)
	u := env.register(t, "13")

	w := env.do(t, "POST", "/api/v1/stakes", api.CreateStakeRequest{UserID: u.ID, Amount: d(10), DurationDays: 45})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown tier: expected 400, got %d", w.Code)
	}

	w = env.do(t, "POST", "/api/v1/stakes", api.CreateStakeRequest{UserID: u.ID, Amount: d(10), DurationDays: 90})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var st model.Stake
	decodeBody(t, w, &st)
	if !st.APY.Equal(d(0.15)) || st.Status != model.StakeActive {
		t.Errorf("unexpected stake %+v", st)
	}

	w = env.do(t, "GET", "/api/v1/users/"+u.ID+"/stakes", nil)
	var active []model.Stake
	decodeBody(t, w, &active)
	if len(active) != 1 {
		t.Fatalf("expected 1 active stake, got %d", len(active))
	}

	w = env.do(t, "GET", "/api/v1/stakes/"+st.ID+"/rewards", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("rewards: expected 200, got %d", w.Code)
	}
	var rewards api.RewardsResponse
	decodeBody(t, w, &rewards)
	if rewards.Rewards.IsNegative() {
		t.Errorf("rewards must not be negative, got %s", rewards.Rewards)
	}

	w = env.do(t, "GET", "/api/v1/users/"+u.ID+"/tickets", nil)
	var tickets lottery.UserTickets
	decodeBody(t, w, &tickets)
	if tickets.Total != 6 {
		t.Errorf("expected 6 tickets for a 90 day stake, got %d", tickets.Total)
	}

	w = env.do(t, "POST", "/api/v1/stakes/"+st.ID+"/unstake", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unstake: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var ended api.UnstakeResponse
	decodeBody(t, w, &ended)
	if ended.Stake.Status != model.StakeEnded {
		t.Errorf("expected ended stake, got %s", ended.Stake.Status)
	}

	w = env.do(t, "POST", "/api/v1/stakes/"+st.ID+"/unstake", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("second unstake: expected 409, got %d", w.Code)
	}
}

func TestGetTiers(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, "GET", "/api/v1/stake/tiers", nil)
	var tiers []ledger.Tier
	decodeBody(t, w, &tiers)
	if len(tiers) != 3 || tiers[0].DurationDays != 30 {
		t.Errorf("unexpected tiers %+v", tiers)
	}
}

// --- Leaderboard ---

func TestLeaderboard(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/v1/leaderboard", nil)
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Fatalf("empty leaderboard: got %d %s", w.Code, w.Body.String())
	}

	for i, amount := range []float64{5, 1, 3} {
		u := env.register(t, "lb"+string(rune('a'+i)))
		q := env.quote(t, api.QuoteRequest{InputAsset: "SOL", OutputAsset: "USDC", Amount: d(amount), SlippagePct: d(1)})
		env.do(t, "POST", "/api/v1/trades", api.QuotedRequest{UserID: u.ID, Quote: q})
	}

	w = env.do(t, "GET", "/api/v1/leaderboard?limit=2", nil)
	var board []ledger.LeaderboardEntry
	decodeBody(t, w, &board)
	if len(board) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(board))
	}
	if !board[0].Volume.Equal(d(5)) || !board[1].Volume.Equal(d(3)) {
		t.Errorf("unexpected order %s, %s", board[0].Volume, board[1].Volume)
	}

	w = env.do(t, "GET", "/api/v1/leaderboard?limit=abc", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad limit: expected 400, got %d", w.Code)
	}
}

// --- Prices ---

func TestPrices(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/v1/prices/sol", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before upsert, got %d", w.Code)
	}

	w = env.do(t, "PUT", "/api/v1/prices/sol", api.PriceRequest{Price: d(0)})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("zero price: expected 400, got %d", w.Code)
	}

	w = env.do(t, "PUT", "/api/v1/prices/sol", api.PriceRequest{Price: d(142.5), Change24h: d(-1.2)})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, "GET", "/api/v1/prices/SOL", nil)
	var p model.TokenPrice
	decodeBody(t, w, &p)
	if p.Symbol != "SOL" || !p.Price.Equal(d(142.5)) {
		t.Errorf("unexpected price %+v", p)
	}
}

// --- WebSocket ---

func TestWebSocket_FiltersByUser(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.hub.Run(ctx)

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws?user_id=u1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	env.hub.Handle(ctx, events.Event{Type: events.StakeCreated, UserID: "u2", EntityID: "other"})
	env.hub.Handle(ctx, events.Event{Type: events.StakeCreated, UserID: "u1", EntityID: "mine"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev events.Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.EntityID != "mine" {
		t.Errorf("expected only u1's event, got %+v", ev)
	}
}
