package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/solstake/ledger-engine/internal/events"
	"github.com/solstake/ledger-engine/internal/metrics"
	"github.com/solstake/ledger-engine/internal/model"
	"github.com/solstake/ledger-engine/internal/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

var defaultSlippagePct = decimal.NewFromInt(1)

// TradeResult is returned by ExecuteTrade. Amounts are in UI units.
type TradeResult struct {
	TradeID       string          `json:"trade_id"`
	Success       bool            `json:"success"`
	TxHash        string          `json:"tx_hash,omitempty"`
	InputAmount   decimal.Decimal `json:"input_amount"`
	OutputAmount  decimal.Decimal `json:"output_amount"`
	FailureReason string          `json:"failure_reason,omitempty"`
}

// GetQuote asks the provider for a route. It mutates nothing.
func (l *Ledger) GetQuote(ctx context.Context, inputAsset, outputAsset string, amount, slippagePct decimal.Decimal) (*model.Quote, error) {
	if l.quoter == nil {
		return nil, ErrProviderUnavailable
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: quote amount %s must be positive", ErrInvalidAmount, amount)
	}
	if inputAsset == "" || outputAsset == "" || inputAsset == outputAsset {
		return nil, fmt.Errorf("%w: %s -> %s", ErrQuoteUnavailable, inputAsset, outputAsset)
	}
	if !slippagePct.IsPositive() {
		slippagePct = defaultSlippagePct
	}

	q, err := l.quoter.Quote(ctx, QuoteRequest{
		InputAsset:  inputAsset,
		OutputAsset: outputAsset,
		Amount:      amount,
		SlippagePct: slippagePct,
	})
	if err != nil {
		metrics.QuotesTotal.WithLabelValues("error").Inc()
		if errors.Is(err, ErrProviderUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s -> %s: %w", ErrQuoteUnavailable, inputAsset, outputAsset, err)
	}
	metrics.QuotesTotal.WithLabelValues("ok").Inc()
	return q, nil
}

// BuildSwap asks the provider for the unsigned swap transaction the user's
// wallet must sign to execute quote.
func (l *Ledger) BuildSwap(ctx context.Context, userID string, quote model.Quote) (string, error) {
	if l.quoter == nil {
		return "", ErrProviderUnavailable
	}
	user, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return "", storeErr(err, "load user")
	}
	if user.WalletAddress == "" {
		return "", fmt.Errorf("%w: user %s", ErrWalletNotLinked, userID)
	}

	tx, err := l.quoter.BuildSwap(ctx, quote.Route, user.WalletAddress)
	if err != nil {
		if errors.Is(err, ErrProviderUnavailable) {
			return "", err
		}
		return "", fmt.Errorf("%w: build swap: %w", ErrQuoteUnavailable, err)
	}
	return tx, nil
}

// ExecuteTrade records a pending trade, executes the quoted route once and
// settles the trade as completed or failed. A provider failure is a failed
// trade, not an error.
func (l *Ledger) ExecuteTrade(ctx context.Context, userID string, quote model.Quote) (*TradeResult, error) {
	if l.quoter == nil {
		return nil, ErrProviderUnavailable
	}
	amountIn := quote.InputAmount
	if !amountIn.IsPositive() {
		return nil, fmt.Errorf("%w: trade amount %s must be positive", ErrInvalidAmount, amountIn)
	}
	routed, err := l.quoter.InputAmount(quote.Route)
	if err != nil {
		return nil, fmt.Errorf("%w: route input: %w", ErrInvalidAmount, err)
	}
	if !routed.Equal(amountIn) {
		return nil, fmt.Errorf("%w: trade amount %s does not match route input %s", ErrInvalidAmount, amountIn, routed)
	}
	if err := l.limiter.CheckTrade(amountIn); err != nil {
		metrics.LimitRejections.WithLabelValues("trade").Inc()
		return nil, fmt.Errorf("%w: %w", ErrLimitExceeded, err)
	}
	if _, err := l.store.GetUser(ctx, userID); err != nil {
		return nil, storeErr(err, "load user")
	}

	start := l.now().UTC()
	trade := &model.Trade{
		ID:        uuid.New().String(),
		UserID:    userID,
		TokenIn:   quote.InputAsset,
		TokenOut:  quote.OutputAsset,
		AmountIn:  amountIn,
		Status:    model.TradePending,
		Timestamp: start,
		Fee:       quote.Fees,
	}
	if err := l.store.CreateTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("%w: create trade: %w", ErrPersistence, err)
	}

	res, execErr := l.quoter.Execute(ctx, quote.Route)
	settlement := settlementFor(amountIn, quote.Fees, res, execErr)
	settlement.SettledAt = l.now().UTC()

	// The provider may already have moved funds: the settlement must land
	// even if the caller has gone away.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.settleTimeout)
	defer cancel()

	settled, err := l.store.SettleTrade(settleCtx, trade.ID, settlement, tradeSettledDelta(amountIn, settlement))
	switch {
	case errors.Is(err, store.ErrAggregateUpdate):
		metrics.AggregateFailures.WithLabelValues("settle_trade").Inc()
		slog.Error("trade settled without aggregate update", "trade_id", trade.ID, "user", userID, "err", err)
		if settled != nil {
			l.emit(ctx, tradeSettledEvent(settled, amountIn))
		}
		return resultFor(settled), fmt.Errorf("%w: trade %s: %w", ErrAggregateUpdateFailed, trade.ID, err)
	case err != nil:
		slog.Error("trade settlement failed, trade left pending",
			"trade_id", trade.ID,
			"user", userID,
			"outcome", settlement.Status,
			"tx_hash", settlement.TxHash,
			"err", err,
		)
		return nil, fmt.Errorf("%w: settle trade %s: %w", ErrPersistence, trade.ID, err)
	}

	latency := settlement.SettledAt.Sub(start).Seconds()
	metrics.TradesTotal.WithLabelValues(settled.Status).Inc()
	metrics.TradeLatency.WithLabelValues(settled.Status).Observe(latency)
	metrics.TradeVolume.WithLabelValues(settled.TokenIn).Add(amountIn.InexactFloat64())
	slog.Info("trade settled",
		"trade_id", settled.ID,
		"user", userID,
		"status", settled.Status,
		"token_in", settled.TokenIn,
		"token_out", settled.TokenOut,
		"amount_in", amountIn.String(),
		"amount_out", settled.AmountOut.String(),
		"tx_hash", settled.TxHash,
	)

	l.emit(ctx, tradeSettledEvent(settled, amountIn))
	return resultFor(settled), nil
}

// GetTradeHistory returns the user's trades newest first. limit <= 0 means
// the default page size.
func (l *Ledger) GetTradeHistory(ctx context.Context, userID string, limit int) ([]model.Trade, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	trades, err := l.store.ListTradesByUser(ctx, userID, limit)
	if err != nil {
		return nil, storeErr(err, "list trades")
	}
	return trades, nil
}

// settlementFor turns the provider's answer into the trade's terminal fields.
func settlementFor(amountIn, quotedFee decimal.Decimal, res *ExecResult, execErr error) model.TradeSettlement {
	s := model.TradeSettlement{Fee: quotedFee}
	if res != nil {
		s.TxHash = res.TxHash
	}

	switch {
	case execErr != nil:
		s.Status = model.TradeFailed
		s.FailureReason = execErr.Error()
	case res == nil || !res.Success:
		s.Status = model.TradeFailed
		s.FailureReason = "swap rejected by provider"
		if res != nil && res.Error != "" {
			s.FailureReason = res.Error
		}
	default:
		s.Status = model.TradeCompleted
		s.AmountOut = res.OutAmount
		s.Price = res.OutAmount.Div(amountIn)
		if !res.Fee.IsZero() {
			s.Fee = res.Fee
		}
	}
	return s
}

func resultFor(t *model.Trade) *TradeResult {
	if t == nil {
		return nil
	}
	return &TradeResult{
		TradeID:       t.ID,
		Success:       t.Status == model.TradeCompleted,
		TxHash:        t.TxHash,
		InputAmount:   t.AmountIn,
		OutputAmount:  t.AmountOut,
		FailureReason: t.FailureReason,
	}
}

func tradeSettledEvent(t *model.Trade, amountIn decimal.Decimal) events.Event {
	ev := events.Event{
		Type:      events.TradeSettled,
		UserID:    t.UserID,
		EntityID:  t.ID,
		Status:    t.Status,
		Amount:    amountIn,
		AmountOut: t.AmountOut,
	}
	if t.SettledAt != nil {
		ev.At = *t.SettledAt
	}
	return ev
}
