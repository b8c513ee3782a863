// Package ledger is the position ledger core: stake creation, reward accrual
// and closure, the trade lifecycle, and the per-user aggregates derived from
// both.
//
// Every terminal transition (trade settled, stake ended) is written together
// with its aggregate delta in a single store operation, so the user stats are
// always the fold of the user's terminal trades and stakes.
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solstake/ledger-engine/internal/events"
	"github.com/solstake/ledger-engine/internal/limits"
	"github.com/solstake/ledger-engine/internal/model"
	"github.com/solstake/ledger-engine/internal/store"
)

// QuoteRequest asks the provider for a route. Amount is in UI units of the
// input asset.
type QuoteRequest struct {
	InputAsset  string
	OutputAsset string
	Amount      decimal.Decimal
	SlippagePct decimal.Decimal
}

// ExecResult is the provider's report of a swap execution. OutAmount and Fee
// are in UI units of the output asset.
type ExecResult struct {
	Success   bool
	TxHash    string
	OutAmount decimal.Decimal
	Fee       decimal.Decimal
	Error     string
}

// Quoter finds and executes swap routes.
type Quoter interface {
	Quote(ctx context.Context, req QuoteRequest) (*model.Quote, error)
	Execute(ctx context.Context, route model.Route) (*ExecResult, error)
	BuildSwap(ctx context.Context, route model.Route, walletAddress string) (string, error)
	// InputAmount returns the route's input in UI units of its input token.
	InputAmount(route model.Route) (decimal.Decimal, error)
}

// BalanceProvider reads on-chain wallet balances.
type BalanceProvider interface {
	Balance(ctx context.Context, address string) (uint64, error)
	ValidateAddress(address string) error
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithQuoter sets the swap quote/execution provider.
func WithQuoter(q Quoter) Option { return func(l *Ledger) { l.quoter = q } }

// WithBalanceProvider sets the wallet balance provider.
func WithBalanceProvider(b BalanceProvider) Option { return func(l *Ledger) { l.wallet = b } }

// WithTiers replaces the default staking tier table.
func WithTiers(t Tiers) Option { return func(l *Ledger) { l.tiers = t } }

// WithLimiter sets the exposure limiter.
func WithLimiter(lim *limits.Limiter) Option { return func(l *Ledger) { l.limiter = lim } }

// WithEvents sets the handler that receives terminal transition events.
func WithEvents(h events.Handler) Option { return func(l *Ledger) { l.events = h } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }

// WithSettleTimeout bounds the trade settlement write.
func WithSettleTimeout(d time.Duration) Option { return func(l *Ledger) { l.settleTimeout = d } }

// Ledger implements the ledger operations over a store.
type Ledger struct {
	store         store.Store
	quoter        Quoter
	wallet        BalanceProvider
	tiers         Tiers
	limiter       *limits.Limiter
	events        events.Handler
	now           func() time.Time
	settleTimeout time.Duration
}

// New creates a ledger over st. Without WithQuoter, trade operations return
// ErrProviderUnavailable.
func New(st store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:         st,
		tiers:         DefaultTiers(),
		now:           time.Now,
		settleTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// emit delivers ev to the configured handler. Delivery is best-effort and
// never changes the outcome of the operation that produced the event.
func (l *Ledger) emit(ctx context.Context, ev events.Event) {
	if l.events == nil {
		return
	}
	_ = l.events.Handle(context.WithoutCancel(ctx), ev)
}
