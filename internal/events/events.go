// Package events carries ledger transition notifications to subscribers:
// the lottery ticket issuer, the websocket hub and the NATS publisher.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// Event types.
const (
	TradeSettled = "trade_settled"
	StakeCreated = "stake_created"
	StakeEnded   = "stake_ended"
)

// Event describes one terminal ledger transition.
type Event struct {
	Type         string          `json:"type"`
	UserID       string          `json:"user_id"`
	EntityID     string          `json:"entity_id"`
	Status       string          `json:"status"`
	Amount       decimal.Decimal `json:"amount"`
	AmountOut    decimal.Decimal `json:"amount_out"`
	Rewards      decimal.Decimal `json:"rewards"`
	DurationDays int             `json:"duration_days,omitempty"`
	At           time.Time       `json:"at"`
}

// Handler consumes ledger events. Handlers must not block for long: they run
// on the ledger call path.
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev Event) error

func (f HandlerFunc) Handle(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Fanout delivers an event to every registered handler in order. A failing
// handler is logged and does not stop delivery to the rest.
type Fanout struct {
	handlers []namedHandler
}

type namedHandler struct {
	name string
	h    Handler
}

// NewFanout creates an empty fanout.
func NewFanout() *Fanout {
	return &Fanout{}
}

// Add registers h under name. Not safe for use after the first Handle call.
func (f *Fanout) Add(name string, h Handler) {
	f.handlers = append(f.handlers, namedHandler{name: name, h: h})
}

// Handle implements Handler. It always returns nil.
func (f *Fanout) Handle(ctx context.Context, ev Event) error {
	for _, nh := range f.handlers {
		if err := nh.h.Handle(ctx, ev); err != nil {
			slog.Error("event handler failed",
				"handler", nh.name,
				"type", ev.Type,
				"entity_id", ev.EntityID,
				"err", err,
			)
		}
	}
	return nil
}
