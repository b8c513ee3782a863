// Package reconcile checks that every user's stored aggregates equal the
// fold of their trades and stakes, and optionally repairs drift.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/solstake/ledger-engine/internal/ledger"
	"github.com/solstake/ledger-engine/internal/metrics"
	"github.com/solstake/ledger-engine/internal/model"
	"github.com/solstake/ledger-engine/internal/store"
)

// Report summarizes one pass.
type Report struct {
	Users    int
	Drifted  int
	Repaired int
	Skipped  int // drifted but left for the next pass
	Failed   int
}

// Reconciler compares stored aggregates against recomputed ones.
type Reconciler struct {
	store  store.Store
	repair bool
	grace  time.Duration
	now    func() time.Time
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithGrace leaves users whose latest trade or stake transition is younger
// than d unrepaired, since their paired increment may still be in flight.
func WithGrace(d time.Duration) Option { return func(r *Reconciler) { r.grace = d } }

// WithClock overrides the time source used for the grace window.
func WithClock(now func() time.Time) Option { return func(r *Reconciler) { r.now = now } }

// New creates a reconciler. With repair set, drifted aggregates are
// overwritten with the recomputed values, conditional on the stored values
// not having moved since they were read.
func New(st store.Store, repair bool, opts ...Option) *Reconciler {
	r := &Reconciler{store: st, repair: repair, grace: time.Minute, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

type outcome int

const (
	clean outcome = iota
	drifted
	repaired
	skipped
)

// Run checks every user once. Per-user failures are logged and counted;
// only a failure to list users aborts the pass.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	var rep Report

	ids, err := r.store.ListUserIDs(ctx)
	if err != nil {
		metrics.ReconcileRuns.WithLabelValues("error").Inc()
		return rep, fmt.Errorf("reconcile: list users: %w", err)
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			metrics.ReconcileRuns.WithLabelValues("cancelled").Inc()
			return rep, err
		}
		rep.Users++

		out, err := r.checkUser(ctx, id)
		if err != nil {
			rep.Failed++
			slog.Error("reconcile user failed", "user", id, "err", err)
		}
		switch out {
		case drifted:
			rep.Drifted++
		case repaired:
			rep.Drifted++
			rep.Repaired++
		case skipped:
			rep.Drifted++
			rep.Skipped++
		}
	}

	metrics.ReconcileRuns.WithLabelValues("ok").Inc()
	slog.Info("reconcile pass complete",
		"users", rep.Users,
		"drifted", rep.Drifted,
		"repaired", rep.Repaired,
		"skipped", rep.Skipped,
		"failed", rep.Failed,
	)
	return rep, nil
}

func (r *Reconciler) checkUser(ctx context.Context, id string) (outcome, error) {
	snap, err := r.load(ctx, id)
	if err != nil {
		return clean, err
	}
	if snap.stored.Equal(snap.fold) {
		return clean, nil
	}

	// Recheck once so a transition that landed between the reads above is
	// not reported as drift.
	if snap, err = r.load(ctx, id); err != nil {
		return clean, err
	}
	if snap.stored.Equal(snap.fold) {
		return clean, nil
	}

	metrics.ReconcileDrift.Inc()
	slog.Warn("user aggregates drifted",
		"user", id,
		"stored_volume", snap.stored.TotalTradeVolume.String(),
		"fold_volume", snap.fold.TotalTradeVolume.String(),
		"stored_trades", snap.stored.Stats.TotalTrades,
		"fold_trades", snap.fold.Stats.TotalTrades,
		"stored_staked", snap.stored.Stats.TotalStaked.String(),
		"fold_staked", snap.fold.Stats.TotalStaked.String(),
		"repair", r.repair,
	)
	if !r.repair {
		return drifted, nil
	}

	if age := r.now().Sub(snap.lastActivity); age < r.grace {
		slog.Info("reconcile repair deferred, recent activity", "user", id, "age", age)
		return skipped, nil
	}

	err = r.store.ResetUserAggregates(ctx, id, snap.stored, snap.fold)
	if errors.Is(err, store.ErrConflict) {
		slog.Info("reconcile repair deferred, aggregates moved", "user", id)
		return skipped, nil
	}
	if err != nil {
		return drifted, fmt.Errorf("reset aggregates: %w", err)
	}
	return repaired, nil
}

type snapshot struct {
	stored       model.Aggregates
	fold         model.Aggregates
	lastActivity time.Time
}

func (r *Reconciler) load(ctx context.Context, id string) (snapshot, error) {
	u, err := r.store.GetUser(ctx, id)
	if err != nil {
		return snapshot{}, fmt.Errorf("load user: %w", err)
	}
	trades, err := r.store.ListTradesByUser(ctx, id, 0)
	if err != nil {
		return snapshot{}, fmt.Errorf("list trades: %w", err)
	}
	stakes, err := r.store.ListStakesByUser(ctx, id, "")
	if err != nil {
		return snapshot{}, fmt.Errorf("list stakes: %w", err)
	}
	return snapshot{
		stored:       model.Aggregates{TotalTradeVolume: u.TotalTradeVolume, Stats: u.Stats},
		fold:         ledger.FoldAggregates(trades, stakes),
		lastActivity: lastActivity(trades, stakes),
	}, nil
}

// lastActivity is the latest transition time among the user's trades and
// stakes.
func lastActivity(trades []model.Trade, stakes []model.Stake) time.Time {
	var last time.Time
	later := func(t time.Time) {
		if t.After(last) {
			last = t
		}
	}
	for _, t := range trades {
		if t.SettledAt != nil {
			later(*t.SettledAt)
		}
	}
	for _, st := range stakes {
		later(st.StartDate)
		if st.LastClaimDate != nil {
			later(*st.LastClaimDate)
		}
	}
	return last
}
