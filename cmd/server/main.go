package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/solstake/ledger-engine/internal/api"
	"github.com/solstake/ledger-engine/internal/config"
	"github.com/solstake/ledger-engine/internal/events"
	"github.com/solstake/ledger-engine/internal/jupiter"
	"github.com/solstake/ledger-engine/internal/ledger"
	"github.com/solstake/ledger-engine/internal/limits"
	"github.com/solstake/ledger-engine/internal/lottery"
	"github.com/solstake/ledger-engine/internal/reconcile"
	"github.com/solstake/ledger-engine/internal/store"
	"github.com/solstake/ledger-engine/internal/wallet"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	switch {
	case cfg.Stores.Postgres.URL != "":
		pool, err := pgxpool.New(ctx, cfg.Stores.Postgres.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("database migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

	case cfg.Stores.Mongo.URI != "":
		ms, err := store.NewMongoStore(ctx, cfg.Stores.Mongo.URI, cfg.Stores.Mongo.Database)
		if err != nil {
			slog.Error("mongo connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
			defer cancel()
			ms.Close(closeCtx)
		})
		if err := ms.EnsureIndexes(ctx); err != nil {
			slog.Error("mongo index setup failed", "err", err)
			os.Exit(1)
		}
		st = ms
		slog.Info("connected to MongoDB", "database", cfg.Stores.Mongo.Database)

	default:
		slog.Warn("no database configured, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// Wrap with Redis read-through cache if configured.
	if cfg.Stores.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Stores.Redis.URL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.Stores.Redis.TTL)
		slog.Info("Redis cache enabled", "ttl", cfg.Stores.Redis.TTL)
	}

	// --- Providers ---
	rpcURL := cfg.Solana.RPCURL
	if rpcURL == "" {
		rpcURL = rpc.MainNetBeta_RPC
	}
	sol := wallet.New(rpcURL)
	cleanup = append(cleanup, func() { sol.Close() })

	tokens, err := jupiter.NewTokenTable(cfg.Jupiter.Tokens)
	if err != nil {
		slog.Error("invalid token table", "err", err)
		os.Exit(1)
	}
	jup := jupiter.New(cfg.Jupiter.BaseURL, tokens, sol, cfg.Jupiter.Timeout)
	if cfg.Jupiter.ConfirmTimeout > 0 {
		jup.ConfirmTimeout = cfg.Jupiter.ConfirmTimeout
	}

	// --- Limits and tiers ---
	tiers, err := cfg.StakingTiers()
	if err != nil {
		slog.Error("invalid staking tiers", "err", err)
		os.Exit(1)
	}
	caps, err := cfg.LimitAmounts()
	if err != nil {
		slog.Error("invalid limits", "err", err)
		os.Exit(1)
	}
	limiter := limits.New(caps.MaxPerStake, caps.MaxPrincipal, caps.MaxPerTrade)

	// --- Event subscribers ---
	fan := events.NewFanout()

	issuer := lottery.NewIssuer(st, lottery.Config{
		PerTrade:      cfg.Tickets.PerTrade,
		PerStakeMonth: cfg.Tickets.PerStakeMonth,
		RoundLength:   cfg.Tickets.RoundLength,
	})
	if _, err := issuer.EnsureRound(ctx); err != nil {
		slog.Error("lottery round setup failed", "err", err)
		os.Exit(1)
	}
	fan.Add("lottery", issuer)

	wsHub := api.NewWSHub()
	go wsHub.Run(ctx)
	fan.Add("websocket", wsHub)

	if cfg.PubSub.NATS.URL != "" {
		pub, err := events.NewNATSPublisher(cfg.PubSub.NATS.URL, cfg.PubSub.NATS.SubjectPrefix)
		if err != nil {
			slog.Error("nats connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, func() { pub.Close() })
		fan.Add("nats", pub)
		slog.Info("NATS publishing enabled", "prefix", cfg.PubSub.NATS.SubjectPrefix)
	}

	// --- Ledger ---
	led := ledger.New(st,
		ledger.WithQuoter(jup),
		ledger.WithBalanceProvider(sol),
		ledger.WithTiers(tiers),
		ledger.WithLimiter(limiter),
		ledger.WithEvents(fan),
		ledger.WithSettleTimeout(cfg.App.SettleTimeout),
	)

	// --- Reconciliation ---
	if cfg.Reconcile.Enabled {
		runner := reconcile.NewRunner(ctx)
		if _, err := runner.Schedule(cfg.Reconcile.Schedule, reconcile.New(st, cfg.Reconcile.Repair, reconcile.WithGrace(cfg.Reconcile.Grace))); err != nil {
			slog.Error("invalid reconcile schedule", "schedule", cfg.Reconcile.Schedule, "err", err)
			os.Exit(1)
		}
		runner.Start()
		cleanup = append(cleanup, runner.Stop)
	}

	// --- HTTP ---
	handler := api.NewHandler(led, issuer, st)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      api.NewRouter(handler, wsHub, cfg.HTTP.RequestTimeout),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		slog.Info("ledger-engine listening", "port", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	slog.Info("shutting down ledger-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("ledger-engine stopped")
}
