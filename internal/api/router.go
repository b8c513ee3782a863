package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/solstake/ledger-engine/internal/metrics"
)

// NewRouter builds the service router: middleware, /health, /metrics and
// the /api/v1 routes. hub may be nil to disable the websocket endpoint.
func NewRouter(h *Handler, hub *WSHub, requestTimeout time.Duration) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if requestTimeout > 0 {
		r.Use(middleware.Timeout(requestTimeout))
	}
	r.Use(metrics.Middleware)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"ledger-engine"}`))
	})

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if hub != nil {
			r.Get("/ws", hub.HandleWS)
		}

		r.Post("/users", h.RegisterUser)
		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/", h.GetUser)
			r.Put("/wallet", h.LinkWallet)
			r.Put("/settings", h.UpdateSettings)
			r.Get("/stats", h.GetUserStats)
			r.Get("/balance", h.GetBalance)
			r.Get("/trades", h.GetTradeHistory)
			r.Get("/stakes", h.GetActiveStakes)
			r.Get("/tickets", h.GetTickets)
		})

		// Swaps.
		r.Post("/quote", h.GetQuote)
		r.Post("/swap-transaction", h.BuildSwap)
		r.Post("/trades", h.ExecuteTrade)

		// Staking.
		r.Get("/stake/tiers", h.GetTiers)
		r.Post("/stakes", h.CreateStake)
		r.Get("/stakes/{stakeID}/rewards", h.GetRewards)
		r.Post("/stakes/{stakeID}/unstake", h.Unstake)

		r.Get("/leaderboard", h.GetLeaderboard)

		r.Get("/prices/{symbol}", h.GetPrice)
		r.Put("/prices/{symbol}", h.PutPrice)
	})

	return r
}

// cors allows cross-origin requests from the mini-app frontend.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
