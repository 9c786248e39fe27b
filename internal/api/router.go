/**
 * @description
 * This file sets up the HTTP router for the ledger-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for browser clients.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// LedgerRoutes creates and returns a new router for the ledger service.
func LedgerRoutes(h *LedgerHandlers, jwksURL string, internalKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Group routes that require authentication.
		r.Group(func(r chi.Router) {
			// Apply JWT authentication middleware for production
			r.Use(AuthMiddleware(jwksURL))

			// Ledger endpoints
			r.Post("/ledger/deposits", h.DepositHandler)
			r.Post("/ledger/withdrawals", h.WithdrawHandler)
			r.Post("/ledger/relocations", h.RelocationHandler)
			r.Get("/ledger/relocations/{messageID}", h.GetRelocationHandler)
			r.Get("/ledger/balances", h.ListBalancesHandler)
			r.Get("/ledger/history", h.LedgerHistoryHandler)

			// Relocation mandate endpoints
			r.Get("/ledger/mandate", h.GetMandateHandler)
			r.Put("/ledger/mandate", h.UpdateMandateHandler)

			// Strategy catalog
			r.Get("/strategies", h.ListStrategiesHandler)
		})

		// Operator endpoints, guarded by the internal API key.
		r.Route("/admin", func(r chi.Router) {
			r.Use(InternalAuthMiddleware(internalKey))
			r.Get("/intents", h.ListIntentsHandler)
			r.Post("/intents/{messageID}/force-fail", h.ForceFailIntentHandler)
			r.Put("/rates", h.UpsertRatesHandler)
			r.Post("/strategies/{id}/pause", h.PauseStrategyHandler)
			r.Post("/strategies/{id}/resume", h.ResumeStrategyHandler)
			r.Post("/positions/undeploy", h.UndeployPositionHandler)
		})
	})

	return r
}
