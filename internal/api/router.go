/**
 * @description
 * This file sets up the HTTP router for the transfer-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication and CORS.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling for browser clients.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig controls the cross-cutting middleware applied by TransferRoutes.
type RouterConfig struct {
	// JWTSecret enables bearer authentication on /api/v1 when non-empty.
	JWTSecret      string
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// TransferRoutes creates and returns a new router for the transfer service.
func TransferRoutes(h *TransferHandlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.JWTSecret != "" {
			r.Use(AuthMiddleware([]byte(cfg.JWTSecret)))
		}

		r.Post("/transfers", h.CreateTransferHandler)
		r.Get("/transfers/{id}", h.GetTransferHandler)

		r.Get("/accounts/{id}/transfers", h.ListAccountTransfersHandler)
		r.Get("/accounts/{id}/notifications", h.ListAccountNotificationsHandler)
	})

	return r
}
