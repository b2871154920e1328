package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/detectai/backend/internal/auth"
	"github.com/detectai/backend/internal/handlers"
	"github.com/detectai/backend/internal/middleware"
)

// Deps are the handlers mounted by New.
type Deps struct {
	Auth        *auth.Handler
	Sessions    middleware.Authenticator
	APIKeys     *handlers.APIKeyHandler
	Predictions *handlers.PredictionHandler
	History     *handlers.HistoryHandler
	Health      http.HandlerFunc
	WebSocket   http.Handler

	AllowedOrigins []string
}

// New returns the HTTP API under /api plus the websocket endpoint at /ws.
func New(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Handle("/ws", d.WebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", d.Health)
		r.Post("/auth/register", d.Auth.Register)
		r.Post("/auth/login", d.Auth.Login)

		r.Group(func(r chi.Router) {
			r.Use(middleware.SessionAuth(d.Sessions))

			r.Route("/api-keys", func(r chi.Router) {
				r.Get("/", d.APIKeys.List)
				r.Post("/", d.APIKeys.Create)
				r.Put("/{id}", d.APIKeys.Update)
				r.Delete("/{id}", d.APIKeys.Delete)
				r.Get("/{id}/usage", d.APIKeys.Usage)
			})
			r.With(middleware.RequirePrivileged).Get("/stats/api-key-logs", d.APIKeys.Stats)

			r.Post("/predictions", d.Predictions.Create)

			r.Get("/history", d.History.List)
			r.With(middleware.RequirePrivileged).Get("/history/recencies", d.History.Recent)
		})
	})

	return cors.New(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.APIKeyHeader},
		AllowCredentials: true,
	}).Handler(r)
}
