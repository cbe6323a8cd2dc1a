package archiver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new chi router with all archiver endpoints
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()

	// middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	// basic cors
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS", "DELETE", "PUT"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	// health check
	r.Get("/health", handler.Health)

	// api v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// sync endpoints
		r.Post("/sync", handler.StartSync)
		r.Delete("/sync/current", handler.StopSync)
		r.Get("/sync/status", handler.SyncStatus)

		// archive browsing endpoints
		r.Get("/dialogs", handler.ListDialogs)
		r.Get("/dialogs/{id}/messages", handler.ListMessages)

		// auth endpoints
		r.Get("/auth/status", handler.AuthStatus)
		r.Post("/auth/qr", handler.StartQRAuth)
		r.Delete("/auth/qr", handler.CancelQRAuth)
	})

	// websocket event stream
	if handler.hub != nil {
		r.Get("/ws", handler.hub.ServeWS)
	}

	return r
}
