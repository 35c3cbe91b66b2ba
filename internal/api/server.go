// Package api exposes the pipeline's HTTP surface: campaign lifecycle
// endpoints, stats, the delivery-event webhook, and tracking routes.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/lumamail/pipeline/internal/ingest"
	"github.com/lumamail/pipeline/internal/tracking"
)

// Server is the HTTP front of the pipeline.
type Server struct {
	handlers *Handlers
	receiver *ingest.Receiver
	tracker  *tracking.Handler
	router   *chi.Mux
	server   *http.Server
}

// NewServer wires the router. tracker may be nil when tracking routes are
// served by a separate deployment.
func NewServer(h *Handlers, receiver *ingest.Receiver, tracker *tracking.Handler) *Server {
	s := &Server{handlers: h, receiver: receiver, tracker: tracker}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://app.lumamail.io", "http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handlers.Health)

	// Provider webhook: no CORS concerns, key-authenticated.
	r.Post("/delivery-events", s.receiver.HandleDeliveryEvents)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", s.handlers.ListCampaigns)
			r.Post("/", s.handlers.CreateCampaign)
			r.Route("/{campaignID}", func(r chi.Router) {
				r.Get("/", s.handlers.GetCampaign)
				r.Post("/schedule", s.handlers.ScheduleCampaign)
				r.Post("/cancel", s.handlers.CancelCampaign)
				r.Get("/stats", s.handlers.CampaignStats)
			})
		})
	})

	if s.tracker != nil {
		r.Get("/track/open", s.tracker.HandleOpen)
		r.Get("/track/click", s.tracker.HandleClick)
		r.Get("/track/unsubscribe", s.tracker.HandleUnsubscribe)
	}
	return r
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
