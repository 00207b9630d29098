package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/scheduling-assistant/internal/middleware"
	"github.com/capitalize-ai/scheduling-assistant/pkg/logger"
)

// RouterConfig collects what the HTTP surface needs. A nil Events disables
// the lifecycle event stream.
type RouterConfig struct {
	Threads *ThreadHandler
	Events  *EventsHandler
	Health  *HealthHandler
	Logger  *logger.Logger

	JWTSecret         string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	CORSOrigins       []string
}

// NewRouter builds the chi router for the API server.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", cfg.Health.Health)
	r.Get("/ready", cfg.Health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		if cfg.RateLimitRequests > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}

		r.Route("/threads", func(r chi.Router) {
			r.Post("/", cfg.Threads.Start)
			r.Get("/", cfg.Threads.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", cfg.Threads.Get)
				r.Post("/messages", cfg.Threads.SendMessage)
				r.Post("/resume", cfg.Threads.Resume)
				r.Post("/cancel", cfg.Threads.Cancel)
				if cfg.Events != nil {
					r.Get("/events", cfg.Events.Stream)
				}
			})
		})
	})

	return r
}
