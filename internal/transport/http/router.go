package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"fatoora/internal/config"
	"fatoora/internal/middleware"
)

// RouterDeps collects everything the router serves
type RouterDeps struct {
	Session SessionService
	Metrics http.Handler
	WSHub   http.Handler
	Version string
	Logger  *slog.Logger
	Config  *config.Config
}

// NewRouter builds the full local API router with the middleware chain
func NewRouter(deps RouterDeps) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.StructuredLogger(deps.Logger))
	r.Use(middleware.Recoverer(deps.Logger))

	if deps.Config.Security.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(
			deps.Config.Security.RateLimit.RPS,
			deps.Config.Security.RateLimit.Burst,
			deps.Logger,
		)
		r.Use(limiter.Handler)
	}

	health := NewHealthHandler(deps.Version)
	r.Get("/healthz", health.Check)

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	auth := NewAuthHandler(deps.Session, deps.Logger)
	r.Mount("/api", auth.Routes())

	if deps.WSHub != nil {
		r.Method(http.MethodGet, "/ws/status", deps.WSHub)
	}

	return r
}
