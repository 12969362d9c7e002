package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/makt28/stockwatch/internal/config"
	"github.com/makt28/stockwatch/internal/monitor"
	"github.com/makt28/stockwatch/internal/notify"
	"github.com/makt28/stockwatch/internal/storage"
)

// Deps are the collaborators the HTTP API needs. History and Messenger may
// be nil.
type Deps struct {
	Config    *config.Manager
	Monitors  Registry
	Prober    monitor.Prober
	History   *storage.History
	Messenger notify.Messenger
	StopCh    <-chan struct{}
}

// NewRouter sets up all routes and returns the http.Handler.
func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config.Get()
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	limiter := NewLoginRateLimiter(cfg.API.MaxLoginAttempts, cfg.API.LockoutDuration, deps.StopCh)
	handlers := NewHandlers(deps)
	health := NewHealthHandler(deps.Monitors)

	// Public
	r.Method(http.MethodGet, "/healthz", health)

	// Protected
	r.Route("/api", func(r chi.Router) {
		r.Use(AuthMiddleware(deps.Config, limiter))

		r.Get("/monitors", handlers.ListMonitors)
		r.Get("/monitors/{subscriber}", handlers.MonitorDetail)
		r.Post("/monitors/{subscriber}", handlers.StartMonitor)
		r.Delete("/monitors/{subscriber}", handlers.StopMonitor)
		r.Post("/check", handlers.Check)
		r.Post("/messages", handlers.SendMessage)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, "not found", http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, "method not allowed", http.StatusMethodNotAllowed)
	})

	return r
}
