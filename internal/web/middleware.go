package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/makt28/stockwatch/internal/config"
)

// AuthMiddleware enforces HTTP basic auth on protected routes. It is a no-op
// while no password hash is configured.
func AuthMiddleware(cfgMgr *config.Manager, limiter *LoginRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cfg := cfgMgr.Get().API
			if cfg.PasswordHash == "" {
				next.ServeHTTP(w, r)
				return
			}

			ip := clientIP(r)
			if limiter.IsLocked(ip) {
				respondError(w, "Too many login attempts. Try again later.", http.StatusTooManyRequests)
				return
			}

			username, password, ok := r.BasicAuth()
			if !ok {
				w.Header().Set("WWW-Authenticate", `Basic realm="stockwatch"`)
				respondError(w, "authentication required", http.StatusUnauthorized)
				return
			}
			if !checkCredentials(cfg, username, password) {
				limiter.RecordFailure(ip)
				slog.Warn("api login failed", "ip", ip, "username", username)
				w.Header().Set("WWW-Authenticate", `Basic realm="stockwatch"`)
				respondError(w, "invalid credentials", http.StatusUnauthorized)
				return
			}

			limiter.ClearIP(ip)
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger logs one line per request.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
