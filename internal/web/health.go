package web

import (
	"net/http"
	"time"
)

var startTime = time.Now()

const version = "0.2.0"

// HealthHandler serves the /healthz endpoint.
type HealthHandler struct {
	monitors Registry
}

func NewHealthHandler(monitors Registry) *HealthHandler {
	return &HealthHandler{monitors: monitors}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        version,
		"uptime_seconds": int(time.Since(startTime).Seconds()),
		"monitor_count":  h.monitors.Len(),
	})
}
