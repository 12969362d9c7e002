package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/makt28/stockwatch/internal/config"
	"github.com/makt28/stockwatch/internal/monitor"
	"github.com/makt28/stockwatch/internal/notify"
	"github.com/makt28/stockwatch/internal/storage"
)

// Registry is the part of the monitor registry exposed over HTTP.
type Registry interface {
	Start(ctx context.Context, subscriberID, targetURL string) (monitor.Task, error)
	Stop(subscriberID string) (time.Duration, error)
	Get(subscriberID string) (monitor.Task, bool)
	List() []monitor.Task
	Len() int
}

const (
	recentPoints = 50
	maxBodyBytes = 64 << 10
)

// Handlers holds the dependencies for the JSON API.
type Handlers struct {
	cfgMgr    *config.Manager
	monitors  Registry
	prober    monitor.Prober
	history   *storage.History
	messenger notify.Messenger
	now       func() time.Time
}

func NewHandlers(deps Deps) *Handlers {
	return &Handlers{
		cfgMgr:    deps.Config,
		monitors:  deps.Monitors,
		prober:    deps.Prober,
		history:   deps.History,
		messenger: deps.Messenger,
		now:       time.Now,
	}
}

type taskView struct {
	ID             string `json:"id"`
	SubscriberID   string `json:"subscriber_id"`
	TargetURL      string `json:"target_url"`
	Status         string `json:"status"`
	CheckCount     int    `json:"check_count"`
	StartTime      int64  `json:"start_time"`
	ElapsedSeconds int    `json:"elapsed_seconds"`
	LastEvidence   int64  `json:"last_evidence,omitempty"`
}

type detailView struct {
	taskView
	History []storage.CheckPoint `json:"history"`
	Summary *storage.Summary     `json:"summary,omitempty"`
}

func (h *Handlers) view(t monitor.Task) taskView {
	v := taskView{
		ID:             t.ID,
		SubscriberID:   t.SubscriberID,
		TargetURL:      t.TargetURL,
		Status:         t.LastStatus.String(),
		CheckCount:     t.CheckCount,
		StartTime:      t.StartTime.Unix(),
		ElapsedSeconds: int(t.Elapsed(h.now()).Seconds()),
	}
	if t.HasEvidence() {
		v.LastEvidence = t.LastEvidence.Unix()
	}
	return v
}

// ListMonitors returns every active task.
func (h *Handlers) ListMonitors(w http.ResponseWriter, r *http.Request) {
	tasks := h.monitors.List()
	views := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, h.view(t))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"monitors": views,
		"total":    len(views),
	})
}

// MonitorDetail returns one task with its recent history.
func (h *Handlers) MonitorDetail(w http.ResponseWriter, r *http.Request) {
	sub := chi.URLParam(r, "subscriber")
	task, ok := h.monitors.Get(sub)
	if !ok {
		respondError(w, "monitor not found", http.StatusNotFound)
		return
	}

	dv := detailView{taskView: h.view(task), History: []storage.CheckPoint{}}
	if h.history != nil {
		if pts := h.history.Recent(sub, recentPoints); pts != nil {
			dv.History = pts
		}
		if s, ok := h.history.Summarize(sub, h.now(), 24*time.Hour); ok {
			dv.Summary = &s
		}
	}
	respondJSON(w, http.StatusOK, dv)
}

type startRequest struct {
	URL string `json:"url"`
}

// StartMonitor starts monitoring for a subscriber. An empty url uses the
// configured default.
func (h *Handlers) StartMonitor(w http.ResponseWriter, r *http.Request) {
	sub := chi.URLParam(r, "subscriber")

	var req startRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	target := req.URL
	if target == "" {
		target = h.cfgMgr.Get().Monitor.DefaultURL
	}
	if !config.IsHTTPURL(target) {
		respondError(w, "url must be an absolute http(s) URL", http.StatusBadRequest)
		return
	}

	// Detach from the request so the first check survives a client hangup.
	task, err := h.monitors.Start(context.WithoutCancel(r.Context()), sub, target)
	switch {
	case err == nil:
		slog.Info("monitor started via api", "subscriber", sub, "url", target)
		respondJSON(w, http.StatusCreated, h.view(task))
	case errors.Is(err, monitor.ErrAlreadyActive):
		respondError(w, "monitoring is already active", http.StatusConflict)
	case errors.Is(err, monitor.ErrCapacity):
		respondError(w, "too many active monitors", http.StatusTooManyRequests)
	default:
		slog.Error("start monitor failed", "subscriber", sub, "error", err)
		respondError(w, "could not start monitoring", http.StatusInternalServerError)
	}
}

// StopMonitor stops monitoring for a subscriber.
func (h *Handlers) StopMonitor(w http.ResponseWriter, r *http.Request) {
	sub := chi.URLParam(r, "subscriber")
	elapsed, err := h.monitors.Stop(sub)
	if errors.Is(err, monitor.ErrNotFound) {
		respondError(w, "monitor not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("stop monitor failed", "subscriber", sub, "error", err)
		respondError(w, "could not stop monitoring", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":              true,
		"elapsed_seconds": int(elapsed.Seconds()),
		"elapsed":         monitor.FormatDuration(elapsed),
	})
}

// Check runs a one-off probe without touching registry state.
func (h *Handlers) Check(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	target := req.URL
	if target == "" {
		target = h.cfgMgr.Get().Monitor.DefaultURL
	}
	if !config.IsHTTPURL(target) {
		respondError(w, "url must be an absolute http(s) URL", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.cfgMgr.Get().Monitor.ProbeTimeoutDuration())
	defer cancel()
	result := h.prober.Probe(ctx, target)

	respondJSON(w, http.StatusOK, map[string]any{
		"ok":         !result.Errored,
		"url":        target,
		"status":     result.Signal.String(),
		"errored":    result.Errored,
		"reason":     result.Reason,
		"title":      result.Title,
		"latency_ms": result.Latency.Milliseconds(),
	})
}

type messageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

// SendMessage sends a bot message to a chat.
func (h *Handlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	if h.messenger == nil {
		respondError(w, "no bot configured", http.StatusServiceUnavailable)
		return
	}
	var req messageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ChatID == "" || req.Text == "" {
		respondError(w, "chat_id and text are required", http.StatusBadRequest)
		return
	}
	if err := h.messenger.SendText(r.Context(), req.ChatID, req.Text); err != nil {
		slog.Error("api send message failed", "chat", req.ChatID, "error", err)
		respondError(w, "send failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// decodeJSON reads a bounded JSON body into v. On failure it writes the error
// response and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, "request body too large", http.StatusRequestEntityTooLarge)
			return false
		}
		respondError(w, "invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response failed", "error", err)
	}
}

func respondError(w http.ResponseWriter, msg string, status int) {
	respondJSON(w, status, map[string]any{"ok": false, "message": msg})
}
