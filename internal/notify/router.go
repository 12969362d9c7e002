package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/makt28/stockwatch/internal/config"
)

const alertTimeout = 10 * time.Second

var ErrNoMessenger = errors.New("notify: no chat transport configured")

// Messenger delivers messages to a subscriber's chat.
type Messenger interface {
	SendText(ctx context.Context, chatID, text string) error
	SendImage(ctx context.Context, chatID string, png []byte, caption string) error
}

// Router is the single outbound path of the monitor: chat messages go to the
// messenger and alerts additionally fan out to the configured webhooks.
type Router struct {
	messenger Messenger
	cfgMgr    *config.Manager
}

// NewRouter creates a new notification router. messenger may be nil when the
// bot is not running, in which case chat sends fail with ErrNoMessenger.
func NewRouter(messenger Messenger, cfgMgr *config.Manager) *Router {
	return &Router{messenger: messenger, cfgMgr: cfgMgr}
}

func (r *Router) SendText(ctx context.Context, subscriberID, text string) error {
	if r.messenger == nil {
		return ErrNoMessenger
	}
	ctx, cancel := r.sendContext(ctx)
	defer cancel()
	return r.messenger.SendText(ctx, subscriberID, text)
}

func (r *Router) SendImage(ctx context.Context, subscriberID string, png []byte, caption string) error {
	if r.messenger == nil {
		return ErrNoMessenger
	}
	ctx, cancel := r.sendContext(ctx)
	defer cancel()
	return r.messenger.SendImage(ctx, subscriberID, png, caption)
}

func (r *Router) sendContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := r.cfgMgr.Get().Telegram.SendTimeoutDuration(); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// Alert sends event to every configured webhook. Failures are logged.
func (r *Router) Alert(ctx context.Context, event AlertEvent) {
	cfg := r.cfgMgr.Get()

	sinks := BuildSinks(cfg.Webhooks)
	if len(sinks) == 0 {
		slog.Debug("no alert webhooks configured, skipping fan-out", "subscriber", event.SubscriberID)
		return
	}

	if event.Timezone == "" {
		event.Timezone = cfg.System.Timezone
	}

	for i, sink := range sinks {
		if err := sink.Validate(); err != nil {
			slog.Warn("skipping invalid alert sink", "type", sink.Type(), "index", i, "error", err)
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, alertTimeout)
		if err := sink.Send(sendCtx, event); err != nil {
			slog.Error("alert send failed",
				"type", sink.Type(),
				"index", i,
				"subscriber", event.SubscriberID,
				"error", err,
			)
		} else {
			slog.Info("alert sent",
				"type", sink.Type(),
				"index", i,
				"subscriber", event.SubscriberID,
				"event_type", event.Type,
			)
		}
		cancel()
	}
}

// BuildSinks constructs the alert channels from the webhook config.
func BuildSinks(hooks []config.WebhookConfig) []AlertSink {
	sinks := make([]AlertSink, 0, len(hooks))
	for _, h := range hooks {
		sinks = append(sinks, NewWebhookNotifier(h.URL, h.Method, h.Remark))
	}
	return sinks
}

// FormatTime renders an event timestamp in its timezone, falling back to UTC.
func FormatTime(event AlertEvent) string {
	t := time.Unix(event.Timestamp, 0).UTC()
	tzLabel := "UTC"
	if event.Timezone != "" {
		if loc, err := time.LoadLocation(event.Timezone); err == nil {
			t = t.In(loc)
			tzLabel = event.Timezone
		}
	}
	return t.Format("2006-01-02 15:04:05") + " " + tzLabel
}
