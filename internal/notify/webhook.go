package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// WebhookNotifier sends alerts via an HTTP webhook.
type WebhookNotifier struct {
	URL    string
	Method string
	Remark string

	client *resty.Client
}

// NewWebhookNotifier creates a webhook channel. An empty method means POST.
func NewWebhookNotifier(url, method, remark string) *WebhookNotifier {
	if method == "" {
		method = "POST"
	}
	client := resty.New()
	client.SetTimeout(10 * time.Second)
	client.SetHeader("Content-Type", "application/json")
	return &WebhookNotifier{URL: url, Method: method, Remark: remark, client: client}
}

func (w *WebhookNotifier) Type() string { return "webhook" }

func (w *WebhookNotifier) Validate() error {
	if w.URL == "" {
		return errors.New("webhook: url is required")
	}
	if w.Method == "" {
		return errors.New("webhook: method is required")
	}
	return nil
}

func (w *WebhookNotifier) Send(ctx context.Context, event AlertEvent) error {
	payload := map[string]any{
		"subscriber_id": event.SubscriberID,
		"task_id":       event.TaskID,
		"type":          event.Type,
		"target":        event.Target,
		"title":         event.Title,
		"timestamp":     event.Timestamp,
		"time":          FormatTime(event),
	}
	if w.Remark != "" {
		payload["remark"] = w.Remark
	}

	res, err := w.client.R().
		SetContext(ctx).
		SetBody(payload).
		Execute(w.Method, w.URL)
	if err != nil {
		return fmt.Errorf("webhook: send request: %w", err)
	}
	if res.IsError() || res.StatusCode() < 200 || res.StatusCode() >= 300 {
		return fmt.Errorf("webhook: unexpected status %d", res.StatusCode())
	}
	return nil
}
