package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makt28/stockwatch/internal/config"
)

type mockTelegramAPI struct {
	sendMessageFn func(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	sendPhotoFn   func(ctx context.Context, params *bot.SendPhotoParams) (*models.Message, error)
}

func (m *mockTelegramAPI) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	return m.sendMessageFn(ctx, params)
}

func (m *mockTelegramAPI) SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*models.Message, error) {
	return m.sendPhotoFn(ctx, params)
}

func TestTelegramSenderSendText(t *testing.T) {
	var got *bot.SendMessageParams
	api := &mockTelegramAPI{
		sendMessageFn: func(_ context.Context, p *bot.SendMessageParams) (*models.Message, error) {
			got = p
			return &models.Message{}, nil
		},
	}

	s := NewTelegramSender(api, 0)
	require.NoError(t, s.SendText(context.Background(), "12345", "hello"))

	require.NotNil(t, got)
	assert.Equal(t, int64(12345), got.ChatID)
	assert.Equal(t, "hello", got.Text)
}

func TestTelegramSenderSendImage(t *testing.T) {
	var got *bot.SendPhotoParams
	api := &mockTelegramAPI{
		sendPhotoFn: func(_ context.Context, p *bot.SendPhotoParams) (*models.Message, error) {
			got = p
			return &models.Message{}, nil
		},
	}

	s := NewTelegramSender(api, 10)
	require.NoError(t, s.SendImage(context.Background(), "@shop_alerts", []byte{0x89, 'P', 'N', 'G'}, "Status: available"))

	require.NotNil(t, got)
	assert.Equal(t, "@shop_alerts", got.ChatID)
	assert.Equal(t, "Status: available", got.Caption)

	upload, ok := got.Photo.(*models.InputFileUpload)
	require.True(t, ok)
	data, err := io.ReadAll(upload.Data)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, data)
}

func TestTelegramSenderWrapsErrors(t *testing.T) {
	boom := errors.New("boom")
	api := &mockTelegramAPI{
		sendMessageFn: func(context.Context, *bot.SendMessageParams) (*models.Message, error) {
			return nil, boom
		},
	}

	err := NewTelegramSender(api, 0).SendText(context.Background(), "1", "x")
	assert.ErrorIs(t, err, boom)
}

func TestTelegramSenderHonoursCancelledContext(t *testing.T) {
	calls := 0
	api := &mockTelegramAPI{
		sendMessageFn: func(context.Context, *bot.SendMessageParams) (*models.Message, error) {
			calls++
			return &models.Message{}, nil
		},
	}
	s := NewTelegramSender(api, 1)
	require.NoError(t, s.SendText(context.Background(), "1", "first"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, s.SendText(ctx, "1", "second"))
	assert.Equal(t, 1, calls)
}

func TestParseChatID(t *testing.T) {
	assert.Equal(t, int64(-100123), ParseChatID("-100123"))
	assert.Equal(t, "@channel", ParseChatID("@channel"))
}

type recordingMessenger struct {
	mu    sync.Mutex
	texts []string
}

func (m *recordingMessenger) SendText(_ context.Context, chatID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, chatID+":"+text)
	return nil
}

func (m *recordingMessenger) SendImage(context.Context, string, []byte, string) error {
	return nil
}

func TestRouterSendsThroughMessenger(t *testing.T) {
	m := &recordingMessenger{}
	r := NewRouter(m, config.NewStatic(config.DefaultConfig()))

	require.NoError(t, r.SendText(context.Background(), "42", "hi"))
	assert.Equal(t, []string{"42:hi"}, m.texts)
}

func TestRouterWithoutMessenger(t *testing.T) {
	r := NewRouter(nil, config.NewStatic(config.DefaultConfig()))
	assert.ErrorIs(t, r.SendText(context.Background(), "42", "hi"), ErrNoMessenger)
	assert.ErrorIs(t, r.SendImage(context.Background(), "42", nil, ""), ErrNoMessenger)
}

func TestRouterAlertFansOutToWebhooks(t *testing.T) {
	var mu sync.Mutex
	var bodies []map[string]any
	var methods []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		bodies = append(bodies, body)
		methods = append(methods, r.Method)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	cfg := config.DefaultConfig()
	cfg.System.Timezone = "UTC"
	cfg.Webhooks = []config.WebhookConfig{
		{URL: failing.URL, Method: "POST"},
		{URL: srv.URL, Method: "PUT", Remark: "shop"},
		{URL: ""}, // invalid, skipped
	}
	r := NewRouter(nil, config.NewStatic(cfg))

	r.Alert(context.Background(), AlertEvent{
		SubscriberID: "42",
		TaskID:       "t-1",
		Type:         EventAvailable,
		Target:       "https://www.amazon.fr/dp/1",
		Timestamp:    0,
	})

	require.Len(t, bodies, 1)
	assert.Equal(t, "PUT", methods[0])
	assert.Equal(t, "42", bodies[0]["subscriber_id"])
	assert.Equal(t, "available", bodies[0]["type"])
	assert.Equal(t, "shop", bodies[0]["remark"])
	assert.Equal(t, "1970-01-01 00:00:00 UTC", bodies[0]["time"])
}

func TestRouterAlertKeepsEventTimezone(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := config.DefaultConfig()
	cfg.System.Timezone = "UTC"
	cfg.Webhooks = []config.WebhookConfig{{URL: srv.URL, Method: "POST"}}
	r := NewRouter(nil, config.NewStatic(cfg))

	r.Alert(context.Background(), AlertEvent{SubscriberID: "42", Type: EventAvailable, Timezone: "Europe/Paris"})
	require.NotNil(t, got)
	assert.Equal(t, "1970-01-01 01:00:00 Europe/Paris", got["time"])

	got = nil
	r.Alert(context.Background(), AlertEvent{SubscriberID: "42", Type: EventAvailable})
	require.NotNil(t, got)
	assert.Equal(t, "1970-01-01 00:00:00 UTC", got["time"])
}

func TestWebhookValidate(t *testing.T) {
	assert.Error(t, NewWebhookNotifier("", "", "").Validate())
	w := NewWebhookNotifier("https://hooks.example.com/x", "", "")
	assert.NoError(t, w.Validate())
	assert.Equal(t, "POST", w.Method)
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "1970-01-01 00:00:10 UTC", FormatTime(AlertEvent{Timestamp: 10}))
	assert.Equal(t, "1970-01-01 00:00:10 UTC", FormatTime(AlertEvent{Timestamp: 10, Timezone: "Not/AZone"}))
	assert.Equal(t, "1970-01-01 01:00:10 Europe/Paris", FormatTime(AlertEvent{Timestamp: 10, Timezone: "Europe/Paris"}))
}
