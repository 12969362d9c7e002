package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/makt28/stockwatch/internal/config"
	"github.com/makt28/stockwatch/internal/monitor"
	"github.com/makt28/stockwatch/internal/storage"
)

type fakeRegistry struct {
	mu    sync.Mutex
	tasks map[string]monitor.Task
	max   int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{tasks: make(map[string]monitor.Task), max: 10}
}

func (f *fakeRegistry) Start(_ context.Context, sub, target string) (monitor.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[sub]; ok {
		return monitor.Task{}, monitor.ErrAlreadyActive
	}
	if len(f.tasks) >= f.max {
		return monitor.Task{}, monitor.ErrCapacity
	}
	t := monitor.Task{ID: "t-" + sub, SubscriberID: sub, TargetURL: target, StartTime: time.Now(), CheckCount: 1}
	f.tasks[sub] = t
	return t, nil
}

func (f *fakeRegistry) Stop(sub string) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[sub]
	if !ok {
		return 0, monitor.ErrNotFound
	}
	delete(f.tasks, sub)
	return time.Since(t.StartTime), nil
}

func (f *fakeRegistry) Get(sub string) (monitor.Task, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[sub]
	return t, ok
}

func (f *fakeRegistry) List() []monitor.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]monitor.Task, 0, len(f.tasks))
	for _, t := range f.tasks {
		out = append(out, t)
	}
	return out
}

func (f *fakeRegistry) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

type stubProber struct{ result monitor.ProbeResult }

func (s stubProber) Probe(context.Context, string) monitor.ProbeResult { return s.result }
func (s stubProber) CaptureEvidence(context.Context, string) ([]byte, error) {
	return nil, errors.New("not used")
}

type sentMessage struct{ chat, text string }

type stubMessenger struct {
	sent []sentMessage
	err  error
}

func (s *stubMessenger) SendText(_ context.Context, chat, text string) error {
	s.sent = append(s.sent, sentMessage{chat, text})
	return s.err
}

func (s *stubMessenger) SendImage(context.Context, string, []byte, string) error { return s.err }

type testServer struct {
	handler   http.Handler
	registry  *fakeRegistry
	history   *storage.History
	messenger *stubMessenger
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })

	ts := &testServer{
		registry:  newFakeRegistry(),
		history:   storage.NewHistory(100),
		messenger: &stubMessenger{},
	}
	ts.handler = NewRouter(Deps{
		Config:    config.NewStatic(cfg),
		Monitors:  ts.registry,
		Prober:    stubProber{result: monitor.ProbeResult{Signal: monitor.StatusAvailable, Title: "Widget", Latency: 120 * time.Millisecond}},
		History:   ts.history,
		Messenger: ts.messenger,
		StopCh:    stop,
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, nil)
	_, err := ts.registry.Start(context.Background(), "1", "https://example.com")
	require.NoError(t, err)

	rec, out := ts.do(t, http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, version, out["version"])
	assert.EqualValues(t, 1, out["monitor_count"])
}

func TestStartMonitorLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)

	rec, out := ts.do(t, http.MethodPost, "/api/monitors/42", `{"url":"https://www.amazon.fr/dp/1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "https://www.amazon.fr/dp/1", out["target_url"])

	rec, out = ts.do(t, http.MethodPost, "/api/monitors/42", `{"url":"https://www.amazon.fr/dp/1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, false, out["ok"])

	rec, out = ts.do(t, http.MethodGet, "/api/monitors", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, out["total"])

	rec, out = ts.do(t, http.MethodDelete, "/api/monitors/42", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["ok"])
	assert.Contains(t, out, "elapsed_seconds")

	rec, _ = ts.do(t, http.MethodDelete, "/api/monitors/42", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartMonitorDefaultURL(t *testing.T) {
	ts := newTestServer(t, nil)

	rec, out := ts.do(t, http.MethodPost, "/api/monitors/7", "")

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, config.DefaultConfig().Monitor.DefaultURL, out["target_url"])
}

func TestStartMonitorErrors(t *testing.T) {
	ts := newTestServer(t, nil)

	rec, out := ts.do(t, http.MethodPost, "/api/monitors/1", `{"url":"ftp://example.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, out["ok"])

	rec, _ = ts.do(t, http.MethodPost, "/api/monitors/1", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ts.registry.max = 0
	rec, _ = ts.do(t, http.MethodPost, "/api/monitors/1", `{"url":"https://example.com"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestMonitorDetail(t *testing.T) {
	ts := newTestServer(t, nil)
	_, err := ts.registry.Start(context.Background(), "42", "https://example.com")
	require.NoError(t, err)
	now := time.Now().Unix()
	ts.history.Record("42", storage.CheckPoint{Time: now - 60, Status: "unavailable", LatencyMs: 100})
	ts.history.Record("42", storage.CheckPoint{Time: now, Status: "available", LatencyMs: 300})

	rec, out := ts.do(t, http.MethodGet, "/api/monitors/42", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, out["history"], 2)
	summary, ok := out["summary"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 2, summary["checks"])

	rec, _ = ts.do(t, http.MethodGet, "/api/monitors/nobody", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheck(t *testing.T) {
	ts := newTestServer(t, nil)

	rec, out := ts.do(t, http.MethodPost, "/api/check", `{"url":"https://example.com"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "available", out["status"])
	assert.Equal(t, "Widget", out["title"])
	assert.EqualValues(t, 120, out["latency_ms"])
	assert.Equal(t, 0, ts.registry.Len())
}

func TestSendMessage(t *testing.T) {
	ts := newTestServer(t, nil)

	rec, _ := ts.do(t, http.MethodPost, "/api/messages", `{"chat_id":"42","text":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []sentMessage{{"42", "hi"}}, ts.messenger.sent)

	rec, _ = ts.do(t, http.MethodPost, "/api/messages", `{"chat_id":"42"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ts.messenger.err = errors.New("chat not found")
	rec, out := ts.do(t, http.MethodPost, "/api/messages", `{"chat_id":"1","text":"hi"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, out["message"], "chat not found")
}

func TestOversizedBodyRejected(t *testing.T) {
	ts := newTestServer(t, nil)
	huge := `{"chat_id":"42","text":"` + strings.Repeat("a", maxBodyBytes) + `"}`

	rec, out := ts.do(t, http.MethodPost, "/api/messages", huge)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, false, out["ok"])
	assert.Empty(t, ts.messenger.sent)

	rec, _ = ts.do(t, http.MethodPost, "/api/monitors/42", `{"url":"https://example.com/`+strings.Repeat("a", maxBodyBytes)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, 0, ts.registry.Len())
}

func TestUnknownRouteIsJSON(t *testing.T) {
	ts := newTestServer(t, nil)
	rec, out := ts.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, out["ok"])
}

func TestBasicAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	ts := newTestServer(t, func(c *config.Config) {
		c.API.PasswordHash = string(hash)
		c.API.MaxLoginAttempts = 2
	})

	request := func(user, pass string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/monitors", nil)
		if user != "" {
			req.SetBasicAuth(user, pass)
		}
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)
		return rec
	}

	rec := request("", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	assert.Equal(t, http.StatusOK, request("admin", "s3cret").Code)

	assert.Equal(t, http.StatusUnauthorized, request("admin", "wrong").Code)
	assert.Equal(t, http.StatusUnauthorized, request("admin", "wrong").Code)
	// Locked out now, even with the right password.
	assert.Equal(t, http.StatusTooManyRequests, request("admin", "s3cret").Code)

	// Health stays public.
	healthRec, _ := ts.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, healthRec.Code)
}

func TestLoginRateLimiterExpires(t *testing.T) {
	rl := NewLoginRateLimiter(1, 60, nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.RecordFailure("1.2.3.4")
	assert.True(t, rl.IsLocked("1.2.3.4"))
	assert.False(t, rl.IsLocked("5.6.7.8"))

	now = now.Add(61 * time.Second)
	assert.False(t, rl.IsLocked("1.2.3.4"))
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("pw")
	require.NoError(t, err)
	assert.True(t, checkCredentials(config.APIConfig{Username: "admin", PasswordHash: hash}, "admin", "pw"))
	assert.False(t, checkCredentials(config.APIConfig{Username: "admin", PasswordHash: hash}, "root", "pw"))
}
