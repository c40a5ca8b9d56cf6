package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetguard/internal/alerts"
	"fleetguard/internal/backup"
	"fleetguard/internal/collector"
	"fleetguard/internal/docker/dockertest"
	"fleetguard/internal/fleet"
	"fleetguard/internal/healing"
	"fleetguard/internal/lifecycle"
	"fleetguard/internal/models"
	"fleetguard/internal/notifier"
	"fleetguard/internal/retention"
)

type fakeStore struct{ err error }

func (f fakeStore) Ping(context.Context) error { return f.err }

func newTestServer(t *testing.T, rt *dockertest.Runtime, store Pinger) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy, err := alerts.NewThresholdPolicy(models.DefaultThresholds())
	require.NoError(t, err)
	sink := alerts.NewSink(alerts.NewHistory(50), nil, logger)
	fc := fleet.New(policy, sink)
	opts := lifecycle.DefaultOptions()
	opts.SettleDelay = 0
	ctl := lifecycle.NewController(rt, logger, opts)
	dir := t.TempDir()
	srv := NewServer(Deps{
		Store:     store,
		Runtime:   rt,
		Lifecycle: ctl,
		Metrics:   collector.NewService(rt, logger, 2),
		Healing:   healing.NewEngine(rt, ctl, fc, healing.NewScheduler(logger), nil, logger),
		Backups:   backup.NewOrchestrator(rt, sink, nil, logger, backup.Options{Dir: dir}),
		Retention: retention.NewService(dir, nil, sink, 0, logger),
	}, logger)
	return srv.Routes()
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, r))
	return rec
}

func TestHealthAndReadiness(t *testing.T) {
	rt := dockertest.New()
	h := newTestServer(t, rt, fakeStore{})

	rec := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	rec = do(t, h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rt.Fail("ping", "", errors.New("daemon down"))
	rec = do(t, h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h = newTestServer(t, dockertest.New(), fakeStore{err: errors.New("locked")})
	rec = do(t, h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "db not ready")
}

func TestContainerOperations(t *testing.T) {
	rt := dockertest.New().Add(models.Container{ID: "c1", Name: "api-1"})
	h := newTestServer(t, rt, nil)

	rec := do(t, h, http.MethodPost, "/api/containers/c1/stop?timeout=3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var res lifecycle.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, lifecycle.OutcomeApplied, res.Outcome)

	rec = do(t, h, http.MethodPost, "/api/containers/c1/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.False(t, res.Success)
	assert.Equal(t, lifecycle.OutcomeNoop, res.Outcome)

	rec = do(t, h, http.MethodPost, "/api/containers/c1/explode", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/containers/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBatchRestart(t *testing.T) {
	rt := dockertest.New().
		Add(models.Container{ID: "a", Name: "api-1"}).
		Add(models.Container{ID: "b", Name: "api-2"})
	h := newTestServer(t, rt, nil)

	rec := do(t, h, http.MethodPost, "/api/containers/restart?ids=a,%20missing,b,&timeout=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var res lifecycle.BatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Results, 3)
	assert.Equal(t, "missing", res.Results[1].ContainerID)
	assert.False(t, res.Results[1].Success)
	assert.Equal(t, []string{"a", "b"}, rt.CallsFor("restart"))

	rec = do(t, h, http.MethodPost, "/api/containers/restart", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestThresholdsRoundTrip(t *testing.T) {
	h := newTestServer(t, dockertest.New(), nil)

	rec := do(t, h, http.MethodPut, "/api/thresholds", `{"cpu_warning": 70}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/thresholds", "")
	var cfg models.ThresholdConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	assert.Equal(t, 70.0, cfg.CPUWarning)
	assert.Equal(t, 95.0, cfg.CPUCritical)

	rec = do(t, h, http.MethodPut, "/api/thresholds", `{"cpu_warning": 99}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPut, "/api/thresholds", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPut, "/api/thresholds", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAutohealEndpoints(t *testing.T) {
	h := newTestServer(t, dockertest.New(), nil)

	rec := do(t, h, http.MethodPost, "/api/autoheal/start?interval=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var tr healing.ToggleResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tr))
	assert.True(t, tr.Changed)
	assert.Equal(t, healing.MinIntervalMinutes, tr.Status.IntervalMinutes)

	rec = do(t, h, http.MethodGet, "/api/autoheal", "")
	var st healing.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.Enabled)

	rec = do(t, h, http.MethodPost, "/api/autoheal/stop", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tr))
	assert.True(t, tr.Changed)

	rec = do(t, h, http.MethodGet, "/api/alerts?level=info", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var hist healing.AlertHistoryReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	assert.Equal(t, 2, hist.Total)

	rec = do(t, h, http.MethodGet, "/api/alerts?level=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/alerts", "")
	assert.JSONEq(t, `{"cleared": 2}`, rec.Body.String())
}

type fakeSettings struct {
	token, chatID string
	events        []models.NotificationEvent
}

func (f *fakeSettings) SaveTelegramSettings(_ context.Context, token, chatID string) error {
	f.token, f.chatID = token, chatID
	return nil
}

func (f *fakeSettings) RecentNotificationEvents(_ context.Context, limit int) ([]models.NotificationEvent, error) {
	return f.events, nil
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestTelegramSettingsAndTestMessage(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	settings := &fakeSettings{events: []models.NotificationEvent{{ID: 1, AlertID: "a1", Channel: "telegram", Status: "sent"}}}
	tg := notifier.NewTelegram("", "")
	var sentTo string
	tg.HTTP = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		sentTo = r.URL.Path
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(`{"ok":true}`)), Header: http.Header{}}, nil
	})}
	h := NewServer(Deps{Settings: settings, Telegram: tg, Notify: notifier.Multi{tg}, Runtime: dockertest.New()}, logger).Routes()

	rec := do(t, h, http.MethodPost, "/api/notifications/test", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = do(t, h, http.MethodPut, "/api/settings/telegram", `{"bot_token":" tok ","chat_id":"42"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"enabled": true}`, rec.Body.String())
	assert.Equal(t, "tok", settings.token)

	rec = do(t, h, http.MethodPost, "/api/notifications/test", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/bottok/sendMessage", sentTo)

	rec = do(t, h, http.MethodGet, "/api/notifications", "")
	var events []models.NotificationEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "a1", events[0].AlertID)
}

func TestMetricsValidationAndBackups(t *testing.T) {
	h := newTestServer(t, dockertest.New(), nil)

	rec := do(t, h, http.MethodGet, "/api/metrics/containers?sort=disk", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/metrics/containers", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/backups", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var cat backup.Catalog
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cat))
	assert.Zero(t, cat.TotalFiles)

	rec = do(t, h, http.MethodPost, "/api/backups/cleanup?days=7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var cr retention.CleanupReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cr))
	assert.Equal(t, 7, cr.RetentionDays)
}
