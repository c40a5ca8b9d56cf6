package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fleetguard/internal/alerts"
	"fleetguard/internal/backup"
	"fleetguard/internal/collector"
	"fleetguard/internal/docker"
	"fleetguard/internal/healing"
	"fleetguard/internal/lifecycle"
	"fleetguard/internal/models"
	"fleetguard/internal/notifier"
	"fleetguard/internal/retention"
)

// Pinger reports whether the settings store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SettingsStore persists notifier settings and exposes the delivery log.
type SettingsStore interface {
	SaveTelegramSettings(ctx context.Context, token, chatID string) error
	RecentNotificationEvents(ctx context.Context, limit int) ([]models.NotificationEvent, error)
}

type Deps struct {
	Store     Pinger
	Settings  SettingsStore
	Telegram  *notifier.Telegram
	Notify    notifier.Notifier
	Runtime   docker.Runtime
	Lifecycle *lifecycle.Controller
	Metrics   *collector.Service
	Healing   *healing.Engine
	Backups   *backup.Orchestrator
	Retention *retention.Service
}

type Server struct {
	d   Deps
	log *slog.Logger
}

func NewServer(d Deps, logger *slog.Logger) *Server {
	return &Server{d: d, log: logger}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/containers/restart", s.handleBatchRestart)
	mux.HandleFunc("GET /api/containers/{id}", s.handleContainerStatus)
	mux.HandleFunc("POST /api/containers/{id}/{op}", s.handleContainerOp)
	mux.HandleFunc("GET /api/services", s.handleServices)
	mux.HandleFunc("POST /api/services/{name}/scale", s.handleScale)
	mux.HandleFunc("GET /api/health", s.handleHealthCheck)
	mux.HandleFunc("POST /api/maintenance/{mode}", s.handleMaintenance)
	mux.HandleFunc("POST /api/prune/{kind}", s.handlePrune)

	mux.HandleFunc("GET /api/metrics/containers", s.handleContainerMetrics)
	mux.HandleFunc("GET /api/metrics/containers/{id}", s.handleOneContainerMetrics)
	mux.HandleFunc("GET /api/metrics/compare", s.handleCompare)
	mux.HandleFunc("GET /api/metrics/system", s.handleSystemMetrics)

	mux.HandleFunc("GET /api/alerts", s.handleAlerts)
	mux.HandleFunc("DELETE /api/alerts", s.handleClearAlerts)
	mux.HandleFunc("GET /api/autoheal", s.handleAutohealStatus)
	mux.HandleFunc("POST /api/autoheal/{action}", s.handleAutohealAction)
	mux.HandleFunc("GET /api/thresholds", s.handleGetThresholds)
	mux.HandleFunc("PUT /api/thresholds", s.handlePutThresholds)

	mux.HandleFunc("GET /api/backups", s.handleListBackups)
	mux.HandleFunc("POST /api/backups/run", s.handleBackupAll)
	mux.HandleFunc("POST /api/backups/database", s.handleBackupDatabase)
	mux.HandleFunc("POST /api/backups/volumes", s.handleBackupVolumes)
	mux.HandleFunc("POST /api/backups/cleanup", s.handleCleanup)

	mux.HandleFunc("PUT /api/settings/telegram", s.handleSettingsTelegram)
	mux.HandleFunc("POST /api/notifications/test", s.handleTestNotification)
	mux.HandleFunc("GET /api/notifications", s.handleNotifications)
	return logMiddleware(mux, s.log)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.d.Store != nil {
		if err := s.d.Store.Ping(r.Context()); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
	}
	if err := s.d.Runtime.Ping(r.Context()); err != nil {
		http.Error(w, "docker not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleContainerStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.d.Lifecycle.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, st)
}

func (s *Server) handleContainerOp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	timeout := queryInt(r, "timeout", 0)
	var (
		res lifecycle.Result
		err error
	)
	switch r.PathValue("op") {
	case "start":
		res, err = s.d.Lifecycle.Start(ctx, id)
	case "stop":
		res, err = s.d.Lifecycle.Stop(ctx, id, timeout)
	case "restart":
		res, err = s.d.Lifecycle.Restart(ctx, id, timeout)
	case "pause":
		res, err = s.d.Lifecycle.Pause(ctx, id)
	case "unpause":
		res, err = s.d.Lifecycle.Unpause(ctx, id)
	case "kill":
		res, err = s.d.Lifecycle.Kill(ctx, id, r.URL.Query().Get("signal"))
	case "remove":
		res, err = s.d.Lifecycle.Remove(ctx, id, lifecycle.RemoveOptions{
			Force:         queryBool(r, "force"),
			RemoveVolumes: queryBool(r, "volumes"),
		})
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleBatchRestart(w http.ResponseWriter, r *http.Request) {
	res, err := s.d.Lifecycle.BatchRestart(r.Context(), queryList(r, "ids"), queryInt(r, "timeout", 0))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	list, err := s.d.Lifecycle.ListScalableServices(r.Context(), r.URL.Query().Get("project"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, list)
}

func (s *Server) handleScale(w http.ResponseWriter, r *http.Request) {
	replicas, err := strconv.Atoi(r.URL.Query().Get("replicas"))
	if err != nil {
		http.Error(w, "replicas must be an integer", http.StatusBadRequest)
		return
	}
	res, err := s.d.Lifecycle.Scale(r.Context(), r.PathValue("name"), replicas, r.URL.Query().Get("project"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	rep, err := s.d.Lifecycle.HealthCheck(r.Context(), queryBool(r, "restart"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, rep)
}

func (s *Server) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	var (
		rep lifecycle.MaintenanceReport
		err error
	)
	switch r.PathValue("mode") {
	case "enable":
		rep, err = s.d.Lifecycle.EnableMaintenance(r.Context(), project)
	case "disable":
		rep, err = s.d.Lifecycle.DisableMaintenance(r.Context(), project)
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, rep)
}

func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	opts := lifecycle.PruneOptions{Apply: queryBool(r, "apply")}
	switch r.PathValue("kind") {
	case "volumes":
		writeJSON(w, s.d.Lifecycle.PruneVolumes(r.Context(), opts))
	case "containers":
		writeJSON(w, s.d.Lifecycle.PruneContainers(r.Context(), opts))
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleContainerMetrics(w http.ResponseWriter, r *http.Request) {
	list, err := s.d.Metrics.AllContainerMetrics(r.Context(), collector.SortKey(r.URL.Query().Get("sort")))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, list)
}

func (s *Server) handleOneContainerMetrics(w http.ResponseWriter, r *http.Request) {
	rep, err := s.d.Metrics.ContainerMetrics(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, rep)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	list, err := s.d.Metrics.Compare(r.Context(), queryList(r, "ids"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, list)
}

func (s *Server) handleSystemMetrics(w http.ResponseWriter, r *http.Request) {
	rep, err := s.d.Metrics.SystemMetrics(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, rep)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	rep, err := s.d.Healing.AlertHistory(queryInt(r, "limit", 0), models.AlertLevel(r.URL.Query().Get("level")))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, rep)
}

func (s *Server) handleClearAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]int{"cleared": s.d.Healing.ClearAlertHistory()})
}

func (s *Server) handleAutohealStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.d.Healing.Status())
}

func (s *Server) handleAutohealAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.PathValue("action") {
	case "start":
		res, err := s.d.Healing.Start(ctx, queryInt(r, "interval", 0))
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, res)
	case "stop":
		writeJSON(w, s.d.Healing.Stop(ctx))
	case "reset":
		writeJSON(w, s.d.Healing.ResetStats())
	case "check":
		rep, err := s.d.Healing.CheckSystemThresholds(ctx)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, rep)
	case "cycle":
		rep, err := s.d.Healing.RunCycle(ctx)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, rep)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleGetThresholds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.d.Healing.Thresholds())
}

func (s *Server) handlePutThresholds(w http.ResponseWriter, r *http.Request) {
	var patch models.ThresholdPatch
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&patch); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	cfg, err := s.d.Healing.ConfigureThresholds(r.Context(), patch)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, cfg)
}

func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	cat, err := s.d.Backups.ListBackups(queryInt(r, "top", backup.DefaultListTop))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, cat)
}

func (s *Server) handleBackupAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.d.Backups.BackupAll(r.Context()))
}

type databaseRequest struct {
	Kind      backup.DatabaseKind `json:"kind"`
	Container string              `json:"container"`
	Database  string              `json:"database"`
}

func (s *Server) handleBackupDatabase(w http.ResponseWriter, r *http.Request) {
	var req databaseRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	a, err := s.d.Backups.BackupDatabase(r.Context(), req.Kind, req.Container, req.Database)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, a)
}

func (s *Server) handleBackupVolumes(w http.ResponseWriter, r *http.Request) {
	var names []string
	if v := r.URL.Query().Get("names"); v != "" {
		for _, n := range strings.Split(v, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
	}
	rep, err := s.d.Backups.BackupVolumes(r.Context(), names)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, rep)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	rep, err := s.d.Retention.CleanupOldBackups(r.Context(), queryInt(r, "days", 0))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, rep)
}

type telegramSettings struct {
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

func (s *Server) handleSettingsTelegram(w http.ResponseWriter, r *http.Request) {
	var req telegramSettings
	if err := json.NewDecoder(io.LimitReader(r.Body, 16<<10)).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.BotToken = strings.TrimSpace(req.BotToken)
	req.ChatID = strings.TrimSpace(req.ChatID)
	if err := s.d.Settings.SaveTelegramSettings(r.Context(), req.BotToken, req.ChatID); err != nil {
		s.fail(w, err)
		return
	}
	s.d.Telegram.Update(req.BotToken, req.ChatID)
	writeJSON(w, map[string]bool{"enabled": s.d.Telegram.Enabled()})
}

func (s *Server) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	msg := notifier.Message{Subject: "Fleetguard test alert", Body: "Notification delivery is working"}
	if err := s.d.Notify.Notify(r.Context(), msg); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	events, err := s.d.Settings.RecentNotificationEvents(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, events)
}

// fail maps input errors to 400 and a busy auto-heal cycle to 409.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, lifecycle.ErrInvalidArgument),
		errors.Is(err, collector.ErrInvalidArgument),
		errors.Is(err, backup.ErrInvalidArgument),
		errors.Is(err, alerts.ErrInvalidThresholds):
		status = http.StatusBadRequest
	case errors.Is(err, docker.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, healing.ErrCycleInProgress):
		status = http.StatusConflict
	default:
		s.log.Error("request failed", "err", err)
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// queryList splits a comma separated query value, dropping blanks.
func queryList(r *http.Request, key string) []string {
	var out []string
	for _, v := range strings.Split(r.URL.Query().Get(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func queryInt(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func queryBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}
