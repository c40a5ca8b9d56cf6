package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"fleetguard/internal/alerts"
	"fleetguard/internal/backup"
	"fleetguard/internal/collector"
	"fleetguard/internal/config"
	"fleetguard/internal/db"
	"fleetguard/internal/docker"
	"fleetguard/internal/fleet"
	"fleetguard/internal/healing"
	"fleetguard/internal/lifecycle"
	"fleetguard/internal/models"
	"fleetguard/internal/notifier"
	"fleetguard/internal/retention"
	"fleetguard/internal/web"
)

const backupTask = "backup-all"

type App struct {
	cfg config.Config
	log *slog.Logger

	db     *db.Repository
	docker *docker.Client

	dispatch  *notifier.Dispatcher
	sched     *healing.Scheduler
	healing   *healing.Engine
	backups   *backup.Orchestrator
	retention *retention.Service

	httpSrv *http.Server
}

func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	sqldb, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(sqldb); err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	repo := db.NewRepository(sqldb)
	dc, err := docker.NewClient(cfg.DockerHost)
	if err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	ctx := context.Background()

	thresholds := models.DefaultThresholds()
	if stored, ok, err := repo.LoadThresholds(ctx); err != nil {
		logger.Warn("load stored thresholds", "err", err)
	} else if ok {
		thresholds = stored
	}
	policy, err := alerts.NewThresholdPolicy(thresholds)
	if err != nil {
		logger.Warn("stored thresholds invalid, using defaults", "err", err)
		policy, _ = alerts.NewThresholdPolicy(models.DefaultThresholds())
	}

	telegram := notifier.NewTelegram(telegramCredentials(ctx, repo, cfg.Telegram, logger))
	channels := []notifier.Notifier{
		telegram,
		notifier.NewMailgun(notifier.MailgunConfig{
			Domain:    cfg.Mailgun.Domain,
			APIKey:    cfg.Mailgun.APIKey,
			FromEmail: cfg.Mailgun.FromEmail,
			FromName:  cfg.Mailgun.FromName,
			To:        cfg.Mailgun.To,
		}),
	}
	dispatch := notifier.NewDispatcher(channels, logger.With("module", "notifier"), notifier.DispatcherOptions{
		QueueSize: cfg.Notify.QueueSize,
		PerMinute: cfg.Notify.PerMinute,
		Burst:     cfg.Notify.Burst,
	})

	sink := alerts.NewSink(alerts.NewHistory(cfg.Alerts.HistoryCapacity), dispatch, logger.With("module", "alerts"))
	fc := fleet.New(policy, sink)
	dispatch.OnResult(fc.ObserveDelivery)
	dispatch.OnResult(recordDelivery(repo, logger))

	ctl := lifecycle.NewController(dc, logger.With("module", "lifecycle"), lifecycle.Options{
		SettleDelay:      cfg.Lifecycle.SettleDelay,
		StopTimeout:      cfg.Lifecycle.StopTimeoutSec,
		ProtectedNames:   cfg.Lifecycle.ProtectedNames,
		Project:          cfg.Project,
		MaintenanceMatch: cfg.Lifecycle.MaintenanceMatch,
	})
	metrics := collector.NewService(dc, logger.With("module", "collector"), cfg.Lifecycle.MetricsConcurrency)
	sched := healing.NewScheduler(logger.With("module", "scheduler"))
	engine := healing.NewEngine(dc, ctl, fc, sched, repo, logger.With("module", "healing"))

	plan, err := backup.LoadPlan(cfg.Backup.PlanFile)
	if err != nil {
		_ = sqldb.Close()
		_ = dc.Close()
		return nil, err
	}
	var offsite backup.Uploader
	if s3cfg := s3Config(cfg.Offsite); s3cfg.Enabled() {
		up, err := backup.NewS3Uploader(ctx, s3cfg, logger.With("module", "offsite"))
		if err != nil {
			_ = sqldb.Close()
			_ = dc.Close()
			return nil, err
		}
		offsite = up
	}
	backups := backup.NewOrchestrator(dc, sink, offsite, logger.With("module", "backup"), backup.Options{
		Dir:            cfg.Backup.Dir,
		Project:        cfg.Project,
		HelperImage:    cfg.Backup.HelperImage,
		MinDumpBytes:   cfg.Backup.MinDumpBytes,
		ArchiveTimeout: cfg.Backup.ArchiveTimeout,
		Plan:           plan,
	})
	ret := retention.NewService(cfg.Backup.Dir, repo, sink, cfg.Backup.RetentionDays, logger.With("module", "retention"))

	w := web.NewServer(web.Deps{
		Store:     repo,
		Settings:  repo,
		Telegram:  telegram,
		Notify:    notifier.Multi(channels),
		Runtime:   dc,
		Lifecycle: ctl,
		Metrics:   metrics,
		Healing:   engine,
		Backups:   backups,
		Retention: ret,
	}, logger.With("module", "web"))

	app := &App{
		cfg:       cfg,
		log:       logger,
		db:        repo,
		docker:    dc,
		dispatch:  dispatch,
		sched:     sched,
		healing:   engine,
		backups:   backups,
		retention: ret,
	}
	app.httpSrv = &http.Server{Addr: cfg.Addr, Handler: w.Routes(), ReadHeaderTimeout: 10 * time.Second}
	return app, nil
}

func (a *App) Run(ctx context.Context) error {
	go func() {
		a.log.Info("http server listening", "addr", a.cfg.Addr)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("http server failed", "err", err)
		}
	}()
	go a.dispatch.Run(ctx)

	if a.cfg.Backup.Schedule != "" {
		err := a.sched.AddCronTask(backupTask, a.cfg.Backup.Schedule, func(ctx context.Context) error {
			rep := a.backups.BackupAll(ctx)
			if !rep.Success {
				return fmt.Errorf("backup finished with %d failures", rep.Failures)
			}
			return nil
		})
		if err != nil {
			a.log.Error("schedule backups", "schedule", a.cfg.Backup.Schedule, "err", err)
		}
	}
	a.sched.Start()
	if a.cfg.AutoHeal.Enabled {
		if _, err := a.healing.Start(ctx, a.cfg.AutoHeal.IntervalMinutes); err != nil {
			a.log.Error("start auto-healing", "err", err)
		}
	}

	retentionTicker := time.NewTicker(6 * time.Hour)
	defer retentionTicker.Stop()

	// Immediate first run
	a.retention.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return a.shutdown()
		case <-retentionTicker.C:
			a.retention.Run(ctx)
		}
	}
}

func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = a.httpSrv.Shutdown(ctx)
	a.sched.Stop(ctx)
	_ = a.docker.Close()
	return a.db.DB().Close()
}

type telegramSettingsLoader interface {
	LoadTelegramSettings(ctx context.Context) (token, chatID string, err error)
}

// telegramCredentials prefers settings saved through the API and falls back
// to the environment per field.
func telegramCredentials(ctx context.Context, store telegramSettingsLoader, env config.TelegramConfig, logger *slog.Logger) (string, string) {
	token, chatID, err := store.LoadTelegramSettings(ctx)
	if err != nil {
		logger.Warn("load stored telegram settings", "err", err)
		token, chatID = "", ""
	}
	if token == "" {
		token = env.BotToken
	}
	if chatID == "" {
		chatID = env.ChatID
	}
	return token, chatID
}

// recordDelivery writes every delivery attempt to the notification log.
func recordDelivery(repo *db.Repository, logger *slog.Logger) func(notifier.Result) {
	return func(r notifier.Result) {
		ev := models.NotificationEvent{
			AlertID: r.Message.AlertID,
			Channel: r.Channel,
			Status:  r.Status,
			Created: r.At,
		}
		if r.Err != nil {
			ev.Error = r.Err.Error()
		}
		if r.Status == notifier.StatusSent {
			at := r.At
			ev.SentAt = &at
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := repo.InsertNotificationEvent(ctx, ev); err != nil {
			logger.Warn("record notification event", "alert_id", r.Message.AlertID, "err", err)
		}
	}
}

func s3Config(c config.OffsiteConfig) backup.S3Config {
	return backup.S3Config{
		Endpoint:  c.Endpoint,
		Region:    c.Region,
		Bucket:    c.Bucket,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		Prefix:    c.Prefix,
	}
}
