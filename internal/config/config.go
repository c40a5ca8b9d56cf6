package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Addr     string `env:"APP_ADDR" envDefault:":8080"`
	DataDir  string `env:"APP_DATA_DIR" envDefault:"./data"`
	DBPath   string `env:"APP_DB_PATH"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// DockerHost overrides DOCKER_HOST when set.
	DockerHost string `env:"APP_DOCKER_HOST"`
	Project    string `env:"COMPOSE_PROJECT" envDefault:"fleet"`

	Lifecycle LifecycleConfig
	Alerts    AlertsConfig
	AutoHeal  AutoHealConfig
	Backup    BackupConfig
	Offsite   OffsiteConfig
	Mailgun   MailgunConfig
	Telegram  TelegramConfig
	Notify    NotifyConfig
}

type LifecycleConfig struct {
	ProtectedNames     []string      `env:"PROTECTED_SERVICES" envSeparator:"," envDefault:"traefik,gateway,auth-service,log-service"`
	SettleDelay        time.Duration `env:"RESTART_SETTLE_DELAY" envDefault:"2s"`
	StopTimeoutSec     int           `env:"STOP_TIMEOUT_SECONDS" envDefault:"10"`
	MaintenanceMatch   string        `env:"MAINTENANCE_MATCH" envDefault:"frontend"`
	MetricsConcurrency int           `env:"METRICS_CONCURRENCY" envDefault:"8"`
}

type AlertsConfig struct {
	HistoryCapacity int `env:"ALERT_HISTORY_CAPACITY" envDefault:"1000"`
}

type AutoHealConfig struct {
	Enabled         bool `env:"AUTOHEAL_ENABLED" envDefault:"false"`
	IntervalMinutes int  `env:"AUTOHEAL_INTERVAL_MINUTES" envDefault:"5"`
}

type BackupConfig struct {
	Dir            string        `env:"BACKUP_DIR" envDefault:"./backups"`
	PlanFile       string        `env:"BACKUP_PLAN_FILE"`
	HelperImage    string        `env:"BACKUP_HELPER_IMAGE" envDefault:"alpine:latest"`
	MinDumpBytes   int           `env:"BACKUP_MIN_DUMP_BYTES" envDefault:"100"`
	RetentionDays  int           `env:"BACKUP_RETENTION_DAYS" envDefault:"30"`
	Schedule       string        `env:"BACKUP_SCHEDULE"`
	ArchiveTimeout time.Duration `env:"BACKUP_ARCHIVE_TIMEOUT" envDefault:"0s"`
}

type OffsiteConfig struct {
	Endpoint  string `env:"BACKUP_S3_ENDPOINT"`
	Region    string `env:"BACKUP_S3_REGION" envDefault:"us-east-1"`
	Bucket    string `env:"BACKUP_S3_BUCKET"`
	AccessKey string `env:"BACKUP_S3_ACCESS_KEY"`
	SecretKey string `env:"BACKUP_S3_SECRET_KEY"`
	Prefix    string `env:"BACKUP_S3_PREFIX" envDefault:"backups"`
}

type MailgunConfig struct {
	Domain    string   `env:"MAILGUN_DOMAIN"`
	APIKey    string   `env:"MAILGUN_API_KEY"`
	FromEmail string   `env:"ALERT_EMAIL_FROM"`
	FromName  string   `env:"ALERT_EMAIL_FROM_NAME" envDefault:"Fleetguard"`
	To        []string `env:"ALERT_EMAIL_TO" envSeparator:","`
}

type TelegramConfig struct {
	BotToken string `env:"TELEGRAM_BOT_TOKEN"`
	ChatID   string `env:"TELEGRAM_CHAT_ID"`
}

type NotifyConfig struct {
	QueueSize int `env:"NOTIFY_QUEUE_SIZE" envDefault:"64"`
	PerMinute int `env:"NOTIFY_PER_MINUTE" envDefault:"30"`
	Burst     int `env:"NOTIFY_BURST" envDefault:"5"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = strings.TrimSuffix(cfg.DataDir, "/") + "/app.db"
	}
	if cfg.Lifecycle.SettleDelay < 0 {
		return Config{}, fmt.Errorf("RESTART_SETTLE_DELAY must not be negative")
	}
	if cfg.Backup.ArchiveTimeout < 0 {
		return Config{}, fmt.Errorf("BACKUP_ARCHIVE_TIMEOUT must not be negative")
	}
	if cfg.Alerts.HistoryCapacity <= 0 {
		return Config{}, fmt.Errorf("ALERT_HISTORY_CAPACITY must be positive")
	}
	return cfg, nil
}
