package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fleetguard/internal/models"
)

const (
	keyThresholds     = "thresholds"
	keyTelegramToken  = "telegram_token"
	keyTelegramChatID = "telegram_chat_id"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) DB() *sql.DB { return r.db }

func (r *Repository) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func (r *Repository) setSetting(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO settings(key,value) VALUES (?,?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	return err
}

func (r *Repository) getSetting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key=?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *Repository) SaveThresholds(ctx context.Context, cfg models.ThresholdConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return r.setSetting(ctx, keyThresholds, string(raw))
}

// LoadThresholds returns the stored config; ok is false when none was saved.
func (r *Repository) LoadThresholds(ctx context.Context) (cfg models.ThresholdConfig, ok bool, err error) {
	raw, ok, err := r.getSetting(ctx, keyThresholds)
	if err != nil || !ok {
		return cfg, false, err
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return cfg, false, fmt.Errorf("decode stored thresholds: %w", err)
	}
	return cfg, true, nil
}

func (r *Repository) SaveTelegramSettings(ctx context.Context, token, chatID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for k, v := range map[string]string{keyTelegramToken: token, keyTelegramChatID: chatID} {
		if _, err := tx.ExecContext(ctx, `INSERT INTO settings(key,value) VALUES (?,?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`, k, v); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Repository) LoadTelegramSettings(ctx context.Context) (token, chatID string, err error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key,value FROM settings WHERE key IN (?,?)`, keyTelegramToken, keyTelegramChatID)
	if err != nil {
		return "", "", err
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return "", "", err
		}
		switch k {
		case keyTelegramToken:
			token = v
		case keyTelegramChatID:
			chatID = v
		}
	}
	return token, chatID, rows.Err()
}

func (r *Repository) InsertNotificationEvent(ctx context.Context, ev models.NotificationEvent) error {
	if ev.Created.IsZero() {
		ev.Created = time.Now()
	}
	var sent any
	if ev.SentAt != nil {
		sent = ev.SentAt.UTC()
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO notification_events (alert_id,channel,status,last_error,created_ts,sent_ts_nullable) VALUES (?,?,?,?,?,?)`,
		ev.AlertID, ev.Channel, ev.Status, ev.Error, ev.Created.UTC(), sent)
	return err
}

func (r *Repository) RecentNotificationEvents(ctx context.Context, limit int) ([]models.NotificationEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id,alert_id,channel,status,COALESCE(last_error,''),created_ts,sent_ts_nullable
		FROM notification_events ORDER BY created_ts DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.NotificationEvent, 0, limit)
	for rows.Next() {
		var ev models.NotificationEvent
		var sent sql.NullTime
		if err := rows.Scan(&ev.ID, &ev.AlertID, &ev.Channel, &ev.Status, &ev.Error, &ev.Created, &sent); err != nil {
			return nil, err
		}
		if sent.Valid {
			t := sent.Time
			ev.SentAt = &t
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *Repository) DeleteNotificationEventsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM notification_events WHERE created_ts < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	_, _ = r.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`)
	_, _ = r.db.ExecContext(ctx, `PRAGMA optimize`)
	return res.RowsAffected()
}
