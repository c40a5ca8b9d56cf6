package db

import (
	"context"
	"testing"
	"time"

	"fleetguard/internal/models"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	sqldb, err := Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = sqldb.Close() })
	if err := Migrate(sqldb); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return NewRepository(sqldb)
}

func TestThresholdsRoundTripAndOverwrite(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if _, ok, err := repo.LoadThresholds(ctx); err != nil || ok {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}

	cfg := models.DefaultThresholds()
	cfg.CPUWarning = 70
	if err := repo.SaveThresholds(ctx, cfg); err != nil {
		t.Fatalf("save thresholds: %v", err)
	}
	cfg.UnhealthyCritical = 5
	if err := repo.SaveThresholds(ctx, cfg); err != nil {
		t.Fatalf("overwrite thresholds: %v", err)
	}

	got, ok, err := repo.LoadThresholds(ctx)
	if err != nil || !ok {
		t.Fatalf("load thresholds: ok=%v err=%v", ok, err)
	}
	if got != cfg {
		t.Fatalf("thresholds = %+v, want %+v", got, cfg)
	}
}

func TestTelegramSettings(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	if err := repo.SaveTelegramSettings(ctx, "tok", "42"); err != nil {
		t.Fatalf("save: %v", err)
	}
	token, chatID, err := repo.LoadTelegramSettings(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if token != "tok" || chatID != "42" {
		t.Fatalf("got %q/%q", token, chatID)
	}
}

func TestNotificationEventsPrunedByAge(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	sent := now.Add(-time.Hour)

	events := []models.NotificationEvent{
		{AlertID: "old", Channel: "email", Status: "failed", Error: "smtp down", Created: now.Add(-40 * 24 * time.Hour)},
		{AlertID: "new", Channel: "telegram", Status: "sent", Created: sent, SentAt: &sent},
	}
	for _, ev := range events {
		if err := repo.InsertNotificationEvent(ctx, ev); err != nil {
			t.Fatalf("insert event: %v", err)
		}
	}

	n, err := repo.DeleteNotificationEventsOlderThan(ctx, now.AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted = %d, want 1", n)
	}

	got, err := repo.RecentNotificationEvents(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 || got[0].AlertID != "new" {
		t.Fatalf("remaining events = %+v", got)
	}
	if got[0].SentAt == nil || !got[0].SentAt.Equal(sent) {
		t.Fatalf("sent_at = %v, want %v", got[0].SentAt, sent)
	}
}
