package retention

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/docker/go-units"

	"fleetguard/internal/alerts"
	"fleetguard/internal/backup"
	"fleetguard/internal/models"
)

const DefaultRetentionDays = 30

// EventStore prunes the notification delivery log.
type EventStore interface {
	DeleteNotificationEventsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type Service struct {
	dir           string
	events        EventStore
	alerts        *alerts.Sink
	retentionDays int
	log           *slog.Logger
	now           func() time.Time
}

// NewService prunes backups in dir and, when events is not nil, the
// notification log. days <= 0 uses DefaultRetentionDays.
func NewService(dir string, events EventStore, sink *alerts.Sink, days int, logger *slog.Logger) *Service {
	if days <= 0 {
		days = DefaultRetentionDays
	}
	return &Service{dir: dir, events: events, alerts: sink, retentionDays: days, log: logger, now: time.Now}
}

type CleanupReport struct {
	RetentionDays  int       `json:"retention_days"`
	Cutoff         time.Time `json:"cutoff"`
	Removed        int       `json:"removed"`
	ReclaimedBytes int64     `json:"reclaimed_bytes"`
	Files          []string  `json:"files,omitempty"`
	Errors         []string  `json:"errors,omitempty"`
}

// CleanupOldBackups removes backup files modified strictly before
// now - days. An info alert is raised only when something was removed.
func (s *Service) CleanupOldBackups(ctx context.Context, days int) (CleanupReport, error) {
	if days <= 0 {
		days = s.retentionDays
	}
	rep := CleanupReport{RetentionDays: days, Cutoff: s.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)}
	records, err := backup.Scan(s.dir)
	if err != nil {
		return rep, fmt.Errorf("scan backups: %w", err)
	}
	for _, r := range records {
		if !r.Modified.Before(rep.Cutoff) {
			continue
		}
		if err := os.Remove(r.Path); err != nil {
			rep.Errors = append(rep.Errors, fmt.Sprintf("%s: %v", r.File, err))
			continue
		}
		rep.Removed++
		rep.ReclaimedBytes += r.Size
		rep.Files = append(rep.Files, r.File)
	}
	if rep.Removed > 0 {
		s.alerts.Info(ctx, models.CategoryBackup, fmt.Sprintf("Cleanup: removed %d old backups, reclaimed %s",
			rep.Removed, units.HumanSize(float64(rep.ReclaimedBytes))))
	}
	return rep, nil
}

// Run is the periodic retention pass.
func (s *Service) Run(ctx context.Context) {
	rep, err := s.CleanupOldBackups(ctx, s.retentionDays)
	if err != nil {
		s.log.Error("backup retention failed", "err", err)
	} else {
		s.log.Info("backup retention completed", "cutoff", rep.Cutoff, "removed", rep.Removed, "errors", len(rep.Errors))
	}
	if s.events == nil {
		return
	}
	cutoff := s.now().UTC().AddDate(0, 0, -s.retentionDays)
	n, err := s.events.DeleteNotificationEventsOlderThan(ctx, cutoff)
	if err != nil {
		s.log.Error("notification log cleanup failed", "err", err)
		return
	}
	s.log.Info("notification log cleanup completed", "cutoff", cutoff, "deleted", n)
}
