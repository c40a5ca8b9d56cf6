package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"fleetguard/internal/models"
	"fleetguard/internal/notifier"
	"fleetguard/internal/telemetry"
)

// Dispatcher accepts a notification for asynchronous delivery.
type Dispatcher interface {
	Dispatch(msg notifier.Message) bool
}

// Sink records alerts and forwards critical ones to the dispatcher.
type Sink struct {
	history  *History
	dispatch Dispatcher
	log      *slog.Logger
	now      func() time.Time
}

func NewSink(history *History, dispatch Dispatcher, logger *slog.Logger) *Sink {
	return &Sink{history: history, dispatch: dispatch, log: logger, now: time.Now}
}

func (s *Sink) History() *History { return s.history }

type Option func(*models.Alert)

func WithContainer(id, name string) Option {
	return func(a *models.Alert) {
		a.ContainerID = id
		a.Container = name
	}
}

func WithDetail(key string, value any) Option {
	return func(a *models.Alert) {
		if a.Details == nil {
			a.Details = map[string]any{}
		}
		a.Details[key] = value
	}
}

// Raise appends an alert to the history. A critical alert also triggers a
// notification attempt without waiting for its outcome.
func (s *Sink) Raise(ctx context.Context, level models.AlertLevel, category models.AlertCategory, message string, opts ...Option) models.Alert {
	a := models.Alert{
		ID:        uuid.NewString(),
		Timestamp: s.now().UTC(),
		Level:     level,
		Category:  category,
		Message:   message,
	}
	for _, o := range opts {
		o(&a)
	}
	s.history.Append(a)
	telemetry.AlertsRaised.WithLabelValues(string(level), string(category)).Inc()

	attrs := []any{"alert_id", a.ID, "level", a.Level, "category", a.Category}
	if a.Container != "" {
		attrs = append(attrs, "container", a.Container)
	}
	switch level {
	case models.LevelCritical:
		s.log.Error(message, attrs...)
	case models.LevelWarning:
		s.log.Warn(message, attrs...)
	default:
		s.log.Info(message, attrs...)
	}

	if level == models.LevelCritical && s.dispatch != nil {
		s.dispatch.Dispatch(notifier.Message{
			AlertID: a.ID,
			Subject: fmt.Sprintf("CRITICAL: %s", a.Category),
			Body:    formatBody(a),
		})
	}
	return a
}

func (s *Sink) Info(ctx context.Context, category models.AlertCategory, message string, opts ...Option) models.Alert {
	return s.Raise(ctx, models.LevelInfo, category, message, opts...)
}

func (s *Sink) Warning(ctx context.Context, category models.AlertCategory, message string, opts ...Option) models.Alert {
	return s.Raise(ctx, models.LevelWarning, category, message, opts...)
}

func (s *Sink) Critical(ctx context.Context, category models.AlertCategory, message string, opts ...Option) models.Alert {
	return s.Raise(ctx, models.LevelCritical, category, message, opts...)
}

func formatBody(a models.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\nTime: %s\nLevel: %s\nCategory: %s\n", a.Message, a.Timestamp.Format(time.RFC3339), strings.ToUpper(string(a.Level)), a.Category)
	if a.Container != "" {
		fmt.Fprintf(&b, "Container: %s\n", a.Container)
	}
	keys := make([]string, 0, len(a.Details))
	for k := range a.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, a.Details[k])
	}
	return b.String()
}
