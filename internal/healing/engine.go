// Package healing runs the auto-healing control loop and the threshold check.
package healing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"fleetguard/internal/alerts"
	"fleetguard/internal/docker"
	"fleetguard/internal/fleet"
	"fleetguard/internal/lifecycle"
	"fleetguard/internal/models"
	"fleetguard/internal/telemetry"
)

const (
	DefaultIntervalMinutes = 5
	MinIntervalMinutes     = 3
	RestartTimeoutSec      = 10

	CycleTask = "auto-healing"
)

var ErrCycleInProgress = errors.New("auto-healing cycle already in progress")

// ThresholdStore persists the threshold config across restarts.
type ThresholdStore interface {
	SaveThresholds(ctx context.Context, cfg models.ThresholdConfig) error
}

type Engine struct {
	rt      docker.Runtime
	ctl     *lifecycle.Controller
	fleet   *fleet.Context
	sched   *Scheduler
	store   ThresholdStore
	log     *slog.Logger
	now     func() time.Time
	cycling atomic.Bool
}

func NewEngine(rt docker.Runtime, ctl *lifecycle.Controller, fc *fleet.Context, sched *Scheduler, store ThresholdStore, logger *slog.Logger) *Engine {
	return &Engine{rt: rt, ctl: ctl, fleet: fc, sched: sched, store: store, log: logger, now: time.Now}
}

type Status struct {
	fleet.SessionSnapshot
	Uptime  string     `json:"uptime,omitempty"`
	NextRun *time.Time `json:"next_run,omitempty"`
}

type ToggleResult struct {
	Changed bool   `json:"changed"`
	Message string `json:"message"`
	Status  Status `json:"status"`
}

// NormalizeInterval maps 0 to the default and raises short intervals to the
// minimum.
func NormalizeInterval(minutes int) int {
	if minutes <= 0 {
		return DefaultIntervalMinutes
	}
	if minutes < MinIntervalMinutes {
		return MinIntervalMinutes
	}
	return minutes
}

// Start enables the session and schedules the cycle. Starting an active
// session changes nothing and reports the existing state.
func (e *Engine) Start(ctx context.Context, intervalMinutes int) (ToggleResult, error) {
	minutes := NormalizeInterval(intervalMinutes)
	interval := time.Duration(minutes) * time.Minute
	if !e.fleet.Session.Begin(interval, e.now()) {
		return ToggleResult{Message: "auto-healing is already running", Status: e.Status()}, nil
	}
	err := e.sched.AddIntervalTask(CycleTask, interval, func(ctx context.Context) error {
		_, err := e.RunCycle(ctx)
		return err
	})
	if err != nil {
		e.fleet.Session.End()
		return ToggleResult{}, fmt.Errorf("schedule auto-healing: %w", err)
	}
	telemetry.SetAutoHealing(true)
	e.fleet.Alerts.Info(ctx, models.CategoryAutoHealing, fmt.Sprintf("Auto-healing monitor started (%dmin interval)", minutes))
	return ToggleResult{Changed: true, Message: "auto-healing started", Status: e.Status()}, nil
}

// Stop removes the schedule. Counters are kept until ResetStats.
func (e *Engine) Stop(ctx context.Context) ToggleResult {
	if !e.fleet.Session.End() {
		return ToggleResult{Message: "auto-healing is not running", Status: e.Status()}
	}
	e.sched.RemoveTask(CycleTask)
	telemetry.SetAutoHealing(false)
	e.fleet.Alerts.Info(ctx, models.CategoryAutoHealing, "Auto-healing monitor stopped")
	return ToggleResult{Changed: true, Message: "auto-healing stopped", Status: e.Status()}
}

func (e *Engine) Status() Status {
	st := Status{SessionSnapshot: e.fleet.Session.Snapshot()}
	if st.Enabled && st.StartedAt != nil {
		st.Uptime = models.FormatUptime(e.now().Sub(*st.StartedAt))
	}
	if st.Enabled {
		if next, ok := e.sched.Next(CycleTask); ok {
			st.NextRun = &next
		}
	}
	return st
}

func (e *Engine) ResetStats() Status {
	e.fleet.Session.Reset()
	e.log.Info("auto-healing counters reset")
	return e.Status()
}

type CycleReport struct {
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
	Checked   int             `json:"checked"`
	Unhealthy int             `json:"unhealthy"`
	Restarted int             `json:"restarted"`
	Failed    int             `json:"failed"`
	Threshold ThresholdReport `json:"threshold"`
}

// RunCycle performs one healing pass: every unhealthy running container is
// restarted, then the unhealthy count is checked against the thresholds.
// It never runs concurrently with itself.
func (e *Engine) RunCycle(ctx context.Context) (CycleReport, error) {
	if !e.cycling.CompareAndSwap(false, true) {
		telemetry.ScheduledRunsSkipped.WithLabelValues(CycleTask).Inc()
		return CycleReport{}, ErrCycleInProgress
	}
	defer e.cycling.Store(false)

	start := e.now()
	rep := CycleReport{StartedAt: start.UTC()}
	e.fleet.Session.RecordCheck(start)
	defer func() {
		rep.Duration = e.now().Sub(start)
		telemetry.HealingCycles.Inc()
	}()

	list, err := e.rt.ListContainers(ctx, docker.ListOptions{})
	if err != nil {
		return rep, fmt.Errorf("list running containers: %w", err)
	}
	for _, s := range list {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		ctr, err := e.rt.InspectContainer(ctx, s.ID)
		if err != nil {
			e.log.Warn("inspect during cycle", "id", s.ID, "name", s.Name, "err", err)
			continue
		}
		rep.Checked++
		if ctr.Health != models.HealthUnhealthy {
			continue
		}
		rep.Unhealthy++
		e.heal(ctx, ctr, &rep)
	}

	th, err := e.CheckSystemThresholds(ctx)
	if err != nil {
		e.log.Warn("threshold check", "err", err)
	}
	rep.Threshold = th
	e.log.Info("auto-healing cycle finished",
		"checked", rep.Checked, "unhealthy", rep.Unhealthy, "restarted", rep.Restarted, "failed", rep.Failed)
	return rep, nil
}

func (e *Engine) heal(ctx context.Context, ctr models.Container, rep *CycleReport) {
	withCtr := alerts.WithContainer(ctr.ID, ctr.Name)
	e.fleet.Alerts.Critical(ctx, models.CategoryAutoHealing,
		fmt.Sprintf("Container %s is unhealthy - attempting restart", ctr.Name), withCtr)

	res, err := e.ctl.Restart(ctx, ctr.ID, RestartTimeoutSec)
	if err == nil && res.Success {
		rep.Restarted++
		e.fleet.Session.RecordRestart()
		telemetry.HealingRestarts.WithLabelValues("ok").Inc()
		e.fleet.Alerts.Info(ctx, models.CategoryAutoHealing,
			fmt.Sprintf("Container %s restarted successfully", ctr.Name), withCtr)
		return
	}
	reason := res.Message
	if err != nil {
		reason = err.Error()
	}
	rep.Failed++
	telemetry.HealingRestarts.WithLabelValues("failed").Inc()
	e.fleet.Alerts.Critical(ctx, models.CategoryAutoHealing,
		fmt.Sprintf("Failed to restart %s: %s", ctr.Name, reason), withCtr)
}

type ThresholdReport struct {
	Unhealthy int               `json:"unhealthy"`
	Level     models.AlertLevel `json:"level,omitempty"`
	Threshold int               `json:"threshold,omitempty"`
	AlertID   string            `json:"alert_id,omitempty"`
}

// CheckSystemThresholds counts unhealthy running containers and raises at most
// one alert: critical at or above the critical count, otherwise warning at or
// above the warning count. Zero unhealthy containers never alert.
func (e *Engine) CheckSystemThresholds(ctx context.Context) (ThresholdReport, error) {
	list, err := e.rt.ListContainers(ctx, docker.ListOptions{})
	if err != nil {
		return ThresholdReport{}, fmt.Errorf("list running containers: %w", err)
	}
	var rep ThresholdReport
	for _, s := range list {
		ctr, err := e.rt.InspectContainer(ctx, s.ID)
		if err != nil {
			continue
		}
		if ctr.Health == models.HealthUnhealthy {
			rep.Unhealthy++
		}
	}
	telemetry.UnhealthyContainers.Set(float64(rep.Unhealthy))
	if rep.Unhealthy == 0 {
		return rep, nil
	}

	cfg := e.fleet.Thresholds.Current()
	switch {
	case rep.Unhealthy >= cfg.UnhealthyCritical:
		rep.Level, rep.Threshold = models.LevelCritical, cfg.UnhealthyCritical
	case rep.Unhealthy >= cfg.UnhealthyWarning:
		rep.Level, rep.Threshold = models.LevelWarning, cfg.UnhealthyWarning
	default:
		return rep, nil
	}
	a := e.fleet.Alerts.Raise(ctx, rep.Level, models.CategoryHealth,
		fmt.Sprintf("%d unhealthy containers detected (threshold: %d)", rep.Unhealthy, rep.Threshold),
		alerts.WithDetail("value", rep.Unhealthy), alerts.WithDetail("threshold", rep.Threshold))
	rep.AlertID = a.ID
	return rep, nil
}

func (e *Engine) Thresholds() models.ThresholdConfig { return e.fleet.Thresholds.Current() }

// ConfigureThresholds merges patch into the active config. A failing store
// keeps the new values in memory only.
func (e *Engine) ConfigureThresholds(ctx context.Context, patch models.ThresholdPatch) (models.ThresholdConfig, error) {
	if patch.Empty() {
		return e.fleet.Thresholds.Current(), fmt.Errorf("%w: no fields to update", alerts.ErrInvalidThresholds)
	}
	cfg, err := e.fleet.Thresholds.Apply(patch)
	if err != nil {
		return cfg, err
	}
	if e.store != nil {
		if err := e.store.SaveThresholds(ctx, cfg); err != nil {
			e.log.Warn("persist thresholds", "err", err)
		}
	}
	e.fleet.Alerts.Info(ctx, models.CategoryConfiguration, "Thresholds updated",
		alerts.WithDetail("cpu_warning", cfg.CPUWarning), alerts.WithDetail("cpu_critical", cfg.CPUCritical),
		alerts.WithDetail("memory_warning", cfg.MemoryWarning), alerts.WithDetail("memory_critical", cfg.MemoryCritical),
		alerts.WithDetail("unhealthy_warning", cfg.UnhealthyWarning), alerts.WithDetail("unhealthy_critical", cfg.UnhealthyCritical))
	return cfg, nil
}

type AlertHistoryReport struct {
	Total  int                       `json:"total"`
	Alerts []models.Alert            `json:"alerts"`
	Counts map[models.AlertLevel]int `json:"counts"`
}

func (e *Engine) AlertHistory(limit int, level models.AlertLevel) (AlertHistoryReport, error) {
	if level != "" && !level.Valid() {
		return AlertHistoryReport{}, fmt.Errorf("%w: unknown alert level %q", lifecycle.ErrInvalidArgument, level)
	}
	h := e.fleet.Alerts.History()
	return AlertHistoryReport{
		Total:  h.Len(),
		Alerts: h.Recent(limit, level),
		Counts: h.Counts(),
	}, nil
}

func (e *Engine) ClearAlertHistory() int {
	n := e.fleet.Alerts.History().Clear()
	e.log.Info("alert history cleared", "removed", n)
	return n
}
