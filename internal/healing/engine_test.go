package healing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetguard/internal/alerts"
	"fleetguard/internal/docker/dockertest"
	"fleetguard/internal/fleet"
	"fleetguard/internal/lifecycle"
	"fleetguard/internal/models"
)

type memStore struct {
	saved []models.ThresholdConfig
	err   error
}

func (m *memStore) SaveThresholds(_ context.Context, cfg models.ThresholdConfig) error {
	m.saved = append(m.saved, cfg)
	return m.err
}

type fixture struct {
	rt     *dockertest.Runtime
	engine *Engine
	fleet  *fleet.Context
	store  *memStore
}

func newFixture(t *testing.T, rt *dockertest.Runtime) fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy, err := alerts.NewThresholdPolicy(models.DefaultThresholds())
	require.NoError(t, err)
	fc := fleet.New(policy, alerts.NewSink(alerts.NewHistory(100), nil, logger))
	opts := lifecycle.DefaultOptions()
	opts.SettleDelay = 0
	ctl := lifecycle.NewController(rt, logger, opts)
	store := &memStore{}
	e := NewEngine(rt, ctl, fc, NewScheduler(logger), store, logger)
	e.now = func() time.Time { return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC) }
	return fixture{rt: rt, engine: e, fleet: fc, store: store}
}

func alertsFor(h *alerts.History, container string) []models.Alert {
	var out []models.Alert
	for _, a := range h.Recent(h.Capacity(), "") {
		if a.Container == container {
			out = append(out, a)
		}
	}
	return out
}

func TestCycleRestartsUnhealthyContainer(t *testing.T) {
	rt := dockertest.New().
		Add(models.Container{ID: "w1", Name: "web-1", Health: models.HealthUnhealthy}).
		Add(models.Container{ID: "a1", Name: "api-1", Health: models.HealthHealthy})
	f := newFixture(t, rt)

	rep, err := f.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Checked)
	assert.Equal(t, 1, rep.Unhealthy)
	assert.Equal(t, 1, rep.Restarted)
	assert.Equal(t, []string{"w1"}, rt.CallsFor("restart"))

	got := alertsFor(f.fleet.Alerts.History(), "web-1")
	require.Len(t, got, 2)
	// newest first
	assert.Equal(t, models.LevelInfo, got[0].Level)
	assert.Equal(t, "Container web-1 restarted successfully", got[0].Message)
	assert.Equal(t, models.LevelCritical, got[1].Level)

	snap := f.fleet.Session.Snapshot()
	assert.Equal(t, 1, snap.ChecksPerformed)
	assert.Equal(t, 1, snap.ContainersRestarted)
	assert.Zero(t, rep.Threshold.Unhealthy)
	assert.Equal(t, 2, f.fleet.Alerts.History().Len())
}

func TestCycleContinuesAfterRestartFailure(t *testing.T) {
	rt := dockertest.New().
		Add(models.Container{ID: "b1", Name: "bad", Health: models.HealthUnhealthy}).
		Add(models.Container{ID: "g1", Name: "good", Health: models.HealthUnhealthy})
	rt.Fail("restart", "b1", errors.New("permission denied"))
	f := newFixture(t, rt)

	rep, err := f.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Restarted)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, []string{"b1", "g1"}, rt.CallsFor("restart"))

	bad := alertsFor(f.fleet.Alerts.History(), "bad")
	require.Len(t, bad, 2)
	assert.Equal(t, models.LevelCritical, bad[0].Level)
	assert.Contains(t, bad[0].Message, "Failed to restart bad")
	assert.Contains(t, bad[0].Message, "permission denied")

	// "bad" is still unhealthy after the cycle
	assert.Equal(t, 1, rep.Threshold.Unhealthy)
	assert.Equal(t, models.LevelWarning, rep.Threshold.Level)
	assert.Equal(t, 1, f.fleet.Session.Snapshot().ContainersRestarted)
}

func TestCycleIsNotReentrant(t *testing.T) {
	f := newFixture(t, dockertest.New())
	f.engine.cycling.Store(true)
	_, err := f.engine.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrCycleInProgress)
	assert.Zero(t, f.fleet.Session.Snapshot().ChecksPerformed)
}

func TestThresholdWarningBelowCritical(t *testing.T) {
	rt := dockertest.New().
		Add(models.Container{ID: "u1", Health: models.HealthUnhealthy}).
		Add(models.Container{ID: "u2", Health: models.HealthUnhealthy}).
		Add(models.Container{ID: "ok", Health: models.HealthHealthy})
	f := newFixture(t, rt)

	rep, err := f.engine.CheckSystemThresholds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Unhealthy)
	assert.Equal(t, models.LevelWarning, rep.Level)
	assert.Equal(t, 1, rep.Threshold)

	counts := f.fleet.Alerts.History().Counts()
	assert.Equal(t, 1, counts[models.LevelWarning])
	assert.Zero(t, counts[models.LevelCritical])
	a := f.fleet.Alerts.History().Recent(1, "")[0]
	assert.Equal(t, "2 unhealthy containers detected (threshold: 1)", a.Message)
	assert.Equal(t, 2, a.Details["value"])
}

func TestThresholdCriticalAtCriticalCount(t *testing.T) {
	rt := dockertest.New()
	for _, id := range []string{"u1", "u2", "u3"} {
		rt.Add(models.Container{ID: id, Health: models.HealthUnhealthy})
	}
	f := newFixture(t, rt)

	rep, err := f.engine.CheckSystemThresholds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.LevelCritical, rep.Level)
	assert.Equal(t, 1, f.fleet.Alerts.History().Len())
}

func TestThresholdNoAlertWhenHealthy(t *testing.T) {
	f := newFixture(t, dockertest.New().Add(models.Container{ID: "ok", Health: models.HealthHealthy}))
	rep, err := f.engine.CheckSystemThresholds(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rep.Level)
	assert.Zero(t, f.fleet.Alerts.History().Len())
}

func TestStartTwiceKeepsOneSession(t *testing.T) {
	f := newFixture(t, dockertest.New())
	ctx := context.Background()

	first, err := f.engine.Start(ctx, 1)
	require.NoError(t, err)
	assert.True(t, first.Changed)
	assert.Equal(t, MinIntervalMinutes, first.Status.IntervalMinutes)

	second, err := f.engine.Start(ctx, 10)
	require.NoError(t, err)
	assert.False(t, second.Changed)
	assert.Equal(t, MinIntervalMinutes, second.Status.IntervalMinutes)
	assert.Len(t, f.engine.sched.Tasks(), 1)

	started := f.fleet.Alerts.History().Recent(10, models.LevelInfo)
	require.Len(t, started, 1)
	assert.Equal(t, "Auto-healing monitor started (3min interval)", started[0].Message)
}

func TestStopIsSoftWhenNotRunning(t *testing.T) {
	f := newFixture(t, dockertest.New())
	ctx := context.Background()

	res := f.engine.Stop(ctx)
	assert.False(t, res.Changed)
	assert.Zero(t, f.fleet.Alerts.History().Len())

	_, err := f.engine.Start(ctx, 0)
	require.NoError(t, err)
	assert.True(t, f.engine.sched.HasTask(CycleTask))

	res = f.engine.Stop(ctx)
	assert.True(t, res.Changed)
	assert.False(t, res.Status.Enabled)
	assert.False(t, f.engine.sched.HasTask(CycleTask))
	assert.Equal(t, "Auto-healing monitor stopped", f.fleet.Alerts.History().Recent(1, "")[0].Message)
}

func TestResetStatsClearsCounters(t *testing.T) {
	rt := dockertest.New().Add(models.Container{ID: "w1", Health: models.HealthUnhealthy})
	f := newFixture(t, rt)
	_, err := f.engine.RunCycle(context.Background())
	require.NoError(t, err)

	st := f.engine.ResetStats()
	assert.Zero(t, st.ChecksPerformed)
	assert.Zero(t, st.ContainersRestarted)
}

func TestConfigureThresholdsMergesAndPersists(t *testing.T) {
	f := newFixture(t, dockertest.New())
	warn := 2
	cfg, err := f.engine.ConfigureThresholds(context.Background(), models.ThresholdPatch{UnhealthyWarning: &warn})
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.UnhealthyWarning)
	assert.Equal(t, 3, cfg.UnhealthyCritical)
	assert.Equal(t, 80.0, cfg.CPUWarning)
	require.Len(t, f.store.saved, 1)
	assert.Equal(t, cfg, f.store.saved[0])

	a := f.fleet.Alerts.History().Recent(1, "")[0]
	assert.Equal(t, models.CategoryConfiguration, a.Category)
	assert.Equal(t, "Thresholds updated", a.Message)
}

func TestConfigureThresholdsRejectsInvalidPatch(t *testing.T) {
	f := newFixture(t, dockertest.New())
	ctx := context.Background()

	_, err := f.engine.ConfigureThresholds(ctx, models.ThresholdPatch{})
	assert.ErrorIs(t, err, alerts.ErrInvalidThresholds)

	warn := 10
	_, err = f.engine.ConfigureThresholds(ctx, models.ThresholdPatch{UnhealthyWarning: &warn})
	assert.ErrorIs(t, err, alerts.ErrInvalidThresholds)
	assert.Equal(t, 1, f.fleet.Thresholds.Current().UnhealthyWarning)
	assert.Empty(t, f.store.saved)
	assert.Zero(t, f.fleet.Alerts.History().Len())
}

func TestConfigureThresholdsKeepsValuesWhenStoreFails(t *testing.T) {
	f := newFixture(t, dockertest.New())
	f.store.err = errors.New("disk full")
	crit := 90.0
	cfg, err := f.engine.ConfigureThresholds(context.Background(), models.ThresholdPatch{CPUCritical: &crit})
	require.NoError(t, err)
	assert.Equal(t, 90.0, cfg.CPUCritical)
	assert.Equal(t, 90.0, f.fleet.Thresholds.Current().CPUCritical)
}

func TestAlertHistoryFiltersAndClears(t *testing.T) {
	f := newFixture(t, dockertest.New())
	ctx := context.Background()
	f.fleet.Alerts.Info(ctx, models.CategoryBackup, "one")
	f.fleet.Alerts.Warning(ctx, models.CategoryHealth, "two")
	f.fleet.Alerts.Info(ctx, models.CategoryBackup, "three")

	rep, err := f.engine.AlertHistory(10, models.LevelInfo)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Total)
	require.Len(t, rep.Alerts, 2)
	assert.Equal(t, "three", rep.Alerts[0].Message)
	assert.Equal(t, 1, rep.Counts[models.LevelWarning])

	_, err = f.engine.AlertHistory(10, "fatal")
	assert.ErrorIs(t, err, lifecycle.ErrInvalidArgument)

	assert.Equal(t, 3, f.engine.ClearAlertHistory())
	assert.Zero(t, f.fleet.Alerts.History().Len())
}

func TestNormalizeInterval(t *testing.T) {
	assert.Equal(t, 5, NormalizeInterval(0))
	assert.Equal(t, 3, NormalizeInterval(2))
	assert.Equal(t, 15, NormalizeInterval(15))
}
