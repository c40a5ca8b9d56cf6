package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetguard/internal/docker/dockertest"
	"fleetguard/internal/models"
)

func newTestController(t *testing.T, rt *dockertest.Runtime) *Controller {
	t.Helper()
	opts := DefaultOptions()
	opts.SettleDelay = 0
	opts.Project = "shop"
	return NewController(rt, slog.New(slog.NewTextHandler(io.Discard, nil)), opts)
}

func replica(id, service string, state models.ContainerState, created time.Time) models.Container {
	return models.Container{
		ID:      id,
		Name:    "shop-" + id,
		State:   state,
		Created: created,
		Labels: map[string]string{
			models.LabelComposeService: service,
			models.LabelComposeProject: "shop",
		},
	}
}

func TestStartSoftFailsWhenAlreadyRunning(t *testing.T) {
	rt := dockertest.New().Add(models.Container{ID: "web1", Name: "web"})
	c := newTestController(t, rt)

	res, err := c.Start(context.Background(), "web1")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, OutcomeNoop, res.Outcome)
	assert.Contains(t, res.Message, "already running")
	assert.Empty(t, rt.CallsFor("start"))
}

func TestStartStoppedContainer(t *testing.T) {
	rt := dockertest.New().Add(models.Container{ID: "web1", Name: "web", State: models.StateExited})
	c := newTestController(t, rt)

	res, err := c.Start(context.Background(), "web1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, models.StateRunning, res.State)
	assert.Equal(t, []string{"web1"}, rt.CallsFor("start"))
}

func TestStopNotRunningIsNoop(t *testing.T) {
	rt := dockertest.New().Add(models.Container{ID: "db1", Name: "db", State: models.StateExited})
	c := newTestController(t, rt)

	res, err := c.Stop(context.Background(), "db1", 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, res.Outcome)
	assert.Empty(t, rt.CallsFor("stop"))
}

func TestRestartWaitsSettleDelay(t *testing.T) {
	rt := dockertest.New().Add(models.Container{ID: "api1", Name: "api", Health: models.HealthUnhealthy})
	opts := DefaultOptions()
	c := NewController(rt, slog.New(slog.NewTextHandler(io.Discard, nil)), opts)
	var slept []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	res, err := c.Restart(context.Background(), "api1", 0)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []time.Duration{DefaultSettleDelay}, slept)
	assert.Equal(t, models.HealthStarting, res.Health)
}

func TestRestartIsUnconditional(t *testing.T) {
	rt := dockertest.New().Add(models.Container{ID: "api1", Name: "api", State: models.StateExited})
	c := newTestController(t, rt)

	res, err := c.Restart(context.Background(), "api1", 5)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, models.StateRunning, res.State)
}

func TestPausePreconditions(t *testing.T) {
	rt := dockertest.New().
		Add(models.Container{ID: "p1", State: models.StatePaused}).
		Add(models.Container{ID: "x1", State: models.StateExited}).
		Add(models.Container{ID: "r1"})
	c := newTestController(t, rt)
	ctx := context.Background()

	res, err := c.Pause(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, res.Outcome)

	res, err = c.Pause(ctx, "x1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Message, "not running")

	res, err = c.Pause(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, models.StatePaused, res.State)
	assert.Equal(t, []string{"r1"}, rt.CallsFor("pause"))

	res, err = c.Unpause(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = c.Unpause(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, res.Outcome)
}

func TestKillReportsExitCode(t *testing.T) {
	rt := dockertest.New().Add(models.Container{ID: "w1", Name: "worker"})
	c := newTestController(t, rt)

	res, err := c.Kill(context.Background(), "w1", "")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 137, *res.ExitCode)
	assert.Contains(t, res.Message, "SIGKILL")

	res, err = c.Kill(context.Background(), "w1", "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, res.Outcome)
}

func TestOperationOnMissingContainerFails(t *testing.T) {
	c := newTestController(t, dockertest.New())

	res, err := c.Stop(context.Background(), "ghost", 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Message, "not found")
}

func TestRuntimeErrorBecomesFailedResult(t *testing.T) {
	rt := dockertest.New().Add(models.Container{ID: "w1", Name: "worker", State: models.StateExited})
	rt.Fail("start", "w1", errors.New("permission denied"))
	c := newTestController(t, rt)

	res, err := c.Start(context.Background(), "w1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Message, "permission denied")
}

func TestEmptyIDIsInvalid(t *testing.T) {
	c := newTestController(t, dockertest.New())
	_, err := c.Restart(context.Background(), " ", 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = c.BatchRestart(context.Background(), nil, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestBatchRestartIsolatesFailures(t *testing.T) {
	rt := dockertest.New().
		Add(models.Container{ID: "a", Name: "a"}).
		Add(models.Container{ID: "b", Name: "b"}).
		Add(models.Container{ID: "c", Name: "c"})
	rt.Fail("restart", "b", errors.New("daemon error"))
	c := newTestController(t, rt)
	var settles int
	c.sleep = func(context.Context, time.Duration) error { settles++; return nil }

	out, err := c.BatchRestart(context.Background(), []string{"a", "b", "c"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Total)
	assert.Equal(t, 2, out.Succeeded)
	assert.Equal(t, 1, out.Failed)
	assert.Equal(t, []string{"a", "b", "c"}, rt.CallsFor("restart"))
	assert.False(t, out.Results[1].Success)
	assert.Equal(t, 2, settles)
}

func TestStatusReportsUptime(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rt := dockertest.New().
		Add(models.Container{ID: "up", StartedAt: now.Add(-90 * time.Minute)}).
		Add(models.Container{ID: "down", State: models.StateExited, FinishedAt: now.Add(-2 * time.Minute), ExitCode: 1})
	c := newTestController(t, rt)
	c.now = func() time.Time { return now }

	st, err := c.Status(context.Background(), "up")
	require.NoError(t, err)
	assert.Equal(t, "1h 30m", st.Uptime)

	st, err = c.Status(context.Background(), "down")
	require.NoError(t, err)
	assert.Equal(t, "2m 0s", st.StoppedFor)
	assert.Equal(t, 1, st.ExitCode)
}
