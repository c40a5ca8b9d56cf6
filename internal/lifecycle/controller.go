package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"fleetguard/internal/docker"
	"fleetguard/internal/models"
	"fleetguard/internal/telemetry"
)

var ErrInvalidArgument = errors.New("invalid argument")

const (
	// DefaultSettleDelay is how long a restart is given before the container
	// is re-inspected for the reported state.
	DefaultSettleDelay = 2 * time.Second
	DefaultStopTimeout = 10
	DefaultKillSignal  = "SIGKILL"
)

type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeNoop     Outcome = "noop"
	OutcomeRejected Outcome = "rejected"
	OutcomeFailed   Outcome = "failed"
)

type Result struct {
	Success     bool                  `json:"success"`
	Outcome     Outcome               `json:"outcome"`
	Operation   string                `json:"operation"`
	ContainerID string                `json:"container_id,omitempty"`
	Name        string                `json:"name,omitempty"`
	State       models.ContainerState `json:"state,omitempty"`
	Health      models.HealthStatus   `json:"health,omitempty"`
	ExitCode    *int                  `json:"exit_code,omitempty"`
	Message     string                `json:"message"`
}

type Options struct {
	SettleDelay    time.Duration
	StopTimeout    int
	ProtectedNames []string
	Project        string
	// MaintenanceMatch selects the compose services paused by maintenance mode.
	MaintenanceMatch string
}

func DefaultOptions() Options {
	return Options{
		SettleDelay:      DefaultSettleDelay,
		StopTimeout:      DefaultStopTimeout,
		ProtectedNames:   []string{"traefik", "gateway", "auth-service", "log-service"},
		Project:          "fleet",
		MaintenanceMatch: "frontend",
	}
}

type Controller struct {
	rt    docker.Runtime
	log   *slog.Logger
	opts  Options
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewController(rt docker.Runtime, logger *slog.Logger, opts Options) *Controller {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	return &Controller{rt: rt, log: logger, opts: opts, now: time.Now, sleep: sleepCtx}
}

func (c *Controller) Options() Options { return c.opts }

func (c *Controller) Start(ctx context.Context, id string) (Result, error) {
	if err := requireID(id); err != nil {
		return Result{}, err
	}
	ctr, res, ok := c.inspect(ctx, "start", id)
	if !ok {
		return res, nil
	}
	if ctr.Running {
		return c.finish(noop("start", ctr, fmt.Sprintf("container %s is already running", ctr.Name))), nil
	}
	if err := c.rt.StartContainer(ctx, ctr.ID); err != nil {
		return c.finish(failed("start", ctr, err)), nil
	}
	return c.finish(applied("start", c.refresh(ctx, ctr), fmt.Sprintf("container %s started", ctr.Name))), nil
}

// Stop stops a running container. timeoutSec <= 0 uses the default grace period.
func (c *Controller) Stop(ctx context.Context, id string, timeoutSec int) (Result, error) {
	if err := requireID(id); err != nil {
		return Result{}, err
	}
	timeoutSec = c.timeout(timeoutSec)
	ctr, res, ok := c.inspect(ctx, "stop", id)
	if !ok {
		return res, nil
	}
	if !ctr.Running {
		return c.finish(noop("stop", ctr, fmt.Sprintf("container %s is not running", ctr.Name))), nil
	}
	if err := c.rt.StopContainer(ctx, ctr.ID, timeoutSec); err != nil {
		return c.finish(failed("stop", ctr, err)), nil
	}
	after := c.refresh(ctx, ctr)
	r := applied("stop", after, fmt.Sprintf("container %s stopped", ctr.Name))
	r.ExitCode = intPtr(after.ExitCode)
	return c.finish(r), nil
}

// Restart restarts regardless of the current state, waits the settle delay
// and reports the state observed afterwards.
func (c *Controller) Restart(ctx context.Context, id string, timeoutSec int) (Result, error) {
	if err := requireID(id); err != nil {
		return Result{}, err
	}
	timeoutSec = c.timeout(timeoutSec)
	ctr, res, ok := c.inspect(ctx, "restart", id)
	if !ok {
		return res, nil
	}
	if err := c.rt.RestartContainer(ctx, ctr.ID, timeoutSec); err != nil {
		return c.finish(failed("restart", ctr, err)), nil
	}
	if err := c.sleep(ctx, c.opts.SettleDelay); err != nil {
		return c.finish(failed("restart", ctr, err)), nil
	}
	return c.finish(applied("restart", c.refresh(ctx, ctr), fmt.Sprintf("container %s restarted", ctr.Name))), nil
}

func (c *Controller) Pause(ctx context.Context, id string) (Result, error) {
	if err := requireID(id); err != nil {
		return Result{}, err
	}
	ctr, res, ok := c.inspect(ctx, "pause", id)
	if !ok {
		return res, nil
	}
	if ctr.Paused {
		return c.finish(noop("pause", ctr, fmt.Sprintf("container %s is already paused", ctr.Name))), nil
	}
	if !ctr.Running {
		r := base("pause", ctr)
		r.Outcome = OutcomeFailed
		r.Message = fmt.Sprintf("container %s is not running", ctr.Name)
		return c.finish(r), nil
	}
	if err := c.rt.PauseContainer(ctx, ctr.ID); err != nil {
		return c.finish(failed("pause", ctr, err)), nil
	}
	return c.finish(applied("pause", c.refresh(ctx, ctr), fmt.Sprintf("container %s paused", ctr.Name))), nil
}

func (c *Controller) Unpause(ctx context.Context, id string) (Result, error) {
	if err := requireID(id); err != nil {
		return Result{}, err
	}
	ctr, res, ok := c.inspect(ctx, "unpause", id)
	if !ok {
		return res, nil
	}
	if !ctr.Paused {
		return c.finish(noop("unpause", ctr, fmt.Sprintf("container %s is not paused", ctr.Name))), nil
	}
	if err := c.rt.UnpauseContainer(ctx, ctr.ID); err != nil {
		return c.finish(failed("unpause", ctr, err)), nil
	}
	return c.finish(applied("unpause", c.refresh(ctx, ctr), fmt.Sprintf("container %s unpaused", ctr.Name))), nil
}

// Kill sends signal (SIGKILL when empty) and reports the exit code.
func (c *Controller) Kill(ctx context.Context, id, signal string) (Result, error) {
	if err := requireID(id); err != nil {
		return Result{}, err
	}
	if signal == "" {
		signal = DefaultKillSignal
	}
	ctr, res, ok := c.inspect(ctx, "kill", id)
	if !ok {
		return res, nil
	}
	if !ctr.Running {
		return c.finish(noop("kill", ctr, fmt.Sprintf("container %s is not running", ctr.Name))), nil
	}
	if err := c.rt.KillContainer(ctx, ctr.ID, signal); err != nil {
		return c.finish(failed("kill", ctr, err)), nil
	}
	after := c.refresh(ctx, ctr)
	r := applied("kill", after, fmt.Sprintf("container %s killed with %s", ctr.Name, signal))
	r.ExitCode = intPtr(after.ExitCode)
	return c.finish(r), nil
}

type ContainerStatus struct {
	models.Container
	Uptime     string `json:"uptime,omitempty"`
	StoppedFor string `json:"stopped_for,omitempty"`
}

func (c *Controller) Status(ctx context.Context, id string) (ContainerStatus, error) {
	if err := requireID(id); err != nil {
		return ContainerStatus{}, err
	}
	ctr, err := c.rt.InspectContainer(ctx, id)
	if err != nil {
		return ContainerStatus{}, err
	}
	st := ContainerStatus{Container: ctr}
	now := c.now()
	if ctr.Running && !ctr.StartedAt.IsZero() {
		st.Uptime = models.FormatUptime(now.Sub(ctr.StartedAt))
	} else if !ctr.Running && !ctr.FinishedAt.IsZero() {
		st.StoppedFor = models.FormatUptime(now.Sub(ctr.FinishedAt))
	}
	return st, nil
}

func (c *Controller) inspect(ctx context.Context, op, id string) (models.Container, Result, bool) {
	ctr, err := c.rt.InspectContainer(ctx, id)
	if err != nil {
		r := Result{Operation: op, ContainerID: id, Outcome: OutcomeFailed, Message: err.Error()}
		if errors.Is(err, docker.ErrNotFound) {
			r.Message = fmt.Sprintf("container %s not found", id)
		}
		return models.Container{}, c.finish(r), false
	}
	return ctr, Result{}, true
}

func (c *Controller) refresh(ctx context.Context, ctr models.Container) models.Container {
	after, err := c.rt.InspectContainer(ctx, ctr.ID)
	if err != nil {
		c.log.Warn("re-inspect after operation", "id", shortID(ctr.ID), "err", err)
		return ctr
	}
	return after
}

func (c *Controller) finish(r Result) Result {
	r.Success = r.Outcome == OutcomeApplied
	telemetry.LifecycleOps.WithLabelValues(r.Operation, string(r.Outcome)).Inc()
	attrs := []any{"op", r.Operation, "id", shortID(r.ContainerID), "name", r.Name, "outcome", r.Outcome}
	switch r.Outcome {
	case OutcomeFailed:
		c.log.Warn(r.Message, attrs...)
	case OutcomeRejected:
		c.log.Info(r.Message, attrs...)
	default:
		c.log.Debug(r.Message, attrs...)
	}
	return r
}

func (c *Controller) timeout(sec int) int {
	if sec <= 0 {
		return c.opts.StopTimeout
	}
	return sec
}

func (c *Controller) protected(name string) (string, bool) {
	lower := strings.ToLower(name)
	for _, p := range c.opts.ProtectedNames {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && strings.Contains(lower, p) {
			return p, true
		}
	}
	return "", false
}

func base(op string, ctr models.Container) Result {
	return Result{
		Operation:   op,
		ContainerID: ctr.ID,
		Name:        ctr.Name,
		State:       ctr.State,
		Health:      ctr.Health,
	}
}

func applied(op string, ctr models.Container, msg string) Result {
	r := base(op, ctr)
	r.Outcome = OutcomeApplied
	r.Message = msg
	return r
}

func noop(op string, ctr models.Container, msg string) Result {
	r := base(op, ctr)
	r.Outcome = OutcomeNoop
	r.Message = msg
	return r
}

func rejected(op string, ctr models.Container, msg string) Result {
	r := base(op, ctr)
	r.Outcome = OutcomeRejected
	r.Message = msg
	return r
}

func failed(op string, ctr models.Container, err error) Result {
	r := base(op, ctr)
	r.Outcome = OutcomeFailed
	r.Message = fmt.Sprintf("%s %s failed: %v", op, ctr.Name, err)
	return r
}

func requireID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: container id is required", ErrInvalidArgument)
	}
	return nil
}

func intPtr(v int) *int { return &v }

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
