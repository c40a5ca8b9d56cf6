package lifecycle

import (
	"context"
	"fmt"

	"fleetguard/internal/docker"
	"fleetguard/internal/models"
)

type HealthEntry struct {
	ID     string              `json:"id"`
	Name   string              `json:"name"`
	Health models.HealthStatus `json:"health"`
}

type HealthReport struct {
	Checked       int           `json:"checked"`
	Healthy       []HealthEntry `json:"healthy"`
	Unhealthy     []HealthEntry `json:"unhealthy"`
	Starting      []HealthEntry `json:"starting"`
	NoHealthCheck []HealthEntry `json:"no_health_check"`
	Restarted     []Result      `json:"restarted,omitempty"`
	Errors        []string      `json:"errors,omitempty"`
}

// HealthCheck classifies every running container by its healthcheck status.
// With autoRestart, unhealthy containers are restarted immediately.
func (c *Controller) HealthCheck(ctx context.Context, autoRestart bool) (HealthReport, error) {
	list, err := c.rt.ListContainers(ctx, docker.ListOptions{})
	if err != nil {
		return HealthReport{}, err
	}
	var rep HealthReport
	for _, s := range list {
		ctr, err := c.rt.InspectContainer(ctx, s.ID)
		if err != nil {
			rep.Errors = append(rep.Errors, fmt.Sprintf("%s: %v", s.Name, err))
			continue
		}
		rep.Checked++
		e := HealthEntry{ID: ctr.ID, Name: ctr.Name, Health: ctr.Health}
		switch ctr.Health {
		case models.HealthHealthy:
			rep.Healthy = append(rep.Healthy, e)
		case models.HealthUnhealthy:
			rep.Unhealthy = append(rep.Unhealthy, e)
			if autoRestart {
				rep.Restarted = append(rep.Restarted, c.restartNow(ctx, ctr))
			}
		case models.HealthStarting:
			rep.Starting = append(rep.Starting, e)
		default:
			rep.NoHealthCheck = append(rep.NoHealthCheck, e)
		}
	}
	c.log.Info("health check",
		"checked", rep.Checked,
		"healthy", len(rep.Healthy),
		"unhealthy", len(rep.Unhealthy),
		"restarted", len(rep.Restarted),
	)
	return rep, nil
}

func (c *Controller) restartNow(ctx context.Context, ctr models.Container) Result {
	if err := c.rt.RestartContainer(ctx, ctr.ID, c.opts.StopTimeout); err != nil {
		return c.finish(failed("restart", ctr, err))
	}
	ctr.State = models.StateRunning
	return c.finish(applied("restart", ctr, fmt.Sprintf("unhealthy container %s restarted", ctr.Name)))
}
