package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"fleetguard/internal/docker"
	"fleetguard/internal/models"
)

type MaintenanceReport struct {
	Enabled bool     `json:"enabled"`
	Project string   `json:"project"`
	Results []Result `json:"results"`
	Failed  int      `json:"failed"`
	Message string   `json:"message"`
}

// EnableMaintenance pauses the running user-facing services of a project.
func (c *Controller) EnableMaintenance(ctx context.Context, project string) (MaintenanceReport, error) {
	return c.maintenance(ctx, project, true)
}

// DisableMaintenance unpauses what EnableMaintenance paused.
func (c *Controller) DisableMaintenance(ctx context.Context, project string) (MaintenanceReport, error) {
	return c.maintenance(ctx, project, false)
}

func (c *Controller) maintenance(ctx context.Context, project string, enable bool) (MaintenanceReport, error) {
	project = c.project(project)
	rep := MaintenanceReport{Enabled: enable, Project: project}
	list, err := c.rt.ListContainers(ctx, docker.ListOptions{All: true})
	if err != nil {
		return rep, err
	}
	match := strings.ToLower(c.opts.MaintenanceMatch)
	for _, s := range list {
		if s.Project() != project || !strings.Contains(strings.ToLower(s.Service()), match) {
			continue
		}
		ctr := models.Container{ID: s.ID, Name: s.Name, State: s.State}
		var r Result
		switch {
		case enable && s.State == models.StateRunning:
			if err := c.rt.PauseContainer(ctx, s.ID); err != nil {
				r = c.finish(failed("pause", ctr, err))
			} else {
				ctr.State = models.StatePaused
				r = c.finish(applied("pause", ctr, fmt.Sprintf("%s paused for maintenance", s.Name)))
			}
		case !enable && s.State == models.StatePaused:
			if err := c.rt.UnpauseContainer(ctx, s.ID); err != nil {
				r = c.finish(failed("unpause", ctr, err))
			} else {
				ctr.State = models.StateRunning
				r = c.finish(applied("unpause", ctr, fmt.Sprintf("%s resumed after maintenance", s.Name)))
			}
		default:
			continue
		}
		if !r.Success {
			rep.Failed++
		}
		rep.Results = append(rep.Results, r)
	}
	verb := "paused"
	if !enable {
		verb = "resumed"
	}
	rep.Message = fmt.Sprintf("%d service container(s) %s in project %s", len(rep.Results)-rep.Failed, verb, project)
	if len(rep.Results) == 0 {
		rep.Message = fmt.Sprintf("no %q services to change in project %s", c.opts.MaintenanceMatch, project)
	}
	c.log.Info("maintenance mode", "enabled", enable, "project", project, "changed", len(rep.Results)-rep.Failed, "failed", rep.Failed)
	return rep, nil
}
