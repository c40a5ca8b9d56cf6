package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"fleetguard/internal/docker"
	"fleetguard/internal/models"
	"fleetguard/internal/telemetry"
)

type Replica struct {
	ID      string                `json:"id"`
	Name    string                `json:"name"`
	State   models.ContainerState `json:"state"`
	Created string                `json:"created"`
}

type ScalableService struct {
	Service  string    `json:"service"`
	Project  string    `json:"project"`
	Running  int       `json:"running"`
	Total    int       `json:"total"`
	Replicas []Replica `json:"replicas"`
}

type ScaleResult struct {
	Success   bool     `json:"success"`
	Outcome   Outcome  `json:"outcome"`
	Service   string   `json:"service"`
	Project   string   `json:"project"`
	Desired   int      `json:"desired"`
	Previous  int      `json:"previous"`
	Current   int      `json:"current"`
	Total     int      `json:"total"`
	Actions   []Result `json:"actions,omitempty"`
	Shortfall int      `json:"shortfall,omitempty"`
	Hint      string   `json:"hint,omitempty"`
	Message   string   `json:"message"`
}

// ListScalableServices groups the project's containers by compose service.
func (c *Controller) ListScalableServices(ctx context.Context, project string) ([]ScalableService, error) {
	project = c.project(project)
	list, err := c.rt.ListContainers(ctx, docker.ListOptions{All: true})
	if err != nil {
		return nil, err
	}
	groups := map[string]*ScalableService{}
	for _, s := range list {
		if s.Project() != project || s.Service() == "" {
			continue
		}
		g, ok := groups[s.Service()]
		if !ok {
			g = &ScalableService{Service: s.Service(), Project: project}
			groups[s.Service()] = g
		}
		g.Total++
		if s.State == models.StateRunning {
			g.Running++
		}
		g.Replicas = append(g.Replicas, Replica{ID: s.ID, Name: s.Name, State: s.State, Created: s.Created.Format("2006-01-02T15:04:05Z07:00")})
	}
	out := make([]ScalableService, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out, nil
}

// Scale moves the running replica count of service toward desired by
// starting existing stopped replicas or stopping the newest running ones.
// It never creates containers; a shortfall is reported with a compose hint.
func (c *Controller) Scale(ctx context.Context, service string, desired int, project string) (ScaleResult, error) {
	service = strings.TrimSpace(service)
	if service == "" {
		return ScaleResult{}, fmt.Errorf("%w: service name is required", ErrInvalidArgument)
	}
	if desired < 0 {
		return ScaleResult{}, fmt.Errorf("%w: desired replicas must be >= 0", ErrInvalidArgument)
	}
	project = c.project(project)
	res := ScaleResult{Service: service, Project: project, Desired: desired}

	list, err := c.rt.ListContainers(ctx, docker.ListOptions{All: true})
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Message = fmt.Sprintf("list containers failed: %v", err)
		return c.finishScale(res), nil
	}
	var running, stopped []models.ContainerSummary
	paused := 0
	for _, s := range list {
		if s.Service() != service || s.Project() != project {
			continue
		}
		switch s.State {
		case models.StateRunning:
			running = append(running, s)
		case models.StatePaused:
			paused++
		default:
			stopped = append(stopped, s)
		}
	}
	res.Total = len(running) + len(stopped) + paused
	res.Previous = len(running)
	res.Current = len(running)
	if res.Total == 0 {
		res.Outcome = OutcomeFailed
		res.Message = fmt.Sprintf("no containers found for service %s in project %s", service, project)
		return c.finishScale(res), nil
	}
	if desired == res.Previous {
		res.Outcome = OutcomeNoop
		res.Message = fmt.Sprintf("service %s already has %d replicas", service, desired)
		return c.finishScale(res), nil
	}

	byCreated := func(s []models.ContainerSummary) {
		sort.SliceStable(s, func(i, j int) bool { return s[i].Created.Before(s[j].Created) })
	}
	if desired > res.Previous {
		need := desired - res.Previous
		byCreated(stopped)
		n := min(need, len(stopped))
		for _, s := range stopped[:n] {
			r := c.startReplica(ctx, s)
			if r.Success {
				res.Current++
			}
			res.Actions = append(res.Actions, r)
		}
		res.Shortfall = need - n
		if res.Shortfall > 0 {
			res.Hint = fmt.Sprintf("docker compose -p %s up -d --scale %s=%d", project, service, desired)
		}
		res.Message = fmt.Sprintf("scaled %s from %d to %d running replicas", service, res.Previous, res.Current)
		if n == 0 {
			res.Message = fmt.Sprintf("service %s has no stopped replicas to start", service)
		}
		if res.Shortfall > 0 {
			res.Message += fmt.Sprintf("; %d more replica(s) must be created with: %s", res.Shortfall, res.Hint)
		}
	} else {
		byCreated(running)
		for _, s := range running[desired:] {
			r := c.stopReplica(ctx, s)
			if r.Success {
				res.Current--
			}
			res.Actions = append(res.Actions, r)
		}
		res.Message = fmt.Sprintf("scaled %s from %d to %d running replicas", service, res.Previous, res.Current)
	}
	res.Outcome = OutcomeApplied
	if len(res.Actions) == 0 {
		res.Outcome = OutcomeNoop
	}
	for _, a := range res.Actions {
		if !a.Success {
			res.Outcome = OutcomeFailed
			break
		}
	}
	return c.finishScale(res), nil
}

func (c *Controller) startReplica(ctx context.Context, s models.ContainerSummary) Result {
	ctr := models.Container{ID: s.ID, Name: s.Name, State: s.State}
	if err := c.rt.StartContainer(ctx, s.ID); err != nil {
		return c.finish(failed("start", ctr, err))
	}
	ctr.State = models.StateRunning
	return c.finish(applied("start", ctr, fmt.Sprintf("replica %s started", s.Name)))
}

func (c *Controller) stopReplica(ctx context.Context, s models.ContainerSummary) Result {
	ctr := models.Container{ID: s.ID, Name: s.Name, State: s.State}
	if err := c.rt.StopContainer(ctx, s.ID, c.opts.StopTimeout); err != nil {
		return c.finish(failed("stop", ctr, err))
	}
	ctr.State = models.StateExited
	return c.finish(applied("stop", ctr, fmt.Sprintf("replica %s stopped", s.Name)))
}

func (c *Controller) finishScale(res ScaleResult) ScaleResult {
	res.Success = res.Outcome == OutcomeApplied
	telemetry.LifecycleOps.WithLabelValues("scale", string(res.Outcome)).Inc()
	c.log.Info("scale service",
		"service", res.Service,
		"project", res.Project,
		"desired", res.Desired,
		"previous", res.Previous,
		"current", res.Current,
		"outcome", res.Outcome,
	)
	return res
}

func (c *Controller) project(p string) string {
	if strings.TrimSpace(p) == "" {
		return c.opts.Project
	}
	return p
}
