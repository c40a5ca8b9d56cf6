package lifecycle

import (
	"context"
	"fmt"
	"time"

	"fleetguard/internal/docker"
	"fleetguard/internal/models"
	"fleetguard/internal/telemetry"
)

type RemoveOptions struct {
	Force         bool
	RemoveVolumes bool
}

// Remove deletes a container. Protected services and running containers
// are rejected unless Force is set.
func (c *Controller) Remove(ctx context.Context, id string, opts RemoveOptions) (Result, error) {
	if err := requireID(id); err != nil {
		return Result{}, err
	}
	ctr, res, ok := c.inspect(ctx, "remove", id)
	if !ok {
		return res, nil
	}
	if match, isProtected := c.protected(ctr.Name); isProtected && !opts.Force {
		return c.finish(rejected("remove", ctr, fmt.Sprintf("container %s matches protected service %q; pass force to remove it", ctr.Name, match))), nil
	}
	if ctr.Running && !opts.Force {
		return c.finish(rejected("remove", ctr, fmt.Sprintf("container %s is running; stop it first or pass force", ctr.Name))), nil
	}
	if err := c.rt.RemoveContainer(ctx, ctr.ID, docker.RemoveOptions{Force: opts.Force, RemoveVolumes: opts.RemoveVolumes}); err != nil {
		return c.finish(failed("remove", ctr, err)), nil
	}
	r := applied("remove", ctr, fmt.Sprintf("container %s removed", ctr.Name))
	r.State = models.StateRemoving
	return c.finish(r), nil
}

// PruneOptions: the zero value previews without deleting.
type PruneOptions struct {
	Apply bool
}

type PruneItem struct {
	ID      string    `json:"id,omitempty"`
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	State   string    `json:"state,omitempty"`
	Created time.Time `json:"created,omitempty"`
	Removed bool      `json:"removed"`
	Error   string    `json:"error,omitempty"`
}

type PruneReport struct {
	Success     bool        `json:"success"`
	DryRun      bool        `json:"dry_run"`
	Candidates  []PruneItem `json:"candidates"`
	Reclaimable int64       `json:"reclaimable_bytes"`
	Removed     int         `json:"removed"`
	Failed      int         `json:"failed"`
	Message     string      `json:"message"`
}

// PruneVolumes targets volumes no container references.
func (c *Controller) PruneVolumes(ctx context.Context, opts PruneOptions) PruneReport {
	rep := PruneReport{DryRun: !opts.Apply}
	usage, err := c.rt.VolumeUsage(ctx)
	if err != nil {
		rep.Message = fmt.Sprintf("volume usage failed: %v", err)
		c.log.Warn("prune volumes", "err", err)
		return rep
	}
	for _, u := range usage {
		if u.RefCount != 0 {
			continue
		}
		item := PruneItem{Name: u.Name, Size: u.Size}
		if u.Size > 0 {
			rep.Reclaimable += u.Size
		}
		if opts.Apply {
			if err := c.rt.RemoveVolume(ctx, u.Name); err != nil {
				item.Error = err.Error()
				rep.Failed++
			} else {
				item.Removed = true
				rep.Removed++
			}
		}
		rep.Candidates = append(rep.Candidates, item)
	}
	rep.Success = rep.Failed == 0
	rep.Message = pruneMessage("volume", rep)
	telemetry.LifecycleOps.WithLabelValues("prune_volumes", outcomeOf(rep)).Inc()
	c.log.Info("prune volumes", "dry_run", rep.DryRun, "candidates", len(rep.Candidates), "removed", rep.Removed, "failed", rep.Failed)
	return rep
}

// PruneContainers targets containers in the exited or created state.
func (c *Controller) PruneContainers(ctx context.Context, opts PruneOptions) PruneReport {
	rep := PruneReport{DryRun: !opts.Apply}
	list, err := c.rt.ListContainers(ctx, docker.ListOptions{All: true, WithSize: true})
	if err != nil {
		rep.Message = fmt.Sprintf("list containers failed: %v", err)
		c.log.Warn("prune containers", "err", err)
		return rep
	}
	for _, s := range list {
		if s.State != models.StateExited && s.State != models.StateCreated {
			continue
		}
		item := PruneItem{ID: s.ID, Name: s.Name, Size: s.SizeRw, State: string(s.State), Created: s.Created}
		rep.Reclaimable += s.SizeRw
		if opts.Apply {
			if err := c.rt.RemoveContainer(ctx, s.ID, docker.RemoveOptions{}); err != nil {
				item.Error = err.Error()
				rep.Failed++
			} else {
				item.Removed = true
				rep.Removed++
			}
		}
		rep.Candidates = append(rep.Candidates, item)
	}
	rep.Success = rep.Failed == 0
	rep.Message = pruneMessage("container", rep)
	telemetry.LifecycleOps.WithLabelValues("prune_containers", outcomeOf(rep)).Inc()
	c.log.Info("prune containers", "dry_run", rep.DryRun, "candidates", len(rep.Candidates), "removed", rep.Removed, "failed", rep.Failed)
	return rep
}

func pruneMessage(kind string, rep PruneReport) string {
	if len(rep.Candidates) == 0 {
		return fmt.Sprintf("no unused %ss found", kind)
	}
	if rep.DryRun {
		return fmt.Sprintf("dry run: %d %s(s) would be removed, %d bytes reclaimable", len(rep.Candidates), kind, rep.Reclaimable)
	}
	return fmt.Sprintf("removed %d %s(s), %d failed", rep.Removed, kind, rep.Failed)
}

func outcomeOf(rep PruneReport) string {
	switch {
	case !rep.Success:
		return string(OutcomeFailed)
	case rep.DryRun || rep.Removed == 0:
		return string(OutcomeNoop)
	default:
		return string(OutcomeApplied)
	}
}
