package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"fleetguard/internal/models"
)

var ErrNotFound = errors.New("not found")

type Client struct {
	api *client.Client
}

// NewClient connects using DOCKER_HOST and friends; host overrides the
// environment when set.
func NewClient(host string) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Client{api: cli}, nil
}

func (c *Client) Close() error { return c.api.Close() }

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.api.Ping(ctx)
	return err
}

func (c *Client) Info(ctx context.Context) (models.RuntimeInfo, error) {
	info, err := c.api.Info(ctx)
	if err != nil {
		return models.RuntimeInfo{}, fmt.Errorf("docker info: %w", err)
	}
	return models.RuntimeInfo{
		NCPU:              info.NCPU,
		MemTotal:          info.MemTotal,
		ServerVersion:     info.ServerVersion,
		ContainersRunning: info.ContainersRunning,
		Containers:        info.Containers,
	}, nil
}

func (c *Client) ListContainers(ctx context.Context, opts ListOptions) ([]models.ContainerSummary, error) {
	list, err := c.api.ContainerList(ctx, container.ListOptions{All: opts.All, Size: opts.WithSize})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	out := make([]models.ContainerSummary, 0, len(list))
	for _, s := range list {
		name := ""
		if len(s.Names) > 0 {
			name = strings.TrimPrefix(s.Names[0], "/")
		}
		out = append(out, models.ContainerSummary{
			ID:      s.ID,
			Name:    name,
			Image:   s.Image,
			State:   models.ContainerState(s.State),
			Status:  s.Status,
			Labels:  s.Labels,
			Created: time.Unix(s.Created, 0).UTC(),
			SizeRw:  s.SizeRw,
		})
	}
	return out, nil
}

func (c *Client) InspectContainer(ctx context.Context, id string) (models.Container, error) {
	ins, err := c.api.ContainerInspect(ctx, id)
	if err != nil {
		return models.Container{}, wrap("inspect", id, err)
	}
	if ins.ContainerJSONBase == nil {
		return models.Container{}, fmt.Errorf("inspect %s: empty response", id)
	}
	out := models.Container{
		ID:           ins.ID,
		Name:         strings.TrimPrefix(ins.Name, "/"),
		RestartCount: ins.RestartCount,
		Created:      parseTime(ins.Created),
		Health:       models.HealthNone,
	}
	if ins.Config != nil {
		out.Image = ins.Config.Image
		out.Labels = ins.Config.Labels
	}
	if st := ins.State; st != nil {
		out.State = models.ContainerState(st.Status)
		out.Running = st.Running
		out.Paused = st.Paused
		out.Restarting = st.Restarting
		out.ExitCode = st.ExitCode
		out.StartedAt = parseTime(st.StartedAt)
		out.FinishedAt = parseTime(st.FinishedAt)
		if st.Health != nil && st.Health.Status != "" {
			out.Health = models.HealthStatus(st.Health.Status)
		}
	}
	return out, nil
}

// Stats reads a single primed sample. The one-shot variant skips priming and
// leaves precpu_stats empty, so it cannot be used for CPU deltas.
func (c *Client) Stats(ctx context.Context, id string) (Stats, error) {
	res, err := c.api.ContainerStats(ctx, id, false)
	if err != nil {
		return Stats{}, wrap("stats", id, err)
	}
	defer res.Body.Close()
	var out Stats
	if err := json.NewDecoder(io.LimitReader(res.Body, 10<<20)).Decode(&out); err != nil {
		return Stats{}, fmt.Errorf("decode stats %s: %w", id, err)
	}
	return out, nil
}

func (c *Client) StartContainer(ctx context.Context, id string) error {
	return wrap("start", id, c.api.ContainerStart(ctx, id, container.StartOptions{}))
}

func (c *Client) StopContainer(ctx context.Context, id string, timeoutSec int) error {
	return wrap("stop", id, c.api.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeoutSec}))
}

func (c *Client) RestartContainer(ctx context.Context, id string, timeoutSec int) error {
	return wrap("restart", id, c.api.ContainerRestart(ctx, id, container.StopOptions{Timeout: &timeoutSec}))
}

func (c *Client) PauseContainer(ctx context.Context, id string) error {
	return wrap("pause", id, c.api.ContainerPause(ctx, id))
}

func (c *Client) UnpauseContainer(ctx context.Context, id string) error {
	return wrap("unpause", id, c.api.ContainerUnpause(ctx, id))
}

func (c *Client) KillContainer(ctx context.Context, id, signal string) error {
	return wrap("kill", id, c.api.ContainerKill(ctx, id, signal))
}

func (c *Client) RemoveContainer(ctx context.Context, id string, opts RemoveOptions) error {
	return wrap("remove", id, c.api.ContainerRemove(ctx, id, container.RemoveOptions{
		Force:         opts.Force,
		RemoveVolumes: opts.RemoveVolumes,
	}))
}

func (c *Client) Exec(ctx context.Context, id string, cmd []string) (ExecResult, error) {
	created, err := c.api.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, wrap("exec create", id, err)
	}
	attach, err := c.api.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, wrap("exec attach", id, err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil && err != io.EOF {
		return ExecResult{}, fmt.Errorf("read exec output %s: %w", id, err)
	}
	res := ExecResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	inspect, err := c.api.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return res, fmt.Errorf("exec inspect %s: %w", id, err)
	}
	res.ExitCode = inspect.ExitCode
	return res, nil
}

func (c *Client) ListVolumes(ctx context.Context) ([]models.Volume, error) {
	list, err := c.api.VolumeList(ctx, volume.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list volumes: %w", err)
	}
	out := make([]models.Volume, 0, len(list.Volumes))
	for _, v := range list.Volumes {
		if v == nil {
			continue
		}
		out = append(out, models.Volume{Name: v.Name, Driver: v.Driver, Labels: v.Labels, CreatedAt: v.CreatedAt})
	}
	return out, nil
}

func (c *Client) VolumeUsage(ctx context.Context) ([]models.VolumeUsage, error) {
	du, err := c.api.DiskUsage(ctx, types.DiskUsageOptions{Types: []types.DiskUsageObject{types.VolumeObject}})
	if err != nil {
		return nil, fmt.Errorf("disk usage: %w", err)
	}
	out := make([]models.VolumeUsage, 0, len(du.Volumes))
	for _, v := range du.Volumes {
		if v == nil {
			continue
		}
		u := models.VolumeUsage{Name: v.Name, Size: -1, RefCount: -1}
		if v.UsageData != nil {
			u.Size = v.UsageData.Size
			u.RefCount = v.UsageData.RefCount
		}
		out = append(out, u)
	}
	return out, nil
}

func (c *Client) RemoveVolume(ctx context.Context, name string) error {
	return wrap("remove volume", name, c.api.VolumeRemove(ctx, name, false))
}

func (c *Client) CreateHelper(ctx context.Context, spec HelperSpec) (string, error) {
	if err := c.ensureImage(ctx, spec.Image); err != nil {
		return "", err
	}
	resp, err := c.api.ContainerCreate(ctx,
		&container.Config{Image: spec.Image, Cmd: spec.Cmd, Labels: spec.Labels},
		&container.HostConfig{Binds: spec.Binds, AutoRemove: false},
		nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("create helper %s: %w", spec.Name, err)
	}
	return resp.ID, nil
}

func (c *Client) CopyFromContainer(ctx context.Context, id, srcPath string) (io.ReadCloser, error) {
	rc, _, err := c.api.CopyFromContainer(ctx, id, srcPath)
	if err != nil {
		return nil, wrap("copy from", id, err)
	}
	return rc, nil
}

func (c *Client) ensureImage(ctx context.Context, ref string) error {
	if _, _, err := c.api.ImageInspectWithRaw(ctx, ref); err == nil {
		return nil
	}
	rc, err := c.api.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	defer rc.Close()
	_, _ = io.Copy(io.Discard, rc)
	return nil
}

func wrap(op, id string, err error) error {
	if err == nil {
		return nil
	}
	if client.IsErrNotFound(err) {
		return fmt.Errorf("%s %s: %w: %v", op, id, ErrNotFound, err)
	}
	return fmt.Errorf("%s %s: %w", op, id, err)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil || t.Year() <= 1 {
		return time.Time{}
	}
	return t.UTC()
}

var _ Runtime = (*Client)(nil)
