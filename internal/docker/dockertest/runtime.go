// Package dockertest provides an in-memory docker.Runtime for tests.
package dockertest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"fleetguard/internal/docker"
	"fleetguard/internal/models"
)

type Call struct {
	Op string
	ID string
}

type entry struct {
	c      models.Container
	stats  docker.Stats
	sizeRw int64
	binds  []string
}

// Runtime records every call and applies state transitions the way the
// engine would. Failures are injected per operation with Fail.
type Runtime struct {
	mu       sync.Mutex
	now      func() time.Time
	byID     map[string]*entry
	order    []string
	volumes  []models.Volume
	usage    map[string]models.VolumeUsage
	execs    map[string]func(cmd []string) (docker.ExecResult, error)
	archives map[string][]byte
	failures map[string]error
	calls    []Call
	helpers  []docker.HelperSpec
	info     models.RuntimeInfo
	seq      int
}

func New() *Runtime {
	return &Runtime{
		now:      time.Now,
		byID:     map[string]*entry{},
		usage:    map[string]models.VolumeUsage{},
		execs:    map[string]func([]string) (docker.ExecResult, error){},
		archives: map[string][]byte{},
		failures: map[string]error{},
		info:     models.RuntimeInfo{NCPU: 4, MemTotal: 8 << 30, ServerVersion: "28.5.2"},
	}
}

// Add registers a container. Running/Paused flags are derived from State
// and an empty Health means no healthcheck.
func (r *Runtime) Add(c models.Container) *Runtime {
	return r.AddWithStats(c, docker.Stats{})
}

func (r *Runtime) AddWithStats(c models.Container, s docker.Stats) *Runtime {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.State == "" {
		c.State = models.StateRunning
	}
	c.Running = c.State == models.StateRunning || c.State == models.StatePaused
	c.Paused = c.State == models.StatePaused
	if c.Health == "" {
		c.Health = models.HealthNone
	}
	if c.Name == "" {
		c.Name = c.ID
	}
	if c.Created.IsZero() {
		c.Created = r.now().Add(time.Duration(len(r.order)) * time.Second)
	}
	r.byID[c.ID] = &entry{c: c, stats: s}
	r.order = append(r.order, c.ID)
	return r
}

func (r *Runtime) SetSize(id string, size int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byID[id]; ok {
		e.sizeRw = size
	}
}

func (r *Runtime) AddVolume(v models.Volume, size, refCount int64) *Runtime {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.volumes = append(r.volumes, v)
	r.usage[v.Name] = models.VolumeUsage{Name: v.Name, Size: size, RefCount: refCount}
	return r
}

func (r *Runtime) SetInfo(info models.RuntimeInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.info = info
}

// OnExec scripts the result of Exec for a container.
func (r *Runtime) OnExec(id string, fn func(cmd []string) (docker.ExecResult, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.execs[id] = fn
}

// SetArchive sets the bytes CopyFromContainer streams for a volume mounted in
// a helper container.
func (r *Runtime) SetArchive(volume string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.archives[volume] = data
}

// Fail makes op fail for id. Use "*" to fail op for every target.
func (r *Runtime) Fail(op, id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[op+":"+id] = err
}

func (r *Runtime) SetHealth(id string, h models.HealthStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byID[id]; ok {
		e.c.Health = h
	}
}

func (r *Runtime) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallsFor returns the ids passed to op, in call order.
func (r *Runtime) CallsFor(op string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.calls {
		if c.Op == op {
			out = append(out, c.ID)
		}
	}
	return out
}

func (r *Runtime) Helpers() []docker.HelperSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]docker.HelperSpec(nil), r.helpers...)
}

func (r *Runtime) Container(id string) (models.Container, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return models.Container{}, false
	}
	return e.c, true
}

func (r *Runtime) Volumes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.volumes))
	for _, v := range r.volumes {
		out = append(out, v.Name)
	}
	return out
}

func (r *Runtime) record(op, id string) error {
	r.calls = append(r.calls, Call{Op: op, ID: id})
	if err, ok := r.failures[op+":"+id]; ok {
		return err
	}
	if err, ok := r.failures[op+":*"]; ok {
		return err
	}
	return nil
}

func (r *Runtime) lookup(op, id string) (*entry, error) {
	if e, ok := r.byID[id]; ok {
		return e, nil
	}
	for _, e := range r.byID {
		if e.c.Name == id || (len(id) >= 6 && strings.HasPrefix(e.c.ID, id)) {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%s %s: %w", op, id, docker.ErrNotFound)
}

func (r *Runtime) Ping(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record("ping", "")
}

func (r *Runtime) Info(ctx context.Context) (models.RuntimeInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("info", ""); err != nil {
		return models.RuntimeInfo{}, err
	}
	info := r.info
	info.Containers = len(r.byID)
	info.ContainersRunning = 0
	for _, e := range r.byID {
		if e.c.Running {
			info.ContainersRunning++
		}
	}
	return info, nil
}

func (r *Runtime) ListContainers(ctx context.Context, opts docker.ListOptions) ([]models.ContainerSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("list", ""); err != nil {
		return nil, err
	}
	var out []models.ContainerSummary
	for _, id := range r.order {
		e, ok := r.byID[id]
		if !ok {
			continue
		}
		if !opts.All && !e.c.Running {
			continue
		}
		s := models.ContainerSummary{
			ID:      e.c.ID,
			Name:    e.c.Name,
			Image:   e.c.Image,
			State:   e.c.State,
			Status:  string(e.c.State),
			Labels:  e.c.Labels,
			Created: e.c.Created,
		}
		if opts.WithSize {
			s.SizeRw = e.sizeRw
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *Runtime) InspectContainer(ctx context.Context, id string) (models.Container, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("inspect", id); err != nil {
		return models.Container{}, err
	}
	e, err := r.lookup("inspect", id)
	if err != nil {
		return models.Container{}, err
	}
	return e.c, nil
}

func (r *Runtime) Stats(ctx context.Context, id string) (docker.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("stats", id); err != nil {
		return docker.Stats{}, err
	}
	e, err := r.lookup("stats", id)
	if err != nil {
		return docker.Stats{}, err
	}
	return e.stats, nil
}

func (r *Runtime) StartContainer(ctx context.Context, id string) error {
	return r.transition("start", id, func(e *entry) {
		e.c.State = models.StateRunning
		e.c.Running = true
		e.c.Paused = false
		e.c.StartedAt = r.now().UTC()
		e.c.ExitCode = 0
		if e.c.Health != models.HealthNone {
			e.c.Health = models.HealthStarting
		}
	})
}

func (r *Runtime) StopContainer(ctx context.Context, id string, timeoutSec int) error {
	return r.transition("stop", id, func(e *entry) {
		e.c.State = models.StateExited
		e.c.Running = false
		e.c.Paused = false
		e.c.FinishedAt = r.now().UTC()
	})
}

func (r *Runtime) RestartContainer(ctx context.Context, id string, timeoutSec int) error {
	return r.transition("restart", id, func(e *entry) {
		e.c.State = models.StateRunning
		e.c.Running = true
		e.c.Paused = false
		e.c.StartedAt = r.now().UTC()
		if e.c.Health != models.HealthNone {
			e.c.Health = models.HealthStarting
		}
	})
}

func (r *Runtime) PauseContainer(ctx context.Context, id string) error {
	return r.transition("pause", id, func(e *entry) {
		e.c.State = models.StatePaused
		e.c.Paused = true
	})
}

func (r *Runtime) UnpauseContainer(ctx context.Context, id string) error {
	return r.transition("unpause", id, func(e *entry) {
		e.c.State = models.StateRunning
		e.c.Paused = false
	})
}

func (r *Runtime) KillContainer(ctx context.Context, id, signal string) error {
	return r.transition("kill", id, func(e *entry) {
		e.c.State = models.StateExited
		e.c.Running = false
		e.c.Paused = false
		e.c.FinishedAt = r.now().UTC()
		e.c.ExitCode = 137
	})
}

func (r *Runtime) RemoveContainer(ctx context.Context, id string, opts docker.RemoveOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("remove", id); err != nil {
		return err
	}
	e, err := r.lookup("remove", id)
	if err != nil {
		return err
	}
	if e.c.Running && !opts.Force {
		return fmt.Errorf("remove %s: container is running", id)
	}
	delete(r.byID, e.c.ID)
	return nil
}

func (r *Runtime) transition(op, id string, apply func(e *entry)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record(op, id); err != nil {
		return err
	}
	e, err := r.lookup(op, id)
	if err != nil {
		return err
	}
	apply(e)
	return nil
}

func (r *Runtime) Exec(ctx context.Context, id string, cmd []string) (docker.ExecResult, error) {
	r.mu.Lock()
	if err := r.record("exec", id); err != nil {
		r.mu.Unlock()
		return docker.ExecResult{}, err
	}
	e, err := r.lookup("exec", id)
	if err != nil {
		r.mu.Unlock()
		return docker.ExecResult{}, err
	}
	fn := r.execs[e.c.ID]
	running := e.c.Running
	r.mu.Unlock()
	if !running {
		return docker.ExecResult{}, fmt.Errorf("exec %s: container is not running", id)
	}
	if fn == nil {
		return docker.ExecResult{}, nil
	}
	return fn(cmd)
}

func (r *Runtime) ListVolumes(ctx context.Context) ([]models.Volume, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("volumes", ""); err != nil {
		return nil, err
	}
	return append([]models.Volume(nil), r.volumes...), nil
}

func (r *Runtime) VolumeUsage(ctx context.Context) ([]models.VolumeUsage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("df", ""); err != nil {
		return nil, err
	}
	out := make([]models.VolumeUsage, 0, len(r.usage))
	for _, v := range r.volumes {
		out = append(out, r.usage[v.Name])
	}
	return out, nil
}

func (r *Runtime) RemoveVolume(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("remove-volume", name); err != nil {
		return err
	}
	for i, v := range r.volumes {
		if v.Name == name {
			r.volumes = append(r.volumes[:i], r.volumes[i+1:]...)
			delete(r.usage, name)
			return nil
		}
	}
	return fmt.Errorf("remove volume %s: %w", name, docker.ErrNotFound)
}

func (r *Runtime) CreateHelper(ctx context.Context, spec docker.HelperSpec) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("create-helper", spec.Name); err != nil {
		return "", err
	}
	r.seq++
	id := fmt.Sprintf("helper%06d", r.seq)
	r.helpers = append(r.helpers, spec)
	r.byID[id] = &entry{
		c: models.Container{
			ID: id, Name: spec.Name, Image: spec.Image, State: models.StateCreated,
			Health: models.HealthNone, Labels: spec.Labels, Created: r.now().UTC(),
		},
		binds: spec.Binds,
	}
	r.order = append(r.order, id)
	return id, nil
}

func (r *Runtime) CopyFromContainer(ctx context.Context, id, srcPath string) (io.ReadCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("copy", id); err != nil {
		return nil, err
	}
	e, err := r.lookup("copy", id)
	if err != nil {
		return nil, err
	}
	for _, b := range e.binds {
		parts := strings.Split(b, ":")
		if len(parts) >= 2 && strings.TrimSuffix(parts[1], "/") == strings.TrimSuffix(srcPath, "/") {
			if data, ok := r.archives[parts[0]]; ok {
				return io.NopCloser(bytes.NewReader(data)), nil
			}
		}
	}
	return nil, fmt.Errorf("copy %s:%s: %w", id, srcPath, docker.ErrNotFound)
}

// Names returns the names of all containers currently known, sorted.
func (r *Runtime) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.byID))
	for _, e := range r.byID {
		out = append(out, e.c.Name)
	}
	sort.Strings(out)
	return out
}

var _ docker.Runtime = (*Runtime)(nil)
