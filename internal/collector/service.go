package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"fleetguard/internal/docker"
	"fleetguard/internal/models"
)

var ErrInvalidArgument = errors.New("invalid argument")

const (
	MaxCompare         = 5
	DefaultConcurrency = 8
)

type SortKey string

const (
	SortCPU    SortKey = "cpu"
	SortMemory SortKey = "memory"
)

type ContainerReport struct {
	models.MetricSnapshot
	State  models.ContainerState `json:"state"`
	Health models.HealthStatus   `json:"health"`
}

type CompareEntry struct {
	ID      string           `json:"id"`
	Metrics *ContainerReport `json:"metrics,omitempty"`
	Error   string           `json:"error,omitempty"`
}

type SystemReport struct {
	CollectedAt       time.Time          `json:"collected_at"`
	Host              HostInfo           `json:"host"`
	Runtime           models.RuntimeInfo `json:"runtime"`
	ContainersTotal   int                `json:"containers_total"`
	ContainersRunning int                `json:"containers_running"`
	ContainersStopped int                `json:"containers_stopped"`
	DockerMemBytes    int64              `json:"docker_mem_bytes"`
	DockerMemPct      float64            `json:"docker_mem_pct"`
}

// Service samples container and host resource usage on demand.
type Service struct {
	rt          docker.Runtime
	host        *HostCollector
	log         *slog.Logger
	now         func() time.Time
	concurrency int
}

func NewService(rt docker.Runtime, logger *slog.Logger, concurrency int) *Service {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Service{rt: rt, host: NewHostCollector(), log: logger, now: time.Now, concurrency: concurrency}
}

func (s *Service) ContainerMetrics(ctx context.Context, id string) (ContainerReport, error) {
	if id == "" {
		return ContainerReport{}, fmt.Errorf("%w: container id is required", ErrInvalidArgument)
	}
	ctr, err := s.rt.InspectContainer(ctx, id)
	if err != nil {
		return ContainerReport{}, err
	}
	stats, err := s.rt.Stats(ctx, ctr.ID)
	if err != nil {
		return ContainerReport{}, err
	}
	now := s.now().UTC()
	m := docker.NormalizeStats(ctr.ID, stats)
	m.Name = ctr.Name
	m.TS = now
	if ctr.Running && !ctr.StartedAt.IsZero() {
		m.Uptime = models.FormatUptime(now.Sub(ctr.StartedAt))
	}
	return ContainerReport{MetricSnapshot: m, State: ctr.State, Health: ctr.Health}, nil
}

// AllContainerMetrics samples every running container concurrently, drops
// the ones that fail and sorts the rest descending by sortBy.
func (s *Service) AllContainerMetrics(ctx context.Context, sortBy SortKey) ([]ContainerReport, error) {
	if sortBy == "" {
		sortBy = SortCPU
	}
	if sortBy != SortCPU && sortBy != SortMemory {
		return nil, fmt.Errorf("%w: unknown sort key %q", ErrInvalidArgument, sortBy)
	}
	list, err := s.rt.ListContainers(ctx, docker.ListOptions{})
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	out := make([]ContainerReport, 0, len(list))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, c := range list {
		g.Go(func() error {
			r, err := s.ContainerMetrics(gctx, c.ID)
			if err != nil {
				s.log.Warn("container metrics", "id", c.ID, "name", c.Name, "err", err)
				return nil
			}
			mu.Lock()
			out = append(out, r)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(out, func(i, j int) bool {
		if sortBy == SortMemory {
			return out[i].MemPct > out[j].MemPct
		}
		return out[i].CPUPct > out[j].CPUPct
	})
	return out, nil
}

// Compare samples the first MaxCompare ids side by side; the rest are
// ignored. A failing id carries its error instead of metrics.
func (s *Service) Compare(ctx context.Context, ids []string) ([]CompareEntry, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: at least one container id is required", ErrInvalidArgument)
	}
	if len(ids) > MaxCompare {
		s.log.Debug("compare list truncated", "requested", len(ids), "kept", MaxCompare)
		ids = ids[:MaxCompare]
	}
	out := make([]CompareEntry, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			out[i].ID = id
			r, err := s.ContainerMetrics(ctx, id)
			if err != nil {
				out[i].Error = err.Error()
				return nil
			}
			out[i].Metrics = &r
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

// SystemMetrics combines host figures with container counts and the summed
// memory of running containers. A container whose stats fail counts as 0.
func (s *Service) SystemMetrics(ctx context.Context) (SystemReport, error) {
	rep := SystemReport{CollectedAt: s.now().UTC()}
	hostInfo, err := s.host.Collect(ctx)
	if err != nil {
		s.log.Warn("host metrics", "err", err)
	}
	rep.Host = hostInfo

	list, err := s.rt.ListContainers(ctx, docker.ListOptions{All: true})
	if err != nil {
		return rep, err
	}
	rep.ContainersTotal = len(list)

	var used int64
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, c := range list {
		if c.State != models.StateRunning {
			continue
		}
		rep.ContainersRunning++
		g.Go(func() error {
			st, err := s.rt.Stats(gctx, c.ID)
			if err != nil {
				s.log.Debug("stats for memory total", "id", c.ID, "err", err)
				return nil
			}
			mu.Lock()
			used += int64(st.MemoryStats.Usage)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	rep.ContainersStopped = rep.ContainersTotal - rep.ContainersRunning
	rep.DockerMemBytes = used
	if rep.Host.MemTotalBytes > 0 {
		rep.DockerMemPct = float64(used) / float64(rep.Host.MemTotalBytes) * 100
	}
	if info, err := s.rt.Info(ctx); err == nil {
		rep.Runtime = info
	}
	return rep, nil
}
