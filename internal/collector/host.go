package collector

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

type HostInfo struct {
	Hostname      string  `json:"hostname"`
	Platform      string  `json:"platform"`
	Arch          string  `json:"arch"`
	CPUs          int     `json:"cpus"`
	MemTotalBytes int64   `json:"mem_total_bytes"`
	MemUsedBytes  int64   `json:"mem_used_bytes"`
	MemFreeBytes  int64   `json:"mem_free_bytes"`
	MemUsedPct    float64 `json:"mem_used_pct"`
	Load1         float64 `json:"load1"`
	Load5         float64 `json:"load5"`
	Load15        float64 `json:"load15"`
	UptimeSec     uint64  `json:"uptime_sec"`
}

type HostCollector struct {
	getCPUCount func(context.Context, bool) (int, error)
	getMem      func(context.Context) (*mem.VirtualMemoryStat, error)
	getLoad     func(context.Context) (*load.AvgStat, error)
	getHost     func(context.Context) (*host.InfoStat, error)
}

func NewHostCollector() *HostCollector {
	return &HostCollector{
		getCPUCount: cpu.CountsWithContext,
		getMem:      mem.VirtualMemoryWithContext,
		getLoad:     load.AvgWithContext,
		getHost:     host.InfoWithContext,
	}
}

// Collect fails only when memory cannot be read; the other probes are
// best-effort.
func (h *HostCollector) Collect(ctx context.Context) (HostInfo, error) {
	out := HostInfo{Arch: runtime.GOARCH, Platform: runtime.GOOS}
	vm, err := h.getMem(ctx)
	if err != nil {
		return out, err
	}
	out.MemTotalBytes = int64(vm.Total)
	out.MemUsedBytes = int64(vm.Used)
	out.MemFreeBytes = int64(vm.Available)
	out.MemUsedPct = vm.UsedPercent

	if n, err := h.getCPUCount(ctx, true); err == nil && n > 0 {
		out.CPUs = n
	} else {
		out.CPUs = runtime.NumCPU()
	}
	if l, err := h.getLoad(ctx); err == nil && l != nil {
		out.Load1, out.Load5, out.Load15 = l.Load1, l.Load5, l.Load15
	}
	if info, err := h.getHost(ctx); err == nil && info != nil {
		out.Hostname = info.Hostname
		if info.Platform != "" {
			out.Platform = info.Platform + " " + info.PlatformVersion
		}
		if info.KernelArch != "" {
			out.Arch = info.KernelArch
		}
		out.UptimeSec = info.Uptime
	}
	return out, nil
}
