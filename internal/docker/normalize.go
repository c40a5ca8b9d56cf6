package docker

import (
	"strings"

	"fleetguard/internal/models"
)

// NormalizeStats turns a raw stats document into a MetricSnapshot.
// CPU is (cpuDelta/systemDelta) * onlineCPUs * 100 and stays within
// [0, 100*onlineCPUs]; memory percent is 0 when no limit is reported.
func NormalizeStats(id string, s Stats) models.MetricSnapshot {
	cpus := float64(s.CPUStats.OnlineCPUs)
	if cpus == 0 {
		cpus = float64(len(s.CPUStats.CPUUsage.PercpuUsage))
		if cpus == 0 {
			cpus = 1
		}
	}
	var cpuPct float64
	sysDelta := float64(s.CPUStats.SystemCPUUsage) - float64(s.PreCPUStats.SystemCPUUsage)
	cpuDelta := float64(s.CPUStats.CPUUsage.TotalUsage) - float64(s.PreCPUStats.CPUUsage.TotalUsage)
	if sysDelta > 0 && cpuDelta > 0 {
		cpuPct = (cpuDelta / sysDelta) * cpus * 100
		if ceiling := 100 * cpus; cpuPct > ceiling {
			cpuPct = ceiling
		}
	}

	var memPct float64
	if s.MemoryStats.Limit > 0 {
		memPct = float64(s.MemoryStats.Usage) / float64(s.MemoryStats.Limit) * 100
	}

	var rx, tx, br, bw uint64
	for _, n := range s.Networks {
		rx += n.RxBytes
		tx += n.TxBytes
	}
	for _, e := range s.BlkioStats.IoServiceBytesRecursive {
		switch {
		case strings.EqualFold(e.Op, "read"):
			br += e.Value
		case strings.EqualFold(e.Op, "write"):
			bw += e.Value
		}
	}
	return models.MetricSnapshot{
		ContainerID:   id,
		CPUPct:        cpuPct,
		MemUsedBytes:  int64(s.MemoryStats.Usage),
		MemLimitBytes: int64(s.MemoryStats.Limit),
		MemPct:        memPct,
		NetRXBytes:    int64(rx),
		NetTXBytes:    int64(tx),
		BlkReadBytes:  int64(br),
		BlkWriteBytes: int64(bw),
		PIDs:          int64(s.PidsStats.Current),
	}
}
