package docker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeStats(t *testing.T) {
	var s Stats
	s.CPUStats.SystemCPUUsage = 200
	s.PreCPUStats.SystemCPUUsage = 100
	s.CPUStats.CPUUsage.TotalUsage = 150
	s.PreCPUStats.CPUUsage.TotalUsage = 100
	s.CPUStats.OnlineCPUs = 2
	s.MemoryStats.Usage = 123
	s.MemoryStats.Limit = 456
	s.Networks = map[string]NetworkStats{
		"eth0": {RxBytes: 10, TxBytes: 20},
		"eth1": {RxBytes: 1, TxBytes: 2},
	}
	s.BlkioStats.IoServiceBytesRecursive = []BlkioEntry{
		{Op: "Read", Value: 7},
		{Op: "write", Value: 8},
		{Op: "READ", Value: 3},
		{Op: "Sync", Value: 99},
	}
	s.PidsStats.Current = 12

	m := NormalizeStats("abc", s)
	assert.Equal(t, "abc", m.ContainerID)
	assert.InDelta(t, 100.0, m.CPUPct, 0.0001)
	assert.Equal(t, int64(123), m.MemUsedBytes)
	assert.InDelta(t, 123.0/456.0*100, m.MemPct, 0.0001)
	assert.Equal(t, int64(11), m.NetRXBytes)
	assert.Equal(t, int64(22), m.NetTXBytes)
	assert.Equal(t, int64(10), m.BlkReadBytes)
	assert.Equal(t, int64(8), m.BlkWriteBytes)
	assert.Equal(t, int64(12), m.PIDs)
}

func TestNormalizeStatsCPUBounds(t *testing.T) {
	cases := []struct {
		name                     string
		cpu, preCPU, sys, preSys uint64
		online                   uint64
		want                     float64
	}{
		{"no system delta", 500, 100, 100, 100, 4, 0},
		{"counter went backwards", 50, 100, 300, 100, 4, 0},
		{"system counter reset", 500, 100, 50, 100, 4, 0},
		{"cpu delta above system delta is capped", 1000, 0, 100, 0, 2, 200},
		{"falls back to one cpu", 150, 100, 200, 100, 0, 50},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var s Stats
			s.CPUStats.CPUUsage.TotalUsage = tc.cpu
			s.PreCPUStats.CPUUsage.TotalUsage = tc.preCPU
			s.CPUStats.SystemCPUUsage = tc.sys
			s.PreCPUStats.SystemCPUUsage = tc.preSys
			s.CPUStats.OnlineCPUs = tc.online
			m := NormalizeStats("x", s)
			assert.InDelta(t, tc.want, m.CPUPct, 0.0001)
		})
	}
}

func TestNormalizeStatsZeroMemoryLimit(t *testing.T) {
	var s Stats
	s.MemoryStats.Usage = 1 << 20
	m := NormalizeStats("x", s)
	assert.Zero(t, m.MemPct)
	assert.Equal(t, int64(1<<20), m.MemUsedBytes)
}
