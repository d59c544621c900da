package supervisor

import (
	"os"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/teranos/dispatchd/errors"
)

// SystemMetrics is a snapshot of host memory and worker load.
type SystemMetrics struct {
	WorkersRunning int     `json:"workers_running"`
	MaxParallel    int     `json:"max_parallel"`
	ResidentMB     float64 `json:"resident_mb"`
	MemoryUsedGB   float64 `json:"memory_used_gb"`
	MemoryTotalGB  float64 `json:"memory_total_gb"`
	MemoryPercent  float64 `json:"memory_percent"`
}

// ResidentMemory returns the resident set size of this process in bytes.
func ResidentMemory() (uint64, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, errors.Wrap(err, "failed to inspect own process")
	}
	info, err := p.MemoryInfo()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read process memory")
	}
	return info.RSS, nil
}

// SystemMetrics reports current resource usage. Memory fields stay zero
// when the host does not expose them.
func (s *Supervisor) SystemMetrics() SystemMetrics {
	m := SystemMetrics{
		WorkersRunning: s.Running(),
		MaxParallel:    s.MaxParallel(),
	}
	if rss, err := ResidentMemory(); err == nil {
		m.ResidentMB = float64(rss) / 1024 / 1024
	}
	if v, err := mem.VirtualMemory(); err == nil && v.Total > 0 {
		m.MemoryTotalGB = float64(v.Total) / 1024 / 1024 / 1024
		m.MemoryUsedGB = float64(v.Total-v.Available) / 1024 / 1024 / 1024
		m.MemoryPercent = m.MemoryUsedGB / m.MemoryTotalGB * 100
	}
	return m
}
