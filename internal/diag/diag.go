// Package diag provides runtime diagnostics snapshots: CPU and memory
// usage via gopsutil, augmented with the ThreadPool's own queue/worker
// stats. Subscription counts are not part of the snapshot.
package diag

import (
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/jroosing/upnpkit/internal/threadpool"
)

// Snapshot is a point-in-time diagnostics report.
type Snapshot struct {
	UptimeSeconds int64
	NumGoroutine  int
	NumCPU        int
	CPUPercent    float64
	MemTotalMB    float64
	MemUsedMB     float64
	MemUsedPercent float64
	Pool          threadpool.Stats
}

// Collector samples process and pool diagnostics.
type Collector struct {
	startTime time.Time
	pool      *threadpool.Pool
}

// NewCollector creates a Collector whose uptime is measured from now.
func NewCollector(pool *threadpool.Pool) *Collector {
	return &Collector{startTime: time.Now(), pool: pool}
}

// Snapshot samples CPU (over a 200ms window) and memory usage, plus
// the wired pool's stats.
func (c *Collector) Snapshot() Snapshot {
	snap := Snapshot{
		UptimeSeconds: int64(time.Since(c.startTime).Seconds()),
		NumGoroutine:  runtime.NumGoroutine(),
		NumCPU:        runtime.NumCPU(),
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemTotalMB = float64(vm.Total) / 1024 / 1024
		snap.MemUsedMB = float64(vm.Used) / 1024 / 1024
		snap.MemUsedPercent = vm.UsedPercent
	}

	if pct, err := cpu.Percent(200*time.Millisecond, false); err == nil && len(pct) > 0 {
		snap.CPUPercent = pct[0]
	}

	if c.pool != nil {
		snap.Pool = c.pool.GetStats()
	}

	return snap
}
