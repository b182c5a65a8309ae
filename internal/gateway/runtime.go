package gateway

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// ProcessStats is the process section of /api/status.
type ProcessStats struct {
	Goroutines  int     `json:"goroutines"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	SysMB       float64 `json:"sys_mb"`
	GCRuns      uint32  `json:"gc_runs"`
	CPUCores    int     `json:"cpu_cores"`
	Load1       float64 `json:"load_1,omitempty"`
	UptimeSec   int64   `json:"uptime_sec"`
}

// CollectProcessStats samples the Go runtime. Load average is only filled
// in on Linux.
func CollectProcessStats(start time.Time) ProcessStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	p := ProcessStats{
		Goroutines:  runtime.NumGoroutine(),
		HeapAllocMB: float64(ms.HeapAlloc) / 1024 / 1024,
		SysMB:       float64(ms.Sys) / 1024 / 1024,
		GCRuns:      ms.NumGC,
		CPUCores:    runtime.NumCPU(),
		UptimeSec:   int64(time.Since(start).Seconds()),
	}
	if b, err := os.ReadFile("/proc/loadavg"); err == nil {
		if fields := strings.Fields(string(b)); len(fields) > 0 {
			p.Load1, _ = strconv.ParseFloat(fields[0], 64)
		}
	}
	return p
}
