package profiling

import (
	"runtime"
	"time"
)

// RuntimeStats is the body of /debug/runtime.
type RuntimeStats struct {
	Timestamp  string  `json:"timestamp"`
	Goroutines int     `json:"goroutines"`
	GOMAXPROCS int     `json:"gomaxprocs"`
	NumCPU     int     `json:"num_cpu"`
	Version    string  `json:"version"`
	AllocMB    float64 `json:"alloc_mb"`
	TotalMB    float64 `json:"total_alloc_mb"`
	SysMB      float64 `json:"sys_mb"`
	HeapObj    uint64  `json:"heap_objects"`
	GC         GCStats `json:"gc"`
}

// GCStats provides garbage collection statistics
type GCStats struct {
	NumGC        uint32        `json:"num_gc"`
	PauseTotal   time.Duration `json:"pause_total_ns"`
	PauseRecent  time.Duration `json:"pause_recent_ns"`
	LastGC       time.Time     `json:"last_gc"`
	GCCPUPercent float64       `json:"cpu_percent"`
}

func ReadRuntimeStats() RuntimeStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return RuntimeStats{
		Timestamp:  time.Now().Format(time.RFC3339),
		Goroutines: runtime.NumGoroutine(),
		GOMAXPROCS: runtime.GOMAXPROCS(0),
		NumCPU:     runtime.NumCPU(),
		Version:    runtime.Version(),
		AllocMB:    bToMb(m.Alloc),
		TotalMB:    bToMb(m.TotalAlloc),
		SysMB:      bToMb(m.Sys),
		HeapObj:    m.HeapObjects,
		GC:         gcStats(&m),
	}
}

func gcStats(m *runtime.MemStats) GCStats {
	var recentPause time.Duration
	if m.NumGC > 0 {
		recentPause = time.Duration(m.PauseNs[(m.NumGC+255)%256])
	}
	return GCStats{
		NumGC:        m.NumGC,
		PauseTotal:   time.Duration(m.PauseTotalNs),
		PauseRecent:  recentPause,
		LastGC:       time.Unix(0, int64(m.LastGC)),
		GCCPUPercent: m.GCCPUFraction * 100,
	}
}

// bToMb converts bytes to megabytes
func bToMb(b uint64) float64 {
	return float64(b) / 1024 / 1024
}
