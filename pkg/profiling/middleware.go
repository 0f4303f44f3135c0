package profiling

import (
	"log"
	"net/http"
	"runtime"
	"strconv"
	"time"
)

// Middleware provides profiling and metrics middleware for HTTP handlers
type Middleware struct {
	enableProfiling bool
	quiet           bool
}

// NewMiddleware creates a new profiling middleware
func NewMiddleware(enableProfiling, quiet bool) *Middleware {
	return &Middleware{
		enableProfiling: enableProfiling,
		quiet:           quiet,
	}
}

// ProfiledHandler wraps an HTTP handler with profiling capabilities. Timing
// headers are added just before the status line is written, so they reach
// the client.
func (m *Middleware) ProfiledHandler(name string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.enableProfiling {
			handler.ServeHTTP(w, r)
			return
		}

		profiler := NewRequestProfiler(name)
		w.Header().Set("X-Handler-Name", name)

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
			profiler:       profiler,
		}
		handler.ServeHTTP(wrapped, r)
		if !wrapped.wroteHeader {
			wrapped.WriteHeader(http.StatusOK)
		}

		if !m.quiet {
			metrics := profiler.Finish()
			log.Printf("⚡ %s %s -> %d in %.3fms, memory: +%d bytes, goroutines: %d",
				name, r.Method, wrapped.statusCode,
				float64(metrics.Duration.Nanoseconds())/1000000.0,
				metrics.MemoryAllocated, metrics.Goroutines)
		}
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
	profiler    *RequestProfiler
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.wroteHeader = true
	rw.statusCode = code
	metrics := rw.profiler.Finish()
	rw.Header().Set("X-Duration-Ms", strconv.FormatFloat(float64(metrics.Duration.Nanoseconds())/1000000.0, 'f', 3, 64))
	rw.Header().Set("X-Memory-Delta-Bytes", strconv.FormatUint(metrics.MemoryAllocated, 10))
	rw.Header().Set("X-Goroutines", strconv.Itoa(metrics.Goroutines))
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// RequestProfiler provides per-request profiling information
type RequestProfiler struct {
	StartTime   time.Time
	StartMemory uint64
	Name        string
}

// NewRequestProfiler creates a new request profiler
func NewRequestProfiler(name string) *RequestProfiler {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return &RequestProfiler{
		StartTime:   time.Now(),
		StartMemory: m.TotalAlloc,
		Name:        name,
	}
}

// Finish returns the metrics accumulated since the profiler was created.
// It may be called more than once.
func (rp *RequestProfiler) Finish() ProfileMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return ProfileMetrics{
		Name:            rp.Name,
		Duration:        time.Since(rp.StartTime),
		MemoryAllocated: m.TotalAlloc - rp.StartMemory,
		FinalMemory:     m.Alloc,
		Goroutines:      runtime.NumGoroutine(),
	}
}

// ProfileMetrics holds profiling metrics for a request
type ProfileMetrics struct {
	Name            string
	Duration        time.Duration
	MemoryAllocated uint64
	FinalMemory     uint64
	Goroutines      int
}
