package profiling

import (
	"encoding/json"
	"log"
	"net/http"
	"net/http/pprof"
	"runtime"
)

// Register mounts the pprof endpoints and /debug/runtime on mux. Nothing is
// mounted when profiling is disabled.
func Register(mux *http.ServeMux, enabled bool) {
	if !enabled {
		log.Println("📊 Profiling disabled")
		return
	}

	runtime.SetBlockProfileRate(1)
	runtime.SetMutexProfileFraction(1)

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.HandleFunc("/debug/runtime", runtimeHandler)

	log.Printf("📈 Profiling endpoints: /debug/pprof/ (heap, goroutine, block, mutex), /debug/runtime")
}

func runtimeHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(ReadRuntimeStats())
}
