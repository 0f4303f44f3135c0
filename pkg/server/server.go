package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/kacperjurak/goftircore"
	"github.com/kacperjurak/goftircore/internal/processing"
	"github.com/kacperjurak/goftircore/internal/source"
	"github.com/kacperjurak/goftircore/pkg/catalog"
	"github.com/kacperjurak/goftircore/pkg/config"
	"github.com/kacperjurak/goftircore/pkg/handlers"
	"github.com/kacperjurak/goftircore/pkg/profiling"
	"github.com/kacperjurak/goftircore/pkg/store"
	"github.com/kacperjurak/goftircore/pkg/webhook"
	"github.com/kacperjurak/goftircore/pkg/worker"
)

// Server represents the HTTP server with all dependencies
type Server struct {
	config       *config.Config
	serverConfig *config.ServerConfig
	pipeline     *processing.Pipeline
	workerPool   *worker.Pool
	catalog      *catalog.Catalog
	watcher      *source.Watcher
	httpServer   *http.Server
	middleware   *profiling.Middleware
	batch        *handlers.BatchHandler

	cancelWatch context.CancelFunc
	watchDone   sync.WaitGroup
	started     time.Time
}

// Options holds configuration for creating a new server
type Options struct {
	Config       *config.Config
	ServerConfig *config.ServerConfig
}

// New creates a new server instance. The catalog database is opened here
// when one is configured.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	if opts.ServerConfig == nil {
		opts.ServerConfig = config.DefaultServerConfig()
	}
	if err := opts.ServerConfig.Validate(); err != nil {
		return nil, err
	}

	pipeline := processing.NewPipeline(opts.Config)
	server := &Server{
		config:       opts.Config,
		serverConfig: opts.ServerConfig,
		pipeline:     pipeline,
		middleware:   profiling.NewMiddleware(opts.ServerConfig.EnableProfiling, opts.Config.Quiet),
		started:      time.Now(),
	}

	if path := opts.ServerConfig.CatalogPath; path != "" {
		c, err := catalog.Open(path)
		if err != nil {
			return nil, err
		}
		server.catalog = c
	}
	if opts.ServerConfig.WatchInbox != "" {
		server.watcher = &source.Watcher{
			Inbox:     opts.ServerConfig.WatchInbox,
			Outbox:    opts.ServerConfig.WatchOutbox,
			Save:      store.Save,
			OnConvert: server.recordConverted,
		}
	}

	server.workerPool = worker.New(worker.Options{
		Workers:   opts.ServerConfig.WorkerCount,
		Processor: pipeline.ProcessorFunc(),
		Quiet:     opts.Config.Quiet,
	})

	server.setupRoutes()
	return server, nil
}

// setupRoutes configures HTTP routes and handlers
func (s *Server) setupRoutes() {
	mux := http.NewServeMux()
	limit := s.serverConfig.MaxBodyBytes

	baselineHandler := handlers.NewBaselineHandler(s.pipeline, limit)
	s.batch = handlers.NewBatchHandler(s.pipeline, s.workerPool, webhook.NewClient(s.config.Quiet), limit)
	correlateHandler := handlers.NewCorrelateHandler(s.pipeline, limit)
	peaksHandler := handlers.NewPeaksHandler(s.pipeline, limit)

	// Register routes with profiling middleware
	mux.Handle("/baseline", s.middleware.ProfiledHandler("baseline", baselineHandler))
	mux.Handle("/baseline/batch", s.middleware.ProfiledHandler("baseline-batch", s.batch))
	mux.Handle("/correlate", s.middleware.ProfiledHandler("correlate", correlateHandler))
	mux.Handle("/peaks", s.middleware.ProfiledHandler("peaks", peaksHandler))
	mux.HandleFunc("/health", s.healthHandler)
	profiling.Register(mux, s.serverConfig.EnableProfiling)

	s.httpServer = &http.Server{
		Addr:              ":" + s.serverConfig.Port,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		// batch fits may legitimately run for a while
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
}

// Handler exposes the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) recordConverted(sp *goftircore.Spectrum, path string) {
	if s.catalog == nil {
		return
	}
	if err := s.catalog.Record(path, sp); err != nil {
		log.Printf("⚠️  Catalog update for %s failed: %v", path, err)
	}
}

// healthHandler provides a simple health check endpoint
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s","uptime_s":%.0f,"workers":%d,"watching":%t}`,
		time.Now().Format(time.RFC3339), time.Since(s.started).Seconds(), s.workerPool.Workers(), s.watcher != nil)
}

// Start starts the watch folder, if configured, and serves HTTP until
// Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	if s.watcher != nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancelWatch = cancel
		s.watchDone.Add(1)
		go func() {
			defer s.watchDone.Done()
			if err := s.watcher.Run(ctx, s.serverConfig.WatchSchedule); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("❌ Watch folder stopped: %v", err)
			}
		}()
	}

	log.Println("🚀 Starting HTTP server on port", s.serverConfig.Port)
	log.Println("📡 Endpoints available:")
	log.Printf("  - Baseline:  http://localhost:%s/baseline", s.serverConfig.Port)
	log.Printf("  - Batch:     http://localhost:%s/baseline/batch", s.serverConfig.Port)
	log.Printf("  - Correlate: http://localhost:%s/correlate", s.serverConfig.Port)
	log.Printf("  - Peaks:     http://localhost:%s/peaks", s.serverConfig.Port)
	log.Printf("  - Health:    http://localhost:%s/health", s.serverConfig.Port)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones until ctx
// expires, then stops the watcher, pending batch callbacks, the worker pool
// and the catalog.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("🛑 Shutting down server...")

	err := s.httpServer.Shutdown(ctx)
	if s.cancelWatch != nil {
		s.cancelWatch()
		s.watchDone.Wait()
	}
	s.batch.Shutdown()
	s.workerPool.Shutdown()
	if s.catalog != nil {
		err = errors.Join(err, s.catalog.Close())
	}

	log.Println("✅ Server shutdown complete")
	return err
}
