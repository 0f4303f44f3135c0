package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/kacperjurak/goftircore/pkg/server"
)

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	set := addSettings(fs)
	port := fs.String("port", "", "port to listen on (default: from the configuration, 8080)")
	workers := fs.Int("workers", 0, "batch fit workers (default: from the configuration, 5)")
	profile := fs.Bool("profile", false, "enable pprof and per-request profiling")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, srvCfg, err := set.load(fs)
	if err != nil {
		return err
	}
	if *port != "" {
		srvCfg.Port = *port
	}
	if *workers > 0 {
		srvCfg.WorkerCount = *workers
	}
	if *profile {
		srvCfg.EnableProfiling = true
	}

	srv, err := server.New(server.Options{Config: cfg, ServerConfig: srvCfg})
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	go func() {
		<-ctx.Done()
		log.Println("🛑 Received shutdown signal...")
		shutdownCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	}()

	return srv.Start()
}
