// Command router starts the node-fleet diffusion router: the HTTP/WS
// boundary (C8), the dispatcher loop (C5) and the health prober (C3), all
// wired against a shared cache (C1), fleet (C2) and workflow record (C4).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"forge-router/internal/api"
	"forge-router/internal/cache"
	"forge-router/internal/config"
	"forge-router/internal/fleet"
	"forge-router/internal/health"
	"forge-router/internal/logger"
	"forge-router/internal/workflow"
)

const healthProbeInterval = time.Second

func main() {
	cfg := config.FromEnv()

	log, err := logger.New(os.Stdout, logDir(cfg))
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logger:", err)
		os.Exit(1)
	}

	c, err := cache.New(cache.Config{
		CacheDir:               cfg.CacheDir,
		RootDir:                cfg.RootDir,
		RecordPath:             cfg.RecordPath,
		MaxCacheBytes:          cfg.MaxCacheBytes,
		MaxDownloadBytesPerSec: cfg.MaxDownloadBytesPerSec,
	}, log)
	if err != nil {
		log.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}

	f := fleet.New(log)
	record := workflow.NewRecord(cfg.HistoryLimit, cfg.PendingLimit)
	dispatcher := workflow.NewDispatcher(record, f, c, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go dispatcher.Run(ctx)

	prober := health.New(f, healthProbeInterval, log)
	go prober.Run(ctx)

	server := api.New(record, f, c, dispatcher, cfg.Username, cfg.Password, log)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: server.Handler(),
	}

	go func() {
		log.Info("router starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received, draining in-flight requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown failed", "error", err)
	}

	select {
	case <-dispatcher.Idle():
		log.Info("in-flight executors drained")
	case <-shutdownCtx.Done():
		log.Warn("shutdown deadline reached with executors still running")
	}

	c.Persist()
}

func logDir(cfg config.Config) string {
	return filepath.Join(filepath.Dir(cfg.RootDir), "logs")
}
