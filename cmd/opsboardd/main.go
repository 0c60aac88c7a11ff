// Command opsboardd is the opsboard server daemon. It serves the REST API
// and the SSE event feed the dashboard synchronizes against.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/GoCodeAlone/opsboard/activity"
	"github.com/GoCodeAlone/opsboard/agent"
	"github.com/GoCodeAlone/opsboard/config"
	"github.com/GoCodeAlone/opsboard/internal/version"
	"github.com/GoCodeAlone/opsboard/realtime"
	"github.com/GoCodeAlone/opsboard/server"
	"github.com/GoCodeAlone/opsboard/task"
)

var configPath = flag.String("config", "opsboard.yaml", "path to config file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config %s: %v", *configPath, err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	logger.Info("starting opsboardd",
		"version", version.Version,
		"commit", version.Commit,
	)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("Failed to create data dir %s: %v", cfg.DataDir, err)
	}
	store, err := task.NewSQLiteStore(filepath.Join(cfg.DataDir, "opsboard.db"))
	if err != nil {
		log.Fatalf("Failed to open task store: %v", err)
	}
	defer store.Close() //nolint:errcheck

	registry := agent.NewRegistry()
	for _, a := range cfg.Agents {
		if err := registry.Register(agent.Agent{ID: a.ID, Name: a.Name, Role: a.Role}); err != nil {
			log.Fatalf("Failed to register agent %s: %v", a.ID, err)
		}
	}

	hub := realtime.NewHub(logger)
	defer hub.Close()

	srv := server.New(cfg, version.Version, logger)
	srv.SetTaskStore(store)
	srv.SetAgentRegistry(registry)
	srv.SetActivityLog(activity.NewLog(cfg.ActivityLimit))
	srv.SetHub(hub)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	if cfg.AgentStaleAfterSeconds > 0 {
		go staleSweep(sweepCtx, srv, time.Duration(cfg.AgentStaleAfterSeconds)*time.Second)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	fmt.Printf("opsboard server running on %s\n", cfg.Server.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		log.Fatalf("Server error: %v", err)
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("server stop error", "error", err)
	}
	logger.Info("shutdown complete")
}

// staleSweep periodically flips agents with stale heartbeats to offline.
func staleSweep(ctx context.Context, srv *server.Server, maxAge time.Duration) {
	ticker := time.NewTicker(maxAge / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			srv.MarkStaleAgents(maxAge)
		}
	}
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
