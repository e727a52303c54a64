// Package main is the entry point for the swarm coordination core's
// standalone HTTP service.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hivecore/swarmcore/internal/common/config"
	"github.com/hivecore/swarmcore/internal/common/logger"
	"github.com/hivecore/swarmcore/internal/db"
	"github.com/hivecore/swarmcore/internal/events/bus"
	"github.com/hivecore/swarmcore/internal/memory"
	"github.com/hivecore/swarmcore/internal/swarm/api"
	"github.com/hivecore/swarmcore/internal/swarm/coordinator"
	"github.com/hivecore/swarmcore/internal/swarm/executor"
	"github.com/hivecore/swarmcore/internal/swarm/models"
	"github.com/hivecore/swarmcore/internal/swarm/repository"
	"github.com/hivecore/swarmcore/internal/swarm/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting swarm coordination core")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.OpenPool(cfg.Database.Path,
		db.WithBusyTimeout(time.Duration(cfg.Database.BusyTimeout)*time.Millisecond),
		db.WithReaderConns(cfg.Database.ReaderConns),
	)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(pool.Writer().DB, log); err != nil {
		log.Fatal("failed to migrate database", zap.Error(err))
	}
	log.Info("database ready", zap.String("path", cfg.Database.Path))

	memStore, err := newMemoryStore(cfg.Memory, pool, log)
	if err != nil {
		log.Fatal("failed to initialize memory store", zap.Error(err))
	}
	defer memStore.Close()

	eventBus := bus.NewMemoryBus(log)

	repo := repository.New(pool)

	sessions := session.New(repo, repo, repo, repo, eventBus, log,
		session.WithStorageDir(cfg.Session.StorageDir),
		session.WithStopGracePeriod(cfg.Session.StopGracePeriod()),
	)

	if cleaned, err := sessions.CleanupOrphanedProcesses(ctx); err != nil {
		log.Warn("orphaned session cleanup failed", zap.Error(err))
	} else if cleaned > 0 {
		log.Info("cleaned up orphaned sessions", zap.Int("count", cleaned))
	}

	registry := prometheus.NewRegistry()
	exec := executor.New(log,
		executor.WithOutputBufferBytes(cfg.Executor.OutputBufferBytes),
		executor.WithMetricsRegistry(registry),
	)

	coord := coordinator.New(repo, repo, repo, repo, exec, newDriverFactory(cfg.Executor, log), eventBus, log,
		coordinator.WithDefaultTaskConstraints(models.TaskConstraints{
			Timeout:    time.Duration(cfg.Executor.DefaultTimeoutSeconds) * time.Second,
			MaxRetries: cfg.Executor.DefaultMaxRetries,
		}),
	)

	autosaveSchedule := ""
	if cfg.AutoSave.Enabled {
		autosaveSchedule = cfg.AutoSave.CronSchedule
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	server := api.NewServer(sessions, coord, repo, memStore, eventBus, registry, autosaveSchedule, log)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down swarm coordination core")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}

	log.Info("swarm coordination core stopped")
}

// newMemoryStore builds the namespaced KV store per the configured
// backend: "sqlite" alone, "memory" alone, or "auto" (sqlite primary with
// a permanent in-memory fallback).
func newMemoryStore(cfg config.MemoryConfig, pool *db.Pool, log *logger.Logger) (memory.Store, error) {
	switch cfg.Backend {
	case "memory":
		return memory.NewInMemoryStore(), nil
	case "sqlite":
		return memory.NewSQLiteStore(pool.Writer()), nil
	default:
		return memory.NewFallbackStore(memory.NewSQLiteStore(pool.Writer()), memory.NewInMemoryStore(), log), nil
	}
}

// newDriverFactory resolves the AgentDriver every dispatched task runs
// through. With no agent command configured it falls back to an
// in-process no-op driver, enough to exercise decomposition/scheduling
// without a real agent binary installed. A fresh driver is constructed on
// every DriverFor call since SubprocessDriver tracks one in-flight *exec.Cmd
// per instance and concurrent dispatches must not share it.
func newDriverFactory(cfg config.ExecutorConfig, log *logger.Logger) coordinator.DriverFactory {
	if cfg.AgentCommand == "" {
		log.Warn("executor.agentCommand not set; dispatched tasks will run against a no-op driver")
	}
	return commandDriverFactory{cfg: cfg}
}

// commandDriverFactory builds one driver per dispatch from the static
// executor configuration: a SubprocessDriver when an agent command is
// configured, otherwise an always-succeeding in-process no-op.
type commandDriverFactory struct {
	cfg config.ExecutorConfig
}

func (f commandDriverFactory) DriverFor(*models.Agent) (executor.AgentDriver, error) {
	if f.cfg.AgentCommand == "" {
		return executor.NewInProcDriver(func(context.Context, string) (string, error) {
			return "no agent command configured", nil
		}), nil
	}
	return executor.NewSubprocessDriver(f.cfg.AgentCommand, f.cfg.AgentBaseDir, f.cfg.AgentArgs...), nil
}
