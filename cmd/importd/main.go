package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"

	"github.com/JonMunkholm/snapimport/internal/config"
	"github.com/JonMunkholm/snapimport/internal/core"
	"github.com/JonMunkholm/snapimport/internal/logging"
	"github.com/JonMunkholm/snapimport/internal/origin"
	"github.com/JonMunkholm/snapimport/internal/supervisor"
	"github.com/JonMunkholm/snapimport/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logFile, err := logging.Setup(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	if err != nil {
		slog.Error("failed to set up logging", "error", err)
		os.Exit(1)
	}
	defer logFile.Close()

	slog.Info("configuration loaded", "config", cfg.String())

	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}
	defer store.close()

	deps := core.Deps{
		Repo:    store,
		Tenants: store,
		Origins: origin.Factory(origin.Defaults{
			Endpoint:    cfg.Origin.Endpoint,
			Region:      cfg.Origin.Region,
			UseSSL:      cfg.Origin.UseSSL,
			DownloadDir: cfg.Import.DownloadDir,
		}),
	}
	opts := core.Options{
		Workers:           cfg.Import.Workers,
		HeartbeatEvery:    cfg.Import.HeartbeatEvery,
		FailureSample:     cfg.Import.FailureSample,
		FileSuffix:        cfg.Import.FileSuffix,
		ResolveTargetByID: cfg.Import.ResolveTargetByID,
	}
	health := web.Health{Ping: store.ping}

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	var (
		service    *core.Service
		dispatcher *core.Dispatcher
		tw         worker.Worker
	)

	if cfg.Supervisor.Temporal() {
		c, err := client.Dial(client.Options{
			HostPort:  cfg.Supervisor.Address,
			Namespace: cfg.Supervisor.Namespace,
			Logger:    tlog.NewStructuredLogger(slog.Default()),
		})
		if err != nil {
			slog.Error("failed to connect to temporal", "address", cfg.Supervisor.Address, "error", err)
			os.Exit(1)
		}
		defer c.Close()

		deps.Heartbeater = supervisor.Multi{supervisor.NewLease(store), supervisor.Activity{}}
		service = core.NewService(deps, opts,
			supervisor.NewTemporalScheduler(c, cfg.Supervisor.TaskQueue, supervisor.WorkflowOptions{
				FileTimeout:      cfg.Supervisor.FileTimeout,
				HeartbeatTimeout: cfg.Supervisor.HeartbeatTimeout,
				MaxAttempts:      int32(cfg.Supervisor.MaxAttempts),
			}),
			core.DeferredFiles{},
		)

		tw = supervisor.NewWorker(c, cfg.Supervisor.TaskQueue, service, worker.Options{
			MaxConcurrentActivityExecutionSize: cfg.Import.MaxConcurrentFiles + 1,
		})
		if err := tw.Start(); err != nil {
			slog.Error("failed to start temporal worker", "error", err)
			os.Exit(1)
		}
		health.Supervisor = "temporal"
		slog.Info("temporal worker started",
			"address", cfg.Supervisor.Address,
			"namespace", cfg.Supervisor.Namespace,
			"task_queue", cfg.Supervisor.TaskQueue,
		)
	} else {
		limiter := core.NewFileLimiter(cfg.Import.MaxConcurrentFiles, cfg.Import.MaxWaitTime)
		dispatcher = core.NewDispatcher(jobCtx, limiter)

		deps.Heartbeater = supervisor.NewLease(store)
		service = core.NewService(deps, opts, dispatcher, dispatcher)
		dispatcher.Bind(service)

		go service.StartRecoveryScheduler(jobCtx, core.RecoveryConfig{
			LeaseTimeout:  cfg.Import.LeaseTimeout,
			CheckInterval: cfg.Import.RecoveryInterval,
		})
		health.Limiter = limiter.Status
		health.Supervisor = "local"
	}

	server := web.NewServer(service, health, cfg.Server)

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		// Interrupted files keep their persisted offsets and resume on the
		// next run.
		cancelJobs()
		if dispatcher != nil {
			if err := dispatcher.Wait(shutdownCtx); err != nil {
				slog.Warn("imports did not stop in time", "error", err)
			} else {
				slog.Info("all imports stopped")
			}
		}
		if tw != nil {
			tw.Stop()
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr(), "supervisor", health.Supervisor)
	if err := server.Start(); !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		return
	}
	<-stopped
}
