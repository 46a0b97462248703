package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourusername/clever-backtest/internal/api"
	"github.com/yourusername/clever-backtest/internal/backtest"
	"github.com/yourusername/clever-backtest/internal/health"
	"github.com/yourusername/clever-backtest/internal/metrics"
	"github.com/yourusername/clever-backtest/internal/scheduler"
	"github.com/yourusername/clever-backtest/internal/strategy"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the backtest service with its HTTP API and scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.InitRegistry()

	deps, err := openDependencies(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	defaults, err := backtest.FromConfig(&cfg.Backtest)
	if err != nil {
		return err
	}

	registry := strategy.DefaultRegistry()
	manager := backtest.NewManager(registry, deps.source, deps.sink(), cfg.API.Workers, appLog)

	healthServer := health.NewServer(health.Config{
		ServiceName: cfg.App.Name,
		Version:     Version,
		Commit:      GitCommit,
		Checks:      deps.checks(),
	})

	server, err := api.NewServer(api.Options{
		Address:     cfg.API.Address,
		Runner:      manager,
		Registry:    registry,
		Store:       deps.store,
		Health:      healthServer,
		Defaults:    defaults,
		SubmitRate:  cfg.API.SubmitRatePerSec,
		SubmitBurst: cfg.API.SubmitBurst,
		Logger:      appLog,
	})
	if err != nil {
		return err
	}

	if len(cfg.Schedule.Jobs) > 0 {
		sched := scheduler.NewScheduler(manager, defaults, appLog)
		for _, job := range cfg.Schedule.Jobs {
			if err := sched.ScheduleJob(job); err != nil {
				return err
			}
		}
		if err := sched.Start(); err != nil {
			return err
		}
		defer sched.Stop()
	}

	if cfg.Metrics.Enabled {
		metricsServer := startMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	healthServer.SetReady(true)
	appLog.WithField("workers", cfg.API.Workers).Info("Backtest service started")

	timeout := time.Duration(cfg.API.ShutdownTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	serveErr := server.ListenAndServe(ctx, timeout)
	healthServer.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		appLog.WithError(err).Warn("Runs did not drain before shutdown timeout")
	}
	appLog.Info("Backtest service stopped")
	return serveErr
}

func startMetricsServer(port int, path string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, metrics.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		appLog.WithField("port", port).Info("Metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.WithError(err).Error("Metrics server failed")
		}
	}()
	return srv
}
