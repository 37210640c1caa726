package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/sketchar/internal/api"
	"github.com/mattjoyce/sketchar/internal/lock"
	"github.com/mattjoyce/sketchar/internal/log"
	"github.com/mattjoyce/sketchar/internal/vision"
)

const pruneInterval = time.Hour

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	cfg, source, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := log.WithComponent("main")
	logger.Info("sketchar starting", "version", version, "config", source)

	pidPath := pidLockPath(cfg)
	pidLock, err := lock.AcquirePIDLock(pidPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidPath, "error", err)
		return fmt.Errorf("acquire PID lock: %w", err)
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidPath)

	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	recovered, err := rt.jobs.RecoverInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("recover interrupted jobs: %w", err)
	}
	if recovered > 0 {
		logger.Warn("marked interrupted jobs as failed", "count", recovered)
	}
	if err := rt.resetWorkspace(ctx); err != nil {
		return err
	}
	pruneJobs(ctx, rt)

	detector, err := vision.NewDetector(ctx, cfg.Vision, rt.metrics)
	if err != nil {
		return fmt.Errorf("initialize vision: %w", err)
	}

	server := api.New(api.Config{
		Listen:         cfg.API.Listen,
		MaxUploadBytes: cfg.API.MaxUploadBytes,
		ReadTimeout:    cfg.API.ReadTimeout,
		WriteTimeout:   cfg.API.WriteTimeout,
		PublishedPath:  cfg.Layout.PublishedPath,
		PublicURL:      cfg.Layout.PublicURL,
		DefaultBackend: cfg.Generation.Backend,
		Backends:       rt.backends.Names(),
	}, rt.orch, detector, rt.jobs, rt.events, rt.metrics, log.WithComponent("api"))

	go func() {
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pruneJobs(ctx, rt)
			}
		}
	}()

	logger.Info("sketchar running",
		"listen", cfg.API.Listen,
		"backend", cfg.Generation.Backend,
		"busy_policy", cfg.Generation.BusyPolicy,
		"vision", detector.Available(),
	)

	err = server.Start(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("shutdown complete")
		return nil
	}
	return err
}

func pruneJobs(ctx context.Context, rt *runtime) {
	if rt.cfg.State.JobLogRetention <= 0 {
		return
	}
	n, err := rt.jobs.Prune(ctx, rt.cfg.State.JobLogRetention)
	if err != nil {
		log.WithComponent("main").Warn("job log prune failed", "error", err)
		return
	}
	if n > 0 {
		log.WithComponent("main").Info("pruned job log", "deleted", n)
	}
}
