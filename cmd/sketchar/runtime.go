package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattjoyce/sketchar/internal/backend"
	"github.com/mattjoyce/sketchar/internal/config"
	"github.com/mattjoyce/sketchar/internal/events"
	"github.com/mattjoyce/sketchar/internal/generate"
	"github.com/mattjoyce/sketchar/internal/jobs"
	"github.com/mattjoyce/sketchar/internal/lock"
	"github.com/mattjoyce/sketchar/internal/log"
	"github.com/mattjoyce/sketchar/internal/metrics"
	"github.com/mattjoyce/sketchar/internal/storage"
	"github.com/mattjoyce/sketchar/internal/workspace"
)

// runtime is the set of components shared by serve and generate.
type runtime struct {
	cfg      *config.Config
	db       *sql.DB
	jobs     *jobs.Store
	backends *backend.Registry
	ws       workspace.Manager
	metrics  *metrics.Collector
	events   *events.Hub
	orch     *generate.Orchestrator
}

// loadConfig resolves the config and sets up logging from it.
func loadConfig(configPath string) (*config.Config, string, error) {
	cfg, source, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}
	log.SetupWithWriter(os.Stderr, cfg.Service.LogLevel, cfg.Service.LogFormat)
	return cfg, source, nil
}

func openRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	logger := log.WithComponent("main")

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	logger.Debug("database opened", "path", cfg.State.Path)

	ws, err := workspace.NewFSManager(cfg.Layout.StagingDir, cfg.Layout.ScratchDir, cfg.Layout.PublishedPath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize workspace: %w", err)
	}
	if err := ws.Prepare(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("prepare workspace: %w", err)
	}

	rt := &runtime{
		cfg:      cfg,
		db:       db,
		jobs:     jobs.New(db),
		backends: backend.FromConfig(cfg),
		ws:       ws,
		metrics:  metrics.NewCollector("sketchar"),
		events:   events.NewHub(64),
	}

	rt.orch, err = generate.New(generate.Options{
		Layout:      cfg.Layout,
		Generation:  cfg.Generation,
		Backends:    rt.backends,
		Workspace:   ws,
		Recorder:    rt.jobs,
		Events:      rt.events,
		Metrics:     rt.metrics,
		BaseContext: ctx,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize orchestrator: %w", err)
	}
	return rt, nil
}

func (rt *runtime) Close() error {
	if rt == nil || rt.db == nil {
		return nil
	}
	return rt.db.Close()
}

// resetWorkspace clears leftovers from an unclean shutdown. It only runs
// when no job holds the layout lock.
func (rt *runtime) resetWorkspace(ctx context.Context) error {
	logger := log.WithComponent("main")

	fl, err := lock.TryAcquire(rt.cfg.Layout.LockPath)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			logger.Warn("generation lock held elsewhere, skipping workspace reset", "lock_path", rt.cfg.Layout.LockPath)
			return nil
		}
		return err
	}
	defer fl.Release()

	report, err := rt.ws.Reset(ctx)
	if err != nil {
		return fmt.Errorf("reset workspace: %w", err)
	}
	if report.RemovedStaged || report.DeletedEntries > 0 {
		logger.Info("removed leftovers from previous run",
			"removed_staged", report.RemovedStaged,
			"deleted_entries", report.DeletedEntries,
		)
	}
	return nil
}

// pidLockPath returns <state dir>/sketchar.pid.
func pidLockPath(cfg *config.Config) string {
	return filepath.Join(filepath.Dir(cfg.State.Path), "sketchar.pid")
}
