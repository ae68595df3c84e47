package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cclash/oslbench/pkg/bench"
	"github.com/cclash/oslbench/pkg/build"
	"github.com/cclash/oslbench/pkg/config"
	"github.com/cclash/oslbench/pkg/daemon"
	"github.com/cclash/oslbench/pkg/fsops"
	"github.com/cclash/oslbench/pkg/procexec"
	"github.com/cclash/oslbench/pkg/source"
	"github.com/cclash/oslbench/pkg/stores"
	"github.com/cclash/oslbench/pkg/telemetry"
	"github.com/cclash/oslbench/pkg/toolenv"
	"github.com/rs/zerolog"
)

// app holds the components one command invocation works with.
type app struct {
	config    *config.Config
	logger    zerolog.Logger
	telemetry *telemetry.Telemetry
	procs     procexec.Runner
	files     *fsops.Ops
	source    *source.Provisioner
	resolver  *toolenv.Resolver
	store     *stores.SQLiteStore

	closers []io.Closer
}

// loadApp loads the configuration and builds every component from it. The
// results store is opened only when withStore is set and a path is configured.
func loadApp(ctx context.Context, withStore bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	logger, logCloser, err := telemetry.NewLogger(cfg.Telemetry.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to open log output: %w", err)
	}

	tel, err := telemetry.New(cfg.Telemetry, logger)
	if err != nil {
		logCloser.Close()
		return nil, err
	}

	a := &app{
		config:    cfg,
		logger:    logger,
		telemetry: tel,
		procs:     procexec.NewExecRunner(logger),
		closers:   []io.Closer{logCloser},
	}

	a.files = fsops.New(cfg.RetryPolicy(), logger, fsops.WithObserver(tel.Metrics))
	a.source = source.NewProvisioner(cfg.SourceConfig(), a.files, logger)
	a.resolver = toolenv.NewResolver(cfg.ResolverConfig(), a.procs, logger)

	if withStore && cfg.StorePath() != "" {
		store, err := stores.NewSQLiteStore(cfg.StoreConfig())
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		if err := store.Init(ctx); err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("failed to open results store: %w", err)
		}
		a.closers = append(a.closers, store)
		if err := store.Migrate(ctx); err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("failed to migrate results store: %w", err)
		}
		a.store = store
	}

	return a, nil
}

// Close flushes telemetry and releases files, even after ctx was cancelled.
func (a *app) Close(ctx context.Context) error {
	errs := []error{a.telemetry.Shutdown(context.WithoutCancel(ctx))}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return errors.Join(errs...)
}

// controller creates a daemon controller over base.
func (a *app) controller(base toolenv.Environment) *daemon.Controller {
	ctrl := daemon.NewController(a.procs, base, a.logger)
	ctrl.SetObserver(a.telemetry.Metrics)
	return ctrl
}

// harness wires the benchmark harness.
func (a *app) harness(cache daemon.Config, stats bool) *bench.Harness {
	components := bench.Components{
		Environment: a.resolver,
		Source:      a.source,
		Files:       a.files,
		Builder: func(base toolenv.Environment) bench.Builder {
			runner := build.NewRunner(a.config.BuildConfig(), a.procs, base, a.logger)
			runner.SetObserver(a.telemetry.Metrics)
			return runner
		},
		Daemon: func(base toolenv.Environment) bench.DaemonController {
			return a.controller(base)
		},
		Telemetry: a.telemetry,
	}
	if a.store != nil {
		components.Store = a.store
	}

	return bench.NewHarness(components, bench.Options{
		LockPath: a.config.LockPath(),
		Release:  a.config.Release.Version,
		Cache:    cache,
		Stats:    stats,
	}, a.logger)
}
