package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"followpilot/internal/cleanup"
	"followpilot/internal/config"
	fileutil "followpilot/internal/file"
	"followpilot/internal/graph"
	"followpilot/internal/kv"
	"followpilot/internal/metrics"
	"followpilot/internal/runner"
	"followpilot/internal/safety"
	"followpilot/internal/stats"
	"followpilot/internal/task"
)

// app holds the wired components shared by the sub-commands.
type app struct {
	cfg      config.Config
	kv       kv.Store
	closeKV  func() error
	manager  *task.Manager
	settings *safety.Store
	stats    *stats.Counter
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	graph    graph.Client
}

func openStore(cfg config.Config) (kv.Store, func() error, error) { //nolint:ireturn
	noop := func() error { return nil }
	switch cfg.Store {
	case config.StoreBadger:
		db, err := kv.OpenBadger(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	case config.StoreMemory:
		return kv.NewMemoryStore(), noop, nil
	default:
		s, err := kv.NewFileStore(cfg.DataDir)
		return s, noop, err
	}
}

func buildApp(cfg config.Config) (*app, error) {
	if err := fileutil.EnsureDir(cfg.DataDir); err != nil {
		return nil, fmt.Errorf("ensure data dir: %w", err)
	}
	store, closeKV, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store, err)
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &app{
		cfg:      cfg,
		kv:       store,
		closeKV:  closeKV,
		manager:  task.NewManager(task.NewStore(store, nil)),
		settings: safety.NewStore(store, cfg.Safety),
		stats:    stats.NewCounter(store),
		registry: reg,
		metrics:  metrics.New(reg),
		graph:    graph.NewHTTPClient(cfg.Graph.HTTPOptions()),
	}, nil
}

func (a *app) newRunner() *runner.Runner {
	return runner.New(a.cfg.Runner, runner.Deps{
		Manager:  a.manager,
		Graph:    a.graph,
		Settings: a.settings,
		Stats:    a.stats,
		Metrics:  a.metrics,
	})
}

func (a *app) newCleanup() *cleanup.Flow {
	return cleanup.New(a.manager, a.graph, a.settings, cleanup.Options{
		ViewerID:    a.cfg.Graph.ViewerID,
		WaitStep:    a.cfg.Runner.WaitStep,
		MaxFailures: a.cfg.Runner.MaxFailures,
		Metrics:     a.metrics,
	})
}

func (a *app) close() error {
	return a.closeKV()
}
