// Package runner advances the single running task one bounded unit of work
// per tick: resolve the source, fetch a page, enqueue candidates, then follow
// a small batch under the safety pacing.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"followpilot/internal/graph"
	"followpilot/internal/metrics"
	"followpilot/internal/pacing"
	"followpilot/internal/safety"
	"followpilot/internal/stats"
	"followpilot/internal/task"
)

// Config tunes the loop. Zero fields fall back to DefaultConfig.
type Config struct {
	TickInterval        time.Duration `yaml:"tick_interval"`
	WaitStep            time.Duration `yaml:"wait_step"`
	BatchSize           int           `yaml:"batch_size"`
	ConnectionsPageSize int           `yaml:"connections_page_size"`
	CommentsPageSize    int           `yaml:"comments_page_size"`
	MaxStalledTicks     int           `yaml:"max_stalled_ticks"`
	MaxFailures         int           `yaml:"max_failures"`
}

func DefaultConfig() Config {
	return Config{
		TickInterval:        time.Second,
		WaitStep:            pacing.DefaultStep,
		BatchSize:           5,
		ConnectionsPageSize: 50,
		CommentsPageSize:    50,
		MaxStalledTicks:     20,
		MaxFailures:         3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.WaitStep <= 0 {
		c.WaitStep = d.WaitStep
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.ConnectionsPageSize <= 0 {
		c.ConnectionsPageSize = d.ConnectionsPageSize
	}
	if c.CommentsPageSize <= 0 {
		c.CommentsPageSize = d.CommentsPageSize
	}
	c.ConnectionsPageSize = min(c.ConnectionsPageSize, task.MaxQueue)
	c.CommentsPageSize = min(c.CommentsPageSize, task.MaxQueue)
	if c.MaxStalledTicks <= 0 {
		c.MaxStalledTicks = d.MaxStalledTicks
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = d.MaxFailures
	}
	return c
}

// Acceptor decides whether a candidate is queued. filters is the task's
// opaque filter document.
type Acceptor func(filters json.RawMessage, user graph.User) bool

// AcceptAll queues every candidate.
func AcceptAll(json.RawMessage, graph.User) bool { return true }

// Deps are the runner's collaborators. Stats, Metrics, Clock, Rand and
// Accept are optional.
type Deps struct {
	Manager  *task.Manager
	Graph    graph.Client
	Settings safety.Source
	Stats    stats.Recorder
	Metrics  *metrics.Metrics
	Clock    pacing.Clock
	Rand     safety.Rand
	Accept   Acceptor
}

// Result classifies a tick.
type Result string

const (
	ResultIdle   Result = "idle"
	ResultWorked Result = "worked"
	ResultError  Result = "error"
)

type Runner struct {
	cfg      Config
	manager  *task.Manager
	store    *task.Store
	graph    graph.Client
	settings safety.Source
	stats    stats.Recorder
	metrics  *metrics.Metrics
	clock    pacing.Clock
	rnd      safety.Rand
	accept   Acceptor
	waiter   pacing.Waiter

	// Consecutive failures and action ticks without a follow, per task id.
	// They live in memory only and restart from zero with the process.
	mu       sync.Mutex
	failures map[string]int
	stalls   map[string]int

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, deps Deps) *Runner {
	cfg = cfg.withDefaults()
	if deps.Clock == nil {
		deps.Clock = pacing.RealClock
	}
	if deps.Rand == nil {
		deps.Rand = safety.DefaultRand
	}
	if deps.Accept == nil {
		deps.Accept = AcceptAll
	}
	return &Runner{
		cfg:      cfg,
		manager:  deps.Manager,
		store:    deps.Manager.Store(),
		graph:    deps.Graph,
		settings: deps.Settings,
		stats:    deps.Stats,
		metrics:  deps.Metrics,
		clock:    deps.Clock,
		rnd:      deps.Rand,
		accept:   deps.Accept,
		waiter:   pacing.NewWaiter(deps.Clock, cfg.WaitStep),
		failures: make(map[string]int),
		stalls:   make(map[string]int),
	}
}

// Start runs the loop in a background goroutine until Stop or ctx ends.
// Starting an already started runner is a no-op.
func (r *Runner) Start(ctx context.Context) {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel, r.done = cancel, done
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()
}

// Stop cancels the loop and waits for the current tick to unwind.
func (r *Runner) Stop() {
	r.loopMu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.loopMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run ticks until ctx is cancelled. It always returns nil so it can sit in
// an errgroup next to the HTTP server.
func (r *Runner) Run(ctx context.Context) error {
	log.Info().Dur("tick", r.cfg.TickInterval).Int("batch", r.cfg.BatchSize).Msg("runner started")
	for {
		if ctx.Err() != nil {
			break
		}
		res, err := r.safeTick(ctx)
		if err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("runner tick failed")
		}
		r.metrics.Tick(string(res))
		if err := r.clock.Sleep(ctx, r.cfg.TickInterval); err != nil {
			break
		}
	}
	log.Info().Msg("runner stopped")
	return nil
}

func (r *Runner) safeTick(ctx context.Context) (res Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = ResultError, fmt.Errorf("tick panic: %v", p)
		}
	}()
	res, err = r.Tick(ctx)
	if err != nil {
		res = ResultError
	}
	return res, err
}

// Tick selects the running task, if any, and advances it by one unit.
func (r *Runner) Tick(ctx context.Context) (Result, error) {
	settings, err := r.settings.Load(ctx)
	if err != nil {
		return ResultError, fmt.Errorf("load safety settings: %w", err)
	}
	running, err := r.manager.Running(ctx)
	if err != nil {
		return ResultError, err
	}
	if running == nil {
		return ResultIdle, nil
	}

	j := &job{id: running.ID, typ: running.Type, settings: settings}
	switch running.Type {
	case task.TypeAccountConnections:
		err = r.tickConnections(ctx, j, running)
	case task.TypePostEngagers:
		err = r.tickEngagers(ctx, j, running)
	case task.TypeListImport:
		err = r.tickList(ctx, j, running)
	default:
		err = fmt.Errorf("task %s: %w", running.ID, task.ErrInvalidType)
	}
	if errors.Is(err, task.ErrTaskNotFound) {
		// deleted mid-tick
		r.forget(j.id)
		return ResultWorked, nil
	}
	if err != nil {
		return ResultError, err
	}
	return ResultWorked, nil
}

// job carries per-tick state.
type job struct {
	id       string
	typ      task.Type
	settings safety.Settings
}

// Failures returns the consecutive failure count for a task.
func (r *Runner) Failures(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures[id]
}

// Stalls returns how many action ticks in a row produced no follow.
func (r *Runner) Stalls(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stalls[id]
}

func (r *Runner) forget(id string) {
	r.mu.Lock()
	delete(r.failures, id)
	delete(r.stalls, id)
	r.mu.Unlock()
}

// alive keeps a wait going only while the task exists and is running.
func (r *Runner) alive(id string) pacing.AliveFunc {
	return func(ctx context.Context) bool {
		t, err := r.store.FindActive(ctx, id)
		return err == nil && t.Status == task.StatusRunning
	}
}
