// Package orchestrator dispatches pending tasks to the executor under a
// global concurrency limit.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/randalmurphal/orch/internal/task"
)

// Config holds dispatcher configuration.
type Config struct {
	MaxConcurrent int           // Maximum parallel tasks (default: 2)
	PollInterval  time.Duration // Sweep interval (default: 5s)
	Logger        *slog.Logger
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrent: 2,
		PollInterval:  5 * time.Second,
	}
}

// Store is the slice of the task store the dispatcher reads.
type Store interface {
	GetPendingTasks(ctx context.Context, limit int) ([]*task.Task, error)
	GetRunningCount(ctx context.Context) (int, error)
}

// Runner claims and runs a single task. executor.Executor implements it.
type Runner interface {
	Claim(ctx context.Context, t *task.Task) (bool, error)
	Run(ctx context.Context, t *task.Task)
}

// Status represents the dispatcher status.
type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
)

// Orchestrator sweeps the store for pending tasks and launches them.
type Orchestrator struct {
	config *Config
	store  Store
	runner Runner
	logger *slog.Logger

	status Status
	ctx    context.Context
	cancel context.CancelFunc
	loop   sync.WaitGroup
	tasks  sync.WaitGroup
	nudge  chan struct{}
	mu     sync.Mutex

	// sweepMu serializes sweeps so a tick and a nudge cannot both claim
	// against the same running count.
	sweepMu sync.Mutex
}

// New creates a dispatcher.
func New(cfg *Config, store Store, runner Runner) *Orchestrator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	if c.MaxConcurrent < 1 {
		c.MaxConcurrent = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultConfig().PollInterval
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		config: &c,
		store:  store,
		runner: runner,
		logger: logger,
		status: StatusStopped,
		nudge:  make(chan struct{}, 1),
	}
}

// Start sweeps once immediately, then every PollInterval until Stop or
// until ctx is canceled. Tasks inherit a context derived from ctx.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.status == StatusRunning {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already running")
	}
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.status = StatusRunning
	o.mu.Unlock()

	o.logger.Info("orchestrator started",
		"max_concurrent", o.config.MaxConcurrent,
		"poll_interval", o.config.PollInterval)

	o.loop.Add(1)
	go o.mainLoop()
	return nil
}

// Stop ends the sweep loop, cancels running tasks and waits for them to
// return.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	if o.status != StatusRunning {
		o.mu.Unlock()
		return nil
	}
	o.status = StatusStopped
	o.mu.Unlock()

	o.cancel()
	o.loop.Wait()
	o.tasks.Wait()

	o.logger.Info("orchestrator stopped")
	return nil
}

// Status reports whether the sweep loop is running.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Nudge requests a sweep ahead of the next tick. It never blocks.
func (o *Orchestrator) Nudge() {
	select {
	case o.nudge <- struct{}{}:
	default:
	}
}

// Wait blocks until every launched task has returned.
func (o *Orchestrator) Wait() {
	o.tasks.Wait()
}

func (o *Orchestrator) mainLoop() {
	defer o.loop.Done()

	o.sweepLogged()

	ticker := time.NewTicker(o.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.sweepLogged()
		case <-o.nudge:
			o.sweepLogged()
		}
	}
}

func (o *Orchestrator) sweepLogged() {
	if _, err := o.Sweep(o.ctx); err != nil && o.ctx.Err() == nil {
		o.logger.Error("dispatch sweep failed", "error", err)
	}
}

// Sweep claims up to MaxConcurrent minus the running count of the oldest
// pending tasks and launches each in its own goroutine. It returns how
// many tasks were launched. Claiming happens before Sweep returns, so a
// following sweep sees the new running count.
func (o *Orchestrator) Sweep(ctx context.Context) (int, error) {
	o.sweepMu.Lock()
	defer o.sweepMu.Unlock()

	running, err := o.store.GetRunningCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("running count: %w", err)
	}
	available := o.config.MaxConcurrent - running
	if available <= 0 {
		return 0, nil
	}

	pending, err := o.store.GetPendingTasks(ctx, available)
	if err != nil {
		return 0, fmt.Errorf("pending tasks: %w", err)
	}

	launched := 0
	for _, t := range pending {
		ok, err := o.runner.Claim(ctx, t)
		if err != nil {
			o.logger.Error("claim task failed", "task_id", t.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		launched++
		o.launch(t)
	}
	if launched > 0 {
		o.logger.Debug("dispatched tasks", "launched", launched, "running", running+launched)
	}
	return launched, nil
}

func (o *Orchestrator) launch(t *task.Task) {
	ctx := o.runContext()
	o.tasks.Add(1)
	go func() {
		defer o.tasks.Done()
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("task runner panicked", "task_id", t.ID, "panic", r)
			}
		}()
		o.runner.Run(ctx, t)
	}()
}

// runContext is the loop context while started, and a background context
// for sweeps triggered without Start.
func (o *Orchestrator) runContext() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ctx != nil && o.status == StatusRunning {
		return o.ctx
	}
	return context.Background()
}
