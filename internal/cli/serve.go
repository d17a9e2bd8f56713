package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/orch/internal/api"
	"github.com/randalmurphal/orch/internal/assistant"
	"github.com/randalmurphal/orch/internal/config"
	"github.com/randalmurphal/orch/internal/events"
	"github.com/randalmurphal/orch/internal/executor"
	"github.com/randalmurphal/orch/internal/git"
	"github.com/randalmurphal/orch/internal/hosting"
	"github.com/randalmurphal/orch/internal/learnings"
	"github.com/randalmurphal/orch/internal/lock"
	"github.com/randalmurphal/orch/internal/orchestrator"
	"github.com/randalmurphal/orch/internal/poller"
	"github.com/randalmurphal/orch/internal/process"
	"github.com/randalmurphal/orch/internal/project"
	"github.com/randalmurphal/orch/internal/storage"
	"github.com/randalmurphal/orch/internal/task"

	// Hosting providers register themselves with the factory.
	_ "github.com/randalmurphal/orch/internal/hosting/ado"
	_ "github.com/randalmurphal/orch/internal/hosting/github"
	_ "github.com/randalmurphal/orch/internal/hosting/gitlab"
)

// newServeCmd creates the serve command
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server, webhooks, dispatcher and poller",
		Long: `Run orch: the HTTP API and WebSocket on server.port, the GitHub and
Azure DevOps webhooks, the dispatcher that runs pending tasks under
assistant.max_concurrent, and the provider poller when polling.enabled.

Only one server may use a task store at a time. Ctrl-C stops accepting work,
cancels running assistants and waits for them to exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := SetupSignalHandler(cmd.ErrOrStderr())
			defer cancel()
			return serve(ctx, cfg, slog.Default())
		},
	}
}

// serve wires every component and blocks until ctx is canceled or the API
// server fails.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.Database.Driver == config.DriverSQLite {
		if err := project.EnsureDataDir(cfg.Database.Path); err != nil {
			return err
		}
	}
	guard := lock.NewPIDGuard(dataDir(cfg))
	if err := guard.Acquire(); err != nil {
		return err
	}
	defer guard.Release()

	pub := events.NewMemoryPublisher(events.WithLogger(logger))
	defer pub.Close()

	store, err := openStore(cfg, pub, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	reportStuckTasks(ctx, store, logger)

	providers, err := hosting.NewSet(cfg.HostingConfigs(), logger)
	if err != nil {
		return fmt.Errorf("configure hosting providers: %w", err)
	}

	registry := newRegistry(cfg, logger)
	if err := registry.Refresh(ctx); err != nil {
		logger.Warn("repository scan failed", "base_dir", cfg.Repos.BaseDir, "error", err)
	}
	logger.Info("repositories mapped", "count", len(registry.Names()), "base_dir", registry.BaseDir())

	processes := process.NewRegistry(logger)
	terminal, err := assistant.ParseTerminal(cfg.Assistant.Terminal)
	if err != nil {
		return err
	}
	launcher := assistant.NewLauncher(terminal, logger)

	runner := assistant.New(assistant.Config{
		Path:          cfg.Assistant.Path,
		Timeout:       cfg.Assistant.Timeout,
		KeepStdinOpen: cfg.Assistant.Steerable,
		Registry:      processes,
		Logger:        logger,
	})

	notes := learnings.NewFileStore()
	extractor := learnings.NewExtractor(learnings.ExtractorConfig{
		Store:   notes,
		Skills:  notes,
		Invoker: runner,
		Tasks:   store,
		Logger:  logger,
	})

	exec := executor.New(executor.Config{
		Store:        store,
		Invoker:      runner,
		Outputs:      store.Outputs(),
		Providers:    providers,
		Publisher:    pub,
		Locks:        git.NewRepoLocks(),
		Learnings:    notes,
		Extractor:    extractor,
		TerminalMode: cfg.Assistant.TerminalMode,
		Launcher:     launcher,
		Logger:       logger,
	})

	dispatcher := orchestrator.New(&orchestrator.Config{
		MaxConcurrent: cfg.Assistant.MaxConcurrent,
		PollInterval:  orchestrator.DefaultConfig().PollInterval,
		Logger:        logger,
	}, store, exec)
	nudge := func(*task.Task) { dispatcher.Nudge() }

	var poll *poller.Poller
	if cfg.Polling.Enabled {
		poll = poller.New(poller.Config{
			Interval:  cfg.Polling.Interval,
			Store:     store,
			Providers: providers,
			Registry:  registry,
			OnCreate:  nudge,
			Logger:    logger,
		})
	}

	server := api.New(api.Config{
		Addr:          cfg.Addr(),
		Store:         store,
		Processes:     processes,
		Publisher:     pub,
		Providers:     providers,
		Registry:      registry,
		Terminals:     launcher,
		WebhookSecret: cfg.GitHub.WebhookSecret,
		ADOOrg:        cfg.ADO.Organization,
		OnTaskCreated: nudge,
		Logger:        logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	if err := dispatcher.Start(gctx); err != nil {
		return err
	}
	if poll != nil {
		poll.Start(gctx)
	}

	g.Go(func() error {
		return server.StartContext(gctx)
	})
	if cfg.Repos.AutoScan && cfg.Repos.Watch {
		watcher, err := project.NewWatcher(project.WatcherConfig{
			BaseDir:  registry.BaseDir(),
			Registry: registry,
			Logger:   logger,
		})
		if err != nil {
			logger.Warn("checkout watcher disabled", "error", err)
		} else {
			g.Go(func() error {
				// A base dir that cannot be watched only loses live rescans.
				if err := watcher.Run(gctx); err != nil {
					logger.Warn("checkout watcher stopped", "error", err)
				}
				return nil
			})
		}
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		if poll != nil {
			poll.Stop()
		}
		if n := len(processes.KillAll()); n > 0 {
			logger.Info("killed assistant processes", "count", n)
		}
		return dispatcher.Stop()
	})

	err = g.Wait()
	logger.Info("orch stopped")
	return err
}

// reportStuckTasks logs tasks left running by a previous server. They are
// not reset automatically.
func reportStuckTasks(ctx context.Context, store storage.Backend, logger *slog.Logger) {
	running, err := store.ListTasks(ctx, storage.ListOptions{Status: task.StatusRunning})
	if err != nil {
		logger.Warn("check for stuck tasks failed", "error", err)
		return
	}
	if len(running) == 0 {
		return
	}
	logger.Warn("tasks still marked running from a previous server",
		"count", len(running),
		"hint", "use orch stop <id> or POST /api/processes/kill-old")
	for _, t := range running {
		logger.Warn("stuck task", "task_id", t.ID, "type", t.Type, "repo", t.Repo, "pid", t.PID)
	}
}
