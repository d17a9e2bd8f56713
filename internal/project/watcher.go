package project

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/randalmurphal/orch/internal/git"
)

// DefaultDebounce is how long the base directory must be quiet before a
// rescan.
const DefaultDebounce = 500 * time.Millisecond

// Refresher rescans repositories. *Registry implements it.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	BaseDir  string
	Registry Refresher
	Debounce time.Duration // default: DefaultDebounce
	Logger   *slog.Logger
}

// Watcher rescans the registry when checkouts appear in or disappear from
// the base directory. New folders are watched until they hold a git
// repository so a clone in progress is picked up once it finishes.
type Watcher struct {
	baseDir  string
	registry Refresher
	debounce time.Duration
	logger   *slog.Logger

	fsWatcher *fsnotify.Watcher

	mu      sync.Mutex
	timer   *time.Timer
	pending map[string]bool
	stopped bool
}

// NewWatcher creates a Watcher. It does not start watching until Run.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base dir: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Watcher{
		baseDir:   abs,
		registry:  cfg.Registry,
		debounce:  debounce,
		logger:    logger,
		fsWatcher: fsWatcher,
		pending:   make(map[string]bool),
	}, nil
}

// Run watches until ctx is canceled. It returns an error only when the base
// directory cannot be watched.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.close()

	if err := w.fsWatcher.Add(w.baseDir); err != nil {
		return fmt.Errorf("watch %s: %w", w.baseDir, err)
	}
	w.logger.Info("watching for new checkouts", "base_dir", w.baseDir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("fsnotify error", "error", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	dir := filepath.Dir(event.Name)
	if dir != w.baseDir {
		// Activity inside a folder that is still becoming a repository.
		w.schedule(ctx)
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !git.IsRepo(event.Name) {
			w.track(event.Name)
		}
	}
	if event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		w.schedule(ctx)
	}
}

// track watches a new folder until it becomes a repository.
func (w *Watcher) track(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending[dir] {
		return
	}
	if err := w.fsWatcher.Add(dir); err != nil {
		w.logger.Debug("failed to watch new folder", "path", dir, "error", err)
		return
	}
	w.pending[dir] = true
}

// schedule rescans once events stop arriving for the debounce interval.
func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() { w.rescan(ctx) })
}

func (w *Watcher) rescan(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := w.registry.Refresh(ctx); err != nil {
		w.logger.Warn("repository rescan failed", "base_dir", w.baseDir, "error", err)
		return
	}
	w.logger.Debug("rescanned repositories after base dir change", "base_dir", w.baseDir)

	w.mu.Lock()
	defer w.mu.Unlock()
	for dir := range w.pending {
		if _, err := os.Stat(dir); err != nil || git.IsRepo(dir) {
			_ = w.fsWatcher.Remove(dir)
			delete(w.pending, dir)
		}
	}
}

func (w *Watcher) close() {
	w.mu.Lock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	_ = w.fsWatcher.Close()
}
