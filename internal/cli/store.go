package cli

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/randalmurphal/orch/internal/config"
	"github.com/randalmurphal/orch/internal/db"
	"github.com/randalmurphal/orch/internal/db/driver"
	orcherrors "github.com/randalmurphal/orch/internal/errors"
	"github.com/randalmurphal/orch/internal/events"
	"github.com/randalmurphal/orch/internal/project"
	"github.com/randalmurphal/orch/internal/storage"
)

// openBackend opens the configured task store. Tests replace it.
var openBackend = func(cfg *config.Config, pub events.Publisher, logger *slog.Logger) (storage.Backend, error) {
	return openStore(cfg, pub, logger)
}

func openStore(cfg *config.Config, pub events.Publisher, logger *slog.Logger) (*storage.DatabaseBackend, error) {
	dialect, err := driver.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, orcherrors.ErrConfigInvalid("database.driver", err.Error())
	}
	d, err := db.OpenWithDialect(cfg.DSN(), dialect)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}
	return storage.NewDatabaseBackend(storage.Config{
		DB:        d,
		Publisher: pub,
		Logger:    logger,
	}), nil
}

// withBackend opens the store for a single command.
func withBackend(fn func(ctx context.Context, cfg *config.Config, b storage.Backend) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	b, err := openBackend(cfg, events.NewNopPublisher(), slog.Default())
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()
	return fn(context.Background(), cfg, b)
}

// dataDir is the directory holding the server's PID file: next to the
// SQLite file, or the local .orch directory for Postgres.
func dataDir(cfg *config.Config) string {
	if cfg.Database.Driver == config.DriverSQLite {
		return filepath.Dir(cfg.Database.Path)
	}
	return project.LocalDir
}

// newRegistry builds the repository registry from the configuration.
func newRegistry(cfg *config.Config, logger *slog.Logger) *project.Registry {
	return project.NewRegistry(project.RegistryConfig{
		BaseDir:  cfg.Repos.BaseDir,
		Manual:   cfg.Repos.Mapping,
		AutoScan: cfg.Repos.AutoScan,
		Exclude:  cfg.Repos.Exclude,
		Logger:   logger,
	})
}

func parseTaskID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, orcherrors.ErrInvalidRequest(fmt.Sprintf("invalid task id %q", s))
	}
	return id, nil
}
