// Package config provides configuration management for orch.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/randalmurphal/orch/internal/assistant"
	orcherrors "github.com/randalmurphal/orch/internal/errors"
	"github.com/randalmurphal/orch/internal/hosting"
	"github.com/randalmurphal/orch/internal/project"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config represents the orch configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	GitHub    GitHubConfig    `yaml:"github" mapstructure:"github"`
	ADO       ADOConfig       `yaml:"ado" mapstructure:"ado"`
	GitLab    GitLabConfig    `yaml:"gitlab" mapstructure:"gitlab"`
	Assistant AssistantConfig `yaml:"assistant" mapstructure:"assistant"`
	Repos     ReposConfig     `yaml:"repos" mapstructure:"repos"`
	Polling   PollingConfig   `yaml:"polling" mapstructure:"polling"`
	Database  DatabaseConfig  `yaml:"database" mapstructure:"database"`

	// file is the config file that was read, if any.
	file string
}

// ServerConfig defines the API server settings.
type ServerConfig struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`
}

// GitHubConfig defines GitHub credentials.
type GitHubConfig struct {
	Token         string `yaml:"token" mapstructure:"token"`
	WebhookSecret string `yaml:"webhook_secret" mapstructure:"webhook_secret"`
	// BaseURL is set for GitHub Enterprise.
	BaseURL string `yaml:"base_url,omitempty" mapstructure:"base_url"`
}

// ADOConfig defines Azure DevOps credentials.
type ADOConfig struct {
	Organization string `yaml:"organization" mapstructure:"organization"`
	PAT          string `yaml:"pat" mapstructure:"pat"`
	BaseURL      string `yaml:"base_url,omitempty" mapstructure:"base_url"`
}

// GitLabConfig defines GitLab credentials.
type GitLabConfig struct {
	Token   string `yaml:"token" mapstructure:"token"`
	BaseURL string `yaml:"base_url,omitempty" mapstructure:"base_url"`
}

// AssistantConfig defines how the coding assistant is run.
type AssistantConfig struct {
	// MaxConcurrent caps the number of running tasks.
	MaxConcurrent int           `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Path          string        `yaml:"path" mapstructure:"path"`
	// TerminalMode opens every task in a visible terminal window.
	TerminalMode bool   `yaml:"terminal_mode" mapstructure:"terminal_mode"`
	Terminal     string `yaml:"terminal" mapstructure:"terminal"`
	// Steerable keeps the assistant's stdin open after the prompt so input
	// can be sent while it runs. Assistants that wait for EOF need it off.
	Steerable bool `yaml:"steerable" mapstructure:"steerable"`
}

// ReposConfig defines how repository names map to local checkouts.
type ReposConfig struct {
	BaseDir string `yaml:"base_dir" mapstructure:"base_dir"`
	// Mapping maps full repository names to folders. Relative folders are
	// resolved against BaseDir.
	Mapping  map[string]string `yaml:"mapping" mapstructure:"-"`
	AutoScan bool              `yaml:"auto_scan" mapstructure:"auto_scan"`
	// Watch rescans when checkouts are added to or removed from BaseDir.
	// It only applies with AutoScan.
	Watch   bool     `yaml:"watch" mapstructure:"watch"`
	Exclude []string `yaml:"exclude,omitempty" mapstructure:"exclude"`
}

// PollingConfig defines provider polling.
type PollingConfig struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
}

// DatabaseConfig defines the task store.
type DatabaseConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	Path   string `yaml:"path" mapstructure:"path"`
	DSN    string `yaml:"dsn,omitempty" mapstructure:"dsn"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 3003},
		Assistant: AssistantConfig{
			MaxConcurrent: 2,
			Timeout:       assistant.DefaultTimeout,
			Path:          assistant.DefaultPath,
			Terminal:      string(assistant.TerminalAuto),
		},
		Repos: ReposConfig{
			BaseDir:  "../",
			Mapping:  map[string]string{},
			AutoScan: true,
			Watch:    true,
		},
		Polling: PollingConfig{
			Enabled:  true,
			Interval: 60 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			Path:   project.DefaultDBPath(),
		},
	}
}

// File returns the config file the configuration was read from, or "".
func (c *Config) File() string {
	return c.file
}

// Addr returns the API server listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// DSN returns the database connection string for the configured driver.
func (c *Config) DSN() string {
	if c.Database.Driver == DriverPostgres {
		return c.Database.DSN
	}
	return c.Database.Path
}

// HostingConfigs returns the provider credentials keyed by provider type.
// Providers without a token are skipped by hosting.NewSet.
func (c *Config) HostingConfigs() map[hosting.ProviderType]hosting.Config {
	return map[hosting.ProviderType]hosting.Config{
		hosting.ProviderGitHub: {Token: c.GitHub.Token, BaseURL: c.GitHub.BaseURL},
		hosting.ProviderGitLab: {Token: c.GitLab.Token, BaseURL: c.GitLab.BaseURL},
		hosting.ProviderADO: {
			Token:        c.ADO.PAT,
			Organization: c.ADO.Organization,
			BaseURL:      c.ADO.BaseURL,
		},
	}
}

// Validate checks the configuration and reports every invalid field.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, orcherrors.ErrConfigInvalid("server.port",
			fmt.Sprintf("must be between 1 and 65535, got %d", c.Server.Port)))
	}
	if c.Assistant.MaxConcurrent < 1 {
		errs = append(errs, orcherrors.ErrConfigInvalid("assistant.max_concurrent",
			fmt.Sprintf("must be at least 1, got %d", c.Assistant.MaxConcurrent)))
	}
	if c.Assistant.Timeout <= 0 {
		errs = append(errs, orcherrors.ErrConfigInvalid("assistant.timeout",
			fmt.Sprintf("must be positive, got %s", c.Assistant.Timeout)))
	}
	if _, err := assistant.ParseTerminal(c.Assistant.Terminal); err != nil {
		errs = append(errs, err)
	}
	if c.Polling.Enabled && c.Polling.Interval <= 0 {
		errs = append(errs, orcherrors.ErrConfigInvalid("polling.interval",
			fmt.Sprintf("must be positive when polling is enabled, got %s", c.Polling.Interval)))
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			errs = append(errs, orcherrors.ErrConfigInvalid("database.path", "required for sqlite"))
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			errs = append(errs, orcherrors.ErrConfigInvalid("database.dsn", "required for postgres"))
		}
	default:
		errs = append(errs, orcherrors.ErrConfigInvalid("database.driver",
			fmt.Sprintf("unknown driver %q (want sqlite or postgres)", c.Database.Driver)))
	}

	return errors.Join(errs...)
}
