package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orcherrors "github.com/randalmurphal/orch/internal/errors"
	"github.com/randalmurphal/orch/internal/hosting"
)

func TestDefault(t *testing.T) {
	t.Parallel()
	cfg := Default()

	assert.Equal(t, 3003, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Assistant.MaxConcurrent)
	assert.Equal(t, 5*time.Minute, cfg.Assistant.Timeout)
	assert.Equal(t, "claude", cfg.Assistant.Path)
	assert.Equal(t, "auto", cfg.Assistant.Terminal)
	assert.False(t, cfg.Assistant.TerminalMode)
	assert.Equal(t, "../", cfg.Repos.BaseDir)
	assert.True(t, cfg.Repos.AutoScan)
	assert.True(t, cfg.Repos.Watch)
	assert.Empty(t, cfg.Repos.Mapping)
	assert.True(t, cfg.Polling.Enabled)
	assert.Equal(t, time.Minute, cfg.Polling.Interval)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, ".orch/orch.db", cfg.Database.Path)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		modify    func(c *Config)
		errSubstr string
	}{
		{
			name:   "default config is valid",
			modify: func(c *Config) {},
		},
		{
			name:      "port zero",
			modify:    func(c *Config) { c.Server.Port = 0 },
			errSubstr: "server.port",
		},
		{
			name:      "port too large",
			modify:    func(c *Config) { c.Server.Port = 70000 },
			errSubstr: "server.port",
		},
		{
			name:      "no concurrency",
			modify:    func(c *Config) { c.Assistant.MaxConcurrent = 0 },
			errSubstr: "assistant.max_concurrent",
		},
		{
			name:      "zero timeout",
			modify:    func(c *Config) { c.Assistant.Timeout = 0 },
			errSubstr: "assistant.timeout",
		},
		{
			name:      "unknown terminal",
			modify:    func(c *Config) { c.Assistant.Terminal = "hyper" },
			errSubstr: "assistant.terminal",
		},
		{
			name:   "known terminal",
			modify: func(c *Config) { c.Assistant.Terminal = "tmux" },
		},
		{
			name:      "unknown driver",
			modify:    func(c *Config) { c.Database.Driver = "mysql" },
			errSubstr: "database.driver",
		},
		{
			name:      "postgres needs dsn",
			modify:    func(c *Config) { c.Database.Driver = DriverPostgres },
			errSubstr: "database.dsn",
		},
		{
			name: "postgres with dsn",
			modify: func(c *Config) {
				c.Database.Driver = DriverPostgres
				c.Database.DSN = "postgres://orch@localhost/orch"
			},
		},
		{
			name:      "polling without interval",
			modify:    func(c *Config) { c.Polling.Interval = 0 },
			errSubstr: "polling.interval",
		},
		{
			name: "disabled polling ignores interval",
			modify: func(c *Config) {
				c.Polling.Enabled = false
				c.Polling.Interval = 0
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.errSubstr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
			assert.Equal(t, orcherrors.CodeConfigInvalid, orcherrors.AsOrchError(err).Code)
		})
	}
}

func TestConfig_ValidateReportsEveryField(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Server.Port = -1
	cfg.Assistant.MaxConcurrent = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "assistant.max_concurrent")
}

func TestConfig_Addr(t *testing.T) {
	t.Parallel()
	cfg := Default()
	assert.Equal(t, ":3003", cfg.Addr())

	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 8080
	assert.Equal(t, "127.0.0.1:8080", cfg.Addr())
}

func TestConfig_DSN(t *testing.T) {
	t.Parallel()
	cfg := Default()
	assert.Equal(t, ".orch/orch.db", cfg.DSN())

	cfg.Database.Driver = DriverPostgres
	cfg.Database.DSN = "postgres://localhost/orch"
	assert.Equal(t, "postgres://localhost/orch", cfg.DSN())
}

func TestConfig_HostingConfigs(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.GitHub.Token = "ghp_x"
	cfg.ADO.Organization = "acme"
	cfg.ADO.PAT = "pat"

	hc := cfg.HostingConfigs()
	assert.Equal(t, "ghp_x", hc[hosting.ProviderGitHub].Token)
	assert.Equal(t, "pat", hc[hosting.ProviderADO].Token)
	assert.Equal(t, "acme", hc[hosting.ProviderADO].Organization)
	assert.Empty(t, hc[hosting.ProviderGitLab].Token)
}
