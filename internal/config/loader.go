package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/orch/internal/project"
)

// FileName is the config file looked up in the search paths.
const FileName = "config.yaml"

// Load reads the configuration. Precedence, lowest first: defaults, the
// config file, legacy environment variables, ORCH_ environment variables.
//
// With an empty path the file is searched for in .orch/ and then ~/.orch/;
// finding none is not an error. An explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.SetConfigType("yaml")
		v.AddConfigPath(project.LocalDir)
		v.AddConfigPath(filepath.Join("$HOME", project.GlobalDir))
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := applyLegacyEnv(v); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.file = v.ConfigFileUsed()

	// Repository names are case sensitive and may contain dots, which
	// viper's key handling would fold or split, so the mapping is read
	// straight from the file.
	mapping, err := fileMapping(cfg.file)
	if err != nil {
		return nil, err
	}
	if fromEnv, ok, err := envMapping(); err != nil {
		return nil, err
	} else if ok {
		mapping = fromEnv
	}
	cfg.Repos.Mapping = map[string]string{}
	maps.Copy(cfg.Repos.Mapping, mapping)

	return cfg, nil
}

// LoadValid loads the configuration and validates it.
func LoadValid(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv overrides reach Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)

	v.SetDefault("github.token", d.GitHub.Token)
	v.SetDefault("github.webhook_secret", d.GitHub.WebhookSecret)
	v.SetDefault("github.base_url", d.GitHub.BaseURL)

	v.SetDefault("ado.organization", d.ADO.Organization)
	v.SetDefault("ado.pat", d.ADO.PAT)
	v.SetDefault("ado.base_url", d.ADO.BaseURL)

	v.SetDefault("gitlab.token", d.GitLab.Token)
	v.SetDefault("gitlab.base_url", d.GitLab.BaseURL)

	v.SetDefault("assistant.max_concurrent", d.Assistant.MaxConcurrent)
	v.SetDefault("assistant.timeout", d.Assistant.Timeout)
	v.SetDefault("assistant.path", d.Assistant.Path)
	v.SetDefault("assistant.terminal_mode", d.Assistant.TerminalMode)
	v.SetDefault("assistant.terminal", d.Assistant.Terminal)
	v.SetDefault("assistant.steerable", d.Assistant.Steerable)

	v.SetDefault("repos.base_dir", d.Repos.BaseDir)
	v.SetDefault("repos.auto_scan", d.Repos.AutoScan)
	v.SetDefault("repos.watch", d.Repos.Watch)
	v.SetDefault("repos.exclude", d.Repos.Exclude)

	v.SetDefault("polling.enabled", d.Polling.Enabled)
	v.SetDefault("polling.interval", d.Polling.Interval)

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.dsn", d.Database.DSN)
}

// fileMapping reads repos.mapping from a config file with its keys intact.
func fileMapping(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var doc struct {
		Repos struct {
			Mapping map[string]string `yaml:"mapping"`
		} `yaml:"repos"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc.Repos.Mapping, nil
}
