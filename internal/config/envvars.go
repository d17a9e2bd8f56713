package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	orcherrors "github.com/randalmurphal/orch/internal/errors"
)

// EnvPrefix prefixes every environment override, e.g. ORCH_SERVER_PORT.
const EnvPrefix = "ORCH"

// LegacyEnvVars maps the unprefixed environment variables of earlier
// deployments to config keys. A matching ORCH_ variable takes precedence.
var LegacyEnvVars = map[string]string{
	"PORT":                  "server.port",
	"GITHUB_WEBHOOK_SECRET": "github.webhook_secret",
	"GITHUB_TOKEN":          "github.token",
	"ADO_ORG":               "ado.organization",
	"ADO_PAT":               "ado.pat",
	"GITLAB_TOKEN":          "gitlab.token",
	"MAX_CONCURRENT_TASKS":  "assistant.max_concurrent",
	"CLAUDE_TIMEOUT":        "assistant.timeout",
	"CLAUDE_PATH":           "assistant.path",
	"TERMINAL_MODE":         "assistant.terminal_mode",
	"TERMINAL":              "assistant.terminal",
	"REPOS_BASE_DIR":        "repos.base_dir",
	"REPOS_AUTO_SCAN":       "repos.auto_scan",
	"POLLING_ENABLED":       "polling.enabled",
	"POLLING_INTERVAL_MS":   "polling.interval",
}

// legacyMillis are legacy variables holding a duration in milliseconds.
var legacyMillis = map[string]bool{
	"CLAUDE_TIMEOUT":      true,
	"POLLING_INTERVAL_MS": true,
}

// Repository mappings are JSON objects in the environment.
const (
	legacyMappingVar = "REPOS_MAPPING"
	mappingKey       = "repos.mapping"
)

// EnvVar returns the ORCH_ variable that overrides a config key.
func EnvVar(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// applyLegacyEnv copies legacy variables into v.
func applyLegacyEnv(v *viper.Viper) error {
	for name, key := range LegacyEnvVars {
		raw := os.Getenv(name)
		if raw == "" || os.Getenv(EnvVar(key)) != "" {
			continue
		}
		if legacyMillis[name] {
			d, err := parseMillis(raw)
			if err != nil {
				return orcherrors.ErrConfigInvalid(key, fmt.Sprintf("%s: %v", name, err))
			}
			v.Set(key, d)
		} else {
			v.Set(key, raw)
		}
	}
	return nil
}

// parseMillis reads a millisecond count. Go duration strings are accepted
// too.
func parseMillis(s string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("want milliseconds or a duration, got %q", s)
	}
	return d, nil
}

// envMapping returns the repository mapping from ORCH_REPOS_MAPPING or
// REPOS_MAPPING. The second result is false when neither is set.
func envMapping() (map[string]string, bool, error) {
	name := EnvVar(mappingKey)
	raw := os.Getenv(name)
	if raw == "" {
		name = legacyMappingVar
		raw = os.Getenv(name)
	}
	if raw == "" {
		return nil, false, nil
	}

	var mapping map[string]string
	if err := json.Unmarshal([]byte(raw), &mapping); err != nil {
		return nil, false, orcherrors.ErrConfigInvalid(mappingKey, fmt.Sprintf("%s is not a JSON object of strings: %v", name, err))
	}
	return mapping, true, nil
}
