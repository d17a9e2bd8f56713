package gitlab

import (
	"fmt"
	"os"

	"github.com/randalmurphal/orch/internal/hosting"
)

// resolveToken returns the configured token, falling back to GITLAB_TOKEN
// then GITLAB_PRIVATE_TOKEN.
func resolveToken(cfg hosting.Config) (string, error) {
	if cfg.Token != "" {
		return cfg.Token, nil
	}
	if token := os.Getenv("GITLAB_TOKEN"); token != "" {
		return token, nil
	}
	if token := os.Getenv("GITLAB_PRIVATE_TOKEN"); token != "" {
		return token, nil
	}
	return "", fmt.Errorf("GITLAB_TOKEN or GITLAB_PRIVATE_TOKEN environment variable is not set (required for GitLab API access)")
}
