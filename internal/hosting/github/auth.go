package github

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/oauth2"

	"github.com/randalmurphal/orch/internal/hosting"
)

// resolveToken returns the configured token, falling back to GITHUB_TOKEN.
func resolveToken(cfg hosting.Config) (string, error) {
	if cfg.Token != "" {
		return cfg.Token, nil
	}
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		return token, nil
	}
	return "", fmt.Errorf("github token is not set (config github.token or GITHUB_TOKEN)")
}

// httpClient returns a client that sends the token as a bearer credential.
func httpClient(token string) *http.Client {
	return oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
}
