package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/randalmurphal/orch/internal/api"
	"github.com/randalmurphal/orch/internal/config"
	orcherrors "github.com/randalmurphal/orch/internal/errors"
)

// apiClient talks to a running orch server.
type apiClient struct {
	base string
	http *retryablehttp.Client
}

func newAPIClient(cfg *config.Config, logger *slog.Logger) *apiClient {
	if logger == nil {
		logger = slog.Default()
	}
	base := serverURL
	if base == "" {
		base = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = time.Second
	client.HTTPClient.Timeout = 30 * time.Second
	client.Logger = logger
	return &apiClient{base: strings.TrimSuffix(base, "/"), http: client}
}

// do sends a JSON request and decodes a JSON response into out. Error
// responses become OrchErrors carrying the server's code.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.base+path, payload)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("reach orch server at %s (is orch serve running?): %w", c.base, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return responseError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func responseError(status int, data []byte) error {
	var apiErr api.APIError
	if err := json.Unmarshal(data, &apiErr); err != nil || apiErr.Error == "" {
		return fmt.Errorf("server returned %d: %s", status, strings.TrimSpace(string(data)))
	}
	if apiErr.Code == "" {
		return fmt.Errorf("server returned %d: %s", status, apiErr.Error)
	}
	return &orcherrors.OrchError{
		Code: orcherrors.Code(apiErr.Code),
		What: apiErr.Error,
		Why:  apiErr.Details,
	}
}

func (c *apiClient) stop(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/tasks/%d/stop", id), nil, nil)
}

func (c *apiClient) steer(ctx context.Context, id int64, input string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/tasks/%d/steer", id), map[string]string{"input": input}, nil)
}

func (c *apiClient) processes(ctx context.Context) ([]api.ProcessInfo, error) {
	var out []api.ProcessInfo
	err := c.do(ctx, http.MethodGet, "/api/processes", nil, &out)
	return out, err
}

func (c *apiClient) killOld(ctx context.Context, maxAge time.Duration) (api.Message, error) {
	var out api.Message
	err := c.do(ctx, http.MethodPost, "/api/processes/kill-old?maxAge="+maxAge.String(), nil, &out)
	return out, err
}

func (c *apiClient) killAll(ctx context.Context) (api.Message, error) {
	var out api.Message
	err := c.do(ctx, http.MethodPost, "/api/processes/kill-all", nil, &out)
	return out, err
}
