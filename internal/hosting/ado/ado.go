// Package ado implements hosting.Provider for Azure DevOps over its REST API.
package ado

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/randalmurphal/orch/internal/hosting"
)

const (
	defaultBaseURL = "https://dev.azure.com"
	apiVersion     = "7.1"
	// Work item comments are still a preview API.
	commentsAPIVersion = "7.1-preview.4"

	// Thread status "active" and comment type "text".
	threadActive    = 1
	commentTypeText = 1
)

// Compile-time interface check.
var _ hosting.Provider = (*ADOProvider)(nil)

func init() {
	hosting.RegisterProvider(hosting.ProviderADO, newProvider)
}

// ADOProvider talks to Azure DevOps with a personal access token.
//
// Repositories are named org/project/repo, or project/repo when the
// organization comes from config. Pull request threads stand in for review
// comments: a comment's ID is its thread ID so replies land in the thread.
type ADOProvider struct {
	client  *retryablehttp.Client
	baseURL string
	org     string
	auth    string

	userOnce sync.Once
	user     string
	userErr  error
}

func newProvider(cfg hosting.Config) (hosting.Provider, error) {
	token := cfg.Token
	if token == "" {
		token = os.Getenv("AZURE_DEVOPS_PAT")
	}
	if token == "" {
		return nil, fmt.Errorf("%w: AZURE_DEVOPS_PAT is not set", hosting.ErrAuthFailed)
	}
	return New(token, cfg.Organization, cfg.BaseURL, slog.Default()), nil
}

// New creates a provider. baseURL defaults to https://dev.azure.com.
func New(pat, org, baseURL string, logger *slog.Logger) *ADOProvider {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = logger
	return &ADOProvider{
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		org:     org,
		auth:    "Basic " + base64.StdEncoding.EncodeToString([]byte(":"+pat)),
	}
}

// Name returns the provider type.
func (a *ADOProvider) Name() hosting.ProviderType {
	return hosting.ProviderADO
}

type repoRef struct {
	org, project, repo string
}

func (a *ADOProvider) parseRepo(repo string) (repoRef, error) {
	parts := strings.Split(strings.Trim(repo, "/"), "/")
	switch {
	case len(parts) == 3 && parts[0] != "" && parts[1] != "" && parts[2] != "":
		return repoRef{org: parts[0], project: parts[1], repo: parts[2]}, nil
	case len(parts) == 2 && a.org != "" && parts[0] != "" && parts[1] != "":
		return repoRef{org: a.org, project: parts[0], repo: parts[1]}, nil
	}
	return repoRef{}, fmt.Errorf("%w: %q (want org/project/repo)", hosting.ErrInvalidRepo, repo)
}

func (r repoRef) projectURL(base string) string {
	return base + "/" + url.PathEscape(r.org) + "/" + url.PathEscape(r.project)
}

func (r repoRef) repoAPI(base string) string {
	return r.projectURL(base) + "/_apis/git/repositories/" + url.PathEscape(r.repo)
}

// do sends a request and returns the response body. Non-2xx statuses are
// errors; 401 and 404 wrap the matching hosting errors.
func (a *ADOProvider) do(ctx context.Context, method, rawURL string, body any) ([]byte, error) {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, rawURL, payload)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", a.auth)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s %s returned %d", hosting.ErrAuthFailed, method, rawURL, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s %s", hosting.ErrNotFound, method, rawURL)
	case resp.StatusCode >= 300:
		msg := gjson.GetBytes(data, "message").String()
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		return nil, fmt.Errorf("%s %s returned %d: %s", method, rawURL, resp.StatusCode, msg)
	}
	return data, nil
}

// AuthenticatedUser returns the unique name of the PAT owner.
func (a *ADOProvider) AuthenticatedUser(ctx context.Context) (string, error) {
	a.userOnce.Do(func() {
		if a.org == "" {
			a.userErr = fmt.Errorf("%w: organization is required to resolve the current user", hosting.ErrInvalidRepo)
			return
		}
		u := a.baseURL + "/" + url.PathEscape(a.org) + "/_apis/connectionData"
		data, err := a.do(ctx, http.MethodGet, u, nil)
		if err != nil {
			a.userErr = fmt.Errorf("get connection data: %w", err)
			return
		}
		user := gjson.GetBytes(data, "authenticatedUser.properties.Account.$value").String()
		if user == "" {
			user = gjson.GetBytes(data, "authenticatedUser.providerDisplayName").String()
		}
		a.user = user
	})
	return a.user, a.userErr
}

// CreatePR opens a pull request from opts.Head into opts.Base.
func (a *ADOProvider) CreatePR(ctx context.Context, repo string, opts hosting.PRCreateOptions) (*hosting.PR, error) {
	ref, err := a.parseRepo(repo)
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"sourceRefName": "refs/heads/" + opts.Head,
		"targetRefName": "refs/heads/" + opts.Base,
		"title":         opts.Title,
		"description":   opts.Body,
	}
	data, err := a.do(ctx, http.MethodPost, ref.repoAPI(a.baseURL)+"/pullrequests?api-version="+apiVersion, body)
	if err != nil {
		return nil, fmt.Errorf("create PR: %w", err)
	}
	pr := a.mapPR(ref, gjson.ParseBytes(data))
	return &pr, nil
}

// GetPR gets a pull request by ID.
func (a *ADOProvider) GetPR(ctx context.Context, repo string, number int) (*hosting.PR, error) {
	ref, err := a.parseRepo(repo)
	if err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/pullrequests/%d?api-version=%s", ref.repoAPI(a.baseURL), number, apiVersion)
	data, err := a.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("get PR %d: %w", number, err)
	}
	pr := a.mapPR(ref, gjson.ParseBytes(data))
	return &pr, nil
}

// ListOpenPRs lists active pull requests.
func (a *ADOProvider) ListOpenPRs(ctx context.Context, repo string, limit int) ([]hosting.PR, error) {
	ref, err := a.parseRepo(repo)
	if err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/pullrequests?searchCriteria.status=active&$top=%d&api-version=%s",
		ref.repoAPI(a.baseURL), limit, apiVersion)
	data, err := a.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("list active PRs for %s: %w", repo, err)
	}

	var out []hosting.PR
	gjson.GetBytes(data, "value").ForEach(func(_, v gjson.Result) bool {
		out = append(out, a.mapPR(ref, v))
		return true
	})
	return out, nil
}

// ListOpenIssues is not offered; work items are delivered by webhook.
func (a *ADOProvider) ListOpenIssues(_ context.Context, _ string, _ int) ([]hosting.Issue, error) {
	return nil, hosting.ErrNotSupported
}

// ListPRComments flattens the human comments of every PR thread. The first
// comment of a thread carries the thread ID; later ones reply to it.
func (a *ADOProvider) ListPRComments(ctx context.Context, repo string, number int) ([]hosting.PRComment, error) {
	ref, err := a.parseRepo(repo)
	if err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/pullRequests/%d/threads?api-version=%s", ref.repoAPI(a.baseURL), number, apiVersion)
	data, err := a.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("list PR %d threads: %w", number, err)
	}

	var out []hosting.PRComment
	gjson.GetBytes(data, "value").ForEach(func(_, thread gjson.Result) bool {
		if thread.Get("isDeleted").Bool() {
			return true
		}
		threadID := thread.Get("id").Int()
		path := thread.Get("threadContext.filePath").String()
		line := int(thread.Get("threadContext.rightFileStart.line").Int())

		first := true
		thread.Get("comments").ForEach(func(_, c gjson.Result) bool {
			if c.Get("commentType").String() == "system" || c.Get("isDeleted").Bool() {
				return true
			}
			comment := hosting.PRComment{
				Body:      c.Get("content").String(),
				Path:      path,
				Line:      line,
				Author:    c.Get("author.uniqueName").String(),
				UpdatedAt: c.Get("lastUpdatedDate").Time(),
			}
			if first {
				comment.ID = threadID
				first = false
			} else {
				comment.ID = c.Get("id").Int()
				comment.InReplyTo = threadID
			}
			out = append(out, comment)
			return true
		})
		return true
	})
	return out, nil
}

// CreatePRComment starts a new active thread on the pull request.
func (a *ADOProvider) CreatePRComment(ctx context.Context, repo string, number int, body string) error {
	ref, err := a.parseRepo(repo)
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s/pullRequests/%d/threads?api-version=%s", ref.repoAPI(a.baseURL), number, apiVersion)
	thread := map[string]any{
		"comments": []map[string]any{{"content": body, "commentType": commentTypeText}},
		"status":   threadActive,
	}
	if _, err := a.do(ctx, http.MethodPost, u, thread); err != nil {
		return fmt.Errorf("create thread on PR %d: %w", number, err)
	}
	return nil
}

// CreateIssueComment comments on a work item.
func (a *ADOProvider) CreateIssueComment(ctx context.Context, repo string, number int, body string) error {
	ref, err := a.parseRepo(repo)
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s/_apis/wit/workItems/%d/comments?api-version=%s", ref.projectURL(a.baseURL), number, commentsAPIVersion)
	if _, err := a.do(ctx, http.MethodPost, u, map[string]string{"text": body}); err != nil {
		return fmt.Errorf("comment on work item %d: %w", number, err)
	}
	return nil
}

// ReplyToComment adds a comment to the thread commentID.
func (a *ADOProvider) ReplyToComment(ctx context.Context, repo string, number int, commentID int64, body string) error {
	ref, err := a.parseRepo(repo)
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s/pullRequests/%d/threads/%d/comments?api-version=%s",
		ref.repoAPI(a.baseURL), number, commentID, apiVersion)
	reply := map[string]any{"content": body, "parentCommentId": 1, "commentType": commentTypeText}
	if _, err := a.do(ctx, http.MethodPost, u, reply); err != nil {
		return fmt.Errorf("reply to thread %d on PR %d: %w", commentID, number, err)
	}
	return nil
}

func (a *ADOProvider) mapPR(ref repoRef, v gjson.Result) hosting.PR {
	id := int(v.Get("pullRequestId").Int())
	webURL := v.Get("_links.web.href").String()
	if webURL == "" {
		webURL = fmt.Sprintf("%s/_git/%s/pullrequest/%d", ref.projectURL(a.baseURL), url.PathEscape(ref.repo), id)
	}
	state := v.Get("status").String()
	switch state {
	case "active":
		state = "open"
	case "completed":
		state = "merged"
	case "abandoned":
		state = "closed"
	}
	updated := v.Get("closedDate").Time()
	if updated.IsZero() {
		updated = v.Get("creationDate").Time()
	}
	return hosting.PR{
		Number:     id,
		Title:      v.Get("title").String(),
		Body:       v.Get("description").String(),
		State:      state,
		HeadBranch: strings.TrimPrefix(v.Get("sourceRefName").String(), "refs/heads/"),
		BaseBranch: strings.TrimPrefix(v.Get("targetRefName").String(), "refs/heads/"),
		HTMLURL:    webURL,
		Author:     v.Get("createdBy.uniqueName").String(),
		UpdatedAt:  updated,
	}
}
