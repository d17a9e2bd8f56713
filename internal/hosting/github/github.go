package github

import (
	"context"
	"fmt"
	"strings"
	"sync"

	gogithub "github.com/google/go-github/v82/github"

	"github.com/randalmurphal/orch/internal/hosting"
)

// Compile-time interface check.
var _ hosting.Provider = (*GitHubProvider)(nil)

func init() {
	hosting.RegisterProvider(hosting.ProviderGitHub, newProvider)
}

// GitHubProvider implements hosting.Provider using the go-github library.
type GitHubProvider struct {
	client *gogithub.Client

	userOnce sync.Once
	user     string
	userErr  error
}

// newProvider creates a new GitHubProvider from config.
func newProvider(cfg hosting.Config) (hosting.Provider, error) {
	token, err := resolveToken(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithClient(gogithub.NewClient(httpClient(token)), cfg.BaseURL)
}

// NewWithClient wraps an existing go-github client. baseURL, when set,
// points the client at a GitHub Enterprise host or a test server.
func NewWithClient(client *gogithub.Client, baseURL string) (*GitHubProvider, error) {
	if baseURL != "" {
		base := strings.TrimSuffix(baseURL, "/")
		var parseErr error
		client.BaseURL, parseErr = client.BaseURL.Parse(base + "/api/v3/")
		if parseErr != nil {
			return nil, fmt.Errorf("parse base URL %q: %w", baseURL, parseErr)
		}
		client.UploadURL, parseErr = client.UploadURL.Parse(base + "/api/uploads/")
		if parseErr != nil {
			return nil, fmt.Errorf("parse upload URL %q: %w", baseURL, parseErr)
		}
	}
	return &GitHubProvider{client: client}, nil
}

// Name returns the provider type.
func (g *GitHubProvider) Name() hosting.ProviderType {
	return hosting.ProviderGitHub
}

func split(repo string) (string, string, error) {
	owner, name, ok := hosting.SplitOwnerRepo(repo)
	if !ok {
		return "", "", fmt.Errorf("%w: %q is not owner/repo", hosting.ErrInvalidRepo, repo)
	}
	return owner, name, nil
}

// AuthenticatedUser returns the token owner's login. The first result is
// cached for the life of the provider.
func (g *GitHubProvider) AuthenticatedUser(ctx context.Context) (string, error) {
	g.userOnce.Do(func() {
		u, _, err := g.client.Users.Get(ctx, "")
		if err != nil {
			g.userErr = fmt.Errorf("get authenticated user: %w", err)
			return
		}
		g.user = u.GetLogin()
	})
	return g.user, g.userErr
}

// CreatePR creates a pull request.
func (g *GitHubProvider) CreatePR(ctx context.Context, repo string, opts hosting.PRCreateOptions) (*hosting.PR, error) {
	owner, name, err := split(repo)
	if err != nil {
		return nil, err
	}
	created, _, err := g.client.PullRequests.Create(ctx, owner, name, &gogithub.NewPullRequest{
		Title: gogithub.Ptr(opts.Title),
		Body:  gogithub.Ptr(opts.Body),
		Head:  gogithub.Ptr(opts.Head),
		Base:  gogithub.Ptr(opts.Base),
	})
	if err != nil {
		return nil, fmt.Errorf("create PR: %w", err)
	}
	return mapPR(created), nil
}

// GetPR gets a pull request by number.
func (g *GitHubProvider) GetPR(ctx context.Context, repo string, number int) (*hosting.PR, error) {
	owner, name, err := split(repo)
	if err != nil {
		return nil, err
	}
	pr, _, err := g.client.PullRequests.Get(ctx, owner, name, number)
	if err != nil {
		return nil, fmt.Errorf("get PR %d: %w", number, err)
	}
	return mapPR(pr), nil
}

// ListOpenPRs lists open pull requests, most recently updated first.
func (g *GitHubProvider) ListOpenPRs(ctx context.Context, repo string, limit int) ([]hosting.PR, error) {
	owner, name, err := split(repo)
	if err != nil {
		return nil, err
	}
	prs, _, err := g.client.PullRequests.List(ctx, owner, name, &gogithub.PullRequestListOptions{
		State:       "open",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: gogithub.ListOptions{PerPage: limit},
	})
	if err != nil {
		return nil, fmt.Errorf("list open PRs for %s: %w", repo, err)
	}
	out := make([]hosting.PR, 0, len(prs))
	for _, pr := range prs {
		out = append(out, *mapPR(pr))
	}
	return out, nil
}

// ListOpenIssues lists open issues, most recently updated first. Pull
// requests returned by the issues API are skipped.
func (g *GitHubProvider) ListOpenIssues(ctx context.Context, repo string, limit int) ([]hosting.Issue, error) {
	owner, name, err := split(repo)
	if err != nil {
		return nil, err
	}
	issues, _, err := g.client.Issues.ListByRepo(ctx, owner, name, &gogithub.IssueListByRepoOptions{
		State:       "open",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: gogithub.ListOptions{PerPage: limit},
	})
	if err != nil {
		return nil, fmt.Errorf("list open issues for %s: %w", repo, err)
	}
	out := make([]hosting.Issue, 0, len(issues))
	for _, is := range issues {
		if is.IsPullRequest() {
			continue
		}
		out = append(out, hosting.Issue{
			Number:    is.GetNumber(),
			Title:     is.GetTitle(),
			Body:      is.GetBody(),
			HTMLURL:   is.GetHTMLURL(),
			Author:    is.GetUser().GetLogin(),
			UpdatedAt: is.GetUpdatedAt().Time,
		})
	}
	return out, nil
}

// ListPRComments lists review comments on a PR.
func (g *GitHubProvider) ListPRComments(ctx context.Context, repo string, number int) ([]hosting.PRComment, error) {
	owner, name, err := split(repo)
	if err != nil {
		return nil, err
	}

	var allComments []*gogithub.PullRequestComment
	opts := &gogithub.PullRequestListCommentsOptions{
		ListOptions: gogithub.ListOptions{PerPage: 100},
	}
	for {
		comments, resp, err := g.client.PullRequests.ListComments(ctx, owner, name, number, opts)
		if err != nil {
			return nil, fmt.Errorf("list PR %d comments: %w", number, err)
		}
		allComments = append(allComments, comments...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	result := make([]hosting.PRComment, 0, len(allComments))
	for _, c := range allComments {
		result = append(result, mapPRComment(c))
	}
	return result, nil
}

// CreatePRComment posts a conversation comment on a PR.
func (g *GitHubProvider) CreatePRComment(ctx context.Context, repo string, number int, body string) error {
	if err := g.createIssueComment(ctx, repo, number, body); err != nil {
		return fmt.Errorf("comment on PR %d: %w", number, err)
	}
	return nil
}

// CreateIssueComment posts a comment on an issue.
func (g *GitHubProvider) CreateIssueComment(ctx context.Context, repo string, number int, body string) error {
	if err := g.createIssueComment(ctx, repo, number, body); err != nil {
		return fmt.Errorf("comment on issue %d: %w", number, err)
	}
	return nil
}

func (g *GitHubProvider) createIssueComment(ctx context.Context, repo string, number int, body string) error {
	owner, name, err := split(repo)
	if err != nil {
		return err
	}
	_, _, err = g.client.Issues.CreateComment(ctx, owner, name, number, &gogithub.IssueComment{
		Body: gogithub.Ptr(body),
	})
	return err
}

// ReplyToComment replies to a review comment thread.
func (g *GitHubProvider) ReplyToComment(ctx context.Context, repo string, number int, commentID int64, body string) error {
	owner, name, err := split(repo)
	if err != nil {
		return err
	}
	_, _, err = g.client.PullRequests.CreateCommentInReplyTo(ctx, owner, name, number, body, commentID)
	if err != nil {
		return fmt.Errorf("reply to comment %d on PR %d: %w", commentID, number, err)
	}
	return nil
}

// mapPR converts a go-github PullRequest to a hosting.PR.
func mapPR(pr *gogithub.PullRequest) *hosting.PR {
	state := pr.GetState()
	if pr.GetMerged() {
		state = "merged"
	}
	return &hosting.PR{
		Number:     pr.GetNumber(),
		Title:      pr.GetTitle(),
		Body:       pr.GetBody(),
		State:      state,
		HeadBranch: pr.GetHead().GetRef(),
		BaseBranch: pr.GetBase().GetRef(),
		HTMLURL:    pr.GetHTMLURL(),
		Author:     pr.GetUser().GetLogin(),
		UpdatedAt:  pr.GetUpdatedAt().Time,
	}
}

// mapPRComment converts a go-github PullRequestComment to a hosting.PRComment.
func mapPRComment(c *gogithub.PullRequestComment) hosting.PRComment {
	line := c.GetLine()
	if line == 0 {
		line = c.GetOriginalLine()
	}
	return hosting.PRComment{
		ID:        c.GetID(),
		Body:      c.GetBody(),
		Path:      c.GetPath(),
		Line:      line,
		DiffHunk:  c.GetDiffHunk(),
		InReplyTo: int64(c.GetInReplyTo()),
		Author:    c.GetUser().GetLogin(),
		UpdatedAt: c.GetUpdatedAt().Time,
	}
}
