// Package hosting provides a unified interface for the git hosting services
// orch reads events from and writes results back to.
package hosting

import (
	"context"
	"time"
)

// ProviderType identifies which hosting provider is in use.
type ProviderType string

const (
	ProviderGitHub  ProviderType = "github"
	ProviderGitLab  ProviderType = "gitlab"
	ProviderADO     ProviderType = "ado"
	ProviderUnknown ProviderType = "unknown"
)

// Provider is the interface for git hosting providers.
// Implementations exist for GitHub (go-github), GitLab (client-go) and
// Azure DevOps (REST over go-retryablehttp).
//
// repo is the provider's full repository name: owner/repo on GitHub,
// group/.../repo on GitLab, and [org/]project/repo on Azure DevOps.
type Provider interface {
	Name() ProviderType
	// AuthenticatedUser returns the login the token belongs to.
	AuthenticatedUser(ctx context.Context) (string, error)

	// PR / Merge Request operations
	CreatePR(ctx context.Context, repo string, opts PRCreateOptions) (*PR, error)
	GetPR(ctx context.Context, repo string, number int) (*PR, error)
	ListOpenPRs(ctx context.Context, repo string, limit int) ([]PR, error)

	// Issues (work items on Azure DevOps)
	ListOpenIssues(ctx context.Context, repo string, limit int) ([]Issue, error)

	// Comments
	ListPRComments(ctx context.Context, repo string, number int) ([]PRComment, error)
	CreatePRComment(ctx context.Context, repo string, number int, body string) error
	CreateIssueComment(ctx context.Context, repo string, number int, body string) error
	ReplyToComment(ctx context.Context, repo string, number int, commentID int64, body string) error
}

// PR represents a pull request / merge request.
type PR struct {
	Number     int       `json:"number"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	State      string    `json:"state"` // open, closed, merged
	HeadBranch string    `json:"head_branch"`
	BaseBranch string    `json:"base_branch"`
	HTMLURL    string    `json:"html_url"`
	Author     string    `json:"author"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// PRCreateOptions for creating a PR / merge request.
type PRCreateOptions struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Head  string `json:"head"` // Source branch
	Base  string `json:"base"` // Target branch
}

// Issue represents an open issue.
type Issue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	HTMLURL   string    `json:"html_url"`
	Author    string    `json:"author"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PRComment represents a review comment.
type PRComment struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	Path      string    `json:"path,omitempty"` // File path for inline comments
	Line      int       `json:"line,omitempty"`
	DiffHunk  string    `json:"diff_hunk,omitempty"`
	InReplyTo int64     `json:"in_reply_to,omitempty"`
	Author    string    `json:"author"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsReply reports whether the comment answers another comment.
func (c PRComment) IsReply() bool {
	return c.InReplyTo != 0
}
