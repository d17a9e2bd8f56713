package gitlab

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	gogitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/randalmurphal/orch/internal/hosting"
)

// Compile-time interface check.
var _ hosting.Provider = (*GitLabProvider)(nil)

func init() {
	hosting.RegisterProvider(hosting.ProviderGitLab, newProvider)
}

// GitLabProvider implements hosting.Provider using the GitLab client-go
// library. The repo argument is the project's full path, which GitLab
// accepts as a project ID.
type GitLabProvider struct {
	client *gogitlab.Client

	userOnce sync.Once
	user     string
	userErr  error
}

// newProvider creates a new GitLabProvider from config.
func newProvider(cfg hosting.Config) (hosting.Provider, error) {
	token, err := resolveToken(cfg)
	if err != nil {
		return nil, err
	}
	return New(token, cfg.BaseURL)
}

// New creates a provider for gitlab.com or, with baseURL, a self-hosted
// instance.
func New(token, baseURL string) (*GitLabProvider, error) {
	var opts []gogitlab.ClientOptionFunc
	if baseURL != "" {
		opts = append(opts, gogitlab.WithBaseURL(strings.TrimSuffix(baseURL, "/")+"/api/v4"))
	}
	client, err := gogitlab.NewClient(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GitLab client: %w", err)
	}
	return &GitLabProvider{client: client}, nil
}

// Name returns the provider type.
func (g *GitLabProvider) Name() hosting.ProviderType {
	return hosting.ProviderGitLab
}

// AuthenticatedUser returns the token owner's username.
func (g *GitLabProvider) AuthenticatedUser(ctx context.Context) (string, error) {
	g.userOnce.Do(func() {
		u, _, err := g.client.Users.CurrentUser(gogitlab.WithContext(ctx))
		if err != nil {
			g.userErr = fmt.Errorf("get current user: %w", err)
			return
		}
		g.user = u.Username
	})
	return g.user, g.userErr
}

// CreatePR creates a merge request.
func (g *GitLabProvider) CreatePR(ctx context.Context, repo string, opts hosting.PRCreateOptions) (*hosting.PR, error) {
	mr, _, err := g.client.MergeRequests.CreateMergeRequest(repo, &gogitlab.CreateMergeRequestOptions{
		Title:              gogitlab.Ptr(opts.Title),
		Description:        gogitlab.Ptr(opts.Body),
		SourceBranch:       gogitlab.Ptr(opts.Head),
		TargetBranch:       gogitlab.Ptr(opts.Base),
		RemoveSourceBranch: gogitlab.Ptr(true),
	}, gogitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("create MR: %w", err)
	}
	return mapMR(mr), nil
}

// GetPR gets a merge request by IID.
func (g *GitLabProvider) GetPR(ctx context.Context, repo string, number int) (*hosting.PR, error) {
	mr, _, err := g.client.MergeRequests.GetMergeRequest(repo, int64(number), nil, gogitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("get MR %d: %w", number, err)
	}
	return mapMR(mr), nil
}

// ListOpenPRs lists opened merge requests, most recently updated first.
func (g *GitLabProvider) ListOpenPRs(ctx context.Context, repo string, limit int) ([]hosting.PR, error) {
	mrs, _, err := g.client.MergeRequests.ListProjectMergeRequests(repo, &gogitlab.ListProjectMergeRequestsOptions{
		State:       gogitlab.Ptr("opened"),
		OrderBy:     gogitlab.Ptr("updated_at"),
		Sort:        gogitlab.Ptr("desc"),
		ListOptions: gogitlab.ListOptions{PerPage: int64(limit)},
	}, gogitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("list open MRs for %s: %w", repo, err)
	}
	out := make([]hosting.PR, 0, len(mrs))
	for _, mr := range mrs {
		out = append(out, *mapBasicMR(mr))
	}
	return out, nil
}

// ListOpenIssues lists opened issues, most recently updated first.
func (g *GitLabProvider) ListOpenIssues(ctx context.Context, repo string, limit int) ([]hosting.Issue, error) {
	issues, _, err := g.client.Issues.ListProjectIssues(repo, &gogitlab.ListProjectIssuesOptions{
		State:       gogitlab.Ptr("opened"),
		OrderBy:     gogitlab.Ptr("updated_at"),
		Sort:        gogitlab.Ptr("desc"),
		ListOptions: gogitlab.ListOptions{PerPage: int64(limit)},
	}, gogitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("list open issues for %s: %w", repo, err)
	}
	out := make([]hosting.Issue, 0, len(issues))
	for _, is := range issues {
		issue := hosting.Issue{
			Number:    int(is.IID),
			Title:     is.Title,
			Body:      is.Description,
			HTMLURL:   is.WebURL,
			UpdatedAt: deref(is.UpdatedAt),
		}
		if is.Author != nil {
			issue.Author = is.Author.Username
		}
		out = append(out, issue)
	}
	return out, nil
}

// ListPRComments lists all non-system discussion notes on a merge request.
// Notes after the first in a discussion are reported as replies to it.
func (g *GitLabProvider) ListPRComments(ctx context.Context, repo string, number int) ([]hosting.PRComment, error) {
	var allComments []hosting.PRComment
	opts := &gogitlab.ListMergeRequestDiscussionsOptions{
		ListOptions: gogitlab.ListOptions{PerPage: 100},
	}

	for {
		discussions, resp, err := g.client.Discussions.ListMergeRequestDiscussions(repo, int64(number), opts, gogitlab.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("list MR %d discussions: %w", number, err)
		}

		for _, d := range discussions {
			var first int64
			for _, note := range d.Notes {
				if note.System {
					continue
				}
				c := mapNote(note)
				if first == 0 {
					first = note.ID
				} else {
					c.InReplyTo = first
				}
				allComments = append(allComments, c)
			}
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return allComments, nil
}

// CreatePRComment adds a note to a merge request.
func (g *GitLabProvider) CreatePRComment(ctx context.Context, repo string, number int, body string) error {
	_, _, err := g.client.Notes.CreateMergeRequestNote(repo, int64(number), &gogitlab.CreateMergeRequestNoteOptions{
		Body: gogitlab.Ptr(body),
	}, gogitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("create comment on MR %d: %w", number, err)
	}
	return nil
}

// CreateIssueComment adds a note to an issue.
func (g *GitLabProvider) CreateIssueComment(ctx context.Context, repo string, number int, body string) error {
	_, _, err := g.client.Notes.CreateIssueNote(repo, int64(number), &gogitlab.CreateIssueNoteOptions{
		Body: gogitlab.Ptr(body),
	}, gogitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("create comment on issue %d: %w", number, err)
	}
	return nil
}

// ReplyToComment replies to the discussion containing the note commentID.
func (g *GitLabProvider) ReplyToComment(ctx context.Context, repo string, number int, commentID int64, body string) error {
	discussionID, err := g.findDiscussionID(ctx, repo, number, commentID)
	if err != nil {
		return fmt.Errorf("find discussion for note %d on MR %d: %w", commentID, number, err)
	}

	_, _, err = g.client.Discussions.AddMergeRequestDiscussionNote(repo, int64(number), discussionID, &gogitlab.AddMergeRequestDiscussionNoteOptions{
		Body: gogitlab.Ptr(body),
	}, gogitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("reply to comment %d on MR %d: %w", commentID, number, err)
	}
	return nil
}

// findDiscussionID searches discussions for one containing the given note ID.
func (g *GitLabProvider) findDiscussionID(ctx context.Context, repo string, mrNumber int, noteID int64) (string, error) {
	opts := &gogitlab.ListMergeRequestDiscussionsOptions{
		ListOptions: gogitlab.ListOptions{PerPage: 100},
	}

	for {
		discussions, resp, err := g.client.Discussions.ListMergeRequestDiscussions(repo, int64(mrNumber), opts, gogitlab.WithContext(ctx))
		if err != nil {
			return "", err
		}

		for _, d := range discussions {
			for _, note := range d.Notes {
				if note.ID == noteID {
					return d.ID, nil
				}
			}
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return "", fmt.Errorf("%w: no discussion contains note %d", hosting.ErrNotFound, noteID)
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func mapState(s string) string {
	if s == "opened" {
		return "open"
	}
	return s
}

// mapMR converts a go-gitlab MergeRequest to a hosting.PR.
func mapMR(mr *gogitlab.MergeRequest) *hosting.PR {
	pr := &hosting.PR{
		Number:     int(mr.IID),
		Title:      mr.Title,
		Body:       mr.Description,
		State:      mapState(mr.State),
		HeadBranch: mr.SourceBranch,
		BaseBranch: mr.TargetBranch,
		HTMLURL:    mr.WebURL,
		UpdatedAt:  deref(mr.UpdatedAt),
	}
	if mr.Author != nil {
		pr.Author = mr.Author.Username
	}
	return pr
}

// mapBasicMR converts a go-gitlab BasicMergeRequest to a hosting.PR.
func mapBasicMR(mr *gogitlab.BasicMergeRequest) *hosting.PR {
	pr := &hosting.PR{
		Number:     int(mr.IID),
		Title:      mr.Title,
		Body:       mr.Description,
		State:      mapState(mr.State),
		HeadBranch: mr.SourceBranch,
		BaseBranch: mr.TargetBranch,
		HTMLURL:    mr.WebURL,
		UpdatedAt:  deref(mr.UpdatedAt),
	}
	if mr.Author != nil {
		pr.Author = mr.Author.Username
	}
	return pr
}

// mapNote converts a go-gitlab Note to a hosting.PRComment.
func mapNote(note *gogitlab.Note) hosting.PRComment {
	comment := hosting.PRComment{
		ID:        note.ID,
		Body:      note.Body,
		Author:    note.Author.Username,
		UpdatedAt: deref(note.UpdatedAt),
	}
	if note.Position != nil {
		comment.Path = note.Position.NewPath
		comment.Line = int(note.Position.NewLine)
	}
	return comment
}
