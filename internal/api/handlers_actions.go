package api

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	orcherrors "github.com/randalmurphal/orch/internal/errors"
	"github.com/randalmurphal/orch/internal/hosting"
	"github.com/randalmurphal/orch/internal/task"
)

// githubPRURL extracts owner/repo from a GitHub pull request URL.
var githubPRURL = regexp.MustCompile(`github\.com/([^/]+/[^/]+)/pull`)

// actionResponse acknowledges a task created by an action or webhook.
type actionResponse struct {
	TaskID  int64  `json:"taskId"`
	Message string `json:"message"`
}

type reviewPRRequest struct {
	Repo       string      `json:"repo" validate:"required"`
	PRNumber   int         `json:"prNumber" validate:"required,gt=0"`
	Source     task.Source `json:"source"`
	Title      string      `json:"title"`
	URL        string      `json:"url"`
	Branch     string      `json:"branch"`
	BaseBranch string      `json:"baseBranch"`
}

// handleReviewPR queues a review of one pull request.
func (s *Server) handleReviewPR(w http.ResponseWriter, r *http.Request) {
	var req reviewPRRequest
	if err := s.decode(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	repoPath, err := s.locate(req.Repo)
	if err != nil {
		HandleError(w, err)
		return
	}

	s.createFromAction(r.Context(), w, task.TypePRReview, req.Repo, repoPath, task.Context{
		Source:     s.sourceFor(req.Source, req.Repo),
		Event:      "manual.pr-review",
		PRNumber:   req.PRNumber,
		Title:      req.Title,
		URL:        req.URL,
		Branch:     req.Branch,
		BaseBranch: req.BaseBranch,
	}, "PR review task created")
}

type workItemRequest struct {
	WorkItemID int    `json:"workItemId" validate:"required,gt=0"`
	Repo       string `json:"repo"`
	Project    string `json:"project"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	URL        string `json:"url"`
	Kind       string `json:"kind"`
}

// handleAnalyzeWorkItem queues a bug fix or feature for a work item. The
// repository comes from the request, then the project, then the first
// mapped repository.
func (s *Server) handleAnalyzeWorkItem(w http.ResponseWriter, r *http.Request) {
	var req workItemRequest
	if err := s.decode(r, &req); err != nil {
		HandleError(w, err)
		return
	}

	repo, repoPath, ok := s.resolveWorkItemRepo(req.Repo, "", req.Project)
	if !ok && s.registry != nil {
		if names := s.registry.Names(); len(names) > 0 {
			repo, repoPath, ok = names[0], s.registry.Resolve(names[0]), true
		}
	}
	if !ok {
		HandleError(w, orcherrors.ErrInvalidRequest("No repos available"))
		return
	}

	typ := task.TypeCodeGen
	if strings.Contains(strings.ToLower(req.Kind), "bug") {
		typ = task.TypeIssueFix
	}
	s.createFromAction(r.Context(), w, typ, repo, repoPath, task.Context{
		Source:     task.SourceADO,
		Event:      "manual.workitem",
		WorkItemID: req.WorkItemID,
		Title:      req.Title,
		Body:       req.Body,
		URL:        req.URL,
	}, fmt.Sprintf("%s task created", typ))
}

// handleFixPRComments queues a fix for the open review comments on a pull
// request. Comments by the authenticated user and replies are left out.
func (s *Server) handleFixPRComments(w http.ResponseWriter, r *http.Request) {
	var req reviewPRRequest
	if err := s.decode(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	repoPath, err := s.locate(req.Repo)
	if err != nil {
		HandleError(w, err)
		return
	}
	provider, err := s.providers.Get(s.providerType(req.Source, req.Repo))
	if err != nil {
		HandleError(w, err)
		return
	}
	ctx := r.Context()

	branch, base := req.Branch, req.BaseBranch
	if branch == "" {
		pr, err := provider.GetPR(ctx, req.Repo, req.PRNumber)
		if err != nil {
			s.logger.Error("fetch PR branch info failed", "repo", req.Repo, "pr", req.PRNumber, "error", err)
			HandleError(w, orcherrors.ErrInvalidRequest("Failed to fetch PR branch info"))
			return
		}
		branch, base = pr.HeadBranch, pr.BaseBranch
	}

	comments, err := s.openReviewComments(ctx, provider, req.Repo, req.PRNumber)
	if err != nil {
		s.logger.Error("fetch review comments failed", "repo", req.Repo, "pr", req.PRNumber, "error", err)
		JSONError(w, "Failed to fetch review comments", http.StatusInternalServerError)
		return
	}
	if len(comments) == 0 {
		HandleError(w, orcherrors.ErrInvalidRequest("No unresolved review comments found"))
		return
	}

	s.createFromAction(ctx, w, task.TypePRCommentFix, req.Repo, repoPath, task.Context{
		Source:         s.sourceFor(req.Source, req.Repo),
		Event:          "manual.fix-pr-comments",
		PRNumber:       req.PRNumber,
		Title:          req.Title,
		URL:            req.URL,
		Branch:         branch,
		BaseBranch:     base,
		ReviewComments: comments,
	}, fmt.Sprintf("PR comment fix task created (%d comments)", len(comments)))
}

func (s *Server) openReviewComments(ctx context.Context, provider hosting.Provider, repo string, number int) ([]task.ReviewComment, error) {
	me, err := provider.AuthenticatedUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("authenticated user: %w", err)
	}
	all, err := provider.ListPRComments(ctx, repo, number)
	if err != nil {
		return nil, err
	}
	var out []task.ReviewComment
	for _, c := range all {
		if c.Author == me || c.IsReply() {
			continue
		}
		out = append(out, task.ReviewComment{
			ID:       c.ID,
			Path:     c.Path,
			Line:     c.Line,
			Body:     c.Body,
			DiffHunk: c.DiffHunk,
		})
	}
	return out, nil
}

type verifyWorkItemRequest struct {
	WorkItemID int    `json:"workItemId" validate:"required,gt=0"`
	Repo       string `json:"repo"`
	Project    string `json:"project"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	URL        string `json:"url"`
	PRURL      string `json:"prUrl"`
	TestNotes  string `json:"testNotes"`
	Resolution string `json:"resolution"`
}

// handleTestWorkItem queues an interactive testing session for a work item.
func (s *Server) handleTestWorkItem(w http.ResponseWriter, r *http.Request) {
	var req verifyWorkItemRequest
	if err := s.decode(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	repo, repoPath, ok := s.resolveWorkItemRepo(req.Repo, req.PRURL, req.Project)
	if !ok {
		HandleError(w, orcherrors.ErrRepoNotMapped(workItemHint(req.PRURL, req.Project)))
		return
	}

	s.createFromAction(r.Context(), w, task.TypeTesting, repo, repoPath, task.Context{
		Source:     task.SourceADO,
		Event:      "manual.testing",
		WorkItemID: req.WorkItemID,
		Title:      req.Title,
		Body:       req.Body,
		URL:        req.URL,
		PRURL:      req.PRURL,
		TestNotes:  req.TestNotes,
	}, "Testing task created")
}

// handleReviewResolution queues a review of how a work item was resolved.
func (s *Server) handleReviewResolution(w http.ResponseWriter, r *http.Request) {
	var req verifyWorkItemRequest
	if err := s.decode(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	repo, repoPath, ok := s.resolveWorkItemRepo(req.Repo, req.PRURL, req.Project)
	if !ok {
		HandleError(w, orcherrors.ErrRepoNotMapped(workItemHint(req.PRURL, req.Project)))
		return
	}

	s.createFromAction(r.Context(), w, task.TypeResolutionReview, repo, repoPath, task.Context{
		Source:     task.SourceADO,
		Event:      "manual.resolution-review",
		WorkItemID: req.WorkItemID,
		Title:      req.Title,
		Body:       req.Body,
		URL:        req.URL,
		PRURL:      req.PRURL,
		Resolution: req.Resolution,
		TestNotes:  req.TestNotes,
	}, "Resolution review task created")
}

// resolveWorkItemRepo finds the repository for a work item: the named repo,
// then the GitHub repo in the PR URL, then the first repo of the project.
func (s *Server) resolveWorkItemRepo(repo, prURL, projectName string) (string, string, bool) {
	if s.registry == nil {
		return "", "", false
	}
	if repo != "" {
		if path, ok := s.registry.Locate(repo); ok {
			return repo, path, true
		}
	}
	if m := githubPRURL.FindStringSubmatch(prURL); m != nil {
		if path, ok := s.registry.Locate(m[1]); ok {
			return m[1], path, true
		}
	}
	if projectName != "" {
		if name, path, ok := s.registry.FindByProject(projectName); ok {
			return name, path, true
		}
	}
	return "", "", false
}

func workItemHint(prURL, projectName string) string {
	if m := githubPRURL.FindStringSubmatch(prURL); m != nil {
		return m[1]
	}
	if projectName != "" {
		return "for project " + projectName
	}
	return "for work item"
}

// locate returns the working tree of a repository, or ErrRepoNotMapped.
func (s *Server) locate(repo string) (string, error) {
	if s.registry != nil {
		if path, ok := s.registry.Locate(repo); ok {
			return path, nil
		}
	}
	return "", orcherrors.ErrRepoNotMapped(repo)
}

func (s *Server) providerType(source task.Source, repo string) hosting.ProviderType {
	if source == "" && s.registry != nil {
		return s.registry.Provider(repo)
	}
	return hosting.ResolveType(source, repo)
}

func (s *Server) sourceFor(source task.Source, repo string) task.Source {
	if source != "" {
		return source
	}
	return hosting.SourceOf(s.providerType("", repo))
}

// createFromAction stores a task and answers with its ID.
func (s *Server) createFromAction(ctx context.Context, w http.ResponseWriter, typ task.Type, repo, repoPath string, tctx task.Context, message string) {
	t, err := s.store.CreateTask(ctx, typ, repo, repoPath, tctx)
	if err != nil {
		HandleError(w, err)
		return
	}
	s.created(t)
	s.logger.Info("task created from action", "task_id", t.ID, "type", typ, "repo", repo, "event", tctx.Event)
	JSONResponse(w, actionResponse{TaskID: t.ID, Message: message})
}
