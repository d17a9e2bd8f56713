package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/go-github/v82/github"
	"github.com/tidwall/gjson"

	orcherrors "github.com/randalmurphal/orch/internal/errors"
	"github.com/randalmurphal/orch/internal/task"
)

const (
	msgNotProcessed  = "Event received but not processed"
	msgRepoNotMapped = "Repository not mapped"
)

// handleGitHubWebhook turns pull request and issue events into tasks. The
// X-Hub-Signature-256 header is checked when a secret is configured.
func (s *Server) handleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	payload, err := github.ValidatePayload(r, []byte(s.webhookSecret))
	if err != nil {
		if s.webhookSecret != "" {
			s.logger.Warn("github webhook rejected", "error", err)
			HandleError(w, orcherrors.ErrWebhookSignature())
			return
		}
		HandleError(w, orcherrors.ErrInvalidRequest(err.Error()))
		return
	}

	eventType := github.WebHookType(r)
	event, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		s.logger.Debug("github webhook not parsed", "event", eventType, "error", err)
		JSONResponse(w, map[string]string{"message": msgNotProcessed})
		return
	}

	switch e := event.(type) {
	case *github.PullRequestEvent:
		action := e.GetAction()
		if action != "opened" && action != "synchronize" {
			break
		}
		pr := e.GetPullRequest()
		repo := e.GetRepo().GetFullName()
		s.createFromWebhook(w, r, task.TypePRReview, repo, task.Context{
			Source:     task.SourceGitHub,
			Event:      "pull_request." + action,
			PRNumber:   pr.GetNumber(),
			Branch:     pr.GetHead().GetRef(),
			BaseBranch: pr.GetBase().GetRef(),
			Title:      pr.GetTitle(),
			Body:       pr.GetBody(),
			URL:        pr.GetHTMLURL(),
		}, "PR review task created")
		return

	case *github.IssuesEvent:
		issue := e.GetIssue()
		if e.GetAction() != "opened" || issue.IsPullRequest() {
			break
		}
		repo := e.GetRepo().GetFullName()
		s.createFromWebhook(w, r, task.TypeIssueFix, repo, task.Context{
			Source:      task.SourceGitHub,
			Event:       "issues.opened",
			IssueNumber: issue.GetNumber(),
			Title:       issue.GetTitle(),
			Body:        issue.GetBody(),
			URL:         issue.GetHTMLURL(),
		}, "Issue fix task created")
		return
	}

	JSONResponse(w, map[string]string{"message": msgNotProcessed})
}

func (s *Server) createFromWebhook(w http.ResponseWriter, r *http.Request, typ task.Type, repo string, tctx task.Context, message string) {
	repoPath, ok := "", false
	if s.registry != nil {
		repoPath, ok = s.registry.Locate(repo)
	}
	if !ok {
		s.logger.Info("webhook for unmapped repository", "repo", repo, "event", tctx.Event)
		JSONResponse(w, map[string]string{"message": msgRepoNotMapped})
		return
	}
	s.createFromAction(r.Context(), w, typ, repo, repoPath, tctx, message)
}

// handleADOWebhook turns Azure DevOps service hook payloads into tasks.
func (s *Server) handleADOWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		HandleError(w, orcherrors.ErrInvalidRequest("read body: "+err.Error()))
		return
	}
	if !gjson.ValidBytes(body) {
		HandleError(w, orcherrors.ErrInvalidRequest("invalid JSON body"))
		return
	}
	payload := gjson.ParseBytes(body)
	eventType := payload.Get("eventType").String()

	switch eventType {
	case "git.pullrequest.created", "git.pullrequest.updated":
		s.adoPullRequest(w, r, eventType, payload)
	case "workitem.created", "workitem.updated":
		s.adoWorkItem(w, r, eventType, payload)
	case "build.complete":
		s.adoBuild(w, r, eventType, payload)
	default:
		JSONResponse(w, map[string]string{"message": msgNotProcessed, "eventType": eventType})
	}
}

func (s *Server) adoPullRequest(w http.ResponseWriter, r *http.Request, eventType string, payload gjson.Result) {
	res := payload.Get("resource")
	repoName := res.Get("repository.name").String()
	projectName := res.Get("repository.project.name").String()

	repoPath, ok := s.locateADO(projectName, repoName)
	if !ok {
		JSONResponse(w, map[string]string{"message": msgRepoNotMapped})
		return
	}

	s.createFromAction(r.Context(), w, task.TypePRReview, s.adoFullName(projectName, repoName), repoPath, task.Context{
		Source:     task.SourceADO,
		Event:      eventType,
		PRNumber:   int(res.Get("pullRequestId").Int()),
		Branch:     trimRef(res.Get("sourceRefName").String()),
		BaseBranch: trimRef(res.Get("targetRefName").String()),
		Title:      res.Get("title").String(),
		Body:       res.Get("description").String(),
		URL:        res.Get("_links.web.href").String(),
	}, "PR review task created")
}

// adoWorkItem needs a repository mapped under the work item's project.
func (s *Server) adoWorkItem(w http.ResponseWriter, r *http.Request, eventType string, payload gjson.Result) {
	res := payload.Get("resource")
	fields := res.Get("fields")
	if !fields.Exists() {
		fields = res.Get("revision.fields")
	}
	kind := fields.Get(`System\.WorkItemType`).String()
	if kind == "" {
		kind = "Task"
	}
	id := res.Get("workItemId").Int()
	if id == 0 {
		id = res.Get("id").Int()
	}

	projectName := payload.Get("resourceContainers.project.name").String()
	if projectName == "" {
		projectName = fields.Get(`System\.TeamProject`).String()
	}
	var repo, repoPath string
	ok := false
	if s.registry != nil {
		repo, repoPath, ok = s.registry.FindByProject(projectName)
	}
	if !ok {
		JSONResponse(w, map[string]string{"message": "Work item received but no repo mapping found for project"})
		return
	}

	typ := workItemTaskType(kind)
	s.createFromAction(r.Context(), w, typ, repo, repoPath, task.Context{
		Source:     task.SourceADO,
		Event:      eventType,
		WorkItemID: int(id),
		Title:      fields.Get(`System\.Title`).String(),
		Body:       fields.Get(`System\.Description`).String(),
		URL:        res.Get("_links.html.href").String(),
	}, fmt.Sprintf("%s task created", typ))
}

// adoBuild only acts on failed or partially successful builds.
func (s *Server) adoBuild(w http.ResponseWriter, r *http.Request, eventType string, payload gjson.Result) {
	res := payload.Get("resource")
	result := res.Get("result").String()
	if result != "failed" && result != "partiallySucceeded" {
		JSONResponse(w, map[string]string{"message": "Build succeeded, no action needed"})
		return
	}

	repoName := res.Get("repository.name").String()
	projectName := payload.Get("resourceContainers.project.name").String()
	if projectName == "" {
		projectName = res.Get("project.name").String()
	}
	repoPath, ok := s.locateADO(projectName, repoName)
	if repoName == "" || !ok {
		JSONResponse(w, map[string]string{"message": "Build failed but no repo mapping found"})
		return
	}

	s.createFromAction(r.Context(), w, task.TypePipelineFix, s.adoFullName(projectName, repoName), repoPath, task.Context{
		Source: task.SourceADO,
		Event:  eventType,
		Title:  fmt.Sprintf("Build %s failed", res.Get("buildNumber").String()),
		Body:   fmt.Sprintf("Build definition: %s\nResult: %s", res.Get("definition.name").String(), result),
		URL:    res.Get("_links.web.href").String(),
		Branch: trimRef(res.Get("sourceBranch").String()),
	}, "Pipeline fix task created")
}

func (s *Server) locateADO(projectName, repoName string) (string, bool) {
	if s.registry == nil {
		return "", false
	}
	return s.registry.LocateADO(s.adoOrg, projectName, repoName)
}

// adoFullName is org/project/repo when the organization is known.
func (s *Server) adoFullName(projectName, repoName string) string {
	if s.adoOrg != "" {
		return s.adoOrg + "/" + projectName + "/" + repoName
	}
	return projectName + "/" + repoName
}

// workItemTaskType maps Bug to issue-fix and features or stories to code-gen.
func workItemTaskType(kind string) task.Type {
	lower := strings.ToLower(kind)
	switch {
	case strings.Contains(lower, "bug"):
		return task.TypeIssueFix
	case strings.Contains(lower, "feature"), strings.Contains(lower, "story"), strings.Contains(lower, "backlog"):
		return task.TypeCodeGen
	default:
		return task.TypeIssueFix
	}
}

func trimRef(ref string) string {
	return strings.TrimPrefix(ref, "refs/heads/")
}
