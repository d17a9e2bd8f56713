// Package poller turns open pull requests, issues and review comments on
// mapped repositories into tasks.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/orch/internal/hosting"
	"github.com/randalmurphal/orch/internal/project"
	"github.com/randalmurphal/orch/internal/storage"
	"github.com/randalmurphal/orch/internal/task"
)

const (
	// listLimit is how many of the most recently updated items are read per
	// repository and kind.
	listLimit = 10
	// seedLimit is how many recent tasks seed the dedup set on start.
	seedLimit = 500
	// repoConcurrency bounds how many repositories are polled at once.
	repoConcurrency = 4
)

// dedup kinds
const (
	kindPR            = "pr"
	kindIssue         = "issue"
	kindReviewComment = "review-comment"
)

// Store is the slice of the task store the poller uses.
type Store interface {
	CreateTask(ctx context.Context, typ task.Type, repo, repoPath string, tctx task.Context) (*task.Task, error)
	ListTasks(ctx context.Context, opts storage.ListOptions) ([]*task.Task, error)
}

// Config configures a Poller.
type Config struct {
	Interval  time.Duration
	Store     Store
	Providers *hosting.Set
	Registry  *project.Registry
	// OnCreate runs after each task is created.
	OnCreate func(*task.Task)
	Logger   *slog.Logger
}

// Poller periodically polls hosting providers for new work.
type Poller struct {
	interval  time.Duration
	store     Store
	providers *hosting.Set
	registry  *project.Registry
	onCreate  func(*task.Task)
	logger    *slog.Logger
	seen      *seenSet

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a poller.
func New(cfg Config) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	onCreate := cfg.OnCreate
	if onCreate == nil {
		onCreate = func(*task.Task) {}
	}
	return &Poller{
		interval:  interval,
		store:     cfg.Store,
		providers: cfg.Providers,
		registry:  cfg.Registry,
		onCreate:  onCreate,
		logger:    logger,
		seen:      newSeenSet(),
		stopCh:    make(chan struct{}),
	}
}

// Start seeds the dedup set, polls once immediately and then every
// interval until Stop or until ctx is canceled.
func (p *Poller) Start(ctx context.Context) {
	p.Seed(ctx)
	p.logger.Info("poller started", "interval", p.interval)

	p.wg.Add(1)
	go p.run(ctx)
}

// Stop ends the loop and waits for an in-flight poll. Safe to call
// multiple times.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	p.wg.Wait()
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.PollAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.PollAll(ctx)
		}
	}
}

// Seed marks the items behind the most recent tasks as already handled.
func (p *Poller) Seed(ctx context.Context) {
	tasks, err := p.store.ListTasks(ctx, storage.ListOptions{Limit: seedLimit})
	if err != nil {
		p.logger.Warn("load tasks for poller seed failed", "error", err)
		return
	}
	for _, t := range tasks {
		kind, id := seedIdentity(t)
		if kind == "" || id == 0 {
			continue
		}
		p.seen.seed(identity(string(t.Context.Source), kind, id))
	}
}

func seedIdentity(t *task.Task) (string, int) {
	switch t.Type {
	case task.TypePRReview:
		return kindPR, t.Context.PRNumber
	case task.TypePRCommentFix:
		return kindReviewComment, t.Context.PRNumber
	case task.TypeIssueFix:
		if t.Context.IssueNumber != 0 {
			return kindIssue, t.Context.IssueNumber
		}
	}
	return "", 0
}

// PollAll polls every mapped repository once.
func (p *Poller) PollAll(ctx context.Context) {
	if err := p.registry.Refresh(ctx); err != nil {
		p.logger.Warn("repository scan failed", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(repoConcurrency)
	for _, name := range p.registry.Names() {
		pt := p.registry.Provider(name)
		provider, err := p.providers.Get(pt)
		if err != nil {
			p.logger.Debug("skip repository without provider", "repo", name, "provider", pt)
			continue
		}
		g.Go(func() error {
			p.pollRepo(gctx, provider, name)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Poller) pollRepo(ctx context.Context, provider hosting.Provider, repo string) {
	source := hosting.SourceOf(provider.Name())
	repoPath := p.registry.Resolve(repo)

	prs, err := provider.ListOpenPRs(ctx, repo, listLimit)
	if err != nil {
		p.logger.Error("poll pull requests failed", "repo", repo, "error", err)
	} else {
		p.pollPRs(ctx, source, repo, repoPath, prs)
	}
	if provider.Name() == hosting.ProviderADO {
		return
	}
	p.pollIssues(ctx, provider, source, repo, repoPath)
	if err == nil {
		p.pollReviewComments(ctx, provider, source, repo, repoPath, prs)
	}
}

func (p *Poller) pollPRs(ctx context.Context, source task.Source, repo, repoPath string, prs []hosting.PR) {
	for _, pr := range prs {
		key := Key(string(source), kindPR, pr.Number, pr.UpdatedAt)
		if !p.seen.claim(key, identity(string(source), kindPR, pr.Number)) {
			continue
		}
		p.create(ctx, key, task.TypePRReview, repo, repoPath, prContext(source, pr, "pull_request.opened"))
	}
}

func (p *Poller) pollIssues(ctx context.Context, provider hosting.Provider, source task.Source, repo, repoPath string) {
	issues, err := provider.ListOpenIssues(ctx, repo, listLimit)
	if err != nil {
		p.logger.Error("poll issues failed", "repo", repo, "error", err)
		return
	}
	for _, is := range issues {
		key := Key(string(source), kindIssue, is.Number, is.UpdatedAt)
		if !p.seen.claim(key, identity(string(source), kindIssue, is.Number)) {
			continue
		}
		p.create(ctx, key, task.TypeIssueFix, repo, repoPath, task.Context{
			Source:      source,
			Event:       "issues.opened",
			IssueNumber: is.Number,
			Title:       is.Title,
			Body:        is.Body,
			URL:         is.HTMLURL,
		})
	}
}

// pollReviewComments creates comment-fix tasks for top-level review
// comments left by others on the authenticated user's own open PRs.
func (p *Poller) pollReviewComments(ctx context.Context, provider hosting.Provider, source task.Source, repo, repoPath string, prs []hosting.PR) {
	me, err := provider.AuthenticatedUser(ctx)
	if err != nil || me == "" {
		p.logger.Debug("skip review comments without authenticated user", "repo", repo, "error", err)
		return
	}

	for _, pr := range prs {
		if pr.Author != me {
			continue
		}
		comments, err := provider.ListPRComments(ctx, repo, pr.Number)
		if err != nil {
			p.logger.Error("list review comments failed", "repo", repo, "pr", pr.Number, "error", err)
			continue
		}

		var open []task.ReviewComment
		var latest time.Time
		for _, c := range comments {
			if c.Author == me || c.IsReply() {
				continue
			}
			open = append(open, task.ReviewComment{
				ID:       c.ID,
				Path:     c.Path,
				Line:     c.Line,
				Body:     c.Body,
				DiffHunk: c.DiffHunk,
			})
			if c.UpdatedAt.After(latest) {
				latest = c.UpdatedAt
			}
		}
		if len(open) == 0 {
			continue
		}

		key := Key(string(source), kindReviewComment, pr.Number, latest)
		if !p.seen.claim(key, identity(string(source), kindReviewComment, pr.Number)) {
			continue
		}
		tctx := prContext(source, pr, "pull_request.review_comment")
		tctx.ReviewComments = open
		p.create(ctx, key, task.TypePRCommentFix, repo, repoPath, tctx)
	}
}

func (p *Poller) create(ctx context.Context, key string, typ task.Type, repo, repoPath string, tctx task.Context) {
	t, err := p.store.CreateTask(ctx, typ, repo, repoPath, tctx)
	if err != nil {
		p.seen.forget(key)
		p.logger.Error("create polled task failed", "repo", repo, "type", typ, "error", err)
		return
	}
	p.logger.Info("created task from poll", "task_id", t.ID, "type", typ, "repo", repo)
	p.onCreate(t)
}

func prContext(source task.Source, pr hosting.PR, event string) task.Context {
	if source == task.SourceADO {
		event = "git.pullrequest.created"
	}
	return task.Context{
		Source:     source,
		Event:      event,
		PRNumber:   pr.Number,
		Branch:     pr.HeadBranch,
		BaseBranch: pr.BaseBranch,
		Title:      pr.Title,
		Body:       pr.Body,
		URL:        pr.HTMLURL,
	}
}
