package learnings

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/randalmurphal/orch/internal/assistant"
	"github.com/randalmurphal/orch/internal/prompt"
	"github.com/randalmurphal/orch/internal/task"
)

// noUpdateMarker is the assistant's reply when a skill file needs no change.
const noUpdateMarker = "NO_UPDATE_NEEDED"

var lessonPattern = regexp.MustCompile(`(?s)\{.*?"errorPattern".*?"solution".*?\}`)

// Invoker runs the assistant. *assistant.Runner satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, t *task.Task, prompt string, opts assistant.Options) assistant.Result
}

// TaskGetter loads tasks from the store.
type TaskGetter interface {
	GetTask(ctx context.Context, id int64) (*task.Task, error)
}

// Extractor derives a learning when a retry succeeds.
type Extractor struct {
	store   Store
	skills  SkillStore
	invoker Invoker
	tasks   TaskGetter
	logger  *slog.Logger
	now     func() time.Time
}

// ExtractorConfig configures an Extractor.
type ExtractorConfig struct {
	Store   Store
	Skills  SkillStore // Optional; skill updates are skipped when nil
	Invoker Invoker
	Tasks   TaskGetter
	Logger  *slog.Logger
}

// NewExtractor creates an Extractor.
func NewExtractor(cfg ExtractorConfig) *Extractor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Extractor{
		store:   cfg.Store,
		skills:  cfg.Skills,
		invoker: cfg.Invoker,
		tasks:   cfg.Tasks,
		logger:  cfg.Logger,
		now:     time.Now,
	}
}

// OnRetrySuccess compares a completed retry with the task it retried, records
// the lesson, and offers it to the type's skill file. It returns nil without
// error when the task is not a retry or the assistant gives no usable lesson.
func (e *Extractor) OnRetrySuccess(ctx context.Context, retry *task.Task) (*Learning, error) {
	if !retry.IsRetry() {
		return nil, nil
	}

	failed, err := e.tasks.GetTask(ctx, retry.Context.RetryOfTaskID)
	if err != nil {
		return nil, fmt.Errorf("load failed task %d: %w", retry.Context.RetryOfTaskID, err)
	}

	p, err := prompt.ExtractLearning(failed, retry)
	if err != nil {
		return nil, err
	}

	res := e.invoker.Invoke(ctx, retry, p, assistant.Options{AllowEdits: false})
	if !res.Success {
		e.logger.Warn("learning extraction failed", "task_id", retry.ID, "error", res.Error)
		return nil, nil
	}

	errorPattern, solution, ok := ParseLesson(res.Output)
	if !ok {
		e.logger.Warn("could not parse learning from output", "task_id", retry.ID)
		return nil, nil
	}

	l := &Learning{
		TaskType:     retry.Type,
		ErrorPattern: errorPattern,
		Solution:     solution,
		CreatedAt:    e.now().UTC(),
	}
	if err := e.store.Append(retry.RepoPath, *l); err != nil {
		return nil, fmt.Errorf("store learning: %w", err)
	}
	e.logger.Info("stored learning", "task_id", retry.ID, "repo", retry.Repo, "type", retry.Type)

	if _, err := e.UpdateSkill(ctx, retry, *l); err != nil {
		e.logger.Warn("skill update failed", "task_id", retry.ID, "error", err)
	}
	return l, nil
}

// UpdateSkill asks the assistant whether the type's skill file should absorb
// the learning and rewrites it only when the reply looks like a full skill
// file. It reports whether the file was rewritten.
func (e *Extractor) UpdateSkill(ctx context.Context, t *task.Task, l Learning) (bool, error) {
	if e.skills == nil {
		return false, nil
	}
	content, ok, err := e.skills.ReadSkill(t.RepoPath, t.Type)
	if err != nil || !ok {
		return false, err
	}

	p, err := prompt.UpdateSkill(l.ErrorPattern, l.Solution, content)
	if err != nil {
		return false, err
	}

	res := e.invoker.Invoke(ctx, t, p, assistant.Options{AllowEdits: false})
	if !res.Success {
		return false, fmt.Errorf("analyze skill update: %s", res.Error)
	}
	if strings.Contains(res.Output, noUpdateMarker) {
		e.logger.Debug("skill does not need update", "type", t.Type)
		return false, nil
	}

	updated := strings.TrimSpace(res.Output)
	if !strings.HasPrefix(updated, "#") && !strings.HasPrefix(updated, "---") {
		e.logger.Info("skipping skill update, reply is not skill content", "type", t.Type)
		return false, nil
	}
	if err := e.skills.WriteSkill(t.RepoPath, t.Type, updated); err != nil {
		return false, err
	}
	e.logger.Info("updated skill file", "type", t.Type, "repo", t.Repo)
	return true, nil
}

// ParseLesson extracts errorPattern and solution from the first JSON object
// in the output that carries both.
func ParseLesson(output string) (errorPattern, solution string, ok bool) {
	match := lessonPattern.FindString(output)
	if match == "" || !gjson.Valid(match) {
		return "", "", false
	}
	errorPattern = strings.TrimSpace(gjson.Get(match, "errorPattern").String())
	solution = strings.TrimSpace(gjson.Get(match, "solution").String())
	if errorPattern == "" || solution == "" {
		return "", "", false
	}
	return errorPattern, solution, true
}
