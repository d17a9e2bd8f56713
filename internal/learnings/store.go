// Package learnings records short lessons from successful retries and feeds
// them back into future prompts.
//
// Learnings are advisory. Stores are best-effort and not transactional:
// concurrent writers from different processes may interleave.
package learnings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/randalmurphal/orch/internal/task"
	"github.com/randalmurphal/orch/internal/util"
)

// File locations relative to the repository root.
const (
	LearningsFile = ".claude/learnings.md"
	SkillsDir     = ".claude/skills"
)

const learningsHeader = "# Learnings\n\nAuto-generated lessons from task retries.\n\n"

// skillFiles maps task types to the skill file that describes them.
var skillFiles = map[task.Type]string{
	task.TypePRCommentFix:     "ado-fix-review-comments.md",
	task.TypeResolutionReview: "ado-review-resolution.md",
	task.TypePRReview:         "review-pr.md",
	task.TypeIssueFix:         "fix-issue.md",
	task.TypeCodeGen:          "code-gen.md",
}

// Learning is a lesson derived from a failed task and its successful retry.
type Learning struct {
	TaskType     task.Type `json:"taskType"`
	ErrorPattern string    `json:"errorPattern"`
	Solution     string    `json:"solution"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Format renders the learning as a markdown entry.
func (l Learning) Format() string {
	return fmt.Sprintf("## %s - %s\n**Error pattern:** %s\n**Solution:** %s\n",
		l.TaskType, l.CreatedAt.Format("2006-01-02"), l.ErrorPattern, l.Solution)
}

// Store is a per-repository learnings log keyed by repository path.
type Store interface {
	// Load returns the repository's learnings, or "" if none are recorded.
	Load(repoPath string) (string, error)
	Append(repoPath string, l Learning) error
	// Rewrite replaces the repository's learnings wholesale.
	Rewrite(repoPath, content string) error
}

// SkillStore reads and writes the per-type skill files.
type SkillStore interface {
	// ReadSkill reports false if the type has no skill file in the repository.
	ReadSkill(repoPath string, typ task.Type) (string, bool, error)
	WriteSkill(repoPath string, typ task.Type, content string) error
}

// FileStore keeps learnings in .claude/learnings.md inside each repository.
type FileStore struct {
	mu sync.Mutex
}

// NewFileStore creates a FileStore.
func NewFileStore() *FileStore {
	return &FileStore{}
}

// Load implements Store.
func (s *FileStore) Load(repoPath string) (string, error) {
	data, err := os.ReadFile(filepath.Join(repoPath, LearningsFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read learnings: %w", err)
	}
	return string(data), nil
}

// Append implements Store.
func (s *FileStore) Append(repoPath string, l Learning) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.Load(repoPath)
	if err != nil {
		return err
	}
	if existing == "" {
		existing = learningsHeader
	}
	return util.WriteFileAtomicString(filepath.Join(repoPath, LearningsFile), existing+l.Format()+"\n", 0o644)
}

// Rewrite implements Store.
func (s *FileStore) Rewrite(repoPath, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return util.WriteFileAtomicString(filepath.Join(repoPath, LearningsFile), content, 0o644)
}

// SkillPath returns the skill file for a task type, if it has one.
func SkillPath(repoPath string, typ task.Type) (string, bool) {
	name, ok := skillFiles[typ]
	if !ok {
		return "", false
	}
	return filepath.Join(repoPath, SkillsDir, name), true
}

// ReadSkill implements SkillStore.
func (s *FileStore) ReadSkill(repoPath string, typ task.Type) (string, bool, error) {
	path, ok := SkillPath(repoPath, typ)
	if !ok {
		return "", false, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read skill: %w", err)
	}
	return string(data), true, nil
}

// WriteSkill implements SkillStore.
func (s *FileStore) WriteSkill(repoPath string, typ task.Type, content string) error {
	path, ok := SkillPath(repoPath, typ)
	if !ok {
		return fmt.Errorf("no skill file for task type %s", typ)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return util.WriteFileAtomicString(path, content, 0o644)
}
