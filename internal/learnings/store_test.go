package learnings

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/orch/internal/task"
)

func sampleLearning() Learning {
	return Learning{
		TaskType:     task.TypeIssueFix,
		ErrorPattern: "Tests were not run before pushing",
		Solution:     "Run the package tests first",
		CreatedAt:    time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC),
	}
}

func TestFormat(t *testing.T) {
	got := sampleLearning().Format()
	assert.Equal(t, "## issue-fix - 2026-02-03\n**Error pattern:** Tests were not run before pushing\n**Solution:** Run the package tests first\n", got)
}

func TestLoadMissing(t *testing.T) {
	s := NewFileStore()
	got, err := s.Load(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAppendCreatesHeaderOnce(t *testing.T) {
	repo := t.TempDir()
	s := NewFileStore()

	require.NoError(t, s.Append(repo, sampleLearning()))
	require.NoError(t, s.Append(repo, sampleLearning()))

	got, err := s.Load(repo)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "# Learnings\n"))
	assert.Equal(t, 1, strings.Count(got, "# Learnings\n"))
	assert.Equal(t, 2, strings.Count(got, "## issue-fix - 2026-02-03"))

	_, err = os.Stat(filepath.Join(repo, ".claude", "learnings.md"))
	assert.NoError(t, err)
}

func TestConcurrentAppendsKeepEveryEntry(t *testing.T) {
	repo := t.TempDir()
	s := NewFileStore()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Append(repo, sampleLearning()))
		}()
	}
	wg.Wait()

	got, err := s.Load(repo)
	require.NoError(t, err)
	assert.Equal(t, 10, strings.Count(got, "**Solution:**"))
}

func TestRewrite(t *testing.T) {
	repo := t.TempDir()
	s := NewFileStore()
	require.NoError(t, s.Append(repo, sampleLearning()))

	require.NoError(t, s.Rewrite(repo, "# Learnings\n\ncondensed\n"))

	got, err := s.Load(repo)
	require.NoError(t, err)
	assert.Equal(t, "# Learnings\n\ncondensed\n", got)
}

func TestSkills(t *testing.T) {
	repo := t.TempDir()
	s := NewFileStore()

	_, ok, err := s.ReadSkill(repo, task.TypeIssueFix)
	require.NoError(t, err)
	assert.False(t, ok, "missing skill file")

	_, ok, err = s.ReadSkill(repo, task.TypeDocs)
	require.NoError(t, err)
	assert.False(t, ok, "docs has no skill file")

	require.NoError(t, s.WriteSkill(repo, task.TypeIssueFix, "# Fix issue\n"))
	got, ok, err := s.ReadSkill(repo, task.TypeIssueFix)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "# Fix issue\n", got)

	path, _ := SkillPath(repo, task.TypeIssueFix)
	assert.Equal(t, filepath.Join(repo, ".claude", "skills", "fix-issue.md"), path)

	assert.Error(t, s.WriteSkill(repo, task.TypeDocs, "x"))
}
