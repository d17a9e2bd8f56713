package prompt

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/orch/internal/task"
)

func TestBuildEveryType(t *testing.T) {
	for _, typ := range task.AllTypes() {
		t.Run(string(typ), func(t *testing.T) {
			tk := &task.Task{ID: 1, Type: typ, Context: task.Context{
				Title:          "Fix null pointer",
				Body:           "Crash when config is empty",
				PRNumber:       3,
				WorkItemID:     99,
				Branch:         "feature/x",
				BaseBranch:     "main",
				ReviewComments: []task.ReviewComment{{ID: 1, Path: "a.go", Line: 2, Body: "rename"}},
			}}
			got, err := Build(tk, "")
			require.NoError(t, err)
			assert.NotEmpty(t, got)
			assert.NotContains(t, got, "<no value>")
		})
	}
}

func TestBuildUnknownType(t *testing.T) {
	_, err := Build(&task.Task{Type: "mystery"}, "")
	assert.True(t, errors.Is(err, ErrUnknownType))
}

func TestBuildIsDeterministic(t *testing.T) {
	tk := &task.Task{ID: 4, Type: task.TypeIssueFix, Context: task.Context{Title: "t", IssueNumber: 42}}
	a, err := Build(tk, "## lesson")
	require.NoError(t, err)
	b, err := Build(tk, "## lesson")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestPRReviewDefaultsDescription(t *testing.T) {
	got, err := Base(&task.Task{Type: task.TypePRReview, Context: task.Context{
		Title: "Add cache", Branch: "feat/cache", BaseBranch: "main",
	}})
	require.NoError(t, err)
	assert.Contains(t, got, "Title: Add cache")
	assert.Contains(t, got, "Description: No description provided")
	assert.Contains(t, got, "Branch: feat/cache -> main")
}

func TestCommentFixRendersNumberedComments(t *testing.T) {
	got, err := Base(&task.Task{Type: task.TypePRCommentFix, Context: task.Context{
		PRNumber: 12,
		Branch:   "feat/12-cache",
		ReviewComments: []task.ReviewComment{
			{ID: 100, Path: "cache.go", Line: 40, Body: "Use a mutex here", DiffHunk: "@@ -1 +1 @@\n-a\n+b"},
			{ID: 101, Path: "README.md", Body: "Typo"},
		},
	}})
	require.NoError(t, err)

	assert.Contains(t, got, "Review comments (2):")
	assert.Contains(t, got, "### Comment 1\nFile: cache.go:40\nFeedback: Use a mutex here")
	assert.Contains(t, got, "```diff\n@@ -1 +1 @@\n-a\n+b\n```")
	assert.Contains(t, got, "### Comment 2\nFile: README.md\nFeedback: Typo")
}

func TestLearningsArePrepended(t *testing.T) {
	tk := &task.Task{Type: task.TypeCodeGen, Context: task.Context{Title: "Add export"}}
	got, err := Build(tk, "## code-gen - 2026-01-02\n**Error pattern:** x\n")
	require.NoError(t, err)

	learnIdx := strings.Index(got, "Relevant learnings")
	baseIdx := strings.Index(got, "Implement the following feature request")
	require.NotEqual(t, -1, learnIdx)
	require.NotEqual(t, -1, baseIdx)
	assert.Less(t, learnIdx, baseIdx)
}

func TestBlankLearningsIgnored(t *testing.T) {
	tk := &task.Task{Type: task.TypeDocs}
	with, err := Build(tk, "  \n")
	require.NoError(t, err)
	without, err := Build(tk, "")
	require.NoError(t, err)
	assert.Equal(t, without, with)
}

func TestRetryWrapIsOutermost(t *testing.T) {
	tk := &task.Task{Type: task.TypeIssueFix, Context: task.Context{
		Title:         "Fix crash",
		RetryOfTaskID: 8,
		RetryError:    "git push rejected",
		RetryCount:    2,
	}}
	got, err := Build(tk, "some learning")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(got, "This is retry attempt 2 of task #8."))
	assert.Contains(t, got, "git push rejected")
	assert.Less(t, strings.Index(got, "retry attempt"), strings.Index(got, "Relevant learnings"))
	assert.Less(t, strings.Index(got, "Relevant learnings"), strings.Index(got, "Analyze this issue"))
}

func TestWrapRetryDefaults(t *testing.T) {
	got, err := WrapRetry("base", task.Context{RetryOfTaskID: 3})
	require.NoError(t, err)
	assert.Contains(t, got, "retry attempt 1 of task #3")
	assert.Contains(t, got, "Unknown error")
	assert.True(t, strings.HasSuffix(got, "base"))
}

func TestSimplifyListsFiles(t *testing.T) {
	got, err := Simplify([]string{"a.go", "pkg/b.go"})
	require.NoError(t, err)
	assert.Contains(t, got, "- a.go\n- pkg/b.go")
}

func TestSelfReviewVerdicts(t *testing.T) {
	got, err := SelfReview()
	require.NoError(t, err)
	assert.Contains(t, got, "APPROVED")
	assert.Contains(t, got, "NEEDS ATTENTION")
}

func TestExtractLearningTruncatesOutputs(t *testing.T) {
	failed := &task.Task{Type: task.TypeIssueFix, Error: "tests failed", Output: strings.Repeat("x", 5000)}
	retry := &task.Task{Type: task.TypeIssueFix}

	got, err := ExtractLearning(failed, retry)
	require.NoError(t, err)
	assert.Contains(t, got, "Task Type: issue-fix")
	assert.Contains(t, got, "Error: tests failed")
	assert.Contains(t, got, strings.Repeat("x", 2000))
	assert.NotContains(t, got, strings.Repeat("x", 2001))
	assert.Contains(t, got, "Output (truncated): N/A")
	assert.Contains(t, got, `"errorPattern"`)
}

func TestUpdateSkill(t *testing.T) {
	got, err := UpdateSkill("missed a nil check", "check config before use", "# Fix issue\n")
	require.NoError(t, err)
	assert.Contains(t, got, "Error pattern: missed a nil check")
	assert.Contains(t, got, "# Fix issue")
	assert.Contains(t, got, "NO_UPDATE_NEEDED")
}
