package templates

import (
	"io/fs"
	"strings"
	"testing"
)

func TestPromptTemplatesPresent(t *testing.T) {
	want := []string{
		"pr_review.md", "issue_fix.md", "code_gen.md", "docs.md", "pipeline_fix.md",
		"resolution_review.md", "pr_comment_fix.md", "testing.md",
		"simplify.md", "self_review.md", "retry.md", "learnings.md",
		"extract_learning.md", "update_skill.md",
	}
	for _, name := range want {
		if _, err := fs.Stat(Prompts, "prompts/"+name); err != nil {
			t.Errorf("missing prompt template %s: %v", name, err)
		}
	}
}

func TestReadOnlyTemplatesForbidEdits(t *testing.T) {
	for _, name := range []string{"resolution_review.md", "testing.md", "self_review.md"} {
		content, err := Prompts.ReadFile("prompts/" + name)
		if err != nil {
			t.Fatal("failed to read", name, err)
		}
		if !strings.Contains(string(content), "Do not modify any files") {
			t.Errorf("%s should tell the assistant not to modify files", name)
		}
	}
}

func TestExtractLearningTemplateRequestsJSON(t *testing.T) {
	content, err := Prompts.ReadFile("prompts/extract_learning.md")
	if err != nil {
		t.Fatal("failed to read extract_learning.md:", err)
	}
	text := string(content)
	for _, key := range []string{`"errorPattern"`, `"solution"`, "JSON format ONLY"} {
		if !strings.Contains(text, key) {
			t.Errorf("extract_learning template missing %s", key)
		}
	}
}
