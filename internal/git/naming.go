package git

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/randalmurphal/orch/internal/task"
)

// MaxBranchNameLength caps branch names passed to git.
const MaxBranchNameLength = 256

// ErrInvalidBranchName is wrapped by every ValidateBranchName failure.
var ErrInvalidBranchName = errors.New("invalid branch name")

// branchChars is the whole allowed alphabet. The first character must be
// alphanumeric, which also rules out leading '-' and '.'.
var branchChars = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9/_.-]*$`)

// branchRules are the git ref-format constraints that branchChars alone
// does not catch. Each rule reports the reason a name fails it.
var branchRules = []struct {
	fails  func(string) bool
	reason string
}{
	{func(n string) bool { return strings.EqualFold(n, "HEAD") || n == "@" }, "names HEAD"},
	{func(n string) bool { return strings.Contains(n, "@{") }, "contains revision syntax '@{'"},
	{func(n string) bool { return strings.Contains(n, "..") }, "contains '..'"},
	{func(n string) bool { return strings.Contains(n, "//") }, "contains an empty path component"},
	{func(n string) bool { return strings.Contains(n, "/.") || strings.Contains(n, "./") }, "has a path component starting or ending with '.'"},
	{func(n string) bool { return strings.HasSuffix(n, ".lock") }, "ends with '.lock'"},
	{func(n string) bool { return strings.HasSuffix(n, ".") || strings.HasSuffix(n, "/") }, "ends with '.' or '/'"},
}

// ValidateBranchName rejects names git would refuse and anything a shell
// could interpret. Branch names built from titles or supplied by webhooks go
// through it before reaching git.
func ValidateBranchName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidBranchName)
	case len(name) > MaxBranchNameLength:
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidBranchName, MaxBranchNameLength)
	}
	for _, r := range branchRules {
		if r.fails(name) {
			return fmt.Errorf("%w: %q %s", ErrInvalidBranchName, name, r.reason)
		}
	}
	if !branchChars.MatchString(name) {
		return fmt.Errorf("%w: %q must start with a letter or digit and use only letters, digits, '/', '-', '_' and '.'",
			ErrInvalidBranchName, name)
	}
	return nil
}

// MaxSlugLength caps the title part of a generated branch name.
const MaxSlugLength = 30

var nonSlugRun = regexp.MustCompile(`[^a-z0-9]+`)

// Slug lowercases title, collapses every run of non-alphanumerics to a single
// hyphen, cuts it to MaxSlugLength and strips trailing hyphens. An empty
// title yields "task".
func Slug(title string) string {
	if strings.TrimSpace(title) == "" {
		title = "task"
	}
	s := nonSlugRun.ReplaceAllString(strings.ToLower(title), "-")
	if len(s) > MaxSlugLength {
		s = s[:MaxSlugLength]
	}
	return strings.TrimRight(s, "-")
}

// BranchName returns the branch created for a task's changes:
// <prefix>/<external id>-<slug>, e.g. bug/42-fix-null-pointer.
func BranchName(t *task.Task) string {
	name := fmt.Sprintf("%s/%d-%s", t.Type.BranchPrefix(), t.ExternalID(), Slug(t.Context.Title))
	return strings.TrimRight(name, "-")
}
