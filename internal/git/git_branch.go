package git

import (
	"context"
	"fmt"
	"strings"
)

// DefaultBranchFallback is used when the remote's HEAD cannot be resolved.
const DefaultBranchFallback = "main"

// CurrentBranch returns the checked-out branch name.
func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "branch", "--show-current")
	if err != nil {
		return "", err
	}
	branch := strings.TrimSpace(out)
	if branch == "" {
		// Detached HEAD; restore to the commit instead.
		out, err = g.run(ctx, "rev-parse", "HEAD")
		if err != nil {
			return "", err
		}
		branch = strings.TrimSpace(out)
	}
	return branch, nil
}

// DefaultBranch resolves origin's default branch. It reads the local
// origin/HEAD ref first and asks the remote only if that is missing.
// Failures fall back to DefaultBranchFallback.
func (g *Git) DefaultBranch(ctx context.Context) string {
	if out, err := g.run(ctx, "symbolic-ref", "--short", "refs/remotes/origin/HEAD"); err == nil {
		if b := strings.TrimPrefix(strings.TrimSpace(out), "origin/"); b != "" {
			return b
		}
	}
	out, err := g.run(ctx, "remote", "show", "origin")
	if err != nil {
		return DefaultBranchFallback
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if b, ok := strings.CutPrefix(line, "HEAD branch:"); ok {
			if b = strings.TrimSpace(b); b != "" && b != "(unknown)" {
				return b
			}
		}
	}
	return DefaultBranchFallback
}

// Fetch fetches from origin. With no refs it fetches everything.
func (g *Git) Fetch(ctx context.Context, refs ...string) error {
	args := append([]string{"fetch", "origin"}, refs...)
	_, err := g.run(ctx, args...)
	return err
}

// Checkout switches to an existing branch or commit.
func (g *Git) Checkout(ctx context.Context, ref string) error {
	_, err := g.run(ctx, "checkout", ref)
	return err
}

// Pull fast-forwards branch from origin.
func (g *Git) Pull(ctx context.Context, branch string) error {
	_, err := g.run(ctx, "pull", "origin", branch)
	return err
}

// CreateBranchFrom fetches base from origin and checks out a new branch
// starting at origin/base. Uncommitted changes are carried over.
func (g *Git) CreateBranchFrom(ctx context.Context, branch, base string) error {
	if err := ValidateBranchName(branch); err != nil {
		return err
	}
	if err := g.Fetch(ctx, base); err != nil {
		return fmt.Errorf("fetch base %s: %w", base, err)
	}
	if _, err := g.run(ctx, "checkout", "-b", branch, "origin/"+base); err != nil {
		return fmt.Errorf("create branch %s from %s: %w", branch, base, err)
	}
	return nil
}

// CheckoutRemote fetches origin and checks out an existing remote branch,
// then pulls it so the working tree matches the remote head.
func (g *Git) CheckoutRemote(ctx context.Context, branch string) error {
	if branch == "" {
		return ErrNoRemoteBranch
	}
	if err := ValidateBranchName(branch); err != nil {
		return err
	}
	if err := g.Fetch(ctx); err != nil {
		return err
	}
	if err := g.Checkout(ctx, branch); err != nil {
		return err
	}
	return g.Pull(ctx, branch)
}

// Push pushes branch to origin and sets its upstream.
func (g *Git) Push(ctx context.Context, branch string) error {
	_, err := g.run(ctx, "push", "-u", "origin", branch)
	return err
}
