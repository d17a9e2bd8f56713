// Package project maps hosted repository names to local checkouts.
package project

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/randalmurphal/orch/internal/git"
	"github.com/randalmurphal/orch/internal/hosting"
)

// Repo is a git checkout found under the base directory.
type Repo struct {
	LocalName string               `json:"localName"`
	LocalPath string               `json:"localPath"`
	Remote    string               `json:"remote,omitempty"`
	FullName  string               `json:"fullName,omitempty"`
	Provider  hosting.ProviderType `json:"provider"`
}

// Known reports whether the origin remote points at a supported host.
func (r Repo) Known() bool {
	return r.FullName != "" && r.Provider != hosting.ProviderUnknown
}

// Scanner finds git repositories directly under a base directory.
type Scanner struct {
	BaseDir string
	// Exclude holds doublestar patterns matched against directory names.
	Exclude []string
	NewGit  func(repoPath string) *git.Git
	Logger  *slog.Logger
}

// Scan reads the immediate subdirectories of BaseDir that are git
// repositories and parses their origin remotes. A missing base directory
// yields no repositories.
func (s *Scanner) Scan(ctx context.Context) ([]Repo, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	newGit := s.NewGit
	if newGit == nil {
		newGit = func(p string) *git.Git { return git.New(p) }
	}
	for _, pattern := range s.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid exclude pattern %q", pattern)
		}
	}

	baseDir, err := filepath.Abs(s.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base dir: %w", err)
	}
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("repository base directory not found", "base_dir", baseDir)
			return nil, nil
		}
		return nil, fmt.Errorf("read base dir: %w", err)
	}

	var repos []Repo
	for _, entry := range entries {
		if !entry.IsDir() || s.excluded(entry.Name()) {
			continue
		}
		path := filepath.Join(baseDir, entry.Name())
		if !git.IsRepo(path) {
			continue
		}

		repo := Repo{LocalName: entry.Name(), LocalPath: path, Provider: hosting.ProviderUnknown}
		remote, err := newGit(path).RemoteURL(ctx, "origin")
		if err != nil {
			logger.Debug("repository has no origin remote", "path", path, "error", err)
			repos = append(repos, repo)
			continue
		}
		repo.Remote = remote
		if pt, fullName, ok := hosting.ParseRemote(remote); ok {
			repo.Provider = pt
			repo.FullName = fullName
		}
		repos = append(repos, repo)
	}

	sort.Slice(repos, func(i, j int) bool { return repos[i].LocalName < repos[j].LocalName })
	return repos, nil
}

func (s *Scanner) excluded(name string) bool {
	for _, pattern := range s.Exclude {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}
