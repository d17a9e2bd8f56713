package project

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/randalmurphal/orch/internal/git"
	"github.com/randalmurphal/orch/internal/hosting"
)

// Registry resolves hosted repository names to local paths. The effective
// mapping is the scanned checkouts overlaid with the manual mapping, so a
// manual entry always wins.
type Registry struct {
	baseDir  string
	manual   map[string]string
	autoScan bool
	scanner  *Scanner
	logger   *slog.Logger

	mu      sync.RWMutex
	scanned []Repo
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	BaseDir string
	// Manual maps full repository names to folders. Relative folders are
	// resolved against BaseDir.
	Manual   map[string]string
	AutoScan bool
	Exclude  []string
	Scanner  *Scanner
	Logger   *slog.Logger
}

// NewRegistry creates a registry. Call Refresh to populate scanned repos.
func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	scanner := cfg.Scanner
	if scanner == nil {
		scanner = &Scanner{BaseDir: cfg.BaseDir, Exclude: cfg.Exclude, Logger: logger}
	}
	manual := make(map[string]string, len(cfg.Manual))
	for k, v := range cfg.Manual {
		manual[k] = v
	}
	return &Registry{
		baseDir:  cfg.BaseDir,
		manual:   manual,
		autoScan: cfg.AutoScan,
		scanner:  scanner,
		logger:   logger,
	}
}

// Refresh rescans the base directory when auto-scan is enabled.
func (r *Registry) Refresh(ctx context.Context) error {
	if !r.autoScan {
		return nil
	}
	repos, err := r.scanner.Scan(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.scanned = repos
	r.mu.Unlock()
	r.logger.Debug("scanned repositories", "count", len(repos))
	return nil
}

// Scanned returns the repositories found by the last Refresh.
func (r *Registry) Scanned() []Repo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Repo(nil), r.scanned...)
}

// Mapping returns the effective full name to folder mapping.
func (r *Registry) Mapping() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string, len(r.manual)+len(r.scanned))
	for _, repo := range r.scanned {
		if repo.Known() {
			out[repo.FullName] = repo.LocalName
		}
	}
	for k, v := range r.manual {
		out[k] = v
	}
	return out
}

// Names returns the mapped full names in sorted order.
func (r *Registry) Names() []string {
	m := r.Mapping()
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Provider returns the hosting provider of a mapped repository. Scanned
// checkouts report the provider parsed from their remote; other names are
// classified by shape.
func (r *Registry) Provider(fullName string) hosting.ProviderType {
	r.mu.RLock()
	for _, repo := range r.scanned {
		if repo.Known() && repo.FullName == fullName {
			r.mu.RUnlock()
			return repo.Provider
		}
	}
	r.mu.RUnlock()
	return hosting.ResolveType("", fullName)
}

// Lookup returns the local path of a mapped repository.
func (r *Registry) Lookup(fullName string) (string, bool) {
	folder, ok := r.Mapping()[fullName]
	if !ok {
		return "", false
	}
	return r.abs(folder), true
}

// Resolve returns the mapped path, or BaseDir joined with the last segment
// of the full name.
func (r *Registry) Resolve(fullName string) string {
	if path, ok := r.Lookup(fullName); ok {
		return path
	}
	name := fullName
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return r.abs(name)
}

// ResolveADO resolves an Azure DevOps repository, trying org/project/repo
// then project/repo before falling back to the repo name.
func (r *Registry) ResolveADO(org, project, repo string) string {
	if org != "" {
		if path, ok := r.Lookup(org + "/" + project + "/" + repo); ok {
			return path
		}
	}
	if path, ok := r.Lookup(project + "/" + repo); ok {
		return path
	}
	return r.abs(repo)
}

// FindByProject returns the first mapped repository, in name order, that
// belongs to the Azure DevOps project.
func (r *Registry) FindByProject(project string) (fullName, path string, ok bool) {
	if project == "" {
		return "", "", false
	}
	for _, name := range r.Names() {
		parts := strings.Split(name, "/")
		if len(parts) >= 2 && parts[len(parts)-2] == project {
			p, _ := r.Lookup(name)
			return name, p, true
		}
	}
	return "", "", false
}

// Locate returns the mapped path, or the fallback path when a checkout
// exists there. It reports false when neither applies.
func (r *Registry) Locate(fullName string) (string, bool) {
	if path, ok := r.Lookup(fullName); ok {
		return path, true
	}
	path := r.Resolve(fullName)
	return path, git.IsRepo(path)
}

// LocateADO is Locate for Azure DevOps repositories.
func (r *Registry) LocateADO(org, project, repo string) (string, bool) {
	if org != "" {
		if path, ok := r.Lookup(org + "/" + project + "/" + repo); ok {
			return path, true
		}
	}
	if path, ok := r.Lookup(project + "/" + repo); ok {
		return path, true
	}
	path := r.abs(repo)
	return path, git.IsRepo(path)
}

// BaseDir returns the directory repositories are resolved against.
func (r *Registry) BaseDir() string {
	return r.abs("")
}

func (r *Registry) abs(folder string) string {
	if filepath.IsAbs(folder) {
		return filepath.Clean(folder)
	}
	joined := filepath.Join(r.baseDir, folder)
	if abs, err := filepath.Abs(joined); err == nil {
		return abs
	}
	return joined
}
