package hosting

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	orcherrors "github.com/randalmurphal/orch/internal/errors"
	"github.com/randalmurphal/orch/internal/task"
)

// Config holds one provider's credentials.
type Config struct {
	// Token is the API token. Azure DevOps uses it as the PAT.
	Token string `yaml:"token" json:"-"`

	// BaseURL for self-hosted instances (e.g., "https://gitlab.company.com").
	// Leave empty for github.com / gitlab.com / dev.azure.com.
	BaseURL string `yaml:"base_url" json:"base_url,omitempty"`

	// Organization is the Azure DevOps organization.
	Organization string `yaml:"organization" json:"organization,omitempty"`
}

// NewProviderFunc is a constructor function for creating a hosting provider.
// This is used by the factory to avoid import cycles: the actual provider
// constructors are registered at init time by the provider packages.
type NewProviderFunc func(cfg Config) (Provider, error)

// Provider constructors registered by provider packages.
var providerConstructors = map[ProviderType]NewProviderFunc{}

// RegisterProvider registers a provider constructor.
// Called from init() in provider packages (github/, gitlab/, ado/).
func RegisterProvider(providerType ProviderType, constructor NewProviderFunc) {
	providerConstructors[providerType] = constructor
}

// NewProvider creates a single provider of the given type.
func NewProvider(providerType ProviderType, cfg Config) (Provider, error) {
	constructor, ok := providerConstructors[providerType]
	if !ok {
		return nil, fmt.Errorf("no provider registered for %q (registered: %v)", providerType, registeredProviders())
	}
	return constructor(cfg)
}

func registeredProviders() []ProviderType {
	var providers []ProviderType
	for pt := range providerConstructors {
		providers = append(providers, pt)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })
	return providers
}

// Set holds the configured providers, at most one per type.
type Set struct {
	providers map[ProviderType]Provider
}

// NewSet builds a provider for every entry that has a token. Entries without
// a token are skipped so a deployment can run with only some providers.
func NewSet(cfgs map[ProviderType]Config, logger *slog.Logger) (*Set, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Set{providers: make(map[ProviderType]Provider)}
	for pt, cfg := range cfgs {
		if cfg.Token == "" {
			logger.Debug("hosting provider not configured", "provider", pt)
			continue
		}
		p, err := NewProvider(pt, cfg)
		if err != nil {
			return nil, fmt.Errorf("create %s provider: %w", pt, err)
		}
		s.providers[pt] = p
	}
	return s, nil
}

// NewSetOf wraps already-built providers.
func NewSetOf(providers ...Provider) *Set {
	s := &Set{providers: make(map[ProviderType]Provider)}
	for _, p := range providers {
		s.providers[p.Name()] = p
	}
	return s
}

// Get returns the provider of the given type.
func (s *Set) Get(pt ProviderType) (Provider, error) {
	if s != nil {
		if p, ok := s.providers[pt]; ok {
			return p, nil
		}
	}
	return nil, orcherrors.ErrProviderNotConfigured(string(pt))
}

// Configured lists the configured provider types.
func (s *Set) Configured() []ProviderType {
	if s == nil {
		return nil
	}
	var out []ProviderType
	for pt := range s.providers {
		out = append(out, pt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ForTask returns the provider a task's results are written back to.
func (s *Set) ForTask(t *task.Task) (Provider, error) {
	return s.Get(ResolveType(t.Context.Source, t.Repo))
}

// ResolveType picks a provider from the task source, falling back to the
// shape of the repository name: owner/repo is GitHub and org/project/repo
// is Azure DevOps.
func ResolveType(source task.Source, repo string) ProviderType {
	switch source {
	case task.SourceGitHub:
		return ProviderGitHub
	case task.SourceADO:
		return ProviderADO
	case task.SourceGitLab:
		return ProviderGitLab
	}
	switch len(strings.Split(repo, "/")) {
	case 2:
		return ProviderGitHub
	case 3:
		return ProviderADO
	default:
		return ProviderUnknown
	}
}

// SourceOf is the task source for events read from a provider.
func SourceOf(pt ProviderType) task.Source {
	switch pt {
	case ProviderADO:
		return task.SourceADO
	case ProviderGitLab:
		return task.SourceGitLab
	default:
		return task.SourceGitHub
	}
}
