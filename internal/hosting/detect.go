package hosting

import (
	"regexp"
	"strings"
)

// DetectProvider determines the hosting provider from a git remote URL.
//
// Supported URL formats:
//   - git@github.com:owner/repo.git
//   - https://github.com/owner/repo.git
//   - git@gitlab.com:owner/repo.git
//   - https://gitlab.com/owner/repo.git
//   - git@gitlab.company.com:org/repo.git (self-hosted GitLab)
//   - https://github.company.com/org/repo.git (GitHub Enterprise)
//   - git@ssh.dev.azure.com:v3/org/project/repo
//   - https://dev.azure.com/org/project/_git/repo
//   - https://org.visualstudio.com/project/_git/repo
func DetectProvider(remoteURL string) ProviderType {
	url := strings.ToLower(strings.TrimSpace(remoteURL))

	if isGitHub(url) {
		return ProviderGitHub
	}
	if isADO(url) {
		return ProviderADO
	}
	if isGitLab(url) {
		return ProviderGitLab
	}
	return ProviderUnknown
}

// GitHub URL patterns
var githubPatterns = []*regexp.Regexp{
	regexp.MustCompile(`github\.com[:/]`),
	regexp.MustCompile(`github\.[a-z0-9-]+\.[a-z]+[:/]`), // GitHub Enterprise (github.company.com)
}

func isGitHub(url string) bool {
	for _, p := range githubPatterns {
		if p.MatchString(url) {
			return true
		}
	}
	return false
}

// GitLab URL patterns
var gitlabPatterns = []*regexp.Regexp{
	regexp.MustCompile(`gitlab\.com[:/]`),
	regexp.MustCompile(`gitlab\.[a-z0-9-]+\.[a-z]+[:/]`), // Self-hosted GitLab (gitlab.company.com)
}

func isGitLab(url string) bool {
	for _, p := range gitlabPatterns {
		if p.MatchString(url) {
			return true
		}
	}
	return false
}

func isADO(url string) bool {
	return strings.Contains(url, "dev.azure.com") || strings.Contains(url, ".visualstudio.com")
}

var (
	adoSSH    = regexp.MustCompile(`^git@ssh\.dev\.azure\.com:v3/([^/]+)/([^/]+)/([^/]+?)(?:\.git)?/?$`)
	adoHTTPS  = regexp.MustCompile(`^https://(?:[^@/]+@)?dev\.azure\.com/([^/]+)/([^/]+)/_git/([^/]+?)(?:\.git)?/?$`)
	adoLegacy = regexp.MustCompile(`^https://(?:[^@/]+@)?([^./]+)\.visualstudio\.com/(?:DefaultCollection/)?([^/]+)/_git/([^/]+?)(?:\.git)?/?$`)
)

// ParseRemote returns the provider and the full repository name for a
// remote URL: owner/repo for GitHub, org/project/repo for Azure DevOps and
// group/.../repo for GitLab.
func ParseRemote(remoteURL string) (ProviderType, string, bool) {
	raw := strings.TrimSpace(remoteURL)
	for _, re := range []*regexp.Regexp{adoSSH, adoHTTPS, adoLegacy} {
		if m := re.FindStringSubmatch(raw); m != nil {
			return ProviderADO, m[1] + "/" + m[2] + "/" + m[3], true
		}
	}

	pt := DetectProvider(raw)
	if pt != ProviderGitHub && pt != ProviderGitLab {
		return ProviderUnknown, "", false
	}
	owner, repo := ParseOwnerRepo(raw)
	if owner == "" || repo == "" {
		return ProviderUnknown, "", false
	}
	if pt == ProviderGitHub && strings.Contains(owner, "/") {
		return ProviderUnknown, "", false
	}
	return pt, owner + "/" + repo, true
}

// ParseOwnerRepo extracts owner and repo from a git remote URL.
//
// Handles:
//   - git@github.com:owner/repo.git → (owner, repo)
//   - https://github.com/owner/repo.git → (owner, repo)
//   - ssh://git@github.com:22/owner/repo.git → (owner, repo)
//   - git@gitlab.com:group/subgroup/repo.git → (group/subgroup, repo)
func ParseOwnerRepo(remoteURL string) (owner, repo string) {
	raw := strings.TrimSpace(remoteURL)
	raw = strings.TrimSuffix(raw, "/")
	raw = strings.TrimSuffix(raw, ".git")

	// SSH format: ssh://git@host:port/owner/repo
	if strings.HasPrefix(raw, "ssh://") {
		raw = strings.TrimPrefix(raw, "ssh://")
		if idx := strings.Index(raw, "/"); idx != -1 {
			raw = raw[idx+1:]
			raw = strings.TrimLeft(raw, "/")
		}
	} else if strings.HasPrefix(raw, "https://") || strings.HasPrefix(raw, "http://") {
		// HTTPS format: https://host/owner/repo
		raw = strings.TrimPrefix(raw, "https://")
		raw = strings.TrimPrefix(raw, "http://")
		// Remove host part (first segment)
		if idx := strings.Index(raw, "/"); idx != -1 {
			raw = raw[idx+1:]
		}
	} else if idx := strings.Index(raw, ":"); idx != -1 {
		// SCP-style SSH: git@host:owner/repo
		raw = raw[idx+1:]
	}

	// For GitLab, owner can be "group/subgroup" so take last segment as repo
	parts := strings.Split(raw, "/")
	if len(parts) < 2 {
		return raw, ""
	}

	repo = parts[len(parts)-1]
	owner = strings.Join(parts[:len(parts)-1], "/")
	return owner, repo
}

// SplitOwnerRepo splits "owner/repo".
func SplitOwnerRepo(full string) (owner, repo string, ok bool) {
	owner, repo, ok = strings.Cut(full, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", false
	}
	return owner, repo, true
}
