package coderepo

import "strings"

// Provider identifies the hosting platform of a remote.
type Provider string

const (
	GitHub  Provider = "github"
	GitLab  Provider = "gitlab"
	Gitea   Provider = "gitea"
	Unknown Provider = "unknown"
)

// DetectProvider determines the hosting platform from a git remote URL.
func DetectProvider(remoteURL string) Provider {
	lower := strings.ToLower(remoteURL)

	switch {
	case strings.Contains(lower, "github.com"):
		return GitHub
	case strings.Contains(lower, "gitlab"):
		return GitLab
	case strings.Contains(lower, "gitea") || strings.Contains(lower, "forgejo") || strings.Contains(lower, "codeberg"):
		return Gitea
	default:
		return Unknown
	}
}

// BaseURL extracts the web base URL from a git remote URL.
// Handles SSH (git@host:path) and HTTP(S) (https://host/path) formats.
func BaseURL(remoteURL string) string {
	url := remoteURL

	// git@host:org/repo.git
	if !strings.Contains(url, "://") && strings.Contains(url, "@") && strings.Contains(url, ":") {
		hostPath := strings.SplitN(url, "@", 2)[1]
		if i := strings.Index(hostPath, ":"); i >= 0 {
			return "https://" + hostPath[:i]
		}
	}

	for _, scheme := range []string{"https://", "http://", "ssh://"} {
		if !strings.HasPrefix(url, scheme) {
			continue
		}
		rest := strings.TrimPrefix(url, scheme)
		if i := strings.Index(rest, "/"); i >= 0 {
			rest = rest[:i]
		}
		if scheme == "ssh://" {
			// ssh://git@host:port/path
			if i := strings.Index(rest, "@"); i >= 0 {
				rest = rest[i+1:]
			}
			if i := strings.Index(rest, ":"); i >= 0 {
				rest = rest[:i]
			}
			scheme = "https://"
		}
		return scheme + rest
	}

	return url
}
