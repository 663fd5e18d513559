package build

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// pluginNameRe matches hub plugin and author names.
var pluginNameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.\-]*$`)

// ParsePluginName splits a hub plugin reference of the form
// (<author>/)<name>(==<version>). Author and version may be empty.
func ParsePluginName(s string) (author, name, version string, err error) {
	ref := strings.TrimSpace(s)

	if i := strings.Index(ref, "=="); i >= 0 {
		version = ref[i+2:]
		ref = ref[:i]
		if _, err := semver.NewVersion(version); err != nil {
			return "", "", "", fmt.Errorf("invalid plugin version %q: %w", version, err)
		}
	}

	if i := strings.Index(ref, "/"); i >= 0 {
		author = ref[:i]
		ref = ref[i+1:]
		if !pluginNameRe.MatchString(author) {
			return "", "", "", fmt.Errorf("invalid plugin author %q", author)
		}
	}

	if !pluginNameRe.MatchString(ref) {
		return "", "", "", fmt.Errorf("invalid plugin name %q", ref)
	}
	return author, ref, version, nil
}

// PluginDisplayName is the inverse of ParsePluginName.
func PluginDisplayName(name, version, author string) string {
	s := name
	if author != "" {
		s = author + "/" + s
	}
	if version != "" {
		s += "==" + version
	}
	return s
}
