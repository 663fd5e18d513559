package registry

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/google/go-containerregistry/pkg/name"

	"github.com/sofmeright/stowage/src/config"
)

// Env var prefix: uppercase letters, digits, underscore. Must start with letter.
var envPrefixRe = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// Known provider values (canonical + aliases).
var knownProviders = map[string]bool{
	"docker":  true,
	"github":  true,
	"gitlab":  true,
	"quay":    true,
	"jfrog":   true,
	"harbor":  true,
	"gitea":   true,
	"generic": true,
	"":        true, // unset
}

// ValidateURI checks that a registry URI is a host with an optional
// repository namespace, e.g. "ghcr.io/acme" or "localhost:5000".
func ValidateURI(uri string) error {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return fmt.Errorf("registry URI is empty")
	}
	if containsControlChars(uri) {
		return fmt.Errorf("registry URI %q contains control characters", uri)
	}
	if strings.Contains(uri, "://") {
		return fmt.Errorf("registry URI %q must not contain a scheme", uri)
	}

	host, namespace, _ := strings.Cut(strings.TrimSuffix(uri, "/"), "/")
	if _, err := name.NewRegistry(host, name.StrictValidation); err != nil {
		return fmt.Errorf("registry URI %q: invalid host: %w", uri, err)
	}
	if namespace != "" {
		if _, err := name.NewRepository(uri+"/probe", name.StrictValidation); err != nil {
			return fmt.Errorf("registry URI %q: invalid namespace: %w", uri, err)
		}
	}
	return nil
}

// ValidateCredentials checks that a credential prefix is a valid env var name.
func ValidateCredentials(prefix string) error {
	if prefix == "" {
		return nil // empty = no credentials
	}
	upper := strings.ToUpper(prefix)
	if !envPrefixRe.MatchString(upper) {
		return fmt.Errorf("credentials prefix %q is not a valid env var name (expected: [A-Z][A-Z0-9_]*)", prefix)
	}
	return nil
}

// CanonicalProvider normalizes a provider string to its canonical form and
// validates it. Returns the canonical name or an error for unknown values.
func CanonicalProvider(provider string) (string, error) {
	canonical := NormalizeProvider(provider)
	if !knownProviders[canonical] {
		return "", fmt.Errorf("unknown provider %q (valid: docker, github, gitlab, quay, jfrog, harbor, gitea, generic)", provider)
	}
	return canonical, nil
}

// Validate runs all checks against a registry config and joins every
// failure into one error.
func Validate(cfg config.RegistryConfig) error {
	var errs []error
	if err := ValidateURI(cfg.URI); err != nil {
		errs = append(errs, err)
	}
	if err := ValidateCredentials(cfg.Credentials); err != nil {
		errs = append(errs, err)
	}
	if _, err := CanonicalProvider(cfg.Provider); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// containsControlChars returns true if the string has any ASCII control characters.
func containsControlChars(s string) bool {
	for _, r := range s {
		if r < 32 {
			return true
		}
		if r == unicode.ReplacementChar {
			return true
		}
	}
	return false
}
