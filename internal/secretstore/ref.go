package secretstore

import (
	"fmt"
	"strings"
)

const refPrefix = "secret://"

// Ref is a parsed secret://provider/path handle.
type Ref struct {
	Provider string
	Path     string
	Raw      string
}

// Reference returns the canonical secret reference string.
func (r Ref) Reference() string {
	if r.Provider == "" {
		return "secret:///" + r.Path
	}
	return refPrefix + r.Provider + "/" + r.Path
}

// IsRef reports whether value looks like a secret handle.
func IsRef(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), refPrefix)
}

// ParseRef detects and parses secret:// references. Returns ok=false when value is not a reference.
func ParseRef(value string, defaultProvider string) (Ref, bool, error) {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, refPrefix) {
		return Ref{}, false, nil
	}
	rest := strings.TrimSpace(strings.TrimPrefix(value, refPrefix))
	if rest == "" {
		return Ref{}, true, fmt.Errorf("secret reference is missing provider/path")
	}
	defaultProvider = strings.TrimSpace(defaultProvider)
	if strings.HasPrefix(rest, "/") {
		rest = strings.TrimPrefix(rest, "/")
		if rest == "" {
			return Ref{}, true, fmt.Errorf("secret reference is missing path")
		}
		if defaultProvider == "" {
			return Ref{}, true, fmt.Errorf("secret reference %q requires a default provider", value)
		}
		return Ref{Provider: defaultProvider, Path: rest, Raw: value}, true, nil
	}
	provider, path, found := strings.Cut(rest, "/")
	if !found {
		if defaultProvider == "" {
			return Ref{}, true, fmt.Errorf("secret reference %q is missing provider", value)
		}
		return Ref{Provider: defaultProvider, Path: strings.TrimSpace(provider), Raw: value}, true, nil
	}
	provider = strings.TrimSpace(provider)
	path = strings.TrimSpace(path)
	if provider == "" {
		if defaultProvider == "" {
			return Ref{}, true, fmt.Errorf("secret reference %q is missing provider", value)
		}
		provider = defaultProvider
	}
	if path == "" {
		return Ref{}, true, fmt.Errorf("secret reference %q is missing path", value)
	}
	return Ref{Provider: provider, Path: path, Raw: value}, true, nil
}
