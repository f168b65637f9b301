package secretstore

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationIssue captures a single secret handle validation issue.
type ValidationIssue struct {
	Secret      string
	Reference   string
	Provider    string
	Path        string
	Message     string
	Suggestions []string
}

// ValidationError is returned when secret handles fail validation.
type ValidationError struct {
	Issues []ValidationIssue
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "secret references failed validation"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "secret references failed validation (%d issue(s)):\n", len(e.Issues))
	for _, issue := range e.Issues {
		ref := strings.TrimSpace(issue.Reference)
		if ref == "" {
			ref = refPrefix
		}
		fmt.Fprintf(&b, "- %s: %s\n", ref, strings.TrimSpace(issue.Message))
		for _, hint := range issue.Suggestions {
			hint = strings.TrimSpace(hint)
			if hint == "" {
				continue
			}
			fmt.Fprintf(&b, "  hint: %s\n", hint)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// ValidateHandles checks that every handle (secret name -> secret:// reference)
// parses and names a configured provider. Only the handle strings are inspected;
// no provider is contacted and no value is read.
// An empty config skips the provider check and only validates syntax.
func ValidateHandles(cfg Config, handles map[string]string) error {
	names := make([]string, 0, len(handles))
	for name := range handles {
		names = append(names, name)
	}
	sort.Strings(names)

	providers := cfg.ProviderNames()
	var issues []ValidationIssue
	for _, name := range names {
		raw := handles[name]
		ref, ok, err := ParseRef(raw, cfg.DefaultProvider)
		if !ok {
			issues = append(issues, ValidationIssue{
				Secret:    name,
				Reference: raw,
				Message:   fmt.Sprintf("secret %q: external source must be a secret:// handle", name),
			})
			continue
		}
		if err != nil {
			issues = append(issues, ValidationIssue{
				Secret:      name,
				Reference:   raw,
				Message:     err.Error(),
				Suggestions: providerHints(cfg.DefaultProvider, providers),
			})
			continue
		}
		if cfg.Empty() {
			continue
		}
		if _, ok := cfg.Providers[ref.Provider]; !ok {
			issues = append(issues, ValidationIssue{
				Secret:      name,
				Reference:   raw,
				Provider:    ref.Provider,
				Path:        ref.Path,
				Message:     fmt.Sprintf("secret provider %q is not configured", ref.Provider),
				Suggestions: providerHints(cfg.DefaultProvider, providers),
			})
		}
	}
	if len(issues) == 0 {
		return nil
	}
	return &ValidationError{Issues: issues}
}

func providerHints(defaultProvider string, providers []string) []string {
	var hints []string
	if len(providers) > 0 {
		hints = append(hints, fmt.Sprintf("configured providers: %s", strings.Join(providers, ", ")))
	}
	if strings.TrimSpace(defaultProvider) == "" {
		hints = append(hints, "set defaultProvider in the secret provider config or use secret://<provider>/<path>")
	}
	return hints
}
