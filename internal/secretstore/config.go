package secretstore

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mitchellh/go-homedir"
	"sigs.k8s.io/yaml"
)

// Config describes the secret providers a deployment can reference. Providers are
// only named here; resolving values is the job of the deployment runtime.
type Config struct {
	DefaultProvider string                    `json:"defaultProvider,omitempty"`
	Providers       map[string]ProviderConfig `json:"providers,omitempty"`
}

// ProviderConfig captures provider-specific settings.
type ProviderConfig struct {
	Type      string `json:"type,omitempty"`
	Path      string `json:"path,omitempty"`
	Address   string `json:"address,omitempty"`
	Mount     string `json:"mount,omitempty"`
	Namespace string `json:"namespace,omitempty"`
}

var knownProviderTypes = map[string]struct{}{
	"file":    {},
	"vault":   {},
	"aws":     {},
	"env":     {},
	"compose": {},
}

// Empty reports whether the configuration declares any providers or defaults.
func (c Config) Empty() bool {
	return c.DefaultProvider == "" && len(c.Providers) == 0
}

// ProviderNames returns configured provider names in lexical order.
func (c Config) ProviderNames() []string {
	out := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// LoadConfig loads a secrets provider config from a file.
// The file can either include a top-level "secrets" key or be a raw secrets config.
func LoadConfig(path string) (Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Config{}, fmt.Errorf("secret config path is required")
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return Config{}, err
	}
	raw, err := os.ReadFile(expanded)
	if err != nil {
		return Config{}, err
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return Config{}, nil
	}
	var rawMap map[string]interface{}
	if err := yaml.Unmarshal(raw, &rawMap); err != nil {
		return Config{}, fmt.Errorf("parse secrets config: %w", err)
	}
	var cfg Config
	if _, ok := rawMap["secrets"]; ok {
		var wrapper struct {
			Secrets Config `json:"secrets"`
		}
		if err := yaml.Unmarshal(raw, &wrapper); err != nil {
			return Config{}, fmt.Errorf("parse secrets config: %w", err)
		}
		cfg = wrapper.Secrets
	} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse secrets config: %w", err)
	}
	if err := cfg.check(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) check() error {
	for name, p := range c.Providers {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("secret provider name cannot be empty")
		}
		typ := strings.ToLower(strings.TrimSpace(p.Type))
		if _, ok := knownProviderTypes[typ]; !ok {
			return fmt.Errorf("provider %q: unsupported type %q", name, p.Type)
		}
	}
	if c.DefaultProvider != "" {
		if _, ok := c.Providers[c.DefaultProvider]; !ok {
			return fmt.Errorf("default provider %q is not configured", c.DefaultProvider)
		}
	}
	return nil
}
