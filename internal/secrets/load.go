package secrets

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadRules returns the default rules, overlaid with the rules file at path when
// one is given.
func LoadRules(path string) (CompiledRules, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) != "" {
		override, err := LoadConfig(path)
		if err != nil {
			return CompiledRules{}, err
		}
		cfg = MergeConfig(cfg, override)
	}
	return CompileConfig(cfg)
}

func LoadConfig(path string) (Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Config{}, errors.New("secret rules path is required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return parseConfigByExt(path, raw)
}

func parseConfigByExt(name string, raw []byte) (Config, error) {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(name)))
	raw = []byte(strings.TrimSpace(string(raw)))
	if len(raw) == 0 {
		return Config{}, nil
	}
	var cfg Config
	switch ext {
	case ".json":
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse secret rules json: %w", err)
		}
	default:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse secret rules yaml: %w", err)
		}
	}
	return cfg, nil
}

func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeWarn:
		return ModeWarn, nil
	case ModeBlock:
		return ModeBlock, nil
	case ModeOff:
		return ModeOff, nil
	}
	return "", fmt.Errorf("unknown secret scan mode %q (expected warn, block or off)", raw)
}
