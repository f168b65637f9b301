package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

type CompiledRule struct {
	Rule
	re *regexp.Regexp
}

type CompiledRules struct {
	Rules []CompiledRule
}

const useSecretRef = "Declare a secret and reference it with {secret: <name>} so the value never appears in the manifest."

func DefaultConfig() Config {
	enabled := true
	valueTargets := []ApplyTo{ApplyEnvValue, ApplyArgValue, ApplyLabelValue}
	return Config{
		Version: "v1",
		Rules: []Rule{
			{
				ID:        "env_name_suspicious",
				Enabled:   &enabled,
				Severity:  SeverityWarn,
				AppliesTo: []ApplyTo{ApplyEnvName},
				Regex:     `(?i)(token|secret|password|passwd|api[_-]?key|private[_-]?key|aws[_-]?secret|gcp[_-]?key|docker[_-]?password)|(_TOKEN|_SECRET|_PASSWORD)$`,
				Message:   "environment variable looks like a secret but carries a literal value",
				Suggest:   useSecretRef,
			},
			{
				ID:        "arg_name_suspicious",
				Enabled:   &enabled,
				Severity:  SeverityWarn,
				AppliesTo: []ApplyTo{ApplyArgName},
				Regex:     `(?i)(token|secret|password|passwd|api[_-]?key|private[_-]?key|github[_-]?token|npm[_-]?token|pypi[_-]?token)|(_TOKEN|_SECRET|_PASSWORD)$`,
				Message:   "build arg looks like a secret; its value ends up in the image history",
				Suggest:   "Mount the value as a BuildKit secret instead of passing it as a build arg.",
			},
			{
				ID:        "value_private_key",
				Enabled:   &enabled,
				Severity:  SeverityBlock,
				AppliesTo: valueTargets,
				Regex:     `-----BEGIN ([A-Z ]+ )?PRIVATE KEY-----`,
				Message:   "private key material detected",
				Suggest:   useSecretRef,
			},
			{
				ID:        "value_jwt",
				Enabled:   &enabled,
				Severity:  SeverityWarn,
				AppliesTo: valueTargets,
				Regex:     `\beyJ[a-zA-Z0-9_-]{10,}\.[a-zA-Z0-9_-]{10,}\.[a-zA-Z0-9_-]{10,}\b`,
				Message:   "JWT-like token detected",
			},
			{
				ID:        "value_github_token",
				Enabled:   &enabled,
				Severity:  SeverityWarn,
				AppliesTo: valueTargets,
				Regex:     `\b(ghp|gho|ghu|ghs|ghr)_[A-Za-z0-9]{20,}\b`,
				Message:   "GitHub token-like string detected",
			},
			{
				ID:        "value_aws_access_key",
				Enabled:   &enabled,
				Severity:  SeverityWarn,
				AppliesTo: valueTargets,
				Regex:     `\bAKIA[0-9A-Z]{16}\b`,
				Message:   "AWS access key id detected",
			},
		},
	}
}

// MergeConfig overlays override onto base by rule id.
func MergeConfig(base Config, override Config) Config {
	if override.Version != "" {
		base.Version = override.Version
	}
	byID := map[string]Rule{}
	for _, r := range base.Rules {
		if strings.TrimSpace(r.ID) == "" {
			continue
		}
		byID[r.ID] = r
	}
	for _, r := range override.Rules {
		id := strings.TrimSpace(r.ID)
		if id == "" {
			continue
		}
		byID[id] = r
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := Config{Version: base.Version, Rules: make([]Rule, 0, len(ids))}
	for _, id := range ids {
		out.Rules = append(out.Rules, byID[id])
	}
	return out
}

func CompileConfig(cfg Config) (CompiledRules, error) {
	out := CompiledRules{}
	for _, r := range cfg.Rules {
		id := strings.TrimSpace(r.ID)
		if id == "" {
			continue
		}
		if r.Enabled != nil && !*r.Enabled {
			continue
		}
		r.ID = id
		switch r.Severity {
		case SeverityWarn, SeverityBlock:
		case "":
			r.Severity = SeverityWarn
		default:
			return CompiledRules{}, fmt.Errorf("rule %s: unknown severity %q (expected warn or block)", r.ID, r.Severity)
		}
		pat := strings.TrimSpace(r.Regex)
		var re *regexp.Regexp
		if pat != "" {
			var err error
			re, err = regexp.Compile(pat)
			if err != nil {
				return CompiledRules{}, fmt.Errorf("rule %s: invalid regex: %w", r.ID, err)
			}
		}
		out.Rules = append(out.Rules, CompiledRule{Rule: r, re: re})
	}
	sort.Slice(out.Rules, func(i, j int) bool { return out.Rules[i].ID < out.Rules[j].ID })
	return out, nil
}

func (cr CompiledRule) Applies(target ApplyTo) bool {
	for _, t := range cr.AppliesTo {
		if t == target {
			return true
		}
	}
	return false
}
