package secrets

import "testing"

func TestCompileConfigRejectsBadRegex(t *testing.T) {
	t.Parallel()

	_, err := CompileConfig(Config{
		Version: "v1",
		Rules: []Rule{
			{ID: "bad", Severity: SeverityWarn, AppliesTo: []ApplyTo{ApplyEnvValue}, Regex: "("},
		},
	})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestCompileConfigRejectsUnknownSeverity(t *testing.T) {
	t.Parallel()

	_, err := CompileConfig(Config{Rules: []Rule{{ID: "x", Severity: "fatal", Regex: "x"}}})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestMergeConfigOverridesByID(t *testing.T) {
	t.Parallel()

	disabled := false
	override := Config{
		Version: "v1",
		Rules: []Rule{
			{ID: "value_github_token", Severity: SeverityBlock, AppliesTo: []ApplyTo{ApplyEnvValue}, Regex: `ghp_[A-Za-z0-9]{20,}`},
			{ID: "value_jwt", Enabled: &disabled},
		},
	}
	compiled, err := CompileConfig(MergeConfig(DefaultConfig(), override))
	if err != nil {
		t.Fatalf("CompileConfig: %v", err)
	}
	found := false
	for _, r := range compiled.Rules {
		switch r.ID {
		case "value_github_token":
			found = true
			if r.Severity != SeverityBlock {
				t.Fatalf("expected override severity block, got %s", r.Severity)
			}
		case "value_jwt":
			t.Fatalf("disabled rule was compiled")
		}
	}
	if !found {
		t.Fatalf("expected merged rule")
	}
}

func TestRedact(t *testing.T) {
	t.Parallel()

	if got := Redact("short"); got != "REDACTED" {
		t.Fatalf("Redact(short)=%q", got)
	}
	if got := Redact("ghp_0123456789abcdef0123"); got != "ghp...123" {
		t.Fatalf("Redact=%q", got)
	}
}
