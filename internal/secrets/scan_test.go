package secrets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/stackfuse/internal/topology"
	"github.com/example/stackfuse/internal/validate"
)

func writeFile(t *testing.T, path string, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func leakyTopology() *topology.Topology {
	topo := topology.New()
	topo.Services["backend"] = &topology.ServiceNode{
		Name:  "backend",
		Image: "frappe/erpnext:v15.38.0",
		Environment: map[string]topology.EnvValue{
			"DB_PASSWORD": topology.Literal("admin"),
			"API_TOKEN":   topology.Literal("a8F3kq9Zx2Lm7Pw4Rt6Yb1Nc5Vd0Hs8J"),
			"DB_HOST":     topology.Literal("db"),
			"REDIS_PASS":  topology.SecretEnv("redis-password"),
		},
		Labels: map[string]string{"ci.token": "ghp_0123456789abcdefABCDEF0123"},
	}
	pinned := "3.11.6"
	topo.Stages["build"] = &topology.BuildStage{
		Name: "build",
		Base: topology.StageBase{Image: "python:3.11.6-slim-bookworm"},
		Args: map[string]*string{"NPM_TOKEN": nil, "PYTHON_VERSION": &pinned},
	}
	return topo
}

func TestScan(t *testing.T) {
	rules, err := LoadRules("")
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	findings := Scan(leakyTopology(), map[string]string{"GITHUB_TOKEN": "$GITHUB_TOKEN"}, rules)

	type key struct{ subject, path, rule string }
	got := map[key]Finding{}
	for _, f := range findings {
		got[key{f.Subject, f.Path, f.Rule}] = f
	}
	want := []key{
		{"services/backend", "environment.API_TOKEN", "env_name_suspicious"},
		{"services/backend", "environment.DB_PASSWORD", "env_name_suspicious"},
		{"services/backend", "labels.ci.token", "value_github_token"},
		{"stages/build", "args.NPM_TOKEN", "arg_name_suspicious"},
		{BuildArgsSubject, "GITHUB_TOKEN", "arg_name_suspicious"},
	}
	for _, k := range want {
		if _, ok := got[k]; !ok {
			t.Fatalf("missing finding %+v in %+v", k, findings)
		}
	}
	if len(findings) != len(want) {
		t.Fatalf("findings=%d want=%d: %+v", len(findings), len(want), findings)
	}
	if f := got[key{"services/backend", "environment.API_TOKEN", "env_name_suspicious"}]; f.Severity != SeverityBlock || f.Match == "" {
		t.Fatalf("opaque token value not raised to block: %+v", f)
	}
	if f := got[key{"services/backend", "environment.DB_PASSWORD", "env_name_suspicious"}]; f.Severity != SeverityWarn {
		t.Fatalf("short literal should stay a warning: %+v", f)
	}
}

func TestCheckModes(t *testing.T) {
	rules, err := LoadRules("")
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	topo := leakyTopology()

	diags, err := Check(rules, ModeWarn, nil).Run(context.Background(), topo)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, d := range diags {
		if d.Fatal() || d.Kind != validate.KindSecretLiteral {
			t.Fatalf("warn mode produced %+v", d)
		}
	}

	diags, _ = Check(rules, ModeBlock, nil).Run(context.Background(), topo)
	fatal := 0
	for _, d := range diags {
		if d.Fatal() {
			fatal++
		}
	}
	if fatal != 1 {
		t.Fatalf("block mode fatal=%d want=1: %+v", fatal, diags)
	}

	if diags, _ := Check(rules, ModeOff, nil).Run(context.Background(), topo); len(diags) != 0 {
		t.Fatalf("off mode produced %+v", diags)
	}
}

func TestLoadRulesOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	writeFile(t, path, `
version: v1
rules:
  - id: env_name_suspicious
    enabled: false
  - id: internal_host
    severity: block
    applies_to: [env_value]
    regex: '\.corp\.internal\b'
    message: internal hostname in a literal
`)
	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	topo := topology.New()
	topo.Services["web"] = &topology.ServiceNode{
		Name:        "web",
		Image:       "nginx:1.27",
		Environment: map[string]topology.EnvValue{"UPSTREAM": topology.Literal("api.corp.internal"), "DB_PASSWORD": topology.Literal("x")},
	}
	findings := Scan(topo, nil, rules)
	if len(findings) != 1 || findings[0].Rule != "internal_host" || findings[0].Severity != SeverityBlock {
		t.Fatalf("findings=%+v", findings)
	}
}

func TestParseMode(t *testing.T) {
	for raw, want := range map[string]Mode{"": ModeWarn, "warn": ModeWarn, "BLOCK": ModeBlock, "off": ModeOff} {
		got, err := ParseMode(raw)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q)=%q,%v want %q", raw, got, err, want)
		}
	}
	if _, err := ParseMode("loud"); err == nil {
		t.Fatalf("expected error")
	}
}
