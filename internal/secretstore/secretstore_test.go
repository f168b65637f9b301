package secretstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
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

func TestParseRef(t *testing.T) {
	ref, ok, err := ParseRef("secret://vault/app/db#password", "")
	if !ok || err != nil {
		t.Fatalf("ParseRef: ok=%v err=%v", ok, err)
	}
	if ref.Provider != "vault" || ref.Path != "app/db#password" {
		t.Fatalf("unexpected ref %+v", ref)
	}
	if _, ok, _ := ParseRef("plain", ""); ok {
		t.Fatalf("plain value detected as reference")
	}
	ref, _, err = ParseRef("secret:///db", "local")
	if err != nil || ref.Provider != "local" || ref.Reference() != "secret://local/db" {
		t.Fatalf("default provider not applied: %+v err=%v", ref, err)
	}
	if _, _, err := ParseRef("secret://vault/", ""); err == nil {
		t.Fatalf("expected missing path error")
	}
}

func TestLoadConfigWrapped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "providers.yaml")
	writeFile(t, path, `
secrets:
  defaultProvider: vault
  providers:
    vault:
      type: vault
      address: https://vault.internal:8200
    local:
      type: file
      path: ./secrets.yaml
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.DefaultProvider != "vault" {
		t.Fatalf("defaultProvider=%q", cfg.DefaultProvider)
	}
	if got := strings.Join(cfg.ProviderNames(), ","); got != "local,vault" {
		t.Fatalf("providers=%s", got)
	}
}

func TestLoadConfigRejectsUnknownType(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "providers.yaml")
	writeFile(t, path, "providers:\n  x:\n    type: carrier-pigeon\n")
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected unsupported type error")
	}
}

func TestValidateHandles(t *testing.T) {
	cfg := Config{Providers: map[string]ProviderConfig{"vault": {Type: "vault"}}}
	err := ValidateHandles(cfg, map[string]string{
		"db-password": "secret://vault/erp/db",
		"admin":       "secret://aws/erp/admin",
		"broken":      "vault/erp",
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Issues) != 2 {
		t.Fatalf("issues=%d want 2: %v", len(verr.Issues), err)
	}
	if verr.Issues[0].Secret != "admin" || verr.Issues[0].Provider != "aws" {
		t.Fatalf("unexpected first issue %+v", verr.Issues[0])
	}
	if verr.Issues[1].Secret != "broken" {
		t.Fatalf("unexpected second issue %+v", verr.Issues[1])
	}
	if !strings.Contains(err.Error(), "hint: configured providers: vault") {
		t.Fatalf("missing hint in %q", err.Error())
	}

	if err := ValidateHandles(Config{}, map[string]string{"x": "secret://any/thing"}); err != nil {
		t.Fatalf("empty config should only check syntax: %v", err)
	}
}

func TestCheckReportsUnknownProvider(t *testing.T) {
	topo := topology.New()
	topo.Secrets["db-password"] = topology.SecretRef{Name: "db-password", Source: topology.SecretSource{Kind: topology.SecretExternal, Handle: "secret://aws/erp/db"}}
	topo.Secrets["admin"] = topology.SecretRef{Name: "admin", Source: topology.SecretSource{Kind: topology.SecretFile, Path: "./admin.txt"}}
	cfg := Config{Providers: map[string]ProviderConfig{"vault": {Type: "vault"}}}

	diags, err := Check(cfg).Run(context.Background(), topo)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(diags) != 1 {
		t.Fatalf("diagnostics=%+v", diags)
	}
	d := diags[0]
	if d.Kind != validate.KindUnknownReference || d.Subject != "secrets/db-password" || !d.Fatal() {
		t.Fatalf("diagnostic=%+v", d)
	}
	if !strings.Contains(d.Hint, "configured providers: vault") {
		t.Fatalf("hint=%q", d.Hint)
	}

	cfg.Providers["aws"] = ProviderConfig{Type: "aws"}
	diags, err = Check(cfg).Run(context.Background(), topo)
	if err != nil || len(diags) != 0 {
		t.Fatalf("diags=%v err=%v", diags, err)
	}
}
