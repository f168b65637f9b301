package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/example/stackfuse/internal/loader"
	"github.com/example/stackfuse/internal/policy"
	"github.com/example/stackfuse/internal/secrets"
	"github.com/example/stackfuse/internal/topology"
	"github.com/example/stackfuse/internal/validate"
	"github.com/go-logr/logr"
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

const base = `
kind: Topology
services:
  backend:
    image: frappe/erpnext:v15.38.0
    ports: ["8000"]
  frontend:
    image: frappe/erpnext:v15.38.0
    dependsOn: [backend]
`

const mariadb = `
kind: Fragment
id: mariadb
targets: [db, backend]
volumes:
  db-data: {}
secrets:
  db-password: {inline: admin}
ops:
  - {target: db, op: set, path: image, value: "mariadb:10.6"}
  - {target: db, op: append, path: volumes, value: "db-data:/var/lib/mysql"}
  - {target: db, op: set, path: healthcheck, value: {test: [CMD, healthcheck.sh, --connect], interval: 5s}}
  - {target: db, op: merge, path: environment, value: {MYSQL_ROOT_PASSWORD: {secret: db-password}}}
  - {target: backend, op: append, path: dependsOn, value: {service: db, condition: healthy}}
`

func TestRunComposesAndResolves(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "base.yaml"), base)
	writeFile(t, filepath.Join(dir, "mariadb.yaml"), mariadb)

	res, err := Run(context.Background(), Options{
		BaseFile:      filepath.Join(dir, "base.yaml"),
		FragmentFiles: []string{filepath.Join(dir, "mariadb.yaml")},
		Logger:        logr.Discard(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Ordered == nil {
		t.Fatalf("expected ordered topology")
	}
	if !reflect.DeepEqual(res.Ordered.StartOrder, []string{"db", "backend", "frontend"}) {
		t.Fatalf("start order=%v", res.Ordered.StartOrder)
	}
	if !reflect.DeepEqual(res.Applied, []string{"mariadb"}) {
		t.Fatalf("applied=%v", res.Applied)
	}
	if !strings.HasPrefix(res.InputDigest, "sha256:") {
		t.Fatalf("digest=%q", res.InputDigest)
	}
}

func TestRunReportsFindings(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "base.yaml"), base)
	writeFile(t, filepath.Join(dir, "cycle.yaml"), `
kind: Fragment
id: cycle
targets: [backend]
ops:
  - {op: append, path: dependsOn, value: frontend}
`)
	res, err := Run(context.Background(), Options{
		BaseFile:      filepath.Join(dir, "base.yaml"),
		FragmentFiles: []string{filepath.Join(dir, "cycle.yaml")},
	})
	var findings *FindingsError
	if !errors.As(err, &findings) {
		t.Fatalf("expected FindingsError, got %v", err)
	}
	if res == nil || res.Ordered != nil || res.Report == nil {
		t.Fatalf("result=%+v", res)
	}
	fatals := findings.Report.Fatals()
	if len(fatals) != 1 || fatals[0].Kind != validate.KindCycleDetected {
		t.Fatalf("fatals=%+v", fatals)
	}
}

func TestRunRejectsDuplicateStages(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "base.yaml"), "kind: Topology\nstages:\n  - {name: base, base: python:3.11.6-slim-bookworm}\n")
	writeFile(t, filepath.Join(dir, "build.yaml"), "kind: BuildGraph\nstages:\n  - {name: base, base: debian:bookworm}\n")
	_, err := Run(context.Background(), Options{
		BaseFile:  filepath.Join(dir, "base.yaml"),
		BuildFile: filepath.Join(dir, "build.yaml"),
	})
	if err == nil || !strings.Contains(err.Error(), `"base"`) {
		t.Fatalf("expected duplicate stage error, got %v", err)
	}
}

func TestRunProviderCheck(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "base.yaml"), base)
	writeFile(t, filepath.Join(dir, "secrets.yaml"), "kind: Secrets\nsecrets:\n  api-key: {external: secret://aws/prod/api}\n")
	writeFile(t, filepath.Join(dir, "providers.yaml"), "secrets:\n  defaultProvider: vault\n  providers:\n    vault: {type: vault, address: https://vault.internal:8200}\n")

	_, err := Run(context.Background(), Options{
		BaseFile:      filepath.Join(dir, "base.yaml"),
		SecretsFile:   filepath.Join(dir, "secrets.yaml"),
		ProvidersFile: filepath.Join(dir, "providers.yaml"),
	})
	var findings *FindingsError
	if !errors.As(err, &findings) {
		t.Fatalf("expected FindingsError, got %v", err)
	}
	fatals := findings.Report.Fatals()
	if len(fatals) != 1 || fatals[0].Subject != "secrets/api-key" {
		t.Fatalf("fatals=%+v", fatals)
	}
}

func TestInputDigestIgnoresFileLocation(t *testing.T) {
	a, err := loader.ParseFragment("/a/mariadb.yaml", []byte(mariadb))
	if err != nil {
		t.Fatalf("ParseFragment: %v", err)
	}
	b, err := loader.ParseFragment("/b/mariadb.yaml", []byte(mariadb))
	if err != nil {
		t.Fatalf("ParseFragment: %v", err)
	}
	topo, err := loader.ParseTopology("base.yaml", []byte(base))
	if err != nil {
		t.Fatalf("ParseTopology: %v", err)
	}
	da, err := InputDigest(topo, []*topology.Fragment{a}, nil)
	if err != nil {
		t.Fatalf("InputDigest: %v", err)
	}
	db, _ := InputDigest(topo, []*topology.Fragment{b}, nil)
	if da != db {
		t.Fatalf("digest depends on file location: %s != %s", da, db)
	}
	dc, _ := InputDigest(topo, []*topology.Fragment{a}, map[string]string{"PYTHON_VERSION": "3.12"})
	if dc == da {
		t.Fatalf("build args not part of the digest")
	}
}

func TestRunSecretScan(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "base.yaml"), `
kind: Topology
services:
  api:
    image: ghcr.io/example/api:1.4.2
    environment:
      API_TOKEN: a8F3kq9Zx2Lm7Pw4Rt6Yb1Nc5Vd0Hs8J
`)
	res, err := Run(context.Background(), Options{BaseFile: filepath.Join(dir, "base.yaml")})
	if err != nil {
		t.Fatalf("Run in warn mode: %v", err)
	}
	if w := res.Report.Warnings(); len(w) != 1 || w[0].Kind != validate.KindSecretLiteral {
		t.Fatalf("warnings=%+v", w)
	}

	_, err = Run(context.Background(), Options{BaseFile: filepath.Join(dir, "base.yaml"), SecretScan: secrets.ModeBlock})
	var findings *FindingsError
	if !errors.As(err, &findings) {
		t.Fatalf("expected FindingsError in block mode, got %v", err)
	}

	res, err = Run(context.Background(), Options{BaseFile: filepath.Join(dir, "base.yaml"), SecretScan: secrets.ModeOff})
	if err != nil || len(res.Report.Diagnostics) != 0 {
		t.Fatalf("off mode: err=%v diags=%+v", err, res.Report.Diagnostics)
	}
}

func TestRunDeliversPolicyReportAfterValidation(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "base.yaml"), base)
	writeFile(t, filepath.Join(dir, "policy", "frontend.rego"), `
package stackfuse.topology

deny[msg] {
  svc := input.services["frontend"]
  not svc.hasHealthcheck
  msg := {"code": "NO_HEALTHCHECK", "message": "frontend has no healthcheck", "subject": "services/frontend"}
}
`)
	var delivered *policy.Report
	res, err := Run(context.Background(), Options{
		BaseFile:     filepath.Join(dir, "base.yaml"),
		PolicyRef:    filepath.Join(dir, "policy"),
		PolicyReport: func(rep *policy.Report) { delivered = rep },
		Logger:       logr.Discard(),
	})
	var findings *FindingsError
	if !errors.As(err, &findings) {
		t.Fatalf("expected findings, got %v", err)
	}
	if fatals := res.Report.Fatals(); len(fatals) != 1 || fatals[0].Kind != validate.KindPolicyViolation {
		t.Fatalf("fatals=%v", fatals)
	}
	if delivered == nil || delivered.DenyCount != 1 || delivered.Mode != policy.ModeEnforce {
		t.Fatalf("policy report=%+v", delivered)
	}
}

func TestRunLoadsCheckInputsBeforeComposing(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "base.yaml"), base)
	writeFile(t, filepath.Join(dir, "providers.yaml"), "providers: [not, a, map]\n")

	res, err := Run(context.Background(), Options{
		BaseFile:      filepath.Join(dir, "base.yaml"),
		ProvidersFile: filepath.Join(dir, "providers.yaml"),
		Logger:        logr.Discard(),
	})
	if err == nil || res != nil {
		t.Fatalf("expected provider config error without a result, got res=%v err=%v", res, err)
	}

	_, err = Run(context.Background(), Options{
		BaseFile:  filepath.Join(dir, "base.yaml"),
		PolicyRef: filepath.Join(dir, "missing"),
		Logger:    logr.Discard(),
	})
	if err == nil || !strings.Contains(err.Error(), "load policy bundle") {
		t.Fatalf("expected policy bundle error, got %v", err)
	}
}
