package compose

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/example/stackfuse/internal/resolve"
	"github.com/example/stackfuse/internal/topology"
	"github.com/example/stackfuse/internal/validate"
)

func composePath() string {
	return filepath.Join("testdata", "docker-compose.yml")
}

func TestImportTopology(t *testing.T) {
	topo, err := ImportTopology([]string{composePath()}, "testproj")
	if err != nil {
		t.Fatalf("ImportTopology: %v", err)
	}
	if len(topo.Services) != 2 {
		t.Fatalf("expected 2 services, got %d", len(topo.Services))
	}
	be := topo.Services["backend"]
	if be.Image != "frappe/erpnext:v15.38.0" {
		t.Fatalf("image=%q", be.Image)
	}
	if want := []string{"bench", "serve", "--port", "8000"}; !reflect.DeepEqual(be.Command, want) {
		t.Fatalf("command=%v want %v", be.Command, want)
	}
	if want := []topology.Dependency{{Service: "db", Condition: topology.ConditionHealthy}}; !reflect.DeepEqual(be.DependsOn, want) {
		t.Fatalf("dependsOn=%+v want %+v", be.DependsOn, want)
	}
	if len(be.Ports) != 1 || be.Ports[0].ContainerPort != 8000 || be.Ports[0].Protocol != topology.ProtocolTCP {
		t.Fatalf("ports=%+v", be.Ports)
	}
	if be.Environment["DB_HOST"].Literal != "db" {
		t.Fatalf("environment=%+v", be.Environment)
	}
	if len(be.Volumes) != 2 || be.Volumes[0].Source != "sites" || be.Volumes[1].Mode != topology.VolumeModeRO {
		t.Fatalf("volumes=%+v", be.Volumes)
	}
	db := topo.Services["db"]
	if db.Healthcheck == nil || db.Healthcheck.Retries != 15 {
		t.Fatalf("healthcheck=%+v", db.Healthcheck)
	}
	if _, ok := topo.Volumes["sites"]; !ok {
		t.Fatalf("volume sites missing: %v", topo.Volumes)
	}
	if s := topo.Secrets["db-password"]; s.Source.Kind != topology.SecretFile {
		t.Fatalf("secret=%+v", s)
	}
}

func TestImportTopologyRequiresFiles(t *testing.T) {
	if _, err := ImportTopology(nil, ""); err == nil {
		t.Fatalf("expected error without files")
	}
}

func TestToProject(t *testing.T) {
	topo, err := ImportTopology([]string{composePath()}, "testproj")
	if err != nil {
		t.Fatalf("ImportTopology: %v", err)
	}
	topo.Services["backend"].Environment["DB_PASSWORD"] = topology.SecretEnv("db-password")
	_, v, err := validate.Validate(context.Background(), topo, validate.Input{})
	if err != nil || v == nil {
		t.Fatalf("Validate: v=%v err=%v", v, err)
	}
	ot, err := resolve.Resolve(v, resolve.Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	project, err := ToProject(ot, "erpnext")
	if err != nil {
		t.Fatalf("ToProject: %v", err)
	}
	be := project.Services["backend"]
	if got := be.Environment["DB_PASSWORD_FILE"]; got == nil || *got != "/run/secrets/db-password" {
		t.Fatalf("DB_PASSWORD_FILE=%v", got)
	}
	if _, ok := be.Environment["DB_PASSWORD"]; ok {
		t.Fatalf("file secret must not be injected as a value")
	}
	if len(be.Secrets) != 1 || be.Secrets[0].Source != "db-password" {
		t.Fatalf("secrets=%+v", be.Secrets)
	}
	if dep := be.DependsOn["db"]; dep.Condition != "service_healthy" {
		t.Fatalf("depends_on=%+v", be.DependsOn)
	}
	if _, ok := project.Secrets["db-password"]; !ok {
		t.Fatalf("project secret missing")
	}

	if _, err := ToProject(nil, "x"); err == nil {
		t.Fatalf("expected error for unresolved topology")
	}
}
