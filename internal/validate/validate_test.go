package validate

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/example/stackfuse/internal/merge"
	"github.com/example/stackfuse/internal/topology"
)

func svc(name, image string, deps ...string) *topology.ServiceNode {
	n := &topology.ServiceNode{Name: name, Image: image}
	for _, d := range deps {
		n.DependsOn = append(n.DependsOn, topology.Dependency{Service: d, Condition: topology.ConditionStarted})
	}
	return n
}

func kinds(r *Report) []Kind {
	var out []Kind
	for _, d := range r.Diagnostics {
		out = append(out, d.Kind)
	}
	return out
}

func TestValidateCleanTopology(t *testing.T) {
	topo := topology.New()
	topo.Services["db"] = svc("db", "mariadb:10.6")
	topo.Services["backend"] = svc("backend", "frappe/erpnext:v15", "db")

	report, v, err := Validate(context.Background(), topo, Input{})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(report.Diagnostics) != 0 {
		t.Fatalf("unexpected diagnostics: %v", report.Diagnostics)
	}
	if v == nil {
		t.Fatalf("expected validated topology")
	}
	got := v.Topology()
	got.Services["db"].Image = "changed"
	if v.Topology().Services["db"].Image != "mariadb:10.6" {
		t.Fatalf("Validated.Topology must return a copy")
	}
}

func TestValidateReportsCyclePath(t *testing.T) {
	topo := topology.New()
	topo.Services["a"] = svc("a", "img", "b")
	topo.Services["b"] = svc("b", "img", "c")
	topo.Services["c"] = svc("c", "img", "a")

	report, v, err := Validate(context.Background(), topo, Input{})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if v != nil {
		t.Fatalf("cyclic topology must not validate")
	}
	fatals := report.Fatals()
	if len(fatals) != 1 || fatals[0].Kind != KindCycleDetected {
		t.Fatalf("fatals=%v", fatals)
	}
	if want := []string{"a", "b", "c", "a"}; !reflect.DeepEqual(fatals[0].Cycle, want) {
		t.Fatalf("cycle=%v want %v", fatals[0].Cycle, want)
	}
}

func TestValidateReportsEveryCycleThroughSharedNode(t *testing.T) {
	topo := topology.New()
	topo.Services["a"] = svc("a", "img", "b", "c")
	topo.Services["b"] = svc("b", "img", "a")
	topo.Services["c"] = svc("c", "img", "a")

	report, _, err := Validate(context.Background(), topo, Input{})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	var got [][]string
	for _, d := range report.Fatals() {
		if d.Kind == KindCycleDetected {
			got = append(got, d.Cycle)
		}
	}
	want := [][]string{{"a", "b", "a"}, {"a", "c", "a"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("cycles=%v want=%v", got, want)
	}
}

func TestValidateConflictReportedOnce(t *testing.T) {
	topo := topology.New()
	topo.Services["db"] = svc("db", "mariadb:10.6")
	applied := []*topology.Fragment{
		{ID: "mariadb", ConflictsWith: []string{"postgres"}},
		{ID: "postgres", ConflictsWith: []string{"mariadb"}},
	}
	report, v, err := Validate(context.Background(), topo, Input{Applied: applied})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if v != nil {
		t.Fatalf("conflicting fragments must not validate")
	}
	if got := kinds(report); !reflect.DeepEqual(got, []Kind{KindFragmentConflict}) {
		t.Fatalf("kinds=%v", got)
	}
	if want := []string{"mariadb", "postgres"}; !reflect.DeepEqual(report.Diagnostics[0].Fragments, want) {
		t.Fatalf("fragments=%v", report.Diagnostics[0].Fragments)
	}

	// One-sided declaration gives the same finding.
	applied[1].ConflictsWith = nil
	report, _, err = Validate(context.Background(), topo, Input{Applied: applied})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(report.Fatals()) != 1 {
		t.Fatalf("fatals=%v", report.Fatals())
	}

	// Same pair, declaring fragment applied last.
	reversed := []*topology.Fragment{
		{ID: "postgres"},
		{ID: "mariadb", ConflictsWith: []string{"postgres"}},
	}
	report, v, err = Validate(context.Background(), topo, Input{Applied: reversed})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if v != nil || !reflect.DeepEqual(kinds(report), []Kind{KindFragmentConflict}) {
		t.Fatalf("reversed order: kinds=%v", kinds(report))
	}
	if want := []string{"mariadb", "postgres"}; !reflect.DeepEqual(report.Diagnostics[0].Fragments, want) {
		t.Fatalf("reversed order: fragments=%v", report.Diagnostics[0].Fragments)
	}
}

func TestValidateMissingRequirement(t *testing.T) {
	topo := topology.New()
	topo.Services["frontend"] = svc("frontend", "nginx")
	applied := []*topology.Fragment{{ID: "https", Requires: []string{"proxy"}}}
	report, v, err := Validate(context.Background(), topo, Input{Applied: applied, Catalog: []string{"https", "proxy"}})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if v != nil || len(report.Diagnostics) != 1 {
		t.Fatalf("diagnostics=%v", report.Diagnostics)
	}
	d := report.Diagnostics[0]
	if d.Kind != KindMissingRequirement || d.Reference != "proxy" {
		t.Fatalf("diagnostic=%+v", d)
	}
}

func TestValidateUnknownCatalogID(t *testing.T) {
	topo := topology.New()
	topo.Services["frontend"] = svc("frontend", "nginx")
	applied := []*topology.Fragment{{ID: "https", ConflictsWith: []string{"tls-legacy"}}}

	report, _, err := Validate(context.Background(), topo, Input{Applied: applied})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(report.Diagnostics) != 0 {
		t.Fatalf("no catalog means no existence check: %v", report.Diagnostics)
	}
	report, _, err = Validate(context.Background(), topo, Input{Applied: applied, Catalog: []string{"https"}})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := kinds(report); !reflect.DeepEqual(got, []Kind{KindUnknownReference}) {
		t.Fatalf("kinds=%v", got)
	}
}

func TestValidateUnknownReferences(t *testing.T) {
	topo := topology.New()
	be := svc("backend", "frappe/erpnext:v15", "redis")
	be.Volumes = []topology.VolumeMount{{Source: "sites", Target: "/sites"}, {Source: "./logs", Target: "/logs"}}
	be.Networks = []topology.NetworkRef{{Name: "default"}, {Name: "internal"}}
	be.Environment = map[string]topology.EnvValue{"DB_PASSWORD": topology.SecretEnv("db-password")}
	topo.Services["backend"] = be
	topo.Stages["final"] = &topology.BuildStage{
		Name:   "final",
		Base:   topology.StageBase{Image: "python:3.11-slim"},
		Copies: []topology.CopySpec{{From: "builder", Src: "/out", Dst: "/app", Origin: "custom-apps"}},
	}
	trace := &merge.Trace{Provenance: topology.Provenance{
		topology.FieldAddress(topology.Target{Kind: topology.TargetService, Name: "backend"}, "environment.DB_PASSWORD"): "mariadb",
	}}

	report, v, err := Validate(context.Background(), topo, Input{Trace: trace})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if v != nil {
		t.Fatalf("dangling references must not validate")
	}
	var refs []string
	for _, d := range report.Diagnostics {
		if d.Kind != KindUnknownReference {
			t.Fatalf("unexpected kind %s", d.Kind)
		}
		refs = append(refs, d.Reference)
	}
	want := []string{"redis", "sites", "internal", "db-password", "builder"}
	if !reflect.DeepEqual(refs, want) {
		t.Fatalf("references=%v want %v", refs, want)
	}
	if got := report.Diagnostics[3].Fragments; !reflect.DeepEqual(got, []string{"mariadb"}) {
		t.Fatalf("secret reference fragments=%v", got)
	}
	if got := report.Diagnostics[4].Fragments; !reflect.DeepEqual(got, []string{"custom-apps"}) {
		t.Fatalf("copy source fragments=%v", got)
	}
}

func TestValidateDuplicateAppendIsWarning(t *testing.T) {
	topo := topology.New()
	be := svc("backend", "frappe/erpnext:v15")
	be.Ports = []topology.PortSpec{
		{ContainerPort: 8000, Protocol: topology.ProtocolTCP},
		{ContainerPort: 8000, Protocol: topology.ProtocolTCP, Origin: "proxy"},
	}
	topo.Services["backend"] = be

	report, v, err := Validate(context.Background(), topo, Input{})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if v == nil {
		t.Fatalf("warnings alone must still validate")
	}
	ws := v.Warnings()
	if len(ws) != 1 || ws[0].Kind != KindDuplicateAppend || ws[0].Reference != "8000/tcp" {
		t.Fatalf("warnings=%v", ws)
	}
	if fatal, warn := report.Counts(); fatal != 0 || warn != 1 {
		t.Fatalf("counts=%d/%d", fatal, warn)
	}
}

func TestValidateIncompleteAndUnhealthy(t *testing.T) {
	topo := topology.New()
	topo.Services["backend"] = &topology.ServiceNode{
		Name:      "backend",
		Image:     "frappe/erpnext:v15",
		DependsOn: []topology.Dependency{{Service: "db", Condition: topology.ConditionHealthy}},
	}
	topo.Services["db"] = &topology.ServiceNode{Name: "db"}
	trace := &merge.Trace{Created: map[string]string{"services/db": "mariadb"}}

	report, _, err := Validate(context.Background(), topo, Input{Trace: trace})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := kinds(report); !reflect.DeepEqual(got, []Kind{KindIncompleteNode, KindUnhealthyDependency}) {
		t.Fatalf("kinds=%v", got)
	}
	if got := report.Diagnostics[0].Fragments; !reflect.DeepEqual(got, []string{"mariadb"}) {
		t.Fatalf("incomplete node fragments=%v", got)
	}
}

func TestValidateExtraChecks(t *testing.T) {
	topo := topology.New()
	topo.Services["db"] = svc("db", "mariadb:10.6")
	policy := Check{Name: "policy", Run: func(context.Context, *topology.Topology) ([]Diagnostic, error) {
		return []Diagnostic{{Kind: KindPolicyViolation, Severity: SeverityFatal, Message: "latest tag"}}, nil
	}}
	report, v, err := Validate(context.Background(), topo, Input{Checks: []Check{policy}})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if v != nil || len(report.Fatals()) != 1 {
		t.Fatalf("policy violation must block validation: %v", report.Diagnostics)
	}

	broken := Check{Name: "secrets", Run: func(context.Context, *topology.Topology) ([]Diagnostic, error) {
		return nil, errors.New("boom")
	}}
	if _, _, err := Validate(context.Background(), topo, Input{Checks: []Check{broken}}); err == nil {
		t.Fatalf("expected check error")
	}
}

func TestValidateHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, v, err := Validate(ctx, topology.New(), Input{})
	if !errors.Is(err, context.Canceled) || report != nil || v != nil {
		t.Fatalf("expected cancellation, got report=%v v=%v err=%v", report, v, err)
	}
}

func TestValidateSecretFileVariableCollision(t *testing.T) {
	topo := topology.New()
	backend := svc("backend", "frappe/erpnext:v15")
	backend.Environment = map[string]topology.EnvValue{
		"DB_PASSWORD":      topology.SecretEnv("db-password"),
		"DB_PASSWORD_FILE": topology.Literal("/etc/app/db-password"),
		"API_KEY":          topology.SecretEnv("api-key"),
		"API_KEY_FILE":     topology.Literal("/etc/app/api-key"),
	}
	topo.Services["backend"] = backend
	topo.Secrets["db-password"] = topology.SecretRef{Name: "db-password", Source: topology.SecretSource{Kind: topology.SecretFile, Path: "./db.txt"}}
	topo.Secrets["api-key"] = topology.SecretRef{Name: "api-key", Source: topology.SecretSource{Kind: topology.SecretInline, Value: "k"}}

	report, v, err := Validate(context.Background(), topo, Input{})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if v == nil {
		t.Fatalf("a collision is only a warning")
	}
	if got := kinds(report); !reflect.DeepEqual(got, []Kind{KindEnvCollision}) {
		t.Fatalf("kinds=%v", got)
	}
	if d := report.Diagnostics[0]; d.Path != "environment.DB_PASSWORD_FILE" || d.Reference != "db-password" {
		t.Fatalf("diagnostic=%+v", d)
	}
}
