package resolve

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/example/stackfuse/internal/merge"
	"github.com/example/stackfuse/internal/topology"
	"github.com/example/stackfuse/internal/validate"
)

func validated(t *testing.T, base *topology.Topology, frags ...*topology.Fragment) *validate.Validated {
	t.Helper()
	topo, trace, err := merge.Compose(context.Background(), base, frags)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	report, v, err := validate.Validate(context.Background(), topo, validate.Input{Applied: frags, Trace: trace})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if v == nil {
		t.Fatalf("unexpected fatal findings: %v", report.Fatals())
	}
	return v
}

func mariadbScenario() (*topology.Topology, *topology.Fragment) {
	base := topology.New()
	base.Services["backend"] = &topology.ServiceNode{
		Name:        "backend",
		Image:       "frappe/erpnext:v15",
		Environment: map[string]topology.EnvValue{"DB_HOST": topology.Literal("db")},
	}
	base.Services["frontend"] = &topology.ServiceNode{
		Name:      "frontend",
		Image:     "frappe/erpnext:v15",
		DependsOn: []topology.Dependency{{Service: "backend", Condition: topology.ConditionStarted}},
	}
	frag := &topology.Fragment{
		ID:      "mariadb",
		Targets: []string{"services/db", "services/backend"},
		Secrets: map[string]topology.SecretRef{
			"db-password": {Name: "db-password", Source: topology.SecretSource{Kind: topology.SecretFile, Path: "./secrets/db.txt"}},
		},
		Ops: []topology.PatchOp{
			{Target: "services/db", Path: "image", Op: topology.OpSet, Value: "mariadb:10.6"},
			{Target: "services/db", Path: "healthcheck", Op: topology.OpSet, Value: &topology.Healthcheck{Test: []string{"CMD", "healthcheck.sh", "--connect"}, Retries: 15}},
			{Target: "services/backend", Path: "dependsOn", Op: topology.OpAppend, Value: topology.Dependency{Service: "db", Condition: topology.ConditionHealthy}},
			{Target: "services/backend", Path: "environment.DB_PASSWORD", Op: topology.OpSet, Value: topology.SecretEnv("db-password")},
		},
	}
	return base, frag
}

func TestResolveMariaDBScenario(t *testing.T) {
	base, frag := mariadbScenario()
	ot, err := Resolve(validated(t, base, frag), Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if want := []string{"db", "backend", "frontend"}; !reflect.DeepEqual(ot.StartOrder, want) {
		t.Fatalf("start order=%v want %v", ot.StartOrder, want)
	}
	if want := [][]string{{"db"}, {"backend"}, {"frontend"}}; !reflect.DeepEqual(ot.StartGroups, want) {
		t.Fatalf("groups=%v want %v", ot.StartGroups, want)
	}
	if want := []Gate{{Service: "backend", WaitsFor: "db", Condition: topology.ConditionHealthy}}; !reflect.DeepEqual(ot.Gates, want) {
		t.Fatalf("gates=%v want %v", ot.Gates, want)
	}
	want := []SecretInjection{{
		Service:  "backend",
		Variable: "DB_PASSWORD",
		Secret:   "db-password",
		Source:   topology.SecretFile,
		Mode:     InjectFile,
		Target:   "/run/secrets/db-password",
	}}
	if !reflect.DeepEqual(ot.Injections, want) {
		t.Fatalf("injections=%+v want %+v", ot.Injections, want)
	}
	if !ot.Validated() {
		t.Fatalf("resolved topology must carry the validated marker")
	}
}

func TestResolveIndependentServicesByName(t *testing.T) {
	base := topology.New()
	for _, n := range []string{"websocket", "scheduler", "queue-short"} {
		base.Services[n] = &topology.ServiceNode{Name: n, Image: "frappe/erpnext:v15"}
	}
	ot, err := Resolve(validated(t, base), Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if want := []string{"queue-short", "scheduler", "websocket"}; !reflect.DeepEqual(ot.StartOrder, want) {
		t.Fatalf("start order=%v want %v", ot.StartOrder, want)
	}
}

func TestResolveBuildOrderAndArgs(t *testing.T) {
	branch := "version-15"
	base := topology.New()
	base.Stages["final"] = &topology.BuildStage{
		Name:   "final",
		Base:   topology.StageBase{Stage: "base"},
		Copies: []topology.CopySpec{{From: "build", Src: "/home/frappe/frappe-bench", Dst: "/home/frappe/frappe-bench"}},
	}
	base.Stages["build"] = &topology.BuildStage{
		Name: "build",
		Base: topology.StageBase{Stage: "base"},
		Args: map[string]*string{"FRAPPE_BRANCH": &branch, "APPS_JSON_BASE64": nil, "PYTHON_VERSION": nil},
	}
	base.Stages["base"] = &topology.BuildStage{Name: "base", Base: topology.StageBase{Image: "debian:bookworm-slim"}}

	ot, err := Resolve(validated(t, base), Options{BuildArgs: map[string]string{"PYTHON_VERSION": "3.11.6", "UNUSED": "x"}})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if want := []string{"base", "build", "final"}; !reflect.DeepEqual(ot.BuildOrder, want) {
		t.Fatalf("build order=%v want %v", ot.BuildOrder, want)
	}
	args := ot.StageArgs["build"]
	if len(args) != 3 {
		t.Fatalf("args=%+v", args)
	}
	if args[0].Name != "APPS_JSON_BASE64" || args[0].Source != ArgUnset || args[0].Value != nil {
		t.Fatalf("unset arg=%+v", args[0])
	}
	if args[1].Source != ArgDefault || *args[1].Value != "version-15" {
		t.Fatalf("default arg=%+v", args[1])
	}
	if args[2].Source != ArgCaller || *args[2].Value != "3.11.6" {
		t.Fatalf("caller arg=%+v", args[2])
	}
}

func TestResolveDedupesLastWins(t *testing.T) {
	base := topology.New()
	base.Services["backend"] = &topology.ServiceNode{
		Name:  "backend",
		Image: "frappe/erpnext:v15",
		Ports: []topology.PortSpec{{ContainerPort: 8000}, {ContainerPort: 9000}, {ContainerPort: 8000, Protocol: topology.ProtocolTCP, Origin: "proxy"}},
	}
	ot, err := Resolve(validated(t, base), Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := []topology.PortSpec{
		{ContainerPort: 9000, Protocol: topology.ProtocolTCP},
		{ContainerPort: 8000, Protocol: topology.ProtocolTCP, Origin: "proxy"},
	}
	if got := ot.Service("backend").Ports; !reflect.DeepEqual(got, want) {
		t.Fatalf("ports=%+v want %+v", got, want)
	}
}

func TestResolveRequiresValidated(t *testing.T) {
	if _, err := Resolve(nil, Options{}); !errors.Is(err, ErrNotValidated) {
		t.Fatalf("expected ErrNotValidated, got %v", err)
	}
	var ot *OrderedTopology
	if ot.Validated() {
		t.Fatalf("nil topology reported validated")
	}
}

func TestPrintGraph(t *testing.T) {
	base, frag := mariadbScenario()
	ot, err := Resolve(validated(t, base, frag), Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	var buf bytes.Buffer
	if err := PrintGraphMermaid(&buf, ot, GraphServices); err != nil {
		t.Fatalf("PrintGraphMermaid: %v", err)
	}
	if !strings.Contains(buf.String(), "db --> backend") {
		t.Fatalf("mermaid output missing edge:\n%s", buf.String())
	}
	buf.Reset()
	if err := PrintGraphDOT(&buf, ot, "bogus"); err == nil {
		t.Fatalf("expected error for unknown graph kind")
	}
}
