package topology

import "testing"

func TestCloneIsIndependent(t *testing.T) {
	def := "3.11"
	orig := New()
	orig.Services["backend"] = &ServiceNode{
		Name:        "backend",
		Image:       "frappe/erpnext:v15",
		Ports:       []PortSpec{{ContainerPort: 8000, Protocol: ProtocolTCP}},
		Environment: map[string]EnvValue{"DB_HOST": Literal("db")},
		Healthcheck: &Healthcheck{Test: []string{"CMD", "true"}},
	}
	orig.Stages["base"] = &BuildStage{Name: "base", Args: map[string]*string{"PYTHON_VERSION": &def}}

	cp := orig.Clone()
	cp.Services["backend"].Ports[0].ContainerPort = 9000
	cp.Services["backend"].Environment["DB_HOST"] = Literal("postgres")
	cp.Services["backend"].Healthcheck.Test[1] = "false"
	*cp.Stages["base"].Args["PYTHON_VERSION"] = "3.12"
	cp.Services["new"] = &ServiceNode{Name: "new"}

	svc := orig.Services["backend"]
	if svc.Ports[0].ContainerPort != 8000 {
		t.Fatalf("port leaked into original: %d", svc.Ports[0].ContainerPort)
	}
	if svc.Environment["DB_HOST"].Literal != "db" {
		t.Fatalf("environment leaked into original: %+v", svc.Environment)
	}
	if svc.Healthcheck.Test[1] != "true" {
		t.Fatalf("healthcheck leaked into original: %v", svc.Healthcheck.Test)
	}
	if *orig.Stages["base"].Args["PYTHON_VERSION"] != "3.11" {
		t.Fatalf("build arg leaked into original")
	}
	if _, ok := orig.Services["new"]; ok {
		t.Fatalf("new service leaked into original")
	}
}

func TestParseTarget(t *testing.T) {
	cases := []struct {
		in      string
		want    Target
		wantErr bool
	}{
		{in: "backend", want: Target{Kind: TargetService, Name: "backend"}},
		{in: "services/db", want: Target{Kind: TargetService, Name: "db"}},
		{in: "stages/build", want: Target{Kind: TargetStage, Name: "build"}},
		{in: "", wantErr: true},
		{in: "jobs/x", wantErr: true},
		{in: "stages/", wantErr: true},
		{in: "stages/a/b", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseTarget(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseTarget(%q): expected error, got %+v", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseTarget(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseTarget(%q)=%+v want %+v", tc.in, got, tc.want)
		}
	}
}

func TestLookupPath(t *testing.T) {
	f, err := LookupPath(TargetService, "environment.DB_HOST")
	if err != nil {
		t.Fatalf("LookupPath: %v", err)
	}
	if f.Kind != FieldMappingKey || f.Name != "environment" || f.Key != "DB_HOST" {
		t.Fatalf("unexpected field %+v", f)
	}
	if !f.Allows(OpSet) || f.Allows(OpAppend) {
		t.Fatalf("unexpected op set for %s", f)
	}

	dep, err := LookupPath(TargetService, "dependsOn")
	if err != nil {
		t.Fatalf("LookupPath dependsOn: %v", err)
	}
	if !dep.Allows(OpMerge) || !dep.Allows(OpAppend) || dep.Allows(OpSet) {
		t.Fatalf("unexpected ops for dependsOn")
	}

	ports, _ := LookupPath(TargetService, "ports")
	if ports.Allows(OpMerge) {
		t.Fatalf("ports must not allow merge")
	}

	for _, bad := range []string{"name", "ports.0", "environment.", "copies"} {
		if _, err := LookupPath(TargetService, bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
	if _, err := LookupPath(TargetStage, "copies"); err != nil {
		t.Fatalf("stage copies: %v", err)
	}
}

func TestSequenceKeys(t *testing.T) {
	if got := (PortSpec{ContainerPort: 80}).Key(); got != "80/tcp" {
		t.Fatalf("port key=%q", got)
	}
	if (VolumeMount{Source: "./sites"}).IsNamedVolume() {
		t.Fatalf("relative path treated as named volume")
	}
	if !(VolumeMount{Source: "sites"}).IsNamedVolume() {
		t.Fatalf("named volume not detected")
	}
}
