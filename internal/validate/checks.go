// File: internal/validate/checks.go
// Brief: Built-in reference, cycle, conflict, requirement and duplicate checks.

package validate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/example/stackfuse/internal/graph"
	"github.com/example/stackfuse/internal/topology"
)

const defaultNetwork = "default"

func svcTarget(name string) topology.Target {
	return topology.Target{Kind: topology.TargetService, Name: name}
}

func stageTarget(name string) topology.Target {
	return topology.Target{Kind: topology.TargetStage, Name: name}
}

func fragments(ids ...string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func unknownRef(subject topology.Target, path, ref, what string, frags []string) Diagnostic {
	return Diagnostic{
		Kind:      KindUnknownReference,
		Severity:  SeverityFatal,
		Subject:   subject.String(),
		Path:      path,
		Reference: ref,
		Fragments: frags,
		Message:   fmt.Sprintf("%s references unknown %s %q", subject, what, ref),
	}
}

func checkUnknownReferences(topo *topology.Topology, in *Input) []Diagnostic {
	var out []Diagnostic
	for _, name := range topo.ServiceNames() {
		svc := topo.Services[name]
		t := svcTarget(name)
		for _, d := range svc.DependsOn {
			if _, ok := topo.Services[d.Service]; !ok {
				out = append(out, unknownRef(t, "dependsOn", d.Service, "service", fragments(d.Origin)))
			}
		}
		for _, v := range svc.Volumes {
			if !v.IsNamedVolume() {
				continue
			}
			if _, ok := topo.Volumes[v.Source]; !ok {
				out = append(out, unknownRef(t, "volumes", v.Source, "volume", fragments(v.Origin)))
			}
		}
		for _, n := range svc.Networks {
			if n.Name == defaultNetwork {
				continue
			}
			if _, ok := topo.Networks[n.Name]; !ok {
				out = append(out, unknownRef(t, "networks", n.Name, "network", fragments(n.Origin)))
			}
		}
		for _, key := range sortedEnvKeys(svc.Environment) {
			val := svc.Environment[key]
			if !val.IsSecret() {
				continue
			}
			if _, ok := topo.Secrets[val.Secret]; !ok {
				writer := in.Trace.Writer(t, "environment."+key)
				out = append(out, unknownRef(t, "environment."+key, val.Secret, "secret", fragments(writer)))
			}
		}
	}
	for _, name := range topo.StageNames() {
		st := topo.Stages[name]
		t := stageTarget(name)
		if st.Base.Stage != "" {
			if _, ok := topo.Stages[st.Base.Stage]; !ok {
				out = append(out, unknownRef(t, "base", st.Base.Stage, "stage", fragments(in.Trace.Writer(t, "base"))))
			}
		}
		for _, c := range st.Copies {
			if c.From == "" {
				continue
			}
			if _, ok := topo.Stages[c.From]; !ok {
				out = append(out, unknownRef(t, "copies", c.From, "stage", fragments(c.Origin)))
			}
		}
	}
	if in.Catalog != nil {
		known := map[string]struct{}{}
		for _, id := range in.Catalog {
			known[id] = struct{}{}
		}
		for _, f := range in.Applied {
			known[f.ID] = struct{}{}
		}
		for _, f := range in.Applied {
			subject := topology.Target{Kind: "fragments", Name: f.ID}
			for _, id := range f.Requires {
				if _, ok := known[id]; !ok {
					out = append(out, unknownRef(subject, "requires", id, "fragment", []string{f.ID}))
				}
			}
			for _, id := range f.ConflictsWith {
				if _, ok := known[id]; !ok {
					out = append(out, unknownRef(subject, "conflictsWith", id, "fragment", []string{f.ID}))
				}
			}
		}
	}
	return out
}

func checkCycles(topo *topology.Topology, in *Input) []Diagnostic {
	var out []Diagnostic
	svcOrigin := func(from, to string) []string {
		var ids []string
		for _, d := range topo.Services[from].DependsOn {
			if d.Service == to {
				ids = append(ids, d.Origin)
			}
		}
		return ids
	}
	out = append(out, cycleDiagnostics("services", "dependsOn", topo.ServiceGraph(), svcOrigin)...)

	stageOrigin := func(from, to string) []string {
		st := topo.Stages[from]
		var ids []string
		if st.Base.Stage == to {
			ids = append(ids, in.Trace.Writer(stageTarget(from), "base"))
		}
		for _, c := range st.Copies {
			if c.From == to {
				ids = append(ids, c.Origin)
			}
		}
		return ids
	}
	out = append(out, cycleDiagnostics("stages", "base", topo.BuildGraph(), stageOrigin)...)
	return out
}

func cycleDiagnostics(kind, path string, g *graph.Graph, edgeOrigins func(from, to string) []string) []Diagnostic {
	var out []Diagnostic
	for _, cycle := range g.Cycles() {
		var ids []string
		for i := 0; i+1 < len(cycle); i++ {
			ids = append(ids, edgeOrigins(cycle[i], cycle[i+1])...)
		}
		out = append(out, Diagnostic{
			Kind:      KindCycleDetected,
			Severity:  SeverityFatal,
			Subject:   kind,
			Path:      path,
			Cycle:     cycle,
			Fragments: fragments(ids...),
			Message:   fmt.Sprintf("dependency cycle: %s", graph.CycleString(cycle)),
		})
	}
	return out
}

// checkConflicts reports each conflicting pair once, whichever side declared it.
func checkConflicts(_ *topology.Topology, in *Input) []Diagnostic {
	applied := map[string]*topology.Fragment{}
	for _, f := range in.Applied {
		applied[f.ID] = f
	}
	pairs := map[[2]string]struct{}{}
	for _, f := range in.Applied {
		for _, other := range f.ConflictsWith {
			if _, ok := applied[other]; !ok {
				continue
			}
			a, b := f.ID, other
			if b < a {
				a, b = b, a
			}
			pairs[[2]string{a, b}] = struct{}{}
		}
	}
	keys := make([][2]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})
	out := make([]Diagnostic, 0, len(keys))
	for _, k := range keys {
		out = append(out, Diagnostic{
			Kind:      KindFragmentConflict,
			Severity:  SeverityFatal,
			Subject:   "fragments",
			Fragments: []string{k[0], k[1]},
			Message:   fmt.Sprintf("fragments %q and %q are mutually exclusive", k[0], k[1]),
			Hint:      "apply only one of them",
		})
	}
	return out
}

func checkRequirements(_ *topology.Topology, in *Input) []Diagnostic {
	applied := map[string]struct{}{}
	for _, f := range in.Applied {
		applied[f.ID] = struct{}{}
	}
	var out []Diagnostic
	for _, f := range in.Applied {
		for _, req := range f.Requires {
			if _, ok := applied[req]; ok {
				continue
			}
			out = append(out, Diagnostic{
				Kind:      KindMissingRequirement,
				Severity:  SeverityFatal,
				Subject:   "fragments/" + f.ID,
				Path:      "requires",
				Reference: req,
				Fragments: []string{f.ID},
				Message:   fmt.Sprintf("fragment %q requires %q, which is not applied", f.ID, req),
				Hint:      fmt.Sprintf("add fragment %q to the fragment list", req),
			})
		}
	}
	return out
}

// checkIncompleteNodes flags services without an image and stages without a base,
// typically nodes a fragment introduced but never filled in.
func checkIncompleteNodes(topo *topology.Topology, in *Input) []Diagnostic {
	var out []Diagnostic
	for _, name := range topo.ServiceNames() {
		if strings.TrimSpace(topo.Services[name].Image) != "" {
			continue
		}
		t := svcTarget(name)
		out = append(out, Diagnostic{
			Kind:      KindIncompleteNode,
			Severity:  SeverityFatal,
			Subject:   t.String(),
			Path:      "image",
			Fragments: fragments(createdBy(in, t)),
			Message:   fmt.Sprintf("service %q has no image", name),
		})
	}
	for _, name := range topo.StageNames() {
		if !topo.Stages[name].Base.IsZero() {
			continue
		}
		t := stageTarget(name)
		out = append(out, Diagnostic{
			Kind:      KindIncompleteNode,
			Severity:  SeverityFatal,
			Subject:   t.String(),
			Path:      "base",
			Fragments: fragments(createdBy(in, t)),
			Message:   fmt.Sprintf("stage %q has no base stage or image", name),
		})
	}
	return out
}

type keyed struct {
	key    string
	origin string
}

func checkDuplicateAppends(topo *topology.Topology, _ *Input) []Diagnostic {
	var out []Diagnostic
	for _, name := range topo.ServiceNames() {
		svc := topo.Services[name]
		t := svcTarget(name)
		out = append(out, duplicates(t, "ports", mapKeys(svc.Ports, func(p topology.PortSpec) keyed { return keyed{p.Key(), p.Origin} }))...)
		out = append(out, duplicates(t, "volumes", mapKeys(svc.Volumes, func(v topology.VolumeMount) keyed { return keyed{v.Key(), v.Origin} }))...)
		out = append(out, duplicates(t, "networks", mapKeys(svc.Networks, func(n topology.NetworkRef) keyed { return keyed{n.Key(), n.Origin} }))...)
		out = append(out, duplicates(t, "dependsOn", mapKeys(svc.DependsOn, func(d topology.Dependency) keyed { return keyed{d.Key(), d.Origin} }))...)
	}
	for _, name := range topo.StageNames() {
		st := topo.Stages[name]
		out = append(out, duplicates(stageTarget(name), "copies", mapKeys(st.Copies, func(c topology.CopySpec) keyed { return keyed{c.Key(), c.Origin} }))...)
	}
	return out
}

func mapKeys[T any](in []T, fn func(T) keyed) []keyed {
	out := make([]keyed, 0, len(in))
	for _, v := range in {
		out = append(out, fn(v))
	}
	return out
}

func duplicates(t topology.Target, path string, entries []keyed) []Diagnostic {
	origins := map[string][]string{}
	var order []string
	for _, e := range entries {
		if _, ok := origins[e.key]; !ok {
			order = append(order, e.key)
		}
		origin := e.origin
		if origin == "" {
			origin = "base"
		}
		origins[e.key] = append(origins[e.key], origin)
	}
	var out []Diagnostic
	for _, key := range order {
		list := origins[key]
		if len(list) < 2 {
			continue
		}
		last := list[len(list)-1]
		var frags []string
		for _, o := range list {
			if o != "base" {
				frags = append(frags, o)
			}
		}
		out = append(out, Diagnostic{
			Kind:      KindDuplicateAppend,
			Severity:  SeverityWarning,
			Subject:   t.String(),
			Path:      path,
			Reference: key,
			Fragments: fragments(frags...),
			Message:   fmt.Sprintf("%s entry %q is present %d times (from %s); the one from %s wins", path, key, len(list), strings.Join(list, ", "), last),
		})
	}
	return out
}

func checkUnhealthyDependencies(topo *topology.Topology, _ *Input) []Diagnostic {
	var out []Diagnostic
	for _, name := range topo.ServiceNames() {
		for _, d := range topo.Services[name].DependsOn {
			if d.Condition != topology.ConditionHealthy {
				continue
			}
			dep, ok := topo.Services[d.Service]
			if !ok || dep.Healthcheck != nil {
				continue
			}
			out = append(out, Diagnostic{
				Kind:      KindUnhealthyDependency,
				Severity:  SeverityWarning,
				Subject:   svcTarget(name).String(),
				Path:      "dependsOn",
				Reference: d.Service,
				Fragments: fragments(d.Origin),
				Message:   fmt.Sprintf("%q waits for %q to be healthy but %q has no healthcheck", name, d.Service, d.Service),
				Hint:      fmt.Sprintf("add a healthcheck to %q or use condition started", d.Service),
			})
		}
	}
	return out
}

// checkSecretFileVariables warns when a file-mounted secret's <VAR>_FILE
// variable is already set; the mount path replaces that value.
func checkSecretFileVariables(topo *topology.Topology, in *Input) []Diagnostic {
	var out []Diagnostic
	for _, name := range topo.ServiceNames() {
		svc := topo.Services[name]
		t := svcTarget(name)
		for _, key := range sortedEnvKeys(svc.Environment) {
			v := svc.Environment[key]
			if !v.IsSecret() {
				continue
			}
			ref, ok := topo.Secrets[v.Secret]
			if !ok || ref.Source.Kind == topology.SecretInline {
				continue
			}
			fileVar := key + "_FILE"
			if _, taken := svc.Environment[fileVar]; !taken {
				continue
			}
			out = append(out, Diagnostic{
				Kind:      KindEnvCollision,
				Severity:  SeverityWarning,
				Subject:   t.String(),
				Path:      "environment." + fileVar,
				Reference: v.Secret,
				Fragments: fragments(in.Trace.Writer(t, "environment."+key), in.Trace.Writer(t, "environment."+fileVar)),
				Message:   fmt.Sprintf("%s is set, but secret %q is mounted as a file and %s will point at the mount", fileVar, v.Secret, fileVar),
				Hint:      fmt.Sprintf("drop %s from the environment or rename it", fileVar),
			})
		}
	}
	return out
}

func sortedEnvKeys(env map[string]topology.EnvValue) []string {
	out := make([]string, 0, len(env))
	for k := range env {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func createdBy(in *Input, t topology.Target) string {
	if in.Trace == nil {
		return ""
	}
	return in.Trace.Created[t.String()]
}
