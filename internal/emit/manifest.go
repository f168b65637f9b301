package emit

import (
	"github.com/example/stackfuse/internal/resolve"
	"github.com/example/stackfuse/internal/topology"
)

// Documents are built as generic trees so both encoders sort mapping keys.
type tree = map[string]any

func manifest(ot *resolve.OrderedTopology) tree {
	services := make([]any, 0, len(ot.Services))
	for _, svc := range ot.Services {
		services = append(services, serviceTree(svc, ot))
	}
	doc := tree{
		"apiVersion":  APIVersion,
		"kind":        "Manifest",
		"fragments":   stringsOrEmpty(ot.Applied),
		"services":    services,
		"startGroups": groupsOrEmpty(ot.StartGroups),
	}
	if len(ot.Gates) > 0 {
		gates := make([]any, 0, len(ot.Gates))
		for _, g := range ot.Gates {
			gates = append(gates, tree{"service": g.Service, "waitsFor": g.WaitsFor, "condition": string(g.Condition)})
		}
		doc["gates"] = gates
	}
	if len(ot.Volumes) > 0 {
		vols := tree{}
		for name, v := range ot.Volumes {
			t := tree{}
			if v.Driver != "" {
				t["driver"] = v.Driver
			}
			if v.External {
				t["external"] = true
			}
			vols[name] = t
		}
		doc["volumes"] = vols
	}
	if len(ot.Networks) > 0 {
		nets := tree{}
		for name, n := range ot.Networks {
			t := tree{}
			if n.Driver != "" {
				t["driver"] = n.Driver
			}
			if n.Internal {
				t["internal"] = true
			}
			nets[name] = t
		}
		doc["networks"] = nets
	}
	if len(ot.Secrets) > 0 {
		secrets := tree{}
		for name, s := range ot.Secrets {
			secrets[name] = secretTree(s)
		}
		doc["secrets"] = secrets
	}
	return doc
}

// secretTree describes where a secret comes from. Inline values are not repeated
// here; they only appear where they are injected.
func secretTree(s topology.SecretRef) tree {
	t := tree{"source": string(s.Source.Kind)}
	switch s.Source.Kind {
	case topology.SecretFile:
		t["path"] = s.Source.Path
	case topology.SecretExternal:
		t["handle"] = s.Source.Handle
	}
	return t
}

func serviceTree(svc *topology.ServiceNode, ot *resolve.OrderedTopology) tree {
	t := tree{"name": svc.Name, "image": svc.Image}
	if len(svc.Command) > 0 {
		t["command"] = svc.Command
	}
	if svc.Restart != "" {
		t["restart"] = svc.Restart
	}
	if len(svc.Ports) > 0 {
		ports := make([]any, 0, len(svc.Ports))
		for _, p := range svc.Ports {
			ports = append(ports, tree{"containerPort": p.ContainerPort, "protocol": string(p.Protocol)})
		}
		t["ports"] = ports
	}

	env := tree{}
	for k, v := range svc.Environment {
		if !v.IsSecret() {
			env[k] = v.Literal
		}
	}
	var mounts []any
	for _, inj := range ot.InjectionsFor(svc.Name) {
		switch inj.Mode {
		case resolve.InjectEnv:
			env[inj.Variable] = ot.Secrets[inj.Secret].Source.Value
		case resolve.InjectFile:
			env[inj.FileVariable()] = inj.Target
			mounts = append(mounts, tree{"secret": inj.Secret, "target": inj.Target})
		}
	}
	if len(env) > 0 {
		t["environment"] = env
	}
	if len(mounts) > 0 {
		t["secrets"] = mounts
	}

	if len(svc.Volumes) > 0 {
		vols := make([]any, 0, len(svc.Volumes))
		for _, v := range svc.Volumes {
			vols = append(vols, tree{"source": v.Source, "target": v.Target, "mode": string(v.Mode)})
		}
		t["volumes"] = vols
	}
	if len(svc.DependsOn) > 0 {
		deps := make([]any, 0, len(svc.DependsOn))
		for _, d := range svc.DependsOn {
			deps = append(deps, tree{"service": d.Service, "condition": string(d.Condition)})
		}
		t["dependsOn"] = deps
	}
	if hc := svc.Healthcheck; hc != nil {
		h := tree{"test": hc.Test}
		if hc.Interval > 0 {
			h["interval"] = hc.Interval.String()
		}
		if hc.Timeout > 0 {
			h["timeout"] = hc.Timeout.String()
		}
		if hc.Retries > 0 {
			h["retries"] = hc.Retries
		}
		t["healthcheck"] = h
	}
	if len(svc.Networks) > 0 {
		nets := make([]string, 0, len(svc.Networks))
		for _, n := range svc.Networks {
			nets = append(nets, n.Name)
		}
		t["networks"] = nets
	}
	if len(svc.Labels) > 0 {
		t["labels"] = svc.Labels
	}
	return t
}

func buildPlan(ot *resolve.OrderedTopology) tree {
	stages := make([]any, 0, len(ot.Stages))
	for _, st := range ot.Stages {
		s := tree{"name": st.Name}
		if st.Base.Stage != "" {
			s["base"] = tree{"stage": st.Base.Stage}
		} else {
			s["base"] = tree{"image": st.Base.Image}
		}
		if st.Platform != "" {
			s["platform"] = st.Platform
		}
		if args := ot.StageArgs[st.Name]; len(args) > 0 {
			list := make([]any, 0, len(args))
			for _, a := range args {
				at := tree{"name": a.Name, "source": string(a.Source)}
				if a.Value != nil {
					at["value"] = *a.Value
				}
				list = append(list, at)
			}
			s["args"] = list
		}
		if len(st.Copies) > 0 {
			copies := make([]any, 0, len(st.Copies))
			for _, c := range st.Copies {
				ct := tree{"src": c.Src, "dst": c.Dst}
				if c.From != "" {
					ct["from"] = c.From
				} else {
					ct["fromImage"] = c.FromImage
				}
				copies = append(copies, ct)
			}
			s["copies"] = copies
		}
		stages = append(stages, s)
	}
	return tree{
		"apiVersion": APIVersion,
		"kind":       "BuildPlan",
		"stages":     stages,
		"groups":     groupsOrEmpty(ot.BuildGroups),
	}
}

func stringsOrEmpty(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func groupsOrEmpty(in [][]string) [][]string {
	if in == nil {
		return [][]string{}
	}
	return in
}
