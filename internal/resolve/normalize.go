package resolve

import "github.com/example/stackfuse/internal/topology"

// dedupe keeps one entry per key. The last entry wins and stays at its own
// position; earlier entries with the same key are dropped.
func dedupe[T any](in []T, key func(T) string) []T {
	if len(in) == 0 {
		return nil
	}
	last := make(map[string]int, len(in))
	for i, v := range in {
		last[key(v)] = i
	}
	out := make([]T, 0, len(last))
	for i, v := range in {
		if last[key(v)] == i {
			out = append(out, v)
		}
	}
	return out
}

func normalizeService(in *topology.ServiceNode) *topology.ServiceNode {
	svc := in.Clone()
	for i := range svc.Ports {
		if svc.Ports[i].Protocol == "" {
			svc.Ports[i].Protocol = topology.ProtocolTCP
		}
	}
	for i := range svc.Volumes {
		if svc.Volumes[i].Mode == "" {
			svc.Volumes[i].Mode = topology.VolumeModeRW
		}
	}
	for i := range svc.DependsOn {
		if svc.DependsOn[i].Condition == "" {
			svc.DependsOn[i].Condition = topology.ConditionStarted
		}
	}
	svc.Ports = dedupe(svc.Ports, topology.PortSpec.Key)
	svc.Volumes = dedupe(svc.Volumes, topology.VolumeMount.Key)
	svc.DependsOn = dedupe(svc.DependsOn, topology.Dependency.Key)
	svc.Networks = dedupe(svc.Networks, topology.NetworkRef.Key)
	return svc
}

func normalizeStage(in *topology.BuildStage) *topology.BuildStage {
	st := in.Clone()
	st.Copies = dedupe(st.Copies, topology.CopySpec.Key)
	return st
}
