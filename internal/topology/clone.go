package topology

import "maps"

// Clone returns a deep copy. A nil topology clones to an empty one.
func (t *Topology) Clone() *Topology {
	out := New()
	if t == nil {
		return out
	}
	for name, svc := range t.Services {
		out.Services[name] = svc.Clone()
	}
	for name, st := range t.Stages {
		out.Stages[name] = st.Clone()
	}
	maps.Copy(out.Volumes, t.Volumes)
	maps.Copy(out.Networks, t.Networks)
	maps.Copy(out.Secrets, t.Secrets)
	return out
}

func (s *ServiceNode) Clone() *ServiceNode {
	if s == nil {
		return nil
	}
	out := *s
	out.Command = cloneSlice(s.Command)
	out.Ports = cloneSlice(s.Ports)
	out.Volumes = cloneSlice(s.Volumes)
	out.DependsOn = cloneSlice(s.DependsOn)
	out.Networks = cloneSlice(s.Networks)
	out.Environment = maps.Clone(s.Environment)
	out.Labels = maps.Clone(s.Labels)
	out.Healthcheck = s.Healthcheck.Clone()
	return &out
}

func (h *Healthcheck) Clone() *Healthcheck {
	if h == nil {
		return nil
	}
	out := *h
	out.Test = cloneSlice(h.Test)
	return &out
}

func (b *BuildStage) Clone() *BuildStage {
	if b == nil {
		return nil
	}
	out := *b
	out.Copies = cloneSlice(b.Copies)
	out.Args = CloneArgs(b.Args)
	return &out
}

// CloneArgs copies build args including the pointed-to defaults.
func CloneArgs(in map[string]*string) map[string]*string {
	if in == nil {
		return nil
	}
	out := make(map[string]*string, len(in))
	for k, v := range in {
		if v == nil {
			out[k] = nil
			continue
		}
		val := *v
		out[k] = &val
	}
	return out
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	return append([]T(nil), in...)
}
