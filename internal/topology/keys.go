package topology

import "strconv"

// Identity keys for sequence entries. Two entries with the same key describe the
// same slot; when both survive composition the last applied one wins.

func (p PortSpec) Key() string {
	proto := p.Protocol
	if proto == "" {
		proto = ProtocolTCP
	}
	return strconv.Itoa(p.ContainerPort) + "/" + string(proto)
}

func (v VolumeMount) Key() string { return v.Target }

func (d Dependency) Key() string { return d.Service }

func (n NetworkRef) Key() string { return n.Name }

func (c CopySpec) Key() string { return c.Dst }

// IsNamedVolume reports whether the mount source refers to a declared volume
// rather than a host path.
func (v VolumeMount) IsNamedVolume() bool {
	if v.Source == "" {
		return false
	}
	switch v.Source[0] {
	case '/', '.', '~', '$':
		return false
	}
	return true
}
