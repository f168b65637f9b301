// Package compose imports base topologies from compose files and exports resolved
// topologies as compose projects.
package compose

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/compose-spec/compose-go/v2/loader"
	composetypes "github.com/compose-spec/compose-go/v2/types"
	"github.com/example/stackfuse/internal/topology"
)

// LoadProject parses compose files into a compose-go project. The process
// environment is used for interpolation. The first file's directory is the
// working directory.
func LoadProject(files []string, projectName string) (*composetypes.Project, error) {
	if len(files) == 0 {
		return nil, errors.New("no compose files specified")
	}
	abs, err := absolutePaths(files)
	if err != nil {
		return nil, err
	}
	env := make(composetypes.Mapping)
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		env[key] = value
	}

	configFiles := make([]composetypes.ConfigFile, 0, len(abs))
	for _, path := range abs {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read compose file %s: %w", path, err)
		}
		configFiles = append(configFiles, composetypes.ConfigFile{Filename: path, Content: data})
	}

	details := composetypes.ConfigDetails{
		WorkingDir:  filepath.Dir(abs[0]),
		ConfigFiles: configFiles,
		Environment: env,
	}
	project, err := loader.Load(details, func(o *loader.Options) {
		if projectName != "" {
			o.SetProjectName(projectName, true)
		}
	})
	if err != nil {
		return nil, err
	}
	return project, nil
}

// ImportTopology loads compose files and converts them into a base topology.
// Build sections and service-level secret mounts are not carried over; secrets
// declared at the top level become handles.
func ImportTopology(files []string, projectName string) (*topology.Topology, error) {
	project, err := LoadProject(files, projectName)
	if err != nil {
		return nil, err
	}
	return FromProject(project)
}

func FromProject(project *composetypes.Project) (*topology.Topology, error) {
	topo := topology.New()
	for name, svc := range project.Services {
		node, err := serviceFromCompose(name, svc)
		if err != nil {
			return nil, fmt.Errorf("compose service %s: %w", name, err)
		}
		topo.Services[name] = node
	}
	for name, v := range project.Volumes {
		topo.Volumes[name] = topology.Volume{Name: name, Driver: v.Driver, External: bool(v.External)}
	}
	for name, n := range project.Networks {
		if name == "default" {
			continue
		}
		topo.Networks[name] = topology.Network{Name: name, Driver: n.Driver, Internal: n.Internal}
	}
	for name, s := range project.Secrets {
		ref := topology.SecretRef{Name: name}
		switch {
		case s.File != "":
			ref.Source = topology.SecretSource{Kind: topology.SecretFile, Path: s.File}
		case s.Environment != "":
			ref.Source = topology.SecretSource{Kind: topology.SecretExternal, Handle: "secret://env/" + s.Environment}
		case bool(s.External):
			ref.Source = topology.SecretSource{Kind: topology.SecretExternal, Handle: "secret:///" + name}
		default:
			return nil, fmt.Errorf("compose secret %s has no file or environment source", name)
		}
		topo.Secrets[name] = ref
	}
	return topo, nil
}

func serviceFromCompose(name string, svc composetypes.ServiceConfig) (*topology.ServiceNode, error) {
	node := &topology.ServiceNode{
		Name:    name,
		Image:   svc.Image,
		Restart: svc.Restart,
	}
	if len(svc.Command) > 0 {
		node.Command = append([]string(nil), svc.Command...)
	}
	for _, p := range svc.Ports {
		proto := topology.Protocol(strings.ToLower(p.Protocol))
		if proto == "" {
			proto = topology.ProtocolTCP
		}
		node.Ports = append(node.Ports, topology.PortSpec{ContainerPort: int(p.Target), Protocol: proto})
	}
	if len(svc.Environment) > 0 {
		node.Environment = map[string]topology.EnvValue{}
		for k, v := range svc.Environment {
			if v == nil {
				continue
			}
			node.Environment[k] = topology.Literal(*v)
		}
	}
	for _, v := range svc.Volumes {
		if v.Type != composetypes.VolumeTypeVolume && v.Type != composetypes.VolumeTypeBind {
			continue
		}
		mode := topology.VolumeModeRW
		if v.ReadOnly {
			mode = topology.VolumeModeRO
		}
		node.Volumes = append(node.Volumes, topology.VolumeMount{Source: v.Source, Target: v.Target, Mode: mode})
	}
	for _, dep := range sortedKeys(svc.DependsOn) {
		cond := topology.ConditionStarted
		if svc.DependsOn[dep].Condition == composetypes.ServiceConditionHealthy {
			cond = topology.ConditionHealthy
		}
		node.DependsOn = append(node.DependsOn, topology.Dependency{Service: dep, Condition: cond})
	}
	for _, n := range sortedKeys(svc.Networks) {
		node.Networks = append(node.Networks, topology.NetworkRef{Name: n})
	}
	if len(svc.Labels) > 0 {
		node.Labels = map[string]string{}
		for k, v := range svc.Labels {
			node.Labels[k] = v
		}
	}
	if hc := svc.HealthCheck; hc != nil && !hc.Disable && len(hc.Test) > 0 {
		node.Healthcheck = &topology.Healthcheck{Test: append([]string(nil), hc.Test...)}
		if hc.Interval != nil {
			node.Healthcheck.Interval = time.Duration(*hc.Interval)
		}
		if hc.Timeout != nil {
			node.Healthcheck.Timeout = time.Duration(*hc.Timeout)
		}
		if hc.Retries != nil {
			node.Healthcheck.Retries = int(*hc.Retries)
		}
	}
	return node, nil
}

func absolutePaths(paths []string) ([]string, error) {
	out := make([]string, len(paths))
	for i, p := range paths {
		if p == "" {
			return nil, errors.New("compose file path cannot be empty")
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("abs %s: %w", p, err)
		}
		out[i] = abs
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
