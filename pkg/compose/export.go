package compose

import (
	"errors"

	composetypes "github.com/compose-spec/compose-go/v2/types"
	"github.com/example/stackfuse/internal/resolve"
	"github.com/example/stackfuse/internal/topology"
)

// ToProject renders a resolved topology as a compose project. Secret values are
// never read: file secrets keep their path and external secrets become external
// compose secrets named after the handle.
func ToProject(ot *resolve.OrderedTopology, name string) (*composetypes.Project, error) {
	if !ot.Validated() {
		return nil, errors.New("compose export needs a resolved topology")
	}
	project := &composetypes.Project{
		Name:     name,
		Services: composetypes.Services{},
	}
	for _, svc := range ot.Services {
		project.Services[svc.Name] = serviceToCompose(svc, ot.InjectionsFor(svc.Name), ot.Secrets)
	}
	if len(ot.Volumes) > 0 {
		project.Volumes = composetypes.Volumes{}
		for n, v := range ot.Volumes {
			project.Volumes[n] = composetypes.VolumeConfig{Name: n, Driver: v.Driver, External: composetypes.External(v.External)}
		}
	}
	if len(ot.Networks) > 0 {
		project.Networks = composetypes.Networks{}
		for n, net := range ot.Networks {
			project.Networks[n] = composetypes.NetworkConfig{Name: n, Driver: net.Driver, Internal: net.Internal}
		}
	}
	for _, inj := range ot.Injections {
		if inj.Mode != resolve.InjectFile {
			continue
		}
		if project.Secrets == nil {
			project.Secrets = composetypes.Secrets{}
		}
		ref := ot.Secrets[inj.Secret]
		cfg := composetypes.SecretConfig{Name: inj.Secret}
		switch ref.Source.Kind {
		case topology.SecretFile:
			cfg.File = ref.Source.Path
		case topology.SecretExternal:
			cfg.Name = ref.Source.Handle
			cfg.External = true
		}
		project.Secrets[inj.Secret] = cfg
	}
	return project, nil
}

func serviceToCompose(svc *topology.ServiceNode, injections []resolve.SecretInjection, secrets map[string]topology.SecretRef) composetypes.ServiceConfig {
	out := composetypes.ServiceConfig{
		Name:    svc.Name,
		Image:   svc.Image,
		Restart: svc.Restart,
	}
	if len(svc.Command) > 0 {
		out.Command = composetypes.ShellCommand(append([]string(nil), svc.Command...))
	}
	for _, p := range svc.Ports {
		out.Ports = append(out.Ports, composetypes.ServicePortConfig{Target: uint32(p.ContainerPort), Protocol: string(p.Protocol)})
	}
	env := composetypes.MappingWithEquals{}
	for k, v := range svc.Environment {
		if v.IsSecret() {
			continue
		}
		val := v.Literal
		env[k] = &val
	}
	for _, inj := range injections {
		switch inj.Mode {
		case resolve.InjectEnv:
			val := secrets[inj.Secret].Source.Value
			env[inj.Variable] = &val
		case resolve.InjectFile:
			target := inj.Target
			env[inj.FileVariable()] = &target
			out.Secrets = append(out.Secrets, composetypes.ServiceSecretConfig{Source: inj.Secret, Target: inj.Target})
		}
	}
	if len(env) > 0 {
		out.Environment = env
	}
	for _, v := range svc.Volumes {
		typ := composetypes.VolumeTypeBind
		if v.IsNamedVolume() {
			typ = composetypes.VolumeTypeVolume
		}
		out.Volumes = append(out.Volumes, composetypes.ServiceVolumeConfig{
			Type:     typ,
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.Mode == topology.VolumeModeRO,
		})
	}
	if len(svc.DependsOn) > 0 {
		out.DependsOn = composetypes.DependsOnConfig{}
		for _, d := range svc.DependsOn {
			cond := composetypes.ServiceConditionStarted
			if d.Condition == topology.ConditionHealthy {
				cond = composetypes.ServiceConditionHealthy
			}
			out.DependsOn[d.Service] = composetypes.ServiceDependency{Condition: cond, Required: true}
		}
	}
	if len(svc.Networks) > 0 {
		out.Networks = map[string]*composetypes.ServiceNetworkConfig{}
		for _, n := range svc.Networks {
			out.Networks[n.Name] = nil
		}
	}
	if len(svc.Labels) > 0 {
		out.Labels = composetypes.Labels{}
		for k, v := range svc.Labels {
			out.Labels[k] = v
		}
	}
	if hc := svc.Healthcheck; hc != nil {
		cfg := &composetypes.HealthCheckConfig{Test: composetypes.HealthCheckTest(append([]string(nil), hc.Test...))}
		if hc.Interval > 0 {
			d := composetypes.Duration(hc.Interval)
			cfg.Interval = &d
		}
		if hc.Timeout > 0 {
			d := composetypes.Duration(hc.Timeout)
			cfg.Timeout = &d
		}
		if hc.Retries > 0 {
			r := uint64(hc.Retries)
			cfg.Retries = &r
		}
		out.HealthCheck = cfg
	}
	return out
}
