package policy

import "github.com/example/stackfuse/internal/topology"

// Input is the document rego rules see as `input`. Secret values are never
// included, only where each secret comes from.
type Input struct {
	Services map[string]ServiceInput `json:"services"`
	Stages   map[string]StageInput   `json:"stages"`
	Volumes  []string                `json:"volumes"`
	Networks []string                `json:"networks"`
	Secrets  map[string]string       `json:"secrets"`
	Data     map[string]any          `json:"data,omitempty"`
}

type ServiceInput struct {
	Image          string            `json:"image"`
	Command        []string          `json:"command,omitempty"`
	Ports          []string          `json:"ports"`
	Environment    map[string]string `json:"environment"`
	SecretEnv      map[string]string `json:"secretEnv"`
	Volumes        []VolumeInput     `json:"volumes"`
	DependsOn      map[string]string `json:"dependsOn"`
	HasHealthcheck bool              `json:"hasHealthcheck"`
	Networks       []string          `json:"networks"`
	Labels         map[string]string `json:"labels"`
	Restart        string            `json:"restart,omitempty"`
}

type VolumeInput struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	ReadOnly bool   `json:"readOnly"`
	Named    bool   `json:"named"`
}

type StageInput struct {
	BaseStage  string   `json:"baseStage,omitempty"`
	BaseImage  string   `json:"baseImage,omitempty"`
	Platform   string   `json:"platform,omitempty"`
	Args       []string `json:"args"`
	CopyFrom   []string `json:"copyFrom"`
	CopyImages []string `json:"copyImages"`
}

// NewInput flattens a topology into the rego input document.
func NewInput(topo *topology.Topology) Input {
	in := Input{
		Services: map[string]ServiceInput{},
		Stages:   map[string]StageInput{},
		Volumes:  []string{},
		Networks: []string{},
		Secrets:  map[string]string{},
	}
	if topo == nil {
		return in
	}
	for name, svc := range topo.Services {
		s := ServiceInput{
			Image:          svc.Image,
			Command:        svc.Command,
			Ports:          []string{},
			Environment:    map[string]string{},
			SecretEnv:      map[string]string{},
			Volumes:        []VolumeInput{},
			DependsOn:      map[string]string{},
			HasHealthcheck: svc.Healthcheck != nil,
			Networks:       []string{},
			Labels:         map[string]string{},
			Restart:        svc.Restart,
		}
		for _, p := range svc.Ports {
			s.Ports = append(s.Ports, p.Key())
		}
		for k, v := range svc.Environment {
			if v.IsSecret() {
				s.SecretEnv[k] = v.Secret
			} else {
				s.Environment[k] = v.Literal
			}
		}
		for _, v := range svc.Volumes {
			s.Volumes = append(s.Volumes, VolumeInput{Source: v.Source, Target: v.Target, ReadOnly: v.Mode == topology.VolumeModeRO, Named: v.IsNamedVolume()})
		}
		for _, d := range svc.DependsOn {
			cond := d.Condition
			if cond == "" {
				cond = topology.ConditionStarted
			}
			s.DependsOn[d.Service] = string(cond)
		}
		for _, n := range svc.Networks {
			s.Networks = append(s.Networks, n.Name)
		}
		for k, v := range svc.Labels {
			s.Labels[k] = v
		}
		in.Services[name] = s
	}
	for name, st := range topo.Stages {
		s := StageInput{
			BaseStage:  st.Base.Stage,
			BaseImage:  st.Base.Image,
			Platform:   st.Platform,
			Args:       []string{},
			CopyFrom:   []string{},
			CopyImages: []string{},
		}
		for k := range st.Args {
			s.Args = append(s.Args, k)
		}
		for _, c := range st.Copies {
			if c.From != "" {
				s.CopyFrom = append(s.CopyFrom, c.From)
			} else if c.FromImage != "" {
				s.CopyImages = append(s.CopyImages, c.FromImage)
			}
		}
		in.Stages[name] = s
	}
	for name := range topo.Volumes {
		in.Volumes = append(in.Volumes, name)
	}
	for name := range topo.Networks {
		in.Networks = append(in.Networks, name)
	}
	for name, s := range topo.Secrets {
		in.Secrets[name] = string(s.Source.Kind)
	}
	return in
}
