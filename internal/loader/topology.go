package loader

import (
	"fmt"
	"sort"

	"github.com/example/stackfuse/internal/topology"
	"gopkg.in/yaml.v3"
)

type serviceDoc struct {
	Image       string            `yaml:"image"`
	Command     yaml.Node         `yaml:"command"`
	Ports       []yaml.Node       `yaml:"ports"`
	Environment yaml.Node         `yaml:"environment"`
	Volumes     []yaml.Node       `yaml:"volumes"`
	DependsOn   yaml.Node         `yaml:"dependsOn"`
	Healthcheck yaml.Node         `yaml:"healthcheck"`
	Networks    yaml.Node         `yaml:"networks"`
	Labels      map[string]string `yaml:"labels"`
	Restart     string            `yaml:"restart"`
}

type topologyDoc struct {
	APIVersion string                `yaml:"apiVersion"`
	Kind       string                `yaml:"kind"`
	Services   map[string]serviceDoc `yaml:"services"`
	Volumes    map[string]volumeDoc  `yaml:"volumes"`
	Networks   map[string]networkDoc `yaml:"networks"`
	Secrets    map[string]yaml.Node  `yaml:"secrets"`
	Stages     []stageDoc            `yaml:"stages"`
}

// ParseTopology decodes a base topology document. It performs no I/O.
func ParseTopology(source string, data []byte) (*topology.Topology, error) {
	c := docContext{source: source}
	var doc topologyDoc
	if err := decodeStrict(c, data, KindTopology, &doc); err != nil {
		return nil, err
	}
	topo := topology.New()

	names := make([]string, 0, len(doc.Services))
	for name := range doc.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !validName(name) {
			return nil, c.failf("services."+name, "invalid service name")
		}
		svc, err := convertService(c, name, doc.Services[name])
		if err != nil {
			return nil, err
		}
		topo.Services[name] = svc
	}

	vols, nets, secrets, err := declarations(c, doc.Volumes, doc.Networks, doc.Secrets)
	if err != nil {
		return nil, err
	}
	topo.Volumes, topo.Networks, topo.Secrets = vols, nets, secrets

	stages, err := convertStages(c, doc.Stages)
	if err != nil {
		return nil, err
	}
	for _, st := range stages {
		topo.Stages[st.Name] = st
	}
	return topo, nil
}

func convertService(c docContext, name string, doc serviceDoc) (*topology.ServiceNode, error) {
	field := func(f string) string { return fmt.Sprintf("services.%s.%s", name, f) }
	svc := &topology.ServiceNode{Name: name, Restart: doc.Restart, Labels: doc.Labels}
	if doc.Image != "" {
		image, err := checkImage(doc.Image)
		if err != nil {
			return nil, c.fail(field("image"), err)
		}
		svc.Image = image
	}
	if present(&doc.Command) {
		cmd, err := decodeCommand(&doc.Command)
		if err != nil {
			return nil, c.fail(field("command"), err)
		}
		svc.Command = cmd
	}
	for i := range doc.Ports {
		p, err := decodePort(&doc.Ports[i], true)
		if err != nil {
			return nil, c.fail(fmt.Sprintf("%s[%d]", field("ports"), i), err)
		}
		svc.Ports = append(svc.Ports, p)
	}
	if present(&doc.Environment) {
		env, err := decodeEnvironment(&doc.Environment)
		if err != nil {
			return nil, c.fail(field("environment"), err)
		}
		svc.Environment = env
	}
	for i := range doc.Volumes {
		v, err := decodeVolumeMount(&doc.Volumes[i], true)
		if err != nil {
			return nil, c.fail(fmt.Sprintf("%s[%d]", field("volumes"), i), err)
		}
		svc.Volumes = append(svc.Volumes, v)
	}
	if present(&doc.DependsOn) {
		deps, err := decodeDependsOn(&doc.DependsOn)
		if err != nil {
			return nil, c.fail(field("dependsOn"), err)
		}
		svc.DependsOn = deps
	}
	if present(&doc.Healthcheck) {
		hc, err := decodeHealthcheck(&doc.Healthcheck)
		if err != nil {
			return nil, c.fail(field("healthcheck"), err)
		}
		svc.Healthcheck = hc
	}
	if present(&doc.Networks) {
		nets, err := decodeNetworks(&doc.Networks)
		if err != nil {
			return nil, c.fail(field("networks"), err)
		}
		svc.Networks = nets
	}
	return svc, nil
}

type secretsDoc struct {
	APIVersion string               `yaml:"apiVersion"`
	Kind       string               `yaml:"kind"`
	Secrets    map[string]yaml.Node `yaml:"secrets"`
}

// ParseSecrets decodes a secret handle document (kind Secrets). Values of file
// and external sources are never read.
func ParseSecrets(source string, data []byte) (map[string]topology.SecretRef, error) {
	c := docContext{source: source}
	var doc secretsDoc
	if err := decodeStrict(c, data, KindSecrets, &doc); err != nil {
		return nil, err
	}
	_, _, secrets, err := declarations(c, nil, nil, doc.Secrets)
	if err != nil {
		return nil, err
	}
	return secrets, nil
}
