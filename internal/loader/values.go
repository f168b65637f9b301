// File: internal/loader/values.go
// Brief: Decoders for the short and long forms of every service and stage field.

package loader

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/containerd/platforms"
	"github.com/distribution/reference"
	"github.com/example/stackfuse/internal/secretstore"
	"github.com/example/stackfuse/internal/topology"
	"github.com/mattn/go-shellwords"
	"github.com/moby/patternmatcher"
	"gopkg.in/yaml.v3"
)

func deref(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	return n
}

func present(n *yaml.Node) bool {
	n = deref(n)
	if n == nil || n.Kind == 0 {
		return false
	}
	return !isNull(n)
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null"
}

func scalarString(n *yaml.Node) (string, error) {
	n = deref(n)
	if n == nil || n.Kind != yaml.ScalarNode {
		return "", fmt.Errorf("expected a scalar value")
	}
	if isNull(n) {
		return "", nil
	}
	return n.Value, nil
}

func stringList(n *yaml.Node) ([]string, error) {
	n = deref(n)
	if n.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("expected a list of strings")
	}
	out := make([]string, 0, len(n.Content))
	for _, item := range n.Content {
		s, err := scalarString(item)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// checkImage validates an image reference. References that still carry
// ${VAR} interpolation are accepted as-is.
func checkImage(image string) (string, error) {
	image = strings.TrimSpace(image)
	if image == "" {
		return "", fmt.Errorf("image reference is empty")
	}
	if strings.Contains(image, "${") {
		return image, nil
	}
	if _, err := reference.ParseNormalizedNamed(image); err != nil {
		return "", fmt.Errorf("invalid image reference %q: %w", image, err)
	}
	return image, nil
}

func checkPlatform(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	p, err := platforms.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid platform %q: %w", raw, err)
	}
	return platforms.Format(p), nil
}

func checkCopySource(src string) error {
	if strings.TrimSpace(src) == "" {
		return fmt.Errorf("src is required")
	}
	if _, err := patternmatcher.New([]string{src}); err != nil {
		return fmt.Errorf("invalid src pattern %q: %w", src, err)
	}
	return nil
}

func decodeCommand(n *yaml.Node) ([]string, error) {
	n = deref(n)
	switch n.Kind {
	case yaml.ScalarNode:
		s, _ := scalarString(n)
		args, err := shellwords.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("parse command %q: %w", s, err)
		}
		if len(args) == 0 {
			return nil, fmt.Errorf("command is empty")
		}
		return args, nil
	case yaml.SequenceNode:
		args, err := stringList(n)
		if err != nil {
			return nil, err
		}
		if len(args) == 0 {
			return nil, fmt.Errorf("command is empty")
		}
		return args, nil
	}
	return nil, fmt.Errorf("command must be a string or a list")
}

func decodePort(n *yaml.Node, defaults bool) (topology.PortSpec, error) {
	n = deref(n)
	var spec topology.PortSpec
	switch n.Kind {
	case yaml.ScalarNode:
		raw, _ := scalarString(n)
		portText, proto, _ := strings.Cut(raw, "/")
		port, err := strconv.Atoi(strings.TrimSpace(portText))
		if err != nil {
			return spec, fmt.Errorf("invalid port %q", raw)
		}
		spec.ContainerPort = port
		spec.Protocol = topology.Protocol(strings.ToLower(strings.TrimSpace(proto)))
	case yaml.MappingNode:
		var long struct {
			ContainerPort int    `yaml:"containerPort"`
			Protocol      string `yaml:"protocol"`
		}
		if err := n.Decode(&long); err != nil {
			return spec, fmt.Errorf("invalid port: %s", cleanYAMLError(err))
		}
		spec.ContainerPort = long.ContainerPort
		spec.Protocol = topology.Protocol(strings.ToLower(long.Protocol))
	default:
		return spec, fmt.Errorf("port must be a number, \"port/protocol\" or a mapping")
	}
	if spec.ContainerPort != 0 || defaults {
		if spec.ContainerPort < 1 || spec.ContainerPort > 65535 {
			return spec, fmt.Errorf("port %d out of range", spec.ContainerPort)
		}
	}
	switch spec.Protocol {
	case "":
		if defaults {
			spec.Protocol = topology.ProtocolTCP
		}
	case topology.ProtocolTCP, topology.ProtocolUDP:
	default:
		return spec, fmt.Errorf("unsupported protocol %q", spec.Protocol)
	}
	return spec, nil
}

func decodeVolumeMount(n *yaml.Node, defaults bool) (topology.VolumeMount, error) {
	n = deref(n)
	var v topology.VolumeMount
	switch n.Kind {
	case yaml.ScalarNode:
		raw, _ := scalarString(n)
		parts := strings.Split(raw, ":")
		switch len(parts) {
		case 1:
			v.Target = parts[0]
		case 2:
			v.Source, v.Target = parts[0], parts[1]
		case 3:
			v.Source, v.Target, v.Mode = parts[0], parts[1], topology.VolumeMode(parts[2])
		default:
			return v, fmt.Errorf("invalid volume %q (expected [source:]target[:mode])", raw)
		}
	case yaml.MappingNode:
		var long struct {
			Source string `yaml:"source"`
			Target string `yaml:"target"`
			Mode   string `yaml:"mode"`
		}
		if err := n.Decode(&long); err != nil {
			return v, fmt.Errorf("invalid volume: %s", cleanYAMLError(err))
		}
		v = topology.VolumeMount{Source: long.Source, Target: long.Target, Mode: topology.VolumeMode(long.Mode)}
	default:
		return v, fmt.Errorf("volume must be a string or a mapping")
	}
	if defaults && strings.TrimSpace(v.Target) == "" {
		return v, fmt.Errorf("volume target is required")
	}
	switch v.Mode {
	case "":
		if defaults {
			v.Mode = topology.VolumeModeRW
		}
	case topology.VolumeModeRW, topology.VolumeModeRO:
	default:
		return v, fmt.Errorf("unsupported volume mode %q (expected rw or ro)", v.Mode)
	}
	return v, nil
}

func parseCondition(raw string, defaults bool) (topology.Condition, error) {
	switch strings.TrimSpace(raw) {
	case "":
		if defaults {
			return topology.ConditionStarted, nil
		}
		return "", nil
	case "started", "service_started":
		return topology.ConditionStarted, nil
	case "healthy", "service_healthy":
		return topology.ConditionHealthy, nil
	}
	return "", fmt.Errorf("unsupported condition %q (expected started or healthy)", raw)
}

func decodeDependency(n *yaml.Node, defaults bool) (topology.Dependency, error) {
	n = deref(n)
	var d topology.Dependency
	switch n.Kind {
	case yaml.ScalarNode:
		d.Service, _ = scalarString(n)
	case yaml.MappingNode:
		var long struct {
			Service   string `yaml:"service"`
			Condition string `yaml:"condition"`
		}
		if err := n.Decode(&long); err != nil {
			return d, fmt.Errorf("invalid dependency: %s", cleanYAMLError(err))
		}
		d.Service = long.Service
		cond, err := parseCondition(long.Condition, false)
		if err != nil {
			return d, err
		}
		d.Condition = cond
	default:
		return d, fmt.Errorf("dependency must be a service name or a mapping")
	}
	d.Service = strings.TrimSpace(d.Service)
	if defaults && d.Service == "" {
		return d, fmt.Errorf("dependency service is required")
	}
	if d.Condition == "" && defaults {
		d.Condition = topology.ConditionStarted
	}
	return d, nil
}

// decodeDependsOn accepts a list of dependencies or a mapping of service name to
// {condition}. Mapping entries come out sorted by service name.
func decodeDependsOn(n *yaml.Node) ([]topology.Dependency, error) {
	n = deref(n)
	switch n.Kind {
	case yaml.SequenceNode:
		out := make([]topology.Dependency, 0, len(n.Content))
		for i, item := range n.Content {
			d, err := decodeDependency(item, true)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out = append(out, d)
		}
		return out, nil
	case yaml.MappingNode:
		var long map[string]struct {
			Condition string `yaml:"condition"`
		}
		if err := n.Decode(&long); err != nil {
			return nil, fmt.Errorf("invalid dependsOn: %s", cleanYAMLError(err))
		}
		names := make([]string, 0, len(long))
		for name := range long {
			names = append(names, name)
		}
		sort.Strings(names)
		out := make([]topology.Dependency, 0, len(names))
		for _, name := range names {
			cond, err := parseCondition(long[name].Condition, true)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			out = append(out, topology.Dependency{Service: name, Condition: cond})
		}
		return out, nil
	}
	return nil, fmt.Errorf("dependsOn must be a list or a mapping")
}

func decodeHealthcheck(n *yaml.Node) (*topology.Healthcheck, error) {
	n = deref(n)
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("healthcheck must be a mapping")
	}
	var long struct {
		Test     yaml.Node `yaml:"test"`
		Interval string    `yaml:"interval"`
		Timeout  string    `yaml:"timeout"`
		Retries  int       `yaml:"retries"`
	}
	if err := n.Decode(&long); err != nil {
		return nil, fmt.Errorf("invalid healthcheck: %s", cleanYAMLError(err))
	}
	hc := &topology.Healthcheck{Retries: long.Retries}
	if !present(&long.Test) {
		return nil, fmt.Errorf("healthcheck test is required")
	}
	test := deref(&long.Test)
	if test.Kind == yaml.ScalarNode {
		s, _ := scalarString(test)
		hc.Test = []string{"CMD-SHELL", s}
	} else {
		list, err := stringList(test)
		if err != nil {
			return nil, fmt.Errorf("healthcheck test: %w", err)
		}
		if len(list) == 0 {
			return nil, fmt.Errorf("healthcheck test is empty")
		}
		hc.Test = list
	}
	var err error
	if hc.Interval, err = parseDuration(long.Interval); err != nil {
		return nil, fmt.Errorf("healthcheck interval: %w", err)
	}
	if hc.Timeout, err = parseDuration(long.Timeout); err != nil {
		return nil, fmt.Errorf("healthcheck timeout: %w", err)
	}
	if hc.Retries < 0 {
		return nil, fmt.Errorf("healthcheck retries must not be negative")
	}
	return hc, nil
}

func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q is negative", raw)
	}
	return d, nil
}

func decodeEnvValue(n *yaml.Node) (topology.EnvValue, error) {
	n = deref(n)
	switch n.Kind {
	case yaml.ScalarNode:
		s, _ := scalarString(n)
		return topology.Literal(s), nil
	case yaml.MappingNode:
		var long struct {
			Secret string `yaml:"secret"`
		}
		if err := n.Decode(&long); err != nil {
			return topology.EnvValue{}, fmt.Errorf("invalid environment value: %s", cleanYAMLError(err))
		}
		if strings.TrimSpace(long.Secret) == "" {
			return topology.EnvValue{}, fmt.Errorf("secret name is required")
		}
		return topology.SecretEnv(strings.TrimSpace(long.Secret)), nil
	}
	return topology.EnvValue{}, fmt.Errorf("environment value must be a scalar or {secret: name}")
}

// decodeEnvironment accepts a mapping or a list of KEY=VALUE strings.
func decodeEnvironment(n *yaml.Node) (map[string]topology.EnvValue, error) {
	n = deref(n)
	out := map[string]topology.EnvValue{}
	switch n.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i].Value
			if strings.TrimSpace(key) == "" {
				return nil, fmt.Errorf("environment key is empty")
			}
			val, err := decodeEnvValue(n.Content[i+1])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			out[key] = val
		}
	case yaml.SequenceNode:
		list, err := stringList(n)
		if err != nil {
			return nil, err
		}
		for _, kv := range list {
			key, val, _ := strings.Cut(kv, "=")
			if strings.TrimSpace(key) == "" {
				return nil, fmt.Errorf("environment entry %q has no key", kv)
			}
			out[key] = topology.Literal(val)
		}
	default:
		return nil, fmt.Errorf("environment must be a mapping or a list")
	}
	return out, nil
}

func decodeStringMap(n *yaml.Node) (map[string]string, error) {
	n = deref(n)
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected a mapping")
	}
	out := map[string]string{}
	for i := 0; i+1 < len(n.Content); i += 2 {
		val, err := scalarString(n.Content[i+1])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", n.Content[i].Value, err)
		}
		out[n.Content[i].Value] = val
	}
	return out, nil
}

func decodeOptionalString(n *yaml.Node) (*string, error) {
	n = deref(n)
	if n == nil || n.Kind == 0 || isNull(n) {
		return nil, nil
	}
	s, err := scalarString(n)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// decodeArgs reads declared build args. A null value declares an arg without a default.
func decodeArgs(n *yaml.Node) (map[string]*string, error) {
	n = deref(n)
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("args must be a mapping")
	}
	out := map[string]*string{}
	for i := 0; i+1 < len(n.Content); i += 2 {
		name := n.Content[i].Value
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("arg name is empty")
		}
		val, err := decodeOptionalString(n.Content[i+1])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out[name] = val
	}
	return out, nil
}

func decodeNetworkRef(n *yaml.Node) (topology.NetworkRef, error) {
	name, err := scalarString(n)
	if err != nil {
		return topology.NetworkRef{}, fmt.Errorf("network must be a name")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return topology.NetworkRef{}, fmt.Errorf("network name is empty")
	}
	return topology.NetworkRef{Name: name}, nil
}

// decodeNetworks accepts a list of names or a mapping keyed by name.
func decodeNetworks(n *yaml.Node) ([]topology.NetworkRef, error) {
	n = deref(n)
	switch n.Kind {
	case yaml.SequenceNode:
		out := make([]topology.NetworkRef, 0, len(n.Content))
		for _, item := range n.Content {
			ref, err := decodeNetworkRef(item)
			if err != nil {
				return nil, err
			}
			out = append(out, ref)
		}
		return out, nil
	case yaml.MappingNode:
		var names []string
		for i := 0; i+1 < len(n.Content); i += 2 {
			names = append(names, n.Content[i].Value)
		}
		sort.Strings(names)
		out := make([]topology.NetworkRef, 0, len(names))
		for _, name := range names {
			out = append(out, topology.NetworkRef{Name: name})
		}
		return out, nil
	}
	return nil, fmt.Errorf("networks must be a list or a mapping")
}

func decodeBase(n *yaml.Node) (topology.StageBase, error) {
	n = deref(n)
	switch n.Kind {
	case yaml.ScalarNode:
		s, _ := scalarString(n)
		image, err := checkImage(s)
		if err != nil {
			return topology.StageBase{}, err
		}
		return topology.StageBase{Image: image}, nil
	case yaml.MappingNode:
		var long struct {
			Stage string `yaml:"stage"`
			Image string `yaml:"image"`
		}
		if err := n.Decode(&long); err != nil {
			return topology.StageBase{}, fmt.Errorf("invalid base: %s", cleanYAMLError(err))
		}
		long.Stage = strings.TrimSpace(long.Stage)
		switch {
		case long.Stage != "" && long.Image != "":
			return topology.StageBase{}, fmt.Errorf("base must name either a stage or an image, not both")
		case long.Stage != "":
			return topology.StageBase{Stage: long.Stage}, nil
		case long.Image != "":
			image, err := checkImage(long.Image)
			if err != nil {
				return topology.StageBase{}, err
			}
			return topology.StageBase{Image: image}, nil
		}
		return topology.StageBase{}, fmt.Errorf("base must name a stage or an image")
	}
	return topology.StageBase{}, fmt.Errorf("base must be an image reference or a mapping")
}

func decodeCopy(n *yaml.Node, defaults bool) (topology.CopySpec, error) {
	n = deref(n)
	if n.Kind != yaml.MappingNode {
		return topology.CopySpec{}, fmt.Errorf("copy must be a mapping")
	}
	var long struct {
		From      string `yaml:"from"`
		FromImage string `yaml:"fromImage"`
		Src       string `yaml:"src"`
		Dst       string `yaml:"dst"`
	}
	if err := n.Decode(&long); err != nil {
		return topology.CopySpec{}, fmt.Errorf("invalid copy: %s", cleanYAMLError(err))
	}
	c := topology.CopySpec{
		From:      strings.TrimSpace(long.From),
		FromImage: strings.TrimSpace(long.FromImage),
		Src:       long.Src,
		Dst:       long.Dst,
	}
	if !defaults {
		if c == (topology.CopySpec{}) {
			return c, fmt.Errorf("copy predicate is empty")
		}
		return c, nil
	}
	switch {
	case c.From != "" && c.FromImage != "":
		return c, fmt.Errorf("copy must use either from or fromImage, not both")
	case c.From == "" && c.FromImage == "":
		return c, fmt.Errorf("copy needs from (stage) or fromImage")
	case c.FromImage != "":
		image, err := checkImage(c.FromImage)
		if err != nil {
			return c, err
		}
		c.FromImage = image
	}
	if err := checkCopySource(c.Src); err != nil {
		return c, err
	}
	if strings.TrimSpace(c.Dst) == "" {
		return c, fmt.Errorf("dst is required")
	}
	return c, nil
}

func decodeSecretSource(name string, n *yaml.Node) (topology.SecretRef, error) {
	n = deref(n)
	ref := topology.SecretRef{Name: name}
	if n == nil || n.Kind != yaml.MappingNode {
		return ref, fmt.Errorf("secret must be a mapping with one of inline, file or external")
	}
	var long struct {
		Inline   *string `yaml:"inline"`
		File     string  `yaml:"file"`
		External string  `yaml:"external"`
	}
	if err := n.Decode(&long); err != nil {
		return ref, fmt.Errorf("invalid secret: %s", cleanYAMLError(err))
	}
	set := 0
	if long.Inline != nil {
		set++
		ref.Source = topology.SecretSource{Kind: topology.SecretInline, Value: *long.Inline}
	}
	if long.File != "" {
		set++
		ref.Source = topology.SecretSource{Kind: topology.SecretFile, Path: long.File}
	}
	if long.External != "" {
		set++
		// Provider-less handles are resolved against the provider config later.
		_, ok, err := secretstore.ParseRef(long.External, "default")
		if !ok {
			return ref, fmt.Errorf("external secret must be a secret:// handle")
		}
		if err != nil {
			return ref, err
		}
		ref.Source = topology.SecretSource{Kind: topology.SecretExternal, Handle: strings.TrimSpace(long.External)}
	}
	if set != 1 {
		return ref, fmt.Errorf("secret must declare exactly one of inline, file or external")
	}
	return ref, nil
}

type volumeDoc struct {
	Driver   string `yaml:"driver"`
	External bool   `yaml:"external"`
}

type networkDoc struct {
	Driver   string `yaml:"driver"`
	Internal bool   `yaml:"internal"`
}

func declarations(c docContext, vols map[string]volumeDoc, nets map[string]networkDoc, secrets map[string]yaml.Node) (map[string]topology.Volume, map[string]topology.Network, map[string]topology.SecretRef, error) {
	outVols := map[string]topology.Volume{}
	for name, v := range vols {
		if !validName(name) {
			return nil, nil, nil, c.failf("volumes."+name, "invalid volume name")
		}
		outVols[name] = topology.Volume{Name: name, Driver: v.Driver, External: v.External}
	}
	outNets := map[string]topology.Network{}
	for name, n := range nets {
		if !validName(name) {
			return nil, nil, nil, c.failf("networks."+name, "invalid network name")
		}
		outNets[name] = topology.Network{Name: name, Driver: n.Driver, Internal: n.Internal}
	}
	outSecrets := map[string]topology.SecretRef{}
	for name, node := range secrets {
		if !validName(name) {
			return nil, nil, nil, c.failf("secrets."+name, "invalid secret name")
		}
		node := node
		ref, err := decodeSecretSource(name, &node)
		if err != nil {
			return nil, nil, nil, c.fail("secrets."+name, err)
		}
		outSecrets[name] = ref
	}
	return outVols, outNets, outSecrets, nil
}
