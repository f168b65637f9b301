// File: internal/resolve/resolve.go
// Brief: Start/build ordering, readiness gates, secret injection plan and effective build args.

package resolve

import (
	"errors"
	"fmt"
	"sort"

	"github.com/example/stackfuse/internal/topology"
	"github.com/example/stackfuse/internal/validate"
)

// ErrNotValidated is returned when Resolve is handed a nil validation marker.
var ErrNotValidated = errors.New("topology has not passed validation")

// SecretsDir is where file and external secrets are mounted inside a container.
const SecretsDir = "/run/secrets"

type Options struct {
	// BuildArgs are caller supplied build args. Args no stage declares are ignored.
	BuildArgs map[string]string
}

// Gate is a readiness requirement: Service may only start once WaitsFor reports
// Condition. Gates are descriptive; nothing is executed.
type Gate struct {
	Service   string             `json:"service"`
	WaitsFor  string             `json:"waitsFor"`
	Condition topology.Condition `json:"condition"`
}

type InjectionMode string

const (
	InjectEnv  InjectionMode = "env"
	InjectFile InjectionMode = "file"
)

// SecretInjection describes how one secret-valued environment variable reaches
// its container. For file injections Target is the mount path and Variable+"_FILE"
// carries it.
type SecretInjection struct {
	Service  string                    `json:"service"`
	Variable string                    `json:"variable"`
	Secret   string                    `json:"secret"`
	Source   topology.SecretSourceKind `json:"source"`
	Mode     InjectionMode             `json:"mode"`
	Target   string                    `json:"target,omitempty"`
	Handle   string                    `json:"handle,omitempty"`
}

// FileVariable is the environment variable that points at a file injection.
func (s SecretInjection) FileVariable() string { return s.Variable + "_FILE" }

type ArgSource string

const (
	ArgCaller  ArgSource = "caller"
	ArgDefault ArgSource = "default"
	ArgUnset   ArgSource = "unset"
)

type StageArg struct {
	Name   string    `json:"name"`
	Value  *string   `json:"value,omitempty"`
	Source ArgSource `json:"source"`
}

// OrderedTopology is a validated topology with every ordering decision made.
// Services and Stages are listed in start and build order.
type OrderedTopology struct {
	Services    []*topology.ServiceNode
	StartOrder  []string
	StartGroups [][]string
	Stages      []*topology.BuildStage
	BuildOrder  []string
	BuildGroups [][]string
	Gates       []Gate
	Injections  []SecretInjection
	StageArgs   map[string][]StageArg
	Volumes     map[string]topology.Volume
	Networks    map[string]topology.Network
	Secrets     map[string]topology.SecretRef
	Applied     []string
	Warnings    []validate.Diagnostic

	topo      *topology.Topology
	validated bool
}

// Validated reports whether ot came out of Resolve.
func (ot *OrderedTopology) Validated() bool {
	return ot != nil && ot.validated
}

// Service returns the resolved service by name.
func (ot *OrderedTopology) Service(name string) *topology.ServiceNode {
	for _, s := range ot.Services {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// InjectionsFor returns the secret injections of one service in variable order.
func (ot *OrderedTopology) InjectionsFor(service string) []SecretInjection {
	var out []SecretInjection
	for _, inj := range ot.Injections {
		if inj.Service == service {
			out = append(out, inj)
		}
	}
	return out
}

// Resolve computes start order, build order, readiness gates, the secret injection
// plan and effective build args. It only accepts a topology that passed validation.
func Resolve(v *validate.Validated, opts Options) (*OrderedTopology, error) {
	if v == nil {
		return nil, ErrNotValidated
	}
	topo := v.Topology()

	startGraph := topo.ServiceGraph()
	startOrder, err := startGraph.Order()
	if err != nil {
		return nil, fmt.Errorf("start order: %w", err)
	}
	startGroups, err := startGraph.Groups()
	if err != nil {
		return nil, fmt.Errorf("start groups: %w", err)
	}
	buildGraph := topo.BuildGraph()
	buildOrder, err := buildGraph.Order()
	if err != nil {
		return nil, fmt.Errorf("build order: %w", err)
	}
	buildGroups, err := buildGraph.Groups()
	if err != nil {
		return nil, fmt.Errorf("build groups: %w", err)
	}

	ot := &OrderedTopology{
		StartOrder:  startOrder,
		StartGroups: startGroups,
		BuildOrder:  buildOrder,
		BuildGroups: buildGroups,
		StageArgs:   map[string][]StageArg{},
		Volumes:     topo.Volumes,
		Networks:    topo.Networks,
		Secrets:     topo.Secrets,
		Applied:     v.Applied(),
		Warnings:    v.Warnings(),
		topo:        topo,
		validated:   true,
	}
	for _, name := range startOrder {
		svc := normalizeService(topo.Services[name])
		ot.Services = append(ot.Services, svc)
		for _, d := range svc.DependsOn {
			if d.Condition == topology.ConditionHealthy {
				ot.Gates = append(ot.Gates, Gate{Service: name, WaitsFor: d.Service, Condition: d.Condition})
			}
		}
		ot.Injections = append(ot.Injections, injections(svc, topo.Secrets)...)
	}
	for _, name := range buildOrder {
		st := normalizeStage(topo.Stages[name])
		ot.Stages = append(ot.Stages, st)
		ot.StageArgs[name] = effectiveArgs(st, opts.BuildArgs)
	}
	return ot, nil
}

func injections(svc *topology.ServiceNode, secrets map[string]topology.SecretRef) []SecretInjection {
	vars := make([]string, 0, len(svc.Environment))
	for k, v := range svc.Environment {
		if v.IsSecret() {
			vars = append(vars, k)
		}
	}
	sort.Strings(vars)
	out := make([]SecretInjection, 0, len(vars))
	for _, k := range vars {
		name := svc.Environment[k].Secret
		ref := secrets[name]
		inj := SecretInjection{
			Service:  svc.Name,
			Variable: k,
			Secret:   name,
			Source:   ref.Source.Kind,
			Mode:     InjectFile,
			Target:   SecretsDir + "/" + name,
		}
		switch ref.Source.Kind {
		case topology.SecretInline:
			inj.Mode = InjectEnv
			inj.Target = ""
		case topology.SecretExternal:
			inj.Handle = ref.Source.Handle
		}
		out = append(out, inj)
	}
	return out
}

func effectiveArgs(st *topology.BuildStage, caller map[string]string) []StageArg {
	names := make([]string, 0, len(st.Args))
	for k := range st.Args {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make([]StageArg, 0, len(names))
	for _, k := range names {
		arg := StageArg{Name: k, Source: ArgUnset}
		if v, ok := caller[k]; ok {
			arg.Value, arg.Source = &v, ArgCaller
		} else if def := st.Args[k]; def != nil {
			d := *def
			arg.Value, arg.Source = &d, ArgDefault
		}
		out = append(out, arg)
	}
	return out
}
