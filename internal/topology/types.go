// File: internal/topology/types.go
// Brief: Service, build stage, secret and fragment model shared by every pipeline stage.

package topology

import (
	"sort"
	"time"
)

type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

type VolumeMode string

const (
	VolumeModeRW VolumeMode = "rw"
	VolumeModeRO VolumeMode = "ro"
)

type Condition string

const (
	ConditionStarted Condition = "started"
	ConditionHealthy Condition = "healthy"
)

// PortSpec is a container port exposed by a service.
// Origin is provenance only; it never takes part in equality and is never emitted.
type PortSpec struct {
	ContainerPort int
	Protocol      Protocol
	Origin        string
}

// EnvValue is either a literal value or a reference to a declared secret handle.
type EnvValue struct {
	Literal string
	Secret  string
}

func Literal(v string) EnvValue { return EnvValue{Literal: v} }

func SecretEnv(name string) EnvValue { return EnvValue{Secret: name} }

func (v EnvValue) IsSecret() bool { return v.Secret != "" }

type VolumeMount struct {
	Source string
	Target string
	Mode   VolumeMode
	Origin string
}

type Dependency struct {
	Service   string
	Condition Condition
	Origin    string
}

type NetworkRef struct {
	Name   string
	Origin string
}

type Healthcheck struct {
	Test     []string
	Interval time.Duration
	Timeout  time.Duration
	Retries  int
}

// ServiceNode is one runtime unit of the composed application.
type ServiceNode struct {
	Name        string
	Image       string
	Command     []string
	Ports       []PortSpec
	Environment map[string]EnvValue
	Volumes     []VolumeMount
	DependsOn   []Dependency
	Healthcheck *Healthcheck
	Networks    []NetworkRef
	Labels      map[string]string
	Restart     string
}

type SecretSourceKind string

const (
	SecretInline   SecretSourceKind = "inline"
	SecretFile     SecretSourceKind = "file"
	SecretExternal SecretSourceKind = "external"
)

// SecretSource describes where a secret comes from. Only the field matching Kind is set.
// External sources carry a secret:// handle and nothing else.
type SecretSource struct {
	Kind   SecretSourceKind
	Value  string
	Path   string
	Handle string
}

// SecretRef is a named handle. The composition core never reads the underlying value.
type SecretRef struct {
	Name   string
	Source SecretSource
}

type Volume struct {
	Name     string
	Driver   string
	External bool
}

type Network struct {
	Name     string
	Driver   string
	Internal bool
}

// StageBase names exactly one of a prior stage or an external image.
type StageBase struct {
	Stage string
	Image string
}

func (b StageBase) IsZero() bool { return b.Stage == "" && b.Image == "" }

// CopySpec copies Src out of a prior stage (From) or an external image (FromImage) to Dst.
type CopySpec struct {
	From      string
	FromImage string
	Src       string
	Dst       string
	Origin    string
}

// BuildStage is one step of a multi-stage image build.
type BuildStage struct {
	Name     string
	Base     StageBase
	Copies   []CopySpec
	Args     map[string]*string
	Platform string
}

type OpKind string

const (
	OpSet    OpKind = "set"
	OpMerge  OpKind = "merge"
	OpAppend OpKind = "append"
	OpRemove OpKind = "remove"
)

// PatchOp is one typed edit of a node field. Value holds the Go type LookupPath
// reports for the field (see schema.go).
type PatchOp struct {
	Target string
	Path   string
	Op     OpKind
	Value  any
}

// Fragment is an independently authored, immutable override module.
type Fragment struct {
	ID            string
	Targets       []string
	Ops           []PatchOp
	Requires      []string
	ConflictsWith []string
	Volumes       map[string]Volume
	Networks      map[string]Network
	Secrets       map[string]SecretRef
	Source        string
}

// Topology is the full service and build graph. Treat it as a value: use Clone
// before mutating a topology that someone else holds.
type Topology struct {
	Services map[string]*ServiceNode
	Volumes  map[string]Volume
	Networks map[string]Network
	Secrets  map[string]SecretRef
	Stages   map[string]*BuildStage
}

func New() *Topology {
	return &Topology{
		Services: map[string]*ServiceNode{},
		Volumes:  map[string]Volume{},
		Networks: map[string]Network{},
		Secrets:  map[string]SecretRef{},
		Stages:   map[string]*BuildStage{},
	}
}

// ServiceNames returns service names in lexical order.
func (t *Topology) ServiceNames() []string {
	if t == nil {
		return nil
	}
	return sortedKeys(t.Services)
}

// StageNames returns build stage names in lexical order.
func (t *Topology) StageNames() []string {
	if t == nil {
		return nil
	}
	return sortedKeys(t.Stages)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
