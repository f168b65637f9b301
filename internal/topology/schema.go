// File: internal/topology/schema.go
// Brief: Patch target addressing and the table of patchable field paths.

package topology

import (
	"fmt"
	"strings"
)

type TargetKind string

const (
	TargetService TargetKind = "services"
	TargetStage   TargetKind = "stages"
)

// Target addresses one node. "stages/<name>" is a build stage, a bare name or
// "services/<name>" is a service.
type Target struct {
	Kind TargetKind
	Name string
}

func (t Target) String() string {
	return string(t.Kind) + "/" + t.Name
}

func ParseTarget(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{}, fmt.Errorf("target is empty")
	}
	kind := TargetService
	name := raw
	if prefix, rest, ok := strings.Cut(raw, "/"); ok {
		switch TargetKind(prefix) {
		case TargetService, TargetStage:
			kind = TargetKind(prefix)
			name = rest
		default:
			return Target{}, fmt.Errorf("target %q has unknown kind %q (expected services or stages)", raw, prefix)
		}
	}
	name = strings.TrimSpace(name)
	if name == "" || strings.Contains(name, "/") {
		return Target{}, fmt.Errorf("target %q has an invalid name", raw)
	}
	return Target{Kind: kind, Name: name}, nil
}

type FieldKind int

const (
	FieldScalar FieldKind = iota
	FieldMapping
	FieldMappingKey
	FieldSequence
)

func (k FieldKind) String() string {
	switch k {
	case FieldScalar:
		return "scalar"
	case FieldMapping:
		return "mapping"
	case FieldMappingKey:
		return "mapping entry"
	case FieldSequence:
		return "sequence"
	default:
		return "unknown"
	}
}

// Field is a resolved patch path. Key is set for "<mapping>.<key>" paths.
//
// Value types carried by PatchOp for each field:
//
//	image, restart, platform          string
//	command                           []string
//	healthcheck                       *Healthcheck
//	base                              StageBase
//	environment / environment.KEY     map[string]EnvValue / EnvValue
//	labels / labels.KEY               map[string]string / string
//	args / args.NAME                  map[string]*string / *string
//	ports, volumes, networks          PortSpec, VolumeMount, NetworkRef
//	dependsOn                         Dependency ([]Dependency for merge)
//	copies                            CopySpec
//
// Mapping removes take []string keys (no keys clears the mapping); scalar and key
// removes take no value.
type Field struct {
	Target TargetKind
	Name   string
	Key    string
	Kind   FieldKind
}

func (f Field) String() string {
	if f.Key != "" {
		return f.Name + "." + f.Key
	}
	return f.Name
}

// Allows reports whether op can be applied to the field.
func (f Field) Allows(op OpKind) bool {
	switch f.Kind {
	case FieldScalar, FieldMappingKey:
		return op == OpSet || op == OpRemove
	case FieldMapping:
		return op == OpMerge || op == OpRemove
	case FieldSequence:
		if op == OpMerge {
			return f.Name == "dependsOn"
		}
		return op == OpAppend || op == OpRemove
	}
	return false
}

var patchSchema = map[TargetKind]map[string]FieldKind{
	TargetService: {
		"image":       FieldScalar,
		"command":     FieldScalar,
		"healthcheck": FieldScalar,
		"restart":     FieldScalar,
		"environment": FieldMapping,
		"labels":      FieldMapping,
		"ports":       FieldSequence,
		"volumes":     FieldSequence,
		"networks":    FieldSequence,
		"dependsOn":   FieldSequence,
	},
	TargetStage: {
		"base":     FieldScalar,
		"platform": FieldScalar,
		"args":     FieldMapping,
		"copies":   FieldSequence,
	},
}

// LookupPath resolves a patch path for the given target kind.
func LookupPath(kind TargetKind, path string) (Field, error) {
	fields, ok := patchSchema[kind]
	if !ok {
		return Field{}, fmt.Errorf("unknown target kind %q", kind)
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return Field{}, fmt.Errorf("path is empty")
	}
	name, key, hasKey := strings.Cut(path, ".")
	fk, ok := fields[name]
	if !ok {
		return Field{}, fmt.Errorf("path %q is not patchable on %s", path, kind)
	}
	if !hasKey {
		return Field{Target: kind, Name: name, Kind: fk}, nil
	}
	if fk != FieldMapping {
		return Field{}, fmt.Errorf("path %q addresses a key inside %s field %q", path, fk, name)
	}
	if strings.TrimSpace(key) == "" {
		return Field{}, fmt.Errorf("path %q has an empty key", path)
	}
	return Field{Target: kind, Name: name, Key: key, Kind: FieldMappingKey}, nil
}

// Provenance maps a field address to the fragment that last wrote it.
type Provenance map[string]string

// FieldAddress is the Provenance key of a node field.
func FieldAddress(t Target, path string) string {
	return t.String() + "#" + path
}
