// File: internal/merge/ops.go
// Brief: set/merge/append/remove semantics per field kind.

package merge

import (
	"fmt"
	"slices"

	"github.com/example/stackfuse/internal/topology"
)

func applyService(svc *topology.ServiceNode, f topology.Field, op topology.PatchOp, origin string) error {
	switch f.Name {
	case "image":
		return applyScalar(&svc.Image, op)
	case "restart":
		return applyScalar(&svc.Restart, op)
	case "command":
		return applyScalar(&svc.Command, op)
	case "healthcheck":
		return applyScalar(&svc.Healthcheck, op)
	case "environment":
		return applyMapping(&svc.Environment, f, op)
	case "labels":
		return applyMapping(&svc.Labels, f, op)
	case "ports":
		return applySequence(&svc.Ports, op, origin, func(p *topology.PortSpec, o string) { p.Origin = o }, portMatches)
	case "volumes":
		return applySequence(&svc.Volumes, op, origin, func(v *topology.VolumeMount, o string) { v.Origin = o }, volumeMatches)
	case "networks":
		return applySequence(&svc.Networks, op, origin, func(n *topology.NetworkRef, o string) { n.Origin = o }, networkMatches)
	case "dependsOn":
		if op.Op == topology.OpMerge {
			return mergeDependsOn(svc, op, origin)
		}
		return applySequence(&svc.DependsOn, op, origin, func(d *topology.Dependency, o string) { d.Origin = o }, dependencyMatches)
	}
	return fmt.Errorf("unknown service field %q", f.Name)
}

func applyStage(st *topology.BuildStage, f topology.Field, op topology.PatchOp, origin string) error {
	switch f.Name {
	case "base":
		return applyScalar(&st.Base, op)
	case "platform":
		return applyScalar(&st.Platform, op)
	case "args":
		return applyMapping(&st.Args, f, op)
	case "copies":
		return applySequence(&st.Copies, op, origin, func(c *topology.CopySpec, o string) { c.Origin = o }, copyMatches)
	}
	return fmt.Errorf("unknown stage field %q", f.Name)
}

// applyScalar overwrites on set and resets to the zero value on remove.
func applyScalar[T any](dst *T, op topology.PatchOp) error {
	switch op.Op {
	case topology.OpRemove:
		var zero T
		*dst = zero
		return nil
	case topology.OpSet:
		v, ok := op.Value.(T)
		if !ok {
			return valueTypeError[T](op.Value)
		}
		*dst = detach(v)
		return nil
	}
	return fmt.Errorf("op %s not supported on scalar", op.Op)
}

// applyMapping handles whole-mapping merge/remove and single-key set/remove.
// Merge is key-wise: fragment keys win, other keys stay.
func applyMapping[V any](dst *map[string]V, f topology.Field, op topology.PatchOp) error {
	if f.Kind == topology.FieldMappingKey {
		switch op.Op {
		case topology.OpSet:
			v, ok := op.Value.(V)
			if !ok {
				return valueTypeError[V](op.Value)
			}
			if *dst == nil {
				*dst = map[string]V{}
			}
			(*dst)[f.Key] = detach(v)
			return nil
		case topology.OpRemove:
			delete(*dst, f.Key)
			return nil
		}
		return fmt.Errorf("op %s not supported on mapping entry", op.Op)
	}
	switch op.Op {
	case topology.OpMerge:
		m, ok := op.Value.(map[string]V)
		if !ok {
			return valueTypeError[map[string]V](op.Value)
		}
		if *dst == nil {
			*dst = make(map[string]V, len(m))
		}
		for k, v := range m {
			(*dst)[k] = detach(v)
		}
		return nil
	case topology.OpRemove:
		if op.Value == nil {
			*dst = nil
			return nil
		}
		keys, ok := op.Value.([]string)
		if !ok {
			return valueTypeError[[]string](op.Value)
		}
		if keys == nil {
			*dst = nil
			return nil
		}
		for _, k := range keys {
			delete(*dst, k)
		}
		return nil
	}
	return fmt.Errorf("op %s not supported on mapping", op.Op)
}

// applySequence appends without deduplication, or removes every entry matching
// the predicate value. Removing with no match is a no-op.
func applySequence[T any](dst *[]T, op topology.PatchOp, origin string, setOrigin func(*T, string), matches func(entry, pred T) bool) error {
	v, ok := op.Value.(T)
	if !ok {
		return valueTypeError[T](op.Value)
	}
	switch op.Op {
	case topology.OpAppend:
		setOrigin(&v, origin)
		*dst = append(*dst, v)
		return nil
	case topology.OpRemove:
		if len(*dst) == 0 {
			return nil
		}
		kept := (*dst)[:0:0]
		for _, entry := range *dst {
			if !matches(entry, v) {
				kept = append(kept, entry)
			}
		}
		if len(kept) == 0 {
			kept = nil
		}
		*dst = kept
		return nil
	}
	return fmt.Errorf("op %s not supported on sequence", op.Op)
}

// mergeDependsOn treats dependsOn as a set keyed by service: existing entries get
// the fragment's condition, new services are appended.
func mergeDependsOn(svc *topology.ServiceNode, op topology.PatchOp, origin string) error {
	deps, ok := op.Value.([]topology.Dependency)
	if !ok {
		return valueTypeError[[]topology.Dependency](op.Value)
	}
	for _, d := range deps {
		d.Origin = origin
		replaced := false
		for i := range svc.DependsOn {
			if svc.DependsOn[i].Service == d.Service {
				svc.DependsOn[i] = d
				replaced = true
			}
		}
		if !replaced {
			svc.DependsOn = append(svc.DependsOn, d)
		}
	}
	return nil
}

// Predicates: a zero predicate field matches anything.

func portMatches(e, p topology.PortSpec) bool {
	return (p.ContainerPort == 0 || e.ContainerPort == p.ContainerPort) &&
		(p.Protocol == "" || e.Protocol == p.Protocol)
}

func volumeMatches(e, p topology.VolumeMount) bool {
	return (p.Source == "" || e.Source == p.Source) &&
		(p.Target == "" || e.Target == p.Target) &&
		(p.Mode == "" || e.Mode == p.Mode)
}

func networkMatches(e, p topology.NetworkRef) bool {
	return e.Name == p.Name
}

func dependencyMatches(e, p topology.Dependency) bool {
	return (p.Service == "" || e.Service == p.Service) &&
		(p.Condition == "" || e.Condition == p.Condition)
}

func copyMatches(e, p topology.CopySpec) bool {
	return (p.From == "" || e.From == p.From) &&
		(p.FromImage == "" || e.FromImage == p.FromImage) &&
		(p.Src == "" || e.Src == p.Src) &&
		(p.Dst == "" || e.Dst == p.Dst)
}

// detach copies fragment values that carry references so the composed
// topology never shares memory with a fragment.
func detach[T any](v T) T {
	var out any = v
	switch x := out.(type) {
	case []string:
		out = slices.Clone(x)
	case *topology.Healthcheck:
		out = x.Clone()
	case *string:
		if x != nil {
			c := *x
			out = &c
		}
	}
	return out.(T)
}

func valueTypeError[T any](got any) error {
	var want T
	return fmt.Errorf("value has type %T, want %T", got, want)
}
