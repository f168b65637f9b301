// File: internal/merge/merge.go
// Brief: Ordered fragment application over a cloned base topology.

package merge

import (
	"context"
	"fmt"
	"maps"

	"github.com/example/stackfuse/internal/topology"
)

// Trace records what composition did: the applied fragment order, which fragment
// last wrote each field, and which nodes fragments introduced.
type Trace struct {
	Applied    []string
	Provenance topology.Provenance
	Created    map[string]string
}

// Writer returns the fragment that last wrote path on target, or "" for base values.
func (t *Trace) Writer(target topology.Target, path string) string {
	if t == nil {
		return ""
	}
	return t.Provenance[topology.FieldAddress(target, path)]
}

// ApplyError reports an op whose value does not fit its field. Fragments built by
// the loader never produce one.
type ApplyError struct {
	FragmentID string
	Target     string
	Path       string
	Op         topology.OpKind
	Err        error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("fragment %q: %s %s on %s: %v", e.FragmentID, e.Op, e.Path, e.Target, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// Compose applies fragments strictly in the given order to a clone of base. Inputs
// are never mutated. Cancellation is checked between fragments and a cancelled
// run returns no topology.
func Compose(ctx context.Context, base *topology.Topology, fragments []*topology.Fragment) (*topology.Topology, *Trace, error) {
	work := base.Clone()
	trace := &Trace{
		Provenance: topology.Provenance{},
		Created:    map[string]string{},
	}
	for _, frag := range fragments {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if frag == nil {
			continue
		}
		if err := applyFragment(work, trace, frag); err != nil {
			return nil, nil, err
		}
		trace.Applied = append(trace.Applied, frag.ID)
	}
	return work, trace, nil
}

func applyFragment(work *topology.Topology, trace *Trace, frag *topology.Fragment) error {
	for name, v := range frag.Volumes {
		work.Volumes[name] = v
		trace.Provenance["volumes/"+name] = frag.ID
	}
	for name, n := range frag.Networks {
		work.Networks[name] = n
		trace.Provenance["networks/"+name] = frag.ID
	}
	for name, s := range frag.Secrets {
		work.Secrets[name] = s
		trace.Provenance["secrets/"+name] = frag.ID
	}

	for _, raw := range frag.Targets {
		t, err := topology.ParseTarget(raw)
		if err != nil {
			return &ApplyError{FragmentID: frag.ID, Target: raw, Err: err}
		}
		ensureNode(work, trace, t, frag.ID)
	}

	for _, op := range frag.Ops {
		t, err := topology.ParseTarget(op.Target)
		if err != nil {
			return &ApplyError{FragmentID: frag.ID, Target: op.Target, Path: op.Path, Op: op.Op, Err: err}
		}
		field, err := topology.LookupPath(t.Kind, op.Path)
		if err == nil && !field.Allows(op.Op) {
			err = fmt.Errorf("op not allowed on %s field", field.Kind)
		}
		if err == nil {
			ensureNode(work, trace, t, frag.ID)
			switch t.Kind {
			case topology.TargetService:
				err = applyService(work.Services[t.Name], field, op, frag.ID)
			case topology.TargetStage:
				err = applyStage(work.Stages[t.Name], field, op, frag.ID)
			}
		}
		if err != nil {
			return &ApplyError{FragmentID: frag.ID, Target: t.String(), Path: op.Path, Op: op.Op, Err: err}
		}
		recordProvenance(trace, t, field, op, frag.ID)
	}
	return nil
}

// ensureNode introduces a node absent from the working topology with only its name set.
func ensureNode(work *topology.Topology, trace *Trace, t topology.Target, fragID string) {
	switch t.Kind {
	case topology.TargetService:
		if _, ok := work.Services[t.Name]; !ok {
			work.Services[t.Name] = &topology.ServiceNode{Name: t.Name}
			trace.Created[t.String()] = fragID
		}
	case topology.TargetStage:
		if _, ok := work.Stages[t.Name]; !ok {
			work.Stages[t.Name] = &topology.BuildStage{Name: t.Name}
			trace.Created[t.String()] = fragID
		}
	}
}

func recordProvenance(trace *Trace, t topology.Target, f topology.Field, op topology.PatchOp, fragID string) {
	trace.Provenance[topology.FieldAddress(t, f.String())] = fragID
	if f.Kind != topology.FieldMapping || op.Op != topology.OpMerge {
		return
	}
	var keys []string
	switch v := op.Value.(type) {
	case map[string]topology.EnvValue:
		keys = keysOf(v)
	case map[string]string:
		keys = keysOf(v)
	case map[string]*string:
		keys = keysOf(v)
	}
	for _, k := range keys {
		trace.Provenance[topology.FieldAddress(t, f.Name+"."+k)] = fragID
	}
}

func keysOf[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range maps.Keys(m) {
		out = append(out, k)
	}
	return out
}
