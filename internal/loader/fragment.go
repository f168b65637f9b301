// File: internal/loader/fragment.go
// Brief: Override fragment decoding with typed patch values.

package loader

import (
	"fmt"
	"strings"

	"github.com/example/stackfuse/internal/topology"
	"gopkg.in/yaml.v3"
)

type opDoc struct {
	Target string    `yaml:"target"`
	Op     string    `yaml:"op"`
	Path   string    `yaml:"path"`
	Value  yaml.Node `yaml:"value"`
}

type fragmentDoc struct {
	APIVersion    string                `yaml:"apiVersion"`
	Kind          string                `yaml:"kind"`
	ID            string                `yaml:"id"`
	Targets       []string              `yaml:"targets"`
	Requires      []string              `yaml:"requires"`
	ConflictsWith []string              `yaml:"conflictsWith"`
	Volumes       map[string]volumeDoc  `yaml:"volumes"`
	Networks      map[string]networkDoc `yaml:"networks"`
	Secrets       map[string]yaml.Node  `yaml:"secrets"`
	Ops           []opDoc               `yaml:"ops"`
}

// ParseFragment decodes one override fragment. An op without a target applies to
// every declared target in declaration order; an op naming a target that is not
// declared is rejected.
func ParseFragment(source string, data []byte) (*topology.Fragment, error) {
	c := docContext{source: source}
	var doc fragmentDoc
	if err := decodeStrict(c, data, KindFragment, &doc); err != nil {
		return nil, err
	}
	doc.ID = strings.TrimSpace(doc.ID)
	if doc.ID == "" {
		return nil, c.failf("id", "fragment id is required")
	}
	if !validName(doc.ID) {
		return nil, c.failf("id", "invalid fragment id %q", doc.ID)
	}
	c.id = doc.ID

	frag := &topology.Fragment{ID: doc.ID, Source: source}

	targets := make([]topology.Target, 0, len(doc.Targets))
	seen := map[topology.Target]struct{}{}
	for i, raw := range doc.Targets {
		t, err := topology.ParseTarget(raw)
		if err != nil {
			return nil, c.fail(fmt.Sprintf("targets[%d]", i), err)
		}
		if _, dup := seen[t]; dup {
			return nil, c.failf(fmt.Sprintf("targets[%d]", i), "duplicate target %s", t)
		}
		seen[t] = struct{}{}
		targets = append(targets, t)
		frag.Targets = append(frag.Targets, t.String())
	}

	var err error
	if frag.Requires, err = idList(c, "requires", doc.ID, doc.Requires); err != nil {
		return nil, err
	}
	if frag.ConflictsWith, err = idList(c, "conflictsWith", doc.ID, doc.ConflictsWith); err != nil {
		return nil, err
	}
	for _, r := range frag.Requires {
		for _, x := range frag.ConflictsWith {
			if r == x {
				return nil, c.failf("conflictsWith", "fragment both requires and conflicts with %q", r)
			}
		}
	}

	if frag.Volumes, frag.Networks, frag.Secrets, err = declarations(c, doc.Volumes, doc.Networks, doc.Secrets); err != nil {
		return nil, err
	}

	if len(doc.Ops) > 0 && len(targets) == 0 {
		return nil, c.failf("targets", "fragment has ops but declares no targets")
	}
	for i, od := range doc.Ops {
		field := fmt.Sprintf("ops[%d]", i)
		opTargets := targets
		if strings.TrimSpace(od.Target) != "" {
			t, err := topology.ParseTarget(od.Target)
			if err != nil {
				return nil, c.fail(field+".target", err)
			}
			if _, ok := seen[t]; !ok {
				return nil, c.failf(field+".target", "target %s is not listed in targets", t)
			}
			opTargets = []topology.Target{t}
		}
		for _, t := range opTargets {
			op, err := decodeOp(od, t)
			if err != nil {
				return nil, c.fail(field, err)
			}
			frag.Ops = append(frag.Ops, op)
		}
	}
	return frag, nil
}

func idList(c docContext, field, self string, ids []string) ([]string, error) {
	var out []string
	seen := map[string]struct{}{}
	for i, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, c.failf(fmt.Sprintf("%s[%d]", field, i), "fragment id is empty")
		}
		if id == self {
			return nil, c.failf(fmt.Sprintf("%s[%d]", field, i), "fragment references itself")
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

func decodeOp(od opDoc, t topology.Target) (topology.PatchOp, error) {
	kind := topology.OpKind(strings.ToLower(strings.TrimSpace(od.Op)))
	switch kind {
	case topology.OpSet, topology.OpMerge, topology.OpAppend, topology.OpRemove:
	case "":
		return topology.PatchOp{}, fmt.Errorf("op is required")
	default:
		return topology.PatchOp{}, fmt.Errorf("unknown op %q (expected set, merge, append or remove)", od.Op)
	}
	field, err := topology.LookupPath(t.Kind, od.Path)
	if err != nil {
		return topology.PatchOp{}, err
	}
	if !field.Allows(kind) {
		return topology.PatchOp{}, fmt.Errorf("op %s is not allowed on %s field %q", kind, field.Kind, field)
	}
	op := topology.PatchOp{Target: t.String(), Path: field.String(), Op: kind}
	value := &od.Value
	if kind == topology.OpRemove {
		op.Value, err = decodeRemoveValue(field, value)
	} else {
		if !present(value) {
			return topology.PatchOp{}, fmt.Errorf("%s %s requires a value", kind, field)
		}
		op.Value, err = decodeSetValue(field, kind, value)
	}
	if err != nil {
		return topology.PatchOp{}, fmt.Errorf("%s: %w", field, err)
	}
	return op, nil
}

func decodeSetValue(f topology.Field, kind topology.OpKind, n *yaml.Node) (any, error) {
	switch f.Kind {
	case topology.FieldScalar:
		switch f.Name {
		case "image":
			s, err := scalarString(n)
			if err != nil {
				return nil, err
			}
			return checkImage(s)
		case "restart":
			return scalarString(n)
		case "platform":
			s, err := scalarString(n)
			if err != nil {
				return nil, err
			}
			return checkPlatform(s)
		case "command":
			return decodeCommand(n)
		case "healthcheck":
			return decodeHealthcheck(n)
		case "base":
			return decodeBase(n)
		}
	case topology.FieldMapping:
		switch f.Name {
		case "environment":
			return decodeEnvironment(n)
		case "labels":
			return decodeStringMap(n)
		case "args":
			return decodeArgs(n)
		}
	case topology.FieldMappingKey:
		switch f.Name {
		case "environment":
			return decodeEnvValue(n)
		case "labels":
			return scalarString(n)
		case "args":
			return decodeOptionalString(n)
		}
	case topology.FieldSequence:
		if kind == topology.OpMerge {
			return decodeDependsOn(n)
		}
		return decodeEntry(f, n, true)
	}
	return nil, fmt.Errorf("no decoder for field")
}

// decodeRemoveValue decodes the value of a remove op: a key list for mappings, an
// entry predicate for sequences and nothing for scalars and mapping keys.
func decodeRemoveValue(f topology.Field, n *yaml.Node) (any, error) {
	switch f.Kind {
	case topology.FieldScalar, topology.FieldMappingKey:
		if present(n) {
			return nil, fmt.Errorf("remove takes no value")
		}
		return nil, nil
	case topology.FieldMapping:
		if !present(n) {
			return []string(nil), nil
		}
		if deref(n).Kind == yaml.ScalarNode {
			s, _ := scalarString(n)
			return []string{s}, nil
		}
		return stringList(n)
	case topology.FieldSequence:
		if !present(n) {
			return nil, fmt.Errorf("remove requires a predicate value")
		}
		return decodeEntry(f, n, false)
	}
	return nil, fmt.Errorf("no decoder for field")
}

func decodeEntry(f topology.Field, n *yaml.Node, defaults bool) (any, error) {
	switch f.Name {
	case "ports":
		return decodePort(n, defaults)
	case "volumes":
		return decodeVolumeMount(n, defaults)
	case "networks":
		return decodeNetworkRef(n)
	case "dependsOn":
		return decodeDependency(n, defaults)
	case "copies":
		return decodeCopy(n, defaults)
	}
	return nil, fmt.Errorf("no decoder for sequence %q", f.Name)
}
