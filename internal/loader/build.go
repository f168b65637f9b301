package loader

import (
	"fmt"

	"github.com/example/stackfuse/internal/topology"
	"gopkg.in/yaml.v3"
)

type stageDoc struct {
	Name     string      `yaml:"name"`
	Base     yaml.Node   `yaml:"base"`
	Platform string      `yaml:"platform"`
	Args     yaml.Node   `yaml:"args"`
	Copies   []yaml.Node `yaml:"copies"`
}

type buildGraphDoc struct {
	APIVersion string     `yaml:"apiVersion"`
	Kind       string     `yaml:"kind"`
	Stages     []stageDoc `yaml:"stages"`
}

// ParseBuildGraph decodes a multi-stage build document. Stages keep document order.
func ParseBuildGraph(source string, data []byte) ([]*topology.BuildStage, error) {
	c := docContext{source: source}
	var doc buildGraphDoc
	if err := decodeStrict(c, data, KindBuildGraph, &doc); err != nil {
		return nil, err
	}
	return convertStages(c, doc.Stages)
}

func convertStages(c docContext, docs []stageDoc) ([]*topology.BuildStage, error) {
	seen := map[string]struct{}{}
	out := make([]*topology.BuildStage, 0, len(docs))
	for i, sd := range docs {
		field := fmt.Sprintf("stages[%d]", i)
		if sd.Name == "" {
			return nil, c.failf(field+".name", "stage name is required")
		}
		if !validName(sd.Name) {
			return nil, c.failf(field+".name", "invalid stage name %q", sd.Name)
		}
		if _, dup := seen[sd.Name]; dup {
			return nil, c.failf(field+".name", "duplicate stage %q", sd.Name)
		}
		seen[sd.Name] = struct{}{}
		st := &topology.BuildStage{Name: sd.Name}
		if !present(&sd.Base) {
			return nil, c.failf(field+".base", "stage %q needs a base stage or image", sd.Name)
		}
		base, err := decodeBase(&sd.Base)
		if err != nil {
			return nil, c.fail(field+".base", err)
		}
		st.Base = base
		if st.Platform, err = checkPlatform(sd.Platform); err != nil {
			return nil, c.fail(field+".platform", err)
		}
		if present(&sd.Args) {
			if st.Args, err = decodeArgs(&sd.Args); err != nil {
				return nil, c.fail(field+".args", err)
			}
		}
		for j := range sd.Copies {
			cp, err := decodeCopy(&sd.Copies[j], true)
			if err != nil {
				return nil, c.fail(fmt.Sprintf("%s.copies[%d]", field, j), err)
			}
			st.Copies = append(st.Copies, cp)
		}
		out = append(out, st)
	}
	return out, nil
}
