// Package buildkit derives build stage graphs from multi-stage Dockerfiles using
// the BuildKit Dockerfile parser.
package buildkit

import (
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/example/stackfuse/internal/topology"
	"github.com/mitchellh/go-homedir"
	"github.com/moby/buildkit/frontend/dockerfile/parser"
)

// ImportDockerfile parses a Dockerfile from disk. See ParseDockerfile.
func ImportDockerfile(dockerfilePath string) ([]*topology.BuildStage, error) {
	expanded, err := homedir.Expand(dockerfilePath)
	if err != nil {
		return nil, fmt.Errorf("expand %s: %w", dockerfilePath, err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		return nil, fmt.Errorf("stat dockerfile: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("dockerfile path %s is a directory", expanded)
	}
	f, err := os.Open(expanded)
	if err != nil {
		return nil, fmt.Errorf("open dockerfile %s: %w", expanded, err)
	}
	defer f.Close()
	stages, err := ParseDockerfile(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", expanded, err)
	}
	return stages, nil
}

// ParseDockerfile maps every FROM to a build stage in file order. Unnamed stages
// are called stage-<index>. A FROM or COPY --from naming an earlier stage (by
// name or index) becomes a stage edge; anything else is an external image.
// ARGs before the first FROM only matter when a stage redeclares them without a
// default, in which case the global default is inherited. COPY without --from
// reads the build context and is not part of the graph.
func ParseDockerfile(r io.Reader) ([]*topology.BuildStage, error) {
	res, err := parser.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse dockerfile: %w", err)
	}
	var (
		stages  []*topology.BuildStage
		byName  = map[string]string{}
		globals = map[string]*string{}
		cur     *topology.BuildStage
	)
	lookup := func(ref string) (string, bool) {
		if name, ok := byName[strings.ToLower(ref)]; ok {
			return name, true
		}
		if idx, err := strconv.Atoi(ref); err == nil && idx >= 0 && idx < len(stages) {
			return stages[idx].Name, true
		}
		return "", false
	}

	for _, node := range res.AST.Children {
		switch strings.ToLower(node.Value) {
		case "from":
			args := words(node)
			if len(args) == 0 {
				return nil, fmt.Errorf("line %d: FROM needs an image", node.StartLine)
			}
			st := &topology.BuildStage{Name: fmt.Sprintf("stage-%d", len(stages))}
			if len(args) >= 3 && strings.EqualFold(args[1], "as") {
				st.Name = strings.ToLower(args[2])
			} else if len(args) != 1 {
				return nil, fmt.Errorf("line %d: FROM expects <image> [AS <name>]", node.StartLine)
			}
			if _, dup := byName[st.Name]; dup {
				return nil, fmt.Errorf("line %d: duplicate stage name %q", node.StartLine, st.Name)
			}
			if prior, ok := lookup(args[0]); ok {
				st.Base.Stage = prior
			} else {
				st.Base.Image = args[0]
			}
			if platform, ok := flagValue(node.Flags, "platform"); ok && !strings.Contains(platform, "$") {
				st.Platform = platform
			}
			stages = append(stages, st)
			byName[st.Name] = st.Name
			cur = st
		case "arg":
			for _, kv := range words(node) {
				name, def, hasDef := strings.Cut(kv, "=")
				var val *string
				if hasDef {
					d := strings.Trim(def, `"'`)
					val = &d
				}
				if cur == nil {
					globals[name] = val
					continue
				}
				if val == nil {
					if g, ok := globals[name]; ok && g != nil {
						inherited := *g
						val = &inherited
					}
				}
				if cur.Args == nil {
					cur.Args = map[string]*string{}
				}
				cur.Args[name] = val
			}
		case "copy":
			from, ok := flagValue(node.Flags, "from")
			if !ok || cur == nil {
				continue
			}
			args := words(node)
			if len(args) < 2 {
				return nil, fmt.Errorf("line %d: COPY needs a source and a destination", node.StartLine)
			}
			dst := args[len(args)-1]
			srcs := args[:len(args)-1]
			for _, src := range srcs {
				cp := topology.CopySpec{Src: src, Dst: dst}
				if len(srcs) > 1 {
					cp.Dst = path.Join(dst, path.Base(src))
				}
				if prior, ok := lookup(from); ok {
					cp.From = prior
				} else {
					cp.FromImage = from
				}
				cur.Copies = append(cur.Copies, cp)
			}
		}
	}
	if len(stages) == 0 {
		return nil, fmt.Errorf("dockerfile has no FROM instruction")
	}
	return stages, nil
}

func words(node *parser.Node) []string {
	var out []string
	for n := node.Next; n != nil; n = n.Next {
		out = append(out, n.Value)
	}
	return out
}

func flagValue(flags []string, name string) (string, bool) {
	prefix := "--" + name + "="
	for _, f := range flags {
		if strings.HasPrefix(f, prefix) {
			return strings.TrimPrefix(f, prefix), true
		}
	}
	return "", false
}
