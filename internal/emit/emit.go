// File: internal/emit/emit.go
// Brief: Deterministic manifest and build plan rendering for resolved topologies.

package emit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/stackfuse/internal/resolve"
	"github.com/example/stackfuse/pkg/compose"
	"github.com/opencontainers/go-digest"
	"gopkg.in/yaml.v3"
)

const APIVersion = "stackfuse.dev/v1"

// ErrIncompleteTopology is returned when the emitter is handed a topology that
// did not come out of the resolver.
var ErrIncompleteTopology = errors.New("topology is incomplete: resolve a validated topology before emitting")

type Format string

const (
	FormatYAML    Format = "yaml"
	FormatJSON    Format = "json"
	FormatCompose Format = "compose"
)

func ParseFormat(raw string) (Format, error) {
	switch Format(raw) {
	case "", FormatYAML:
		return FormatYAML, nil
	case FormatJSON, FormatCompose:
		return Format(raw), nil
	}
	return "", fmt.Errorf("unknown format %q (expected yaml, json or compose)", raw)
}

type Options struct {
	Format Format
	// ProjectName names the compose project. Only used by the compose format.
	ProjectName string
}

// Emit serializes a resolved topology. Identical input gives byte-identical
// output: mapping keys are sorted and services follow start order.
func Emit(ot *resolve.OrderedTopology, opts Options) ([]byte, error) {
	if !ot.Validated() {
		return nil, ErrIncompleteTopology
	}
	switch opts.Format {
	case "", FormatYAML:
		return marshalYAML(manifest(ot))
	case FormatJSON:
		return marshalJSON(manifest(ot))
	case FormatCompose:
		name := opts.ProjectName
		if name == "" {
			name = "stackfuse"
		}
		project, err := compose.ToProject(ot, name)
		if err != nil {
			return nil, err
		}
		return marshalYAML(project)
	default:
		return nil, fmt.Errorf("unknown format %q", opts.Format)
	}
}

// EmitBuildPlan serializes the build stages in build order with their effective args.
func EmitBuildPlan(ot *resolve.OrderedTopology, opts Options) ([]byte, error) {
	if !ot.Validated() {
		return nil, ErrIncompleteTopology
	}
	switch opts.Format {
	case "", FormatYAML:
		return marshalYAML(buildPlan(ot))
	case FormatJSON:
		return marshalJSON(buildPlan(ot))
	default:
		return nil, fmt.Errorf("build plans support yaml and json, not %q", opts.Format)
	}
}

// Digest returns the sha256 content digest of an emitted document.
func Digest(doc []byte) string {
	return digest.FromBytes(doc).String()
}

func marshalYAML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	return buf.Bytes(), nil
}

func marshalJSON(v any) ([]byte, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return append(raw, '\n'), nil
}
