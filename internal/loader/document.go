// File: internal/loader/document.go
// Brief: Document header handling and strict YAML decoding.

package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const APIVersion = "stackfuse.dev/v1"

const (
	KindTopology   = "Topology"
	KindFragment   = "Fragment"
	KindBuildGraph = "BuildGraph"
	KindSecrets    = "Secrets"
)

var nameRE = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

func validName(name string) bool {
	return nameRE.MatchString(name)
}

// decodeStrict decodes one YAML document into out, rejecting unknown fields and
// checking apiVersion/kind when they are present.
func decodeStrict(c docContext, data []byte, kind string, out any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return c.failf("", "document is empty")
	}
	var head struct {
		APIVersion string `yaml:"apiVersion"`
		Kind       string `yaml:"kind"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return c.fail("", fmt.Errorf("parse yaml: %w", err))
	}
	if head.APIVersion != "" && head.APIVersion != APIVersion {
		return c.failf("apiVersion", "unsupported apiVersion %q (expected %s)", head.APIVersion, APIVersion)
	}
	if head.Kind != "" && head.Kind != kind {
		return c.failf("kind", "expected kind %s, got %s", kind, head.Kind)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return c.failf("", "document is empty")
		}
		return c.fail("", fmt.Errorf("decode %s: %s", strings.ToLower(kind), cleanYAMLError(err)))
	}
	return nil
}

// cleanYAMLError drops Go type names from yaml.v3 messages.
func cleanYAMLError(err error) string {
	msg := strings.TrimPrefix(err.Error(), "yaml: ")
	msg = typeNameRE.ReplaceAllString(msg, "")
	return strings.Join(strings.Fields(msg), " ")
}

var typeNameRE = regexp.MustCompile(` in type [\w.\[\]*]+`)
