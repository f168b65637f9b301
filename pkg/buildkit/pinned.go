package buildkit

import (
	"fmt"
	"strings"

	"github.com/distribution/reference"
	"github.com/example/stackfuse/internal/topology"
)

// UnpinnedImages lists every external image (stage bases and COPY --from images)
// that is not pinned by digest, as "<stage>: <image>". scratch and references
// built from ARGs are skipped.
func UnpinnedImages(stages []*topology.BuildStage) []string {
	var out []string
	check := func(stage, image string) {
		if image == "" || strings.EqualFold(image, "scratch") || strings.Contains(image, "$") {
			return
		}
		if pinned(image) {
			return
		}
		out = append(out, fmt.Sprintf("%s: %s", stage, image))
	}
	for _, st := range stages {
		check(st.Name, st.Base.Image)
		for _, cp := range st.Copies {
			check(st.Name, cp.FromImage)
		}
	}
	return out
}

// RequirePinned fails when any external image is referenced by tag only.
func RequirePinned(stages []*topology.BuildStage) error {
	unpinned := UnpinnedImages(stages)
	if len(unpinned) == 0 {
		return nil
	}
	return fmt.Errorf("hermetic build requires pinned image digests (image@sha256:...); found unpinned references: %s", strings.Join(unpinned, ", "))
}

func pinned(image string) bool {
	named, err := reference.ParseNormalizedNamed(image)
	if err != nil {
		return false
	}
	_, ok := named.(reference.Canonical)
	return ok
}
