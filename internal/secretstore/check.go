package secretstore

import (
	"context"
	"errors"
	"strings"

	"github.com/example/stackfuse/internal/topology"
	"github.com/example/stackfuse/internal/validate"
)

// Check validates the external secret handles of a composed topology against cfg.
// Every issue becomes an UnknownReference finding on the secret.
func Check(cfg Config) validate.Check {
	return validate.Check{
		Name: "secrets",
		Run: func(_ context.Context, topo *topology.Topology) ([]validate.Diagnostic, error) {
			handles := map[string]string{}
			for name, s := range topo.Secrets {
				if s.Source.Kind == topology.SecretExternal {
					handles[name] = s.Source.Handle
				}
			}
			err := ValidateHandles(cfg, handles)
			if err == nil {
				return nil, nil
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				return nil, err
			}
			out := make([]validate.Diagnostic, 0, len(verr.Issues))
			for _, issue := range verr.Issues {
				out = append(out, validate.Diagnostic{
					Kind:      validate.KindUnknownReference,
					Severity:  validate.SeverityFatal,
					Subject:   "secrets/" + issue.Secret,
					Path:      "external",
					Reference: issue.Reference,
					Message:   issue.Message,
					Hint:      strings.Join(issue.Suggestions, "; "),
				})
			}
			return out, nil
		},
	}
}
