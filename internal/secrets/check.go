package secrets

import (
	"context"

	"github.com/example/stackfuse/internal/topology"
	"github.com/example/stackfuse/internal/validate"
)

// Check adapts Scan into a validation pass. Block findings are fatal only in
// ModeBlock; everything else is a warning.
func Check(rules CompiledRules, mode Mode, buildArgs map[string]string) validate.Check {
	return validate.Check{
		Name: "secret-literals",
		Run: func(_ context.Context, topo *topology.Topology) ([]validate.Diagnostic, error) {
			if mode == ModeOff {
				return nil, nil
			}
			findings := Scan(topo, buildArgs, rules)
			out := make([]validate.Diagnostic, 0, len(findings))
			for _, f := range findings {
				sev := validate.SeverityWarning
				if f.Severity == SeverityBlock && mode == ModeBlock {
					sev = validate.SeverityFatal
				}
				msg := f.Rule + ": " + f.Message
				if f.Match != "" {
					msg += " (" + f.Match + ")"
				}
				out = append(out, validate.Diagnostic{
					Kind:     validate.KindSecretLiteral,
					Severity: sev,
					Subject:  f.Subject,
					Path:     f.Path,
					Message:  msg,
					Hint:     f.Suggest,
				})
			}
			return out, nil
		},
	}
}
