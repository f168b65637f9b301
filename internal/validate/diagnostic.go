package validate

import (
	"fmt"
	"strings"
)

type Kind string

// Kinds in report order.
const (
	KindUnknownReference    Kind = "UnknownReference"
	KindCycleDetected       Kind = "CycleDetected"
	KindFragmentConflict    Kind = "FragmentConflict"
	KindMissingRequirement  Kind = "MissingRequirement"
	KindIncompleteNode      Kind = "IncompleteNode"
	KindDuplicateAppend     Kind = "DuplicateAppend"
	KindUnhealthyDependency Kind = "UnhealthyDependency"
	KindEnvCollision        Kind = "EnvironmentCollision"
	KindPolicyViolation     Kind = "PolicyViolation"
	KindPolicyWarning       Kind = "PolicyWarning"
	KindSecretLiteral       Kind = "SecretLiteral"
)

type Severity string

const (
	SeverityFatal   Severity = "fatal"
	SeverityWarning Severity = "warning"
)

// Diagnostic is one finding. Fragments lists the fragment ids responsible; base
// values have no fragment.
type Diagnostic struct {
	Kind      Kind     `json:"kind"`
	Severity  Severity `json:"severity"`
	Subject   string   `json:"subject,omitempty"`
	Path      string   `json:"path,omitempty"`
	Reference string   `json:"reference,omitempty"`
	Fragments []string `json:"fragments,omitempty"`
	Cycle     []string `json:"cycle,omitempty"`
	Message   string   `json:"message"`
	Hint      string   `json:"hint,omitempty"`
}

func (d Diagnostic) Fatal() bool { return d.Severity == SeverityFatal }

func (d Diagnostic) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", d.Severity, d.Kind)
	if d.Subject != "" {
		fmt.Fprintf(&b, " %s", d.Subject)
		if d.Path != "" {
			fmt.Fprintf(&b, "#%s", d.Path)
		}
	}
	fmt.Fprintf(&b, ": %s", d.Message)
	if len(d.Fragments) > 0 {
		fmt.Fprintf(&b, " (fragments: %s)", strings.Join(d.Fragments, ", "))
	}
	return b.String()
}

// Report is the ordered diagnostic list of one validation run.
type Report struct {
	Diagnostics []Diagnostic `json:"diagnostics"`
}

func (r *Report) Fatal() bool {
	if r == nil {
		return false
	}
	for _, d := range r.Diagnostics {
		if d.Fatal() {
			return true
		}
	}
	return false
}

func (r *Report) Fatals() []Diagnostic { return r.filter(SeverityFatal) }

func (r *Report) Warnings() []Diagnostic { return r.filter(SeverityWarning) }

func (r *Report) filter(sev Severity) []Diagnostic {
	if r == nil {
		return nil
	}
	var out []Diagnostic
	for _, d := range r.Diagnostics {
		if d.Severity == sev {
			out = append(out, d)
		}
	}
	return out
}

// Counts returns the number of fatal findings and warnings.
func (r *Report) Counts() (fatal, warnings int) {
	if r == nil {
		return 0, 0
	}
	for _, d := range r.Diagnostics {
		if d.Fatal() {
			fatal++
		} else {
			warnings++
		}
	}
	return fatal, warnings
}
