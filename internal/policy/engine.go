package policy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/example/stackfuse/internal/topology"
	"github.com/example/stackfuse/internal/validate"
	"github.com/open-policy-agent/opa/rego"
)

// DefaultQuery is the rego package evaluated against composed topologies.
const DefaultQuery = "data.stackfuse.topology"

type Mode string

const (
	// ModeEnforce turns deny results into fatal findings.
	ModeEnforce Mode = "enforce"
	// ModeWarn downgrades deny results to warnings.
	ModeWarn Mode = "warn"
)

func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.TrimSpace(raw)) {
	case "", ModeEnforce:
		return ModeEnforce, nil
	case ModeWarn:
		return ModeWarn, nil
	}
	return "", fmt.Errorf("unknown policy mode %q (expected enforce or warn)", raw)
}

type Violation struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
	Subject string `json:"subject,omitempty"`
}

type Report struct {
	PolicyRef   string      `json:"policyRef,omitempty"`
	Mode        Mode        `json:"mode"`
	Passed      bool        `json:"passed"`
	DenyCount   int         `json:"denyCount"`
	WarnCount   int         `json:"warnCount"`
	Deny        []Violation `json:"deny,omitempty"`
	Warn        []Violation `json:"warn,omitempty"`
	EvaluatedAt time.Time   `json:"evaluatedAt"`
}

// Evaluate runs the bundle's deny and warn rules against a composed topology.
func Evaluate(ctx context.Context, bundle *Bundle, topo *topology.Topology) (*Report, error) {
	return EvaluateWithQuery(ctx, bundle, NewInput(topo), DefaultQuery)
}

func EvaluateWithQuery(ctx context.Context, bundle *Bundle, input Input, query string) (*Report, error) {
	if bundle == nil {
		return nil, errors.New("policy bundle is required")
	}
	input.Data = bundle.Data
	modules, err := loadRegoModules(bundle.Dir)
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		query = DefaultQuery
	}
	opts := []func(*rego.Rego){
		rego.Query(query),
		rego.Input(input),
	}
	for _, name := range sortedNames(modules) {
		opts = append(opts, rego.Module(name, modules[name]))
	}
	rs, err := rego.New(opts...).Eval(ctx)
	if err != nil {
		return nil, err
	}
	out := &Report{
		PolicyRef:   bundle.Ref,
		Mode:        ModeEnforce,
		Passed:      true,
		EvaluatedAt: time.Now().UTC(),
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return out, nil
	}
	obj, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return out, nil
	}
	if deny, ok := obj["deny"]; ok {
		out.Deny = parseViolations(deny)
	}
	if warn, ok := obj["warn"]; ok {
		out.Warn = parseViolations(warn)
	}
	out.DenyCount = len(out.Deny)
	out.WarnCount = len(out.Warn)
	out.Passed = out.DenyCount == 0
	return out, nil
}

func parseViolations(v any) []Violation {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]Violation, 0, len(list))
	for _, entry := range list {
		switch t := entry.(type) {
		case string:
			out = append(out, Violation{Message: t})
		case map[string]any:
			viol := Violation{}
			if s, ok := t["message"].(string); ok {
				viol.Message = s
			}
			if s, ok := t["code"].(string); ok {
				viol.Code = s
			}
			if s, ok := t["path"].(string); ok {
				viol.Path = s
			}
			if s, ok := t["subject"].(string); ok {
				viol.Subject = s
			}
			if viol.Message == "" {
				viol.Message = fmt.Sprintf("%v", t)
			}
			out = append(out, viol)
		default:
			out = append(out, Violation{Message: fmt.Sprintf("%v", t)})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Subject != out[j].Subject {
			return out[i].Subject < out[j].Subject
		}
		return out[i].Message < out[j].Message
	})
	return out
}

// Checker evaluates a bundle as a validation pass and keeps the raw report of
// its last run.
type Checker struct {
	bundle *Bundle
	mode   Mode
	last   *Report
}

func NewChecker(bundle *Bundle, mode Mode) *Checker {
	if mode == "" {
		mode = ModeEnforce
	}
	return &Checker{bundle: bundle, mode: mode}
}

// Check returns the validation pass. Deny results are PolicyViolation findings
// (warnings in ModeWarn); warn results are PolicyWarning findings.
func (c *Checker) Check() validate.Check {
	return validate.Check{
		Name: "policy",
		Run: func(ctx context.Context, topo *topology.Topology) ([]validate.Diagnostic, error) {
			rep, err := Evaluate(ctx, c.bundle, topo)
			if err != nil {
				return nil, err
			}
			rep.Mode = c.mode
			c.last = rep
			return Diagnostics(rep), nil
		},
	}
}

// Report is the raw report of the last run, or nil. Read it only after
// validate.Validate returned.
func (c *Checker) Report() *Report { return c.last }

func Diagnostics(rep *Report) []validate.Diagnostic {
	if rep == nil {
		return nil
	}
	denySeverity := validate.SeverityFatal
	if rep.Mode == ModeWarn {
		denySeverity = validate.SeverityWarning
	}
	var out []validate.Diagnostic
	for _, v := range rep.Deny {
		out = append(out, violationDiagnostic(v, validate.KindPolicyViolation, denySeverity))
	}
	for _, v := range rep.Warn {
		out = append(out, violationDiagnostic(v, validate.KindPolicyWarning, validate.SeverityWarning))
	}
	return out
}

func violationDiagnostic(v Violation, kind validate.Kind, sev validate.Severity) validate.Diagnostic {
	d := validate.Diagnostic{
		Kind:     kind,
		Severity: sev,
		Subject:  v.Subject,
		Path:     v.Path,
		Message:  v.Message,
	}
	if v.Code != "" {
		d.Message = v.Code + ": " + v.Message
	}
	return d
}

func loadRegoModules(dir string) (map[string]string, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("policy dir is required")
	}
	var modules []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(strings.ToLower(d.Name()), ".rego") {
			modules = append(modules, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	for _, path := range modules {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		name := filepath.ToSlash(strings.TrimPrefix(path, dir))
		name = strings.TrimPrefix(name, "/")
		out[name] = string(raw)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no .rego modules found under %s", dir)
	}
	return out, nil
}

func sortedNames(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
