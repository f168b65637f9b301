// File: internal/secrets/scan.go
// Brief: Finds secret-looking literals in a composed topology and caller build args.

package secrets

import (
	"sort"
	"strings"

	"github.com/example/stackfuse/internal/topology"
)

type Finding struct {
	Severity Severity `json:"severity"`
	Rule     string   `json:"rule"`
	Message  string   `json:"message"`
	Suggest  string   `json:"suggestion,omitempty"`
	Subject  string   `json:"subject"`
	Path     string   `json:"path"`
	Match    string   `json:"match,omitempty"`
}

// BuildArgsSubject is the subject of findings on caller supplied build args.
const BuildArgsSubject = "build-args"

// Scan inspects literal environment values, labels, build arg defaults and the
// caller build args. Secret references are never inspected. Findings come in
// service, stage, then build arg order.
func Scan(topo *topology.Topology, buildArgs map[string]string, rules CompiledRules) []Finding {
	var out []Finding
	if topo != nil {
		for _, name := range topo.ServiceNames() {
			svc := topo.Services[name]
			subject := topology.Target{Kind: topology.TargetService, Name: name}.String()
			for _, key := range sortedKeys(svc.Environment) {
				v := svc.Environment[key]
				if v.IsSecret() || strings.TrimSpace(v.Literal) == "" {
					continue
				}
				out = append(out, matchKeyValue(key, v.Literal, ApplyEnvName, ApplyEnvValue, rules, subject, "environment."+key)...)
			}
			for _, key := range sortedKeys(svc.Labels) {
				out = append(out, matchValue(svc.Labels[key], ApplyLabelValue, rules, subject, "labels."+key)...)
			}
		}
		for _, name := range topo.StageNames() {
			st := topo.Stages[name]
			subject := topology.Target{Kind: topology.TargetStage, Name: name}.String()
			for _, key := range sortedKeys(st.Args) {
				def := ""
				if st.Args[key] != nil {
					def = *st.Args[key]
				}
				out = append(out, matchKeyValue(key, def, ApplyArgName, ApplyArgValue, rules, subject, "args."+key)...)
			}
		}
	}
	for _, key := range sortedKeys(buildArgs) {
		out = append(out, matchKeyValue(key, buildArgs[key], ApplyArgName, ApplyArgValue, rules, BuildArgsSubject, key)...)
	}
	return out
}

// matchKeyValue applies name rules to key and value rules to value. A suspicious
// name whose value also looks like a generated credential is raised to block.
func matchKeyValue(key, value string, nameTarget, valueTarget ApplyTo, rules CompiledRules, subject, path string) []Finding {
	var out []Finding
	for _, r := range rules.Rules {
		if r.re == nil || !r.Applies(nameTarget) || !r.re.MatchString(key) {
			continue
		}
		f := Finding{
			Severity: r.Severity,
			Rule:     r.ID,
			Message:  firstNonEmpty(r.Message, "name matched secrets rule"),
			Suggest:  r.Suggest,
			Subject:  subject,
			Path:     path,
		}
		if looksOpaque(value) {
			f.Severity = SeverityBlock
			f.Message += " and its value looks like a credential"
			f.Match = Redact(value)
		}
		out = append(out, f)
	}
	return append(out, matchValue(value, valueTarget, rules, subject, path)...)
}

func matchValue(value string, target ApplyTo, rules CompiledRules, subject, path string) []Finding {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	var out []Finding
	for _, r := range rules.Rules {
		if r.re == nil || !r.Applies(target) {
			continue
		}
		match := r.re.FindString(value)
		if match == "" {
			continue
		}
		out = append(out, Finding{
			Severity: r.Severity,
			Rule:     r.ID,
			Message:  firstNonEmpty(r.Message, "value matched secrets rule"),
			Suggest:  r.Suggest,
			Subject:  subject,
			Path:     path,
			Match:    Redact(match),
		})
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
