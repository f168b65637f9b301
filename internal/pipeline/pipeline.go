// File: internal/pipeline/pipeline.go
// Brief: One composition run: load inputs, merge fragments, validate, resolve.

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/example/stackfuse/internal/loader"
	"github.com/example/stackfuse/internal/merge"
	"github.com/example/stackfuse/internal/policy"
	"github.com/example/stackfuse/internal/resolve"
	"github.com/example/stackfuse/internal/secrets"
	"github.com/example/stackfuse/internal/secretstore"
	"github.com/example/stackfuse/internal/topology"
	"github.com/example/stackfuse/internal/validate"
	"github.com/example/stackfuse/pkg/buildkit"
	"github.com/example/stackfuse/pkg/compose"
	"github.com/go-logr/logr"
	"github.com/opencontainers/go-digest"
)

type Options struct {
	BaseFile      string
	ComposeFiles  []string
	ProjectName   string
	FragmentFiles []string
	CatalogDir    string
	BuildFile     string
	Dockerfile    string
	SecretsFile   string
	ProvidersFile string
	PolicyRef     string
	PolicyMode    policy.Mode
	// PolicyReport receives the raw policy report once validation finished.
	PolicyReport func(*policy.Report)
	// SecretRules overlays the default secret literal rules. SecretScan defaults
	// to warn.
	SecretRules string
	SecretScan  secrets.Mode
	BuildArgs   map[string]string
	// Concurrency bounds parallel document parsing. Zero means 4.
	Concurrency int
	Logger      logr.Logger
}

// Result carries everything a run produced. Ordered is nil when validation
// reported fatal findings.
type Result struct {
	Composed    *topology.Topology
	Trace       *merge.Trace
	Report      *validate.Report
	Ordered     *resolve.OrderedTopology
	InputDigest string
	Applied     []string
}

// FindingsError is returned when validation reported fatal findings. The full
// report is attached.
type FindingsError struct {
	Report *validate.Report
}

func (e *FindingsError) Error() string {
	fatal, warnings := e.Report.Counts()
	first := ""
	if f := e.Report.Fatals(); len(f) > 0 {
		first = ": " + f[0].String()
	}
	return fmt.Sprintf("validation failed with %d fatal finding(s) and %d warning(s)%s", fatal, warnings, first)
}

// Run composes and validates the configured inputs. On fatal findings it returns
// the partial Result together with a *FindingsError.
func Run(ctx context.Context, opts Options) (*Result, error) {
	log := opts.Logger
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	base, err := loadBase(opts)
	if err != nil {
		return nil, err
	}
	log.V(1).Info("loaded base topology", "services", len(base.Services), "stages", len(base.Stages))

	fragments, err := loader.LoadFragments(ctx, opts.FragmentFiles, concurrency)
	if err != nil {
		return nil, err
	}
	var catalog []string
	if strings.TrimSpace(opts.CatalogDir) != "" {
		known, err := loader.LoadCatalog(ctx, opts.CatalogDir, concurrency)
		if err != nil {
			return nil, err
		}
		for _, f := range known {
			catalog = append(catalog, f.ID)
		}
		log.V(1).Info("loaded fragment catalog", "dir", opts.CatalogDir, "fragments", len(catalog))
	}

	checks, err := prepareChecks(opts)
	if err != nil {
		return nil, err
	}
	defer checks.close()

	inputDigest, err := InputDigest(base, fragments, opts.BuildArgs)
	if err != nil {
		return nil, err
	}

	composed, trace, err := merge.Compose(ctx, base, fragments)
	if err != nil {
		return nil, err
	}
	log.Info("composed topology", "fragments", trace.Applied, "services", len(composed.Services), "stages", len(composed.Stages))

	report, validated, err := validate.Validate(ctx, composed, validate.Input{
		Applied: fragments,
		Trace:   trace,
		Catalog: catalog,
		Checks:  checks.checks,
	})
	if err != nil {
		return nil, err
	}
	if checks.policy != nil && opts.PolicyReport != nil {
		if rep := checks.policy.Report(); rep != nil {
			opts.PolicyReport(rep)
		}
	}
	res := &Result{
		Composed:    composed,
		Trace:       trace,
		Report:      report,
		InputDigest: inputDigest,
		Applied:     trace.Applied,
	}
	fatal, warnings := report.Counts()
	log.Info("validated topology", "fatal", fatal, "warnings", warnings)
	if validated == nil {
		return res, &FindingsError{Report: report}
	}

	ordered, err := resolve.Resolve(validated, resolve.Options{BuildArgs: opts.BuildArgs})
	if err != nil {
		return res, err
	}
	log.V(1).Info("resolved topology", "startOrder", ordered.StartOrder, "buildOrder", ordered.BuildOrder, "gates", len(ordered.Gates))
	res.Ordered = ordered
	return res, nil
}

func loadBase(opts Options) (*topology.Topology, error) {
	base := topology.New()
	if len(opts.ComposeFiles) > 0 {
		imported, err := compose.ImportTopology(opts.ComposeFiles, opts.ProjectName)
		if err != nil {
			return nil, fmt.Errorf("import compose files: %w", err)
		}
		base = imported
	}
	if strings.TrimSpace(opts.BaseFile) != "" {
		fromFile, err := loader.LoadTopologyFile(opts.BaseFile)
		if err != nil {
			return nil, err
		}
		if err := overlay(base, fromFile); err != nil {
			return nil, err
		}
	}

	var stages []*topology.BuildStage
	switch {
	case opts.BuildFile != "" && opts.Dockerfile != "":
		return nil, fmt.Errorf("use either a build graph file or a Dockerfile, not both")
	case opts.BuildFile != "":
		s, err := loader.LoadBuildGraphFile(opts.BuildFile)
		if err != nil {
			return nil, err
		}
		stages = s
	case opts.Dockerfile != "":
		s, err := buildkit.ImportDockerfile(opts.Dockerfile)
		if err != nil {
			return nil, err
		}
		stages = s
	}
	for _, st := range stages {
		if _, dup := base.Stages[st.Name]; dup {
			return nil, fmt.Errorf("build stage %q is declared twice", st.Name)
		}
		base.Stages[st.Name] = st
	}

	if strings.TrimSpace(opts.SecretsFile) != "" {
		secrets, err := loader.LoadSecretsFile(opts.SecretsFile)
		if err != nil {
			return nil, err
		}
		for name, ref := range secrets {
			if _, dup := base.Secrets[name]; dup {
				return nil, fmt.Errorf("secret %q is declared twice", name)
			}
			base.Secrets[name] = ref
		}
	}
	return base, nil
}

// overlay adds the nodes and declarations of src to dst, rejecting any name both
// declare.
func overlay(dst, src *topology.Topology) error {
	for name, svc := range src.Services {
		if _, dup := dst.Services[name]; dup {
			return fmt.Errorf("service %q is declared in both the compose files and the base topology", name)
		}
		dst.Services[name] = svc
	}
	for name, st := range src.Stages {
		if _, dup := dst.Stages[name]; dup {
			return fmt.Errorf("build stage %q is declared twice", name)
		}
		dst.Stages[name] = st
	}
	for name, v := range src.Volumes {
		dst.Volumes[name] = v
	}
	for name, n := range src.Networks {
		dst.Networks[name] = n
	}
	for name, s := range src.Secrets {
		if _, dup := dst.Secrets[name]; dup {
			return fmt.Errorf("secret %q is declared twice", name)
		}
		dst.Secrets[name] = s
	}
	return nil
}

// preparedChecks are the validation passes built from the optional policy,
// provider and secret rule inputs.
type preparedChecks struct {
	checks []validate.Check
	policy *policy.Checker
	bundle *policy.Bundle
}

func (p *preparedChecks) close() {
	if p.bundle != nil {
		_ = p.bundle.Close()
	}
}

// prepareChecks loads every input the extra passes need so a bad policy,
// provider or rules file fails before composition starts.
func prepareChecks(opts Options) (*preparedChecks, error) {
	p := &preparedChecks{}
	if strings.TrimSpace(opts.PolicyRef) != "" {
		bundle, err := policy.LoadBundle(opts.PolicyRef)
		if err != nil {
			return nil, fmt.Errorf("load policy bundle: %w", err)
		}
		p.bundle = bundle
		p.policy = policy.NewChecker(bundle, opts.PolicyMode)
		p.checks = append(p.checks, p.policy.Check())
	}
	if strings.TrimSpace(opts.ProvidersFile) != "" {
		cfg, err := secretstore.LoadConfig(opts.ProvidersFile)
		if err != nil {
			p.close()
			return nil, err
		}
		p.checks = append(p.checks, secretstore.Check(cfg))
	}
	if opts.SecretScan != secrets.ModeOff {
		rules, err := secrets.LoadRules(opts.SecretRules)
		if err != nil {
			p.close()
			return nil, fmt.Errorf("load secret rules: %w", err)
		}
		mode := opts.SecretScan
		if mode == "" {
			mode = secrets.ModeWarn
		}
		p.checks = append(p.checks, secrets.Check(rules, mode, opts.BuildArgs))
	}
	return p, nil
}

// InputDigest identifies a run's input: the base topology, the ordered fragments
// and the caller build args. File locations do not take part.
func InputDigest(base *topology.Topology, fragments []*topology.Fragment, buildArgs map[string]string) (string, error) {
	frags := make([]topology.Fragment, 0, len(fragments))
	for _, f := range fragments {
		c := *f
		c.Source = ""
		frags = append(frags, c)
	}
	raw, err := json.Marshal(struct {
		Base      *topology.Topology  `json:"base"`
		Fragments []topology.Fragment `json:"fragments"`
		BuildArgs map[string]string   `json:"buildArgs,omitempty"`
	}{base, frags, buildArgs})
	if err != nil {
		return "", fmt.Errorf("encode run input: %w", err)
	}
	return digest.FromBytes(raw).String(), nil
}
