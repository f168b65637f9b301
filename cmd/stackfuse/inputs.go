// inputs.go declares the composition input flags shared by compose, validate, plan, build-plan and graph, and runs the pipeline for them.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/example/stackfuse/internal/emit"
	"github.com/example/stackfuse/internal/logging"
	"github.com/example/stackfuse/internal/pipeline"
	"github.com/example/stackfuse/internal/policy"
	"github.com/example/stackfuse/internal/runlog"
	"github.com/example/stackfuse/internal/secrets"
	"github.com/go-logr/logr"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type inputFlags struct {
	base         string
	composeFiles []string
	projectName  string
	fragments    []string
	catalog      string
	buildFile    string
	dockerfile   string
	secrets      string
	providers    string
	policyRef    string
	policyMode   string
	policyReport string
	secretScan   string
	secretRules  string
	buildArgs    []string
	concurrency  int
	timeout      time.Duration
	record       bool
	reportFormat string
}

func (f *inputFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.base, "base", "", "Base topology document")
	fs.StringArrayVar(&f.composeFiles, "compose-file", nil, "Import services from a compose file (repeatable)")
	fs.StringVar(&f.projectName, "project-name", "", "Compose project name used for import and the compose format")
	fs.StringArrayVarP(&f.fragments, "fragment", "f", nil, "Fragment to apply, in order (repeatable)")
	fs.StringVar(&f.catalog, "catalog", "", "Directory of known fragments used to check requires and conflictsWith ids")
	fs.StringVar(&f.buildFile, "build", "", "Build graph document")
	fs.StringVar(&f.dockerfile, "dockerfile", "", "Import build stages from a Dockerfile")
	fs.StringVar(&f.secrets, "secrets", "", "Secret declarations document")
	fs.StringVar(&f.providers, "secret-providers", "", "Secret provider config used to check external handles")
	fs.StringVar(&f.policyRef, "policy", "", "Rego policy bundle (directory or .tar/.tgz archive)")
	fs.StringVar(&f.policyMode, "policy-mode", string(policy.ModeEnforce), "Policy mode (enforce or warn)")
	fs.StringVar(&f.policyReport, "policy-report", "", "Write the raw policy report as JSON to this path")
	fs.StringVar(&f.secretScan, "secret-scan", string(secrets.ModeWarn), "Secret literal scan (warn, block or off)")
	fs.StringVar(&f.secretRules, "secret-rules", "", "Rules file overlaying the default secret literal rules")
	fs.StringArrayVar(&f.buildArgs, "build-arg", nil, "Build argument override (KEY=VALUE, repeatable)")
	fs.IntVar(&f.concurrency, "concurrency", 4, "Parallel document parsing")
	fs.DurationVar(&f.timeout, "timeout", 30*time.Second, "Abort the run after this long")
	fs.BoolVar(&f.record, "record", false, "Record the run in the run ledger")
	fs.StringVar(&f.reportFormat, "report-format", "table", "Diagnostic report format (table or json)")
}

func (f *inputFlags) options(log logr.Logger) (pipeline.Options, error) {
	mode, err := policy.ParseMode(f.policyMode)
	if err != nil {
		return pipeline.Options{}, err
	}
	scan, err := secrets.ParseMode(f.secretScan)
	if err != nil {
		return pipeline.Options{}, err
	}
	args, err := parseBuildArgs(f.buildArgs)
	if err != nil {
		return pipeline.Options{}, err
	}
	opts := pipeline.Options{
		ProjectName: f.projectName,
		PolicyRef:   f.policyRef,
		PolicyMode:  mode,
		SecretScan:  scan,
		BuildArgs:   args,
		Concurrency: f.concurrency,
		Logger:      log,
	}
	paths := []struct {
		in  string
		out *string
	}{
		{f.base, &opts.BaseFile},
		{f.catalog, &opts.CatalogDir},
		{f.buildFile, &opts.BuildFile},
		{f.dockerfile, &opts.Dockerfile},
		{f.secrets, &opts.SecretsFile},
		{f.providers, &opts.ProvidersFile},
		{f.secretRules, &opts.SecretRules},
	}
	for _, p := range paths {
		if *p.out, err = expandPath(p.in); err != nil {
			return pipeline.Options{}, err
		}
	}
	if opts.FragmentFiles, err = expandPaths(f.fragments); err != nil {
		return pipeline.Options{}, err
	}
	if opts.ComposeFiles, err = expandPaths(f.composeFiles); err != nil {
		return pipeline.Options{}, err
	}
	if opts.BaseFile == "" && len(opts.ComposeFiles) == 0 {
		return pipeline.Options{}, errors.New("a base topology is required: pass --base or --compose-file")
	}
	if f.policyReport != "" {
		reportPath, err := expandPath(f.policyReport)
		if err != nil {
			return pipeline.Options{}, err
		}
		if info, err := os.Stat(reportPath); err == nil && info.IsDir() {
			reportPath = policy.DefaultReportPath(reportPath)
		}
		opts.PolicyReport = func(rep *policy.Report) {
			if err := policy.WriteReport(reportPath, rep); err != nil {
				log.Error(err, "write policy report", "path", reportPath)
			}
		}
	}
	return opts, nil
}

// run executes the pipeline for cmd. Fatal findings are printed to stderr before
// the *pipeline.FindingsError is returned.
func (f *inputFlags) run(cmd *cobra.Command, g *globalOptions) (*pipeline.Result, logr.Logger, error) {
	log, err := logging.New(logging.Options{Level: g.logLevel, JSON: g.logJSON, Out: cmd.ErrOrStderr()})
	if err != nil {
		return nil, logr.Discard(), err
	}
	opts, err := f.options(log)
	if err != nil {
		return nil, log, err
	}
	ctx := cmd.Context()
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	res, err := pipeline.Run(ctx, opts)
	var findings *pipeline.FindingsError
	if errors.As(err, &findings) {
		if werr := f.writeReport(cmd.ErrOrStderr(), g, res); werr != nil {
			return res, log, werr
		}
	}
	return res, log, err
}

func (f *inputFlags) writeReport(w io.Writer, g *globalOptions, res *pipeline.Result) error {
	if res == nil || res.Report == nil {
		return nil
	}
	return emit.WriteReport(w, res.Report, emit.ReportOptions{
		JSON:  f.reportFormat == "json",
		Color: useColor(g.color, w),
		Width: terminalWidth(w),
	})
}

// recordRun stores the run in the ledger when --record is set. Ledger failures are
// logged and never change the command outcome.
func (f *inputFlags) recordRun(ctx context.Context, g *globalOptions, log logr.Logger, command string, res *pipeline.Result, manifest []byte, runErr error) {
	if !f.record || res == nil {
		return
	}
	store, err := runlog.Open(g.ledgerRoot, false)
	if err != nil {
		log.Error(err, "open run ledger")
		return
	}
	defer store.Close()

	run := runlog.Run{
		Command:     command,
		Fragments:   res.Applied,
		InputDigest: res.InputDigest,
		Status:      runlog.StatusOK,
	}
	if len(manifest) > 0 {
		run.ManifestDigest = emit.Digest(manifest)
	}
	if res.Report != nil {
		run.Fatal, run.Warnings = res.Report.Counts()
		if raw, err := json.Marshal(res.Report.Diagnostics); err == nil {
			run.Diagnostics = raw
		}
	}
	var findings *pipeline.FindingsError
	switch {
	case errors.As(runErr, &findings):
		run.Status = runlog.StatusFindings
	case runErr != nil:
		run.Status = runlog.StatusError
	}
	if run.InputDigest != "" {
		prior, err := store.FindByInput(ctx, run.InputDigest)
		switch {
		case err != nil:
			log.Error(err, "look up previous runs")
		case prior != nil:
			log.Info("same input as a previous run", "previous", prior.ID, "at", prior.CreatedAt.Format(time.RFC3339),
				"status", prior.Status, "sameManifest", run.ManifestDigest != "" && run.ManifestDigest == prior.ManifestDigest)
		}
	}
	id, err := store.Record(ctx, run)
	if err != nil {
		log.Error(err, "record run")
		return
	}
	log.V(1).Info("recorded run", "id", id, "ledger", store.Path())
}

func parseBuildArgs(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(values))
	for _, v := range values {
		key, val, ok := strings.Cut(v, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --build-arg %q (expected KEY=VALUE)", v)
		}
		out[key] = val
	}
	return out, nil
}

func expandPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", nil
	}
	expanded, err := homedir.Expand(p)
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", p, err)
	}
	return expanded, nil
}

func expandPaths(in []string) ([]string, error) {
	var out []string
	for _, p := range in {
		expanded, err := expandPath(p)
		if err != nil {
			return nil, err
		}
		if expanded != "" {
			out = append(out, expanded)
		}
	}
	return out, nil
}

func useColor(mode string, w io.Writer) bool {
	switch strings.ToLower(mode) {
	case "always":
		return true
	case "never":
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	file, ok := w.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}

func terminalWidth(w io.Writer) int {
	file, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(file.Fd())) {
		return 0
	}
	width, _, err := term.GetSize(int(file.Fd()))
	if err != nil || width <= 40 {
		return 0
	}
	// Leave room for the severity, kind and subject columns.
	return width - 40
}

// writeOutput writes doc to path, or to w when path is empty or "-".
func writeOutput(w io.Writer, path string, doc []byte) error {
	if path == "" || path == "-" {
		_, err := w.Write(doc)
		return err
	}
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if err := os.WriteFile(expanded, doc, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", expanded, err)
	}
	return nil
}
