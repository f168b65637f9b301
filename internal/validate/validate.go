// File: internal/validate/validate.go
// Brief: Concurrent topology checks with deterministic report order and the validated marker.

package validate

import (
	"context"
	"fmt"

	"github.com/example/stackfuse/internal/merge"
	"github.com/example/stackfuse/internal/topology"
	"golang.org/x/sync/errgroup"
)

// Check is an additional validation pass (policy, secret providers). Its findings
// follow the built-in kinds in the order checks are given.
type Check struct {
	Name string
	Run  func(ctx context.Context, topo *topology.Topology) ([]Diagnostic, error)
}

type Input struct {
	// Applied fragments in application order.
	Applied []*topology.Fragment
	Trace   *merge.Trace
	// Catalog lists every known fragment id. Nil disables the existence check for
	// requires/conflictsWith ids.
	Catalog []string
	Checks  []Check
}

// Validated marks a topology that passed validation with no fatal findings. Only
// Validate can construct one.
type Validated struct {
	topo     *topology.Topology
	applied  []string
	warnings []Diagnostic
}

// Topology returns a copy of the validated topology.
func (v *Validated) Topology() *topology.Topology {
	if v == nil {
		return nil
	}
	return v.topo.Clone()
}

func (v *Validated) Applied() []string {
	if v == nil {
		return nil
	}
	return append([]string(nil), v.applied...)
}

func (v *Validated) Warnings() []Diagnostic {
	if v == nil {
		return nil
	}
	return append([]Diagnostic(nil), v.warnings...)
}

type builtinCheck func(topo *topology.Topology, in *Input) []Diagnostic

var builtinChecks = []builtinCheck{
	checkUnknownReferences,
	checkCycles,
	checkConflicts,
	checkRequirements,
	checkIncompleteNodes,
	checkDuplicateAppends,
	checkUnhealthyDependencies,
	checkSecretFileVariables,
}

// Validate runs every check concurrently and concatenates the results in a fixed
// kind order. The returned *Validated is nil whenever the report has a fatal
// finding. An error means a check could not run (or ctx ended); no report is
// returned then.
func Validate(ctx context.Context, topo *topology.Topology, in Input) (*Report, *Validated, error) {
	if topo == nil {
		return nil, nil, fmt.Errorf("topology is required")
	}
	results := make([][]Diagnostic, len(builtinChecks)+len(in.Checks))
	g, gctx := errgroup.WithContext(ctx)
	for i, check := range builtinChecks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = check(topo, &in)
			return nil
		})
	}
	for j, check := range in.Checks {
		slot := len(builtinChecks) + j
		g.Go(func() error {
			diags, err := check.Run(gctx, topo)
			if err != nil {
				return fmt.Errorf("%s check: %w", check.Name, err)
			}
			results[slot] = diags
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	report := &Report{}
	for _, diags := range results {
		report.Diagnostics = append(report.Diagnostics, diags...)
	}
	if report.Fatal() {
		return report, nil, nil
	}
	applied := make([]string, 0, len(in.Applied))
	for _, f := range in.Applied {
		applied = append(applied, f.ID)
	}
	return report, &Validated{
		topo:     topo.Clone(),
		applied:  applied,
		warnings: report.Warnings(),
	}, nil
}
