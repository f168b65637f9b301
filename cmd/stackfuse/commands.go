// commands.go declares the stackfuse subcommands: compose, validate, plan, build-plan, graph, diff, runs and version.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/example/stackfuse/internal/emit"
	"github.com/example/stackfuse/internal/resolve"
	"github.com/example/stackfuse/internal/runlog"
	"github.com/example/stackfuse/internal/version"
	"github.com/example/stackfuse/pkg/buildkit"
	"github.com/spf13/cobra"
)

func newComposeCommand(g *globalOptions) *cobra.Command {
	var (
		in     inputFlags
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "compose",
		Short: "Merge fragments into the base topology and emit the manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			emitFormat, err := emit.ParseFormat(format)
			if err != nil {
				return err
			}
			res, log, err := in.run(cmd, g)
			if err != nil {
				in.recordRun(cmd.Context(), g, log, "compose", res, nil, err)
				return err
			}
			doc, err := emit.Emit(res.Ordered, emit.Options{Format: emitFormat, ProjectName: in.projectName})
			if err != nil {
				in.recordRun(cmd.Context(), g, log, "compose", res, nil, err)
				return err
			}
			if len(res.Report.Warnings()) > 0 {
				if err := in.writeReport(cmd.ErrOrStderr(), g, res); err != nil {
					return err
				}
			}
			in.recordRun(cmd.Context(), g, log, "compose", res, doc, nil)
			log.V(1).Info("emitted manifest", "format", emitFormat, "digest", emit.Digest(doc))
			return writeOutput(cmd.OutOrStdout(), output, doc)
		},
	}
	in.register(cmd)
	cmd.Flags().StringVar(&format, "format", string(emit.FormatYAML), "Manifest format (yaml, json or compose)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the manifest to this file instead of stdout")
	scopeFlags(cmd, "format", "output")
	return cmd
}

func newValidateCommand(g *globalOptions) *cobra.Command {
	var in inputFlags
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Compose and validate without emitting a manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, log, err := in.run(cmd, g)
			in.recordRun(cmd.Context(), g, log, "validate", res, nil, err)
			if err != nil {
				return err
			}
			return in.writeReport(cmd.OutOrStdout(), g, res)
		},
	}
	in.register(cmd)
	return cmd
}

func newPlanCommand(g *globalOptions) *cobra.Command {
	var (
		in     inputFlags
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show start order, readiness gates and the secret injection plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, log, err := in.run(cmd, g)
			in.recordRun(cmd.Context(), g, log, "plan", res, nil, err)
			if err != nil {
				return err
			}
			if asJSON {
				return writePlanJSON(cmd.OutOrStdout(), res.Ordered)
			}
			return writePlan(cmd.OutOrStdout(), res.Ordered)
		},
	}
	in.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the plan as JSON")
	scopeFlags(cmd, "json")
	return cmd
}

func newBuildPlanCommand(g *globalOptions) *cobra.Command {
	var (
		in            inputFlags
		format        string
		output        string
		requirePinned bool
	)
	cmd := &cobra.Command{
		Use:   "build-plan",
		Short: "Emit build stages in build order with their effective args",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			emitFormat, err := emit.ParseFormat(format)
			if err != nil {
				return err
			}
			res, log, err := in.run(cmd, g)
			if err != nil {
				in.recordRun(cmd.Context(), g, log, "build-plan", res, nil, err)
				return err
			}
			if requirePinned {
				if err := buildkit.RequirePinned(res.Ordered.Stages); err != nil {
					in.recordRun(cmd.Context(), g, log, "build-plan", res, nil, err)
					return err
				}
			} else if unpinned := buildkit.UnpinnedImages(res.Ordered.Stages); len(unpinned) > 0 {
				log.V(1).Info("build stages use unpinned base images", "images", unpinned)
			}
			doc, err := emit.EmitBuildPlan(res.Ordered, emit.Options{Format: emitFormat})
			if err != nil {
				return err
			}
			in.recordRun(cmd.Context(), g, log, "build-plan", res, doc, nil)
			return writeOutput(cmd.OutOrStdout(), output, doc)
		},
	}
	in.register(cmd)
	cmd.Flags().StringVar(&format, "format", string(emit.FormatYAML), "Build plan format (yaml or json)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the build plan to this file instead of stdout")
	cmd.Flags().BoolVar(&requirePinned, "require-pinned", false, "Fail when a stage base image is not pinned by digest")
	scopeFlags(cmd, "format", "output", "require-pinned")
	return cmd
}

func newGraphCommand(g *globalOptions) *cobra.Command {
	var (
		in     inputFlags
		kind   string
		format string
	)
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Render the service start graph or the build graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			graphKind := resolve.GraphKind(strings.ToLower(kind))
			if graphKind != resolve.GraphServices && graphKind != resolve.GraphBuild {
				return fmt.Errorf("unknown graph kind %q (expected services or build)", kind)
			}
			res, _, err := in.run(cmd, g)
			if err != nil {
				return err
			}
			switch strings.ToLower(format) {
			case "dot":
				return resolve.PrintGraphDOT(cmd.OutOrStdout(), res.Ordered, graphKind)
			case "mermaid":
				return resolve.PrintGraphMermaid(cmd.OutOrStdout(), res.Ordered, graphKind)
			}
			return fmt.Errorf("unknown graph format %q (expected dot or mermaid)", format)
		},
	}
	in.register(cmd)
	cmd.Flags().StringVar(&kind, "kind", string(resolve.GraphServices), "Graph to render (services or build)")
	cmd.Flags().StringVar(&format, "format", "dot", "Graph format (dot or mermaid)")
	scopeFlags(cmd, "kind", "format")
	return cmd
}

func newDiffCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "diff OLD NEW",
		Short: "Show a unified diff between two emitted manifests",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs := make([][]byte, 2)
			for i, p := range args {
				path, err := expandPath(p)
				if err != nil {
					return err
				}
				if docs[i], err = os.ReadFile(path); err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
			}
			out, err := emit.Diff(args[0], docs[0], args[1], docs[1])
			if err != nil {
				return err
			}
			if out == "" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "Manifests are identical.")
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), out)
			return err
		},
	}
}

func newRunsCommand(g *globalOptions) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded composition runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := runlog.Open(g.ledgerRoot, true)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("no runs recorded under %s yet (use --record)", g.ledgerRoot)
				}
				return err
			}
			defer store.Close()
			runs, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}
			return writeRuns(cmd.OutOrStdout(), runs)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print runs as JSON")
	scopeFlags(cmd, "limit", "json")
	return cmd
}

func newVersionCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), info.String())
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print build information as JSON")
	scopeFlags(cmd, "json")
	return cmd
}
