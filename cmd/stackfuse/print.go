package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/example/stackfuse/internal/resolve"
	"github.com/example/stackfuse/internal/runlog"
	"github.com/mattn/go-runewidth"
)

type planView struct {
	StartOrder  []string                      `json:"startOrder"`
	StartGroups [][]string                    `json:"startGroups"`
	BuildOrder  []string                      `json:"buildOrder,omitempty"`
	Gates       []resolve.Gate                `json:"gates"`
	Injections  []resolve.SecretInjection     `json:"injections"`
	StageArgs   map[string][]resolve.StageArg `json:"stageArgs,omitempty"`
	Applied     []string                      `json:"applied"`
}

func writePlanJSON(w io.Writer, ot *resolve.OrderedTopology) error {
	view := planView{
		StartOrder:  ot.StartOrder,
		StartGroups: ot.StartGroups,
		BuildOrder:  ot.BuildOrder,
		Gates:       ot.Gates,
		Injections:  ot.Injections,
		StageArgs:   ot.StageArgs,
		Applied:     ot.Applied,
	}
	if view.Gates == nil {
		view.Gates = []resolve.Gate{}
	}
	if view.Injections == nil {
		view.Injections = []resolve.SecretInjection{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}

func writePlan(w io.Writer, ot *resolve.OrderedTopology) error {
	var b strings.Builder
	if len(ot.Applied) > 0 {
		fmt.Fprintf(&b, "Fragments: %s\n\n", strings.Join(ot.Applied, " -> "))
	}
	b.WriteString("Start order:\n")
	for i, group := range ot.StartGroups {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, strings.Join(group, ", "))
	}
	if len(ot.Gates) > 0 {
		b.WriteString("\nReadiness gates:\n")
		for _, gate := range ot.Gates {
			fmt.Fprintf(&b, "  %s waits for %s (%s)\n", gate.Service, gate.WaitsFor, gate.Condition)
		}
	}
	if len(ot.Injections) > 0 {
		b.WriteString("\nSecrets:\n")
		rows := make([][]string, 0, len(ot.Injections))
		for _, inj := range ot.Injections {
			how := "env " + inj.Variable
			if inj.Mode == resolve.InjectFile {
				how = fmt.Sprintf("file %s (%s)", inj.Target, inj.FileVariable())
			}
			rows = append(rows, []string{inj.Service, inj.Secret, string(inj.Source), how})
		}
		writeColumns(&b, rows)
	}
	if len(ot.BuildGroups) > 0 {
		b.WriteString("\nBuild order:\n")
		for i, group := range ot.BuildGroups {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, strings.Join(group, ", "))
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func writeRuns(w io.Writer, runs []runlog.Run) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded.")
		return err
	}
	var b strings.Builder
	rows := [][]string{{"RUN", "CREATED", "COMMAND", "STATUS", "FINDINGS", "FRAGMENTS"}}
	for _, r := range runs {
		rows = append(rows, []string{
			shortID(r.ID),
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			r.Command,
			string(r.Status),
			fmt.Sprintf("%d/%d", r.Fatal, r.Warnings),
			strings.Join(r.Fragments, ","),
		})
	}
	writeColumns(&b, rows)
	_, err := io.WriteString(w, b.String())
	return err
}

// writeColumns pads every column but the last to its widest cell.
func writeColumns(b *strings.Builder, rows [][]string) {
	var widths []int
	for _, row := range rows {
		for i, cell := range row {
			if i >= len(widths) {
				widths = append(widths, 0)
			}
			if n := runewidth.StringWidth(cell); n > widths[i] {
				widths[i] = n
			}
		}
	}
	for _, row := range rows {
		b.WriteString("  ")
		for i, cell := range row {
			if i == len(row)-1 {
				b.WriteString(cell)
				break
			}
			b.WriteString(runewidth.FillRight(cell, widths[i]))
			b.WriteString("  ")
		}
		b.WriteString("\n")
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
