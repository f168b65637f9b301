package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/example/stackfuse/internal/validate"
	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
)

type ReportOptions struct {
	// JSON switches from the table to a JSON document.
	JSON  bool
	Color bool
	// Width caps the message column. Zero means 100.
	Width int
}

// WriteReport renders every diagnostic, fatal findings first in report order.
func WriteReport(w io.Writer, report *validate.Report, opts ReportOptions) error {
	if report == nil {
		return fmt.Errorf("report is nil")
	}
	if opts.JSON {
		diags := report.Diagnostics
		if diags == nil {
			diags = []validate.Diagnostic{}
		}
		fatal, warnings := report.Counts()
		raw, err := json.MarshalIndent(map[string]any{
			"diagnostics": diags,
			"fatal":       fatal,
			"warnings":    warnings,
		}, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", raw)
		return err
	}

	fatal, warnings := report.Counts()
	if fatal+warnings == 0 {
		_, err := fmt.Fprintln(w, "No findings.")
		return err
	}
	width := opts.Width
	if width <= 0 {
		width = 100
	}
	rows := append(report.Fatals(), report.Warnings()...)
	headers := []string{"SEVERITY", "KIND", "SUBJECT", "FRAGMENTS", "MESSAGE"}
	cells := make([][]string, 0, len(rows))
	for _, d := range rows {
		subject := d.Subject
		if d.Path != "" {
			subject += "#" + d.Path
		}
		cells = append(cells, []string{
			string(d.Severity),
			string(d.Kind),
			orDash(subject),
			orDash(strings.Join(d.Fragments, ",")),
			trimToWidth(d.Message, width),
		})
	}
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range cells {
		for i, c := range row {
			if cw := runewidth.StringWidth(c); cw > widths[i] {
				widths[i] = cw
			}
		}
	}
	writeRow(w, headers, widths, nil)
	for i, row := range cells {
		var paint func(string) string
		if opts.Color {
			paint = severityColor(rows[i].Severity)
		}
		writeRow(w, row, widths, paint)
		if hint := rows[i].Hint; hint != "" {
			fmt.Fprintf(w, "  hint: %s\n", hint)
		}
	}
	_, err := fmt.Fprintf(w, "\n%d fatal, %d warning(s)\n", fatal, warnings)
	return err
}

func writeRow(w io.Writer, row []string, widths []int, paint func(string) string) {
	parts := make([]string, len(row))
	for i, c := range row {
		cell := c
		if i < len(row)-1 {
			cell = padRight(c, widths[i])
		}
		if i == 0 && paint != nil {
			cell = paint(cell)
		}
		parts[i] = cell
	}
	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}

func severityColor(sev validate.Severity) func(string) string {
	c := color.New(color.FgYellow)
	if sev == validate.SeverityFatal {
		c = color.New(color.FgHiRed, color.Bold)
	}
	c.EnableColor()
	return func(s string) string { return c.Sprint(s) }
}

func padRight(s string, width int) string {
	pad := width - runewidth.StringWidth(s)
	if pad <= 0 {
		return s
	}
	return s + strings.Repeat(" ", pad)
}

func trimToWidth(s string, width int) string {
	s = strings.TrimSpace(s)
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
