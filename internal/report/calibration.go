package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/davidbz/hostmeter/internal/calibration"
	"github.com/davidbz/hostmeter/internal/domain"
	"github.com/davidbz/hostmeter/internal/measure"
)

// Options control the calibration report.
type Options struct {
	// Verbose adds the per-scale observations of every cost type.
	Verbose bool

	// Limits are the configured budget limits, printed against the totals
	// consumed by the measured rows.
	Limits domain.Limits
}

//nolint:gochecknoglobals // Shared status colors
var (
	okStatus   = color.New(color.FgGreen).SprintFunc()
	warnStatus = color.New(color.FgYellow).SprintFunc()
	failStatus = color.New(color.FgRed).SprintFunc()
)

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

// WriteCalibration writes the fixed-column table of measured totals and
// fitted models, followed by fit diagnostics. Cost types whose calibration
// failed only appear in the diagnostics.
func WriteCalibration(w io.Writer, outcomes []calibration.Outcome, opts Options) error {
	unit := ""
	var used domain.CostTracker
	rows := make([]Row, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Result == nil {
			continue
		}
		unit = o.Result.Unit
		row := Row{CostType: o.Result.CostType}
		if o.Fit != nil {
			row.Model = o.Fit.Model
		}
		row.Tracker = o.Result.Total(fitCase(o.Result))
		used.Record(row.Tracker.Iterations, row.Tracker.InputSum, row.Tracker.CPUInsns, row.Tracker.MemBytes)
		rows = append(rows, row)
	}

	lines := []string{
		separator(),
		fmt.Sprintf("Calibration of %d cost types; cpu unit: %s", len(outcomes), unit),
		fmt.Sprintf("Cpu limit: %d; used: %d", opts.Limits.CPU, used.CPUInsns),
		fmt.Sprintf("Mem limit: %d; used: %d", opts.Limits.Mem, used.MemBytes),
		separator(),
		formatHeader(),
	}
	for _, r := range rows {
		lines = append(lines, FormatRow(r))
	}
	lines = append(lines, separator())
	if _, err := io.WriteString(w, strings.Join(lines, "\n")+"\n"); err != nil {
		return err
	}

	writeDiagnostics(w, outcomes)

	if opts.Verbose {
		for _, o := range outcomes {
			if o.Result != nil {
				writeSeries(w, o.Result)
			}
		}
	}
	return nil
}

func fitCase(res *calibration.Result) calibration.Case {
	cases := make([]calibration.Case, 0, len(res.Series))
	for _, s := range res.Series {
		cases = append(cases, s.Case)
	}
	return calibration.FitCase(cases)
}

func writeDiagnostics(w io.Writer, outcomes []calibration.Outcome) {
	table := newTable(w, "cost_type", "case", "observations", "cpu_r2", "mem_r2", "elapsed", "status")
	for _, o := range outcomes {
		table.Append(diagnosticRow(o))
	}
	table.Render()
}

func diagnosticRow(o calibration.Outcome) []string {
	if o.Result == nil {
		return []string{o.CostType.String(), "", "", "", "", "", failStatus("failed: " + o.Err.Error())}
	}

	row := []string{
		o.CostType.String(),
		fitCase(o.Result).String(),
		"", "", "",
		o.Result.Elapsed.Round(time.Millisecond).String(),
		okStatus("ok"),
	}
	switch {
	case o.Err != nil:
		row[6] = failStatus("failed: " + o.Err.Error())
	case o.Fit == nil:
		row[6] = "raw"
	default:
		row[2] = fmt.Sprint(o.Fit.Observations)
		row[3] = fmt.Sprintf("%.4f", o.Fit.CPU.R2)
		row[4] = fmt.Sprintf("%.4f", o.Fit.Mem.R2)
		if o.Fit.PoorFit() {
			row[6] = warnStatus("poor fit")
		}
	}
	return row
}

func writeSeries(w io.Writer, res *calibration.Result) {
	_, _ = fmt.Fprintf(w, "\n%s (%d iterations per scale)\n", res.CostType, res.Iterations)
	table := newTable(w, "case", "scale", "iterations", "input", "cpu", "mem", "cpu_per_iter")
	for _, s := range res.Series {
		for scale, t := range s.Trackers {
			perIter := "-"
			if t.Iterations > 0 {
				perIter = fmt.Sprint(t.CPUInsns / t.Iterations)
			}
			table.Append([]string{
				s.Case.String(),
				fmt.Sprint(scale),
				fmt.Sprint(t.Iterations),
				t.InputSum.String(),
				fmt.Sprint(t.CPUInsns),
				fmt.Sprint(t.MemBytes),
				perIter,
			})
		}
	}
	table.Render()
}

// WriteSnapshot writes a stored parameter table.
func WriteSnapshot(w io.Writer, snap *domain.ParamsSnapshot) error {
	_, err := fmt.Fprintf(w, "run %s  protocol %d  created %s  seed %s\n",
		snap.RunID, snap.Protocol, snap.CreatedAt.Format(time.RFC3339), snap.Seed)
	if err != nil {
		return err
	}

	table := newTable(w, "cost_type", "shape", "const_term_cpu", "lin_term_cpu", "const_term_mem", "lin_term_mem")
	for _, e := range snap.Models {
		table.Append([]string{
			e.CostType.String(),
			e.CostType.Shape().String(),
			fmt.Sprint(e.Model.CPUConst),
			fmt.Sprint(e.Model.CPULinear),
			fmt.Sprint(e.Model.MemConst),
			fmt.Sprint(e.Model.MemLinear),
		})
	}
	table.Render()
	return nil
}

// WriteComponents writes the per-stage VM construction costs.
func WriteComponents(w io.Writer, readings []measure.ComponentReading, unit string) {
	table := newTable(w, "stage", "module_bytes", "cpu_"+unit, "mem_bytes")
	for _, r := range readings {
		table.Append([]string{
			string(r.Stage),
			fmt.Sprint(r.Size),
			fmt.Sprint(r.Cost.CPU),
			fmt.Sprint(r.Cost.Mem),
		})
	}
	table.Render()
}
