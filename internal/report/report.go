// Package report renders budgets and calibration runs as text.
//
// The budget table has fixed column widths and order. Tooling diffs it
// between calibration runs, so columns are only ever appended.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/davidbz/hostmeter/internal/budget"
	"github.com/davidbz/hostmeter/internal/domain"
)

const (
	nameWidth  = 25
	countWidth = 15
	termWidth  = 20
	lineWidth  = nameWidth + 4*countWidth + 4*termWidth
)

var columns = []string{
	"CostType", "iterations", "input", "cpu_insns", "mem_bytes",
	"const_term_cpu", "lin_term_cpu", "const_term_mem", "lin_term_mem",
}

// Row is one line of the fixed-column table.
type Row struct {
	CostType domain.CostType
	Tracker  domain.CostTracker
	Model    domain.CostModel
}

// Summary is the header of a budget report.
type Summary struct {
	Limits      domain.Limits
	CPUConsumed uint64
	MemConsumed uint64
	MeterCount  uint64
}

func separator() string {
	return strings.Repeat("=", lineWidth)
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s + " "
	}
	return s + strings.Repeat(" ", width-len(s))
}

func formatHeader() string {
	var b strings.Builder
	for i, c := range columns {
		b.WriteString(pad(c, widthOf(i)))
	}
	return b.String()
}

func widthOf(col int) int {
	switch {
	case col == 0:
		return nameWidth
	case col <= 4:
		return countWidth
	default:
		return termWidth
	}
}

// FormatRow renders r with the table's column widths.
func FormatRow(r Row) string {
	cells := []string{
		r.CostType.String(),
		fmt.Sprint(r.Tracker.Iterations),
		r.Tracker.InputSum.String(),
		fmt.Sprint(r.Tracker.CPUInsns),
		fmt.Sprint(r.Tracker.MemBytes),
		fmt.Sprint(r.Model.CPUConst),
		fmt.Sprint(r.Model.CPULinear),
		fmt.Sprint(r.Model.MemConst),
		fmt.Sprint(r.Model.MemLinear),
	}
	var b strings.Builder
	for i, c := range cells {
		b.WriteString(pad(c, widthOf(i)))
	}
	return b.String()
}

// WriteTable writes the summary header, one row per entry and the meter
// call count.
func WriteTable(w io.Writer, s Summary, rows []Row) error {
	lines := make([]string, 0, len(rows)+8)
	lines = append(lines,
		separator(),
		fmt.Sprintf("Cpu limit: %d; used: %d", s.Limits.CPU, s.CPUConsumed),
		fmt.Sprintf("Mem limit: %d; used: %d", s.Limits.Mem, s.MemConsumed),
		separator(),
		formatHeader(),
	)
	for _, r := range rows {
		lines = append(lines, FormatRow(r))
	}
	lines = append(lines,
		separator(),
		fmt.Sprintf("Total # times meter was called: %d", s.MeterCount),
	)

	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}

// WriteBudget writes the state of b: every configured cost type with what
// was charged to it and its model.
func WriteBudget(w io.Writer, b *budget.Budget) error {
	params := b.Params()
	rows := make([]Row, 0, len(params))
	for _, ct := range params.Types() {
		rows = append(rows, Row{CostType: ct, Tracker: b.Tracker(ct), Model: params[ct]})
	}
	return WriteTable(w, Summary{
		Limits:      b.Limits(),
		CPUConsumed: b.CPUConsumed(),
		MemConsumed: b.MemConsumed(),
		MeterCount:  b.MeterCount(),
	}, rows)
}

// Budget renders b as a string.
func Budget(b *budget.Budget) string {
	var sb strings.Builder
	_ = WriteBudget(&sb, b)
	return sb.String()
}
