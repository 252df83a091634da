package report_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/hostmeter/internal/budget"
	"github.com/davidbz/hostmeter/internal/calibration"
	"github.com/davidbz/hostmeter/internal/domain"
	"github.com/davidbz/hostmeter/internal/fit"
	"github.com/davidbz/hostmeter/internal/instrument"
	"github.com/davidbz/hostmeter/internal/measure"
	"github.com/davidbz/hostmeter/internal/report"
)

func TestWriteBudget(t *testing.T) {
	params := domain.Params{
		domain.WasmInsnExec:      domain.CostModel{CPUConst: 6},
		domain.ComputeSha256Hash: domain.CostModel{CPUConst: 2924, CPULinear: 4149, MemConst: 40},
	}
	b, err := budget.New(params, domain.Limits{CPU: 100000000, Mem: 104857600}, domain.MinProtocolVersion)
	require.Error(t, err, "a partial table is not a valid budget")

	b = budget.NewDefault(domain.Limits{CPU: 100000000, Mem: 104857600})
	require.NoError(t, b.EnableModel(domain.WasmInsnExec, params[domain.WasmInsnExec]))
	require.NoError(t, b.EnableModel(domain.ComputeSha256Hash, params[domain.ComputeSha256Hash]))
	require.NoError(t, b.BulkCharge(domain.WasmInsnExec, 246, domain.NoInput()))
	require.NoError(t, b.Charge(domain.ComputeSha256Hash, domain.InputOf(1)))

	out := report.Budget(b)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")

	sep := strings.Repeat("=", 165)
	require.Equal(t, sep, lines[0])
	require.Equal(t, "Cpu limit: 100000000; used: 8549", lines[1])
	require.Equal(t, "Mem limit: 104857600; used: 40", lines[2])
	require.Equal(t, sep, lines[3])
	require.Equal(t,
		"CostType                 iterations     input          cpu_insns      mem_bytes      "+
			"const_term_cpu      lin_term_cpu        const_term_mem      lin_term_mem        ",
		lines[4])
	require.Equal(t,
		"WasmInsnExec             246            None           1476           0              "+
			"6                   0                   0                   0                   ",
		lines[5])
	require.Contains(t, out,
		"ComputeSha256Hash        1              Some(1)        7073           40             "+
			"2924                4149                40                  0                   ")
	require.Equal(t, sep, lines[len(lines)-2])
	require.Equal(t, "Total # times meter was called: 2", lines[len(lines)-1])

	// One row per configured cost type.
	require.Len(t, lines, 5+len(domain.AllCostTypes())+2)
}

func TestFormatRow_StableWidth(t *testing.T) {
	short := report.FormatRow(report.Row{CostType: domain.MemCpy})
	long := report.FormatRow(report.Row{
		CostType: domain.Sec1DecodePointUncompressed,
		Tracker:  domain.CostTracker{Iterations: 1, InputSum: domain.InputOf(12), CPUInsns: 99, MemBytes: 1},
	})
	require.Len(t, short, 165)
	require.Len(t, long, 165)
}

func TestWriteCalibration(t *testing.T) {
	tracker := domain.CostTracker{Iterations: 4, InputSum: domain.InputOf(64), CPUInsns: 1000, MemBytes: 128}
	outcomes := []calibration.Outcome{
		{
			CostType: domain.MemCpy,
			Result: &calibration.Result{
				CostType:   domain.MemCpy,
				Iterations: 4,
				Unit:       "insns",
				Series:     []calibration.Series{{Case: calibration.Random, Trackers: []domain.CostTracker{tracker}}},
				Elapsed:    time.Second,
			},
			Fit: &fit.Result{
				CostType:     domain.MemCpy,
				Model:        domain.CostModel{CPUConst: 40, CPULinear: 3},
				CPU:          fit.Line{R2: 0.5},
				Observations: 1,
			},
		},
		{CostType: domain.VmInstantiation, Err: errors.New("sample exploded")},
	}

	t.Run("summary", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, report.WriteCalibration(&buf, outcomes, report.Options{
			Limits: domain.Limits{CPU: 100_000, Mem: 4096},
		}))
		out := buf.String()

		require.Contains(t, out, "cpu unit: insns")
		require.Contains(t, out, "Cpu limit: 100000; used: 1000")
		require.Contains(t, out, "Mem limit: 4096; used: 128")
		require.Contains(t, out, report.FormatRow(report.Row{
			CostType: domain.MemCpy,
			Tracker:  tracker,
			Model:    domain.CostModel{CPUConst: 40, CPULinear: 3},
		}))
		require.Contains(t, out, "poor fit")
		require.Contains(t, out, "failed: sample exploded")
		require.NotContains(t, out, "cpu_per_iter")
	})

	t.Run("verbose", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, report.WriteCalibration(&buf, outcomes, report.Options{Verbose: true}))
		require.Contains(t, buf.String(), "cpu_per_iter")
		require.Contains(t, buf.String(), "MemCpy (4 iterations per scale)")
	})
}

func TestWriteSnapshot(t *testing.T) {
	snap := domain.NewParamsSnapshot(domain.DefaultParams(), domain.CurrentProtocolVersion, "ff", time.Now())

	var buf bytes.Buffer
	require.NoError(t, report.WriteSnapshot(&buf, snap))
	out := buf.String()
	require.Contains(t, out, snap.RunID.String())
	require.Contains(t, out, "Bls12381Pairing")
	require.Contains(t, out, "lin_term_mem")
}

func TestWriteComponents(t *testing.T) {
	var buf bytes.Buffer
	report.WriteComponents(&buf, []measure.ComponentReading{
		{Stage: measure.StageEngine, Size: 120, Cost: instrument.Reading{CPU: 5, Mem: 6}},
	}, "insns")
	require.Contains(t, buf.String(), "cpu_insns")
	require.Contains(t, buf.String(), "engine")
}
