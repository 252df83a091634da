package budget_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/hostmeter/internal/budget"
	"github.com/davidbz/hostmeter/internal/domain"
)

func newTestBudget(t *testing.T, limits domain.Limits, ct domain.CostType, model domain.CostModel) *budget.Budget {
	t.Helper()

	b, err := budget.New(domain.DefaultParams(), limits, domain.CurrentProtocolVersion)
	require.NoError(t, err)
	require.NoError(t, b.EnableModel(ct, model))
	return b
}

func TestBudget_New(t *testing.T) {
	t.Run("should reject a table missing a released cost type", func(t *testing.T) {
		params := domain.DefaultParams()
		delete(params, domain.MemCpy)

		_, err := budget.New(params, domain.Limits{CPU: 1, Mem: 1}, domain.CurrentProtocolVersion)
		require.ErrorIs(t, err, domain.ErrUnconfiguredModel)
	})

	t.Run("should not alias the caller's table", func(t *testing.T) {
		params := domain.DefaultParams()
		b, err := budget.New(params, domain.UnlimitedLimits(), domain.CurrentProtocolVersion)
		require.NoError(t, err)

		params[domain.MemCpy] = domain.CostModel{CPUConst: 999}

		model, ok := b.Model(domain.MemCpy)
		require.True(t, ok)
		require.Equal(t, domain.DefaultParams()[domain.MemCpy], model)
	})
}

func TestBudget_Charge(t *testing.T) {
	model := domain.CostModel{CPUConst: 10, CPULinear: 5}

	t.Run("should charge and then refuse atomically past the cpu limit", func(t *testing.T) {
		b := newTestBudget(t, domain.Limits{CPU: 100, Mem: 100}, domain.MemCpy, model)

		require.NoError(t, b.Charge(domain.MemCpy, domain.InputOf(10)))
		require.Equal(t, uint64(60), b.CPUConsumed())

		err := b.Charge(domain.MemCpy, domain.InputOf(10))
		require.ErrorIs(t, err, domain.ErrBudgetExceeded)

		var exceeded *domain.BudgetExceededError
		require.True(t, errors.As(err, &exceeded))
		require.Equal(t, domain.DimensionCPU, exceeded.Dimension)
		require.Equal(t, uint64(60), exceeded.Requested)
		require.Equal(t, uint64(60), exceeded.Consumed)

		require.Equal(t, uint64(60), b.CPUConsumed())
		require.Equal(t, uint64(0), b.MemConsumed())
		require.Equal(t, uint64(1), b.MeterCount())
	})

	t.Run("should report the memory dimension and leave cpu untouched", func(t *testing.T) {
		b := newTestBudget(t, domain.Limits{CPU: 1000, Mem: 10}, domain.MemAlloc,
			domain.CostModel{CPUConst: 1, MemLinear: 1})

		err := b.Charge(domain.MemAlloc, domain.InputOf(11))

		var exceeded *domain.BudgetExceededError
		require.True(t, errors.As(err, &exceeded))
		require.Equal(t, domain.DimensionMem, exceeded.Dimension)
		require.Equal(t, uint64(0), b.CPUConsumed())
		require.Equal(t, uint64(0), b.MemConsumed())
	})

	t.Run("should allow consumption exactly at the limit", func(t *testing.T) {
		b := newTestBudget(t, domain.Limits{CPU: 60, Mem: 0}, domain.MemCpy, model)

		require.NoError(t, b.Charge(domain.MemCpy, domain.InputOf(10)))
		require.Equal(t, uint64(0), b.CPURemaining())
	})

	t.Run("should refuse a saturated charge", func(t *testing.T) {
		b := newTestBudget(t, domain.UnlimitedLimits(), domain.MemCpy,
			domain.CostModel{CPULinear: 1 << 40})

		require.NoError(t, b.Charge(domain.MemCpy, domain.InputOf(1)))
		err := b.Charge(domain.MemCpy, domain.InputOf(1<<40))
		require.ErrorIs(t, err, domain.ErrBudgetExceeded)
		require.Equal(t, uint64(1<<40), b.CPUConsumed())
	})
}

func TestBudget_Additivity(t *testing.T) {
	tests := []struct {
		name  string
		ct    domain.CostType
		model domain.CostModel
		n1    uint64
		n2    uint64
	}{
		{
			name:  "linear type splits the linear contribution",
			ct:    domain.ComputeSha256Hash,
			model: domain.CostModel{CPUConst: 7, CPULinear: 3, MemConst: 2, MemLinear: 1},
			n1:    17,
			n2:    25,
		},
		{
			name:  "constant type is additive in calls",
			ct:    domain.Int256Mul,
			model: domain.CostModel{CPUConst: 40, MemConst: 8},
			n1:    0,
			n2:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			split := newTestBudget(t, domain.UnlimitedLimits(), tt.ct, tt.model)
			require.NoError(t, split.Charge(tt.ct, domain.InputOf(tt.n1)))
			require.NoError(t, split.Charge(tt.ct, domain.InputOf(tt.n2)))

			single := newTestBudget(t, domain.UnlimitedLimits(), tt.ct, tt.model)
			require.NoError(t, single.Charge(tt.ct, domain.InputOf(tt.n1+tt.n2)))

			// Two calls pay the constant term twice.
			require.Equal(t, single.CPUConsumed()+tt.model.CPUConst, split.CPUConsumed())
			require.Equal(t, single.MemConsumed()+tt.model.MemConst, split.MemConsumed())

			linearSplit := split.CPUConsumed() - 2*tt.model.CPUConst
			linearSingle := single.CPUConsumed() - tt.model.CPUConst
			require.Equal(t, linearSingle, linearSplit)
		})
	}
}

func TestBudget_BulkCharge(t *testing.T) {
	model := domain.CostModel{CPUConst: 10, CPULinear: 5, MemConst: 3, MemLinear: 2}

	t.Run("should bill the constant per iteration and the linear per input", func(t *testing.T) {
		b := newTestBudget(t, domain.Limits{CPU: 1000, Mem: 1000}, domain.MemCpy, model)

		require.NoError(t, b.BulkCharge(domain.MemCpy, 3, domain.InputOf(30)))
		require.Equal(t, uint64(180), b.CPUConsumed())
		require.Equal(t, uint64(69), b.MemConsumed())
		require.Equal(t, uint64(1), b.MeterCount())
	})

	t.Run("should equal k sequential charges of s/k", func(t *testing.T) {
		for _, k := range []uint64{1, 2, 5, 8} {
			s := k * 13

			bulk := newTestBudget(t, domain.UnlimitedLimits(), domain.MemCpy, model)
			require.NoError(t, bulk.BulkCharge(domain.MemCpy, k, domain.InputOf(s)))

			seq := newTestBudget(t, domain.UnlimitedLimits(), domain.MemCpy, model)
			for range k {
				require.NoError(t, seq.Charge(domain.MemCpy, domain.InputOf(s/k)))
			}

			require.Equal(t, seq.CPUConsumed(), bulk.CPUConsumed())
			require.Equal(t, seq.MemConsumed(), bulk.MemConsumed())
			require.Equal(t, seq.Tracker(domain.MemCpy).InputSum, bulk.Tracker(domain.MemCpy).InputSum)
			require.Equal(t, seq.Tracker(domain.MemCpy).Iterations, bulk.Tracker(domain.MemCpy).Iterations)
		}
	})

	t.Run("should charge wasm instructions without input", func(t *testing.T) {
		b := newTestBudget(t, domain.UnlimitedLimits(), domain.WasmInsnExec, domain.ConstantModel(4, 0))

		require.NoError(t, b.BulkCharge(domain.WasmInsnExec, 1000, domain.NoInput()))
		require.Equal(t, uint64(4000), b.CPUConsumed())

		tracker := b.Tracker(domain.WasmInsnExec)
		require.Equal(t, uint64(1000), tracker.Iterations)
		require.False(t, tracker.InputSum.Set)
	})

	t.Run("should reject an unknown cost type", func(t *testing.T) {
		b := budget.NewUnlimited()

		err := b.BulkCharge(domain.CostType(1000), 1, domain.NoInput())
		require.ErrorIs(t, err, domain.ErrUnconfiguredModel)
	})
}

func TestBudget_Reset(t *testing.T) {
	b := newTestBudget(t, domain.Limits{CPU: 100, Mem: 100}, domain.MemCpy,
		domain.CostModel{CPUConst: 10, CPULinear: 5})

	require.NoError(t, b.Charge(domain.MemCpy, domain.InputOf(10)))
	require.Error(t, b.Charge(domain.MemCpy, domain.InputOf(10)))

	b.Reset(domain.Limits{CPU: 200, Mem: 50})

	require.Equal(t, uint64(0), b.CPUConsumed())
	require.Equal(t, uint64(0), b.MeterCount())
	require.Equal(t, domain.Limits{CPU: 200, Mem: 50}, b.Limits())
	require.Equal(t, domain.CostTracker{}, b.Tracker(domain.MemCpy))

	require.NoError(t, b.Charge(domain.MemCpy, domain.InputOf(10)))
	require.NoError(t, b.Charge(domain.MemCpy, domain.InputOf(10)))
	require.Equal(t, uint64(120), b.CPUConsumed())
}
