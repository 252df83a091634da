package domain_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/hostmeter/internal/domain"
)

func TestInput(t *testing.T) {
	require.Equal(t, "None", domain.NoInput().String())
	require.Equal(t, "Some(42)", domain.InputOf(42).String())
	require.Equal(t, uint64(0), domain.NoInput().OrZero())

	require.Equal(t, domain.NoInput(), domain.NoInput().Add(domain.NoInput()))
	require.Equal(t, domain.InputOf(5), domain.NoInput().Add(domain.InputOf(5)))
	require.Equal(t, domain.InputOf(7), domain.InputOf(3).Add(domain.InputOf(4)))

	data, err := json.Marshal(struct {
		A domain.Input `json:"a"`
		B domain.Input `json:"b"`
	}{domain.NoInput(), domain.InputOf(9)})
	require.NoError(t, err)
	require.JSONEq(t, `{"a":null,"b":9}`, string(data))

	var decoded struct {
		A domain.Input `json:"a"`
		B domain.Input `json:"b"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.False(t, decoded.A.Set)
	require.Equal(t, domain.InputOf(9), decoded.B)
}

func TestCostModel_Evaluate(t *testing.T) {
	tests := []struct {
		name        string
		model       domain.CostModel
		iterations  uint64
		input       domain.Input
		expectedCPU uint64
		expectedMem uint64
	}{
		{
			name:        "single unit with input",
			model:       domain.CostModel{CPUConst: 10, CPULinear: 5, MemConst: 2, MemLinear: 1},
			iterations:  1,
			input:       domain.InputOf(10),
			expectedCPU: 60,
			expectedMem: 12,
		},
		{
			name:        "bulk units scale the constant term",
			model:       domain.CostModel{CPUConst: 10, CPULinear: 5},
			iterations:  3,
			input:       domain.InputOf(30),
			expectedCPU: 180,
		},
		{
			name:        "absent input charges the constant only",
			model:       domain.CostModel{CPUConst: 10, CPULinear: 5, MemConst: 1},
			iterations:  4,
			input:       domain.NoInput(),
			expectedCPU: 40,
			expectedMem: 4,
		},
		{
			name:        "overflow saturates",
			model:       domain.CostModel{CPUConst: math.MaxUint64 / 2, CPULinear: 2},
			iterations:  3,
			input:       domain.InputOf(1),
			expectedCPU: math.MaxUint64,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cpu, mem := tt.model.Evaluate(tt.iterations, tt.input)
			require.Equal(t, tt.expectedCPU, cpu)
			require.Equal(t, tt.expectedMem, mem)
		})
	}
}

func TestCostTracker_Record(t *testing.T) {
	t.Run("constant operations keep an absent input sum", func(t *testing.T) {
		var tracker domain.CostTracker
		tracker.Record(100, domain.NoInput(), 500, 0)
		tracker.Record(100, domain.NoInput(), 700, 16)

		require.Equal(t, uint64(200), tracker.Iterations)
		require.False(t, tracker.InputSum.Set)
		require.Equal(t, uint64(1200), tracker.CPUInsns)
		require.Equal(t, uint64(16), tracker.MemBytes)
	})

	t.Run("linear operations sum their inputs", func(t *testing.T) {
		var tracker domain.CostTracker
		tracker.Record(1, domain.InputOf(64), 10, 1)
		tracker.Record(1, domain.InputOf(128), 20, 2)

		require.Equal(t, domain.InputOf(192), tracker.InputSum)
	})
}
