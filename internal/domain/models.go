package domain

import (
	"encoding/json"
	"math/bits"
	"strconv"
)

// Input is the optional size dimension passed to a charge.
type Input struct {
	Set   bool
	Value uint64
}

// NoInput is the input of an operation without a size dimension.
func NoInput() Input {
	return Input{}
}

// InputOf returns a present input of size n.
func InputOf(n uint64) Input {
	return Input{Set: true, Value: n}
}

// OrZero returns the input size, or 0 when absent.
func (i Input) OrZero() uint64 {
	if !i.Set {
		return 0
	}
	return i.Value
}

// Add sums two inputs. The sum is absent only when both sides are absent.
func (i Input) Add(other Input) Input {
	if !i.Set && !other.Set {
		return NoInput()
	}
	return InputOf(saturatingAdd(i.OrZero(), other.OrZero()))
}

func (i Input) String() string {
	if !i.Set {
		return "None"
	}
	return "Some(" + strconv.FormatUint(i.Value, 10) + ")"
}

// MarshalJSON encodes an absent input as null.
func (i Input) MarshalJSON() ([]byte, error) {
	if !i.Set {
		return []byte("null"), nil
	}
	return json.Marshal(i.Value)
}

// UnmarshalJSON decodes null as an absent input.
func (i *Input) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*i = NoInput()
		return nil
	}
	var v uint64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*i = InputOf(v)
	return nil
}

// CostModel is the affine cpu/mem cost function of one CostType.
type CostModel struct {
	CPUConst  uint64 `json:"const_term_cpu"`
	CPULinear uint64 `json:"lin_term_cpu"`
	MemConst  uint64 `json:"const_term_mem"`
	MemLinear uint64 `json:"lin_term_mem"`
}

// ConstantModel builds a model with zero linear terms.
func ConstantModel(cpu, mem uint64) CostModel {
	return CostModel{CPUConst: cpu, MemConst: mem}
}

// IsConstant reports whether both linear terms are zero.
func (m CostModel) IsConstant() bool {
	return m.CPULinear == 0 && m.MemLinear == 0
}

// Evaluate returns the cpu and mem cost of iterations units with a combined
// input of inputSum. Results saturate at MaxUint64.
func (m CostModel) Evaluate(iterations uint64, inputSum Input) (cpu, mem uint64) {
	n := inputSum.OrZero()
	cpu = saturatingAdd(saturatingMul(m.CPUConst, iterations), saturatingMul(m.CPULinear, n))
	mem = saturatingAdd(saturatingMul(m.MemConst, iterations), saturatingMul(m.MemLinear, n))
	return cpu, mem
}

// CostTracker accumulates the measured cost of a run of one CostType.
type CostTracker struct {
	Iterations uint64 `json:"iterations"`
	InputSum   Input  `json:"input"`
	CPUInsns   uint64 `json:"cpu_insns"`
	MemBytes   uint64 `json:"mem_bytes"`
}

// Record folds one batch of iterations into the tracker.
func (t *CostTracker) Record(iterations uint64, input Input, cpu, mem uint64) {
	t.Iterations = saturatingAdd(t.Iterations, iterations)
	t.InputSum = t.InputSum.Add(input)
	t.CPUInsns = saturatingAdd(t.CPUInsns, cpu)
	t.MemBytes = saturatingAdd(t.MemBytes, mem)
}

// Limits are the cpu and memory ceilings of a Budget.
type Limits struct {
	CPU uint64 `json:"cpu_limit"`
	Mem uint64 `json:"mem_limit"`
}

// UnlimitedLimits never refuse a charge short of saturation.
func UnlimitedLimits() Limits {
	return Limits{CPU: ^uint64(0), Mem: ^uint64(0)}
}

func saturatingAdd(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return ^uint64(0)
	}
	return sum
}

func saturatingMul(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return ^uint64(0)
	}
	return lo
}
