// Package budget implements the cpu/mem ledger charged by every host operation.
package budget

import (
	"fmt"
	"math/bits"

	"github.com/davidbz/hostmeter/internal/domain"
)

// Budget is the per-invocation ledger. It is not safe for concurrent use:
// each invocation owns an exclusive Budget.
type Budget struct {
	params      domain.Params
	limits      domain.Limits
	cpuConsumed uint64
	memConsumed uint64
	trackers    map[domain.CostType]*domain.CostTracker
	meterCount  uint64
}

// New builds a Budget over params, which must cover every CostType released at version.
func New(params domain.Params, limits domain.Limits, version domain.ProtocolVersion) (*Budget, error) {
	if err := params.Validate(version); err != nil {
		return nil, fmt.Errorf("invalid cost params: %w", err)
	}

	return &Budget{
		params:   params.Clone(),
		limits:   limits,
		trackers: make(map[domain.CostType]*domain.CostTracker),
	}, nil
}

// NewDefault builds a Budget over the reference cost table.
func NewDefault(limits domain.Limits) *Budget {
	b, err := New(domain.DefaultParams(), limits, domain.CurrentProtocolVersion)
	if err != nil {
		panic(err)
	}
	return b
}

// NewUnlimited builds a Budget that only tracks usage. Calibration runs host
// operations through it so that metering overhead is part of the measurement.
func NewUnlimited() *Budget {
	return NewDefault(domain.UnlimitedLimits())
}

// Charge bills one unit of ct. It must be called before the work it pays for.
func (b *Budget) Charge(ct domain.CostType, input domain.Input) error {
	return b.BulkCharge(ct, 1, input)
}

// BulkCharge bills iterations units of ct whose inputs sum to inputSum. The
// constant terms are multiplied by iterations and the linear terms by inputSum.
// On failure nothing is applied.
func (b *Budget) BulkCharge(ct domain.CostType, iterations uint64, inputSum domain.Input) error {
	model, ok := b.params[ct]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnconfiguredModel, ct)
	}

	cpu, mem := model.Evaluate(iterations, inputSum)

	newCPU, err := b.accumulate(ct, domain.DimensionCPU, b.cpuConsumed, cpu, b.limits.CPU)
	if err != nil {
		return err
	}
	newMem, err := b.accumulate(ct, domain.DimensionMem, b.memConsumed, mem, b.limits.Mem)
	if err != nil {
		return err
	}

	b.cpuConsumed = newCPU
	b.memConsumed = newMem
	b.meterCount++

	tracker, ok := b.trackers[ct]
	if !ok {
		tracker = &domain.CostTracker{}
		b.trackers[ct] = tracker
	}
	tracker.Record(iterations, inputSum, cpu, mem)

	return nil
}

func (b *Budget) accumulate(
	ct domain.CostType,
	dim domain.Dimension,
	consumed, requested, limit uint64,
) (uint64, error) {
	total, carry := bits.Add64(consumed, requested, 0)
	if carry != 0 || total > limit {
		return 0, &domain.BudgetExceededError{
			CostType:  ct,
			Dimension: dim,
			Limit:     limit,
			Consumed:  consumed,
			Requested: requested,
		}
	}
	return total, nil
}

// Reset clears consumption and trackers and installs new limits.
func (b *Budget) Reset(limits domain.Limits) {
	b.limits = limits
	b.cpuConsumed = 0
	b.memConsumed = 0
	b.meterCount = 0
	b.trackers = make(map[domain.CostType]*domain.CostTracker)
}

// EnableModel overrides the model of ct.
func (b *Budget) EnableModel(ct domain.CostType, model domain.CostModel) error {
	if !ct.Valid() {
		return fmt.Errorf("%w: %d", domain.ErrUnknownCostType, uint32(ct))
	}
	b.params[ct] = model
	return nil
}

// CPUConsumed returns the cpu instructions charged so far.
func (b *Budget) CPUConsumed() uint64 { return b.cpuConsumed }

// MemConsumed returns the memory bytes charged so far.
func (b *Budget) MemConsumed() uint64 { return b.memConsumed }

// CPURemaining returns the cpu headroom before the limit.
func (b *Budget) CPURemaining() uint64 { return b.limits.CPU - b.cpuConsumed }

// MemRemaining returns the memory headroom before the limit.
func (b *Budget) MemRemaining() uint64 { return b.limits.Mem - b.memConsumed }

// Limits returns the installed limits.
func (b *Budget) Limits() domain.Limits { return b.limits }

// MeterCount returns how many charges have been applied since the last reset.
func (b *Budget) MeterCount() uint64 { return b.meterCount }

// Model returns the model of ct.
func (b *Budget) Model(ct domain.CostType) (domain.CostModel, bool) {
	m, ok := b.params[ct]
	return m, ok
}

// Params returns a copy of the installed cost table.
func (b *Budget) Params() domain.Params { return b.params.Clone() }

// Tracker returns the charges accumulated for ct.
func (b *Budget) Tracker(ct domain.CostType) domain.CostTracker {
	if t, ok := b.trackers[ct]; ok {
		return *t
	}
	return domain.CostTracker{}
}
