package domain

import (
	"errors"
	"fmt"
)

// Dimension names the resource a charge ran out of.
type Dimension string

const (
	DimensionCPU Dimension = "cpu"
	DimensionMem Dimension = "mem"
)

var (
	// ErrBudgetExceeded matches every *BudgetExceededError.
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrUnconfiguredModel indicates a cost table without a model for a released CostType.
	ErrUnconfiguredModel = errors.New("cost model not configured")

	// ErrUnknownCostType indicates a CostType outside the taxonomy.
	ErrUnknownCostType = errors.New("unknown cost type")

	// ErrSnapshotNotFound is returned by a ParamsStore with nothing saved.
	ErrSnapshotNotFound = errors.New("params snapshot not found")
)

// BudgetExceededError reports a refused charge.
type BudgetExceededError struct {
	CostType  CostType
	Dimension Dimension
	Limit     uint64
	Consumed  uint64
	Requested uint64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("%s budget exceeded charging %s: consumed %d + requested %d > limit %d",
		e.Dimension, e.CostType, e.Consumed, e.Requested, e.Limit)
}

// Is makes errors.Is(err, ErrBudgetExceeded) hold.
func (e *BudgetExceededError) Is(target error) bool {
	return target == ErrBudgetExceeded
}
