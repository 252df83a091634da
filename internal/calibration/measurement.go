// Package calibration measures host operations under instrumentation and
// derives their cost models.
package calibration

import (
	"fmt"
	"math/rand/v2"

	"github.com/davidbz/hostmeter/internal/domain"
)

// Case selects how a sample is generated.
type Case uint8

const (
	// Best exercises the cheapest path of an operation.
	Best Case = iota
	// Worst exercises the most expensive path of an operation.
	Worst
	// Random draws a realistic input.
	Random
)

func (c Case) String() string {
	switch c {
	case Best:
		return "best"
	case Worst:
		return "worst"
	case Random:
		return "random"
	default:
		return fmt.Sprintf("case(%d)", uint8(c))
	}
}

// Sample is the input of one measured iteration.
type Sample interface {
	// InputSize is the declared size the cost is correlated against.
	InputSize() domain.Input
}

// Batched is implemented by samples that stand for more than one charged
// unit, such as a block of guest instructions.
type Batched interface {
	Units() uint64
}

func unitsOf(s Sample) uint64 {
	if b, ok := s.(Batched); ok {
		return b.Units()
	}
	return 1
}

// Measurement describes how to calibrate one CostType.
type Measurement interface {
	// CostType is the operation being measured.
	CostType() domain.CostType

	// Iterations is how many samples are measured per scale level. Cheap
	// operations use many to average out jitter; one-shot operations use one.
	Iterations() uint64

	// Cases lists the sample kinds this operation needs.
	Cases() []Case

	// NewSample builds a sample outside the measurement window.
	NewSample(c Case, rng *rand.Rand, scale uint64) (Sample, error)

	// Run performs the operation on s.
	Run(s Sample) error

	// Baseline performs only the setup Run needs, without the operation.
	Baseline(s Sample) error
}

// FitCase picks the case whose series the model is fitted from: worst when
// measured, then random, then best.
func FitCase(cases []Case) Case {
	has := make(map[Case]bool, len(cases))
	for _, c := range cases {
		has[c] = true
	}
	switch {
	case has[Worst]:
		return Worst
	case has[Random]:
		return Random
	default:
		return Best
	}
}

// MeasurementError wraps a failure inside a calibration run.
type MeasurementError struct {
	CostType  domain.CostType
	Case      Case
	Scale     uint64
	Iteration int
	Phase     string
	Err       error
}

func (e *MeasurementError) Error() string {
	return fmt.Sprintf("measuring %s (%s case, scale %d, iteration %d, %s): %v",
		e.CostType, e.Case, e.Scale, e.Iteration, e.Phase, e.Err)
}

func (e *MeasurementError) Unwrap() error {
	return e.Err
}
