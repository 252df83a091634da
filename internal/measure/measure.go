// Package measure binds every CostType to the host operation it meters and
// to the samples that exercise it.
package measure

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/davidbz/hostmeter/internal/calibration"
	"github.com/davidbz/hostmeter/internal/domain"
)

var errSampleType = errors.New("sample of unexpected type")

// sample carries one generated input. Anything allocated while running it is
// released by Close once the measurement windows are over.
type sample[T any] struct {
	value   T
	input   domain.Input
	units   uint64
	release func() error
}

func newSample[T any](value T, input domain.Input) *sample[T] {
	return &sample[T]{value: value, input: input, units: 1}
}

func (s *sample[T]) InputSize() domain.Input { return s.input }

func (s *sample[T]) Units() uint64 { return s.units }

func (s *sample[T]) Close() error {
	if s.release == nil {
		return nil
	}
	return s.release()
}

// Op is a Measurement assembled from plain functions over the sample value.
type Op[T any] struct {
	costType   domain.CostType
	iterations uint64
	cases      []calibration.Case
	generate   func(c calibration.Case, rng *rand.Rand, scale uint64) (*sample[T], error)
	run        func(v T) error
	baseline   func(v T) error
}

var _ calibration.Measurement = (*Op[int])(nil)

func newOp[T any](
	ct domain.CostType,
	iterations uint64,
	generate func(c calibration.Case, rng *rand.Rand, scale uint64) (*sample[T], error),
	run func(v T) error,
) *Op[T] {
	return &Op[T]{
		costType:   ct,
		iterations: iterations,
		cases:      []calibration.Case{calibration.Random},
		generate:   generate,
		run:        run,
	}
}

func (o *Op[T]) withCases(cases ...calibration.Case) *Op[T] {
	o.cases = cases
	return o
}

func (o *Op[T]) withBaseline(fn func(v T) error) *Op[T] {
	o.baseline = fn
	return o
}

func (o *Op[T]) CostType() domain.CostType { return o.costType }

func (o *Op[T]) Iterations() uint64 { return o.iterations }

func (o *Op[T]) Cases() []calibration.Case { return o.cases }

func (o *Op[T]) NewSample(c calibration.Case, rng *rand.Rand, scale uint64) (calibration.Sample, error) {
	return o.generate(c, rng, scale)
}

func (o *Op[T]) Run(s calibration.Sample) error {
	v, err := o.unwrap(s)
	if err != nil {
		return err
	}
	return o.run(v)
}

// Baseline does nothing unless the operation needs setup inside the window.
func (o *Op[T]) Baseline(s calibration.Sample) error {
	v, err := o.unwrap(s)
	if err != nil {
		return err
	}
	if o.baseline == nil {
		return nil
	}
	return o.baseline(v)
}

func (o *Op[T]) unwrap(s calibration.Sample) (T, error) {
	typed, ok := s.(*sample[T])
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %T for %s", errSampleType, s, o.costType)
	}
	return typed.value, nil
}

// randomBytes draws n bytes from rng.
func randomBytes(rng *rand.Rand, n uint64) []byte {
	out := make([]byte, n)
	var word [8]byte
	for i := 0; i < len(out); i += len(word) {
		binary.LittleEndian.PutUint64(word[:], rng.Uint64())
		copy(out[i:], word[:])
	}
	return out
}

func fixedSize[T any](gen func(rng *rand.Rand) (T, error)) func(calibration.Case, *rand.Rand, uint64) (*sample[T], error) {
	return func(_ calibration.Case, rng *rand.Rand, _ uint64) (*sample[T], error) {
		v, err := gen(rng)
		if err != nil {
			return nil, err
		}
		return newSample(v, domain.NoInput()), nil
	}
}

func ignore[R any](fn func() (R, error)) error {
	_, err := fn()
	return err
}
