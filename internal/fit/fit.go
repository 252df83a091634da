// Package fit turns calibration trackers into integer cost models.
package fit

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/davidbz/hostmeter/internal/domain"
)

// PoorFitThreshold is the R² below which a linear fit is flagged.
const PoorFitThreshold = 0.9

var (
	// ErrNoObservations is returned for an empty series.
	ErrNoObservations = errors.New("no observations to fit")

	// ErrMissingInput is returned when a linear type was measured without an input size.
	ErrMissingInput = errors.New("linear cost type observed without input size")

	// ErrDegenerateInput is returned when every observation has the same input
	// size, so no linear term can be determined.
	ErrDegenerateInput = errors.New("degenerate input: linear term cannot be determined")
)

// Line is a fitted affine function with its goodness of fit.
type Line struct {
	Intercept float64 `json:"intercept"`
	Slope     float64 `json:"slope"`
	R2        float64 `json:"r2"`
}

// Result is the model fitted for one CostType.
type Result struct {
	CostType     domain.CostType  `json:"cost_type"`
	Model        domain.CostModel `json:"model"`
	CPU          Line             `json:"cpu"`
	Mem          Line             `json:"mem"`
	Observations int              `json:"observations"`
}

// PoorFit reports whether either of a linear type's fits explains too little
// variance. A flat series fits with R² 1 and is never flagged.
func (r Result) PoorFit() bool {
	if !r.CostType.HasInput() {
		return false
	}
	return r.CPU.R2 < PoorFitThreshold || r.Mem.R2 < PoorFitThreshold
}

// Fit regresses per-iteration cpu and mem against per-iteration input size.
// Constant types fit to the mean. Coefficients are rounded so the integer
// model is never below the regression line over the observed inputs.
func Fit(ct domain.CostType, trackers []domain.CostTracker) (Result, error) {
	res := Result{CostType: ct}

	x := make([]float64, 0, len(trackers))
	cpu := make([]float64, 0, len(trackers))
	mem := make([]float64, 0, len(trackers))
	for i, t := range trackers {
		if t.Iterations == 0 {
			continue
		}
		if ct.HasInput() && !t.InputSum.Set {
			return res, fmt.Errorf("%w: %s observation %d", ErrMissingInput, ct, i)
		}
		n := float64(t.Iterations)
		x = append(x, float64(t.InputSum.OrZero())/n)
		cpu = append(cpu, float64(t.CPUInsns)/n)
		mem = append(mem, float64(t.MemBytes)/n)
	}
	if len(x) == 0 {
		return res, fmt.Errorf("%w: %s", ErrNoObservations, ct)
	}
	res.Observations = len(x)

	if !ct.HasInput() {
		res.CPU = Line{Intercept: stat.Mean(cpu, nil), R2: 1}
		res.Mem = Line{Intercept: stat.Mean(mem, nil), R2: 1}
		res.Model = domain.ConstantModel(ceil(res.CPU.Intercept), ceil(res.Mem.Intercept))
		return res, nil
	}

	if len(x) < 2 || stat.Variance(x, nil) == 0 {
		return res, fmt.Errorf("%w: %s (%d observations)", ErrDegenerateInput, ct, len(x))
	}

	xMax := maxOf(x)
	res.CPU = regress(x, cpu)
	res.Mem = regress(x, mem)
	res.Model.CPUConst, res.Model.CPULinear = round(res.CPU, xMax, cpu)
	res.Model.MemConst, res.Model.MemLinear = round(res.Mem, xMax, mem)

	return res, nil
}

func regress(x, y []float64) Line {
	alpha, beta := stat.LinearRegression(x, y, nil, false)

	r2 := 1.0
	if stat.Variance(y, nil) > 0 {
		r2 = stat.RSquared(x, y, nil, alpha, beta)
	}
	return Line{Intercept: alpha, Slope: beta, R2: r2}
}

// round truncates the slope and folds the dropped fraction, taken at the
// largest observed input, into the constant term.
func round(l Line, xMax float64, y []float64) (uint64, uint64) {
	if l.Slope <= 0 {
		return ceil(maxOf(y)), 0
	}
	slope := snap(l.Slope)
	linear := math.Floor(slope)
	constant := l.Intercept + (slope-linear)*xMax
	return ceil(constant), uint64(linear)
}

func ceil(v float64) uint64 {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	if v >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(math.Ceil(snap(v)))
}

// snap absorbs floating point error around integers so that exact data does
// not round up by a whole unit.
func snap(v float64) float64 {
	const epsilon = 1e-6
	if r := math.Round(v); math.Abs(v-r) < epsilon {
		return r
	}
	return v
}

func maxOf(vs []float64) float64 {
	m := math.Inf(-1)
	for _, v := range vs {
		m = math.Max(m, v)
	}
	return m
}
