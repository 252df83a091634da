package calibration

import (
	"context"
	"errors"
	"fmt"

	"github.com/davidbz/hostmeter/internal/domain"
	"github.com/davidbz/hostmeter/internal/fit"
	"github.com/davidbz/hostmeter/internal/observability"
)

// Outcome is the calibration of one CostType.
type Outcome struct {
	CostType domain.CostType
	Result   *Result
	Fit      *fit.Result
	Err      error
}

// Calibrate measures each of ms in order and, when fitModels is set, fits a
// model from its worst (or random) series. A failure aborts only the CostType
// it happened in; all failures are joined into the returned error.
func (h *Harness) Calibrate(ctx context.Context, ms []Measurement, fitModels bool) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(ms))
	var errs []error

	for _, m := range ms {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		outcome := h.calibrateOne(ctx, m, fitModels)
		if outcome.Err != nil {
			errs = append(errs, outcome.Err)
		}
		outcomes = append(outcomes, outcome)
	}

	return outcomes, errors.Join(errs...)
}

func (h *Harness) calibrateOne(ctx context.Context, m Measurement, fitModels bool) Outcome {
	ct := m.CostType()
	res, err := h.Measure(ctx, m)
	if err != nil {
		return Outcome{CostType: ct, Err: err}
	}
	if !fitModels {
		return Outcome{CostType: ct, Result: res}
	}

	fitted, err := fit.Fit(res.CostType, res.Trackers(FitCase(m.Cases())))
	if err != nil {
		return Outcome{CostType: ct, Result: res, Err: fmt.Errorf("fitting %s: %w", res.CostType, err)}
	}

	if fitted.PoorFit() {
		observability.FromContext(observability.WithCostType(ctx, res.CostType.String())).
			Warn("poor linear fit",
				observability.Float64("cpu_r2", fitted.CPU.R2),
				observability.Float64("mem_r2", fitted.Mem.R2),
			)
	}
	h.metrics.ObserveModel(res.CostType.String(), fitted.Model)

	return Outcome{CostType: ct, Result: res, Fit: &fitted}
}

// Params overlays the fitted models of outcomes on base.
func Params(base domain.Params, outcomes []Outcome) domain.Params {
	out := base.Clone()
	for _, o := range outcomes {
		if o.Err == nil && o.Fit != nil {
			out[o.Fit.CostType] = o.Fit.Model
		}
	}
	return out
}
