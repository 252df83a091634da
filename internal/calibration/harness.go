package calibration

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand/v2"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/zeebo/blake3"

	"github.com/davidbz/hostmeter/internal/domain"
	"github.com/davidbz/hostmeter/internal/instrument"
	"github.com/davidbz/hostmeter/internal/observability"
)

// DefaultScaleLevels is the number of levels in the reference sweep.
const DefaultScaleLevels = 33

// Seed is the root of all sample randomness.
type Seed [32]byte

// DefaultSeed is the all-0xff seed.
func DefaultSeed() Seed {
	var s Seed
	for i := range s {
		s[i] = 0xff
	}
	return s
}

// Options configure a Harness.
type Options struct {
	Seed        Seed
	ScaleLevels int
}

// Series is the trackers observed for one case, one per scale level.
type Series struct {
	Case     Case                 `json:"case"`
	Trackers []domain.CostTracker `json:"trackers"`
}

// Result is everything measured for one CostType.
type Result struct {
	CostType   domain.CostType `json:"cost_type"`
	Iterations uint64          `json:"iterations"`
	Unit       string          `json:"unit"`
	Series     []Series        `json:"series"`
	Elapsed    time.Duration   `json:"elapsed"`
}

// Trackers returns the series of case c.
func (r *Result) Trackers(c Case) []domain.CostTracker {
	for _, s := range r.Series {
		if s.Case == c {
			return s.Trackers
		}
	}
	return nil
}

// Total sums the trackers of case c.
func (r *Result) Total(c Case) domain.CostTracker {
	var total domain.CostTracker
	for _, t := range r.Trackers(c) {
		total.Record(t.Iterations, t.InputSum, t.CPUInsns, t.MemBytes)
	}
	return total
}

// Harness runs measurements. It is single threaded: every window is closed
// before the next one opens.
type Harness struct {
	inst    *instrument.Context
	opts    Options
	metrics *observability.Metrics
}

// NewHarness creates a harness over an instrumentation context.
func NewHarness(inst *instrument.Context, opts Options, metrics *observability.Metrics) *Harness {
	if opts.ScaleLevels <= 0 {
		opts.ScaleLevels = DefaultScaleLevels
	}
	return &Harness{inst: inst, opts: opts, metrics: metrics}
}

// Measure sweeps every case of m across all scale levels. The first failure
// aborts the run.
func (h *Harness) Measure(ctx context.Context, m Measurement) (*Result, error) {
	ct := m.CostType()
	ctx = observability.WithCostType(ctx, ct.String())
	logger := observability.FromContext(ctx)

	iterations := m.Iterations()
	if iterations == 0 {
		return nil, fmt.Errorf("measurement for %s declares zero iterations", ct)
	}

	// Collection only runs between windows.
	prevGC := debug.SetGCPercent(-1)
	defer debug.SetGCPercent(prevGC)

	started := time.Now()
	res := &Result{CostType: ct, Iterations: iterations, Unit: h.inst.Unit()}

	logger.Info("calibration started",
		observability.Uint64("iterations", iterations),
		observability.Int("scale_levels", h.opts.ScaleLevels))

	for _, c := range m.Cases() {
		series := Series{Case: c, Trackers: make([]domain.CostTracker, 0, h.opts.ScaleLevels)}

		for level := range h.opts.ScaleLevels {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("calibrating %s: %w", ct, err)
			}

			scale := uint64(level)
			tracker, err := h.measureScale(m, c, scale, iterations)
			if err != nil {
				logger.Error("calibration failed", observability.Error(err))
				h.metrics.ObserveFailure(ct.String())
				return nil, err
			}

			logger.Debug("scale measured",
				observability.String("case", c.String()),
				observability.Uint64("scale", scale),
				observability.String("input", tracker.InputSum.String()),
				observability.Uint64("cpu", tracker.CPUInsns),
				observability.Uint64("mem", tracker.MemBytes))

			series.Trackers = append(series.Trackers, tracker)
		}

		res.Series = append(res.Series, series)
	}

	res.Elapsed = time.Since(started)
	h.metrics.ObserveCalibration(ct.String(), res.Elapsed)

	logger.Info("calibration finished", observability.Duration("elapsed", res.Elapsed))

	return res, nil
}

// measureScale runs one baseline window and one real window over the same
// batch of samples and returns the clamped difference.
func (h *Harness) measureScale(m Measurement, c Case, scale, iterations uint64) (domain.CostTracker, error) {
	ct := m.CostType()
	fail := func(i int, phase string, err error) error {
		return &MeasurementError{CostType: ct, Case: c, Scale: scale, Iteration: i, Phase: phase, Err: err}
	}

	samples := make([]Sample, 0, iterations)
	defer func() { closeSamples(samples) }()

	input := domain.NoInput()
	var units uint64
	for i := range int(iterations) {
		rng := rand.New(rand.NewChaCha8(h.sampleSeed(ct, c, scale, uint64(i))))
		s, err := m.NewSample(c, rng, scale)
		if err != nil {
			return domain.CostTracker{}, fail(i, "sample", err)
		}
		samples = append(samples, s)
		input = input.Add(s.InputSize())
		units += unitsOf(s)
	}

	runtime.GC()

	failed := -1
	base, err := h.inst.Measure(func() error {
		for i, s := range samples {
			if err := m.Baseline(s); err != nil {
				failed = i
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.CostTracker{}, fail(failed, "baseline", err)
	}

	measured, err := h.inst.Measure(func() error {
		for i, s := range samples {
			if err := m.Run(s); err != nil {
				failed = i
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.CostTracker{}, fail(failed, "run", err)
	}

	var tracker domain.CostTracker
	tracker.Record(units, input, clampedSub(measured.CPU, base.CPU), clampedSub(measured.Mem, base.Mem))
	if !ct.HasInput() {
		tracker.InputSum = domain.NoInput()
	}
	return tracker, nil
}

// sampleSeed derives a per-sample seed so that each sample is independent of
// how many random draws earlier samples made.
func (h *Harness) sampleSeed(ct domain.CostType, c Case, scale, index uint64) [32]byte {
	buf := make([]byte, 0, len(h.opts.Seed)+4+1+8+8)
	buf = append(buf, h.opts.Seed[:]...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(ct))
	buf = append(buf, byte(c))
	buf = binary.BigEndian.AppendUint64(buf, scale)
	buf = binary.BigEndian.AppendUint64(buf, index)
	return blake3.Sum256(buf)
}

func clampedSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}

func closeSamples(samples []Sample) {
	for _, s := range samples {
		if closer, ok := s.(io.Closer); ok {
			_ = closer.Close()
		}
	}
}
