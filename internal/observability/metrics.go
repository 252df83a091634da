package observability

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/davidbz/hostmeter/internal/domain"
)

const (
	namespace = "hostmeter"

	labelCostType = "cost_type"
	labelTerm     = "term"
	labelOutcome  = "outcome"
)

// ErrWrongMetricType is returned when a collector name is already taken by another type.
var ErrWrongMetricType = errors.New("collector already registered with different type")

// Metrics holds the prometheus collectors of the service. A nil *Metrics
// records nothing.
type Metrics struct {
	calibrationSeconds  *prometheus.HistogramVec
	calibrationFailures *prometheus.CounterVec
	modelTerms          *prometheus.GaugeVec
	charges             *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors on prom.
func NewMetrics(prom prometheus.Registerer) (*Metrics, error) {
	calibrationSeconds := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "calibration_duration_seconds",
			Help:      "Wall time spent calibrating one cost type.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{labelCostType},
	)
	calibrationFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calibration_failures_total",
			Help:      "Calibration runs aborted by a measurement failure.",
		},
		[]string{labelCostType},
	)
	modelTerms := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cost_model_term",
			Help:      "Coefficients of the active cost models.",
		},
		[]string{labelCostType, labelTerm},
	)
	charges := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "charges_total",
			Help:      "Simulated charges by cost type and outcome.",
		},
		[]string{labelCostType, labelOutcome},
	)

	var err error
	if calibrationSeconds, err = registerCollector(prom, calibrationSeconds); err != nil {
		return nil, err
	}
	if calibrationFailures, err = registerCollector(prom, calibrationFailures); err != nil {
		return nil, err
	}
	if modelTerms, err = registerCollector(prom, modelTerms); err != nil {
		return nil, err
	}
	if charges, err = registerCollector(prom, charges); err != nil {
		return nil, err
	}

	return &Metrics{
		calibrationSeconds:  calibrationSeconds,
		calibrationFailures: calibrationFailures,
		modelTerms:          modelTerms,
		charges:             charges,
	}, nil
}

// ObserveCalibration records how long a cost type took to calibrate.
func (m *Metrics) ObserveCalibration(costType string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.calibrationSeconds.With(prometheus.Labels{labelCostType: costType}).Observe(elapsed.Seconds())
}

// ObserveFailure counts an aborted calibration.
func (m *Metrics) ObserveFailure(costType string) {
	if m == nil {
		return
	}
	m.calibrationFailures.With(prometheus.Labels{labelCostType: costType}).Inc()
}

// ObserveModel publishes the four terms of a model.
func (m *Metrics) ObserveModel(costType string, model domain.CostModel) {
	if m == nil {
		return
	}
	for term, v := range map[string]uint64{
		"const_cpu": model.CPUConst,
		"lin_cpu":   model.CPULinear,
		"const_mem": model.MemConst,
		"lin_mem":   model.MemLinear,
	} {
		m.modelTerms.With(prometheus.Labels{labelCostType: costType, labelTerm: term}).Set(float64(v))
	}
}

// ObserveCharge counts a charge outcome ("ok" or the exceeded dimension).
func (m *Metrics) ObserveCharge(costType, outcome string) {
	if m == nil {
		return
	}
	m.charges.With(prometheus.Labels{labelCostType: costType, labelOutcome: outcome}).Inc()
}

// registerCollector registers a Prometheus collector and returns the registered collector or an error
func registerCollector[T prometheus.Collector](prom prometheus.Registerer, c T) (T, error) {
	err := prom.Register(c)
	if err == nil {
		return c, nil
	}

	var are prometheus.AlreadyRegisteredError
	if !errors.As(err, &are) {
		return c, err
	}

	existing, ok := are.ExistingCollector.(T)
	if !ok {
		return c, ErrWrongMetricType
	}

	return existing, nil
}
