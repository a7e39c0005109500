package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/wippyai/wasm-contract/strip"
)

const namespace = "contract_build"

// Metrics records pipeline activity. A nil *Metrics records nothing.
type Metrics struct {
	stageDuration *prometheus.HistogramVec
	builds        *prometheus.CounterVec
	warnings      *prometheus.CounterVec
	moduleBytes   *prometheus.HistogramVec
}

// NewMetrics creates the pipeline collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"stage"}),
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "builds_total",
			Help:      "Pipeline runs by outcome: ok or the error kind.",
		}, []string{"outcome"}),
		warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborator_warnings_total",
			Help:      "Discarded optimizer runs by warning kind and rule.",
		}, []string{"kind", "rule"}),
		moduleBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "module_bytes",
			Help:      "Module size at the input and after stripping and optimizing.",
			Buckets:   prometheus.ExponentialBuckets(1024, 2, 12),
		}, []string{"point"}),
	}

	var err error
	for _, c := range []prometheus.Collector{m.stageDuration, m.builds, m.warnings, m.moduleBytes} {
		err = multierr.Append(err, reg.Register(c))
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) observeStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) observeOutcome(outcome string) {
	if m == nil {
		return
	}
	m.builds.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeWarnings(ws []strip.Warning) {
	if m == nil {
		return
	}
	for _, w := range ws {
		m.warnings.WithLabelValues(string(w.Kind()), w.Err.Rule).Inc()
	}
}

func (m *Metrics) observeSizes(input, final int) {
	if m == nil {
		return
	}
	m.moduleBytes.WithLabelValues("input").Observe(float64(input))
	m.moduleBytes.WithLabelValues("final").Observe(float64(final))
}
