package mirror

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects probe statistics of one run.  A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	probesTotal   *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec
	cutoffsTotal  prometheus.Counter
	rankedMirrors prometheus.Gauge
}

// NewMetrics creates Metrics backed by a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		probesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirrorrank_probes_total",
				Help: "Number of mirror probes by protocol and result.",
			},
			[]string{"protocol", "result"},
		),
		probeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mirrorrank_probe_duration_seconds",
				Help:    "Duration of successful mirror probes.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
			},
			[]string{"protocol"},
		),
		cutoffsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mirrorrank_limit_cutoffs_total",
				Help: "Number of times probing stopped early because the limit was reached.",
			},
		),
		rankedMirrors: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mirrorrank_ranked_mirrors",
				Help: "Number of mirrors in the last generated list.",
			},
		),
	}
	m.registry.MustRegister(m.probesTotal, m.probeDuration, m.cutoffsTotal, m.rankedMirrors)
	return m
}

// ObserveProbe records one probe.
func (m *Metrics) ObserveProbe(protocol string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
		m.probeDuration.WithLabelValues(protocol).Observe(d.Seconds())
	}
	m.probesTotal.WithLabelValues(protocol, result).Inc()
}

// Cutoff records an early stop of the concurrent strategy.
func (m *Metrics) Cutoff() {
	if m == nil {
		return
	}
	m.cutoffsTotal.Inc()
}

// SetRanked records the size of the generated list.
func (m *Metrics) SetRanked(n int) {
	if m == nil {
		return
	}
	m.rankedMirrors.Set(float64(n))
}

// WriteFile writes all metrics to path in the Prometheus text format.
// The file is replaced atomically.
func (m *Metrics) WriteFile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return errors.Wrap(err, "write metrics file")
	}
	return nil
}
