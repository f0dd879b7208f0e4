// Package metrics exposes drain counters and cycle telemetry to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/velmie/drain"
)

const namespace = "drain"

// Recorder implements drain.Metrics with histograms labelled by sink name.
type Recorder struct {
	sink     string
	duration prometheus.Observer
	size     prometheus.Observer
}

var _ drain.Metrics = (*Recorder)(nil)

// Histograms holds the cycle histograms shared by every sink of a registry.
type Histograms struct {
	BatchDuration *prometheus.HistogramVec
	BatchSize     *prometheus.HistogramVec
}

// NewHistograms registers the cycle histograms with reg.
func NewHistograms(reg prometheus.Registerer) *Histograms {
	f := promauto.With(reg)
	return &Histograms{
		BatchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of successful drain cycles in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sink"}),
		BatchSize: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Events written per successful drain cycle.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"sink"}),
	}
}

// Recorder returns a drain.Metrics bound to the sink label.
func (h *Histograms) Recorder(sink string) *Recorder {
	return &Recorder{
		sink:     sink,
		duration: h.BatchDuration.WithLabelValues(sink),
		size:     h.BatchSize.WithLabelValues(sink),
	}
}

// ObserveBatchDuration implements drain.Metrics.
func (r *Recorder) ObserveBatchDuration(d time.Duration) {
	r.duration.Observe(d.Seconds())
}

// ObserveBatchSize implements drain.Metrics.
func (r *Recorder) ObserveBatchSize(n int) {
	r.size.Observe(float64(n))
}
