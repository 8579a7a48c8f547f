package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the publishing cycle.
type Metrics struct {
	PublishTotal     *prometheus.CounterVec
	PublishDuration  prometheus.Histogram
	TrackedBooks     prometheus.Gauge
	FailedBooks      prometheus.Gauge
	ValidationErrors *prometheus.CounterVec
}

// NewMetrics constructs the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PublishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bsr_publish_total",
				Help: "Publishing cycles by result.",
			},
			[]string{"result"},
		),
		PublishDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bsr_publish_duration_seconds",
				Help:    "Time spent writing the tracker documents.",
				Buckets: prometheus.DefBuckets,
			},
		),
		TrackedBooks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bsr_tracked_books",
				Help: "Books in the latest leaderboard.",
			},
		),
		FailedBooks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bsr_failed_books",
				Help: "Books whose latest scrape recorded an error.",
			},
		),
		ValidationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bsr_validation_errors_total",
				Help: "Observations rejected before merging, by reason.",
			},
			[]string{"reason"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.PublishTotal, m.PublishDuration, m.TrackedBooks, m.FailedBooks, m.ValidationErrors)
	}
	return m
}

func (m *Metrics) observePublish(result string, seconds float64) {
	if m == nil {
		return
	}
	m.PublishTotal.WithLabelValues(result).Inc()
	m.PublishDuration.Observe(seconds)
}

func (m *Metrics) setLeaderboard(total, failed int) {
	if m == nil {
		return
	}
	m.TrackedBooks.Set(float64(total))
	m.FailedBooks.Set(float64(failed))
}

func (m *Metrics) incValidation(reason string) {
	if m == nil {
		return
	}
	m.ValidationErrors.WithLabelValues(reason).Inc()
}
