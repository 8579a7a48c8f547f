package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the product page scraper.
// Registry is dedicated so the CLI can add pipeline collectors to it and
// serve both from one endpoint.
type Metrics struct {
	Registry         *prometheus.Registry
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  prometheus.Histogram
	PagesParsedTotal prometheus.Counter
	RetriesTotal     prometheus.Counter
	ErrorsTotal      *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	LastRunBooks     *prometheus.GaugeVec
	LastRunTimestamp prometheus.Gauge
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bsr_scraper_requests_total",
			Help: "Total product page requests issued.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bsr_scraper_request_duration_seconds",
			Help:    "HTTP latency of product page requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	pagesParsed := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bsr_scraper_pages_parsed_total",
			Help: "Total product pages parsed successfully.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bsr_scraper_retries_total",
			Help: "Total number of retry attempts scheduled.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bsr_scraper_errors_total",
			Help: "Total number of scraper errors by type.",
		},
		[]string{"error_type"},
	)
	runDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bsr_scraper_run_duration_seconds",
			Help:    "Wall time of a full scrape of every tracked book.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)
	lastRunBooks := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bsr_scraper_last_run_books",
			Help: "Books in the most recent scrape by outcome.",
		},
		[]string{"outcome"},
	)
	lastRun := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bsr_scraper_last_run_timestamp_seconds",
			Help: "Unix time the most recent scrape finished.",
		},
	)

	registry.MustRegister(requests, requestDuration, pagesParsed, retries, errorsTotal, runDuration, lastRunBooks, lastRun)

	return &Metrics{
		Registry:         registry,
		RequestsTotal:    requests,
		RequestDuration:  requestDuration,
		PagesParsedTotal: pagesParsed,
		RetriesTotal:     retries,
		ErrorsTotal:      errorsTotal,
		RunDuration:      runDuration,
		LastRunBooks:     lastRunBooks,
		LastRunTimestamp: lastRun,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncPages increments the parsed pages counter.
func (m *Metrics) IncPages() {
	if m == nil {
		return
	}
	m.PagesParsedTotal.Inc()
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// ObserveRun records the outcome of a finished scrape.
func (m *Metrics) ObserveRun(start, end time.Time, scraped, failed int) {
	if m == nil {
		return
	}
	m.RunDuration.Observe(end.Sub(start).Seconds())
	m.LastRunBooks.WithLabelValues("scraped").Set(float64(scraped))
	m.LastRunBooks.WithLabelValues("failed").Set(float64(failed))
	m.LastRunTimestamp.Set(float64(end.Unix()))
}
