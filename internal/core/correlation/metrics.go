package correlation

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce sync.Once

	// correlationRequestsTotal tracks correlate calls by outcome
	correlationRequestsTotal *prometheus.CounterVec

	// correlationDuration tracks end-to-end correlation latency
	correlationDuration prometheus.Histogram

	// threatScoreDistribution tracks computed threat scores
	threatScoreDistribution prometheus.Histogram

	// sourceFailuresTotal tracks per-source failures by status
	sourceFailuresTotal *prometheus.CounterVec

	// labelCoverage tracks the fraction of labels mapped to techniques
	labelCoverage prometheus.Histogram
)

// InitMetrics registers all Prometheus metrics for the correlation engine.
// This should be called once at application startup.
func InitMetrics() {
	metricsOnce.Do(func() {
		correlationRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "correlation_requests_total",
				Help: "Total number of correlation requests by outcome",
			},
			[]string{"outcome"},
		)

		correlationDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "correlation_duration_seconds",
				Help:    "Duration of correlation requests in seconds",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
			},
		)

		threatScoreDistribution = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "correlation_threat_score",
				Help:    "Distribution of computed threat scores (0-100)",
				Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
			},
		)

		sourceFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "correlation_source_failures_total",
				Help: "Total number of intelligence source failures by status",
			},
			[]string{"source", "status"},
		)

		labelCoverage = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "correlation_label_coverage_ratio",
				Help:    "Fraction of source labels mapped to canonical techniques",
				Buckets: []float64{0, 0.25, 0.5, 0.75, 0.9, 1.0},
			},
		)
	})
}

// RecordRequest records a correlate call outcome.
// outcome: "cache_hit", "computed", "invalid_ioc", "error"
func RecordRequest(outcome string) {
	if correlationRequestsTotal != nil {
		correlationRequestsTotal.WithLabelValues(outcome).Inc()
	}
}

// RecordDuration records the end-to-end latency of one correlate call.
func RecordDuration(d time.Duration) {
	if correlationDuration != nil {
		correlationDuration.Observe(d.Seconds())
	}
}

// RecordScore records a freshly computed threat score.
func RecordScore(score int) {
	if threatScoreDistribution != nil {
		threatScoreDistribution.Observe(float64(score))
	}
}

// RecordSourceFailure records one failed source query.
func RecordSourceFailure(source, status string) {
	if sourceFailuresTotal != nil {
		sourceFailuresTotal.WithLabelValues(source, status).Inc()
	}
}

// RecordCoverage records the label coverage ratio of a computed report.
func RecordCoverage(ratio float64) {
	if labelCoverage != nil {
		labelCoverage.Observe(ratio)
	}
}
