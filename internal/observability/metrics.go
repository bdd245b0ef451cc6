package observability

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/duckmesh/duckframe/internal/timing"
)

var (
	operationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckframe_operation_duration_seconds",
			Help:    "Wall-clock duration of timed dataframe operations.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 15, 60, 300},
		},
		[]string{"operation"},
	)
	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckframe_operations_total",
			Help: "Total number of timed dataframe operations that completed.",
		},
		[]string{"operation"},
	)

	metricsScrapesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckframe_metrics_scrapes_total",
			Help: "Total number of requests served by the metrics listener.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(operationDurationSeconds, operationsTotal, metricsScrapesTotal)
}

// MetricsReporter records timing reports in the operation duration histogram.
type MetricsReporter struct{}

func (MetricsReporter) Report(_ context.Context, record timing.Record) {
	operationDurationSeconds.WithLabelValues(record.Name).Observe(record.Elapsed.Seconds())
	operationsTotal.WithLabelValues(record.Name).Inc()
}

// NewTimingReporter logs each report and feeds the duration histogram.
func NewTimingReporter(logger *slog.Logger) timing.Reporter {
	return timing.Multi(timing.LogReporter{Logger: logger}, MetricsReporter{})
}
