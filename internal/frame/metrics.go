package frame

import "github.com/prometheus/client_golang/prometheus"

var prunedColumnsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "duckframe_pruned_columns_total",
		Help: "Total number of sparse columns dropped by pruning.",
	},
)

func init() {
	prometheus.MustRegister(prunedColumnsTotal)
}
