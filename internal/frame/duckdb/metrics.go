package duckdb

import "github.com/prometheus/client_golang/prometheus"

var (
	persistedRelations = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "duckframe_persisted_relations",
			Help: "Relations currently materialized, by catalog.",
		},
		[]string{"catalog"},
	)
	filesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckframe_files_written_total",
			Help: "Total number of output files written, by format.",
		},
		[]string{"format"},
	)
	bytesWrittenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duckframe_bytes_written_total",
			Help: "Total bytes of output files written.",
		},
	)
	objectsTransferredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckframe_objects_transferred_total",
			Help: "Total number of objects moved between the object store and the engine work dir.",
		},
		[]string{"direction"},
	)
)

func init() {
	prometheus.MustRegister(
		persistedRelations,
		filesWrittenTotal,
		bytesWrittenTotal,
		objectsTransferredTotal,
	)
}
