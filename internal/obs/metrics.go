package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all metrics
type Metrics struct {
	VectorInserts    prometheus.Counter
	VectorDeletes    prometheus.Counter
	SearchQueries    prometheus.Counter
	SearchErrors     prometheus.Counter
	SearchLatency    prometheus.Histogram
	CompactionsTotal prometheus.Counter
	QuantizerTrained prometheus.Counter
	WatcherEvents    prometheus.Counter
}

// NewMetrics creates metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		VectorInserts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lumen_vector_inserts_total",
			Help: "Total vector insertions",
		}),
		VectorDeletes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lumen_vector_deletes_total",
			Help: "Total vector tombstone deletes",
		}),
		SearchQueries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lumen_search_queries_total",
			Help: "Total search queries",
		}),
		SearchErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lumen_search_errors_total",
			Help: "Total search errors",
		}),
		SearchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "lumen_search_latency_seconds",
			Help: "Search latency",
		}),
		CompactionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lumen_compactions_total",
			Help: "Total HNSW tombstone compactions run",
		}),
		QuantizerTrained: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lumen_quantizer_trained_total",
			Help: "Total successful quantizer training events",
		}),
		WatcherEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lumen_watcher_events_total",
			Help: "Total coalesced file watcher events processed",
		}),
	}
}
