package relevance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// filterMetrics holds the Prometheus collectors owned by a Filter.
type filterMetrics struct {
	// batchesTotal counts judged batches by outcome: "ok", "error", "timeout".
	batchesTotal *prometheus.CounterVec

	// itemsKept records how many items each Filter call kept.
	itemsKept prometheus.Histogram
}

// newFilterMetrics registers the filter collectors against reg.
func newFilterMetrics(reg prometheus.Registerer) *filterMetrics {
	factory := promauto.With(reg)

	return &filterMetrics{
		batchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "relevance",
			Name:      "batches_total",
			Help:      "Relevance judgement batches, partitioned by outcome.",
		}, []string{"outcome"}),

		itemsKept: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "concierge",
			Subsystem: "relevance",
			Name:      "items_kept",
			Help:      "Number of items kept by one relevance filter call.",
			Buckets:   []float64{0, 5, 10, 25, 50, 100, 200},
		}),
	}
}
