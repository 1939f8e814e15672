package retrieval

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stage label values.
const (
	stageSearch    = "search"
	stageEnrich    = "enrich"
	stageDedup     = "dedup"
	stageRelevance = "relevance"
	stageRerank    = "rerank"
)

// pipelineMetrics holds the Prometheus collectors owned by a Pipeline.
type pipelineMetrics struct {
	// stageDuration records wall-clock time per pipeline stage.
	stageDuration *prometheus.HistogramVec

	// searchFailures counts failed index lookups by modality.
	searchFailures *prometheus.CounterVec
}

// newPipelineMetrics registers the pipeline collectors against reg.
func newPipelineMetrics(reg prometheus.Registerer) *pipelineMetrics {
	factory := promauto.With(reg)

	return &pipelineMetrics{
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "concierge",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Retrieval pipeline stage latency, partitioned by stage.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"stage"}),

		searchFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "pipeline",
			Name:      "search_failures_total",
			Help:      "Index lookups that failed, partitioned by modality.",
		}, []string{"modality"}),
	}
}

// observe records the time since start for stage.
func (m *pipelineMetrics) observe(stage string, start time.Time) {
	m.stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
