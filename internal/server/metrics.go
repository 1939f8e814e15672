package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// labelHandler partitions HTTP metrics by logical endpoint name rather than
// raw URL path.
const labelHandler = "handler"

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// Tests pass a fresh prometheus.Registry so the default one stays clean.
type serverMetrics struct {
	// searchRequestsTotal counts /api/search requests by outcome: "ok",
	// "invalid", "suppressed", "upstream" or "error".
	searchRequestsTotal *prometheus.CounterVec

	// searchDurationSeconds records the latency of successful searches.
	searchDurationSeconds prometheus.Histogram

	// researchActiveStreams is the number of research SSE streams open.
	researchActiveStreams prometheus.Gauge

	// researchEventsTotal counts streamed research events by kind, plus
	// "error" for events carrying a category failure.
	researchEventsTotal *prometheus.CounterVec

	// rateLimitedTotal counts requests rejected by the per-IP rate limiter.
	rateLimitedTotal prometheus.Counter

	// httpRequestsTotal counts all HTTP requests by method, handler and
	// status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		searchRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total number of /api/search requests, partitioned by outcome.",
		}, []string{"outcome"}),

		searchDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "concierge",
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Latency of successful /api/search requests.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20},
		}),

		researchActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "concierge",
			Subsystem: "research",
			Name:      "active_streams",
			Help:      "Number of /api/research SSE streams currently open.",
		}),

		researchEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "research",
			Name:      "events_total",
			Help:      "Research events streamed to clients, partitioned by kind.",
		}, []string{"kind"}),

		rateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected with 429 by the per-IP rate limiter.",
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "concierge",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

// instrument records request count and latency for the named handler.
func (s *Server) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rw, r)
		s.metrics.httpRequestsTotal.WithLabelValues(r.Method, name, strconv.Itoa(rw.status)).Inc()
		s.metrics.httpDurationSeconds.WithLabelValues(r.Method, name).Observe(time.Since(start).Seconds())
	})
}
