// Package server exposes the concierge over HTTP: single-category search,
// deep research streamed as Server-Sent Events, reference image upload and
// search history. The server is started by the `concierge serve` command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/concierge-go/internal/logging"
	"github.com/54b3r/concierge-go/internal/version"
)

// defaultMaxImageBytes caps reference image uploads when Config leaves it unset.
const defaultMaxImageBytes = 8 << 20

// New constructs a Server around svc.
func New(svc concierger, cfg *Config) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("server: service must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MaxImageBytes == 0 {
		cfg.MaxImageBytes = defaultMaxImageBytes
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New()
	}

	s := &Server{
		svc:     svc,
		cfg:     cfg,
		log:     log,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(cfg.MetricsRegistry),
	}

	if cfg.APIKey == "" {
		log.Warn("server: authentication disabled, set CONCIERGE_API_KEY to protect /api routes")
	}

	rl := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.metrics.rateLimitedTotal)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(log, s.routes(rl)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// routes builds the mux. Health, readiness and metrics stay open; every
// other /api route requires the bearer token, and the expensive ones are
// rate limited per IP.
func (s *Server) routes(rl *rateLimiter) http.Handler {
	protect := func(name string, h http.HandlerFunc) http.Handler {
		return s.instrument(name, authMiddleware(s.cfg.APIKey, h))
	}
	limited := func(name string, h http.HandlerFunc) http.Handler {
		return s.instrument(name, authMiddleware(s.cfg.APIKey, rl.middleware(h)))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/search", limited("search", s.handleSearch))
	mux.Handle("POST /api/research", limited("research", s.handleResearch))
	mux.Handle("GET /api/research/status", protect("research_status", s.handleResearchStatus))
	mux.Handle("POST /api/session/image", limited("session_image", s.handleSessionImage))
	mux.Handle("DELETE /api/session", protect("session_clear", s.handleSessionClear))
	mux.Handle("GET /api/history", protect("history", s.handleHistory))
	mux.Handle("GET /api/health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{}))
	return mux
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server: listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok", "version": version.Version})
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("server: encode response", slog.Any("error", err))
	}
}

// writeJSONError writes {"error": msg} with the given status.
func writeJSONError(w http.ResponseWriter, r *http.Request, msg string, status int) {
	writeJSON(w, r, status, map[string]string{"error": msg})
}
