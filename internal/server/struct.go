package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/concierge-go/internal/catalog"
	"github.com/54b3r/concierge-go/internal/concierge"
	"github.com/54b3r/concierge-go/internal/research"
	"github.com/54b3r/concierge-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It
	// bounds the research stream, so it must cover the stagger and settle
	// delays plus the slowest category.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks.
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on search and
	// research endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MaxImageBytes caps reference image uploads. Defaults to 8 MiB.
	MaxImageBytes int64
	// MetricsRegistry receives the server's metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to
	// prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// concierger is the subset of *concierge.Service the handlers call.
// Tests inject a fake.
type concierger interface {
	// FindItems runs one category search.
	FindItems(ctx context.Context, req concierge.FindRequest) (*catalog.RankedResult, error)
	// RunDeepResearch starts a deep research and returns its event stream.
	RunDeepResearch(ctx context.Context, sessionID, intent string, image []byte) (<-chan research.Event, []research.Category, error)
	// IsResearchInProgress reports whether a research runs for the session.
	IsResearchInProgress(sessionID string) bool
	// History returns the session's most recent searches.
	History(ctx context.Context, sessionID string, n int) ([]store.Entry, error)
	// Sessions returns the session registry holding reference images.
	Sessions() *concierge.Sessions
}

// Server exposes the concierge over a JSON/SSE API.
type Server struct {
	// svc is the concierge facade behind every /api route.
	svc concierger
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the server's Prometheus collectors.
	metrics *serverMetrics
}

// searchRequest is the JSON body for POST /api/search.
type searchRequest struct {
	// SessionID identifies the shopper's session.
	SessionID string `json:"session_id"`
	// Intent is the shopping intent.
	Intent string `json:"user_intent"`
	// Category is the item category to search.
	Category string `json:"item_category"`
	// Queries are the search phrases.
	Queries []string `json:"queries"`
}

// researchRequest is the JSON body for POST /api/research.
type researchRequest struct {
	// SessionID identifies the shopper's session.
	SessionID string `json:"session_id"`
	// Intent is the shopping intent to research.
	Intent string `json:"user_intent"`
}

// researchStartedEvent is the first SSE frame of a research stream.
type researchStartedEvent struct {
	// Categories are the categories being searched, in launch order.
	Categories []research.Category `json:"categories"`
}

// statusResponse is the JSON response for GET /api/research/status.
type statusResponse struct {
	// SessionID echoes the queried session.
	SessionID string `json:"session_id"`
	// InProgress is true while a deep research runs for the session.
	InProgress bool `json:"in_progress"`
}

// historyEntry is one element of the GET /api/history response.
type historyEntry struct {
	store.Entry
	// Summary is the human-readable line for the entry.
	Summary string `json:"summary"`
}
