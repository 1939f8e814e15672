package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/54b3r/concierge-go/internal/concierge"
	"github.com/54b3r/concierge-go/internal/logging"
	"github.com/54b3r/concierge-go/internal/retrieval"
)

const (
	// defaultHistoryLimit is used when GET /api/history carries no limit.
	defaultHistoryLimit = 20
	// maxHistoryLimit caps the limit query parameter.
	maxHistoryLimit = 100
)

// handleSearch handles POST /api/search: one category search returning a
// ranked result.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	start := time.Now()

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, r, "invalid request body", http.StatusBadRequest)
		return
	}
	switch {
	case req.SessionID == "":
		writeJSONError(w, r, "session_id is required", http.StatusBadRequest)
		return
	case strings.TrimSpace(req.Intent) == "":
		writeJSONError(w, r, "user_intent is required", http.StatusBadRequest)
		return
	}

	res, err := s.svc.FindItems(r.Context(), concierge.FindRequest{
		SessionID: req.SessionID,
		Intent:    req.Intent,
		Category:  req.Category,
		Queries:   req.Queries,
	})
	if err != nil {
		status, outcome := searchErrorStatus(err)
		s.metrics.searchRequestsTotal.WithLabelValues(outcome).Inc()
		log.Warn("search failed", slog.String("outcome", outcome), slog.Any("error", err))
		writeJSONError(w, r, err.Error(), status)
		return
	}

	s.metrics.searchRequestsTotal.WithLabelValues("ok").Inc()
	s.metrics.searchDurationSeconds.Observe(time.Since(start).Seconds())
	writeJSON(w, r, http.StatusOK, res)
}

// searchErrorStatus maps a FindItems error to an HTTP status and a metrics
// outcome label.
func searchErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, concierge.ErrNoQueries):
		return http.StatusBadRequest, "invalid"
	case errors.Is(err, concierge.ErrResearchInProgress):
		return http.StatusConflict, "suppressed"
	case errors.Is(err, retrieval.ErrAllSearchesFailed):
		return http.StatusBadGateway, "upstream"
	default:
		return http.StatusInternalServerError, "error"
	}
}

// handleResearch handles POST /api/research. The response is an SSE stream:
// one "started" frame listing the categories, one "category" frame per
// finished category, one "aggregate" frame, then "done".
func (s *Server) handleResearch(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req researchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, r, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		writeJSONError(w, r, "session_id is required", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Intent) == "" {
		writeJSONError(w, r, "user_intent is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, r, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// The research outlives the request: a client that drops the stream
	// must not cancel the category runs or leave the session flag set.
	events, cats, err := s.svc.RunDeepResearch(context.WithoutCancel(r.Context()), req.SessionID, req.Intent, nil)
	if err != nil {
		if errors.Is(err, concierge.ErrResearchInProgress) {
			writeJSONError(w, r, err.Error(), http.StatusConflict)
			return
		}
		log.Error("research failed to start", slog.Any("error", err))
		writeJSONError(w, r, err.Error(), http.StatusBadGateway)
		return
	}

	s.metrics.researchActiveStreams.Inc()
	defer s.metrics.researchActiveStreams.Dec()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sse := &sseWriter{w: w, flusher: flusher}
	if err := sse.event("started", researchStartedEvent{Categories: cats}); err != nil {
		log.Warn("research stream: client gone", slog.Any("error", err))
		return
	}
	for ev := range events {
		s.metrics.researchEventsTotal.WithLabelValues(string(ev.Kind)).Inc()
		if ev.Error != "" {
			s.metrics.researchEventsTotal.WithLabelValues("error").Inc()
		}
		if err := sse.event(string(ev.Kind), ev); err != nil {
			// The event channel is buffered for the whole run, so leaving
			// early never blocks the research goroutines.
			log.Warn("research stream: client gone", slog.Any("error", err))
			return
		}
	}
	_ = sse.raw("done", "[DONE]")
}

// handleResearchStatus handles GET /api/research/status?session_id=.
func (s *Server) handleResearchStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeJSONError(w, r, "session_id is required", http.StatusBadRequest)
		return
	}
	writeJSON(w, r, http.StatusOK, statusResponse{
		SessionID:  sessionID,
		InProgress: s.svc.IsResearchInProgress(sessionID),
	})
}

// handleSessionImage handles POST /api/session/image?session_id=. The body
// is the raw image; it becomes the session's reference image for later
// searches.
func (s *Server) handleSessionImage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeJSONError(w, r, "session_id is required", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxImageBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, r, fmt.Sprintf("image exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge)
			return
		}
		writeJSONError(w, r, "failed to read image", http.StatusBadRequest)
		return
	}
	if len(body) == 0 {
		writeJSONError(w, r, "image body is empty", http.StatusBadRequest)
		return
	}
	if ct := http.DetectContentType(body); !strings.HasPrefix(ct, "image/") {
		writeJSONError(w, r, "unsupported content type "+ct, http.StatusUnsupportedMediaType)
		return
	}

	s.svc.Sessions().SetImage(sessionID, body)
	logging.FromContext(r.Context()).Info("session: reference image stored",
		slog.String("session_id", sessionID),
		slog.Int("bytes", len(body)),
	)
	w.WriteHeader(http.StatusNoContent)
}

// handleSessionClear handles DELETE /api/session?session_id=.
func (s *Server) handleSessionClear(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeJSONError(w, r, "session_id is required", http.StatusBadRequest)
		return
	}
	s.svc.Sessions().Clear(sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// handleHistory handles GET /api/history?session_id=&limit=.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := q.Get("session_id")
	if sessionID == "" {
		writeJSONError(w, r, "session_id is required", http.StatusBadRequest)
		return
	}
	limit := defaultHistoryLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSONError(w, r, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	entries, err := s.svc.History(r.Context(), sessionID, limit)
	if err != nil {
		logging.FromContext(r.Context()).Error("history lookup failed", slog.Any("error", err))
		writeJSONError(w, r, "history unavailable", http.StatusInternalServerError)
		return
	}
	out := make([]historyEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyEntry{Entry: e, Summary: e.String()})
	}
	writeJSON(w, r, http.StatusOK, out)
}

// sseWriter emits Server-Sent Event frames and flushes after each one.
type sseWriter struct {
	// w is the underlying response writer.
	w http.ResponseWriter
	// flusher flushes buffered data to the client after each frame.
	flusher http.Flusher
}

// event writes v as a JSON data frame of the named event type.
func (s *sseWriter) event(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("server: encode %s event: %w", name, err)
	}
	return s.raw(name, string(data))
}

// raw writes a single-line data frame. JSON from encoding/json never
// contains a raw newline, so one data line always suffices.
func (s *sseWriter) raw(name, data string) error {
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
