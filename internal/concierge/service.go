// Package concierge is the facade the chat and HTTP layers call: a single
// category search, a multi-category deep research with overlap suppression,
// and the session's search history.
package concierge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/54b3r/concierge-go/internal/catalog"
	"github.com/54b3r/concierge-go/internal/logging"
	"github.com/54b3r/concierge-go/internal/research"
	"github.com/54b3r/concierge-go/internal/retrieval"
	"github.com/54b3r/concierge-go/internal/store"
)

// findBudgetTotal is split evenly across the phrases of a single search.
const findBudgetTotal = 100

var (
	// ErrResearchInProgress is returned when a deep research is already
	// running for the session.
	ErrResearchInProgress = errors.New("concierge: deep research in progress")

	// ErrNoQueries is returned when a search carries no phrases.
	ErrNoQueries = errors.New("concierge: at least one query is required")
)

// Researcher runs a deep research and streams its events.
type Researcher interface {
	Run(ctx context.Context, req research.Request) <-chan research.Event
}

// FindRequest is the input to FindItems.
type FindRequest struct {
	// SessionID identifies the shopper's session.
	SessionID string `json:"session_id"`
	// Intent is the shopping intent.
	Intent string `json:"user_intent"`
	// Category is the item category to search.
	Category string `json:"item_category"`
	// Queries are the search phrases.
	Queries []string `json:"queries"`
	// ReferenceImage overrides the session's stored image when set.
	ReferenceImage []byte `json:"-"`
}

// Config holds the Service's collaborators.
type Config struct {
	// Retriever runs single-category searches. Required.
	Retriever research.Retriever
	// Researcher runs deep research. Required.
	Researcher Researcher
	// Categories derives research categories from an intent. Required.
	Categories research.CategoryGenerator
	// Sessions holds per-session state. A fresh registry is used when nil.
	Sessions *Sessions
	// Tracker flags sessions with research in flight. A fresh tracker is
	// used when nil.
	Tracker *research.Tracker
	// History records searches. Optional.
	History store.HistoryStore
}

// Service implements the concierge operations.
type Service struct {
	// retriever runs single-category searches.
	retriever research.Retriever
	// researcher runs deep research.
	researcher Researcher
	// categories derives research categories.
	categories research.CategoryGenerator
	// sessions holds per-session state.
	sessions *Sessions
	// tracker flags sessions with research in flight.
	tracker *research.Tracker
	// history records searches; nil disables recording.
	history store.HistoryStore
}

// New validates cfg and returns a Service.
func New(cfg *Config) (*Service, error) {
	switch {
	case cfg == nil:
		return nil, fmt.Errorf("concierge: config must not be nil")
	case cfg.Retriever == nil:
		return nil, fmt.Errorf("concierge: retriever must not be nil")
	case cfg.Researcher == nil:
		return nil, fmt.Errorf("concierge: researcher must not be nil")
	case cfg.Categories == nil:
		return nil, fmt.Errorf("concierge: category generator must not be nil")
	}
	s := &Service{
		retriever:  cfg.Retriever,
		researcher: cfg.Researcher,
		categories: cfg.Categories,
		sessions:   cfg.Sessions,
		tracker:    cfg.Tracker,
		history:    cfg.History,
	}
	if s.sessions == nil {
		s.sessions = NewSessions(0)
	}
	if s.tracker == nil {
		s.tracker = research.NewTracker()
	}
	return s, nil
}

// Sessions returns the session registry.
func (s *Service) Sessions() *Sessions { return s.sessions }

// FindItems runs one category search. The neighbour budget per lookup is
// 100 divided by the number of phrases. It is refused while a deep research
// runs for the same session.
func (s *Service) FindItems(ctx context.Context, req FindRequest) (*catalog.RankedResult, error) {
	if len(req.Queries) == 0 {
		return nil, ErrNoQueries
	}
	if s.tracker.InProgress(req.SessionID) {
		return nil, ErrResearchInProgress
	}

	image := req.ReferenceImage
	if image == nil {
		image = s.sessions.Image(req.SessionID)
	}

	s.record(ctx, req.SessionID, store.Entry{Kind: store.KindSearch, Intent: req.Intent, Category: req.Category})

	res, err := s.retriever.Retrieve(ctx, retrieval.Request{
		Phrases:        req.Queries,
		Budget:         max(1, findBudgetTotal/len(req.Queries)),
		Intent:         req.Intent,
		Category:       req.Category,
		ReferenceImage: image,
	})
	if err != nil {
		return nil, fmt.Errorf("concierge: find items: %w", err)
	}
	return res, nil
}

// RunDeepResearch generates categories for intent and starts the research.
// It returns the event stream and the categories being searched. The
// session's in-progress flag is set for the whole run and cleared as the
// aggregate is handed to the returned channel, so a consumer that receives
// the aggregate may start the next research at once. A nil image falls back
// to the session's stored image.
func (s *Service) RunDeepResearch(ctx context.Context, sessionID, intent string, image []byte) (<-chan research.Event, []research.Category, error) {
	if !s.tracker.TryStart(sessionID) {
		return nil, nil, ErrResearchInProgress
	}

	cats, err := research.GenerateWithRetry(ctx, s.categories, intent)
	if err != nil {
		s.tracker.Finish(sessionID)
		return nil, nil, fmt.Errorf("concierge: deep research: %w", err)
	}

	if image == nil {
		image = s.sessions.Image(sessionID)
	}
	s.record(ctx, sessionID, store.Entry{Kind: store.KindResearch, Intent: intent})

	ctx = logging.WithAttrs(ctx, slog.String("session_id", sessionID))
	logging.FromContext(ctx).Info("concierge: deep research started", slog.Int("categories", len(cats)))

	src := s.researcher.Run(ctx, research.Request{Intent: intent, Categories: cats, ReferenceImage: image})
	out := make(chan research.Event, len(cats)+1)
	go func() {
		defer close(out)
		// The flag is cleared exactly once. A later run for the same
		// session may already hold it by the time src closes.
		finished := false
		defer func() {
			if !finished {
				s.tracker.Finish(sessionID)
			}
		}()
		for ev := range src {
			if ev.Kind == research.EventAggregate && !finished {
				s.tracker.Finish(sessionID)
				finished = true
			}
			out <- ev
		}
	}()
	return out, cats, nil
}

// IsResearchInProgress reports whether a deep research runs for sessionID.
func (s *Service) IsResearchInProgress(sessionID string) bool {
	return s.tracker.InProgress(sessionID)
}

// History returns the session's n most recent searches, oldest first.
func (s *Service) History(ctx context.Context, sessionID string, n int) ([]store.Entry, error) {
	if s.history == nil {
		return nil, nil
	}
	entries, err := s.history.Recent(ctx, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("concierge: history: %w", err)
	}
	return entries, nil
}

// record appends a history entry. Failures are logged and never fail the
// search.
func (s *Service) record(ctx context.Context, sessionID string, e store.Entry) {
	if s.history == nil {
		return
	}
	if err := s.history.Append(ctx, sessionID, e); err != nil {
		logging.FromContext(ctx).Warn("history: failed to persist entry", slog.Any("error", err))
		return
	}
	logging.FromContext(ctx).Info("concierge: "+e.String(), slog.String("session_id", sessionID))
}
