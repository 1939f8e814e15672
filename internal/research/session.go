// Package research runs deep research: one retrieval run per item category,
// launched with a stagger, sharing a session that suppresses items already
// surfaced by a sibling category and pools each category's best items into
// a final "Concierge's Pick" aggregate.
package research

import (
	"sync"

	"github.com/54b3r/concierge-go/internal/catalog"
)

// Session is the state shared by the category runs of one deep research.
// The mutex is held only for the map and slice mutations, never across a
// network call.
type Session struct {
	// mu guards seen and highlights.
	mu sync.Mutex

	// seen holds every item ID already claimed by a category run.
	seen map[string]struct{}

	// highlights is the pool of top items contributed by finished categories.
	highlights []catalog.Item
}

// NewSession returns an empty Session.
func NewSession() *Session {
	return &Session{seen: make(map[string]struct{})}
}

// Claim drops items already claimed by another run and records the rest in
// the same critical section, so two concurrent runs can never both keep the
// same ID. Duplicates within items are also dropped.
func (s *Session) Claim(items []catalog.Item) []catalog.Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]catalog.Item, 0, len(items))
	for _, it := range items {
		if _, dup := s.seen[it.ID]; dup {
			continue
		}
		s.seen[it.ID] = struct{}{}
		out = append(out, it)
	}
	return out
}

// AddHighlights appends the first k of items to the highlight pool.
func (s *Session) AddHighlights(items []catalog.Item, k int) {
	if k > len(items) {
		k = len(items)
	}
	if k <= 0 {
		return
	}
	s.mu.Lock()
	s.highlights = append(s.highlights, items[:k]...)
	s.mu.Unlock()
}

// Highlights returns a copy of the pool in contribution order.
func (s *Session) Highlights() []catalog.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]catalog.Item(nil), s.highlights...)
}

// Claimed reports how many distinct IDs have been claimed.
func (s *Session) Claimed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
