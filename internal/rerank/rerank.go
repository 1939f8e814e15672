// Package rerank reorders a candidate set with an external semantic ranking
// service. The service sees at most [MaxRecords] candidates per call; the
// order it returns is authoritative.
package rerank

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/54b3r/concierge-go/internal/catalog"
	"github.com/54b3r/concierge-go/internal/logging"
)

// MaxRecords is the hard ceiling on records submitted to the ranking service.
const MaxRecords = 200

// Record is one candidate submitted for ranking.
type Record struct {
	// ID maps the ranked result back to its catalog item.
	ID string `json:"id"`
	// Title is the short text scored against the query (the item name).
	Title string `json:"title"`
	// Content is the long text scored against the query (the description).
	Content string `json:"content"`
}

// Scored is one ranked record.
type Scored struct {
	// ID matches the Record ID.
	ID string
	// Score is the relevance score; higher is more relevant.
	Score float32
}

// Reranker scores records against a query string.
// Implementations must be safe to call from multiple goroutines.
type Reranker interface {
	// Rank returns up to topN records ordered by descending relevance.
	Rank(ctx context.Context, query string, records []Record, topN int) ([]Scored, error)
}

// Apply reranks items against query. Only the first MaxRecords items by
// arrival order are submitted; the rest are excluded from the output. The
// returned items carry their RerankScore and follow the service's order.
// Scores for identifiers that were not submitted are ignored.
func Apply(ctx context.Context, r Reranker, query string, items []catalog.Item) ([]catalog.Item, error) {
	if len(items) == 0 {
		return nil, nil
	}

	submitted := items
	if len(submitted) > MaxRecords {
		logging.FromContext(ctx).Debug("rerank: candidate set capped",
			slog.Int("candidates", len(items)),
			slog.Int("submitted", MaxRecords),
		)
		submitted = submitted[:MaxRecords]
	}

	records := make([]Record, len(submitted))
	byID := make(map[string]catalog.Item, len(submitted))
	for i, it := range submitted {
		records[i] = Record{ID: it.ID, Title: it.Name, Content: it.Description}
		byID[it.ID] = it
	}

	ranked, err := r.Rank(ctx, query, records, len(records))
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}

	out := make([]catalog.Item, 0, len(ranked))
	for _, s := range ranked {
		it, ok := byID[s.ID]
		if !ok {
			continue
		}
		delete(byID, s.ID)
		score := s.Score
		it.RerankScore = &score
		out = append(out, it)
	}
	return out, nil
}
