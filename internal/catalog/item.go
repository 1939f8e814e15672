// Package catalog defines the value types that flow through the retrieval
// engine: catalog items, search queries, index neighbours, and the ranked
// result handed back to callers. It also holds the small pure helpers that
// operate on candidate sets (merge, threshold filter, score cleanup).
package catalog

import (
	"strings"
)

// DenseDistThreshold is the dense score at or below which a candidate is
// treated as carrying no dense signal. Candidates at or below it survive the
// threshold filter only when they have a positive sparse score.
const DenseDistThreshold float32 = 0.0

// Modality selects which embedding space a query is issued against.
type Modality string

const (
	// ModalityText searches the hybrid text space (dense text + sparse terms).
	ModalityText Modality = "text"
	// ModalityMultimodal searches the shared image/text embedding space.
	ModalityMultimodal Modality = "multimodal"
)

// Item is a single catalog entry moving through the pipeline.
// The score fields are transient: they are attached by the index and the
// reranker and removed by [Strip] before a result is emitted.
type Item struct {
	// ID is the globally unique catalog identifier.
	ID string `json:"id"`
	// Name is the display name fetched from the feature store.
	Name string `json:"name"`
	// Description is the long-form text fetched from the feature store.
	Description string `json:"description"`
	// DenseDist is the dense similarity reported by the vector index.
	DenseDist *float32 `json:"dense_dist,omitempty"`
	// SparseDist is the sparse similarity reported by the vector index.
	// Nil means the candidate had no sparse match.
	SparseDist *float32 `json:"sparse_dist,omitempty"`
	// RerankScore is the relevance score assigned by the reranker.
	RerankScore *float32 `json:"rerank_score,omitempty"`
}

// Query is one search phrase issued against one modality with a fixed
// neighbour budget. Queries are immutable once built.
type Query struct {
	// Phrase is the natural-language search text.
	Phrase string
	// Modality selects the embedding space.
	Modality Modality
	// Budget is the maximum number of neighbours requested.
	Budget int
}

// SparseVector is a term-weighted sparse embedding.
type SparseVector struct {
	// Indices are the vocabulary positions with non-zero weight.
	Indices []uint32 `json:"indices"`
	// Values are the weights, parallel to Indices.
	Values []float32 `json:"values"`
}

// Empty reports whether v carries no terms.
func (v SparseVector) Empty() bool { return len(v.Indices) == 0 }

// SearchRequest is a single nearest-neighbour lookup against the index.
type SearchRequest struct {
	// Modality selects the named vector space to search.
	Modality Modality
	// Dense is the query embedding for the selected space.
	Dense []float32
	// Sparse is the sparse query vector. Only used for ModalityText.
	Sparse SparseVector
	// Limit is the number of neighbours to return.
	Limit int
}

// Neighbor is one hit returned by the vector index.
type Neighbor struct {
	// ID is the catalog identifier of the hit.
	ID string
	// DenseDist is the dense similarity, zero when the hit came from the
	// sparse channel only.
	DenseDist float32
	// SparseDist is the sparse similarity, nil when the hit had no sparse match.
	SparseDist *float32
}

// ItemFromNeighbor converts an index hit into a bare Item carrying its scores.
func ItemFromNeighbor(n Neighbor) Item {
	dense := n.DenseDist
	it := Item{ID: n.ID, DenseDist: &dense}
	if n.SparseDist != nil {
		sparse := *n.SparseDist
		it.SparseDist = &sparse
	}
	return it
}

// Merge unions the given candidate lists by identifier. The first occurrence
// of an identifier wins; later duplicates are dropped without inspecting
// their scores. Merging a list with itself yields the list unchanged.
func Merge(lists ...[]Item) []Item {
	total := 0
	for _, l := range lists {
		total += len(l)
	}
	seen := make(map[string]struct{}, total)
	out := make([]Item, 0, total)
	for _, l := range lists {
		for _, it := range l {
			if _, dup := seen[it.ID]; dup {
				continue
			}
			seen[it.ID] = struct{}{}
			out = append(out, it)
		}
	}
	return out
}

// AboveThreshold keeps candidates whose dense score exceeds threshold or that
// carry a positive sparse score. A candidate is dropped only when both
// signals are absent.
func AboveThreshold(items []Item, threshold float32) []Item {
	out := items[:0:0]
	for _, it := range items {
		if hasSignal(it, threshold) {
			out = append(out, it)
		}
	}
	return out
}

// hasSignal reports whether it passes the dense/sparse threshold test.
func hasSignal(it Item, threshold float32) bool {
	if it.DenseDist != nil && *it.DenseDist > threshold {
		return true
	}
	return it.SparseDist != nil && *it.SparseDist > 0
}

// WithNames drops items whose name is empty or whitespace only.
func WithNames(items []Item) []Item {
	out := items[:0:0]
	for _, it := range items {
		if strings.TrimSpace(it.Name) != "" {
			out = append(out, it)
		}
	}
	return out
}

// Strip returns a copy of items with every transient score removed.
func Strip(items []Item) []Item {
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = Item{ID: it.ID, Name: it.Name, Description: it.Description}
	}
	return out
}

// IDs returns the identifiers of items in order.
func IDs(items []Item) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}
