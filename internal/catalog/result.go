package catalog

import (
	"time"

	"github.com/google/uuid"
)

// groupIDPrefix prefixes every synthetic group identifier.
const groupIDPrefix = "group_"

// RankedResult is the outcome of one retrieval run: the ordered items plus
// the provenance a display layer needs. It is built once by [NewRankedResult]
// and not modified afterwards.
type RankedResult struct {
	// GroupID is a synthetic identifier for this result group.
	GroupID string `json:"group_id"`
	// IconID is the identifier of the item used as the group icon (the first
	// item). Empty when the result has no items.
	IconID string `json:"group_icon_id"`
	// Intent is the user intent the run was issued for.
	Intent string `json:"intent"`
	// Category is the item category searched.
	Category string `json:"item_category"`
	// Queries are the search phrases issued.
	Queries []string `json:"queries"`
	// Items is the final ordered item list with transient scores removed.
	Items []Item `json:"items"`
	// Elapsed is the wall-clock duration of the run in seconds.
	Elapsed float64 `json:"elapsed"`
	// FoundCount is the number of enriched candidates found by search.
	FoundCount int `json:"found_item_count"`
	// SelectedCount is the number of items in Items.
	SelectedCount int `json:"selected_item_count"`
	// TotalCount is the size of the searchable catalog.
	TotalCount int `json:"total_item_count"`
}

// ResultMeta carries the provenance fields for [NewRankedResult].
type ResultMeta struct {
	// Intent is the user intent.
	Intent string
	// Category is the item category.
	Category string
	// Queries are the phrases searched.
	Queries []string
	// Elapsed is the run duration.
	Elapsed time.Duration
	// FoundCount is the post-search candidate count.
	FoundCount int
	// TotalCount is the catalog size.
	TotalCount int
}

// NewRankedResult builds a RankedResult from the final item list. Scores are
// stripped, a fresh group identifier is assigned, and the counters are
// clamped so that selected <= found <= total always holds.
func NewRankedResult(items []Item, meta ResultMeta) *RankedResult {
	clean := Strip(items)

	found := max(meta.FoundCount, len(clean))
	total := max(meta.TotalCount, found)

	res := &RankedResult{
		GroupID:       NewGroupID(),
		Intent:        meta.Intent,
		Category:      meta.Category,
		Queries:       append([]string(nil), meta.Queries...),
		Items:         clean,
		Elapsed:       meta.Elapsed.Seconds(),
		FoundCount:    found,
		SelectedCount: len(clean),
		TotalCount:    total,
	}
	if len(clean) > 0 {
		res.IconID = clean[0].ID
	}
	return res
}

// NewGroupID returns "group_" followed by the first eight characters of a
// random UUID.
func NewGroupID() string {
	return groupIDPrefix + uuid.NewString()[:8]
}
