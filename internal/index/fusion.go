package index

import (
	"cmp"
	"slices"

	"github.com/54b3r/concierge-go/internal/catalog"
)

// rrfK is the reciprocal-rank-fusion smoothing constant.
const rrfK = 60

// Fusion weights per modality. Alpha is the dense share of the fused score;
// 1.0 ignores the sparse channel entirely.
const (
	AlphaText       = 0.5
	AlphaMultimodal = 1.0
)

// hit is one scored point from a single-channel query, in rank order.
type hit struct {
	// id is the catalog item ID from the point payload.
	id string
	// score is the raw similarity reported by Qdrant.
	score float32
}

// fuse merges a dense and a sparse ranking with weighted reciprocal-rank
// fusion and returns at most limit neighbours, best first. Each neighbour
// keeps the raw score from every channel it appeared in. Ties keep dense
// rank order ahead of sparse-only hits.
func fuse(dense, sparse []hit, alpha float64, limit int) []catalog.Neighbor {
	type entry struct {
		n      catalog.Neighbor
		fused  float64
		order  int
		ranked bool
	}

	byID := make(map[string]*entry, len(dense)+len(sparse))
	var order []*entry
	get := func(id string) *entry {
		if e, ok := byID[id]; ok {
			return e
		}
		e := &entry{n: catalog.Neighbor{ID: id}, order: len(order)}
		byID[id] = e
		order = append(order, e)
		return e
	}

	for rank, h := range dense {
		e := get(h.id)
		if !e.ranked {
			e.ranked = true
			e.n.DenseDist = h.score
			e.fused += alpha / float64(rrfK+rank+1)
		}
	}
	if alpha < 1 {
		for rank, h := range sparse {
			e := get(h.id)
			if e.n.SparseDist == nil {
				score := h.score
				e.n.SparseDist = &score
				e.fused += (1 - alpha) / float64(rrfK+rank+1)
			}
		}
	}

	slices.SortStableFunc(order, func(a, b *entry) int {
		if c := cmp.Compare(b.fused, a.fused); c != 0 {
			return c
		}
		return cmp.Compare(a.order, b.order)
	})

	if limit > 0 && len(order) > limit {
		order = order[:limit]
	}
	out := make([]catalog.Neighbor, len(order))
	for i, e := range order {
		out[i] = e.n
	}
	return out
}
