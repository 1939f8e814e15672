package embedder

import (
	"context"
	"fmt"

	"github.com/54b3r/concierge-go/internal/catalog"
)

// Hybrid bundles the three encoders a search phrase needs. It satisfies the
// retrieval pipeline's embedding port.
type Hybrid struct {
	// text embeds into the text-only dense space.
	text Embedder
	// multimodal embeds into the image-text dense space.
	multimodal Embedder
	// sparse produces lexical TF-IDF vectors.
	sparse SparseEncoder
}

// NewHybrid constructs a Hybrid from its three channels.
func NewHybrid(text, multimodal Embedder, sparse SparseEncoder) *Hybrid {
	return &Hybrid{text: text, multimodal: multimodal, sparse: sparse}
}

// DenseText embeds phrase in the text-only space.
func (h *Hybrid) DenseText(ctx context.Context, phrase string) ([]float32, error) {
	return first(h.text.Embed(ctx, []string{phrase}))
}

// DenseImage embeds phrase in the multimodal space, so it can be compared
// against product photo embeddings.
func (h *Hybrid) DenseImage(ctx context.Context, phrase string) ([]float32, error) {
	return first(h.multimodal.Embed(ctx, []string{phrase}))
}

// Sparse encodes phrase as a TF-IDF vector.
func (h *Hybrid) Sparse(_ context.Context, phrase string) (catalog.SparseVector, error) {
	vs, err := h.sparse.Encode([]string{phrase})
	if err != nil {
		return catalog.SparseVector{}, err
	}
	return vs[0], nil
}

// EmbedBatch produces all three vectors for each text, for ingestion.
func (h *Hybrid) EmbedBatch(ctx context.Context, texts []string) (text, multimodal [][]float32, sparse []catalog.SparseVector, err error) {
	if text, err = h.text.Embed(ctx, texts); err != nil {
		return nil, nil, nil, err
	}
	if multimodal, err = h.multimodal.Embed(ctx, texts); err != nil {
		return nil, nil, nil, err
	}
	if sparse, err = h.sparse.Encode(texts); err != nil {
		return nil, nil, nil, err
	}
	return text, multimodal, sparse, nil
}

// first returns the only vector of a single-text batch.
func first(vs [][]float32, err error) ([]float32, error) {
	if err != nil {
		return nil, err
	}
	if len(vs) != 1 {
		return nil, fmt.Errorf("embedder: expected 1 embedding, got %d", len(vs))
	}
	return vs[0], nil
}
