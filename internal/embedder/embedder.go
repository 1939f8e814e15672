// Package embedder turns catalog text into the three query vectors the
// retrieval pipeline searches with: a dense text embedding, a dense embedding
// in the multimodal (image-text) space, and a sparse TF-IDF vector.
//
// The dense text backends (OpenAI, Azure OpenAI, Ollama) talk plain HTTP. The
// multimodal channel goes through the Eino OpenAI embedding component so any
// OpenAI-compatible CLIP-style endpoint can serve it.
package embedder

import (
	"context"

	"github.com/54b3r/concierge-go/internal/catalog"
)

// Embedder converts a batch of texts into dense vectors.
// Implementations must be safe for concurrent use.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// SparseEncoder converts a batch of texts into sparse lexical vectors.
type SparseEncoder interface {
	// Encode returns one sparse vector per input text, in input order.
	Encode(texts []string) ([]catalog.SparseVector, error)
}
