package embedder

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"
)

// MultimodalConfig holds the settings for the multimodal embedding endpoint.
type MultimodalConfig struct {
	// BaseURL is an OpenAI-compatible API base serving a CLIP-style model.
	BaseURL string
	// APIKey authenticates against BaseURL. May be empty for local servers.
	APIKey string
	// Model is the multimodal embedding model name.
	Model string
	// Dimensions requests a specific output size when the model supports it.
	Dimensions int
	// Timeout bounds each embed call. Defaults to 30s if zero.
	Timeout time.Duration
}

// EinoEmbedder adapts an Eino embedding component to Embedder. Eino returns
// float64 vectors; they are narrowed to float32 for the vector index.
type EinoEmbedder struct {
	// inner is the wrapped Eino component.
	inner embedding.Embedder
}

// NewEinoEmbedder wraps an existing Eino embedding component.
func NewEinoEmbedder(inner embedding.Embedder) *EinoEmbedder {
	return &EinoEmbedder{inner: inner}
}

// NewMultimodalEmbedder constructs the multimodal-space embedder on the Eino
// OpenAI component.
func NewMultimodalEmbedder(ctx context.Context, cfg *MultimodalConfig) (*EinoEmbedder, error) {
	if cfg.BaseURL == "" || cfg.Model == "" {
		return nil, fmt.Errorf("multimodal embedder: MM_EMBEDDING_ENDPOINT and MM_EMBEDDING_MODEL are required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ecfg := &openai.EmbeddingConfig{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		Timeout: timeout,
	}
	if cfg.Dimensions > 0 {
		dims := cfg.Dimensions
		ecfg.Dimensions = &dims
	}
	inner, err := openai.NewEmbedder(ctx, ecfg)
	if err != nil {
		return nil, fmt.Errorf("multimodal embedder: %w", err)
	}
	return NewEinoEmbedder(inner), nil
}

// Embed implements Embedder.
func (e *EinoEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	res, err := e.inner.EmbedStrings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("eino embedder: %w", err)
	}
	if len(res) != len(texts) {
		return nil, fmt.Errorf("eino embedder: expected %d embeddings, got %d", len(texts), len(res))
	}
	out := make([][]float32, len(res))
	for i, v := range res {
		out[i] = narrow(v)
	}
	return out, nil
}

// narrow converts a float64 vector to float32.
func narrow(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
