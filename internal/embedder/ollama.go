package embedder

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// OllamaEmbedder implements Embedder using the Ollama /api/embed endpoint.
// It is safe for concurrent use. No API key is required.
type OllamaEmbedder struct {
	// host is the Ollama server base URL (e.g. "http://localhost:11434").
	host string
	// model is the embedding model name (e.g. "nomic-embed-text").
	model string
	// maxInputs caps the texts sent per request.
	maxInputs int
	// client is the shared HTTP client.
	client *http.Client
}

// OllamaConfig holds the settings for constructing an OllamaEmbedder.
type OllamaConfig struct {
	// Host is the Ollama server base URL.
	Host string
	// Model is the embedding model name.
	Model string
	// Timeout bounds each embed call. Defaults to 60s if zero.
	Timeout time.Duration
	// MaxInputs caps the texts per request; larger calls are split.
	// Defaults to 256 if zero.
	MaxInputs int
}

// NewOllamaEmbedder constructs an OllamaEmbedder from the given config.
func NewOllamaEmbedder(cfg *OllamaConfig) *OllamaEmbedder {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxInputs := cfg.MaxInputs
	if maxInputs <= 0 {
		maxInputs = 256
	}
	return &OllamaEmbedder{
		host:      cfg.Host,
		model:     cfg.Model,
		maxInputs: maxInputs,
		client:    &http.Client{Timeout: timeout},
	}
}

// ollamaEmbedRequest is the JSON body sent to /api/embed.
type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// ollamaEmbedResponse is the JSON body returned from /api/embed.
type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// Embed implements Embedder.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return embedChunked(ctx, texts, e.maxInputs, e.embed)
}

// embed issues one /api/embed request.
func (e *OllamaEmbedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	var result ollamaEmbedResponse
	status, err := postJSON(ctx, e.client, e.host+"/api/embed", nil,
		ollamaEmbedRequest{Model: e.model, Input: texts}, &result)
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: %w", err)
	}

	if !ok(status) {
		msg := fmt.Sprintf("HTTP %d", status)
		if result.Error != "" {
			msg = result.Error
		}
		return nil, fmt.Errorf("ollama embedder: %s", msg)
	}

	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embedder: expected %d embeddings, got %d", len(texts), len(result.Embeddings))
	}
	return result.Embeddings, nil
}
