package embedder

import (
	"context"
	"fmt"
	"os"

	"github.com/54b3r/concierge-go/internal/config"
)

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"

	// defaultOllamaDimensions is the output dimension of nomic-embed-text.
	// Other Ollama models may differ; override with EMBEDDING_DIMENSIONS.
	defaultOllamaDimensions = 768
	// defaultOpenAIDimensions is the output dimension of text-embedding-3-small.
	defaultOpenAIDimensions = 1536
	// defaultMultimodalDimensions is the output dimension of CLIP ViT-B/32.
	defaultMultimodalDimensions = 512
)

// DefaultDimensions returns the text embedding vector size for the given
// backend. EMBEDDING_DIMENSIONS always takes precedence when set.
func DefaultDimensions(backend string) int {
	if v := config.Int("EMBEDDING_DIMENSIONS", 0); v > 0 {
		return v
	}
	switch backend {
	case "ollama":
		return defaultOllamaDimensions
	default:
		return defaultOpenAIDimensions
	}
}

// MultimodalDimensions returns the multimodal vector size
// (MM_EMBEDDING_DIMENSIONS, default 512).
func MultimodalDimensions() int {
	return config.Int("MM_EMBEDDING_DIMENSIONS", defaultMultimodalDimensions)
}

// Backend resolves the text embedding backend name: EMBEDDING_PROVIDER, then
// MODEL_PROVIDER, then "ollama".
func Backend() string {
	if b := os.Getenv("EMBEDDING_PROVIDER"); b != "" {
		return b
	}
	return config.String("MODEL_PROVIDER", "ollama")
}

// NewFromEnv constructs the dense text Embedder using cascading defaults that
// inherit from the chat provider configuration when embedding-specific
// overrides are not set.
//
// Resolution order:
//
//  1. EMBEDDING_PROVIDER, else MODEL_PROVIDER (default: ollama)
//  2. Per-backend credentials are inherited from the chat provider's env vars
//  3. EMBEDDING_MODEL overrides the default model for the resolved backend
//  4. EMBEDDING_API_KEY overrides the inherited API key
//  5. EMBEDDING_ENDPOINT overrides the inherited endpoint
//  6. EMBEDDING_DIMENSIONS overrides the default dimensions
func NewFromEnv() (Embedder, error) {
	backend := Backend()

	switch backend {
	case "ollama":
		host := os.Getenv("EMBEDDING_ENDPOINT")
		if host == "" {
			host = config.String("OLLAMA_HOST", "http://localhost:11434")
		}
		return NewOllamaEmbedder(&OllamaConfig{
			Host:  host,
			Model: config.String("EMBEDDING_MODEL", defaultOllamaModel),
		}), nil

	case "openai":
		apiKey := config.First("EMBEDDING_API_KEY", "OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		baseURL := config.String("EMBEDDING_ENDPOINT", "https://api.openai.com/v1")
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    baseURL,
			APIKey:     apiKey,
			Model:      config.String("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: config.Int("EMBEDDING_DIMENSIONS", defaultOpenAIDimensions),
		}), nil

	case "azure":
		apiKey := config.First("EMBEDDING_API_KEY", "AZURE_OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		endpoint := config.First("EMBEDDING_ENDPOINT", "AZURE_OPENAI_ENDPOINT")
		if endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    endpoint + "/openai",
			APIKey:     apiKey,
			Model:      config.String("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: config.Int("EMBEDDING_DIMENSIONS", defaultOpenAIDimensions),
			Azure:      true,
			APIVersion: config.String("AZURE_OPENAI_API_VERSION", "2025-04-01-preview"),
		}), nil

	default:
		return nil, fmt.Errorf("embedder: unknown backend %q (valid values: ollama, openai, azure)", backend)
	}
}

// NewMultimodalFromEnv constructs the multimodal embedder from MM_EMBEDDING_*.
func NewMultimodalFromEnv(ctx context.Context) (*EinoEmbedder, error) {
	return NewMultimodalEmbedder(ctx, &MultimodalConfig{
		BaseURL:    os.Getenv("MM_EMBEDDING_ENDPOINT"),
		APIKey:     os.Getenv("MM_EMBEDDING_API_KEY"),
		Model:      os.Getenv("MM_EMBEDDING_MODEL"),
		Dimensions: config.Int("MM_EMBEDDING_DIMENSIONS", 0),
	})
}

// NewSparseFromEnv loads the fitted TF-IDF model at SPARSE_VOCAB_PATH.
func NewSparseFromEnv() (*TFIDFEncoder, error) {
	path := os.Getenv("SPARSE_VOCAB_PATH")
	if path == "" {
		return nil, fmt.Errorf("embedder: SPARSE_VOCAB_PATH is not set (fit one with `concierge ingest --fit-sparse`)")
	}
	return LoadTFIDFFile(path)
}

// NewHybridFromEnv builds all three query encoders from the environment.
func NewHybridFromEnv(ctx context.Context) (*Hybrid, error) {
	text, err := NewFromEnv()
	if err != nil {
		return nil, err
	}
	mm, err := NewMultimodalFromEnv(ctx)
	if err != nil {
		return nil, err
	}
	sparse, err := NewSparseFromEnv()
	if err != nil {
		return nil, err
	}
	return NewHybrid(text, mm, sparse), nil
}
