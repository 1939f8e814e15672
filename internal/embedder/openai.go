package embedder

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// openAIMaxInputs is the embeddings API's limit on inputs per request.
const openAIMaxInputs = 2048

// OpenAIEmbedder implements Embedder using the OpenAI (or Azure OpenAI)
// embeddings REST API. It is safe for concurrent use.
type OpenAIEmbedder struct {
	// url is the fully resolved embeddings endpoint.
	url string
	// header carries the auth header for the selected flavour.
	header http.Header
	// model is the embedding model name (e.g. "text-embedding-3-small").
	model string
	// dimensions is the desired vector length (0 = model default).
	dimensions int
	// client is the shared HTTP client.
	client *http.Client
}

// OpenAIConfig holds the settings for constructing an OpenAIEmbedder.
type OpenAIConfig struct {
	// BaseURL is the API base URL. For OpenAI: "https://api.openai.com/v1".
	// For Azure: "https://<resource>.openai.azure.com/openai".
	BaseURL string
	// APIKey is the authentication key.
	APIKey string
	// Model is the embedding model name. For Azure it is also the deployment.
	Model string
	// Dimensions is the desired vector length (0 = model default).
	Dimensions int
	// Azure enables Azure OpenAI mode (api-key header + api-version param).
	Azure bool
	// APIVersion is the Azure OpenAI API version. Ignored when Azure is false.
	APIVersion string
}

// NewOpenAIEmbedder constructs an OpenAIEmbedder from the given config.
func NewOpenAIEmbedder(cfg *OpenAIConfig) *OpenAIEmbedder {
	e := &OpenAIEmbedder{
		url:        cfg.BaseURL + "/embeddings",
		header:     http.Header{},
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
	if cfg.Azure {
		e.url = cfg.BaseURL + "/deployments/" + cfg.Model + "/embeddings?api-version=" + cfg.APIVersion
		e.header.Set("api-key", cfg.APIKey)
	} else {
		e.header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	return e
}

// openaiEmbedRequest is the JSON body sent to the embeddings endpoint.
type openaiEmbedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

// openaiEmbedResponse is the JSON body returned from the embeddings endpoint.
type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return embedChunked(ctx, texts, openAIMaxInputs, e.embed)
}

// embed issues one embeddings request.
func (e *OpenAIEmbedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	var result openaiEmbedResponse
	status, err := postJSON(ctx, e.client, e.url, e.header,
		openaiEmbedRequest{Input: texts, Model: e.model, Dimensions: e.dimensions}, &result)
	if err != nil {
		return nil, fmt.Errorf("openai embedder: %w", err)
	}

	if !ok(status) {
		msg := fmt.Sprintf("HTTP %d", status)
		if result.Error != nil {
			msg = result.Error.Message
		}
		return nil, fmt.Errorf("openai embedder: %s", msg)
	}

	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("openai embedder: expected %d embeddings, got %d", len(texts), len(result.Data))
	}

	// The API may return data out of order; place by index.
	embeddings := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("openai embedder: index %d out of range [0, %d)", d.Index, len(texts))
		}
		embeddings[d.Index] = d.Embedding
	}
	return embeddings, nil
}
