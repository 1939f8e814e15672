package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

// HTTPConfig holds the settings for constructing an HTTPReranker.
type HTTPConfig struct {
	// Endpoint is the full URL of the rerank route (e.g. "http://localhost:8081/v1/rerank").
	Endpoint string
	// Model is the ranking model name sent with every request.
	Model string
	// APIKey is sent as a Bearer token when non-empty.
	APIKey string
	// Timeout bounds each ranking call. Defaults to 30s if zero.
	Timeout time.Duration
}

// HTTPReranker implements Reranker against the /v1/rerank JSON contract
// shared by Cohere, Jina, and Hugging Face TEI. It is safe for concurrent use.
type HTTPReranker struct {
	// endpoint is the rerank URL.
	endpoint string
	// model is the ranking model name.
	model string
	// apiKey is the Bearer token (optional).
	apiKey string
	// client is the shared HTTP client.
	client *http.Client
}

// NewHTTPReranker constructs an HTTPReranker from cfg.
func NewHTTPReranker(cfg *HTTPConfig) (*HTTPReranker, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("rerank: endpoint is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPReranker{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// rerankRequest is the JSON body sent to the rerank endpoint.
type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

// rerankResponse is the JSON body returned from the rerank endpoint.
type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float32 `json:"relevance_score"`
	} `json:"results"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Rank submits records to the ranking service and returns them ordered by
// descending relevance. Each document is "<title>\n<content>".
func (h *HTTPReranker) Rank(ctx context.Context, query string, records []Record, topN int) ([]Scored, error) {
	if len(records) > MaxRecords {
		return nil, fmt.Errorf("http reranker: %d records exceeds limit of %d", len(records), MaxRecords)
	}

	docs := make([]string, len(records))
	for i, r := range records {
		docs[i] = strings.TrimSpace(r.Title + "\n" + r.Content)
	}

	payload, err := json.Marshal(rerankRequest{
		Model:     h.model,
		Query:     query,
		Documents: docs,
		TopN:      topN,
	})
	if err != nil {
		return nil, fmt.Errorf("http reranker: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("http reranker: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http reranker: request failed: %w", err)
	}
	defer resp.Body.Close()

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("http reranker: decode response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if result.Error != nil {
			msg = result.Error.Message
		}
		return nil, fmt.Errorf("http reranker: %s", msg)
	}

	scored := make([]Scored, 0, len(result.Results))
	for _, r := range result.Results {
		if r.Index < 0 || r.Index >= len(records) {
			return nil, fmt.Errorf("http reranker: index %d out of range [0, %d)", r.Index, len(records))
		}
		scored = append(scored, Scored{ID: records[r.Index].ID, Score: r.RelevanceScore})
	}

	// Services usually return sorted results; sort anyway so callers can rely on it.
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	return scored, nil
}
