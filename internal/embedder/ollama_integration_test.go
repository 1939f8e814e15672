//go:build integration

package embedder

import (
	"context"
	"os"
	"testing"
	"time"
)

// TestHybrid_OllamaIntegration embeds catalog text on the dense text channel
// through a live Ollama and on the sparse channel through a freshly fitted
// TF-IDF model. The multimodal channel reuses Ollama as a stand-in.
//
//	ollama pull nomic-embed-text
//	go test -tags=integration -run TestHybrid_OllamaIntegration ./internal/embedder/
//
// OLLAMA_HOST and EMBEDDING_MODEL override the defaults.
func TestHybrid_OllamaIntegration(t *testing.T) {
	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		host = "http://localhost:11434"
	}
	model := os.Getenv("EMBEDDING_MODEL")
	if model == "" {
		model = defaultOllamaModel
	}

	catalog := []string{
		"Hand-knitted merino wool cardigan in forest green",
		"Stainless steel pour-over coffee kettle with gooseneck spout",
		"Waterproof leather hiking boots with vibram sole",
	}
	sparse, err := FitTFIDF(catalog)
	if err != nil {
		t.Fatalf("FitTFIDF: %v", err)
	}
	dense := NewOllamaEmbedder(&OllamaConfig{Host: host, Model: model, Timeout: 30 * time.Second})
	h := NewHybrid(dense, dense, sparse)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	text, mm, sv, err := h.EmbedBatch(ctx, catalog)
	if err != nil {
		t.Fatalf("EmbedBatch: %v (is Ollama running at %s with %s pulled?)", err, host, model)
	}
	if len(text) != len(catalog) || len(mm) != len(catalog) || len(sv) != len(catalog) {
		t.Fatalf("channel sizes: text=%d mm=%d sparse=%d, want %d", len(text), len(mm), len(sv), len(catalog))
	}
	for i, v := range text {
		if len(v) == 0 {
			t.Errorf("text vector %d is empty", i)
		}
		if sv[i].Empty() {
			t.Errorf("sparse vector %d is empty for in-vocabulary text", i)
		}
	}

	q, err := h.DenseText(ctx, "green wool sweater")
	if err != nil {
		t.Fatalf("DenseText: %v", err)
	}
	if len(q) != len(text[0]) {
		t.Errorf("query dim %d != document dim %d", len(q), len(text[0]))
	}
	// The dimension must match the "text" vector of the Qdrant collection.
	t.Logf("model=%s dim=%d (set EMBEDDING_DIMENSIONS=%d before ingest)", model, len(q), len(q))
}
