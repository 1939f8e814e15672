package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/concierge-go/internal/concierge"
	"github.com/54b3r/concierge-go/internal/config"
	"github.com/54b3r/concierge-go/internal/embedder"
	"github.com/54b3r/concierge-go/internal/featurestore"
	"github.com/54b3r/concierge-go/internal/index"
	"github.com/54b3r/concierge-go/internal/provider"
	"github.com/54b3r/concierge-go/internal/relevance"
	"github.com/54b3r/concierge-go/internal/rerank"
	"github.com/54b3r/concierge-go/internal/research"
	"github.com/54b3r/concierge-go/internal/retrieval"
	"github.com/54b3r/concierge-go/internal/store"
)

// stack is the set of backends a command opened. Close releases them in
// reverse order of opening.
type stack struct {
	// index is the Qdrant catalog collection.
	index *index.QdrantIndex
	// features is the attribute store.
	features featurestore.Store
	// history is the search history store; nil when disabled.
	history *store.SQLiteStore
	// totalItems caches the resolved catalog size; zero until resolved.
	totalItems int
	// closers release resources in reverse order.
	closers []io.Closer
}

// Close releases every opened backend and joins their errors.
func (s *stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openStorage connects the vector index and the feature store. The
// collection is created with the configured vector sizes when missing.
func openStorage(ctx context.Context) (*stack, error) {
	s := &stack{}
	idx, err := index.NewQdrantIndex(ctx, &index.QdrantConfig{
		Host:           os.Getenv("QDRANT_HOST"),
		Port:           config.Int("QDRANT_PORT", 6334),
		Collection:     os.Getenv("QDRANT_COLLECTION"),
		TextSize:       uint64(embedder.DefaultDimensions(embedder.Backend())),
		MultimodalSize: uint64(embedder.MultimodalDimensions()),
		APIKey:         os.Getenv("QDRANT_API_KEY"),
		UseTLS:         strings.EqualFold(os.Getenv("QDRANT_TLS"), "true"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	s.index = idx
	s.closers = append(s.closers, idx)

	features, err := featurestore.NewFromEnv(ctx)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to open feature store: %w", err)
	}
	s.features = features
	s.closers = append(s.closers, features)
	return s, nil
}

// openHistory opens the search history database. CONCIERGE_HISTORY_DB
// overrides the default path; the value "disabled" turns history off.
func (s *stack) openHistory(log *slog.Logger) error {
	path := os.Getenv("CONCIERGE_HISTORY_DB")
	if path == "disabled" {
		log.Info("search history disabled")
		return nil
	}
	if path == "" {
		p, err := store.DefaultDBPath()
		if err != nil {
			return err
		}
		path = p
	}
	h, err := store.Open(path)
	if err != nil {
		return err
	}
	s.history = h
	s.closers = append(s.closers, h)
	log.Info("search history enabled", slog.String("path", path))
	return nil
}

// catalogSize resolves the catalog size reported in results:
// CATALOG_TOTAL_ITEMS when set, else the collection's point count.
func (s *stack) catalogSize(ctx context.Context, log *slog.Logger) int {
	if s.totalItems > 0 {
		return s.totalItems
	}
	if n := config.Int("CATALOG_TOTAL_ITEMS", 0); n > 0 {
		s.totalItems = n
		return n
	}
	n, err := s.index.Count(ctx)
	if err != nil {
		log.Warn("could not count catalog items", slog.String("error", err.Error()))
		return 0
	}
	s.totalItems = int(n)
	return s.totalItems
}

// buildReranker constructs the semantic ranking client from RERANK_*.
func buildReranker() (rerank.Reranker, error) {
	return rerank.NewHTTPReranker(&rerank.HTTPConfig{
		Endpoint: os.Getenv("RERANK_ENDPOINT"),
		Model:    os.Getenv("RERANK_MODEL"),
		APIKey:   os.Getenv("RERANK_API_KEY"),
		Timeout:  config.Duration("RERANK_TIMEOUT", 0),
	})
}

// buildFilter constructs the multimodal relevance filter. It returns
// (nil, nil) when JUDGE_IMAGE_URL_TEMPLATE is unset, in which case the
// retrieval pipeline skips the stage.
func buildFilter(ctx context.Context, log *slog.Logger, reg prometheus.Registerer) (*relevance.Filter, error) {
	tmpl := os.Getenv("JUDGE_IMAGE_URL_TEMPLATE")
	if tmpl == "" {
		log.Warn("relevance filter disabled: JUDGE_IMAGE_URL_TEMPLATE is not set")
		return nil, nil
	}
	images, err := relevance.NewHTTPImageSource(&relevance.HTTPImageConfig{URLTemplate: tmpl})
	if err != nil {
		return nil, err
	}
	judge, err := relevance.NewGeminiJudge(ctx, &relevance.GeminiConfig{
		APIKey: os.Getenv("GOOGLE_API_KEY"),
		Model:  os.Getenv("JUDGE_MODEL"),
	})
	if err != nil {
		return nil, err
	}
	return relevance.NewFilter(&relevance.Config{
		Judge:           judge,
		Renderer:        relevance.NewBoardRenderer(images),
		BatchTimeout:    config.Duration("JUDGE_BATCH_TIMEOUT", 0),
		MetricsRegistry: reg,
	})
}

// buildRetriever wires the retrieval pipeline over the opened storage.
func buildRetriever(ctx context.Context, log *slog.Logger, s *stack, reg prometheus.Registerer) (*retrieval.Pipeline, error) {
	if err := embedder.Validate(log); err != nil {
		return nil, err
	}
	enc, err := embedder.NewHybridFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	rr, err := buildReranker()
	if err != nil {
		return nil, fmt.Errorf("failed to create reranker: %w", err)
	}
	cfg := &retrieval.Config{
		Embedder:        enc,
		Index:           s.index,
		Features:        s.features,
		Reranker:        rr,
		TotalItems:      s.catalogSize(ctx, log),
		MetricsRegistry: reg,
	}
	filter, err := buildFilter(ctx, log, reg)
	if err != nil {
		return nil, fmt.Errorf("failed to create relevance filter: %w", err)
	}
	// A nil *Filter stored in the interface would not read as nil.
	if filter != nil {
		cfg.Filter = filter
	}
	return retrieval.New(cfg)
}

// buildService wires the full concierge service: retrieval, research
// coordinator, category generator and history.
func buildService(ctx context.Context, log *slog.Logger, s *stack, reg prometheus.Registerer) (*concierge.Service, error) {
	retriever, err := buildRetriever(ctx, log, s, reg)
	if err != nil {
		return nil, err
	}
	coordinator, err := research.NewCoordinator(&research.CoordinatorConfig{
		Retriever:       retriever,
		Budget:          config.Int("RESEARCH_BUDGET", 0),
		Stagger:         config.Duration("RESEARCH_STAGGER", 0),
		Settle:          config.Duration("RESEARCH_SETTLE", 0),
		TotalItems:      s.catalogSize(ctx, log),
		MetricsRegistry: reg,
	})
	if err != nil {
		return nil, err
	}
	cm, err := provider.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	categories, err := research.NewLLMCategoryGenerator(ctx, cm)
	if err != nil {
		return nil, err
	}
	cfg := &concierge.Config{
		Retriever:  retriever,
		Researcher: coordinator,
		Categories: categories,
	}
	if s.history != nil {
		cfg.History = s.history
	}
	return concierge.New(cfg)
}

// readImage reads an optional reference image file; an empty path yields nil.
func readImage(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	img, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read reference image: %w", err)
	}
	return img, nil
}
