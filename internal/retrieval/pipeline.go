// Package retrieval turns a set of search phrases into one ranked, curated
// item list. A run fans out one text-hybrid and one multimodal index lookup
// per phrase, merges and threshold-filters the hits, enriches them from the
// feature store, then curates: name filter, description dedup, relevance
// judgement and semantic rerank.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/54b3r/concierge-go/internal/catalog"
	"github.com/54b3r/concierge-go/internal/dedup"
	"github.com/54b3r/concierge-go/internal/featurestore"
	"github.com/54b3r/concierge-go/internal/logging"
	"github.com/54b3r/concierge-go/internal/relevance"
	"github.com/54b3r/concierge-go/internal/rerank"
)

// ErrAllSearchesFailed is returned when every index lookup of a run failed.
var ErrAllSearchesFailed = errors.New("retrieval: every index search failed")

// Embedder produces the query vectors for one phrase.
type Embedder interface {
	// DenseText embeds phrase in the text-only space.
	DenseText(ctx context.Context, phrase string) ([]float32, error)
	// DenseImage embeds phrase in the shared image-text space.
	DenseImage(ctx context.Context, phrase string) ([]float32, error)
	// Sparse encodes phrase as a term-weighted sparse vector.
	Sparse(ctx context.Context, phrase string) (catalog.SparseVector, error)
}

// VectorIndex runs one nearest-neighbour lookup.
type VectorIndex interface {
	Search(ctx context.Context, req catalog.SearchRequest) ([]catalog.Neighbor, error)
}

// FeatureStore bulk-fetches item attributes. Unknown IDs are absent from the
// result.
type FeatureStore interface {
	FetchAttributes(ctx context.Context, ids []string, fields []string) (map[string]map[string]string, error)
}

// RelevanceFilter keeps the candidates judged on-topic.
type RelevanceFilter interface {
	Apply(ctx context.Context, req relevance.Request) []catalog.Item
}

// Claimer removes items already surfaced elsewhere and records the rest.
// Deep research passes its session here so concurrent category runs never
// emit the same item twice.
type Claimer interface {
	Claim(items []catalog.Item) []catalog.Item
}

// Request is the input to one Retrieve call.
type Request struct {
	// Phrases are the search phrases; each is searched in both modalities.
	Phrases []string
	// Budget is the neighbour count requested per index lookup.
	Budget int
	// Intent is the user's shopping intent.
	Intent string
	// Category is the item category searched.
	Category string
	// ReferenceImage is an optional user-supplied image for relevance judging.
	ReferenceImage []byte
	// Claimer, when set, is applied between search and curation.
	Claimer Claimer
}

// Config holds the collaborators of a Pipeline.
type Config struct {
	// Embedder produces query vectors. Required.
	Embedder Embedder
	// Index is the vector index. Required.
	Index VectorIndex
	// Features is the attribute store. Required.
	Features FeatureStore
	// Filter is the relevance filter. When nil the stage is skipped.
	Filter RelevanceFilter
	// Reranker is the semantic ranking service. Required.
	Reranker rerank.Reranker
	// TotalItems is the catalog size reported in results.
	TotalItems int
	// MetricsRegistry receives the pipeline's Prometheus collectors.
	// A private registry is used when nil.
	MetricsRegistry prometheus.Registerer
}

// Pipeline runs retrieval. It holds no per-run state and is safe for
// concurrent use.
type Pipeline struct {
	// embedder produces query vectors.
	embedder Embedder
	// index is the vector index.
	index VectorIndex
	// features is the attribute store used for enrichment.
	features FeatureStore
	// filter is the optional relevance filter.
	filter RelevanceFilter
	// reranker orders the curated set.
	reranker rerank.Reranker
	// totalItems is the catalog size reported in results.
	totalItems int
	// metrics records stage latency and search failures.
	metrics *pipelineMetrics
}

// New constructs a Pipeline from cfg.
func New(cfg *Config) (*Pipeline, error) {
	switch {
	case cfg == nil:
		return nil, fmt.Errorf("retrieval: config must not be nil")
	case cfg.Embedder == nil:
		return nil, fmt.Errorf("retrieval: embedder must not be nil")
	case cfg.Index == nil:
		return nil, fmt.Errorf("retrieval: index must not be nil")
	case cfg.Features == nil:
		return nil, fmt.Errorf("retrieval: feature store must not be nil")
	case cfg.Reranker == nil:
		return nil, fmt.Errorf("retrieval: reranker must not be nil")
	}
	reg := cfg.MetricsRegistry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Pipeline{
		embedder:   cfg.Embedder,
		index:      cfg.Index,
		features:   cfg.Features,
		filter:     cfg.Filter,
		reranker:   cfg.Reranker,
		totalItems: cfg.TotalItems,
		metrics:    newPipelineMetrics(reg),
	}, nil
}

// Retrieve runs search, the optional claimer and curation, and builds the
// ranked result. The found count is taken after enrichment, before the
// claimer and curation narrow the set.
func (p *Pipeline) Retrieve(ctx context.Context, req Request) (*catalog.RankedResult, error) {
	start := time.Now()

	found, err := p.Search(ctx, req.Phrases, req.Budget)
	if err != nil {
		return nil, err
	}
	foundCount := len(found)

	if req.Claimer != nil {
		found = req.Claimer.Claim(found)
	}

	items, err := p.Curate(ctx, req.Intent, req.Category, found, req.ReferenceImage)
	if err != nil {
		return nil, err
	}

	res := catalog.NewRankedResult(items, catalog.ResultMeta{
		Intent:     req.Intent,
		Category:   req.Category,
		Queries:    req.Phrases,
		Elapsed:    time.Since(start),
		FoundCount: foundCount,
		TotalCount: p.totalItems,
	})

	logging.FromContext(ctx).Info("retrieval: run complete",
		slog.String("category", req.Category),
		slog.Int("phrases", len(req.Phrases)),
		slog.Int("found", res.FoundCount),
		slog.Int("selected", res.SelectedCount),
		slog.Float64("elapsed_s", res.Elapsed),
	)
	return res, nil
}

// Search fans out one text-hybrid and one multimodal lookup per phrase, all
// concurrently, and waits for every one. A failed lookup is logged and
// contributes nothing; the run fails only when all lookups fail. Hits are
// merged in phrase order (text before multimodal), threshold-filtered and
// enriched with name and description.
func (p *Pipeline) Search(ctx context.Context, phrases []string, budget int) ([]catalog.Item, error) {
	if len(phrases) == 0 {
		return nil, nil
	}
	defer p.metrics.observe(stageSearch, time.Now())

	queries := make([]catalog.Query, 0, 2*len(phrases))
	for _, ph := range phrases {
		queries = append(queries,
			catalog.Query{Phrase: ph, Modality: catalog.ModalityText, Budget: budget},
			catalog.Query{Phrase: ph, Modality: catalog.ModalityMultimodal, Budget: budget},
		)
	}

	log := logging.FromContext(ctx)
	slots := make([][]catalog.Item, len(queries))
	failed := make([]bool, len(queries))

	var g errgroup.Group
	for i, q := range queries {
		g.Go(func() error {
			items, err := p.searchOne(ctx, q)
			if err != nil {
				failed[i] = true
				p.metrics.searchFailures.WithLabelValues(string(q.Modality)).Inc()
				log.Warn("retrieval: index search failed",
					slog.String("phrase", q.Phrase),
					slog.String("modality", string(q.Modality)),
					slog.Any("error", err),
				)
				return fmt.Errorf("%s search %q: %w", q.Modality, q.Phrase, err)
			}
			slots[i] = items
			return nil
		})
	}
	// A plain Group never cancels siblings; Wait reports the first failure.
	firstErr := g.Wait()
	if firstErr != nil && !slices.Contains(failed, false) {
		return nil, fmt.Errorf("%w: %w", ErrAllSearchesFailed, firstErr)
	}

	merged := catalog.AboveThreshold(catalog.Merge(slots...), catalog.DenseDistThreshold)
	return p.enrich(ctx, merged)
}

// searchOne embeds one query and runs its index lookup.
func (p *Pipeline) searchOne(ctx context.Context, q catalog.Query) ([]catalog.Item, error) {
	req := catalog.SearchRequest{Modality: q.Modality, Limit: q.Budget}

	var err error
	switch q.Modality {
	case catalog.ModalityMultimodal:
		req.Dense, err = p.embedder.DenseImage(ctx, q.Phrase)
	default:
		if req.Dense, err = p.embedder.DenseText(ctx, q.Phrase); err == nil {
			req.Sparse, err = p.embedder.Sparse(ctx, q.Phrase)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	neighbors, err := p.index.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	items := make([]catalog.Item, len(neighbors))
	for i, n := range neighbors {
		items[i] = catalog.ItemFromNeighbor(n)
	}
	return items, nil
}

// enrich attaches name and description. IDs missing from the feature store
// are dropped with a warning.
func (p *Pipeline) enrich(ctx context.Context, items []catalog.Item) ([]catalog.Item, error) {
	if len(items) == 0 {
		return nil, nil
	}
	defer p.metrics.observe(stageEnrich, time.Now())

	attrs, err := p.features.FetchAttributes(ctx, catalog.IDs(items),
		[]string{featurestore.FieldName, featurestore.FieldDescription})
	if err != nil {
		return nil, fmt.Errorf("retrieval: enrich: %w", err)
	}

	log := logging.FromContext(ctx)
	out := items[:0:0]
	for _, it := range items {
		a, ok := attrs[it.ID]
		if !ok {
			log.Warn("retrieval: item missing from feature store", slog.String("item_id", it.ID))
			continue
		}
		it.Name = a[featurestore.FieldName]
		it.Description = a[featurestore.FieldDescription]
		out = append(out, it)
	}
	return out, nil
}

// Curate narrows enriched candidates to the final ordered list: drop unnamed
// items, dedup near-identical descriptions, keep what the relevance judge
// accepts, then rerank against "{intent} {category}".
func (p *Pipeline) Curate(ctx context.Context, intent, category string, items []catalog.Item, referenceImage []byte) ([]catalog.Item, error) {
	items = catalog.WithNames(items)

	start := time.Now()
	items = dedup.Dedup(items)
	p.metrics.observe(stageDedup, start)

	if p.filter != nil && len(items) > 0 {
		start = time.Now()
		items = p.filter.Apply(ctx, relevance.Request{
			Intent:         intent,
			Category:       category,
			Items:          items,
			ReferenceImage: referenceImage,
		})
		p.metrics.observe(stageRelevance, start)
	}

	if len(items) == 0 {
		return nil, nil
	}

	start = time.Now()
	ranked, err := rerank.Apply(ctx, p.reranker, intent+" "+category, items)
	p.metrics.observe(stageRerank, start)
	if err != nil {
		return nil, fmt.Errorf("retrieval: %w", err)
	}
	return ranked, nil
}
